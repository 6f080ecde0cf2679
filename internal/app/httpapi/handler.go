package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/lazylord/backend/internal/app"
	"github.com/lazylord/backend/internal/app/metrics"
	"github.com/lazylord/backend/internal/app/services/events"
	funnelsvc "github.com/lazylord/backend/internal/app/services/funnel"
	identitysvc "github.com/lazylord/backend/internal/app/services/identity"
	ledgersvc "github.com/lazylord/backend/internal/app/services/ledger"
)

const maxBodyBytes = 1 << 20 // 1MB

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.Handle("/register", metrics.Instrument("/register", http.HandlerFunc(h.register)))
	mux.Handle("/use-token", metrics.Instrument("/use-token", http.HandlerFunc(h.useToken)))
	mux.Handle("/funnel/advance", metrics.Instrument("/funnel/advance", http.HandlerFunc(h.advanceFunnel)))
	mux.Handle("/webhook", metrics.Instrument("/webhook", http.HandlerFunc(h.webhook)))
	mux.Handle("/user/", metrics.Instrument("/user/{id}", http.HandlerFunc(h.userResources)))
	mux.HandleFunc("/healthz", h.health)
	return mux
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		UserID     string `json:"user_id"`
		ReferrerID string `json:"referrer_id"`
		Email      string `json:"email"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reg, err := h.app.Events.Register(r.Context(), payload.UserID, payload.ReferrerID, payload.Email)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":      reg.User.ID,
		"ref_code":     reg.User.RefCode,
		"balance":      reg.Balance,
		"initial_step": stepJSON(reg.InitialStep.Name, reg.InitialStep.Cost, reg.InitialStep.Reward),
	})
}

func (h *handler) useToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		UserID string `json:"user_id"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	remaining, err := h.app.Events.SpendTokens(r.Context(), payload.UserID, payload.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"remaining": remaining})
}

func (h *handler) advanceFunnel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		UserID      string `json:"user_id"`
		CurrentStep string `json:"current_step"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	adv, err := h.app.Events.AdvanceFunnel(r.Context(), payload.UserID, payload.CurrentStep)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	body := map[string]any{
		"message":         adv.Message,
		"balance":         adv.Balance,
		"current_step":    adv.Progress.CurrentStep,
		"completed_steps": adv.Progress.CompletedSteps,
	}
	if adv.Next != nil {
		body["next_step"] = stepJSON(adv.Next.Name, adv.Next.Cost, adv.Next.Reward)
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	var payload struct {
		UserID    string `json:"user_id"`
		ProductID string `json:"product_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	ack, err := h.app.Events.ProcessWebhook(r.Context(), payload.UserID, payload.ProductID, raw, r.Header.Get("X-Signature"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, ack)
}

func (h *handler) userResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/user"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := parts[0]

	if len(parts) == 1 {
		status, err := h.app.Events.GetUserStatus(r.Context(), userID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	if len(parts) == 2 && parts[1] == "transactions" {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}
		txs, err := h.app.Events.ListTransactions(r.Context(), userID, limit)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, txs)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, identitysvc.ErrDuplicateUser):
		return http.StatusConflict
	case errors.Is(err, identitysvc.ErrNotFound),
		errors.Is(err, ledgersvc.ErrUnknownUser),
		errors.Is(err, funnelsvc.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, ledgersvc.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, funnelsvc.ErrStepMismatch),
		errors.Is(err, funnelsvc.ErrTerminalStep):
		return http.StatusConflict
	case errors.Is(err, events.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, identitysvc.ErrValidation),
		errors.Is(err, ledgersvc.ErrInvalidAmount),
		errors.Is(err, funnelsvc.ErrUnknownStep),
		errors.Is(err, events.ErrUnrecognizedProduct):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func stepJSON(name string, cost, reward int64) map[string]any {
	return map[string]any{"name": name, "cost": cost, "reward": reward}
}

func decodeJSON(body io.Reader, dst any) error {
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
