// Package events orchestrates the four inbound event kinds - registration,
// funnel advancement, token spend, and webhook credit - over the domain
// services. The processor owns the per-user striped locks, so every
// multi-record mutation for a user is serialized while independent users
// proceed in parallel.
package events

import (
	"context"
	"errors"
	"fmt"

	funneldomain "github.com/lazylord/backend/internal/app/domain/funnel"
	ledgerdomain "github.com/lazylord/backend/internal/app/domain/ledger"
	"github.com/lazylord/backend/internal/app/metrics"
	funnelsvc "github.com/lazylord/backend/internal/app/services/funnel"
	identitysvc "github.com/lazylord/backend/internal/app/services/identity"
	ledgersvc "github.com/lazylord/backend/internal/app/services/ledger"
	referralssvc "github.com/lazylord/backend/internal/app/services/referrals"
	"github.com/lazylord/backend/internal/app/userlock"
	"github.com/lazylord/backend/pkg/logger"
)

// Errors
var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnrecognizedProduct = errors.New("unrecognized product")
)

// SubscriptionProduct is the product ID that triggers commission payout
// instead of a token credit.
const SubscriptionProduct = "prod_subscription"

// DefaultTokenPacks maps purchasable product IDs to the token amount they
// credit.
func DefaultTokenPacks() map[string]int64 {
	return map[string]int64{
		"prod_1000":   1000,
		"prod_10000":  10000,
		"prod_100000": 100000,
	}
}

// Processor coordinates the domain services for each inbound event.
type Processor struct {
	identity  *identitysvc.Service
	ledger    *ledgersvc.Service
	referrals *referralssvc.Service
	funnel    *funnelsvc.Service
	verify    VerifyFunc
	packs     map[string]int64
	locks     *userlock.Keyed
	log       *logger.Logger
}

// New constructs a processor. A nil verify function rejects everything,
// which fails closed until the transport wires a real verifier.
func New(identity *identitysvc.Service, ledger *ledgersvc.Service, referrals *referralssvc.Service, funnel *funnelsvc.Service, verify VerifyFunc, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewDefault("events")
	}
	if verify == nil {
		verify = func([]byte, string) bool { return false }
	}
	return &Processor{
		identity:  identity,
		ledger:    ledger,
		referrals: referrals,
		funnel:    funnel,
		verify:    verify,
		packs:     DefaultTokenPacks(),
		locks:     userlock.New(),
		log:       log,
	}
}

// WithTokenPacks replaces the product catalogue. Call before serving.
func (p *Processor) WithTokenPacks(packs map[string]int64) {
	if len(packs) > 0 {
		p.packs = packs
	}
}

// Register handles a registration event. The new user's stripe and, when
// set, the referrer's stripe are held for the whole creation so the
// duplicate check, the code reservation, and the referrer bonus are one
// atomic unit.
func (p *Processor) Register(ctx context.Context, userID, referrerID, email string) (identitysvc.Registration, error) {
	unlock := p.locks.Lock(userID, referrerID)
	defer unlock()

	return p.identity.Register(ctx, userID, referrerID, email)
}

// AdvanceFunnel handles a funnel advancement event for one user.
func (p *Processor) AdvanceFunnel(ctx context.Context, userID, claimedStep string) (funnelsvc.Advancement, error) {
	unlock := p.locks.Lock(userID)
	defer unlock()

	return p.funnel.Advance(ctx, userID, claimedStep)
}

// SpendTokens debits an explicit spend and returns the remaining balance.
func (p *Processor) SpendTokens(ctx context.Context, userID string, amount int64) (int64, error) {
	unlock := p.locks.Lock(userID)
	defer unlock()

	entry, err := p.ledger.Debit(ctx, userID, amount, ledgerdomain.TransactionSpend, "spend")
	if err != nil {
		return 0, err
	}
	return entry.Balance, nil
}

// WebhookAck reports what a webhook delivery changed.
type WebhookAck struct {
	Product          string `json:"product"`
	TokensCredited   int64  `json:"tokens_credited,omitempty"`
	CommissionLevels int    `json:"commission_levels,omitempty"`
}

// ProcessWebhook verifies the delivery signature and applies the product's
// effect. Verification happens before any lock is taken and before any
// mutation; a bad signature changes nothing. Replayed deliveries are not
// deduplicated: re-delivering a payload re-applies its credit.
func (p *Processor) ProcessWebhook(ctx context.Context, userID, productID string, payload []byte, signature string) (WebhookAck, error) {
	if !p.verify(payload, signature) {
		metrics.WebhookEvents.WithLabelValues(productID, "invalid_signature").Inc()
		return WebhookAck{}, ErrInvalidSignature
	}

	if amount, ok := p.packs[productID]; ok {
		unlock := p.locks.Lock(userID)
		defer unlock()

		if _, err := p.ledger.Credit(ctx, userID, amount, ledgerdomain.TransactionPurchase, productID); err != nil {
			metrics.WebhookEvents.WithLabelValues(productID, "error").Inc()
			return WebhookAck{}, err
		}

		metrics.WebhookEvents.WithLabelValues(productID, "ok").Inc()
		p.log.WithField("user_id", userID).
			WithField("product_id", productID).
			WithField("tokens", amount).
			Info("token pack credited")
		return WebhookAck{Product: productID, TokensCredited: amount}, nil
	}

	if productID == SubscriptionProduct {
		// Commission credits are single atomic increments of `earned`; they
		// need no stripe lock and each level is independent of the others.
		result, err := p.referrals.PayCommission(ctx, userID)
		if err != nil {
			metrics.WebhookEvents.WithLabelValues(productID, "error").Inc()
			return WebhookAck{}, fmt.Errorf("pay commission for %s: %w", userID, err)
		}

		metrics.WebhookEvents.WithLabelValues(productID, "ok").Inc()
		return WebhookAck{Product: productID, CommissionLevels: len(result.Credited)}, nil
	}

	metrics.WebhookEvents.WithLabelValues(productID, "unrecognized").Inc()
	return WebhookAck{}, fmt.Errorf("product %q: %w", productID, ErrUnrecognizedProduct)
}

// UserStatus is the per-user projection returned to the transport layer.
type UserStatus struct {
	UserID         string   `json:"user_id"`
	RefCode        string   `json:"ref_code"`
	Balance        int64    `json:"balance"`
	Earned         int64    `json:"earned"`
	RecruitCount   int      `json:"recruits"`
	CurrentStep    string   `json:"current_step"`
	CompletedSteps []string `json:"completed_steps"`
}

// GetUserStatus assembles the status projection for one user.
func (p *Processor) GetUserStatus(ctx context.Context, userID string) (UserStatus, error) {
	u, err := p.identity.Get(ctx, userID)
	if err != nil {
		return UserStatus{}, err
	}

	balance, err := p.ledger.Balance(ctx, userID)
	if err != nil && !errors.Is(err, ledgersvc.ErrUnknownUser) {
		return UserStatus{}, err
	}

	recruitCount, err := p.referrals.RecruitCount(ctx, userID)
	if err != nil {
		return UserStatus{}, err
	}

	var progress funneldomain.Progress
	if prog, err := p.funnel.Progress(ctx, userID); err == nil {
		progress = prog
	}

	completed := progress.CompletedSteps
	if completed == nil {
		completed = []string{}
	}

	return UserStatus{
		UserID:         u.ID,
		RefCode:        u.RefCode,
		Balance:        balance,
		Earned:         u.Earned,
		RecruitCount:   recruitCount,
		CurrentStep:    progress.CurrentStep,
		CompletedSteps: completed,
	}, nil
}

// ListTransactions returns the user's most recent journal entries.
func (p *Processor) ListTransactions(ctx context.Context, userID string, limit int) ([]ledgerdomain.Transaction, error) {
	return p.ledger.Transactions(ctx, userID, limit)
}
