// Package funnel drives users through the scripted onboarding chain. The
// server-held cursor is the source of truth; the step name a client submits
// is only an optimistic-concurrency check against stale UI state.
package funnel

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/lazylord/backend/internal/app/domain/funnel"
	ledgerdomain "github.com/lazylord/backend/internal/app/domain/ledger"
	"github.com/lazylord/backend/internal/app/metrics"
	"github.com/lazylord/backend/internal/app/services/ledger"
	"github.com/lazylord/backend/internal/app/storage"
	"github.com/lazylord/backend/pkg/logger"
)

// Errors
var (
	ErrUnknownUser  = errors.New("unknown user")
	ErrUnknownStep  = errors.New("unknown funnel step")
	ErrStepMismatch = errors.New("submitted step does not match current step")
	ErrTerminalStep = errors.New("funnel already completed")
)

// Service advances per-user funnel cursors.
type Service struct {
	chain    *domain.Chain
	users    storage.UserStore
	progress storage.FunnelStore
	ledger   *ledger.Service
	log      *logger.Logger
}

// New constructs a funnel service over the given step chain.
func New(chain *domain.Chain, users storage.UserStore, progress storage.FunnelStore, ledgerSvc *ledger.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("funnel")
	}
	return &Service{chain: chain, users: users, progress: progress, ledger: ledgerSvc, log: log}
}

// Chain exposes the static step configuration.
func (s *Service) Chain() *domain.Chain { return s.chain }

// Enroll creates the cursor for a freshly registered user at the initial
// step.
func (s *Service) Enroll(ctx context.Context, userID string) (domain.Progress, error) {
	p, err := s.progress.CreateProgress(ctx, domain.Progress{
		UserID:      userID,
		CurrentStep: s.chain.Initial().Name,
	})
	if err != nil {
		return domain.Progress{}, fmt.Errorf("enroll %s: %w", userID, err)
	}
	return p, nil
}

// Progress returns the user's cursor.
func (s *Service) Progress(ctx context.Context, userID string) (domain.Progress, error) {
	p, err := s.progress.GetProgress(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Progress{}, fmt.Errorf("progress %s: %w", userID, ErrUnknownUser)
		}
		return domain.Progress{}, err
	}
	return p, nil
}

// Advancement is the outcome of a successful step transition.
type Advancement struct {
	Message   string
	Completed domain.Step
	Next      *domain.Step
	Balance   int64
	Progress  domain.Progress
}

// Advance attempts the transition out of the user's current step. The cost
// is debited before any state moves; an insufficient balance leaves cursor
// and balance untouched. A step reward is credited after the transition, so
// the net effect of a step may be positive. The caller serializes per user.
func (s *Service) Advance(ctx context.Context, userID, claimedStep string) (Advancement, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Advancement{}, fmt.Errorf("advance %s: %w", userID, ErrUnknownUser)
		}
		return Advancement{}, err
	}

	if _, ok := s.chain.Step(claimedStep); !ok {
		return Advancement{}, fmt.Errorf("advance %s: step %q: %w", userID, claimedStep, ErrUnknownStep)
	}

	progress, err := s.Progress(ctx, userID)
	if err != nil {
		return Advancement{}, err
	}

	current, ok := s.chain.Step(progress.CurrentStep)
	if !ok {
		return Advancement{}, fmt.Errorf("advance %s: step %q: %w", userID, progress.CurrentStep, ErrUnknownStep)
	}

	if claimedStep != current.Name {
		return Advancement{}, fmt.Errorf("advance %s: submitted %q, at %q: %w", userID, claimedStep, current.Name, ErrStepMismatch)
	}

	if current.Terminal() {
		return Advancement{}, fmt.Errorf("advance %s: %w", userID, ErrTerminalStep)
	}

	balance := int64(0)
	if current.Cost > 0 {
		entry, err := s.ledger.Debit(ctx, userID, current.Cost, ledgerdomain.TransactionFunnelCost, current.Name)
		if err != nil {
			return Advancement{}, err
		}
		balance = entry.Balance
	} else {
		if balance, err = s.ledger.Balance(ctx, userID); err != nil {
			return Advancement{}, err
		}
	}

	progress.CompletedSteps = append(progress.CompletedSteps, current.Name)
	progress.CurrentStep = current.NextStep
	updated, err := s.progress.UpdateProgress(ctx, progress)
	if err != nil {
		// The debit already happened; refund it rather than leave the user
		// charged for a transition that never took place.
		if current.Cost > 0 {
			if _, refundErr := s.ledger.Credit(ctx, userID, current.Cost, ledgerdomain.TransactionFunnelCost, "refund:"+current.Name); refundErr != nil {
				s.log.WithError(refundErr).WithField("user_id", userID).Error("refund failed after progress update error")
			}
		}
		return Advancement{}, fmt.Errorf("advance %s: %w", userID, err)
	}

	if current.Reward > 0 {
		entry, err := s.ledger.Credit(ctx, userID, current.Reward, ledgerdomain.TransactionFunnelReward, current.Name)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).WithField("step", current.Name).Warn("credit step reward")
		} else {
			balance = entry.Balance
		}
	}

	result := Advancement{
		Message:   current.Render(u.RefCode),
		Completed: current,
		Balance:   balance,
		Progress:  updated,
	}
	if next, ok := s.chain.Step(current.NextStep); ok {
		result.Next = &next
	}

	metrics.FunnelAdvances.WithLabelValues(current.Name).Inc()
	s.log.WithField("user_id", userID).
		WithField("step", current.Name).
		WithField("next", current.NextStep).
		Info("funnel step completed")

	return result, nil
}
