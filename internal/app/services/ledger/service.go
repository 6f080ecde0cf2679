// Package ledger maintains spendable token balances and the journal of every
// balance mutation. Balance changes go through the store as guarded deltas,
// so a debit can never observe a stale balance or drive it negative.
package ledger

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/lazylord/backend/internal/app/domain/ledger"
	"github.com/lazylord/backend/internal/app/metrics"
	"github.com/lazylord/backend/internal/app/storage"
	"github.com/lazylord/backend/pkg/logger"
)

// Errors
var (
	ErrUnknownUser         = errors.New("unknown user")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Service exposes balance operations. Each call is atomic on its own; callers
// composing multiple calls into one logical event serialize them per user.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
}

// New constructs a ledger service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, log: log}
}

// Open creates the ledger entry for a freshly registered user with the
// starting grant and journals it.
func (s *Service) Open(ctx context.Context, userID string) (domain.Entry, error) {
	entry, err := s.store.CreateEntry(ctx, domain.Entry{UserID: userID, Balance: domain.StartingBalance})
	if err != nil {
		return domain.Entry{}, fmt.Errorf("create ledger entry: %w", err)
	}

	if _, err := s.store.AppendTransaction(ctx, domain.Transaction{
		UserID:       userID,
		Type:         domain.TransactionGrant,
		Amount:       domain.StartingBalance,
		BalanceAfter: entry.Balance,
		Reference:    "registration",
	}); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("journal starting grant")
	}

	metrics.TokensCredited.WithLabelValues(string(domain.TransactionGrant)).Add(float64(domain.StartingBalance))
	return entry, nil
}

// Credit adds amount to the user's balance and journals the mutation.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, txType domain.TransactionType, reference string) (domain.Entry, error) {
	if amount <= 0 {
		return domain.Entry{}, ErrInvalidAmount
	}

	entry, err := s.store.CreditBalance(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Entry{}, fmt.Errorf("credit %s: %w", userID, ErrUnknownUser)
		}
		return domain.Entry{}, fmt.Errorf("credit %s: %w", userID, err)
	}

	s.journal(ctx, domain.Transaction{
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: entry.Balance,
		Reference:    reference,
	})

	metrics.TokensCredited.WithLabelValues(string(txType)).Add(float64(amount))
	return entry, nil
}

// Debit removes amount from the user's balance. The store applies the
// balance guard and the decrement in one step; an insufficient balance
// leaves the entry untouched.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, txType domain.TransactionType, reference string) (domain.Entry, error) {
	if amount <= 0 {
		return domain.Entry{}, ErrInvalidAmount
	}

	entry, err := s.store.DebitBalance(ctx, userID, amount)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInsufficientBalance):
			return domain.Entry{}, fmt.Errorf("debit %s: %w", userID, ErrInsufficientBalance)
		case errors.Is(err, storage.ErrNotFound):
			return domain.Entry{}, fmt.Errorf("debit %s: %w", userID, ErrUnknownUser)
		default:
			return domain.Entry{}, fmt.Errorf("debit %s: %w", userID, err)
		}
	}

	s.journal(ctx, domain.Transaction{
		UserID:       userID,
		Type:         txType,
		Amount:       -amount,
		BalanceAfter: entry.Balance,
		Reference:    reference,
	})

	metrics.TokensSpent.WithLabelValues(string(txType)).Add(float64(amount))
	return entry, nil
}

// Balance returns the user's balance, distinguishing an unknown user from a
// zero balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	entry, err := s.store.GetEntry(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("balance %s: %w", userID, ErrUnknownUser)
		}
		return 0, err
	}
	return entry.Balance, nil
}

// Transactions lists the most recent journal entries for a user in insertion
// order.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if _, err := s.store.GetEntry(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("transactions %s: %w", userID, ErrUnknownUser)
		}
		return nil, err
	}
	return s.store.ListTransactions(ctx, userID, limit)
}

// journal appends a transaction row. Journal failures do not fail the balance
// mutation that already happened; they are logged instead.
func (s *Service) journal(ctx context.Context, tx domain.Transaction) {
	if _, err := s.store.AppendTransaction(ctx, tx); err != nil {
		s.log.WithError(err).
			WithField("user_id", tx.UserID).
			WithField("tx_type", string(tx.Type)).
			Warn("append ledger transaction")
	}
}
