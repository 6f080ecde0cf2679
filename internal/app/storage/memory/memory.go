package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lazylord/backend/internal/app/domain/funnel"
	"github.com/lazylord/backend/internal/app/domain/ledger"
	"github.com/lazylord/backend/internal/app/domain/user"
	"github.com/lazylord/backend/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use: every method runs under the store mutex, so each call
// is atomic, including the debit guard.
type Store struct {
	mu             sync.RWMutex
	nextID         int64
	users          map[string]user.User
	usersByRefCode map[string]string
	entries        map[string]ledger.Entry
	transactions   map[string][]ledger.Transaction
	recruits       map[string][]string
	progress       map[string]funnel.Progress
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.FunnelStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		users:          make(map[string]user.User),
		usersByRefCode: make(map[string]string),
		entries:        make(map[string]ledger.Entry),
		transactions:   make(map[string][]ledger.Transaction),
		recruits:       make(map[string][]string),
		progress:       make(map[string]funnel.Progress),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation --------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrAlreadyExists)
	}

	codeKey := strings.ToLower(u.RefCode)
	if _, taken := s.usersByRefCode[codeKey]; taken {
		return user.User{}, fmt.Errorf("ref code %s: %w", u.RefCode, storage.ErrRefCodeTaken)
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByRefCode[codeKey] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByRefCode(_ context.Context, code string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByRefCode[strings.ToLower(code)]
	if !ok {
		return user.User{}, fmt.Errorf("ref code %s: %w", code, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) AddEarned(_ context.Context, id string, amount int64) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}

	u.Earned += amount
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

// LedgerStore implementation ------------------------------------------------

func (s *Store) CreateEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.UserID]; exists {
		return ledger.Entry{}, fmt.Errorf("ledger entry %s: %w", e.UserID, storage.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	s.entries[e.UserID] = e
	return e, nil
}

func (s *Store) GetEntry(_ context.Context, userID string) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[userID]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("ledger entry %s: %w", userID, storage.ErrNotFound)
	}
	return e, nil
}

func (s *Store) CreditBalance(_ context.Context, userID string, amount int64) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("ledger entry %s: %w", userID, storage.ErrNotFound)
	}

	e.Balance += amount
	e.UpdatedAt = time.Now().UTC()
	s.entries[userID] = e
	return e, nil
}

func (s *Store) DebitBalance(_ context.Context, userID string, amount int64) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("ledger entry %s: %w", userID, storage.ErrNotFound)
	}

	if e.Balance < amount {
		return ledger.Entry{}, fmt.Errorf("debit %d from %d: %w", amount, e.Balance, storage.ErrInsufficientBalance)
	}

	e.Balance -= amount
	e.UpdatedAt = time.Now().UTC()
	s.entries[userID] = e
	return e, nil
}

func (s *Store) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	}
	tx.CreatedAt = time.Now().UTC()

	s.transactions[tx.UserID] = append(s.transactions[tx.UserID], tx)
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.transactions[userID]
	if limit > 0 && len(txs) > limit {
		txs = txs[len(txs)-limit:]
	}
	return append([]ledger.Transaction(nil), txs...), nil
}

// ReferralStore implementation ----------------------------------------------

func (s *Store) AddRecruit(_ context.Context, referrerID, recruitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recruits[referrerID] = append(s.recruits[referrerID], recruitID)
	return nil
}

func (s *Store) ListRecruits(_ context.Context, referrerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.recruits[referrerID]...), nil
}

func (s *Store) CountRecruits(_ context.Context, referrerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.recruits[referrerID]), nil
}

// FunnelStore implementation ------------------------------------------------

func (s *Store) CreateProgress(_ context.Context, p funnel.Progress) (funnel.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.progress[p.UserID]; exists {
		return funnel.Progress{}, fmt.Errorf("funnel progress %s: %w", p.UserID, storage.ErrAlreadyExists)
	}

	p.CompletedSteps = append([]string(nil), p.CompletedSteps...)
	p.UpdatedAt = time.Now().UTC()

	s.progress[p.UserID] = p
	return cloneProgress(p), nil
}

func (s *Store) GetProgress(_ context.Context, userID string) (funnel.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[userID]
	if !ok {
		return funnel.Progress{}, fmt.Errorf("funnel progress %s: %w", userID, storage.ErrNotFound)
	}
	return cloneProgress(p), nil
}

func (s *Store) UpdateProgress(_ context.Context, p funnel.Progress) (funnel.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.progress[p.UserID]; !ok {
		return funnel.Progress{}, fmt.Errorf("funnel progress %s: %w", p.UserID, storage.ErrNotFound)
	}

	p.CompletedSteps = append([]string(nil), p.CompletedSteps...)
	p.UpdatedAt = time.Now().UTC()

	s.progress[p.UserID] = p
	return cloneProgress(p), nil
}

// Helpers --------------------------------------------------------------------

func cloneProgress(p funnel.Progress) funnel.Progress {
	p.CompletedSteps = append([]string(nil), p.CompletedSteps...)
	return p
}
