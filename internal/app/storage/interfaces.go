package storage

import (
	"context"
	"errors"

	"github.com/lazylord/backend/internal/app/domain/funnel"
	"github.com/lazylord/backend/internal/app/domain/ledger"
	"github.com/lazylord/backend/internal/app/domain/user"
)

// Sentinel errors shared by all store implementations. Services translate
// these into their own error vocabulary at the boundary.
var (
	ErrNotFound            = errors.New("record not found")
	ErrAlreadyExists       = errors.New("record already exists")
	ErrRefCodeTaken        = errors.New("referral code already issued")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// UserStore persists identity records. CreateUser must atomically reserve
// both the user ID and the referral code.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByRefCode(ctx context.Context, code string) (user.User, error)
	// AddEarned atomically increments the user's commission total.
	AddEarned(ctx context.Context, id string, amount int64) (user.User, error)
}

// LedgerStore persists balances and the transaction journal. CreditBalance
// and DebitBalance are atomic deltas, never read-modify-write; DebitBalance
// returns ErrInsufficientBalance and leaves the balance untouched when the
// guard fails.
type LedgerStore interface {
	CreateEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
	GetEntry(ctx context.Context, userID string) (ledger.Entry, error)
	CreditBalance(ctx context.Context, userID string, amount int64) (ledger.Entry, error)
	DebitBalance(ctx context.Context, userID string, amount int64) (ledger.Entry, error)
	AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error)
}

// ReferralStore persists the referrer -> recruits adjacency. Recruit lists
// keep insertion order, which is signup order.
type ReferralStore interface {
	AddRecruit(ctx context.Context, referrerID, recruitID string) error
	ListRecruits(ctx context.Context, referrerID string) ([]string, error)
	CountRecruits(ctx context.Context, referrerID string) (int, error)
}

// FunnelStore persists per-user funnel cursors.
type FunnelStore interface {
	CreateProgress(ctx context.Context, p funnel.Progress) (funnel.Progress, error)
	GetProgress(ctx context.Context, userID string) (funnel.Progress, error)
	UpdateProgress(ctx context.Context, p funnel.Progress) (funnel.Progress, error)
}
