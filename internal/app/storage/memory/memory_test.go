package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lazylord/backend/internal/app/domain/funnel"
	"github.com/lazylord/backend/internal/app/domain/ledger"
	"github.com/lazylord/backend/internal/app/domain/user"
	"github.com/lazylord/backend/internal/app/storage"
)

func TestCreateUserReservesRefCodeCaseInsensitively(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, user.User{ID: "u1", RefCode: "LLABCD1234"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := store.CreateUser(ctx, user.User{ID: "u2", RefCode: "llabcd1234"})
	if !errors.Is(err, storage.ErrRefCodeTaken) {
		t.Fatalf("expected ErrRefCodeTaken, got %v", err)
	}

	found, err := store.GetUserByRefCode(ctx, "llAbCd1234")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.ID != "u1" {
		t.Fatalf("expected u1, got %q", found.ID)
	}
}

func TestDebitBalanceGuard(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateEntry(ctx, ledger.Entry{UserID: "u1", Balance: 100}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.DebitBalance(ctx, "u1", 101); !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	entry, err := store.DebitBalance(ctx, "u1", 100)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if entry.Balance != 0 {
		t.Fatalf("expected zero balance, got %d", entry.Balance)
	}
}

func TestListTransactionsLimitKeepsNewest(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.AppendTransaction(ctx, ledger.Transaction{
			UserID:    "u1",
			Type:      ledger.TransactionSpend,
			Amount:    int64(-i),
			Reference: fmt.Sprintf("tx-%d", i),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	txs, err := store.ListTransactions(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(txs))
	}
	if txs[0].Reference != "tx-3" || txs[1].Reference != "tx-4" {
		t.Fatalf("expected the newest rows in order, got %+v", txs)
	}
}

func TestProgressIsCopied(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateProgress(ctx, funnel.Progress{UserID: "u1", CurrentStep: "start"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Mutating the returned slice must not leak into the store.
	created.CompletedSteps = append(created.CompletedSteps, "rogue")
	stored, err := store.GetProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.CompletedSteps) != 0 {
		t.Fatalf("store mutated through returned value: %v", stored.CompletedSteps)
	}
}

func TestUpdateProgressUnknownUser(t *testing.T) {
	store := New()

	_, err := store.UpdateProgress(context.Background(), funnel.Progress{UserID: "ghost", CurrentStep: "step1"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
