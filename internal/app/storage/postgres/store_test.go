package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/lazylord/backend/internal/app/domain/funnel"
	"github.com/lazylord/backend/internal/app/domain/ledger"
	"github.com/lazylord/backend/internal/app/domain/user"
	"github.com/lazylord/backend/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func entryColumns() []string {
	return []string{"user_id", "balance", "created_at", "updated_at"}
}

func userColumns() []string {
	return []string{"id", "email", "referrer_id", "ref_code", "earned", "created_at", "updated_at"}
}

func TestDebitBalanceSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE app_ledger")).
		WithArgs("u1", int64(600), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(entryColumns()).AddRow("u1", int64(400), now, now))

	entry, err := store.DebitBalance(context.Background(), "u1", 600)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if entry.Balance != 400 {
		t.Fatalf("expected balance 400, got %d", entry.Balance)
	}
}

func TestDebitBalanceInsufficient(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	// The guarded update matches no row, then the probe finds the entry, so
	// the failure is an insufficient balance rather than a missing user.
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE app_ledger")).
		WithArgs("u1", int64(2000), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(entryColumns()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, balance, created_at, updated_at")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(entryColumns()).AddRow("u1", int64(1000), now, now))

	_, err := store.DebitBalance(context.Background(), "u1", 2000)
	if !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestDebitBalanceUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE app_ledger")).
		WithArgs("ghost", int64(10), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(entryColumns()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, balance, created_at, updated_at")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(entryColumns()))

	_, err := store.DebitBalance(context.Background(), "ghost", 10)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserRefCodeCollision(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO app_users")).
		WithArgs("u1", "u1@example.com", "", "LLAAAA1111", int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "app_users_ref_code_idx"})

	_, err := store.CreateUser(context.Background(), user.User{ID: "u1", Email: "u1@example.com", RefCode: "LLAAAA1111"})
	if !errors.Is(err, storage.ErrRefCodeTaken) {
		t.Fatalf("expected ErrRefCodeTaken, got %v", err)
	}
}

func TestCreateUserDuplicateID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO app_users")).
		WithArgs("u1", "u1@example.com", "", "LLAAAA1111", int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "app_users_pkey"})

	_, err := store.CreateUser(context.Background(), user.User{ID: "u1", Email: "u1@example.com", RefCode: "LLAAAA1111"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM app_users WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(userColumns()))

	_, err := store.GetUser(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddEarned(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE app_users")).
		WithArgs("u1", int64(30), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("u1", "u1@example.com", "", "LLAAAA1111", int64(60), now, now))

	u, err := store.AddEarned(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("add earned: %v", err)
	}
	if u.Earned != 60 {
		t.Fatalf("expected earned 60, got %d", u.Earned)
	}
}

func TestListTransactionsOrdersOldestFirst(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "tx_type", "amount", "balance_after", "reference", "created_at"}).
		AddRow("t1", "u1", "grant", int64(1000), int64(1000), "registration", now).
		AddRow("t2", "u1", "spend", int64(-100), int64(900), "spend", now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM app_ledger_transactions")).
		WithArgs("u1", 10).
		WillReturnRows(rows)

	txs, err := store.ListTransactions(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(txs))
	}
	if txs[0].Type != ledger.TransactionGrant || txs[1].Type != ledger.TransactionSpend {
		t.Fatalf("unexpected order: %+v", txs)
	}
}

func TestUpdateProgressMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE app_funnel_progress")).
		WithArgs("ghost", "step1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateProgress(context.Background(), funnel.Progress{UserID: "ghost", CurrentStep: "step1"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetProgressScansArray(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM app_funnel_progress")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "current_step", "completed_steps", "updated_at"}).
			AddRow("u1", "step2", []byte(`{start,step1}`), now))

	p, err := store.GetProgress(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if p.CurrentStep != "step2" {
		t.Fatalf("expected step2, got %q", p.CurrentStep)
	}
	if len(p.CompletedSteps) != 2 || p.CompletedSteps[0] != "start" {
		t.Fatalf("expected [start step1], got %v", p.CompletedSteps)
	}
}
