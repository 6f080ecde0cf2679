package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lazylord/backend/internal/app/domain/funnel"
	"github.com/lazylord/backend/internal/app/domain/ledger"
	"github.com/lazylord/backend/internal/app/domain/user"
	"github.com/lazylord/backend/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. Balance
// mutations are single guarded statements, so each call is atomic without an
// explicit transaction.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.FunnelStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the backing tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS app_users (
			id          TEXT PRIMARY KEY,
			email       TEXT NOT NULL,
			referrer_id TEXT NOT NULL DEFAULT '',
			ref_code    TEXT NOT NULL,
			earned      BIGINT NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS app_users_ref_code_idx ON app_users (lower(ref_code))`,
		`CREATE TABLE IF NOT EXISTS app_ledger (
			user_id    TEXT PRIMARY KEY REFERENCES app_users(id),
			balance    BIGINT NOT NULL CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_ledger_transactions (
			seq           BIGSERIAL PRIMARY KEY,
			id            TEXT NOT NULL UNIQUE,
			user_id       TEXT NOT NULL,
			tx_type       TEXT NOT NULL,
			amount        BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			reference     TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_referrals (
			seq         BIGSERIAL PRIMARY KEY,
			referrer_id TEXT NOT NULL,
			recruit_id  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS app_referrals_referrer_idx ON app_referrals (referrer_id)`,
		`CREATE TABLE IF NOT EXISTS app_funnel_progress (
			user_id         TEXT PRIMARY KEY,
			current_step    TEXT NOT NULL,
			completed_steps TEXT[] NOT NULL DEFAULT '{}',
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, email, referrer_id, ref_code, earned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.ReferrerID, u.RefCode, u.Earned, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			if strings.Contains(pqErr.Constraint, "ref_code") {
				return user.User{}, fmt.Errorf("ref code %s: %w", u.RefCode, storage.ErrRefCodeTaken)
			}
			return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrAlreadyExists)
		}
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, referrer_id, ref_code, earned, created_at, updated_at
		FROM app_users WHERE id = $1
	`, id)
	return scanUser(row, id)
}

func (s *Store) GetUserByRefCode(ctx context.Context, code string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, referrer_id, ref_code, earned, created_at, updated_at
		FROM app_users WHERE lower(ref_code) = lower($1)
	`, code)
	return scanUser(row, code)
}

func (s *Store) AddEarned(ctx context.Context, id string, amount int64) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE app_users
		SET earned = earned + $2, updated_at = $3
		WHERE id = $1
		RETURNING id, email, referrer_id, ref_code, earned, created_at, updated_at
	`, id, amount, time.Now().UTC())
	return scanUser(row, id)
}

func scanUser(row *sql.Row, key string) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Email, &u.ReferrerID, &u.RefCode, &u.Earned, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, fmt.Errorf("user %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) CreateEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_ledger (user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, e.UserID, e.Balance, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ledger.Entry{}, fmt.Errorf("ledger entry %s: %w", e.UserID, storage.ErrAlreadyExists)
		}
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *Store) GetEntry(ctx context.Context, userID string) (ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, created_at, updated_at
		FROM app_ledger WHERE user_id = $1
	`, userID)
	return scanEntry(row, userID)
}

func (s *Store) CreditBalance(ctx context.Context, userID string, amount int64) (ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE app_ledger
		SET balance = balance + $2, updated_at = $3
		WHERE user_id = $1
		RETURNING user_id, balance, created_at, updated_at
	`, userID, amount, time.Now().UTC())
	return scanEntry(row, userID)
}

func (s *Store) DebitBalance(ctx context.Context, userID string, amount int64) (ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE app_ledger
		SET balance = balance - $2, updated_at = $3
		WHERE user_id = $1 AND balance >= $2
		RETURNING user_id, balance, created_at, updated_at
	`, userID, amount, time.Now().UTC())

	entry, err := scanEntry(row, userID)
	if errors.Is(err, storage.ErrNotFound) {
		// The guard and a missing row look the same here; probe once more to
		// tell them apart.
		if _, getErr := s.GetEntry(ctx, userID); getErr == nil {
			return ledger.Entry{}, fmt.Errorf("debit %d for %s: %w", amount, userID, storage.ErrInsufficientBalance)
		}
		return ledger.Entry{}, err
	}
	return entry, err
}

func scanEntry(row *sql.Row, userID string) (ledger.Entry, error) {
	var e ledger.Entry
	err := row.Scan(&e.UserID, &e.Balance, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, fmt.Errorf("ledger entry %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_ledger_transactions (id, user_id, tx_type, amount, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID, tx.UserID, string(tx.Type), tx.Amount, tx.BalanceAfter, tx.Reference, tx.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	query := `
		SELECT id, user_id, tx_type, amount, balance_after, reference, created_at
		FROM (
			SELECT seq, id, user_id, tx_type, amount, balance_after, reference, created_at
			FROM app_ledger_transactions
			WHERE user_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) AS latest
		ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var txType string
		if err := rows.Scan(&tx.ID, &tx.UserID, &txType, &tx.Amount, &tx.BalanceAfter, &tx.Reference, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Type = ledger.TransactionType(txType)
		result = append(result, tx)
	}
	return result, rows.Err()
}

// --- ReferralStore ----------------------------------------------------------

func (s *Store) AddRecruit(ctx context.Context, referrerID, recruitID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_referrals (referrer_id, recruit_id) VALUES ($1, $2)
	`, referrerID, recruitID)
	return err
}

func (s *Store) ListRecruits(ctx context.Context, referrerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recruit_id FROM app_referrals WHERE referrer_id = $1 ORDER BY seq ASC
	`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (s *Store) CountRecruits(ctx context.Context, referrerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM app_referrals WHERE referrer_id = $1
	`, referrerID).Scan(&count)
	return count, err
}

// --- FunnelStore ------------------------------------------------------------

func (s *Store) CreateProgress(ctx context.Context, p funnel.Progress) (funnel.Progress, error) {
	p.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_funnel_progress (user_id, current_step, completed_steps, updated_at)
		VALUES ($1, $2, $3, $4)
	`, p.UserID, p.CurrentStep, pq.Array(p.CompletedSteps), p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return funnel.Progress{}, fmt.Errorf("funnel progress %s: %w", p.UserID, storage.ErrAlreadyExists)
		}
		return funnel.Progress{}, err
	}
	return p, nil
}

func (s *Store) GetProgress(ctx context.Context, userID string) (funnel.Progress, error) {
	var p funnel.Progress
	var completed pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, current_step, completed_steps, updated_at
		FROM app_funnel_progress WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.CurrentStep, &completed, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return funnel.Progress{}, fmt.Errorf("funnel progress %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return funnel.Progress{}, err
	}
	p.CompletedSteps = []string(completed)
	return p, nil
}

func (s *Store) UpdateProgress(ctx context.Context, p funnel.Progress) (funnel.Progress, error) {
	p.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_funnel_progress
		SET current_step = $2, completed_steps = $3, updated_at = $4
		WHERE user_id = $1
	`, p.UserID, p.CurrentStep, pq.Array(p.CompletedSteps), p.UpdatedAt)
	if err != nil {
		return funnel.Progress{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return funnel.Progress{}, err
	}
	if affected == 0 {
		return funnel.Progress{}, fmt.Errorf("funnel progress %s: %w", p.UserID, storage.ErrNotFound)
	}
	return p, nil
}
