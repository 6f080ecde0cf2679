// Package identity creates and resolves user records. Registration is the
// single writer of identity state: it reserves the user ID and a unique
// referral code, opens the ledger entry with the starting grant, enrolls the
// user in the funnel, and attributes the signup to an existing referrer.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	funneldomain "github.com/lazylord/backend/internal/app/domain/funnel"
	ledgerdomain "github.com/lazylord/backend/internal/app/domain/ledger"
	referraldomain "github.com/lazylord/backend/internal/app/domain/referral"
	"github.com/lazylord/backend/internal/app/domain/user"
	"github.com/lazylord/backend/internal/app/metrics"
	funnelsvc "github.com/lazylord/backend/internal/app/services/funnel"
	ledgersvc "github.com/lazylord/backend/internal/app/services/ledger"
	referralssvc "github.com/lazylord/backend/internal/app/services/referrals"
	"github.com/lazylord/backend/internal/app/storage"
	"github.com/lazylord/backend/pkg/logger"
)

// Errors
var (
	ErrDuplicateUser = errors.New("user already exists")
	ErrNotFound      = errors.New("user not found")
	ErrValidation    = errors.New("invalid registration input")
)

// refCodeAttempts bounds the collision-regenerate loop. UUID-derived codes
// collide only if the store already issued the same code, so a handful of
// retries is plenty.
const refCodeAttempts = 5

// Service owns identity records.
type Service struct {
	users     storage.UserStore
	ledger    *ledgersvc.Service
	referrals *referralssvc.Service
	funnel    *funnelsvc.Service
	log       *logger.Logger
}

// New constructs an identity service.
func New(users storage.UserStore, ledgerSvc *ledgersvc.Service, referralsSvc *referralssvc.Service, funnelSvc *funnelsvc.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &Service{users: users, ledger: ledgerSvc, referrals: referralsSvc, funnel: funnelSvc, log: log}
}

// Registration is the projection returned to a newly registered user.
type Registration struct {
	User        user.User
	Balance     int64
	InitialStep funneldomain.Step
	BonusPaid   bool
}

// Register creates a user and all dependent records. The caller serializes
// the new user and the referrer; under that serialization the operation is
// all-or-nothing: every validation that can reject runs before the first
// record is written.
func (s *Service) Register(ctx context.Context, userID, referrerID, email string) (Registration, error) {
	userID = strings.TrimSpace(userID)
	referrerID = strings.TrimSpace(referrerID)
	email = strings.TrimSpace(email)

	if userID == "" {
		return Registration{}, fmt.Errorf("user id is required: %w", ErrValidation)
	}
	if email == "" {
		return Registration{}, fmt.Errorf("email is required: %w", ErrValidation)
	}
	if !strings.Contains(email, "@") {
		return Registration{}, fmt.Errorf("invalid email %q: %w", email, ErrValidation)
	}
	if referrerID == userID {
		return Registration{}, fmt.Errorf("self-referral: %w", ErrValidation)
	}

	// Attribution is granted only for referrers that actually exist; an
	// unknown referrer id does not fail the registration.
	referrerExists := false
	if referrerID != "" {
		if _, err := s.users.GetUser(ctx, referrerID); err == nil {
			referrerExists = true
		} else if !errors.Is(err, storage.ErrNotFound) {
			return Registration{}, fmt.Errorf("resolve referrer %s: %w", referrerID, err)
		}
	}
	if !referrerExists {
		// An unresolved referrer id is dropped rather than stored; commission
		// walks must never land on a user that does not exist.
		referrerID = ""
	}

	// Walk the referrer chain as far as commissions reach and reject a loop
	// back to the id being registered.
	ancestor := referrerID
	for level := 0; level < referraldomain.CommissionDepth && ancestor != ""; level++ {
		if ancestor == userID {
			return Registration{}, fmt.Errorf("referral cycle through %s: %w", userID, ErrValidation)
		}
		next, err := s.users.GetUser(ctx, ancestor)
		if err != nil {
			break
		}
		ancestor = next.ReferrerID
	}

	created, err := s.createWithFreshCode(ctx, user.User{
		ID:         userID,
		Email:      email,
		ReferrerID: referrerID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return Registration{}, fmt.Errorf("register %s: %w", userID, ErrDuplicateUser)
		}
		return Registration{}, err
	}

	entry, err := s.ledger.Open(ctx, userID)
	if err != nil {
		return Registration{}, fmt.Errorf("open ledger for %s: %w", userID, err)
	}

	if _, err := s.funnel.Enroll(ctx, userID); err != nil {
		return Registration{}, fmt.Errorf("enroll %s: %w", userID, err)
	}

	bonusPaid := false
	if referrerExists {
		if err := s.referrals.AddEdge(ctx, referrerID, userID); err != nil {
			return Registration{}, fmt.Errorf("record referral edge: %w", err)
		}
		if _, err := s.ledger.Credit(ctx, referrerID, ledgerdomain.ReferralBonus, ledgerdomain.TransactionReferralBonus, userID); err != nil {
			s.log.WithError(err).
				WithField("referrer_id", referrerID).
				WithField("recruit_id", userID).
				Warn("credit referral bonus")
		} else {
			bonusPaid = true
		}
	}

	metrics.Registrations.Inc()
	s.log.WithField("user_id", userID).
		WithField("referrer_id", referrerID).
		WithField("ref_code", created.RefCode).
		Info("user registered")

	return Registration{
		User:        created,
		Balance:     entry.Balance,
		InitialStep: s.funnel.Chain().Initial(),
		BonusPaid:   bonusPaid,
	}, nil
}

// Get resolves a user by ID.
func (s *Service) Get(ctx context.Context, userID string) (user.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, fmt.Errorf("get %s: %w", userID, ErrNotFound)
		}
		return user.User{}, err
	}
	return u, nil
}

// GetByRefCode resolves a user by referral code.
func (s *Service) GetByRefCode(ctx context.Context, code string) (user.User, error) {
	u, err := s.users.GetUserByRefCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, fmt.Errorf("get by code %s: %w", code, ErrNotFound)
		}
		return user.User{}, err
	}
	return u, nil
}

// createWithFreshCode issues a referral code and creates the user,
// regenerating the code when the store reports it as already issued. The
// store reserves the code and the user ID in the same call, so a detected
// collision never leaves a partial record behind.
func (s *Service) createWithFreshCode(ctx context.Context, u user.User) (user.User, error) {
	var lastErr error
	for attempt := 0; attempt < refCodeAttempts; attempt++ {
		u.RefCode = newRefCode()
		created, err := s.users.CreateUser(ctx, u)
		if err == nil {
			return created, nil
		}
		if errors.Is(err, storage.ErrRefCodeTaken) {
			lastErr = err
			continue
		}
		return user.User{}, err
	}
	return user.User{}, fmt.Errorf("exhausted ref code attempts: %w", lastErr)
}

func newRefCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "LL" + strings.ToUpper(raw[:8])
}
