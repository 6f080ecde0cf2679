// Package referrals maintains the referrer -> recruit graph and pays upline
// commissions on qualifying subscription events.
package referrals

import (
	"context"
	"errors"
	"strconv"

	domain "github.com/lazylord/backend/internal/app/domain/referral"
	"github.com/lazylord/backend/internal/app/domain/user"
	"github.com/lazylord/backend/internal/app/metrics"
	"github.com/lazylord/backend/internal/app/storage"
	"github.com/lazylord/backend/pkg/logger"
)

// Service answers ancestry queries and applies commission credits.
type Service struct {
	users storage.UserStore
	graph storage.ReferralStore
	log   *logger.Logger
}

// New constructs a referrals service.
func New(users storage.UserStore, graph storage.ReferralStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("referrals")
	}
	return &Service{users: users, graph: graph, log: log}
}

// AddEdge records recruitID under referrerID. Registration guarantees a
// single invocation per recruit.
func (s *Service) AddEdge(ctx context.Context, referrerID, recruitID string) error {
	return s.graph.AddRecruit(ctx, referrerID, recruitID)
}

// Recruits returns the user's recruits in signup order.
func (s *Service) Recruits(ctx context.Context, userID string) ([]string, error) {
	return s.graph.ListRecruits(ctx, userID)
}

// RecruitCount returns how many users signed up under userID.
func (s *Service) RecruitCount(ctx context.Context, userID string) (int, error) {
	return s.graph.CountRecruits(ctx, userID)
}

// Ancestor walks the referrer chain depth levels up from userID. It returns
// the empty string when the chain is shorter or unset.
func (s *Service) Ancestor(ctx context.Context, userID string, depth int) (string, error) {
	current := userID
	for level := 0; level < depth; level++ {
		u, err := s.users.GetUser(ctx, current)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", nil
			}
			return "", err
		}
		if u.ReferrerID == "" {
			return "", nil
		}
		current = u.ReferrerID
	}
	return current, nil
}

// CommissionResult reports which upline users were credited.
type CommissionResult struct {
	Credited []user.User
}

// PayCommission credits CommissionPerLevel to each upline level, up to
// CommissionDepth, for a qualifying subscription by userID. An unknown
// subject earns nobody anything and is not an error. Crediting is
// best-effort per level: a missing second-level user never rolls back the
// first credit.
func (s *Service) PayCommission(ctx context.Context, userID string) (CommissionResult, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.WithField("user_id", userID).Warn("commission subject unknown")
			return CommissionResult{}, nil
		}
		return CommissionResult{}, err
	}

	var result CommissionResult
	ancestor := u.ReferrerID
	for level := 1; level <= domain.CommissionDepth && ancestor != ""; level++ {
		credited, err := s.users.AddEarned(ctx, ancestor, domain.CommissionPerLevel)
		if err != nil {
			s.log.WithError(err).
				WithField("user_id", userID).
				WithField("ancestor", ancestor).
				WithField("level", level).
				Warn("skip commission level")
			break
		}

		result.Credited = append(result.Credited, credited)
		metrics.CommissionsPaid.WithLabelValues(strconv.Itoa(level)).Inc()
		s.log.WithField("user_id", userID).
			WithField("ancestor", ancestor).
			WithField("level", level).
			Info("commission credited")

		ancestor = credited.ReferrerID
	}

	return result, nil
}
