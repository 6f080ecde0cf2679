package app

import (
	"fmt"

	funneldomain "github.com/lazylord/backend/internal/app/domain/funnel"
	"github.com/lazylord/backend/internal/app/services/events"
	funnelsvc "github.com/lazylord/backend/internal/app/services/funnel"
	identitysvc "github.com/lazylord/backend/internal/app/services/identity"
	ledgersvc "github.com/lazylord/backend/internal/app/services/ledger"
	referralssvc "github.com/lazylord/backend/internal/app/services/referrals"
	"github.com/lazylord/backend/internal/app/storage"
	"github.com/lazylord/backend/internal/app/storage/memory"
	"github.com/lazylord/backend/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users     storage.UserStore
	Ledger    storage.LedgerStore
	Referrals storage.ReferralStore
	Funnel    storage.FunnelStore
}

// Options carries optional wiring knobs.
type Options struct {
	// Steps replaces the compiled-in funnel chain.
	Steps []funneldomain.Step
	// Verify authenticates webhook payloads. Nil fails closed.
	Verify events.VerifyFunc
	// TokenPacks replaces the default product catalogue.
	TokenPacks map[string]int64
}

// Application ties the domain services together.
type Application struct {
	log *logger.Logger

	Identity  *identitysvc.Service
	Ledger    *ledgersvc.Service
	Referrals *referralssvc.Service
	Funnel    *funnelsvc.Service
	Events    *events.Processor
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Referrals == nil {
		stores.Referrals = mem
	}
	if stores.Funnel == nil {
		stores.Funnel = mem
	}

	steps := opts.Steps
	if len(steps) == 0 {
		steps = funneldomain.DefaultSteps()
	}
	chain, err := funneldomain.NewChain(steps)
	if err != nil {
		return nil, fmt.Errorf("build funnel chain: %w", err)
	}

	ledgerService := ledgersvc.New(stores.Ledger, log)
	referralsService := referralssvc.New(stores.Users, stores.Referrals, log)
	funnelService := funnelsvc.New(chain, stores.Users, stores.Funnel, ledgerService, log)
	identityService := identitysvc.New(stores.Users, ledgerService, referralsService, funnelService, log)

	processor := events.New(identityService, ledgerService, referralsService, funnelService, opts.Verify, log)
	if opts.TokenPacks != nil {
		processor.WithTokenPacks(opts.TokenPacks)
	}

	return &Application{
		log:       log,
		Identity:  identityService,
		Ledger:    ledgerService,
		Referrals: referralsService,
		Funnel:    funnelService,
		Events:    processor,
	}, nil
}
