// Package runtime wires configuration, stores, the application, and the HTTP
// server into a runnable process.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/lazylord/backend/internal/app"
	funneldomain "github.com/lazylord/backend/internal/app/domain/funnel"
	"github.com/lazylord/backend/internal/app/httpapi"
	"github.com/lazylord/backend/internal/app/metrics"
	"github.com/lazylord/backend/internal/app/services/events"
	"github.com/lazylord/backend/internal/app/storage/postgres"
	"github.com/lazylord/backend/internal/config"
	"github.com/lazylord/backend/internal/middleware"
	"github.com/lazylord/backend/pkg/logger"
)

// Application manages the HTTP server lifecycle around the wired services.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	server *http.Server
	db     *sql.DB
}

// NewApplication constructs an application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig wires an application from an explicit config.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var steps []funneldomain.Step
	if cfg.Funnel.StepsFile != "" {
		steps, err = config.LoadSteps(cfg.Funnel.StepsFile)
		if err != nil {
			return nil, fmt.Errorf("load funnel steps: %w", err)
		}
	}

	var verify events.VerifyFunc
	if cfg.Webhook.Secret != "" {
		verify = events.HMACVerifier(cfg.Webhook.Secret)
	} else {
		log.Warn("WEBHOOK_SECRET not set; webhook deliveries will be rejected")
	}

	if db != nil {
		pgStore := postgres.New(db)
		if err := pgStore.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		stores = app.Stores{
			Users:     pgStore,
			Ledger:    pgStore,
			Referrals: pgStore,
			Funnel:    pgStore,
		}
	}

	application, err := app.New(stores, app.Options{Steps: steps, Verify: verify}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	mux.Handle("/", limiter.Handler(httpapi.NewHandler(application)))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{cfg: cfg, log: log, server: server, db: db}, nil
}

// Logger exposes the configured logger.
func (a *Application) Logger() *logger.Logger { return a.log }

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and closes the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(cfg *config.Config) (app.Stores, *sql.DB, error) {
	if cfg.Database.Driver == "" {
		return app.Stores{}, nil, nil
	}
	if cfg.Database.Driver != "postgres" {
		return app.Stores{}, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return app.Stores{}, nil, fmt.Errorf("database dsn is required for driver %q", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}
	return app.Stores{}, db, nil
}
