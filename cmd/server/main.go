// cmd/server/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"librarium/internal/catalog"
	"librarium/internal/circulation"
	"librarium/internal/config"
	"librarium/internal/eventstore"
	"librarium/internal/httpx"
	"librarium/internal/logging"
	"librarium/internal/membership"
	"librarium/internal/recommend"
	"librarium/internal/sqlutil"
	"librarium/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log := logging.Logger()
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.Component("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Error().Err(err).Msg("failed to flush telemetry")
		}
	}()

	db, err := sqlutil.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlutil.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newHandler(cfg, db),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", cfg.Database.Driver).Msg("starting librarium server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// newHandler wires every service over db and mounts them on one router.
func newHandler(cfg *config.Config, db *sql.DB) http.Handler {
	members := membership.NewService(db)
	books := catalog.NewService(db, cfg.Database.Driver)
	loans := circulation.NewService(db, members, eventstore.NewEventStore(db), circulation.Options{
		LoanDays:    cfg.Circulation.LoanDays,
		BorrowRate:  cfg.Circulation.BorrowRate,
		BorrowBurst: cfg.Circulation.BorrowBurst,
	})
	store := recommend.NewSQLStore(db)
	engine := recommend.NewEngine(members, store, store, recommend.Options{
		ColdStartLimit:        cfg.Recommend.ColdStartLimit,
		PersonalizedLimit:     cfg.Recommend.PersonalizedLimit,
		PriorityThreshold:     cfg.Recommend.PriorityThreshold,
		PriorityTier:          cfg.Recommend.PriorityTier,
		PriorityTake:          cfg.Recommend.PriorityTake,
		SupplementalTake:      cfg.Recommend.SupplementalTake,
		SupplementalMinRating: cfg.Recommend.SupplementalMinRating,
		RatingWindow:          cfg.Recommend.RatingWindow,
		DefaultRating:         cfg.Recommend.DefaultRating,
	})

	return httpx.NewRouter(httpx.RouterConfig{
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		RateLimitRequests: cfg.HTTP.RateLimitRequests,
		RateLimitWindow:   cfg.HTTP.RateLimitWindow,
	}, logging.Component("http"),
		catalog.NewHandler(books),
		membership.NewHandler(members),
		circulation.NewHandler(loans),
		recommend.NewHandler(engine),
	)
}
