package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"credrelay/internal/credential"
	"credrelay/internal/issuance/handler"
	"credrelay/internal/issuance/service"
	"credrelay/internal/issuance/store"
	"credrelay/internal/platform/config"
	"credrelay/internal/platform/httpserver"
	kafkaadmin "credrelay/internal/platform/kafka/admin"
	"credrelay/internal/platform/kafka/producer"
	"credrelay/internal/platform/logger"
	"credrelay/internal/platform/metrics"
	"credrelay/internal/platform/postgres"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv(":3001")
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	idempotencyStore := store.NewPostgres(db)
	if err := idempotencyStore.EnsureSchema(ctx); err != nil {
		log.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	// Best effort: publishes tolerate a missing topic and a broker outage,
	// so topic bootstrap must not block startup either.
	if err := kafkaadmin.EnsureTopic(ctx, cfg.KafkaBrokers, credential.Topic, 3); err != nil {
		log.Warn("topic bootstrap failed, relying on broker auto-create", "error", err)
	}

	pub, err := producer.New(cfg.KafkaBrokers)
	if err != nil {
		log.Error("kafka producer setup failed", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	m := metrics.New()
	svc := service.New(idempotencyStore, pub, cfg.WorkerID, log, m)
	h := handler.New(svc, log, m)

	router := chi.NewRouter()
	h.Register(router)
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting issuance service", "addr", cfg.Addr, "worker_id", cfg.WorkerID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("issuance service exited", "error", err)
		os.Exit(1)
	}
}
