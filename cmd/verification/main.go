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
	"credrelay/internal/platform/config"
	"credrelay/internal/platform/httpserver"
	kconsumer "credrelay/internal/platform/kafka/consumer"
	"credrelay/internal/platform/logger"
	"credrelay/internal/platform/metrics"
	"credrelay/internal/platform/postgres"
	platformredis "credrelay/internal/platform/redis"
	vconsumer "credrelay/internal/verification/consumer"
	"credrelay/internal/verification/handler"
	"credrelay/internal/verification/service"
	"credrelay/internal/verification/store"
)

// main wires the verification side: the HTTP read path and the event
// consumption loop share one process lifecycle but nothing else — both only
// meet at the replica store.
func main() {
	cfg := config.FromEnv(":3002")
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	replicaStore := store.NewPostgres(db)
	if err := replicaStore.EnsureSchema(ctx); err != nil {
		log.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	var finder service.Store = replicaStore
	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, verification cache disabled", "error", err)
		} else {
			defer rdb.Close()
			finder = store.NewRedisCache(replicaStore, rdb.Client, log)
		}
	}

	svc := service.New(finder, log, m)
	h := handler.New(svc, log, m)

	eventHandler := vconsumer.New(replicaStore, log, m)
	consumer, err := kconsumer.New(cfg.KafkaBrokers, cfg.ConsumerGroup, []string{credential.Topic}, eventHandler, log)
	if err != nil {
		log.Error("kafka consumer setup failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	router := chi.NewRouter()
	h.Register(router)
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting verification service", "addr", cfg.Addr, "worker_id", cfg.WorkerID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
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
		log.Error("verification service exited", "error", err)
		os.Exit(1)
	}
}
