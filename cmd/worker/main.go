package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/crosspost/internal/config"
	"github.com/you/crosspost/internal/dispatch"
	"github.com/you/crosspost/internal/idempotency"
	"github.com/you/crosspost/internal/queue"
	"github.com/you/crosspost/internal/ratelimit"
	"github.com/you/crosspost/internal/storage"
	"github.com/you/crosspost/internal/tenantcfg"
	"github.com/you/crosspost/internal/worker"
)

func main() {
	cfg := config.Load()
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	dispatchTimeout := time.Duration(cfg.DispatchTimeoutSec) * time.Second
	httpClient := &http.Client{Timeout: dispatchTimeout}

	consumer := &worker.Consumer{
		Queue:    queue.New(rdb),
		Resolver: tenantcfg.NewPG(db, cfg.DefaultDailyCeiling),
		Dispatchers: &dispatch.Set{
			Managed: &dispatch.Managed{
				Quota:     ratelimit.New(rdb),
				Publisher: &dispatch.HTTPPublisher{BaseURL: cfg.ChannelAPIBaseURL, Client: httpClient},
				Log:       log,
			},
			Forward: dispatch.NewForwarder(httpClient, cfg.ForwardAllowedHosts,
				cfg.ForwardPerHostRPS, cfg.ForwardPerHostBurst, log),
			Unconfigured: dispatch.Unconfigured{},
		},
		Outcomes:        storage.New(db),
		Gate:            idempotency.New(rdb, time.Duration(cfg.IdempotencyTTLSec)*time.Second),
		Log:             log,
		DispatchTimeout: dispatchTimeout,
		Concurrency:     cfg.WorkerConcurrency,
	}

	log.Info("worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("consumer stopped", zap.Error(err))
	}
	log.Info("worker stopped")
}
