package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/crosspost/internal/config"
	"github.com/you/crosspost/internal/httpapi"
	"github.com/you/crosspost/internal/idempotency"
	"github.com/you/crosspost/internal/queue"
	"github.com/you/crosspost/internal/storage"
)

func main() {
	cfg := config.Load()
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	q := queue.New(rdb)
	srv := &httpapi.Server{
		Store: storage.New(db),
		Gate:  idempotency.New(rdb, time.Duration(cfg.IdempotencyTTLSec)*time.Second),
		Queue: q,
		DLQ:   q,
		Log:   log,
	}

	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, srv.Routes()); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}
