package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/SimKeeper/config"
	"github.com/BearBump/SimKeeper/internal/broker/kafka"
	"github.com/BearBump/SimKeeper/internal/cache/rediscache"
	"github.com/BearBump/SimKeeper/internal/services/sims"
	"github.com/BearBump/SimKeeper/internal/storage/pgsims"
)

type simAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     simAPIOpts
	svc      *sims.Service
	consumer *kafka.Consumer
	cache    *rediscache.RedisCache
	closeDB  func()
}

func mustBootstrapSimAPI() *simAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	cacheTTL := cfg.CurrentSimTTL()
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
	rc := rediscache.New(cfg.Redis.Addr())

	svc := sims.New(st, rc, cacheTTL).WithPolicy(cfg.SimKeeper.Policy)

	topic := cfg.Kafka.KeepAliveDispatchedTopicName
	consumerGroup := cfg.SimKeeper.KafkaConsumerGroup
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &simAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: simAPIOpts{
			httpAddr:      cfg.SimKeeper.HTTPAddr,
			swaggerPath:   os.Getenv("swaggerPath"),
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		cache:    rc,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgsims.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgsims.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *simAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *simAPIApp) Run() error {
	return runSimAPI(a.ctx, a.opts, a.svc, a.consumer)
}
