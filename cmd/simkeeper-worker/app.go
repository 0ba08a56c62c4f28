package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/BearBump/SimKeeper/config"
	"github.com/BearBump/SimKeeper/internal/broker/kafka"
	"github.com/BearBump/SimKeeper/internal/cache/rediscache"
	"github.com/BearBump/SimKeeper/internal/integrations/sms"
	"github.com/BearBump/SimKeeper/internal/integrations/sms/fake"
	"github.com/BearBump/SimKeeper/internal/integrations/sms/twiliohttp"
	"github.com/BearBump/SimKeeper/internal/services/scheduler"
	"github.com/BearBump/SimKeeper/internal/storage/pgsims"
)

const stopTimeout = 30 * time.Second

type workerFactories struct {
	newStorage     func(cfg *config.Config) (store scheduler.Store, closeFn func(), err error)
	newProducer    func(cfg *config.Config) scheduler.Producer
	newRateLimiter func(cfg *config.Config) scheduler.RateLimiter
	newSMSClient   func(cfg *config.Config) sms.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (scheduler.Store, func(), error) {
			st, err := pgsims.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) scheduler.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) scheduler.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newSMSClient: func(cfg *config.Config) sms.Client {
			// Для демо без Twilio: всё уходит в in-process заглушку.
			if cfg.Twilio.UseFake {
				return fake.New()
			}
			return twiliohttp.New(
				cfg.Twilio.BaseURL,
				time.Duration(cfg.Twilio.TimeoutSeconds)*time.Second,
				cfg.Twilio.MessagesPerSecond,
			)
		},
	}
}

func newEngine(cfg *config.Config, store scheduler.Store, client sms.Client) (*scheduler.Engine, error) {
	sched, err := cfg.TickSchedule()
	if err != nil {
		return nil, err
	}
	return scheduler.New(store, client).
		WithPolicy(cfg.SimKeeper.Policy).
		WithSchedule(sched).
		WithSettleDelay(cfg.SettleDelay()).
		WithLogger(slog.Default().With("component", "scheduler")).
		WithSettings(scheduler.Settings{
			AutoSendEnabled: cfg.SimKeeper.AutoSendEnabled,
			Credentials: sms.Credentials{
				AccountSID: cfg.Twilio.AccountSID,
				AuthToken:  cfg.Twilio.AuthToken,
				FromNumber: cfg.Twilio.FromNumber,
			},
			Target: cfg.SimKeeper.KeepAliveTarget,
		}), nil
}

// RunWorker blocks until ctx is done. The side HTTP server is started only when httpOpts.httpAddr is set.
func RunWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	engine, err := newEngine(cfg, store, f.newSMSClient(cfg))
	if err != nil {
		return err
	}
	if p := f.newProducer(cfg); p != nil {
		engine.WithPublisher(p, cfg.Kafka.KeepAliveDispatchedTopicName)
		defer closeIfCloser(p)
	}
	if rl := f.newRateLimiter(cfg); rl != nil {
		engine.WithRateLimiter(rl, int64(cfg.SimKeeper.WorkerRateLimitPerMinute))
		defer closeIfCloser(rl)
	}

	if httpOpts.httpAddr != "" {
		httpOpts.engine = engine
		httpOpts.cfg = cfg
		go func() {
			if err := runWorkerHTTPServer(ctx, httpOpts); err != nil && ctx.Err() == nil {
				slog.Error("worker http server stopped", "error", err.Error())
			}
		}()
	}

	if httpOpts.onEngine != nil {
		httpOpts.onEngine(engine)
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	// Начатый обход дожидаемся, но не дольше stopTimeout.
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		slog.Error("scheduler stop", "error", err.Error())
	}
	return ctx.Err()
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
