package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/SimKeeper/internal/api/simsapi"
	"github.com/BearBump/SimKeeper/internal/broker/kafka"
	"github.com/BearBump/SimKeeper/internal/broker/messages"
	"github.com/BearBump/SimKeeper/internal/services/sims"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type simAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runSimAPI(ctx context.Context, opts simAPIOpts, svc *sims.Service, consumer kafkaConsumer) error {
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, newAPIRouter(svc, opts.swaggerPath))
	}()

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			err := consumer.Consume(ctx, dispatchEventHandler(ctx, svc))
			if err != nil && ctx.Err() == nil {
				slog.Error("kafka consumer stopped", "error", err.Error())
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// dispatchEventHandler applies KeepAliveDispatched events. Failed messages are skipped, not retried.
func dispatchEventHandler(ctx context.Context, svc *sims.Service) func(key, value []byte) error {
	return func(_key, value []byte) error {
		var m messages.KeepAliveDispatched
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("skip undecodable keep-alive event", "error", err.Error())
			return errors.Wrap(kafka.ErrSkip, err.Error())
		}
		if m.SimID == "" {
			return kafka.ErrSkip
		}
		if err := svc.ApplyDispatchEvent(ctx, m); err != nil {
			// Устаревшая запись в кэше всё равно истечёт по TTL.
			slog.Warn("apply keep-alive event", "sim_id", m.SimID, "error", err.Error())
			return errors.Wrap(kafka.ErrSkip, err.Error())
		}
		return nil
	}
}

func newAPIRouter(svc *sims.Service, swaggerPath string) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}

	simsapi.New(svc).Register(r)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP API listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
