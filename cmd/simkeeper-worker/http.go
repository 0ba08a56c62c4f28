package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/SimKeeper/config"
	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/BearBump/SimKeeper/internal/services/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
	onEngine    func(e *scheduler.Engine)

	engine *scheduler.Engine
	cfg    *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newWorkerRouter(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

func newWorkerRouter(opts workerHTTPOpts) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.engine == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not wired"})
			return
		}
		writeJSON(w, http.StatusOK, opts.engine.Stats())
	})

	r.Get("/outcomes", func(w http.ResponseWriter, r *http.Request) {
		if opts.engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not wired"})
			return
		}
		writeJSON(w, http.StatusOK, opts.engine.Outcomes())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil || opts.engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config not wired"})
			return
		}
		// Без секретов: только рабочие параметры воркера.
		settings := opts.engine.Settings()
		writeJSON(w, http.StatusOK, map[string]any{
			"tickSchedule":       opts.cfg.SimKeeper.TickSchedule,
			"settleDelayMs":      opts.cfg.SettleDelay().Milliseconds(),
			"rateLimitPerMinute": opts.cfg.SimKeeper.WorkerRateLimitPerMinute,
			"autoSendEnabled":    settings.AutoSendEnabled,
			"credentialsPresent": settings.Credentials.Present(),
			"fromNumber":         settings.Credentials.FromNumber,
			"keepAliveTarget":    settings.Target,
			"policy":             opts.engine.Policy(),
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not wired"})
			return
		}
		opts.engine.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})

	r.Post("/auto-send", func(w http.ResponseWriter, r *http.Request) {
		if opts.engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not wired"})
			return
		}
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": `body must be {"enabled": true|false}`})
			return
		}
		opts.engine.SetAutoSend(*req.Enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"autoSendEnabled": opts.engine.Settings().AutoSendEnabled})
	})

	r.Post("/sims/{id}/send", func(w http.ResponseWriter, r *http.Request) {
		if opts.engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not wired"})
			return
		}
		out, err := opts.engine.SendNow(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeJSON(w, sendStatus(err), map[string]any{"error": err.Error(), "outcome": out})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outcome": out})
	})

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	return r
}

func sendStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrSimNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrConfigurationMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, scheduler.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scheduler.ErrDispatchFailure):
		return http.StatusBadGateway
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
