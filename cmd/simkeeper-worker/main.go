package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/SimKeeper/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("simkeeper worker starting",
		"tick_schedule", cfg.SimKeeper.TickSchedule,
		"auto_send", cfg.SimKeeper.AutoSendEnabled,
		"http_addr", cfg.SimKeeper.WorkerHTTPAddr,
	)

	err = RunWorker(ctx, cfg, defaultWorkerFactories(), workerHTTPOpts{
		httpAddr:    cfg.SimKeeper.WorkerHTTPAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	})
	if err != nil && err != context.Canceled {
		panic(err)
	}
}
