package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ShipBox/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := buildWorker(ctx, cfg, defaultWorkerFactories())
	if err != nil {
		panic(err)
	}
	defer w.Close()

	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.ShipBox.WorkerHTTPAddr,
			swaggerPath: os.Getenv("workerSwaggerPath"),
			poller:      w.poller,
			cfg:         cfg,
		})
		if err != nil {
			slog.Error("worker http server", "error", err.Error())
		}
	}()

	if err := RunShipWorker(ctx, w); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
