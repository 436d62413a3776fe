package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type shipAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	ConsumeShipmentChanges(ctx context.Context, handler func(ctx context.Context, m messages.ShipmentChanged) error) error
}

// changeHandler reacts to shipment changes made by any process.
type changeHandler interface {
	HandleChanged(ctx context.Context, trackingToken string)
}

func runShipAPI(ctx context.Context, opts shipAPIOpts, api http.Handler, changes changeHandler, consumer kafkaConsumer) error {
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
		httpErr <- runHTTPServer(ctx, lis, api, opts.swaggerPath)
	}()

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			err := consumer.ConsumeShipmentChanges(ctx, func(ctx context.Context, m messages.ShipmentChanged) error {
				applyChange(ctx, changes, m)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("kafka consumer stopped", "topic", opts.topic, "error", err.Error())
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

// applyChange drops the public tracking cache of a changed shipment.
func applyChange(ctx context.Context, changes changeHandler, m messages.ShipmentChanged) {
	if m.TrackingToken == "" {
		return
	}
	changes.HandleChanged(ctx, m.TrackingToken)
}

func newRouter(api http.Handler, swaggerPath string) chi.Router {
	r := chi.NewRouter()
	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}
	r.Mount("/", api)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, api http.Handler, swaggerPath string) error {
	srv := &http.Server{
		Handler:           newRouter(api, swaggerPath),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
