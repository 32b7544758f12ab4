// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/leadreach-backend/internal/app"
	"github.com/unclebandit/leadreach-backend/internal/config"
	"github.com/unclebandit/leadreach-backend/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("❌ tracing: %v", err)
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	// With AMQP the worker binary consumes; in-process queues need local consumers.
	if cfg.AMQPURL == "" {
		if err := a.StartSubscribers(ctx); err != nil {
			log.Fatalf("❌ subscribers: %v", err)
		}
	}

	timer := a.Timer()
	if err := timer.Start(cfg.ExecuteCron, cfg.NoShowCron); err != nil {
		log.Fatalf("❌ %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("🚀 Server running on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("⏸️ Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	timer.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ http shutdown: %v", err)
	}
	a.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("⚠️ tracing shutdown: %v", err)
	}
}
