// cmd/worker/main.go
package main

import (
	"context"
	"log"
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
	if err := requireBroker(cfg); err != nil {
		log.Fatalf("❌ %v", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName+"-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("❌ tracing: %v", err)
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := a.StartSubscribers(ctx); err != nil {
		log.Fatalf("❌ subscribers: %v", err)
	}

	log.Println("📡 Worker running, waiting for jobs...")
	<-ctx.Done()
	log.Println("⏸️ Worker stopping")

	a.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("⚠️ tracing shutdown: %v", err)
	}
}
