package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/config"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/metrics"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/realtime/octranspo"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/repository"
)

func main() {
	log.Println("Starting poller service...")

	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	cfg := config.Load()
	log.Printf("Config loaded: poll_interval=%v, retention=%v", cfg.PollInterval, cfg.RetentionDuration)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	log.Println("Database initialized")

	mcol := metrics.NewCollector()
	telemetry := repository.NewTelemetryRepository(pool)
	poller := octranspo.NewPoller(telemetry, mcol, cfg.GTFSVehiclePositionsURL, cfg.GTFSTripUpdatesURL, cfg.Location)

	// Initial poll immediately
	log.Println("Running initial poll...")
	pollOnce(ctx, poller, telemetry, cfg)

	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pollOnce(ctx, poller, telemetry, cfg)
			case <-ctx.Done():
				log.Println("Polling loop stopped")
				return
			}
		}
	}()

	log.Printf("Poller running (poll every %v, retain %v)", cfg.PollInterval, cfg.RetentionDuration)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	cancel()

	// Give goroutines time to finish
	time.Sleep(100 * time.Millisecond)
	log.Println("Goodbye!")
}

func pollOnce(ctx context.Context, poller *octranspo.Poller, telemetry *repository.TelemetryRepository, cfg *config.Config) {
	if err := poller.Poll(ctx); err != nil {
		log.Printf("Poll error: %v", err)
	}

	deleted, err := telemetry.Cleanup(ctx, cfg.RetentionDuration)
	if err != nil {
		log.Printf("Cleanup error: %v", err)
	} else if deleted > 0 {
		log.Printf("Cleanup removed %d old observations", deleted)
	}
}
