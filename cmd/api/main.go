package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/cache"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/config"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/handlers"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/metrics"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/repository"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/snapshot"
)

func main() {
	// Load .env first, then .env.local (which overrides for local development)
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	cfg := config.Load()
	log.Printf("Config loaded: cache_driver=%s, series_concurrency=%d, padding=%v",
		cfg.CacheDriver, cfg.SeriesConcurrency, cfg.ServiceDayPadding)

	ctx := context.Background()
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	log.Println("Database connection established")

	// Snapshot cache backend: postgres shares the main pool, sqlite keeps a
	// local file for development.
	var cacheStore cache.Store
	switch cfg.CacheDriver {
	case "sqlite":
		sqliteStore, err := cache.NewSQLiteStore(cfg.SQLiteCachePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite cache: %v", err)
		}
		defer sqliteStore.Close()
		cacheStore = sqliteStore
		log.Printf("Using sqlite snapshot cache at %s", cfg.SQLiteCachePath)
	default:
		cacheStore = cache.NewPostgresStore(pool)
	}

	mcol := metrics.NewCollector()

	scheduleRepo := repository.NewScheduleRepository(pool)
	countsRepo := repository.NewCountsRepository(pool)

	engine := snapshot.NewEngine(scheduleRepo, countsRepo, cacheStore, mcol, snapshot.Config{
		ServiceDayPadding: cfg.ServiceDayPadding,
		ExcludedRouteIDs:  cfg.ExcludedRouteIDs,
		SeriesConcurrency: cfg.SeriesConcurrency,
		Location:          cfg.Location,
	})

	busCountHandler := handlers.NewBusCountHandler(engine, cfg.Location)
	lookupHandler := handlers.NewLookupHandler(scheduleRepo, cfg.ServiceDayPadding, cfg.Location)

	// Backfill the cache at startup and then daily; a run is cheap once the
	// backlog is warm.
	prewarmer := snapshot.NewPrewarmer(engine, countsRepo, cacheStore, mcol, cfg.CacheMaxAgeDays, cfg.Location)
	go func() {
		if _, err := prewarmer.Run(ctx); err != nil {
			log.Printf("Prewarm failed: %v", err)
		}
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := prewarmer.Run(ctx); err != nil {
				log.Printf("Prewarm failed: %v", err)
			}
		}
	}()

	// Setup router
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Health check endpoint with database connectivity test
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":    "error",
				"database":  "disconnected",
				"timestamp": time.Now().UTC(),
				"error":     err.Error(),
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"database":  "connected",
			"timestamp": time.Now().UTC(),
		})
	})

	r.Handle("/metrics", mcol.Handler())

	r.Get("/api/activeBuses", busCountHandler.GetActiveBuses)
	r.Get("/api/activeBusesGraph", busCountHandler.GetActiveBusesGraph)
	r.Get("/api/routes", lookupHandler.GetRoutes)
	r.Get("/api/blocks", lookupHandler.GetBlocks)
	r.Get("/api/vehicles", lookupHandler.GetVehicles)
	r.Get("/api/routeDetails", lookupHandler.GetRouteDetails)

	log.Printf("API server starting on :%s", cfg.Port)
	log.Println("Endpoints:")
	log.Println("  GET /api/activeBuses")
	log.Println("  GET /api/activeBusesGraph")
	log.Println("  GET /api/routes")
	log.Println("  GET /api/blocks")
	log.Println("  GET /api/vehicles")
	log.Println("  GET /api/routeDetails")
	log.Println("  GET /health")
	log.Println("  GET /metrics")

	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
