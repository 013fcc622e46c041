package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the api and poller services
type Config struct {
	// Database
	DatabaseURL string

	// Snapshot cache
	CacheDriver     string // "postgres" (default) or "sqlite"
	SQLiteCachePath string
	CacheMaxAgeDays int

	// Reconciliation
	ServiceDayPadding time.Duration
	SeriesConcurrency int
	ExcludedRouteIDs  []string

	// HTTP
	Port           string
	AllowedOrigins []string

	// Real-time polling
	PollInterval            time.Duration
	RetentionDuration       time.Duration
	GTFSVehiclePositionsURL string
	GTFSTripUpdatesURL      string

	// Time zone the transit agency operates in
	Location *time.Location
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", "postgres://postgres@127.0.0.1:5432/bus_tracker?sslmode=disable"),

		CacheDriver:     getEnv("CACHE_DRIVER", "postgres"),
		SQLiteCachePath: getEnv("SQLITE_CACHE_PATH", "./data/buscount_cache.db"),
		CacheMaxAgeDays: getEnvInt("CACHE_MAX_AGE_DAYS", 90),

		ServiceDayPadding: time.Duration(getEnvInt("SERVICE_DAY_PADDING_HOURS", 4)) * time.Hour,
		SeriesConcurrency: getEnvInt("SERIES_CONCURRENCY", 8),
		ExcludedRouteIDs:  getEnvList("EXCLUDED_ROUTE_IDS", []string{"1-350", "2-354", "4-354"}),

		Port:           getEnv("PORT", "8081"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),

		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL", 60)) * time.Second,
		RetentionDuration: time.Duration(getEnvInt("RETENTION_DAYS", 120)) * 24 * time.Hour,

		GTFSVehiclePositionsURL: getEnv("GTFS_VEHICLE_POSITIONS_URL", "https://nextrip-public-api.azure-api.net/octranspo/gtfs-rt-vp/beta/v1/VehiclePositions"),
		GTFSTripUpdatesURL:      getEnv("GTFS_TRIP_UPDATES_URL", "https://nextrip-public-api.azure-api.net/octranspo/gtfs-rt-tu/beta/v1/TripUpdates"),
	}

	tzName := getEnv("TZ", "America/Toronto")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Printf("Warning: invalid TZ %q, falling back to local time: %v", tzName, err)
		loc = time.Local
	}
	cfg.Location = loc

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
