package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

// PostgresStore keeps the snapshot cache in the bus_count_cache table,
// alongside the data it is derived from.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a cache store over the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get returns the cached counts for (date, timeString), or nil on a miss.
func (s *PostgresStore) Get(ctx context.Context, date time.Time, timeString string) (*models.BusCounts, error) {
	query := `
		SELECT active_buses, buses_on_routes, trips_scheduled, trips_not_running,
		       trips_never_ran, trips_canceled, trips_still_running
		FROM bus_count_cache
		WHERE date = $1::date AND time_string = $2
	`

	var c models.BusCounts
	err := s.pool.QueryRow(ctx, query, date, timeString).Scan(
		&c.ActiveBuses,
		&c.BusesOnRoutes,
		&c.TripsScheduled,
		&c.TripsNotRunning,
		&c.TripsNeverRan,
		&c.TripsCanceled,
		&c.TripsStillRunning,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return &c, nil
}

// Put upserts the counts for (date, timeString), overwriting all fields.
func (s *PostgresStore) Put(ctx context.Context, date time.Time, timeString string, counts models.BusCounts) error {
	query := `
		INSERT INTO bus_count_cache (date, time_string, active_buses, buses_on_routes,
			trips_scheduled, trips_not_running, trips_never_ran, trips_canceled, trips_still_running)
		VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (date, time_string) DO UPDATE SET
			active_buses = excluded.active_buses,
			buses_on_routes = excluded.buses_on_routes,
			trips_scheduled = excluded.trips_scheduled,
			trips_not_running = excluded.trips_not_running,
			trips_never_ran = excluded.trips_never_ran,
			trips_canceled = excluded.trips_canceled,
			trips_still_running = excluded.trips_still_running
	`

	_, err := s.pool.Exec(ctx, query, date, timeString,
		counts.ActiveBuses, counts.BusesOnRoutes, counts.TripsScheduled,
		counts.TripsNotRunning, counts.TripsNeverRan, counts.TripsCanceled,
		counts.TripsStillRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}

	return nil
}
