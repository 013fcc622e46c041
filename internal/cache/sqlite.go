package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

//go:embed schema.sql
var sqliteSchema string

const sqliteDateFormat = "2006-01-02"

// SQLiteStore keeps the snapshot cache in a local SQLite file. Used for
// development and single-node deployments where a second Postgres round-trip
// per cache probe isn't worth it.
type SQLiteStore struct {
	conn    *sql.DB
	writeMu sync.Mutex // SQLite allows one writer; serialize upserts
}

// NewSQLiteStore opens (or creates) the cache database at path with WAL mode
// enabled and ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal=WAL&_busy_timeout=5000"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &SQLiteStore{conn: conn}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Get returns the cached counts for (date, timeString), or nil on a miss.
func (s *SQLiteStore) Get(ctx context.Context, date time.Time, timeString string) (*models.BusCounts, error) {
	query := `
		SELECT active_buses, buses_on_routes, trips_scheduled, trips_not_running,
		       trips_never_ran, trips_canceled, trips_still_running
		FROM bus_count_cache
		WHERE date = ? AND time_string = ?
	`

	var c models.BusCounts
	err := s.conn.QueryRowContext(ctx, query, date.Format(sqliteDateFormat), timeString).Scan(
		&c.ActiveBuses,
		&c.BusesOnRoutes,
		&c.TripsScheduled,
		&c.TripsNotRunning,
		&c.TripsNeverRan,
		&c.TripsCanceled,
		&c.TripsStillRunning,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return &c, nil
}

// Put upserts the counts for (date, timeString), overwriting all fields.
func (s *SQLiteStore) Put(ctx context.Context, date time.Time, timeString string, counts models.BusCounts) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
		INSERT INTO bus_count_cache (date, time_string, active_buses, buses_on_routes,
			trips_scheduled, trips_not_running, trips_never_ran, trips_canceled, trips_still_running)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date, time_string) DO UPDATE SET
			active_buses = excluded.active_buses,
			buses_on_routes = excluded.buses_on_routes,
			trips_scheduled = excluded.trips_scheduled,
			trips_not_running = excluded.trips_not_running,
			trips_never_ran = excluded.trips_never_ran,
			trips_canceled = excluded.trips_canceled,
			trips_still_running = excluded.trips_still_running
	`

	_, err := s.conn.ExecContext(ctx, query, date.Format(sqliteDateFormat), timeString,
		counts.ActiveBuses, counts.BusesOnRoutes, counts.TripsScheduled,
		counts.TripsNotRunning, counts.TripsNeverRan, counts.TripsCanceled,
		counts.TripsStillRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}

	return nil
}
