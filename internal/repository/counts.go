package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

// CountsRepository runs the per-metric reconciliation queries. Each method
// answers one count for one instant; the engine issues all seven
// concurrently. "No rows" aggregates come back as zero, never as an error.
type CountsRepository struct {
	pool *pgxpool.Pool
}

// NewCountsRepository creates a repository over the given pool.
func NewCountsRepository(pool *pgxpool.Pool) *CountsRepository {
	return &CountsRepository{pool: pool}
}

func (r *CountsRepository) count(ctx context.Context, name, query string, args ...any) (int, error) {
	var c int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&c); err != nil {
		return 0, fmt.Errorf("%s query failed: %w", name, err)
	}
	return c, nil
}

// ActiveBuses counts distinct vehicles with any observation inside the
// narrow window, trip-associated or not. Deadheads and garage movement are
// included; a known approximation.
func (r *CountsRepository) ActiveBuses(ctx context.Context, q models.CountQuery) (int, error) {
	return r.count(ctx, "activeBuses", `
		SELECT count(DISTINCT id) FROM vehicles v
		WHERE v.time > $1 AND v.time < $2
	`, q.WindowStart, q.WindowEnd)
}

// BusesOnRoutes counts vehicles in the narrow window that are on a trip and
// either still report a next stop or whose trip's scheduled end (less a
// 10-minute grace) has not yet passed. The second arm covers buses between
// stops with a stale next-stop field.
func (r *CountsRepository) BusesOnRoutes(ctx context.Context, q models.CountQuery) (int, error) {
	return r.count(ctx, "busesOnRoutes", `
		SELECT count(DISTINCT id) FROM vehicles v
		WHERE v.time > $1 AND v.time < $2 AND v.trip_id IS NOT NULL
		  AND (v.next_stop_id IS NOT NULL OR EXISTS (
			SELECT 1 FROM blocks b
			WHERE b.gtfs_version = $3 AND b.service_id = ANY($4)
			  AND NOT (b.route_id = ANY($5)) AND b.trip_id = v.trip_id
			  AND b.end_time - interval '10 minutes' > $6::interval))
	`, q.WindowStart, q.WindowEnd, q.Version, q.ServiceIDs, q.ExcludedRoutes, q.TimeString)
}

// TripsScheduled counts trips whose scheduled span covers the instant.
func (r *CountsRepository) TripsScheduled(ctx context.Context, q models.CountQuery) (int, error) {
	return r.count(ctx, "tripsScheduled", `
		SELECT count(*) FROM blocks b
		WHERE b.gtfs_version = $1 AND b.service_id = ANY($2)
		  AND b.start_time <= $3::interval AND b.end_time > $3::interval
		  AND NOT (b.route_id = ANY($4))
	`, q.Version, q.ServiceIDs, q.TimeString, q.ExcludedRoutes)
}

// TripsNotRunning counts trips that should have started by now but have no
// observation inside the narrow window.
func (r *CountsRepository) TripsNotRunning(ctx context.Context, q models.CountQuery) (int, error) {
	return r.count(ctx, "tripsNotRunning", `
		SELECT count(*) FROM blocks b
		WHERE b.gtfs_version = $1 AND b.service_id = ANY($2)
		  AND b.start_time < $3::interval AND b.end_time > $3::interval
		  AND NOT (b.route_id = ANY($4))
		  AND NOT EXISTS (
			SELECT 1 FROM vehicles v
			WHERE v.time > $5 AND v.time < $6 AND v.trip_id = b.trip_id)
	`, q.Version, q.ServiceIDs, q.TimeString, q.ExcludedRoutes, q.WindowStart, q.WindowEnd)
}

// TripsNeverRan is TripsNotRunning checked against the whole padded service
// day instead of the narrow window: trips with no telemetry at all, not
// merely quiet for the last few minutes. Always a subset of TripsNotRunning.
func (r *CountsRepository) TripsNeverRan(ctx context.Context, q models.CountQuery) (int, error) {
	return r.count(ctx, "tripsNeverRan", `
		SELECT count(*) FROM blocks b
		WHERE b.gtfs_version = $1 AND b.service_id = ANY($2)
		  AND b.start_time < $3::interval AND b.end_time > $3::interval
		  AND NOT (b.route_id = ANY($4))
		  AND NOT EXISTS (
			SELECT 1 FROM vehicles v
			WHERE v.time > $5 AND v.time < $6 AND v.trip_id = b.trip_id)
	`, q.Version, q.ServiceIDs, q.TimeString, q.ExcludedRoutes, q.DayStart, q.DayEnd)
}

// TripsCanceled counts trips in the should-have-started set with an explicit
// cancellation record for the calendar date.
func (r *CountsRepository) TripsCanceled(ctx context.Context, q models.CountQuery) (int, error) {
	return r.count(ctx, "tripsCanceled", `
		SELECT count(*) FROM blocks b
		WHERE b.gtfs_version = $1 AND b.service_id = ANY($2)
		  AND b.start_time < $3::interval AND b.end_time > $3::interval
		  AND NOT (b.route_id = ANY($4))
		  AND b.trip_id IN (SELECT trip_id FROM canceled WHERE date = $5::date)
	`, q.Version, q.ServiceIDs, q.TimeString, q.ExcludedRoutes, q.Date)
}

// TripsStillRunning counts trips past their scheduled end whose vehicle is
// still reporting a next stop inside the narrow window: running late.
func (r *CountsRepository) TripsStillRunning(ctx context.Context, q models.CountQuery) (int, error) {
	return r.count(ctx, "tripsStillRunning", `
		SELECT count(*) FROM blocks b
		WHERE b.gtfs_version = $1 AND b.service_id = ANY($2)
		  AND b.end_time < $3::interval
		  AND NOT (b.route_id = ANY($4))
		  AND EXISTS (
			SELECT 1 FROM vehicles v
			WHERE v.time > $5 AND v.time < $6
			  AND v.next_stop_id IS NOT NULL AND v.trip_id = b.trip_id)
	`, q.Version, q.ServiceIDs, q.TimeString, q.ExcludedRoutes, q.WindowStart, q.WindowEnd)
}

// DistinctObservationDates returns every calendar date present in the
// vehicle observation history, ascending. Drives the cache prewarm job.
func (r *CountsRepository) DistinctObservationDates(ctx context.Context) ([]time.Time, error) {
	query := `SELECT DISTINCT time::date AS d FROM vehicles ORDER BY d`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query observation dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, d)
	}

	return dates, rows.Err()
}
