package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

// ErrNoTimetable is returned when no imported GTFS version covers a date.
var ErrNoTimetable = errors.New("no timetable version covers date")

// ScheduleRepository reads the GTFS schedule tables produced by the importer.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository creates a repository over the given pool.
func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

// GTFSVersion resolves the timetable version effective on the given calendar
// date. Returns ErrNoTimetable when no version covers it.
func (r *ScheduleRepository) GTFSVersion(ctx context.Context, date time.Time) (int, error) {
	query := `
		SELECT version FROM gtfs_versions
		WHERE start_date <= $1::date AND end_date >= $1::date
		ORDER BY version DESC
		LIMIT 1
	`

	var version int
	err := r.pool.QueryRow(ctx, query, date).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrNoTimetable, date.Format("2006-01-02"))
		}
		return 0, fmt.Errorf("failed to resolve gtfs version: %w", err)
	}

	return version, nil
}

// ServiceIDs returns the service identifiers active on the date under the
// calendar/calendar_dates model: weekday services within their date range,
// plus added exceptions, minus removed ones.
func (r *ScheduleRepository) ServiceIDs(ctx context.Context, version int, date time.Time) ([]string, error) {
	query := `
		WITH base AS (
			SELECT service_id FROM calendar
			WHERE gtfs_version = $1
			  AND start_date <= $2::date AND end_date >= $2::date
			  AND (
				($3 = 0 AND sunday) OR
				($3 = 1 AND monday) OR
				($3 = 2 AND tuesday) OR
				($3 = 3 AND wednesday) OR
				($3 = 4 AND thursday) OR
				($3 = 5 AND friday) OR
				($3 = 6 AND saturday)
			  )
		), added AS (
			SELECT service_id FROM calendar_dates
			WHERE gtfs_version = $1 AND date = $2::date AND exception_type = 1
		), removed AS (
			SELECT service_id FROM calendar_dates
			WHERE gtfs_version = $1 AND date = $2::date AND exception_type = 2
		)
		SELECT DISTINCT service_id FROM (
			SELECT service_id FROM base
			UNION
			SELECT service_id FROM added
		) merged
		WHERE service_id NOT IN (SELECT service_id FROM removed)
	`

	rows, err := r.pool.Query(ctx, query, version, date, int(date.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("failed to query service ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan service id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating service ids: %w", err)
	}

	return ids, nil
}

// ListBlocks returns the distinct block ids scheduled for a version and
// service-id set.
func (r *ScheduleRepository) ListBlocks(ctx context.Context, version int, serviceIDs []string) ([]string, error) {
	query := `
		SELECT DISTINCT block_id FROM blocks
		WHERE gtfs_version = $1 AND service_id = ANY($2)
		ORDER BY block_id
	`

	rows, err := r.pool.Query(ctx, query, version, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan block id: %w", err)
		}
		blocks = append(blocks, id)
	}

	return blocks, rows.Err()
}

// ListRoutes returns each route scheduled for the version/service-id set
// with its distinct trip count.
func (r *ScheduleRepository) ListRoutes(ctx context.Context, version int, serviceIDs []string) ([]models.RouteSummary, error) {
	query := `
		SELECT route_id, COUNT(DISTINCT trip_id) AS trip_count FROM blocks
		WHERE gtfs_version = $1 AND service_id = ANY($2)
		GROUP BY route_id
		ORDER BY route_id
	`

	rows, err := r.pool.Query(ctx, query, version, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []models.RouteSummary
	for rows.Next() {
		var summary models.RouteSummary
		if err := rows.Scan(&summary.RouteID, &summary.TripCount); err != nil {
			return nil, fmt.Errorf("failed to scan route row: %w", err)
		}
		routes = append(routes, summary)
	}

	return routes, rows.Err()
}

// ActiveVehicleIDs returns the distinct vehicles that reported on a trip
// inside the padded service-day window.
func (r *ScheduleRepository) ActiveVehicleIDs(ctx context.Context, dayStart, dayEnd time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT id FROM vehicles
		WHERE time > $1 AND time < $2 AND trip_id IS NOT NULL
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// RouteDetails returns every trip scheduled on a route for the service day,
// joined against the day's telemetry: the first observation gives the actual
// start and bus id, the last en-route observation of the same bus gives the
// actual end and delay.
func (r *ScheduleRepository) RouteDetails(ctx context.Context, version int, serviceIDs []string, routeID string, date, dayStart, dayEnd time.Time) ([]models.TripDetails, error) {
	query := `
		SELECT b.block_id, b.trip_id, b.trip_headsign, b.route_direction,
		       b.start_time::text, b.end_time::text,
		       v_first.id, v_first.recorded_timestamp,
		       v_last.recorded_timestamp, v_last.delay_min,
		       c.schedule_relationship
		FROM blocks b
		LEFT JOIN LATERAL (
			SELECT v.id, v.recorded_timestamp FROM vehicles v
			WHERE v.time > $4 AND v.time < $5 AND v.trip_id = b.trip_id
			ORDER BY v.time ASC LIMIT 1
		) v_first ON true
		LEFT JOIN LATERAL (
			SELECT v.recorded_timestamp, v.delay_min FROM vehicles v
			WHERE v.time > $4 AND v.time < $5 AND v.trip_id = b.trip_id
			  AND v.next_stop_id IS NOT NULL AND v.id = v_first.id
			ORDER BY v.time DESC LIMIT 1
		) v_last ON true
		LEFT JOIN canceled c ON c.date = $6::date AND c.trip_id = b.trip_id
		WHERE b.gtfs_version = $1 AND b.service_id = ANY($2) AND b.route_id = $3
		ORDER BY b.start_time ASC
	`

	rows, err := r.pool.Query(ctx, query, version, serviceIDs, routeID, dayStart, dayEnd, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query route details: %w", err)
	}
	defer rows.Close()

	var trips []models.TripDetails
	for rows.Next() {
		var t models.TripDetails
		var blockID, busID *string
		var actualStart, actualEnd *time.Time
		err := rows.Scan(
			&blockID,
			&t.TripID,
			&t.HeadSign,
			&t.RouteDirection,
			&t.ScheduledStartTime,
			&t.ScheduledEndTime,
			&busID,
			&actualStart,
			&actualEnd,
			&t.Delay,
			&t.Canceled,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip row: %w", err)
		}
		t.BlockID = blockID
		t.BusID = busID
		if actualStart != nil {
			s := actualStart.UTC().Format(time.RFC3339)
			t.ActualStartTime = &s
		}
		// Only report an end time once the last en-route ping has gone
		// stale; a recent ping means the trip is still out there.
		if actualEnd != nil && time.Since(*actualEnd) > 30*time.Minute {
			s := actualEnd.UTC().Format(time.RFC3339)
			t.ActualEndTime = &s
		}
		trips = append(trips, t)
	}

	return trips, rows.Err()
}
