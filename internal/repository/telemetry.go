package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

// TelemetryRepository writes the realtime side of the data model: vehicle
// observations (append-only) and cancellations (upserted per date+trip).
type TelemetryRepository struct {
	pool *pgxpool.Pool
}

// NewTelemetryRepository creates a repository over the given pool.
func NewTelemetryRepository(pool *pgxpool.Pool) *TelemetryRepository {
	return &TelemetryRepository{pool: pool}
}

// InsertObservations appends one poll cycle's vehicle observations. pollID
// ties the batch together; polledAt is the observation instant recorded in
// the time column.
func (r *TelemetryRepository) InsertObservations(ctx context.Context, pollID string, polledAt time.Time, observations []models.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, obs := range observations {
		batch.Queue(`
			INSERT INTO vehicles (id, time, recorded_timestamp, trip_id, next_stop_id, delay_min, poll_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, obs.VehicleID, polledAt, obs.RecordedAt, obs.TripID, obs.NextStopID, obs.DelayMin, pollID)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert observations: %w", err)
	}

	return tx.Commit(ctx)
}

// UpsertCancellations records operator-issued cancellations, keyed by
// (date, trip). Re-reporting the same cancellation is a no-op overwrite.
func (r *TelemetryRepository) UpsertCancellations(ctx context.Context, cancellations []models.Cancellation) error {
	if len(cancellations) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range cancellations {
		batch.Queue(`
			INSERT INTO canceled (date, trip_id, schedule_relationship)
			VALUES ($1::date, $2, $3)
			ON CONFLICT (date, trip_id) DO UPDATE SET
				schedule_relationship = excluded.schedule_relationship
		`, c.Date, c.TripID, c.ScheduleRelationship)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert cancellations: %w", err)
	}

	return tx.Commit(ctx)
}

// Cleanup deletes observations older than the retention duration.
func (r *TelemetryRepository) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	tag, err := r.pool.Exec(ctx, `DELETE FROM vehicles WHERE time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup vehicles: %w", err)
	}

	return tag.RowsAffected(), nil
}
