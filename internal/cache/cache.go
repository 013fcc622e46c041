// Package cache persists computed bus-count snapshots keyed by service date
// and service-time string. Entries have no TTL; callers only cache settled
// instants, and writes are idempotent upserts so concurrent recomputation of
// the same key converges.
package cache

import (
	"context"
	"time"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

// Store is the snapshot cache. Get returns nil (not an error) on a miss.
type Store interface {
	Get(ctx context.Context, date time.Time, timeString string) (*models.BusCounts, error)
	Put(ctx context.Context, date time.Time, timeString string, counts models.BusCounts) error
}
