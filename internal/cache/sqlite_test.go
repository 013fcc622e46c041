package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreMiss(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), "08:00:00")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on miss, got %+v", got)
	}
}

func TestSQLiteStorePutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	want := models.BusCounts{
		ActiveBuses:       142,
		BusesOnRoutes:     131,
		TripsScheduled:    150,
		TripsNotRunning:   12,
		TripsNeverRan:     4,
		TripsCanceled:     2,
		TripsStillRunning: 3,
	}
	if err := store.Put(ctx, date, "08:15:00", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, date, "08:15:00")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a hit")
	}
	if *got != want {
		t.Errorf("Get = %+v, want %+v", *got, want)
	}

	// A different time on the same date is a distinct key.
	other, err := store.Get(ctx, date, "08:30:00")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if other != nil {
		t.Errorf("expected miss for other time, got %+v", other)
	}
}

func TestSQLiteStoreUpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	first := models.BusCounts{ActiveBuses: 10, TripsScheduled: 20}
	if err := store.Put(ctx, date, "25:30:00", first); err != nil {
		t.Fatalf("Put: %v", err)
	}

	corrected := models.BusCounts{ActiveBuses: 11, TripsScheduled: 20, TripsStillRunning: 1}
	if err := store.Put(ctx, date, "25:30:00", corrected); err != nil {
		t.Fatalf("Put (second): %v", err)
	}

	got, err := store.Get(ctx, date, "25:30:00")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || *got != corrected {
		t.Errorf("Get = %+v, want corrected %+v", got, corrected)
	}
}
