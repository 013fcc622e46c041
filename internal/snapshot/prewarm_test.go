package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

type fakeDayLister struct {
	dates []time.Time
	err   error
}

func (f *fakeDayLister) DistinctObservationDates(ctx context.Context) ([]time.Time, error) {
	return f.dates, f.err
}

type fakeSeries struct {
	mu     sync.Mutex
	built  map[string]int
	failOn string
}

func newFakeSeries() *fakeSeries {
	return &fakeSeries{built: map[string]int{}}
}

func (f *fakeSeries) Graph(ctx context.Context, date time.Time) ([]models.BusCountPoint, error) {
	key := date.Format("2006-01-02")
	f.mu.Lock()
	f.built[key]++
	f.mu.Unlock()
	if key == f.failOn {
		return nil, errors.New("snapshot at 03:00:00: upstream query failed")
	}
	return []models.BusCountPoint{}, nil
}

func datesSpanning(loc *time.Location, today time.Time, back int) []time.Time {
	var dates []time.Time
	for i := back; i >= 0; i-- {
		dates = append(dates, today.AddDate(0, 0, -i))
	}
	return dates
}

func newTestPrewarmer(series SeriesBuilder, lister DayLister, cacheStore *memCache, loc *time.Location, now time.Time) *Prewarmer {
	p := NewPrewarmer(series, lister, cacheStore, nil, 90, loc)
	p.now = func() time.Time { return now }
	return p
}

func TestPrewarmSkipRules(t *testing.T) {
	loc := testLocation(t)
	now := time.Date(2025, 6, 20, 14, 0, 0, 0, loc)
	today := time.Date(2025, 6, 20, 0, 0, 0, 0, loc)

	series := newFakeSeries()
	lister := &fakeDayLister{dates: datesSpanning(loc, today, 100)}
	p := newTestPrewarmer(series, lister, newMemCache(), loc, now)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 101 observed days: today, yesterday and the 10 days older than the
	// 90-day window are skipped; the remaining 89 are warmed.
	if res.Skipped != 12 {
		t.Errorf("Skipped = %d, want 12", res.Skipped)
	}
	if res.Warmed != 89 {
		t.Errorf("Warmed = %d, want 89", res.Warmed)
	}
	if res.AlreadyCached != 0 || res.Failed != 0 {
		t.Errorf("AlreadyCached = %d, Failed = %d, want 0", res.AlreadyCached, res.Failed)
	}

	for _, skipped := range []string{"2025-06-20", "2025-06-19", "2025-03-21"} {
		if series.built[skipped] != 0 {
			t.Errorf("day %s should have been skipped, built %d times", skipped, series.built[skipped])
		}
	}
	// The retention boundary itself (D-90) is still warmed, exactly once.
	if series.built["2025-03-22"] != 1 {
		t.Errorf("day 2025-03-22 built %d times, want 1", series.built["2025-03-22"])
	}
	if series.built["2025-06-18"] != 1 {
		t.Errorf("day 2025-06-18 built %d times, want 1", series.built["2025-06-18"])
	}
}

func TestPrewarmSkipsCachedDays(t *testing.T) {
	loc := testLocation(t)
	now := time.Date(2025, 6, 20, 14, 0, 0, 0, loc)
	today := time.Date(2025, 6, 20, 0, 0, 0, 0, loc)

	cacheStore := newMemCache()
	warmDay := time.Date(2025, 6, 17, 0, 0, 0, 0, loc)
	if err := cacheStore.Put(context.Background(), warmDay, "03:00:00", models.BusCounts{}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	series := newFakeSeries()
	lister := &fakeDayLister{dates: datesSpanning(loc, today, 5)}
	p := newTestPrewarmer(series, lister, cacheStore, loc, now)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.AlreadyCached != 1 {
		t.Errorf("AlreadyCached = %d, want 1", res.AlreadyCached)
	}
	if series.built["2025-06-10"] != 0 {
		t.Errorf("cached day was rebuilt %d times", series.built["2025-06-10"])
	}
	// Six observed days minus today, yesterday and the cached one.
	if res.Warmed != 3 {
		t.Errorf("Warmed = %d, want 3", res.Warmed)
	}
}

func TestPrewarmContinuesPastFailedDay(t *testing.T) {
	loc := testLocation(t)
	now := time.Date(2025, 6, 20, 14, 0, 0, 0, loc)
	today := time.Date(2025, 6, 20, 0, 0, 0, 0, loc)

	series := newFakeSeries()
	series.failOn = "2025-06-16"
	lister := &fakeDayLister{dates: datesSpanning(loc, today, 5)}
	p := newTestPrewarmer(series, lister, newMemCache(), loc, now)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run must not fail because one day failed: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if res.Warmed != 3 {
		t.Errorf("Warmed = %d, want 3", res.Warmed)
	}
	// Days after the failure were still attempted.
	if series.built["2025-06-18"] != 1 {
		t.Errorf("day after failure built %d times, want 1", series.built["2025-06-18"])
	}
}

func TestPrewarmListFailureIsFatal(t *testing.T) {
	loc := testLocation(t)
	now := time.Date(2025, 6, 20, 14, 0, 0, 0, loc)
	lister := &fakeDayLister{err: errors.New("connection refused")}
	p := newTestPrewarmer(newFakeSeries(), lister, newMemCache(), loc, now)

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error when listing observed days fails")
	}
}
