package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

func testLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

type fakeSchedule struct {
	mu           sync.Mutex
	versionCalls int
	serviceCalls int
	versionErr   error
}

func (f *fakeSchedule) GTFSVersion(ctx context.Context, date time.Time) (int, error) {
	f.mu.Lock()
	f.versionCalls++
	f.mu.Unlock()
	if f.versionErr != nil {
		return 0, f.versionErr
	}
	return 42, nil
}

func (f *fakeSchedule) ServiceIDs(ctx context.Context, version int, date time.Time) ([]string, error) {
	f.mu.Lock()
	f.serviceCalls++
	f.mu.Unlock()
	return []string{"WKDY-1"}, nil
}

type fakeCounts struct {
	mu        sync.Mutex
	calls     map[string]int
	lastQuery models.CountQuery
	counts    models.BusCounts
	failOn    string

	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeCounts(counts models.BusCounts) *fakeCounts {
	return &fakeCounts{calls: map[string]int{}, counts: counts}
}

func (f *fakeCounts) record(name string, q models.CountQuery, value int) (int, error) {
	f.mu.Lock()
	f.calls[name]++
	f.lastQuery = q
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.failOn == name {
		return 0, fmt.Errorf("%s query failed: boom", name)
	}
	return value, nil
}

func (f *fakeCounts) ActiveBuses(ctx context.Context, q models.CountQuery) (int, error) {
	return f.record("activeBuses", q, f.counts.ActiveBuses)
}
func (f *fakeCounts) BusesOnRoutes(ctx context.Context, q models.CountQuery) (int, error) {
	return f.record("busesOnRoutes", q, f.counts.BusesOnRoutes)
}
func (f *fakeCounts) TripsScheduled(ctx context.Context, q models.CountQuery) (int, error) {
	return f.record("tripsScheduled", q, f.counts.TripsScheduled)
}
func (f *fakeCounts) TripsNotRunning(ctx context.Context, q models.CountQuery) (int, error) {
	return f.record("tripsNotRunning", q, f.counts.TripsNotRunning)
}
func (f *fakeCounts) TripsNeverRan(ctx context.Context, q models.CountQuery) (int, error) {
	return f.record("tripsNeverRan", q, f.counts.TripsNeverRan)
}
func (f *fakeCounts) TripsCanceled(ctx context.Context, q models.CountQuery) (int, error) {
	return f.record("tripsCanceled", q, f.counts.TripsCanceled)
}
func (f *fakeCounts) TripsStillRunning(ctx context.Context, q models.CountQuery) (int, error) {
	return f.record("tripsStillRunning", q, f.counts.TripsStillRunning)
}

func (f *fakeCounts) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]models.BusCounts
	gets    int
	puts    int
	getErr  error
	putErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]models.BusCounts{}}
}

func cacheKey(date time.Time, timeString string) string {
	return date.Format("2006-01-02") + " " + timeString
}

func (c *memCache) Get(ctx context.Context, date time.Time, timeString string) (*models.BusCounts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	if counts, ok := c.entries[cacheKey(date, timeString)]; ok {
		return &counts, nil
	}
	return nil, nil
}

func (c *memCache) Put(ctx context.Context, date time.Time, timeString string, counts models.BusCounts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	c.entries[cacheKey(date, timeString)] = counts
	return nil
}

func newTestEngine(sched ScheduleStore, counts CountsStore, cacheStore *memCache, loc *time.Location, now time.Time) *Engine {
	e := NewEngine(sched, counts, cacheStore, nil, Config{
		ServiceDayPadding: 4 * time.Hour,
		ExcludedRouteIDs:  []string{"1-350", "2-354", "4-354"},
		SeriesConcurrency: 4,
		Location:          loc,
	})
	e.now = func() time.Time { return now }
	return e
}

func TestCountsComputesAllSevenConcurrently(t *testing.T) {
	loc := testLocation(t)
	want := models.BusCounts{
		ActiveBuses:       142,
		BusesOnRoutes:     131,
		TripsScheduled:    150,
		TripsNotRunning:   12,
		TripsNeverRan:     4,
		TripsCanceled:     2,
		TripsStillRunning: 3,
	}
	counts := newFakeCounts(want)
	counts.delay = 5 * time.Millisecond
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, loc)
	e := newTestEngine(&fakeSchedule{}, counts, newMemCache(), loc, now)

	at := time.Date(2025, 3, 10, 8, 2, 0, 0, loc)
	got, err := e.Counts(context.Background(), at)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if got != want {
		t.Errorf("Counts = %+v, want %+v", got, want)
	}
	if got.ActiveBuses < got.BusesOnRoutes {
		t.Errorf("activeBuses %d < busesOnRoutes %d", got.ActiveBuses, got.BusesOnRoutes)
	}

	for _, name := range []string{"activeBuses", "busesOnRoutes", "tripsScheduled", "tripsNotRunning", "tripsNeverRan", "tripsCanceled", "tripsStillRunning"} {
		if counts.calls[name] != 1 {
			t.Errorf("%s called %d times, want 1", name, counts.calls[name])
		}
	}
	// The seven queries overlap rather than run one after another.
	if counts.maxInFlight < 2 {
		t.Errorf("max in-flight queries = %d, expected concurrent execution", counts.maxInFlight)
	}
}

func TestCountsQueryContext(t *testing.T) {
	loc := testLocation(t)
	counts := newFakeCounts(models.BusCounts{})
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, loc)
	e := newTestEngine(&fakeSchedule{}, counts, newMemCache(), loc, now)

	// 01:30 on March 11 belongs to March 10's service, at extended time
	// 25:30:00.
	at := time.Date(2025, 3, 11, 1, 30, 0, 0, loc)
	if _, err := e.Counts(context.Background(), at); err != nil {
		t.Fatalf("Counts: %v", err)
	}

	q := counts.lastQuery
	if q.TimeString != "25:30:00" {
		t.Errorf("TimeString = %q, want 25:30:00", q.TimeString)
	}
	wantDate := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)
	if !q.Date.Equal(wantDate) {
		t.Errorf("Date = %v, want %v", q.Date, wantDate)
	}
	if q.Version != 42 {
		t.Errorf("Version = %d, want 42", q.Version)
	}
	if got := q.WindowEnd.Sub(q.WindowStart); got != 4*time.Minute {
		t.Errorf("narrow window = %v, want 4m", got)
	}
	if !q.DayStart.Before(wantDate) {
		t.Errorf("DayStart %v not before service date midnight", q.DayStart)
	}
	if !q.DayEnd.After(wantDate.AddDate(0, 0, 1)) {
		t.Errorf("DayEnd %v not after next midnight", q.DayEnd)
	}
}

func TestCountsSettledDayIsCached(t *testing.T) {
	loc := testLocation(t)
	counts := newFakeCounts(models.BusCounts{ActiveBuses: 7, TripsScheduled: 9})
	cacheStore := newMemCache()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, loc)
	e := newTestEngine(&fakeSchedule{}, counts, cacheStore, loc, now)

	at := time.Date(2025, 3, 10, 8, 0, 0, 0, loc)
	first, err := e.Counts(context.Background(), at)
	if err != nil {
		t.Fatalf("first Counts: %v", err)
	}
	if cacheStore.puts != 1 {
		t.Fatalf("puts = %d, want 1", cacheStore.puts)
	}

	// Second call must come from the cache with no further store queries.
	before := counts.totalCalls()
	second, err := e.Counts(context.Background(), at)
	if err != nil {
		t.Fatalf("second Counts: %v", err)
	}
	if second != first {
		t.Errorf("cached result %+v differs from computed %+v", second, first)
	}
	if got := counts.totalCalls(); got != before {
		t.Errorf("counts store queried %d more times on a cache hit", got-before)
	}
}

func TestCountsLiveDayBypassesCache(t *testing.T) {
	loc := testLocation(t)
	counts := newFakeCounts(models.BusCounts{ActiveBuses: 3})
	cacheStore := newMemCache()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, loc)
	e := newTestEngine(&fakeSchedule{}, counts, cacheStore, loc, now)

	// 08:00 today: telemetry still arriving, never cached.
	at := time.Date(2025, 3, 10, 8, 0, 0, 0, loc)
	if _, err := e.Counts(context.Background(), at); err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if cacheStore.gets != 0 || cacheStore.puts != 0 {
		t.Errorf("live-day snapshot touched the cache: gets=%d puts=%d", cacheStore.gets, cacheStore.puts)
	}
}

func TestCountsSubQueryFailureAbortsSnapshot(t *testing.T) {
	loc := testLocation(t)
	counts := newFakeCounts(models.BusCounts{ActiveBuses: 5})
	counts.failOn = "tripsNeverRan"
	cacheStore := newMemCache()
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, loc)
	e := newTestEngine(&fakeSchedule{}, counts, cacheStore, loc, now)

	at := time.Date(2025, 3, 10, 8, 0, 0, 0, loc)
	if _, err := e.Counts(context.Background(), at); err == nil {
		t.Fatal("expected error when one sub-query fails")
	}
	if cacheStore.puts != 0 {
		t.Errorf("partial snapshot was cached (puts=%d)", cacheStore.puts)
	}
}

func TestCountsNoTimetable(t *testing.T) {
	loc := testLocation(t)
	wantErr := errors.New("no timetable version covers date")
	sched := &fakeSchedule{versionErr: wantErr}
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, loc)
	e := newTestEngine(sched, newFakeCounts(models.BusCounts{}), newMemCache(), loc, now)

	at := time.Date(2025, 3, 10, 8, 0, 0, 0, loc)
	_, err := e.Counts(context.Background(), at)
	if !errors.Is(err, wantErr) {
		t.Errorf("Counts error = %v, want %v", err, wantErr)
	}
}

func TestCountsCacheWriteFailureIsNotFatal(t *testing.T) {
	loc := testLocation(t)
	counts := newFakeCounts(models.BusCounts{ActiveBuses: 5})
	cacheStore := newMemCache()
	cacheStore.putErr = errors.New("disk full")
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, loc)
	e := newTestEngine(&fakeSchedule{}, counts, cacheStore, loc, now)

	at := time.Date(2025, 3, 10, 8, 0, 0, 0, loc)
	got, err := e.Counts(context.Background(), at)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if got.ActiveBuses != 5 {
		t.Errorf("ActiveBuses = %d, want 5", got.ActiveBuses)
	}
}
