// Package snapshot reconciles the scheduled timetable against live vehicle
// telemetry: for any instant it answers how many buses are out versus how
// many should be, caches the answer for settled days, and builds the
// full-day 15-minute graph.
package snapshot

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/cache"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/metrics"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/schedule"
)

// narrowWindow is the half-width of the observation window around the
// instant: a vehicle is "reporting" if it pinged within the last or next
// two minutes.
const narrowWindow = 2 * time.Minute

// ScheduleStore resolves the timetable version and active services for a
// calendar date.
type ScheduleStore interface {
	GTFSVersion(ctx context.Context, date time.Time) (int, error)
	ServiceIDs(ctx context.Context, version int, date time.Time) ([]string, error)
}

// CountsStore runs the per-metric count queries. The seven methods are
// independent of each other and safe to call concurrently.
type CountsStore interface {
	ActiveBuses(ctx context.Context, q models.CountQuery) (int, error)
	BusesOnRoutes(ctx context.Context, q models.CountQuery) (int, error)
	TripsScheduled(ctx context.Context, q models.CountQuery) (int, error)
	TripsNotRunning(ctx context.Context, q models.CountQuery) (int, error)
	TripsNeverRan(ctx context.Context, q models.CountQuery) (int, error)
	TripsCanceled(ctx context.Context, q models.CountQuery) (int, error)
	TripsStillRunning(ctx context.Context, q models.CountQuery) (int, error)
}

// Config carries the reconciliation knobs threaded in from the environment.
type Config struct {
	// ServiceDayPadding widens the telemetry search window on both sides of
	// a service day so post-midnight trips are captured.
	ServiceDayPadding time.Duration
	// ExcludedRouteIDs are non-revenue routes (garage pull-ins) left out of
	// the trip counts.
	ExcludedRouteIDs []string
	// SeriesConcurrency bounds how many per-instant snapshots a graph build
	// keeps in flight at once.
	SeriesConcurrency int
	// Location is the agency's time zone.
	Location *time.Location
}

// Engine computes bus-count snapshots through the read-through cache.
type Engine struct {
	schedule ScheduleStore
	counts   CountsStore
	cache    cache.Store
	mcol     *metrics.Collector
	cfg      Config

	now func() time.Time // injectable for tests
}

// NewEngine wires the engine. mcol may be nil to disable metrics.
func NewEngine(scheduleStore ScheduleStore, countsStore CountsStore, cacheStore cache.Store, mcol *metrics.Collector, cfg Config) *Engine {
	if cfg.SeriesConcurrency <= 0 {
		cfg.SeriesConcurrency = 8
	}
	if cfg.ServiceDayPadding <= 0 {
		cfg.ServiceDayPadding = 4 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Engine{
		schedule: scheduleStore,
		counts:   countsStore,
		cache:    cacheStore,
		mcol:     mcol,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Counts returns the seven-field snapshot for the given instant.
//
// For settled instants (service date strictly before the current one) the
// cache is consulted first and the computed result written back; live-day
// instants are always computed fresh and never cached, since their
// telemetry is still arriving.
func (e *Engine) Counts(ctx context.Context, at time.Time) (models.BusCounts, error) {
	at = at.In(e.cfg.Location)
	day := schedule.ServiceDate(at)
	timeString := schedule.ToTimeString(at, true)
	settled := day.Before(schedule.ServiceDate(e.now().In(e.cfg.Location)))

	if settled {
		cached, err := e.cache.Get(ctx, day, timeString)
		if err != nil {
			log.Printf("Warning: cache read for %s %s failed: %v", day.Format("2006-01-02"), timeString, err)
		} else if cached != nil {
			if e.mcol != nil {
				e.mcol.CacheHits.Inc()
			}
			return *cached, nil
		}
		if e.mcol != nil {
			e.mcol.CacheMisses.Inc()
		}
	}

	counts, err := e.compute(ctx, at, day, timeString)
	if err != nil {
		if e.mcol != nil {
			e.mcol.SnapshotErrors.Inc()
		}
		return models.BusCounts{}, err
	}

	// Write-back is best effort: a failed Put loses the cache entry, not
	// the snapshot.
	if settled {
		if err := e.cache.Put(ctx, day, timeString, counts); err != nil {
			log.Printf("Warning: cache write for %s %s failed: %v", day.Format("2006-01-02"), timeString, err)
		}
	}

	return counts, nil
}

func (e *Engine) compute(ctx context.Context, at, day time.Time, timeString string) (models.BusCounts, error) {
	started := time.Now()

	version, err := e.schedule.GTFSVersion(ctx, day)
	if err != nil {
		return models.BusCounts{}, err
	}
	serviceIDs, err := e.schedule.ServiceIDs(ctx, version, day)
	if err != nil {
		return models.BusCounts{}, err
	}

	bounds := schedule.Bounds(day, e.cfg.ServiceDayPadding)
	q := models.CountQuery{
		Version:        version,
		ServiceIDs:     serviceIDs,
		Date:           day,
		TimeString:     timeString,
		WindowStart:    at.Add(-narrowWindow),
		WindowEnd:      at.Add(narrowWindow),
		DayStart:       bounds.Start,
		DayEnd:         bounds.End,
		ExcludedRoutes: e.cfg.ExcludedRouteIDs,
	}

	// The seven counts are independent; run them together and fail the
	// whole snapshot on the first error so a partial result is never
	// returned or cached.
	var counts models.BusCounts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { counts.ActiveBuses, err = e.counts.ActiveBuses(gctx, q); return })
	g.Go(func() (err error) { counts.BusesOnRoutes, err = e.counts.BusesOnRoutes(gctx, q); return })
	g.Go(func() (err error) { counts.TripsScheduled, err = e.counts.TripsScheduled(gctx, q); return })
	g.Go(func() (err error) { counts.TripsNotRunning, err = e.counts.TripsNotRunning(gctx, q); return })
	g.Go(func() (err error) { counts.TripsNeverRan, err = e.counts.TripsNeverRan(gctx, q); return })
	g.Go(func() (err error) { counts.TripsCanceled, err = e.counts.TripsCanceled(gctx, q); return })
	g.Go(func() (err error) { counts.TripsStillRunning, err = e.counts.TripsStillRunning(gctx, q); return })
	if err := g.Wait(); err != nil {
		return models.BusCounts{}, err
	}

	if e.mcol != nil {
		e.mcol.SnapshotsComputed.Inc()
		e.mcol.SnapshotDuration.Observe(time.Since(started).Seconds())
	}

	return counts, nil
}
