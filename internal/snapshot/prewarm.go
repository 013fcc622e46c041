package snapshot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/cache"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/metrics"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/schedule"
)

// DayLister enumerates the calendar dates present in the observation
// history.
type DayLister interface {
	DistinctObservationDates(ctx context.Context) ([]time.Time, error)
}

// SeriesBuilder is the part of the engine the prewarmer drives: building a
// day's graph populates the cache as a side effect.
type SeriesBuilder interface {
	Graph(ctx context.Context, date time.Time) ([]models.BusCountPoint, error)
}

// Prewarmer backfills the snapshot cache for settled service days so
// historical graph requests never pay the compute cost.
type Prewarmer struct {
	series SeriesBuilder
	days   DayLister
	cache  cache.Store
	mcol   *metrics.Collector

	maxAgeDays int
	location   *time.Location
	now        func() time.Time
}

// NewPrewarmer wires the prewarm job. maxAgeDays bounds how far back the
// backfill reaches (90 days when zero). mcol may be nil.
func NewPrewarmer(series SeriesBuilder, days DayLister, cacheStore cache.Store, mcol *metrics.Collector, maxAgeDays int, location *time.Location) *Prewarmer {
	if maxAgeDays <= 0 {
		maxAgeDays = 90
	}
	if location == nil {
		location = time.Local
	}
	return &Prewarmer{
		series:     series,
		days:       days,
		cache:      cacheStore,
		mcol:       mcol,
		maxAgeDays: maxAgeDays,
		location:   location,
		now:        time.Now,
	}
}

// Result tallies one prewarm run.
type Result struct {
	Warmed        int
	AlreadyCached int
	Skipped       int
	Failed        int
}

// Run walks every observed service day and computes the graph for each
// settled day not yet cached. Days are skipped when they are the current
// service day (telemetry still arriving), exactly yesterday (grace period
// for late-arriving data), or older than the retention window. A failed
// day is logged and the run continues.
func (p *Prewarmer) Run(ctx context.Context) (Result, error) {
	runID := uuid.New().String()[:8]

	days, err := p.days.DistinctObservationDates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list observed days: %w", err)
	}

	now := p.now().In(p.location)
	today := schedule.ServiceDate(now)
	yesterday := schedule.DateOnly(now).AddDate(0, 0, -1)
	cutoff := schedule.DateOnly(now).AddDate(0, 0, -p.maxAgeDays)

	log.Printf("Prewarm %s: checking %d observed days (max age: %d days)", runID, len(days), p.maxAgeDays)

	var res Result
	for _, raw := range days {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		day := schedule.DateOnly(raw.In(p.location))
		if day.Equal(today) || day.Equal(yesterday) || day.Before(cutoff) {
			res.Skipped++
			p.observe("skipped")
			continue
		}

		cached, err := p.cache.Get(ctx, day, seriesStart)
		if err != nil {
			log.Printf("Prewarm %s: cache probe for %s failed: %v", runID, day.Format("2006-01-02"), err)
		} else if cached != nil {
			res.AlreadyCached++
			p.observe("already_cached")
			continue
		}

		if _, err := p.series.Graph(ctx, day); err != nil {
			log.Printf("Prewarm %s: day %s failed: %v", runID, day.Format("2006-01-02"), err)
			res.Failed++
			p.observe("failed")
			continue
		}

		res.Warmed++
		p.observe("warmed")
		if res.Warmed%10 == 0 {
			log.Printf("Prewarm %s: %d days completed...", runID, res.Warmed)
		}
	}

	log.Printf("Prewarm %s: finished. Warmed: %d, Already cached: %d, Skipped: %d, Failed: %d",
		runID, res.Warmed, res.AlreadyCached, res.Skipped, res.Failed)
	return res, nil
}

func (p *Prewarmer) observe(outcome string) {
	if p.mcol != nil {
		p.mcol.PrewarmDays.WithLabelValues(outcome).Inc()
	}
}
