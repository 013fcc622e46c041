package snapshot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/schedule"
)

const (
	seriesStart = "03:00:00"
	seriesEnd   = "27:00:00"
	seriesStep  = 15 * 60 // seconds

	// liveLag keeps the graph of the current service day away from the
	// ragged edge: the last point is at least 15 minutes old.
	liveLag = 15 * time.Minute
)

// Graph builds the full-day bus-count series for a service date: one
// snapshot every 15 minutes from 03:00:00 to 27:00:00, or up to now minus
// the live lag when the date is the current, still-live service day.
//
// Snapshots are computed concurrently (bounded by SeriesConcurrency) and
// assembled back in ascending time order.
func (e *Engine) Graph(ctx context.Context, date time.Time) ([]models.BusCountPoint, error) {
	day := schedule.DateOnly(date.In(e.cfg.Location))

	end := seriesEnd
	now := e.now().In(e.cfg.Location)
	if day.Equal(schedule.ServiceDate(now)) {
		lagged := now.Add(-liveLag)
		if !schedule.ServiceDate(lagged).Equal(day) {
			// The service day began less than liveLag ago; nothing to plot.
			return []models.BusCountPoint{}, nil
		}
		end = schedule.ToTimeString(lagged, true)
		if schedule.TimeStringDiff(end, seriesEnd) > 0 {
			end = seriesEnd
		}
	}

	var times []string
	for cur := seriesStart; schedule.TimeStringDiff(end, cur) > 0; cur = schedule.AddToTimeString(cur, seriesStep) {
		times = append(times, cur)
	}

	points := make([]models.BusCountPoint, len(times))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.SeriesConcurrency)
	for i, timeString := range times {
		i, timeString := i, timeString
		g.Go(func() error {
			at := schedule.InstantOn(day, timeString)
			counts, err := e.Counts(gctx, at)
			if err != nil {
				return fmt.Errorf("snapshot at %s: %w", timeString, err)
			}
			points[i] = models.BusCountPoint{Time: timeString, BusCounts: counts}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return points, nil
}
