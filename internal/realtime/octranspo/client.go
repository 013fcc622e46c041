package octranspo

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/metrics"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
)

// TelemetryWriter is the storage side of a poll cycle.
type TelemetryWriter interface {
	InsertObservations(ctx context.Context, pollID string, polledAt time.Time, observations []models.Observation) error
	UpsertCancellations(ctx context.Context, cancellations []models.Cancellation) error
}

// delayKey matches a trip update to the vehicle heading for that stop.
type delayKey struct {
	TripID string
	StopID string
}

// Poller handles real-time polling of the OC Transpo GTFS-RT feeds
type Poller struct {
	writer   TelemetryWriter
	mcol     *metrics.Collector
	client   *http.Client
	location *time.Location

	vehiclePositionsURL string
	tripUpdatesURL      string
}

// NewPoller creates a new OC Transpo poller. mcol may be nil.
func NewPoller(writer TelemetryWriter, mcol *metrics.Collector, vehiclePositionsURL, tripUpdatesURL string, location *time.Location) *Poller {
	if location == nil {
		location = time.Local
	}
	return &Poller{
		writer:   writer,
		mcol:     mcol,
		location: location,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		vehiclePositionsURL: vehiclePositionsURL,
		tripUpdatesURL:      tripUpdatesURL,
	}
}

// Poll fetches and processes both GTFS-RT feeds: vehicle positions become
// observation rows, trip updates contribute delay info and cancellations.
func (p *Poller) Poll(ctx context.Context) error {
	polledAt := time.Now().UTC()
	pollID := uuid.New().String()

	observations, err := p.fetchVehiclePositions(ctx)
	if err != nil {
		if p.mcol != nil {
			p.mcol.PollErrors.Inc()
		}
		return fmt.Errorf("failed to fetch vehicle positions: %w", err)
	}

	delays, cancellations, err := p.fetchTripUpdates(ctx)
	if err != nil {
		// Non-fatal: keep the observations, continue without delay info
		log.Printf("Failed to fetch trip updates (continuing without delays): %v", err)
		delays = make(map[delayKey]int)
	}

	for i, obs := range observations {
		if obs.TripID == nil || obs.NextStopID == nil {
			continue
		}
		if delay, ok := delays[delayKey{TripID: *obs.TripID, StopID: *obs.NextStopID}]; ok {
			observations[i].DelayMin = &delay
		}
	}

	if err := p.writer.InsertObservations(ctx, pollID, polledAt, observations); err != nil {
		if p.mcol != nil {
			p.mcol.PollErrors.Inc()
		}
		return fmt.Errorf("failed to write observations: %w", err)
	}

	if err := p.writer.UpsertCancellations(ctx, cancellations); err != nil {
		if p.mcol != nil {
			p.mcol.PollErrors.Inc()
		}
		return fmt.Errorf("failed to write cancellations: %w", err)
	}

	if p.mcol != nil {
		p.mcol.PolledVehicles.Add(float64(len(observations)))
	}
	log.Printf("Polled %d vehicles, %d cancellations", len(observations), len(cancellations))
	return nil
}

// fetchVehiclePositions fetches and parses the vehicle positions feed
func (p *Poller) fetchVehiclePositions(ctx context.Context) ([]models.Observation, error) {
	feed, err := p.fetchFeed(ctx, p.vehiclePositionsURL)
	if err != nil {
		return nil, err
	}

	var observations []models.Observation
	for _, entity := range feed.Entity {
		if entity.Vehicle == nil {
			continue
		}
		vehicle := entity.Vehicle

		var vehicleID string
		if vehicle.Vehicle != nil && vehicle.Vehicle.Id != nil {
			vehicleID = *vehicle.Vehicle.Id
		} else if vehicle.Vehicle != nil && vehicle.Vehicle.Label != nil {
			vehicleID = *vehicle.Vehicle.Label
		}
		if vehicleID == "" {
			continue
		}

		obs := models.Observation{
			VehicleID:  vehicleID,
			RecordedAt: time.Now().UTC(),
		}
		if vehicle.Timestamp != nil {
			obs.RecordedAt = time.Unix(int64(*vehicle.Timestamp), 0).UTC()
		}
		if vehicle.Trip != nil {
			obs.TripID = vehicle.Trip.TripId
		}
		obs.NextStopID = vehicle.StopId

		observations = append(observations, obs)
	}

	return observations, nil
}

// fetchTripUpdates fetches the trip updates feed, returning per-stop delays
// in whole minutes and the trips the operator has canceled.
func (p *Poller) fetchTripUpdates(ctx context.Context) (map[delayKey]int, []models.Cancellation, error) {
	feed, err := p.fetchFeed(ctx, p.tripUpdatesURL)
	if err != nil {
		return nil, nil, err
	}

	delays := make(map[delayKey]int)
	var cancellations []models.Cancellation
	for _, entity := range feed.Entity {
		if entity.TripUpdate == nil {
			continue
		}
		tripUpdate := entity.TripUpdate
		if tripUpdate.Trip == nil || tripUpdate.Trip.TripId == nil {
			continue
		}
		tripID := *tripUpdate.Trip.TripId

		if tripUpdate.Trip.ScheduleRelationship != nil &&
			*tripUpdate.Trip.ScheduleRelationship == gtfs.TripDescriptor_CANCELED {
			date, err := p.cancellationDate(tripUpdate.Trip.StartDate)
			if err != nil {
				log.Printf("Skipping cancellation for trip %s: %v", tripID, err)
				continue
			}
			cancellations = append(cancellations, models.Cancellation{
				Date:                 date,
				TripID:               tripID,
				ScheduleRelationship: gtfs.TripDescriptor_CANCELED.String(),
			})
			continue
		}

		for _, stu := range tripUpdate.StopTimeUpdate {
			if stu.StopId == nil {
				continue
			}
			var delaySeconds *int32
			if stu.Arrival != nil && stu.Arrival.Delay != nil {
				delaySeconds = stu.Arrival.Delay
			} else if stu.Departure != nil && stu.Departure.Delay != nil {
				delaySeconds = stu.Departure.Delay
			}
			if delaySeconds == nil {
				continue
			}
			delays[delayKey{TripID: tripID, StopID: *stu.StopId}] = int(*delaySeconds) / 60
		}
	}

	return delays, cancellations, nil
}

// cancellationDate resolves the service date of a canceled trip from the
// feed's YYYYMMDD start date, falling back to today when absent.
func (p *Poller) cancellationDate(startDate *string) (time.Time, error) {
	if startDate == nil || *startDate == "" {
		now := time.Now().In(p.location)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.location), nil
	}
	return time.ParseInLocation("20060102", *startDate, p.location)
}

// fetchFeed fetches a GTFS-RT feed from the given URL
func (p *Poller) fetchFeed(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}

	return feed, nil
}
