package models

import "time"

// RouteSummary is one row of the route list: a route active on a date with
// its scheduled trip count and frequent-network classification.
type RouteSummary struct {
	RouteID   string `json:"routeId"`
	TripCount int    `json:"tripCount"`
	Frequency string `json:"frequency"`
}

// TripDetails describes one scheduled trip on a route for a service day,
// joined against whatever telemetry the day produced.
type TripDetails struct {
	TripID             string  `json:"tripId"`
	HeadSign           string  `json:"headSign"`
	RouteDirection     int     `json:"routeDirection"`
	ScheduledStartTime string  `json:"scheduledStartTime"`
	ScheduledEndTime   string  `json:"scheduledEndTime"`
	ActualStartTime    *string `json:"actualStartTime"`
	ActualEndTime      *string `json:"actualEndTime"`
	Delay              *int    `json:"delay"`
	Canceled           *string `json:"canceled"`
	BusID              *string `json:"busId"`
	BlockID            *string `json:"blockId"`
}

// Observation is one telemetry ping from a vehicle, as appended to the
// vehicles table by the poller.
type Observation struct {
	VehicleID  string
	RecordedAt time.Time
	TripID     *string
	NextStopID *string
	DelayMin   *int
}

// Cancellation is an operator-issued trip cancellation for a calendar date.
type Cancellation struct {
	Date                 time.Time
	TripID               string
	ScheduleRelationship string
}
