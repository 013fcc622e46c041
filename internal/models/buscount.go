package models

import "time"

// BusCounts is the seven-field reconciliation snapshot for one instant:
// how many buses are actually out versus how many the timetable says
// should be. The trip-state counts overlap on purpose (a trip can be both
// notRunning and neverRan) and do not sum to tripsScheduled.
type BusCounts struct {
	ActiveBuses       int `json:"activeBuses"`
	BusesOnRoutes     int `json:"busesOnRoutes"`
	TripsScheduled    int `json:"tripsScheduled"`
	TripsNotRunning   int `json:"tripsNotRunning"`
	TripsNeverRan     int `json:"tripsNeverRan"`
	TripsCanceled     int `json:"tripsCanceled"`
	TripsStillRunning int `json:"tripsStillRunning"`
}

// BusCountPoint is one entry of the full-day 15-minute graph.
type BusCountPoint struct {
	Time string `json:"time"`
	BusCounts
}

// CountQuery carries the resolved context the per-metric count queries run
// against: the timetable version and active services for the service day,
// the narrow observation window around the instant, and the padded
// service-day window.
type CountQuery struct {
	Version        int
	ServiceIDs     []string
	Date           time.Time // service date, local midnight
	TimeString     string    // extended service time of the instant
	WindowStart    time.Time // instant - narrow window
	WindowEnd      time.Time // instant + narrow window
	DayStart       time.Time // padded service-day start
	DayEnd         time.Time // padded service-day end
	ExcludedRoutes []string  // non-revenue route ids left out of trip counts
}
