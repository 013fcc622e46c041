package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/repository"
)

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error string `json:"error"`
}

// CountsEngine defines the interface for bus-count snapshot operations
type CountsEngine interface {
	Counts(ctx context.Context, at time.Time) (models.BusCounts, error)
	Graph(ctx context.Context, date time.Time) ([]models.BusCountPoint, error)
}

// BusCountHandler handles HTTP requests for bus-count snapshots and graphs
type BusCountHandler struct {
	engine   CountsEngine
	location *time.Location
}

// NewBusCountHandler creates a new handler over the given engine
func NewBusCountHandler(engine CountsEngine, location *time.Location) *BusCountHandler {
	if location == nil {
		location = time.Local
	}
	return &BusCountHandler{engine: engine, location: location}
}

// GetActiveBuses handles GET /api/activeBuses
// Query params: date (timestamp, optional, defaults to now)
func (h *BusCountHandler) GetActiveBuses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	at := time.Now().In(h.location)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := parseInstant(raw, h.location)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid date parameter"})
			return
		}
		at = parsed
	}

	counts, err := h.engine.Counts(ctx, at)
	if err != nil {
		if errors.Is(err, repository.ErrNoTimetable) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No timetable covers the requested date"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to compute bus counts"})
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

// GetActiveBusesGraph handles GET /api/activeBusesGraph
// Query params: date (service date, required)
func (h *BusCountHandler) GetActiveBusesGraph(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	date, ok := requireDate(w, r, h.location)
	if !ok {
		return
	}

	points, err := h.engine.Graph(ctx, date)
	if err != nil {
		if errors.Is(err, repository.ErrNoTimetable) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No timetable covers the requested date"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to build bus count graph"})
		return
	}

	writeJSON(w, http.StatusOK, points)
}

// parseInstant accepts a full timestamp or a plain calendar date, which is
// read as local midnight.
func parseInstant(raw string, location *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(location), nil
	}
	return time.ParseInLocation("2006-01-02", raw, location)
}

// requireDate parses the mandatory date query param, writing the 400 itself
// when it is missing or malformed.
func requireDate(w http.ResponseWriter, r *http.Request, location *time.Location) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Missing date parameter"})
		return time.Time{}, false
	}
	date, err := parseInstant(raw, location)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid date parameter"})
		return time.Time{}, false
	}
	return date, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
