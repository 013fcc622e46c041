package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Better-Transit-Ottawa/bus-tracker/internal/models"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/repository"
	"github.com/Better-Transit-Ottawa/bus-tracker/internal/schedule"
)

// ScheduleReader defines the interface for timetable lookup operations
type ScheduleReader interface {
	GTFSVersion(ctx context.Context, date time.Time) (int, error)
	ServiceIDs(ctx context.Context, version int, date time.Time) ([]string, error)
	ListBlocks(ctx context.Context, version int, serviceIDs []string) ([]string, error)
	ListRoutes(ctx context.Context, version int, serviceIDs []string) ([]models.RouteSummary, error)
	ActiveVehicleIDs(ctx context.Context, dayStart, dayEnd time.Time) ([]string, error)
	RouteDetails(ctx context.Context, version int, serviceIDs []string, routeID string, date, dayStart, dayEnd time.Time) ([]models.TripDetails, error)
}

// OC Transpo's frequent transit network: routes with 15-minute-or-better
// service through peak hours.
var frequentRouteIDs = map[string]bool{
	"5": true, "6": true, "7": true, "10": true, "11": true, "12": true,
	"14": true, "25": true, "40": true, "41": true, "44": true, "45": true,
	"57": true, "61": true, "62": true, "63": true, "68": true, "74": true,
	"75": true, "80": true, "85": true, "87": true, "88": true, "90": true,
	"98": true, "111": true,
}

// LookupHandler handles HTTP requests for schedule lookup data
type LookupHandler struct {
	repo     ScheduleReader
	padding  time.Duration
	location *time.Location
}

// NewLookupHandler creates a new handler with the given repository. padding
// is the service-day padding used for telemetry windows.
func NewLookupHandler(repo ScheduleReader, padding time.Duration, location *time.Location) *LookupHandler {
	if location == nil {
		location = time.Local
	}
	return &LookupHandler{repo: repo, padding: padding, location: location}
}

// GetRoutes handles GET /api/routes
// Query params: date (required), excludeSchoolRoutes (optional)
func (h *LookupHandler) GetRoutes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	date, ok := requireDate(w, r, h.location)
	if !ok {
		return
	}

	version, serviceIDs, ok := h.resolveTimetable(ctx, w, date)
	if !ok {
		return
	}

	routes, err := h.repo.ListRoutes(ctx, version, serviceIDs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to list routes"})
		return
	}

	excludeSchool := parseBool(r.URL.Query().Get("excludeSchoolRoutes"))

	out := make([]models.RouteSummary, 0, len(routes))
	for _, route := range routes {
		// School specials live in the 600 series.
		if excludeSchool {
			if n, err := strconv.Atoi(route.RouteID); err == nil && n >= 600 && n < 700 {
				continue
			}
		}
		route.Frequency = "non-frequent"
		if frequentRouteIDs[route.RouteID] {
			route.Frequency = "frequent"
		}
		out = append(out, route)
	}

	writeJSON(w, http.StatusOK, out)
}

// GetBlocks handles GET /api/blocks
// Query params: date (required)
func (h *LookupHandler) GetBlocks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	date, ok := requireDate(w, r, h.location)
	if !ok {
		return
	}

	version, serviceIDs, ok := h.resolveTimetable(ctx, w, date)
	if !ok {
		return
	}

	blocks, err := h.repo.ListBlocks(ctx, version, serviceIDs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to list blocks"})
		return
	}
	if blocks == nil {
		blocks = []string{}
	}

	writeJSON(w, http.StatusOK, blocks)
}

// GetVehicles handles GET /api/vehicles
// Query params: date (required)
func (h *LookupHandler) GetVehicles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	date, ok := requireDate(w, r, h.location)
	if !ok {
		return
	}

	bounds := schedule.Bounds(schedule.DateOnly(date), h.padding)
	ids, err := h.repo.ActiveVehicleIDs(ctx, bounds.Start, bounds.End)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to list vehicles"})
		return
	}
	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, ids)
}

// GetRouteDetails handles GET /api/routeDetails
// Query params: routeId (required), date (required)
func (h *LookupHandler) GetRouteDetails(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	routeID := r.URL.Query().Get("routeId")
	if routeID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Missing routeId parameter"})
		return
	}

	date, ok := requireDate(w, r, h.location)
	if !ok {
		return
	}

	version, serviceIDs, ok := h.resolveTimetable(ctx, w, date)
	if !ok {
		return
	}

	day := schedule.DateOnly(date)
	bounds := schedule.Bounds(day, h.padding)
	trips, err := h.repo.RouteDetails(ctx, version, serviceIDs, routeID, day, bounds.Start, bounds.End)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get route details"})
		return
	}
	if trips == nil {
		trips = []models.TripDetails{}
	}

	writeJSON(w, http.StatusOK, trips)
}

func (h *LookupHandler) resolveTimetable(ctx context.Context, w http.ResponseWriter, date time.Time) (int, []string, bool) {
	day := schedule.DateOnly(date)
	version, err := h.repo.GTFSVersion(ctx, day)
	if err != nil {
		if errors.Is(err, repository.ErrNoTimetable) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No timetable covers the requested date"})
		} else {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to resolve timetable version"})
		}
		return 0, nil, false
	}

	serviceIDs, err := h.repo.ServiceIDs(ctx, version, day)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to resolve active services"})
		return 0, nil, false
	}

	return version, serviceIDs, true
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(raw)
	return err == nil && b
}
