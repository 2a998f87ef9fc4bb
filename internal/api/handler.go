package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/ingest"
	"github.com/rajasatyajit/FuelWatch/internal/logger"
	middlewares "github.com/rajasatyajit/FuelWatch/internal/middleware"
	"github.com/rajasatyajit/FuelWatch/internal/models"
)

// StationFinder answers nearest-station queries
type StationFinder interface {
	NearestStations(ctx context.Context, q models.NearestQuery) ([]models.StationResult, error)
}

// Analyzer answers per-station price queries
type Analyzer interface {
	PriceAnalysis(ctx context.Context, stationID string, fuel models.FuelType) (models.Analysis, error)
	PriceHistory(ctx context.Context, stationID string, fuel models.FuelType, days int) ([]models.PricePoint, error)
}

// IngestStatus reports ingestion progress
type IngestStatus interface {
	Status() ingest.Status
}

// IngestTrigger starts a background snapshot run
type IngestTrigger interface {
	Trigger() error
}

// HealthChecker reports storage health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies are the services the handler serves
type Dependencies struct {
	Stations StationFinder
	Analysis Analyzer
	Status   IngestStatus
	Trigger  IngestTrigger
	Health   HealthChecker
}

// Handler handles HTTP requests for the API
type Handler struct {
	deps        Dependencies
	version     string
	buildTime   string
	gitCommit   string
	startTime   time.Time
	adminSecret string
}

// NewHandler creates a new API handler
func NewHandler(deps Dependencies, adminSecret, version, buildTime, gitCommit string) *Handler {
	return &Handler{
		deps:        deps,
		version:     version,
		buildTime:   buildTime,
		gitCommit:   gitCommit,
		startTime:   time.Now(),
		adminSecret: adminSecret,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.healthHandler)
		r.Get("/health/ready", h.readinessHandler)
		r.Get("/health/live", h.livenessHandler)
		r.Get("/version", h.versionHandler)

		r.Get("/stations", h.nearestStationsHandler)
		r.Get("/stations/{id}/analysis", h.analysisHandler)
		r.Get("/stations/{id}/history", h.historyHandler)

		r.Get("/ingest/status", h.ingestStatusHandler)

		r.With(middlewares.AdminSecret(h.adminSecret)).Post("/admin/ingest", h.triggerIngestHandler)
	})

	r.Get("/health", h.healthHandler)
}

// healthHandler provides basic health check
func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// readinessHandler checks if the application is ready to serve traffic
func (h *Handler) readinessHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"store": "ok",
	}
	statusCode := http.StatusOK

	if err := h.deps.Health.Health(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}
	if statusCode != http.StatusOK {
		response["status"] = "not ready"
	}

	h.writeJSONResponse(w, statusCode, response)
}

// livenessHandler checks if the application is alive
func (h *Handler) livenessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// versionHandler returns version information
func (h *Handler) versionHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":    h.version,
		"build_time": h.buildTime,
		"git_commit": h.gitCommit,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// nearestStationsHandler handles GET /v1/stations
func (h *Handler) nearestStationsHandler(w http.ResponseWriter, r *http.Request) {
	q, err := parseNearestQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	stations, err := h.deps.Stations.NearestStations(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response := map[string]interface{}{
		"data":      stations,
		"count":     len(stations),
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Cache-Control", "public, max-age=60")
	h.writeJSONResponse(w, http.StatusOK, response)
}

// analysisHandler handles GET /v1/stations/{id}/analysis
func (h *Handler) analysisHandler(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "id")
	fuel, err := parseFuel(r.URL.Query().Get("fuel_type"), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	analysis, err := h.deps.Analysis.PriceAnalysis(r.Context(), stationID, *fuel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	h.writeJSONResponse(w, http.StatusOK, analysis)
}

// historyHandler handles GET /v1/stations/{id}/history
func (h *Handler) historyHandler(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "id")
	fuel, err := parseFuel(r.URL.Query().Get("fuel_type"), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	days := 0
	if s := r.URL.Query().Get("days"); s != "" {
		if days, err = strconv.Atoi(s); err != nil || days < 1 {
			h.writeError(w, r, apperrors.ValidationError{Field: "days", Message: "must be a positive integer"})
			return
		}
	}

	points, err := h.deps.Analysis.PriceHistory(r.Context(), stationID, *fuel, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response := map[string]interface{}{
		"station_id": stationID,
		"fuel_type":  *fuel,
		"data":       points,
		"count":      len(points),
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	h.writeJSONResponse(w, http.StatusOK, response)
}

// ingestStatusHandler handles GET /v1/ingest/status
func (h *Handler) ingestStatusHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.deps.Status.Status())
}

// triggerIngestHandler handles POST /v1/admin/ingest
func (h *Handler) triggerIngestHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Trigger.Trigger(); err != nil {
		h.writeError(w, r, err)
		return
	}

	logger.WithContext(r.Context()).Info("Snapshot ingestion triggered")
	h.writeJSONResponse(w, http.StatusAccepted, map[string]interface{}{
		"status":    "accepted",
		"timestamp": time.Now().UTC(),
	})
}

// parseNearestQuery parses query parameters into a NearestQuery
func parseNearestQuery(r *http.Request) (models.NearestQuery, error) {
	values := r.URL.Query()
	q := models.NearestQuery{}

	var err error
	if q.Lat, err = parseFloat(values.Get("lat"), "lat", true); err != nil {
		return q, err
	}
	if q.Lon, err = parseFloat(values.Get("lon"), "lon", true); err != nil {
		return q, err
	}
	if q.RadiusKm, err = parseFloat(values.Get("radius"), "radius", false); err != nil {
		return q, err
	}

	if limitStr := values.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return q, apperrors.ValidationError{Field: "limit", Message: fmt.Sprintf("invalid limit: %s", limitStr)}
		}
		q.Limit = limit
	}

	if q.Fuel, err = parseFuel(values.Get("fuel_type"), false); err != nil {
		return q, err
	}

	return q, nil
}

func parseFloat(s, field string, required bool) (float64, error) {
	if s == "" {
		if required {
			return 0, apperrors.ValidationError{Field: field, Message: "required"}
		}
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, apperrors.ValidationError{Field: field, Message: fmt.Sprintf("invalid number: %s", s)}
	}
	return v, nil
}

func parseFuel(s string, required bool) (*models.FuelType, error) {
	if s == "" {
		if required {
			return nil, apperrors.ValidationError{Field: "fuel_type", Message: "required"}
		}
		return nil, nil
	}
	fuel, err := models.ParseFuelType(s)
	if err != nil {
		return nil, apperrors.ValidationError{Field: "fuel_type", Message: err.Error()}
	}
	return &fuel, nil
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err onto a status code and writes the error response
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeErrorResponse(w, r, http.StatusBadRequest, ve.Error())
	case errors.Is(err, apperrors.ErrInvalidInput):
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeErrorResponse(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, apperrors.ErrRunInProgress):
		h.writeErrorResponse(w, r, http.StatusConflict, err.Error())
	default:
		logger.WithContext(r.Context()).Error("Request failed", "path", r.URL.Path, "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// writeErrorResponse writes a standardized error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetReqID(r.Context()),
	}

	h.writeJSONResponse(w, statusCode, response)
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
