// Package handlers provides HTTP request handlers for the quantity API
// endpoints. This file implements the HTTPHandler interface with
// dependency injection.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seligo/rxquant-api/engine"
	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/interfaces"
	"github.com/seligo/rxquant-api/logging"
)

// QuantityEngine is the compute pipeline behind the API surface.
type QuantityEngine interface {
	Compute(ctx context.Context, query *interfaces.DrugQuery) (*engine.ComputeResult, error)
}

// HTTPHandlerImpl implements the interfaces.HTTPHandler interface
type HTTPHandlerImpl struct {
	engine    QuantityEngine
	health    interfaces.HealthChecker
	startTime time.Time
}

// NewHTTPHandler creates a new HTTP handler with injected dependencies
func NewHTTPHandler(quantityEngine QuantityEngine, health interfaces.HealthChecker) interfaces.HTTPHandler {
	return &HTTPHandlerImpl{
		engine:    quantityEngine,
		health:    health,
		startTime: time.Now(),
	}
}

// HealthResponseImpl defines the structure for consistent JSON ordering
type HealthResponseImpl struct {
	Status        string         `json:"status"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	UptimeHuman   string         `json:"uptime_human"`
	Registries    map[string]any `json:"registries"`
}

// RespondWithJSON writes a JSON response with compression optimization
func (h *HTTPHandlerImpl) RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(code)
	w.Write(data)
}

// RespondWithError writes a JSON error response carrying the machine
// readable taxonomy code next to the human readable message
func (h *HTTPHandlerImpl) RespondWithError(w http.ResponseWriter, code int, kind, message string) {
	errorResponse := map[string]interface{}{
		"error":   http.StatusText(code),
		"message": message,
		"code":    kind,
	}
	h.RespondWithJSON(w, code, errorResponse)
}

// statusForKind maps the error taxonomy onto HTTP status codes
func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindParse:
		return http.StatusUnprocessableEntity
	case apperrors.KindRateLimit:
		return http.StatusTooManyRequests
	case apperrors.KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithComputeError translates a pipeline error into the wire
// shape, attaching Retry-After guidance when the error carries a hint
func (h *HTTPHandlerImpl) respondWithComputeError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	code := statusForKind(kind)

	// The wrapped cause stays in the logs; callers get the message only.
	message := err.Error()
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	errorResponse := map[string]interface{}{
		"error":   http.StatusText(code),
		"message": message,
		"code":    string(kind),
	}

	if retryAfter, ok := apperrors.RetryAfterOf(err); ok && retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		errorResponse["retryAfterMs"] = retryAfter.Milliseconds()
	}

	if code == http.StatusInternalServerError {
		logging.Error("Compute request failed", "error", err)
	}

	h.RespondWithJSON(w, code, errorResponse)
}

// ComputeQuantity resolves one drug quantity request
func (h *HTTPHandlerImpl) ComputeQuantity(w http.ResponseWriter, r *http.Request) {
	var query interfaces.DrugQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		logging.Warn("Malformed request body", "error", err.Error())
		h.RespondWithError(w, http.StatusBadRequest, string(apperrors.KindValidation),
			"request body is not valid JSON")
		return
	}

	result, err := h.engine.Compute(r.Context(), &query)
	if err != nil {
		h.respondWithComputeError(w, err)
		return
	}

	h.RespondWithJSON(w, http.StatusOK, result)
}

// HealthCheck returns server health information
func (h *HTTPHandlerImpl) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, registries, httpStatus := h.health.HealthCheck()

	uptime := time.Since(h.startTime)

	response := HealthResponseImpl{
		Status:        status,
		UptimeSeconds: uptime.Seconds(),
		UptimeHuman:   h.formatUptimeHuman(uptime),
		Registries:    registries,
	}

	h.RespondWithJSON(w, httpStatus, response)
}

// formatUptimeHuman formats duration into a human-readable string
func (h *HTTPHandlerImpl) formatUptimeHuman(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string

	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))

	return strings.Join(parts, " ")
}
