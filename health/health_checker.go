// Package health reports service readiness from the resilience state of
// the registry clients.
package health

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/seligo/rxquant-api/interfaces"
	"github.com/seligo/rxquant-api/resilience"
)

// staleSuccessThreshold is how long a registry may go without a
// successful upstream call before the service reports degraded.
const staleSuccessThreshold = 24 * time.Hour

// registrySource pairs a stats provider with the stale-hit counter seen
// at the previous check, so each check reports only new stale serves.
type registrySource struct {
	name          string
	stats         interfaces.RegistryStats
	lastStaleHits atomic.Uint64
}

// HealthCheckerImpl implements the interfaces.HealthChecker interface
type HealthCheckerImpl struct {
	sources []*registrySource
}

// NewHealthChecker creates a health checker over the naming and
// packaging registry clients.
func NewHealthChecker(naming, packaging interfaces.RegistryStats) interfaces.HealthChecker {
	return &HealthCheckerImpl{
		sources: []*registrySource{
			{name: "naming", stats: naming},
			{name: "packaging", stats: packaging},
		},
	}
}

// HealthCheck returns HTTP-specific health data with per-registry detail
// Used by /health HTTP endpoint
func (h *HealthCheckerImpl) HealthCheck() (status string, details map[string]any, httpStatus int) {
	status = "healthy"
	details = make(map[string]any, len(h.sources))

	for _, src := range h.sources {
		cacheStats := src.stats.CacheStats()
		breakerState := src.stats.BreakerState()
		lastSuccess := src.stats.LastSuccess()

		// A stale-hit increase since the previous check means degraded
		// answers were served in the meantime.
		staleDelta := cacheStats.StaleHits - src.lastStaleHits.Swap(cacheStats.StaleHits)

		registryStatus := "healthy"
		switch {
		case breakerState == resilience.BreakerOpen && cacheStats.Size == 0:
			// Upstream unreachable and nothing cached to answer from.
			registryStatus = "unhealthy"

		case breakerState == resilience.BreakerOpen:
			registryStatus = "degraded"

		case !lastSuccess.IsZero() && time.Since(lastSuccess) > staleSuccessThreshold:
			registryStatus = "degraded"

		case staleDelta > 0:
			registryStatus = "degraded"
		}

		lastSuccessValue := "never"
		if !lastSuccess.IsZero() {
			lastSuccessValue = lastSuccess.Format(time.RFC3339)
		}

		details[src.name] = map[string]any{
			"status":         registryStatus,
			"breaker":        string(breakerState),
			"cache_size":     cacheStats.Size,
			"cache_capacity": cacheStats.Capacity,
			"stale_hits":     cacheStats.StaleHits,
			"last_success":   lastSuccessValue,
		}

		status = worseOf(status, registryStatus)
	}

	httpStatus = http.StatusOK
	if status != "healthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return status, details, httpStatus
}

var statusRank = map[string]int{
	"healthy":   0,
	"degraded":  1,
	"unhealthy": 2,
}

func worseOf(a, b string) string {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}
