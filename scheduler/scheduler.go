// Package scheduler runs the background maintenance jobs for the
// registry clients: hourly cache sweeps, metric gauge refreshes, and a
// staleness watchdog over upstream successes.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/seligo/rxquant-api/interfaces"
	"github.com/seligo/rxquant-api/logging"
	"github.com/seligo/rxquant-api/metrics"
	"github.com/seligo/rxquant-api/resilience"
)

// staleWarningAge is how long a registry may go without a successful
// upstream call before the watchdog starts warning.
const staleWarningAge = 25 * time.Hour

// Compile-time check to ensure Scheduler implements Scheduler interface
var _ interfaces.Scheduler = (*Scheduler)(nil)

// Scheduler handles cache maintenance and staleness monitoring using
// dependency injection
type Scheduler struct {
	naming    interfaces.RegistryStats
	packaging interfaces.RegistryStats
	scheduler *gocron.Scheduler
	stop      chan struct{}
}

// NewScheduler creates a new scheduler instance with injected dependencies
func NewScheduler(naming, packaging interfaces.RegistryStats) *Scheduler {
	return &Scheduler{
		naming:    naming,
		packaging: packaging,
		scheduler: gocron.NewScheduler(time.Local),
		stop:      make(chan struct{}),
	}
}

// Start begins the hourly cache sweep and the staleness watchdog
func (s *Scheduler) Start() error {
	// Initial sweep so the gauges are current from boot
	s.sweepCaches()

	_, err := s.scheduler.Every(1).Hours().Do(s.sweepCaches)
	if err != nil {
		logging.Error("Failed to schedule cache sweep", "error", err)
		return fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	s.scheduler.StartAsync()

	// Start staleness monitoring
	s.startStalenessWatchdog()

	return nil
}

// Stop stops the scheduler and the watchdog
func (s *Scheduler) Stop() {
	close(s.stop)
	s.scheduler.Stop()
}

// sweepCaches drops expired entries from both registry caches and
// refreshes the cache and breaker gauges
func (s *Scheduler) sweepCaches() {
	start := time.Now()

	namingPurged := s.naming.PurgeExpired()
	packagingPurged := s.packaging.PurgeExpired()

	s.refreshGauges()

	logging.Info("Cache sweep completed",
		"duration", time.Since(start).String(),
		"naming_purged", namingPurged,
		"packaging_purged", packagingPurged,
	)
}

// refreshGauges publishes current cache sizes and breaker states
func (s *Scheduler) refreshGauges() {
	metrics.RegistryCacheEntries.WithLabelValues("naming").Set(float64(s.naming.CacheStats().Size))
	metrics.RegistryCacheEntries.WithLabelValues("packaging").Set(float64(s.packaging.CacheStats().Size))

	metrics.BreakerState.WithLabelValues("naming").Set(breakerStateValue(s.naming.BreakerState()))
	metrics.BreakerState.WithLabelValues("packaging").Set(breakerStateValue(s.packaging.BreakerState()))
}

// startStalenessWatchdog warns when a registry has not answered
// successfully in over 25 hours
func (s *Scheduler) startStalenessWatchdog() {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.checkStaleness()
			}
		}
	}()
}

// checkStaleness logs one warning per stale registry. A registry that
// has never succeeded is skipped, the breaker covers that case.
func (s *Scheduler) checkStaleness() {
	s.warnIfStale("naming", s.naming)
	s.warnIfStale("packaging", s.packaging)
}

func (s *Scheduler) warnIfStale(name string, stats interfaces.RegistryStats) {
	last := stats.LastSuccess()
	if last.IsZero() {
		return
	}

	if time.Since(last) > staleWarningAge {
		logging.Warn("Registry hasn't answered successfully in over 25 hours",
			"registry", name,
			"last_success", last.Format(time.RFC3339),
		)
	}
}

func breakerStateValue(state resilience.BreakerState) float64 {
	switch state {
	case resilience.BreakerOpen:
		return 2
	case resilience.BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}
