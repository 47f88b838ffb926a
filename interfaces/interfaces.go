// Package interfaces defines the contracts the compute pipeline is
// assembled from, so the orchestrator and handlers can be exercised
// against fakes instead of live registries.
package interfaces

import (
	"context"
	"net/http"
	"time"

	"github.com/seligo/rxquant-api/dosage"
	"github.com/seligo/rxquant-api/registry"
	"github.com/seligo/rxquant-api/resilience"
	"github.com/seligo/rxquant-api/sig"
)

// DrugQuery is one quantity computation request as received from a
// caller.
type DrugQuery struct {
	// Identifier is a drug name, concept id, or packaging key.
	Identifier string `json:"identifier"`
	// Sig is the free-text dosing instruction.
	Sig string `json:"sig"`
	// DaysSupply is the supply period in days.
	DaysSupply int `json:"daysSupply"`
	// PreferredPackageIDs bias pack selection toward specific packages.
	PreferredPackageIDs []string `json:"preferredPackageIds,omitempty"`
	// UnitOverride forces the dose unit, skipping unit inference.
	UnitOverride string `json:"unitOverride,omitempty"`
}

// QueryValidator defines the contract for request validation.
type QueryValidator interface {
	// ValidateQuery checks a full compute request.
	ValidateQuery(q *DrugQuery) error

	// ValidateIdentifier checks a drug identifier on its own.
	ValidateIdentifier(input string) error

	// ValidateSig checks a sig text on its own.
	ValidateSig(input string) error
}

// NamingRegistry defines the contract for drug concept lookups. The
// boolean return reports whether the answer was served stale.
type NamingRegistry interface {
	LookupByIdentifier(ctx context.Context, id string) (*registry.Concept, bool, error)
	LookupByName(ctx context.Context, name string) (*registry.Concept, bool, error)
	ApproximateMatch(ctx context.Context, term string) (*registry.Concept, bool, error)
}

// PackagingRegistry defines the contract for package record lookups.
// The boolean return reports whether the answer was served stale.
type PackagingRegistry interface {
	SearchPackages(ctx context.Context, query string) ([]registry.PackageRecord, bool, error)
	PackageByID(ctx context.Context, id string, allowStale bool) (*registry.PackageRecord, bool, error)
}

// SigInterpreter defines the contract for turning sig free text into a
// structured daily dose.
type SigInterpreter interface {
	Interpret(ctx context.Context, text string, override dosage.Unit) (*sig.Interpretation, error)
}

// RegistryStats exposes the resilience internals of a registry client
// for health checks and scheduled maintenance.
type RegistryStats interface {
	CacheStats() resilience.CacheStats
	PurgeExpired() int
	LastSuccess() time.Time
	BreakerState() resilience.BreakerState
}

// Scheduler defines the contract for background maintenance jobs.
type Scheduler interface {
	Start() error
	Stop()
}

// HealthChecker defines the contract for health check functionality.
type HealthChecker interface {
	// HealthCheck returns current system health status
	HealthCheck() (status string, details map[string]any, httpStatus int)
}

// HTTPHandler defines the contract for the API's request handlers.
type HTTPHandler interface {
	ComputeQuantity(w http.ResponseWriter, r *http.Request)
	HealthCheck(w http.ResponseWriter, r *http.Request)
}
