// Package engine orchestrates one compute request end to end: registry
// fan-out, result merge, sig interpretation, quantity computation, and
// pack selection.
package engine

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/seligo/rxquant-api/dosage"
	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/interfaces"
	"github.com/seligo/rxquant-api/logging"
	"github.com/seligo/rxquant-api/metrics"
	"github.com/seligo/rxquant-api/packs"
	"github.com/seligo/rxquant-api/quantity"
	"github.com/seligo/rxquant-api/registry"
	"github.com/seligo/rxquant-api/sig"
)

// DefaultTimeout bounds one compute request end to end, covering the
// registry fan-out, the secondary lookups, and the sig fallback.
const DefaultTimeout = 30 * time.Second

// conceptIDRe matches bare registry identifiers such as "C1028" or
// "8432107": a short letter prefix plus digits, no spaces. Names go
// through the by-name and approximate lookups instead.
var conceptIDRe = regexp.MustCompile(`^[A-Za-z]{0,3}\d{3,}$`)

// NormalizedDrug is the naming registry's view of the queried drug.
// Both fields stay nil when the naming branch was skipped or failed.
type NormalizedDrug struct {
	CanonicalID *string `json:"canonicalId,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// Flags carries the diagnostics accumulated while resolving a query.
type Flags struct {
	// InactivePackageIDs lists packages excluded from selection.
	InactivePackageIDs []string `json:"inactivePackageIds,omitempty"`
	// Mismatch is raised when the two registries disagree on which
	// package identifiers exist for the drug.
	Mismatch bool     `json:"mismatch"`
	Notes    []string `json:"notes,omitempty"`
}

// ComputeResult is the full answer to one DrugQuery.
type ComputeResult struct {
	NormalizedDrug NormalizedDrug      `json:"normalizedDrug"`
	Interpretation *sig.Interpretation `json:"interpretation"`
	Computed       *quantity.Result    `json:"computed"`
	Selection      packs.Selection     `json:"selection"`
	Flags          Flags               `json:"flags"`
}

// Config tunes the orchestrator.
type Config struct {
	// MaxPacks and MaxOverfill are handed to the package selector.
	Packs packs.Config
	// Timeout bounds one compute request; DefaultTimeout when zero.
	Timeout time.Duration
}

// Engine wires the pipeline stages together.
type Engine struct {
	validator interfaces.QueryValidator
	naming    interfaces.NamingRegistry
	packaging interfaces.PackagingRegistry
	sig       interfaces.SigInterpreter
	packsCfg  packs.Config
	timeout   time.Duration
}

// New creates an engine over the given pipeline stages.
func New(validator interfaces.QueryValidator, naming interfaces.NamingRegistry,
	packaging interfaces.PackagingRegistry, interpreter interfaces.SigInterpreter,
	cfg Config) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		validator: validator,
		naming:    naming,
		packaging: packaging,
		sig:       interpreter,
		packsCfg:  cfg.Packs,
		timeout:   timeout,
	}
}

// Compute resolves one query and records the outcome metrics.
func (e *Engine) Compute(ctx context.Context, query *interfaces.DrugQuery) (*ComputeResult, error) {
	start := time.Now()
	result, err := e.compute(ctx, query)
	metrics.ComputeDuration.Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = string(apperrors.KindOf(err))
	}
	metrics.ComputeTotal.WithLabelValues(outcome).Inc()
	return result, err
}

func (e *Engine) compute(ctx context.Context, query *interfaces.DrugQuery) (*ComputeResult, error) {
	if err := e.validator.ValidateQuery(query); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tracer := otel.Tracer("engine")
	ctx, span := tracer.Start(ctx, "compute")
	defer span.End()
	span.SetAttributes(attribute.String("identifier", query.Identifier))

	resolveCtx, resolveSpan := tracer.Start(ctx, "resolve_packages")
	resolution, err := e.resolve(resolveCtx, query.Identifier)
	resolveSpan.End()
	if err != nil {
		return nil, err
	}

	var override dosage.Unit
	if query.UnitOverride != "" {
		override, _ = dosage.ParseUnit(query.UnitOverride)
	}
	sigCtx, sigSpan := tracer.Start(ctx, "interpret_sig")
	interpretation, err := e.sig.Interpret(sigCtx, query.Sig, override)
	sigSpan.End()
	if err != nil {
		return nil, err
	}

	records := resolution.resolvedRecords()
	computed, err := quantity.Compute(quantity.Input{
		Unit:               interpretation.Dose.Unit,
		PerDay:             interpretation.Dose.PerDay,
		DaysSupply:         query.DaysSupply,
		DrugName:           resolution.matchText(query.Identifier),
		DosageForm:         dominantDosageForm(records),
		PackageDescription: firstActiveDescription(records),
		PackSizes:          activePackSizes(records),
	})
	if err != nil {
		return nil, err
	}

	selection, inactive, err := packs.Select(records, computed.Total,
		query.PreferredPackageIDs, e.packsCfg)
	if err != nil {
		return nil, err
	}

	return &ComputeResult{
		NormalizedDrug: resolution.normalizedDrug(),
		Interpretation: interpretation,
		Computed:       computed,
		Selection:      selection,
		Flags: Flags{
			InactivePackageIDs: inactive,
			Mismatch:           resolution.mismatch,
			Notes:              resolution.notes,
		},
	}, nil
}

// resolve gathers package records for the identifier, either through
// the direct packaging-key path or the two-registry fan-out.
func (e *Engine) resolve(ctx context.Context, identifier string) (*resolution, error) {
	if registry.IsPackageKey(registry.NormalizePackageID(identifier)) {
		return e.resolveDirect(ctx, identifier)
	}
	return e.resolveFanOut(ctx, identifier)
}

// resolveDirect skips the naming registry for identifiers that already
// are packaging keys.
func (e *Engine) resolveDirect(ctx context.Context, identifier string) (*resolution, error) {
	record, stale, err := e.packaging.PackageByID(ctx, identifier, false)
	if err != nil {
		return nil, err
	}

	res := &resolution{}
	if record == nil {
		res.notes = append(res.notes,
			"package "+registry.NormalizePackageID(identifier)+" is not known to the packaging registry")
		return res, nil
	}
	res.candidates = append(res.candidates, Resolved(*record))
	if stale {
		res.notes = append(res.notes, "packaging data was served from an expired cache entry")
	}
	return res, nil
}

// resolveFanOut queries both registries concurrently and merges their
// answers. Both branches always run to completion; a single failure
// degrades the result instead of aborting it.
func (e *Engine) resolveFanOut(ctx context.Context, identifier string) (*resolution, error) {
	var (
		concept      *registry.Concept
		conceptStale bool
		conceptErr   error

		records      []registry.PackageRecord
		recordsStale bool
		recordsErr   error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		concept, conceptStale, conceptErr = e.lookupConcept(ctx, identifier)
	}()
	go func() {
		defer wg.Done()
		records, recordsStale, recordsErr = e.packaging.SearchPackages(ctx, identifier)
	}()
	wg.Wait()

	if conceptErr != nil && recordsErr != nil {
		hint := maxRetryHint(conceptErr, recordsErr)
		logging.Error("both registries unavailable",
			"identifier", identifier,
			"naming_error", conceptErr.Error(),
			"packaging_error", recordsErr.Error(),
		)
		return nil, apperrors.Dependency("naming and packaging registries are both unavailable",
			errors.Join(conceptErr, recordsErr), hint)
	}

	res := &resolution{concept: concept}
	for _, record := range records {
		res.candidates = append(res.candidates, Resolved(record))
	}

	switch {
	case conceptErr != nil:
		logging.Warn("naming registry unavailable, continuing with packaging data",
			"identifier", identifier, "error", conceptErr.Error())
		res.notes = append(res.notes, "naming registry unavailable, drug name was not normalized")
	case recordsErr != nil:
		logging.Warn("packaging search unavailable, continuing with naming data",
			"identifier", identifier, "error", recordsErr.Error())
		res.notes = append(res.notes, "packaging search unavailable, package list may be incomplete")
	}

	if conceptStale {
		res.notes = append(res.notes, "naming data was served from an expired cache entry")
	}
	if recordsStale {
		res.notes = append(res.notes, "packaging data was served from an expired cache entry")
	}

	e.mergeCrosswalk(ctx, res, recordsErr == nil)
	return res, nil
}

// lookupConcept picks the naming operation that fits the identifier
// shape: bare ids go through the identifier lookup, names through the
// by-name lookup with an approximate-match second chance.
func (e *Engine) lookupConcept(ctx context.Context, identifier string) (*registry.Concept, bool, error) {
	if conceptIDRe.MatchString(identifier) {
		return e.naming.LookupByIdentifier(ctx, identifier)
	}
	concept, stale, err := e.naming.LookupByName(ctx, identifier)
	if err != nil || concept != nil {
		return concept, stale, err
	}
	return e.naming.ApproximateMatch(ctx, identifier)
}

func maxRetryHint(errs ...error) time.Duration {
	var hint time.Duration
	for _, err := range errs {
		if after, ok := apperrors.RetryAfterOf(err); ok && after > hint {
			hint = after
		}
	}
	return hint
}
