package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/seligo/rxquant-api/registry"
)

// maxConcurrentResolves caps the secondary package lookups spawned for
// one request.
const maxConcurrentResolves = 50

// Candidate is a package either backed by a full packaging record or
// known only by an identifier the packaging registry could not resolve.
// Unresolved candidates surface in diagnostics, never in selection.
type Candidate struct {
	Record     *registry.PackageRecord
	Identifier string
}

// Resolved wraps a packaging record as a candidate.
func Resolved(record registry.PackageRecord) Candidate {
	return Candidate{Record: &record}
}

// Unresolved marks a package identifier without a packaging record.
func Unresolved(identifier string) Candidate {
	return Candidate{Identifier: identifier}
}

// IsResolved reports whether the candidate carries a packaging record.
func (c Candidate) IsResolved() bool {
	return c.Record != nil
}

// resolution accumulates everything the registry phase learned about
// the queried drug.
type resolution struct {
	concept    *registry.Concept
	candidates []Candidate
	mismatch   bool
	notes      []string
}

// resolvedRecords projects the candidates onto plain package records,
// keeping candidate order.
func (r *resolution) resolvedRecords() []registry.PackageRecord {
	var records []registry.PackageRecord
	for _, candidate := range r.candidates {
		if candidate.Record != nil {
			records = append(records, *candidate.Record)
		}
	}
	return records
}

func (r *resolution) normalizedDrug() NormalizedDrug {
	var drug NormalizedDrug
	if r.concept == nil {
		return drug
	}
	if r.concept.ConceptID != "" {
		drug.CanonicalID = &r.concept.ConceptID
	}
	if r.concept.DisplayName != "" {
		drug.DisplayName = &r.concept.DisplayName
	}
	return drug
}

// matchText builds the text the dosage keyword tables match against:
// the normalized display name, one brand name, and the raw identifier.
func (r *resolution) matchText(identifier string) string {
	parts := make([]string, 0, 3)
	if r.concept != nil && r.concept.DisplayName != "" {
		parts = append(parts, r.concept.DisplayName)
	}
	for _, candidate := range r.candidates {
		if candidate.Record != nil && candidate.Record.IsActive && candidate.Record.BrandName != "" {
			parts = append(parts, candidate.Record.BrandName)
			break
		}
	}
	parts = append(parts, identifier)
	return strings.Join(parts, " ")
}

// mergeCrosswalk reconciles the naming registry's package id crosswalk
// with the packaging search result. Ids only the naming registry knows
// are resolved individually, stale allowed, at most
// maxConcurrentResolves at a time. packagingAnswered gates the mismatch
// comparison: with only one registry answering there is nothing to
// disagree about.
func (e *Engine) mergeCrosswalk(ctx context.Context, res *resolution, packagingAnswered bool) {
	if res.concept == nil || len(res.concept.PackageIDs) == 0 {
		return
	}

	searchSet := make(map[string]bool, len(res.candidates))
	for _, candidate := range res.candidates {
		if candidate.Record != nil {
			searchSet[registry.NormalizePackageID(candidate.Record.PackageID)] = true
		}
	}

	crosswalkSet := make(map[string]bool, len(res.concept.PackageIDs))
	var missing []string
	for _, id := range res.concept.PackageIDs {
		normalized := registry.NormalizePackageID(id)
		if normalized == "" || crosswalkSet[normalized] {
			continue
		}
		crosswalkSet[normalized] = true
		if !searchSet[normalized] {
			missing = append(missing, normalized)
		}
	}

	if packagingAnswered {
		for id := range searchSet {
			if !crosswalkSet[id] {
				res.mismatch = true
				break
			}
		}
	}

	if len(missing) == 0 {
		return
	}

	type lookupOutcome struct {
		record *registry.PackageRecord
		stale  bool
		err    error
	}
	outcomes := make([]lookupOutcome, len(missing))

	sem := make(chan struct{}, maxConcurrentResolves)
	var wg sync.WaitGroup
	for i, id := range missing {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			record, stale, err := e.packaging.PackageByID(ctx, id, true)
			outcomes[i] = lookupOutcome{record: record, stale: stale, err: err}
		}(i, id)
	}
	wg.Wait()

	var unresolved []string
	staleCount := 0
	for i, outcome := range outcomes {
		if outcome.err != nil || outcome.record == nil {
			unresolved = append(unresolved, missing[i])
			res.candidates = append(res.candidates, Unresolved(missing[i]))
			// A definitive not-found means the registries disagree on
			// whether this package exists. An error is unavailability,
			// not disagreement.
			if outcome.err == nil {
				res.mismatch = true
			}
			continue
		}
		res.candidates = append(res.candidates, Resolved(*outcome.record))
		if outcome.stale {
			staleCount++
		}
	}

	if staleCount > 0 {
		res.notes = append(res.notes, fmt.Sprintf(
			"%d crosswalked package record(s) were served from expired cache entries", staleCount))
	}
	if len(unresolved) > 0 {
		res.notes = append(res.notes, fmt.Sprintf(
			"unresolved package id(s): %s", strings.Join(unresolved, ", ")))
	}
}

// dominantDosageForm picks the most frequent dosage form among active
// records, first occurrence winning ties.
func dominantDosageForm(records []registry.PackageRecord) string {
	counts := make(map[string]int)
	first := make(map[string]string)
	var order []string

	for _, record := range records {
		if !record.IsActive {
			continue
		}
		form := strings.TrimSpace(record.DosageForm)
		if form == "" {
			continue
		}
		key := strings.ToLower(form)
		if counts[key] == 0 {
			first[key] = form
			order = append(order, key)
		}
		counts[key]++
	}

	var best string
	bestCount := 0
	for _, key := range order {
		if counts[key] > bestCount {
			best = first[key]
			bestCount = counts[key]
		}
	}
	return best
}

// firstActiveDescription returns the first non-empty package
// description among active records, for the insulin container cascade.
func firstActiveDescription(records []registry.PackageRecord) string {
	for _, record := range records {
		if record.IsActive && record.PackageDescription != "" {
			return record.PackageDescription
		}
	}
	return ""
}

// activePackSizes collects the pack sizes of active records, for the
// insulin vial-size heuristic.
func activePackSizes(records []registry.PackageRecord) []decimal.Decimal {
	var sizes []decimal.Decimal
	for _, record := range records {
		if record.IsActive {
			sizes = append(sizes, record.PackSize)
		}
	}
	return sizes
}
