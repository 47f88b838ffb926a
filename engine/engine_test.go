package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seligo/rxquant-api/dosage"
	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/interfaces"
	"github.com/seligo/rxquant-api/registry"
	"github.com/seligo/rxquant-api/sig"
	"github.com/seligo/rxquant-api/validation"
)

type fakeNaming struct {
	byID   func(ctx context.Context, id string) (*registry.Concept, bool, error)
	byName func(ctx context.Context, name string) (*registry.Concept, bool, error)
	approx func(ctx context.Context, term string) (*registry.Concept, bool, error)
	calls  atomic.Int32
}

func (f *fakeNaming) LookupByIdentifier(ctx context.Context, id string) (*registry.Concept, bool, error) {
	f.calls.Add(1)
	if f.byID == nil {
		return nil, false, nil
	}
	return f.byID(ctx, id)
}

func (f *fakeNaming) LookupByName(ctx context.Context, name string) (*registry.Concept, bool, error) {
	f.calls.Add(1)
	if f.byName == nil {
		return nil, false, nil
	}
	return f.byName(ctx, name)
}

func (f *fakeNaming) ApproximateMatch(ctx context.Context, term string) (*registry.Concept, bool, error) {
	f.calls.Add(1)
	if f.approx == nil {
		return nil, false, nil
	}
	return f.approx(ctx, term)
}

type fakePackaging struct {
	search      func(ctx context.Context, query string) ([]registry.PackageRecord, bool, error)
	byID        func(ctx context.Context, id string, allowStale bool) (*registry.PackageRecord, bool, error)
	searchCalls atomic.Int32
	byIDCalls   atomic.Int32
}

func (f *fakePackaging) SearchPackages(ctx context.Context, query string) ([]registry.PackageRecord, bool, error) {
	f.searchCalls.Add(1)
	if f.search == nil {
		return nil, false, nil
	}
	return f.search(ctx, query)
}

func (f *fakePackaging) PackageByID(ctx context.Context, id string, allowStale bool) (*registry.PackageRecord, bool, error) {
	f.byIDCalls.Add(1)
	if f.byID == nil {
		return nil, false, nil
	}
	return f.byID(ctx, id, allowStale)
}

// newTestEngine wires fakes for the registries but keeps the real
// validator and the real rules-only interpreter.
func newTestEngine(naming *fakeNaming, packaging *fakePackaging) *Engine {
	return New(validation.NewQueryValidator(), naming, packaging, sig.NewInterpreter(nil), Config{})
}

func tabletRecord(id string, size int64) registry.PackageRecord {
	return registry.PackageRecord{
		PackageID:  id,
		PackSize:   decimal.NewFromInt(size),
		IsActive:   true,
		DosageForm: "tablet",
	}
}

func hasNote(notes []string, substring string) bool {
	for _, note := range notes {
		if strings.Contains(note, substring) {
			return true
		}
	}
	return false
}

func TestComputeResolvesNameQueryEndToEnd(t *testing.T) {
	concept := &registry.Concept{
		ConceptID:   "C1028",
		DisplayName: "metformin hydrochloride",
		PackageIDs:  []string{"0071015523", "0071015530"},
	}
	naming := &fakeNaming{
		byName: func(_ context.Context, name string) (*registry.Concept, bool, error) {
			if name != "metformin" {
				t.Errorf("LookupByName called with %q, want metformin", name)
			}
			return concept, false, nil
		},
	}
	packaging := &fakePackaging{
		search: func(_ context.Context, query string) ([]registry.PackageRecord, bool, error) {
			return []registry.PackageRecord{tabletRecord("0071015523", 30)}, false, nil
		},
		byID: func(_ context.Context, id string, allowStale bool) (*registry.PackageRecord, bool, error) {
			if id != "0071015530" {
				t.Errorf("PackageByID called with %q, want 0071015530", id)
			}
			if !allowStale {
				t.Error("crosswalk lookups must allow stale cache entries")
			}
			record := tabletRecord("0071015530", 60)
			return &record, false, nil
		},
	}

	result, err := newTestEngine(naming, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "metformin",
		Sig:        "take 1 tablet twice daily",
		DaysSupply: 30,
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	if result.NormalizedDrug.CanonicalID == nil || *result.NormalizedDrug.CanonicalID != "C1028" {
		t.Errorf("canonical id = %v, want C1028", result.NormalizedDrug.CanonicalID)
	}
	if result.NormalizedDrug.DisplayName == nil || *result.NormalizedDrug.DisplayName != "metformin hydrochloride" {
		t.Errorf("display name = %v, want metformin hydrochloride", result.NormalizedDrug.DisplayName)
	}
	if result.Interpretation.Source != sig.SourceFrequency {
		t.Errorf("interpretation source = %s, want %s", result.Interpretation.Source, sig.SourceFrequency)
	}
	if !result.Computed.Total.Equal(decimal.NewFromInt(60)) {
		t.Errorf("total = %s, want 60", result.Computed.Total)
	}

	// The crosswalked 60-pack fits in one pack and wins; the searched
	// 30-pack doubles up as the alternate.
	if result.Selection.Chosen == nil {
		t.Fatal("expected a chosen pack option")
	}
	if result.Selection.Chosen.PackageID != "0071015530" || result.Selection.Chosen.Packs != 1 {
		t.Errorf("chosen = %s x%d, want 0071015530 x1",
			result.Selection.Chosen.PackageID, result.Selection.Chosen.Packs)
	}
	if len(result.Selection.Alternates) != 1 || result.Selection.Alternates[0].PackageID != "0071015523" {
		t.Errorf("alternates = %+v, want the 30-pack", result.Selection.Alternates)
	}

	if result.Flags.Mismatch {
		t.Error("mismatch flag raised for agreeing registries")
	}
	if len(result.Flags.Notes) != 0 {
		t.Errorf("notes = %v, want none", result.Flags.Notes)
	}
}

func TestComputeDirectPackagingKeySkipsNaming(t *testing.T) {
	naming := &fakeNaming{}
	packaging := &fakePackaging{
		byID: func(_ context.Context, id string, allowStale bool) (*registry.PackageRecord, bool, error) {
			if id != "0071-0155-23" {
				t.Errorf("PackageByID called with %q", id)
			}
			if allowStale {
				t.Error("the direct lookup must not accept stale entries up front")
			}
			record := tabletRecord("0071015523", 60)
			return &record, false, nil
		},
	}

	result, err := newTestEngine(naming, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "0071-0155-23",
		Sig:        "take 2 tablets daily",
		DaysSupply: 30,
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	if calls := naming.calls.Load(); calls != 0 {
		t.Errorf("naming registry was called %d times for a packaging key", calls)
	}
	if calls := packaging.searchCalls.Load(); calls != 0 {
		t.Errorf("packaging search was called %d times for a direct lookup", calls)
	}
	if result.NormalizedDrug.CanonicalID != nil {
		t.Errorf("canonical id = %v, want nil without a naming lookup", result.NormalizedDrug.CanonicalID)
	}
	if result.Selection.Chosen == nil || result.Selection.Chosen.PackageID != "0071015523" {
		t.Errorf("chosen = %+v, want the direct package", result.Selection.Chosen)
	}
}

func TestComputeDirectKeyNotFound(t *testing.T) {
	packaging := &fakePackaging{
		byID: func(_ context.Context, _ string, _ bool) (*registry.PackageRecord, bool, error) {
			return nil, false, nil
		},
	}

	result, err := newTestEngine(&fakeNaming{}, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "9999999999999",
		Sig:        "take 1 tablet daily",
		DaysSupply: 30,
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if result.Selection.Chosen != nil {
		t.Errorf("chosen = %+v, want nil without packaging records", result.Selection.Chosen)
	}
	if !hasNote(result.Flags.Notes, "not known to the packaging registry") {
		t.Errorf("notes = %v, want a not-found note", result.Flags.Notes)
	}
}

func TestComputeBothRegistriesDown(t *testing.T) {
	naming := &fakeNaming{
		byName: func(_ context.Context, _ string) (*registry.Concept, bool, error) {
			return nil, false, apperrors.Dependency("naming registry unavailable", nil, 5*time.Second)
		},
	}
	packaging := &fakePackaging{
		search: func(_ context.Context, _ string) ([]registry.PackageRecord, bool, error) {
			return nil, false, apperrors.Dependency("packaging registry unavailable", nil, 2*time.Second)
		},
	}

	result, err := newTestEngine(naming, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "metformin",
		Sig:        "take 1 tablet daily",
		DaysSupply: 30,
	})
	if err == nil {
		t.Fatalf("expected an error, got %+v", result)
	}
	if kind := apperrors.KindOf(err); kind != apperrors.KindDependency {
		t.Errorf("error kind = %s, want %s", kind, apperrors.KindDependency)
	}
	after, ok := apperrors.RetryAfterOf(err)
	if !ok || after != 5*time.Second {
		t.Errorf("retry hint = %v (%v), want the larger branch hint 5s", after, ok)
	}
}

func TestComputeNamingDownProceedsWithPackaging(t *testing.T) {
	naming := &fakeNaming{
		byName: func(_ context.Context, _ string) (*registry.Concept, bool, error) {
			return nil, false, apperrors.Dependency("naming registry unavailable", nil, time.Second)
		},
	}
	packaging := &fakePackaging{
		search: func(_ context.Context, _ string) ([]registry.PackageRecord, bool, error) {
			return []registry.PackageRecord{tabletRecord("1000000001", 30)}, false, nil
		},
	}

	result, err := newTestEngine(naming, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "metformin",
		Sig:        "take 1 tablet daily",
		DaysSupply: 30,
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if result.NormalizedDrug.CanonicalID != nil || result.NormalizedDrug.DisplayName != nil {
		t.Errorf("normalized drug = %+v, want empty without the naming branch", result.NormalizedDrug)
	}
	if !hasNote(result.Flags.Notes, "naming registry unavailable") {
		t.Errorf("notes = %v, want a naming degradation note", result.Flags.Notes)
	}
	if result.Selection.Chosen == nil || result.Selection.Chosen.PackageID != "1000000001" {
		t.Errorf("chosen = %+v, want the packaging record", result.Selection.Chosen)
	}
	if result.Flags.Mismatch {
		t.Error("mismatch flag raised with only one registry answering")
	}
}

func TestComputePackagingSearchDownFallsBackToCrosswalk(t *testing.T) {
	concept := &registry.Concept{
		ConceptID:   "C2201",
		DisplayName: "lisinopril",
		PackageIDs:  []string{"1000000001", "1000000002"},
	}
	naming := &fakeNaming{
		byName: func(_ context.Context, _ string) (*registry.Concept, bool, error) {
			return concept, false, nil
		},
	}
	packaging := &fakePackaging{
		search: func(_ context.Context, _ string) ([]registry.PackageRecord, bool, error) {
			return nil, false, apperrors.Dependency("packaging registry unavailable", nil, time.Second)
		},
		byID: func(_ context.Context, id string, _ bool) (*registry.PackageRecord, bool, error) {
			if id == "1000000001" {
				record := tabletRecord("1000000001", 30)
				return &record, true, nil
			}
			return nil, false, apperrors.Dependency("packaging registry unavailable", nil, time.Second)
		},
	}

	result, err := newTestEngine(naming, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "lisinopril",
		Sig:        "take 1 tablet daily",
		DaysSupply: 30,
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	if !hasNote(result.Flags.Notes, "packaging search unavailable") {
		t.Errorf("notes = %v, want a packaging degradation note", result.Flags.Notes)
	}
	if !hasNote(result.Flags.Notes, "expired cache") {
		t.Errorf("notes = %v, want a stale crosswalk note", result.Flags.Notes)
	}
	if !hasNote(result.Flags.Notes, "unresolved package id(s): 1000000002") {
		t.Errorf("notes = %v, want an unresolved id note", result.Flags.Notes)
	}
	if result.Flags.Mismatch {
		t.Error("mismatch flag raised while the packaging registry was unavailable")
	}
	if result.Selection.Chosen == nil || result.Selection.Chosen.PackageID != "1000000001" {
		t.Errorf("chosen = %+v, want the stale crosswalk record", result.Selection.Chosen)
	}
}

func TestComputeMismatchOnDefinitiveNotFound(t *testing.T) {
	concept := &registry.Concept{
		ConceptID:   "C2201",
		DisplayName: "lisinopril",
		PackageIDs:  []string{"1000000001", "1000000002"},
	}
	naming := &fakeNaming{
		byName: func(_ context.Context, _ string) (*registry.Concept, bool, error) {
			return concept, false, nil
		},
	}
	packaging := &fakePackaging{
		search: func(_ context.Context, _ string) ([]registry.PackageRecord, bool, error) {
			return []registry.PackageRecord{tabletRecord("1000000001", 30)}, false, nil
		},
		byID: func(_ context.Context, _ string, _ bool) (*registry.PackageRecord, bool, error) {
			return nil, false, nil
		},
	}

	result, err := newTestEngine(naming, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "lisinopril",
		Sig:        "take 1 tablet daily",
		DaysSupply: 30,
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if !result.Flags.Mismatch {
		t.Error("mismatch flag not raised for a package only the naming registry knows")
	}
	if !hasNote(result.Flags.Notes, "unresolved package id(s): 1000000002") {
		t.Errorf("notes = %v, want an unresolved id note", result.Flags.Notes)
	}
}

func TestComputeMismatchOnExtraSearchRecord(t *testing.T) {
	concept := &registry.Concept{
		ConceptID:   "C2201",
		DisplayName: "lisinopril",
		PackageIDs:  []string{"1000000001"},
	}
	naming := &fakeNaming{
		byName: func(_ context.Context, _ string) (*registry.Concept, bool, error) {
			return concept, false, nil
		},
	}
	packaging := &fakePackaging{
		search: func(_ context.Context, _ string) ([]registry.PackageRecord, bool, error) {
			return []registry.PackageRecord{
				tabletRecord("1000000001", 30),
				tabletRecord("2000000002", 90),
			}, false, nil
		},
	}

	result, err := newTestEngine(naming, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "lisinopril",
		Sig:        "take 1 tablet daily",
		DaysSupply: 30,
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if !result.Flags.Mismatch {
		t.Error("mismatch flag not raised for a package the naming crosswalk omits")
	}
	if calls := packaging.byIDCalls.Load(); calls != 0 {
		t.Errorf("crosswalk lookups = %d, want none when search covers the crosswalk", calls)
	}
}

func TestComputeValidationStopsBeforeRegistries(t *testing.T) {
	packaging := &fakePackaging{}
	_, err := newTestEngine(&fakeNaming{}, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "metformin",
		Sig:        "take 1 tablet daily",
		DaysSupply: 0,
	})
	if kind := apperrors.KindOf(err); kind != apperrors.KindValidation {
		t.Fatalf("error kind = %s, want %s", kind, apperrors.KindValidation)
	}
	if calls := packaging.searchCalls.Load(); calls != 0 {
		t.Errorf("packaging search was called %d times for an invalid query", calls)
	}
}

func TestComputeUninterpretableSigIsParseError(t *testing.T) {
	packaging := &fakePackaging{
		search: func(_ context.Context, _ string) ([]registry.PackageRecord, bool, error) {
			return []registry.PackageRecord{tabletRecord("1000000001", 30)}, false, nil
		},
	}

	_, err := newTestEngine(&fakeNaming{}, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "metformin",
		Sig:        "apply as directed",
		DaysSupply: 30,
	})
	if kind := apperrors.KindOf(err); kind != apperrors.KindParse {
		t.Fatalf("error kind = %s, want %s", kind, apperrors.KindParse)
	}
}

func TestComputeUnitOverrideDrivesLiquidRounding(t *testing.T) {
	packaging := &fakePackaging{
		search: func(_ context.Context, _ string) ([]registry.PackageRecord, bool, error) {
			record := registry.PackageRecord{
				PackageID:  "1000000001",
				PackSize:   decimal.NewFromInt(60),
				IsActive:   true,
				DosageForm: "oral solution",
			}
			return []registry.PackageRecord{record}, false, nil
		},
	}

	result, err := newTestEngine(&fakeNaming{}, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier:   "cough syrup",
		Sig:          "take 2 daily",
		DaysSupply:   30,
		UnitOverride: "milliliter",
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if result.Interpretation.Dose.Unit != dosage.UnitMilliliter {
		t.Errorf("dose unit = %s, want %s", result.Interpretation.Dose.Unit, dosage.UnitMilliliter)
	}
	if result.Computed.Class != dosage.ClassLiquid {
		t.Errorf("class = %s, want %s", result.Computed.Class, dosage.ClassLiquid)
	}
	if !result.Computed.Total.Equal(decimal.NewFromInt(60)) {
		t.Errorf("total = %s, want 60", result.Computed.Total)
	}
	if result.Selection.Chosen == nil || result.Selection.Chosen.Packs != 1 {
		t.Errorf("chosen = %+v, want the 60 mL bottle", result.Selection.Chosen)
	}
}

func TestComputeInsulinPipelineWithoutViablePack(t *testing.T) {
	concept := &registry.Concept{
		ConceptID:   "C7710",
		DisplayName: "insulin glargine",
		PackageIDs:  []string{"3000000001"},
	}
	naming := &fakeNaming{
		byName: func(_ context.Context, _ string) (*registry.Concept, bool, error) {
			return concept, false, nil
		},
	}
	packaging := &fakePackaging{
		search: func(_ context.Context, _ string) ([]registry.PackageRecord, bool, error) {
			record := registry.PackageRecord{
				PackageID:          "3000000001",
				PackSize:           decimal.NewFromInt(1500),
				IsActive:           true,
				DosageForm:         "injectable solution",
				BrandName:          "Lantus SoloStar",
				PackageDescription: "5 x 3 mL SoloStar pen",
			}
			return []registry.PackageRecord{record}, false, nil
		},
	}

	result, err := newTestEngine(naming, packaging).Compute(context.Background(), &interfaces.DrugQuery{
		Identifier: "Lantus SoloStar",
		Sig:        "20 units at bedtime",
		DaysSupply: 30,
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	if result.Interpretation.Source != sig.SourceTimeOfDay {
		t.Errorf("interpretation source = %s, want %s", result.Interpretation.Source, sig.SourceTimeOfDay)
	}
	if result.Computed.Class != dosage.ClassInsulin {
		t.Errorf("class = %s, want %s", result.Computed.Class, dosage.ClassInsulin)
	}
	if result.Computed.Container != dosage.ContainerPen {
		t.Errorf("container = %s, want %s", result.Computed.Container, dosage.ContainerPen)
	}
	if result.Computed.Containers != 2 {
		t.Errorf("containers = %d, want 2", result.Computed.Containers)
	}
	if !result.Computed.Total.Equal(decimal.NewFromInt(600)) {
		t.Errorf("total = %s, want 600", result.Computed.Total)
	}

	// 1500 units per pack against a 600-unit quantity is past the
	// overfill allowance; no option is a legal outcome.
	if result.Selection.Chosen != nil {
		t.Errorf("chosen = %+v, want nil", result.Selection.Chosen)
	}
}

func TestDominantDosageForm(t *testing.T) {
	testCases := []struct {
		name    string
		records []registry.PackageRecord
		want    string
	}{
		{
			name: "majority wins",
			records: []registry.PackageRecord{
				{IsActive: true, DosageForm: "tablet"},
				{IsActive: true, DosageForm: "capsule"},
				{IsActive: true, DosageForm: "tablet"},
			},
			want: "tablet",
		},
		{
			name: "ties keep the first form seen",
			records: []registry.PackageRecord{
				{IsActive: true, DosageForm: "capsule"},
				{IsActive: true, DosageForm: "tablet"},
			},
			want: "capsule",
		},
		{
			name: "inactive records do not vote",
			records: []registry.PackageRecord{
				{IsActive: false, DosageForm: "tablet"},
				{IsActive: false, DosageForm: "tablet"},
				{IsActive: true, DosageForm: "capsule"},
			},
			want: "capsule",
		},
		{
			name: "case folds while counting",
			records: []registry.PackageRecord{
				{IsActive: true, DosageForm: "Tablet"},
				{IsActive: true, DosageForm: "tablet"},
				{IsActive: true, DosageForm: "capsule"},
			},
			want: "Tablet",
		},
		{
			name:    "no active records",
			records: []registry.PackageRecord{{IsActive: false, DosageForm: "tablet"}},
			want:    "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := dominantDosageForm(tc.records); got != tc.want {
				t.Errorf("dominantDosageForm = %q, want %q", got, tc.want)
			}
		})
	}
}
