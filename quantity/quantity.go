// Package quantity turns an interpreted daily dose into the total
// quantity to dispense for a days-supply period.
//
// The raw product perDay * daysSupply is never dispensed as-is: each
// rounding class adjusts it to what can physically leave the pharmacy
// (whole tablets, graduated volumes, full canisters, full pens or
// vials). Rounding only ever rounds up or to the nearest whole piece,
// so the patient is never short before the supply period ends.
package quantity

import (
	"github.com/shopspring/decimal"

	"github.com/seligo/rxquant-api/dosage"
	apperrors "github.com/seligo/rxquant-api/errors"
)

const (
	// MinDaysSupply and MaxDaysSupply bound the supply period in days.
	MinDaysSupply = 1
	MaxDaysSupply = 365
)

var (
	// maxPerDay caps the daily dose in canonical units.
	maxPerDay = decimal.NewFromInt(100)
	// maxRawTotal caps the raw perDay * daysSupply product before any
	// rounding. Rounding up to a full container may exceed it.
	maxRawTotal = decimal.NewFromInt(10000)

	five = decimal.NewFromInt(5)
)

// Input carries the interpreted dose plus the product descriptors the
// rounding classes key on.
type Input struct {
	Unit       dosage.Unit
	PerDay     decimal.Decimal
	DaysSupply int

	// DrugName and DosageForm select the rounding class and the
	// inhaler and insulin product tables.
	DrugName   string
	DosageForm string

	// PackageDescription and PackSizes feed the insulin container
	// cascade; both may be empty.
	PackageDescription string
	PackSizes          []decimal.Decimal
}

// Result is the computed dispensable quantity with the rounding
// metadata that explains how Total was reached.
type Result struct {
	Unit       dosage.Unit     `json:"unit"`
	PerDay     decimal.Decimal `json:"perDay"`
	DaysSupply int             `json:"daysSupply"`
	Class      dosage.Class    `json:"class"`

	// RawTotal is perDay * daysSupply before rounding; Total is the
	// dispensable quantity in the same unit as Unit.
	RawTotal decimal.Decimal `json:"rawTotal"`
	Total    decimal.Decimal `json:"totalQuantity"`

	// Canisters and ActuationsPerCanister are set for inhalers only.
	Canisters             int `json:"canisters,omitempty"`
	ActuationsPerCanister int `json:"actuationsPerCanister,omitempty"`

	// Containers, Container and Concentration are set for insulin only.
	Containers    int                  `json:"containers,omitempty"`
	Container     dosage.Container     `json:"container,omitempty"`
	Concentration dosage.Concentration `json:"concentration,omitempty"`

	Notes []string `json:"notes,omitempty"`
}

// Compute validates the input and produces the dispensable quantity.
// Out-of-range input is rejected outright rather than clamped.
func Compute(in Input) (*Result, error) {
	if parsed, ok := dosage.ParseUnit(string(in.Unit)); !ok || parsed != in.Unit {
		return nil, apperrors.Validationf("unknown dose unit %q", in.Unit)
	}
	if in.DaysSupply < MinDaysSupply || in.DaysSupply > MaxDaysSupply {
		return nil, apperrors.Validationf(
			"days supply must be between %d and %d, got %d",
			MinDaysSupply, MaxDaysSupply, in.DaysSupply)
	}
	if !in.PerDay.IsPositive() {
		return nil, apperrors.Validationf("daily dose must be positive, got %s", in.PerDay)
	}
	if in.PerDay.GreaterThan(maxPerDay) {
		return nil, apperrors.Validationf(
			"daily dose %s exceeds the supported maximum of %s", in.PerDay, maxPerDay)
	}

	raw := in.PerDay.Mul(decimal.NewFromInt(int64(in.DaysSupply)))
	if raw.GreaterThan(maxRawTotal) {
		return nil, apperrors.Validationf(
			"total quantity %s exceeds the dispense limit of %s", raw, maxRawTotal)
	}

	result := &Result{
		Unit:       in.Unit,
		PerDay:     in.PerDay,
		DaysSupply: in.DaysSupply,
		Class:      dosage.Classify(in.Unit, in.DosageForm, in.DrugName),
		RawTotal:   raw,
	}

	switch result.Class {
	case dosage.ClassLiquid:
		result.Total = roundVolume(raw)
	case dosage.ClassInhaler:
		computeInhaler(result, in.DrugName)
	case dosage.ClassInsulin:
		computeInsulin(result, in)
	default:
		// Half-up to a whole piece. Sub-half doses like a quarter
		// tablet per day for one day still dispense one whole piece.
		rounded := raw.Round(0)
		if rounded.IsZero() {
			rounded = decimal.NewFromInt(1)
			result.Notes = append(result.Notes,
				"rounded up to one whole "+string(in.Unit))
		}
		result.Total = rounded
	}

	return result, nil
}

// roundVolume rounds a volume up to the next whole milliliter, then,
// for volumes of five milliliters and above, up to the next multiple
// of five. Values already on a multiple of five pass through unchanged,
// so applying the rounding twice is a no-op.
func roundVolume(raw decimal.Decimal) decimal.Decimal {
	whole := raw.Ceil()
	if whole.LessThan(five) {
		return whole
	}
	return whole.Div(five).Ceil().Mul(five)
}

// computeInhaler dispenses whole canisters sized by the product table.
func computeInhaler(result *Result, drugName string) {
	perCanister := dosage.ActuationsPerCanister(drugName)
	size := decimal.NewFromInt(int64(perCanister))

	canisters := int(result.RawTotal.Div(size).Ceil().IntPart())
	result.Canisters = canisters
	result.ActuationsPerCanister = perCanister
	result.Total = size.Mul(decimal.NewFromInt(int64(canisters)))
}

// computeInsulin converts units to volume at the product concentration,
// dispenses whole pens or vials, and converts back to units.
func computeInsulin(result *Result, in Input) {
	concentration := dosage.ParseConcentration(in.DrugName)
	container, notes := dosage.DetectInsulinContainer(
		in.DrugName, in.PackageDescription, in.PackSizes)

	volume := result.RawTotal.Div(concentration.Decimal())
	containerVolume := container.Volume()
	containers := int(volume.Div(containerVolume).Ceil().IntPart())

	result.Containers = containers
	result.Container = container
	result.Concentration = concentration
	result.Notes = append(result.Notes, notes...)
	result.Total = containerVolume.
		Mul(decimal.NewFromInt(int64(containers))).
		Mul(concentration.Decimal())
}
