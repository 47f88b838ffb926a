// Package dosage holds the static unit and dosage-form knowledge the
// engine rounds with: canonical dose units with synonym normalization,
// liquid sub-unit conversions, a dosage-form classifier, and the inhaler
// and insulin product tables.
package dosage

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Unit is a canonical dose unit.
type Unit string

const (
	UnitTablet     Unit = "tablet"
	UnitCapsule    Unit = "capsule"
	UnitMilliliter Unit = "milliliter"
	UnitActuation  Unit = "actuation"
	UnitUnit       Unit = "unit"
)

// CanonicalUnits lists every unit the engine computes with.
var CanonicalUnits = []Unit{UnitTablet, UnitCapsule, UnitMilliliter, UnitActuation, UnitUnit}

// unitSynonyms maps lowercased dose tokens to their canonical unit.
var unitSynonyms = map[string]Unit{
	"tablet":  UnitTablet,
	"tablets": UnitTablet,
	"tab":     UnitTablet,
	"tabs":    UnitTablet,

	"capsule":  UnitCapsule,
	"capsules": UnitCapsule,
	"cap":      UnitCapsule,
	"caps":     UnitCapsule,

	"milliliter":  UnitMilliliter,
	"milliliters": UnitMilliliter,
	"millilitre":  UnitMilliliter,
	"millilitres": UnitMilliliter,
	"ml":          UnitMilliliter,
	"mls":         UnitMilliliter,
	"cc":          UnitMilliliter,

	"actuation":   UnitActuation,
	"actuations":  UnitActuation,
	"puff":        UnitActuation,
	"puffs":       UnitActuation,
	"inhalation":  UnitActuation,
	"inhalations": UnitActuation,
	"spray":       UnitActuation,
	"sprays":      UnitActuation,

	"unit":  UnitUnit,
	"units": UnitUnit,
	"iu":    UnitUnit,
	"u":     UnitUnit,
}

// liquidFactors maps non-canonical liquid tokens to their volume in
// milliliters. The quantity, not the unit, absorbs the factor.
var liquidFactors = map[string]decimal.Decimal{
	"teaspoon":    decimal.NewFromInt(5),
	"teaspoons":   decimal.NewFromInt(5),
	"tsp":         decimal.NewFromInt(5),
	"tablespoon":  decimal.NewFromInt(15),
	"tablespoons": decimal.NewFromInt(15),
	"tbsp":        decimal.NewFromInt(15),
	"ounce":       decimal.NewFromInt(30),
	"ounces":      decimal.NewFromInt(30),
	"oz":          decimal.NewFromInt(30),
}

// ParseUnit resolves a canonical unit name, as supplied by callers in a
// unit override.
func ParseUnit(s string) (Unit, bool) {
	switch Unit(strings.ToLower(strings.TrimSpace(s))) {
	case UnitTablet:
		return UnitTablet, true
	case UnitCapsule:
		return UnitCapsule, true
	case UnitMilliliter:
		return UnitMilliliter, true
	case UnitActuation:
		return UnitActuation, true
	case UnitUnit:
		return UnitUnit, true
	}
	return "", false
}

// NormalizeToken resolves a free-text dose token to its canonical unit
// and the factor the dose quantity must be multiplied by. Canonical and
// synonym tokens carry factor 1; liquid sub-units (teaspoon, tablespoon,
// ounce) convert to milliliters.
func NormalizeToken(token string) (Unit, decimal.Decimal, bool) {
	normalized := strings.ToLower(strings.TrimSpace(token))
	normalized = strings.TrimSuffix(normalized, ".")

	if unit, ok := unitSynonyms[normalized]; ok {
		return unit, decimal.NewFromInt(1), true
	}
	if factor, ok := liquidFactors[normalized]; ok {
		return UnitMilliliter, factor, true
	}
	return "", decimal.Decimal{}, false
}
