package dosage

import "strings"

// Class selects the rounding behavior for a computed quantity.
type Class string

const (
	// ClassSolid rounds to whole countable pieces; it also covers
	// actuation and unit doses outside their special product forms.
	ClassSolid Class = "solid"
	// ClassLiquid rounds volumes up, then to multiples of five.
	ClassLiquid Class = "liquid"
	// ClassInhaler dispenses whole canisters.
	ClassInhaler Class = "inhaler"
	// ClassInsulin dispenses whole pens or vials.
	ClassInsulin Class = "insulin"
)

var inhalerFormMarkers = []string{"inhal", "aerosol", "nebul"}

var inhalerNameMarkers = []string{
	"inhaler", "hfa", "respimat", "diskus", "ellipta", "aerosphere",
}

var insulinFormMarkers = []string{"insulin", "injectable suspension", "injectable solution"}

var insulinNameMarkers = []string{
	"insulin", "lantus", "humalog", "novolog", "novolin", "humulin",
	"levemir", "tresiba", "toujeo", "basaglar", "lispro", "aspart",
	"glargine", "detemir", "degludec",
}

// Classify maps a dose unit plus product descriptors onto a rounding
// class. Actuation doses only count as inhalers when the product looks
// like one, and unit doses only as insulin when the product does;
// otherwise both fall back to plain count rounding.
func Classify(unit Unit, dosageForm, drugName string) Class {
	switch unit {
	case UnitTablet, UnitCapsule:
		return ClassSolid
	case UnitMilliliter:
		return ClassLiquid
	case UnitActuation:
		if IsInhaler(dosageForm, drugName) {
			return ClassInhaler
		}
		return ClassSolid
	case UnitUnit:
		if IsInsulin(dosageForm, drugName) {
			return ClassInsulin
		}
		return ClassSolid
	default:
		return ClassSolid
	}
}

// IsInhaler reports whether the dosage form or product name marks an
// inhaler product.
func IsInhaler(dosageForm, drugName string) bool {
	form := strings.ToLower(dosageForm)
	for _, marker := range inhalerFormMarkers {
		if strings.Contains(form, marker) {
			return true
		}
	}

	name := strings.ToLower(drugName)
	for _, marker := range inhalerNameMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// IsInsulin reports whether the dosage form or product name marks an
// insulin product.
func IsInsulin(dosageForm, drugName string) bool {
	form := strings.ToLower(dosageForm)
	for _, marker := range insulinFormMarkers {
		if strings.Contains(form, marker) {
			return true
		}
	}

	name := strings.ToLower(drugName)
	for _, marker := range insulinNameMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
