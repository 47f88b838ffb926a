package dosage

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultActuationsPerCanister is used when no product keyword matches.
const DefaultActuationsPerCanister = 200

// actuationTable maps product name keywords to actuations per canister.
// Ordered so more specific keywords win; lookup must stay deterministic.
var actuationTable = []struct {
	keyword    string
	actuations int
}{
	{"breo", 30},
	{"ellipta", 30},
	{"advair", 60},
	{"diskus", 60},
	{"respimat", 60},
	{"spiriva", 60},
	{"flovent", 120},
	{"qvar", 120},
	{"symbicort", 120},
	{"dulera", 120},
	{"combivent", 120},
	{"proair", 200},
	{"ventolin", 200},
	{"albuterol", 200},
	{"xopenex", 200},
}

// ActuationsPerCanister resolves the canister size for an inhaler
// product by name keyword, defaulting to DefaultActuationsPerCanister.
func ActuationsPerCanister(drugName string) int {
	name := strings.ToLower(drugName)
	for _, entry := range actuationTable {
		if strings.Contains(name, entry.keyword) {
			return entry.actuations
		}
	}
	return DefaultActuationsPerCanister
}

// Concentration is insulin strength in units per milliliter.
type Concentration int

const (
	U100 Concentration = 100
	U200 Concentration = 200
	U500 Concentration = 500
)

// concentrationMarkers are ordered highest first so "u-500" is not
// shadowed by a "100" appearing elsewhere in the name.
var concentrationMarkers = []struct {
	markers []string
	value   Concentration
}{
	{[]string{"u-500", "u500", "500 units/ml", "500 unit/ml"}, U500},
	{[]string{"u-200", "u200", "200 units/ml", "200 unit/ml"}, U200},
	{[]string{"u-100", "u100", "100 units/ml", "100 unit/ml"}, U100},
}

// ParseConcentration extracts the insulin concentration from a product
// name, defaulting to U100.
func ParseConcentration(drugName string) Concentration {
	name := strings.ToLower(drugName)
	for _, group := range concentrationMarkers {
		for _, marker := range group.markers {
			if strings.Contains(name, marker) {
				return group.value
			}
		}
	}
	return U100
}

// Decimal returns the concentration as a decimal for quantity math.
func (c Concentration) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c))
}

// Container is the physical insulin container granularity.
type Container string

const (
	ContainerPen  Container = "pen"
	ContainerVial Container = "vial"
)

// Volume returns the container volume in milliliters.
func (c Container) Volume() decimal.Decimal {
	if c == ContainerPen {
		return decimal.NewFromInt(3)
	}
	return decimal.NewFromInt(10)
}

var penMarkers = []string{"pen", "flexpen", "kwikpen", "solostar", "flextouch", "innolet"}

// vialSizeThreshold is the pack size (in units) at which a package is
// assumed to be a vial: 10 mL of U100 holds 1000 units.
var vialSizeThreshold = decimal.NewFromInt(1000)

// DetectInsulinContainer resolves pen vs vial through the cascade
// name keywords, then package description keywords, then the pack-size
// heuristic. Precedence is strict: an earlier signal decides even when a
// later one disagrees, but the disagreement is reported as a note so
// callers can surface the ambiguity instead of trusting it silently.
func DetectInsulinContainer(drugName, packageDescription string, packSizes []decimal.Decimal) (Container, []string) {
	nameSignal := containerFromText(drugName)
	descSignal := containerFromText(packageDescription)
	sizeSignal := containerFromSizes(packSizes)

	var chosen Container
	var source string
	switch {
	case nameSignal != "":
		chosen, source = nameSignal, "name"
	case descSignal != "":
		chosen, source = descSignal, "description"
	case sizeSignal != "":
		chosen, source = sizeSignal, "pack size"
	default:
		return ContainerVial, []string{"insulin container not identified, assuming vial"}
	}

	var notes []string
	for _, signal := range []struct {
		kind  string
		value Container
	}{
		{"description", descSignal},
		{"pack size", sizeSignal},
	} {
		if signal.value != "" && signal.value != chosen && signal.kind != source {
			notes = append(notes, fmt.Sprintf(
				"insulin container %s chosen by %s, but %s suggests %s",
				chosen, source, signal.kind, signal.value))
		}
	}

	return chosen, notes
}

// containerFromText extracts a pen or vial signal from free text.
func containerFromText(text string) Container {
	lowered := strings.ToLower(text)
	if lowered == "" {
		return ""
	}
	for _, marker := range penMarkers {
		if strings.Contains(lowered, marker) {
			return ContainerPen
		}
	}
	if strings.Contains(lowered, "vial") {
		return ContainerVial
	}
	return ""
}

// containerFromSizes applies the 1000-unit vial heuristic.
func containerFromSizes(packSizes []decimal.Decimal) Container {
	for _, size := range packSizes {
		if size.GreaterThanOrEqual(vialSizeThreshold) {
			return ContainerVial
		}
	}
	return ""
}
