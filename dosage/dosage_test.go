package dosage

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseUnit(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected Unit
		ok       bool
	}{
		{"Tablet", "tablet", UnitTablet, true},
		{"Capsule uppercase", "CAPSULE", UnitCapsule, true},
		{"Milliliter padded", " milliliter ", UnitMilliliter, true},
		{"Actuation", "actuation", UnitActuation, true},
		{"Unit", "unit", UnitUnit, true},
		{"Synonym is not canonical", "tab", "", false},
		{"Empty", "", "", false},
		{"Garbage", "bottle", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			unit, ok := ParseUnit(tc.input)
			if ok != tc.ok {
				t.Fatalf("Expected ok=%v for %q, got %v", tc.ok, tc.input, ok)
			}
			if ok && unit != tc.expected {
				t.Errorf("Expected unit %s, got %s", tc.expected, unit)
			}
		})
	}
}

func TestNormalizeToken(t *testing.T) {
	testCases := []struct {
		name   string
		token  string
		unit   Unit
		factor string
		ok     bool
	}{
		{"Tablet synonym", "tabs", UnitTablet, "1", true},
		{"Capsule synonym", "cap", UnitCapsule, "1", true},
		{"Milliliter", "mL", UnitMilliliter, "1", true},
		{"CC", "cc", UnitMilliliter, "1", true},
		{"Puff", "puffs", UnitActuation, "1", true},
		{"Insulin units", "units", UnitUnit, "1", true},
		{"IU", "IU", UnitUnit, "1", true},
		{"Teaspoon converts", "tsp", UnitMilliliter, "5", true},
		{"Tablespoon converts", "tablespoon", UnitMilliliter, "15", true},
		{"Ounce converts", "oz", UnitMilliliter, "30", true},
		{"Trailing period", "tsp.", UnitMilliliter, "5", true},
		{"Unknown token", "bottle", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			unit, factor, ok := NormalizeToken(tc.token)
			if ok != tc.ok {
				t.Fatalf("Expected ok=%v for %q, got %v", tc.ok, tc.token, ok)
			}
			if !ok {
				return
			}
			if unit != tc.unit {
				t.Errorf("Expected unit %s, got %s", tc.unit, unit)
			}
			if !factor.Equal(decimal.RequireFromString(tc.factor)) {
				t.Errorf("Expected factor %s, got %s", tc.factor, factor)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name       string
		unit       Unit
		dosageForm string
		drugName   string
		expected   Class
	}{
		{"Tablet", UnitTablet, "tablet", "Metformin 500mg", ClassSolid},
		{"Capsule", UnitCapsule, "capsule", "Amoxicillin 250mg", ClassSolid},
		{"Liquid", UnitMilliliter, "oral solution", "Amoxicillin suspension", ClassLiquid},
		{"Inhaler by form", UnitActuation, "inhalation aerosol", "Generic bronchodilator", ClassInhaler},
		{"Inhaler by name", UnitActuation, "", "ProAir HFA", ClassInhaler},
		{"Generic actuation", UnitActuation, "nasal spray", "Fluticasone", ClassSolid},
		{"Insulin by form", UnitUnit, "insulin injection", "Generic basal", ClassInsulin},
		{"Insulin by name", UnitUnit, "", "Lantus SoloStar U-100", ClassInsulin},
		{"Generic unit", UnitUnit, "injection", "Heparin", ClassSolid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.unit, tc.dosageForm, tc.drugName); got != tc.expected {
				t.Errorf("Expected class %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestActuationsPerCanister(t *testing.T) {
	testCases := []struct {
		name     string
		drugName string
		expected int
	}{
		{"Ventolin", "Ventolin HFA 90mcg", 200},
		{"ProAir", "ProAir HFA", 200},
		{"Flovent", "Flovent HFA 110mcg", 120},
		{"Symbicort", "SYMBICORT 160/4.5", 120},
		{"Advair Diskus", "Advair Diskus 250/50", 60},
		{"Respimat", "Spiriva Respimat", 60},
		{"Breo", "Breo Ellipta", 30},
		{"Unknown product", "Mystery Mist", DefaultActuationsPerCanister},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ActuationsPerCanister(tc.drugName); got != tc.expected {
				t.Errorf("Expected %d actuations for %q, got %d", tc.expected, tc.drugName, got)
			}
		})
	}
}

func TestParseConcentration(t *testing.T) {
	testCases := []struct {
		name     string
		drugName string
		expected Concentration
	}{
		{"U-500 hyphenated", "Humulin R U-500", U500},
		{"U500 compact", "Humulin R U500 KwikPen", U500},
		{"U-200", "Tresiba U-200 FlexTouch", U200},
		{"U-100 explicit", "Lantus U-100", U100},
		{"Units per ml", "Insulin glargine 300 units/ml", U100}, // no 300 tier, default
		{"No marker", "Novolog FlexPen", U100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseConcentration(tc.drugName); got != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, got)
			}
		})
	}
}

func TestContainerVolume(t *testing.T) {
	if !ContainerPen.Volume().Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected pen volume 3 mL, got %s", ContainerPen.Volume())
	}
	if !ContainerVial.Volume().Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected vial volume 10 mL, got %s", ContainerVial.Volume())
	}
}

func TestDetectInsulinContainer(t *testing.T) {
	sizes := func(values ...int64) []decimal.Decimal {
		var out []decimal.Decimal
		for _, v := range values {
			out = append(out, decimal.NewFromInt(v))
		}
		return out
	}

	testCases := []struct {
		name        string
		drugName    string
		description string
		packSizes   []decimal.Decimal
		expected    Container
		wantNote    bool
	}{
		{"Pen by name", "Lantus SoloStar", "", nil, ContainerPen, false},
		{"Vial by name", "Humulin R vial", "", nil, ContainerVial, false},
		{"Pen by description", "Insulin glargine", "5 prefilled pens of 3 mL", nil, ContainerPen, false},
		{"Vial by size heuristic", "Insulin aspart", "", sizes(1000), ContainerVial, false},
		{"Small size decides nothing, default vial", "Insulin aspart", "", sizes(300), ContainerVial, true},
		{"No signals defaults to vial", "Insulin NPH", "", nil, ContainerVial, true},
		{"Name wins over conflicting size", "Basaglar KwikPen", "", sizes(1000), ContainerPen, true},
		{"Name wins over conflicting description", "Novolog FlexPen", "10 mL multidose vial", nil, ContainerPen, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			container, notes := DetectInsulinContainer(tc.drugName, tc.description, tc.packSizes)
			if container != tc.expected {
				t.Errorf("Expected container %s, got %s", tc.expected, container)
			}
			if tc.wantNote && len(notes) == 0 {
				t.Error("Expected an ambiguity note")
			}
			if !tc.wantNote && len(notes) > 0 {
				t.Errorf("Expected no notes, got %v", notes)
			}
		})
	}
}

func TestDetectInsulinContainerConflictNoteNamesSignals(t *testing.T) {
	container, notes := DetectInsulinContainer("Basaglar KwikPen", "", []decimal.Decimal{decimal.NewFromInt(1000)})

	if container != ContainerPen {
		t.Fatalf("Expected pen, got %s", container)
	}
	if len(notes) != 1 {
		t.Fatalf("Expected exactly one note, got %v", notes)
	}
	if !strings.Contains(notes[0], "pack size suggests vial") {
		t.Errorf("Expected note to mention the conflicting pack-size signal, got %q", notes[0])
	}
}
