// Package sig interprets free-text dosing directions (SIGs) into a
// structured daily dose. Two deterministic stages run first: a
// time-of-day detector that sums enumerated administrations, then a
// quantity-times-frequency parser. When both fail, an optional
// text-understanding fallback service is consulted. Callers that cannot
// get an interpretation receive a parse error; the package never
// guesses.
package sig

import (
	"github.com/shopspring/decimal"

	"github.com/seligo/rxquant-api/dosage"
)

// Source identifies which stage produced an interpretation.
type Source string

const (
	SourceTimeOfDay Source = "time_of_day"
	SourceFrequency Source = "frequency"
	SourceFallback  Source = "fallback"
)

// Dose is the structured result of interpreting a SIG: what unit is
// taken and how many of it per day.
type Dose struct {
	Unit   dosage.Unit     `json:"unit"`
	PerDay decimal.Decimal `json:"perDay"`
}

// Interpretation carries a dose together with how it was derived.
// Confidence is 1 for the deterministic stages and model-reported for
// the fallback.
type Interpretation struct {
	Dose       Dose            `json:"dose"`
	Source     Source          `json:"source"`
	Confidence decimal.Decimal `json:"confidence"`
	Notes      []string        `json:"notes,omitempty"`
}

// maxPerDay bounds any interpreted daily dose.
var maxPerDay = decimal.NewFromInt(100)

// validPerDay reports whether a daily dose is inside (0, 100].
func validPerDay(perDay decimal.Decimal) bool {
	return perDay.IsPositive() && perDay.LessThanOrEqual(maxPerDay)
}
