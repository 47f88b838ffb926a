package sig

import (
	"context"
	"fmt"
	"strings"

	"github.com/seligo/rxquant-api/dosage"
	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/metrics"
)

// Interpreter runs the interpretation pipeline. Whether the fallback
// stage exists is decided at construction; there is no ambient toggle.
type Interpreter struct {
	fallback *FallbackClient
}

// NewInterpreter creates an interpreter. A nil fallback disables the
// third stage: SIGs the deterministic rules cannot read become parse
// errors.
func NewInterpreter(fallback *FallbackClient) *Interpreter {
	return &Interpreter{fallback: fallback}
}

// Interpret derives the daily dose from a SIG text. A non-empty override
// replaces the derived unit in every path and never changes perDay.
func (in *Interpreter) Interpret(ctx context.Context, text string, override dosage.Unit) (*Interpretation, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, apperrors.Parse("sig text is empty")
	}

	a := analyze(trimmed)

	if interp := a.timeBased(); interp != nil {
		applyOverride(interp, override)
		metrics.SIGInterpretations.WithLabelValues(string(SourceTimeOfDay)).Inc()
		return interp, nil
	}

	interp, reason := a.frequencyBased(override != "")
	if interp != nil {
		applyOverride(interp, override)
		metrics.SIGInterpretations.WithLabelValues(string(SourceFrequency)).Inc()
		return interp, nil
	}

	if in.fallback == nil {
		metrics.SIGInterpretations.WithLabelValues("error").Inc()
		return nil, apperrors.Parse(fmt.Sprintf("unable to interpret sig: %s", reason))
	}

	dose, confidence, err := in.fallback.Interpret(ctx, trimmed)
	if err != nil {
		metrics.SIGInterpretations.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(apperrors.KindParse, "unable to interpret sig", err)
	}

	result := &Interpretation{
		Dose:       dose,
		Source:     SourceFallback,
		Confidence: confidence,
		Notes:      []string{"interpreted by text-understanding fallback"},
	}
	applyOverride(result, override)
	metrics.SIGInterpretations.WithLabelValues(string(SourceFallback)).Inc()
	return result, nil
}

// applyOverride swaps in the caller-supplied unit, noting the change
// when it disagrees with what the text said.
func applyOverride(interp *Interpretation, override dosage.Unit) {
	if override == "" {
		return
	}
	if interp.Dose.Unit != "" && interp.Dose.Unit != override {
		interp.Notes = append(interp.Notes,
			fmt.Sprintf("unit %s overridden to %s", interp.Dose.Unit, override))
	}
	interp.Dose.Unit = override
}
