// Package validation checks compute requests before they reach the
// pipeline, rejecting malformed identifiers, hostile input, and
// out-of-range parameters up front.
package validation

import (
	"regexp"
	"strings"

	"github.com/seligo/rxquant-api/dosage"
	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/interfaces"
	"github.com/seligo/rxquant-api/quantity"
	"github.com/seligo/rxquant-api/registry"
)

// Pre-compiled regex patterns, compiled once at package initialization
// and reused for all validations.
var (
	// Identifier validation: alphanumeric plus the punctuation that
	// appears in real product names ("Advair Diskus 250/50",
	// "Children's Tylenol") and common accented characters.
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9\s\-\.\+'/àâäéèêëïîôöùûüÿç]+$`)

	// Dangerous patterns as strings; strings.Contains is far cheaper
	// than regex for plain substring matching.
	dangerousPatterns = []string{
		"<script", "</script>", "javascript:", "vbscript:", "onload=", "onerror=",
		"onclick=", "onmouseover=", "onfocus=", "onblur=", "onchange=", "onsubmit=",
		"eval(", "expression(", "url(", "@import", "binding(", "behavior(",
		// SQL injection patterns
		"' or ", "\" or ", "union select", "drop table", "delete from", "insert into",
		"xp_", "sp_", "exec(", "execute(",
		// Path traversal patterns
		"../", "..\\", "%2e%2e", "file://",
		// NoSQL injection patterns
		"{$ne:", "{$gt:", "{$where:", "{$or:", "{$regex:", "{$expr:",
	}
)

const (
	minIdentifierLength = 2
	maxIdentifierLength = 120
	maxIdentifierWords  = 12

	maxSigLength = 500
	maxSigWords  = 60

	maxPreferredPackages = 10
)

// QueryValidatorImpl implements the interfaces.QueryValidator interface.
type QueryValidatorImpl struct{}

// NewQueryValidator creates a new query validator.
func NewQueryValidator() interfaces.QueryValidator {
	return &QueryValidatorImpl{}
}

// ValidateQuery checks a full compute request. Every failure is a
// validation error so callers can map it to a client fault.
func (v *QueryValidatorImpl) ValidateQuery(q *interfaces.DrugQuery) error {
	if q == nil {
		return apperrors.Validation("request body is missing")
	}

	if err := v.ValidateIdentifier(q.Identifier); err != nil {
		return err
	}
	if err := v.ValidateSig(q.Sig); err != nil {
		return err
	}

	if q.DaysSupply < quantity.MinDaysSupply || q.DaysSupply > quantity.MaxDaysSupply {
		return apperrors.Validationf("daysSupply must be between %d and %d, got %d",
			quantity.MinDaysSupply, quantity.MaxDaysSupply, q.DaysSupply)
	}

	if q.UnitOverride != "" {
		if _, ok := dosage.ParseUnit(q.UnitOverride); !ok {
			return apperrors.Validationf(
				"unitOverride %q is not a canonical unit (tablet, capsule, milliliter, actuation, unit)",
				q.UnitOverride)
		}
	}

	if len(q.PreferredPackageIDs) > maxPreferredPackages {
		return apperrors.Validationf("at most %d preferred package ids are allowed, got %d",
			maxPreferredPackages, len(q.PreferredPackageIDs))
	}
	for _, id := range q.PreferredPackageIDs {
		if !registry.IsPackageKey(registry.NormalizePackageID(id)) {
			return apperrors.Validationf("preferred package id %q is not a valid package key", id)
		}
	}

	return nil
}

// ValidateIdentifier checks a drug identifier: a name, concept id, or
// packaging key.
func (v *QueryValidatorImpl) ValidateIdentifier(input string) error {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return apperrors.Validation("identifier cannot be empty")
	}
	if len(trimmed) < minIdentifierLength {
		return apperrors.Validationf("identifier too short: minimum %d characters", minIdentifierLength)
	}
	if len(trimmed) > maxIdentifierLength {
		return apperrors.Validationf("identifier too long: maximum %d characters", maxIdentifierLength)
	}
	if words := strings.Fields(trimmed); len(words) > maxIdentifierWords {
		return apperrors.Validationf("identifier too complex: maximum %d words", maxIdentifierWords)
	}

	if err := checkDangerousContent(trimmed); err != nil {
		return err
	}

	if !identifierRegex.MatchString(trimmed) {
		return apperrors.Validation(
			"identifier contains invalid characters: only letters, numbers, spaces, and the punctuation found in product names are allowed")
	}

	if hasExcessiveRepetition(trimmed) {
		return apperrors.Validation("identifier contains excessive character repetition")
	}

	return nil
}

// ValidateSig checks a sig text. Sig grammar is looser than identifier
// grammar, so only size, control characters, and hostile content are
// rejected here; whether the text is interpretable is decided later.
func (v *QueryValidatorImpl) ValidateSig(input string) error {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return apperrors.Validation("sig cannot be empty")
	}
	if len(trimmed) > maxSigLength {
		return apperrors.Validationf("sig too long: maximum %d characters", maxSigLength)
	}
	if words := strings.Fields(trimmed); len(words) > maxSigWords {
		return apperrors.Validationf("sig too complex: maximum %d words", maxSigWords)
	}

	for _, r := range trimmed {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return apperrors.Validation("sig contains control characters")
		}
	}

	if err := checkDangerousContent(trimmed); err != nil {
		return err
	}

	if hasExcessiveRepetition(trimmed) {
		return apperrors.Validation("sig contains excessive character repetition")
	}

	return nil
}

// checkDangerousContent scans for injection and traversal substrings.
func checkDangerousContent(input string) error {
	lowered := strings.ToLower(input)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lowered, pattern) {
			return apperrors.Validation("input contains potentially dangerous content")
		}
	}
	return nil
}

// hasExcessiveRepetition reports the same byte repeated more than ten
// times in a row.
func hasExcessiveRepetition(input string) bool {
	for i := 0; i < len(input)-10; i++ {
		allSame := true
		for j := 1; j <= 10; j++ {
			if input[i] != input[i+j] {
				allSame = false
				break
			}
		}
		if allSame {
			return true
		}
	}
	return false
}
