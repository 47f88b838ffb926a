// Package registry provides resilient clients for the two drug
// registries: the naming registry (drug concepts and crosswalked package
// identifiers) and the packaging registry (package records with sizes and
// marketing status). Both clients share one call path: cache first, then
// a rate-limited remote call behind a circuit breaker with retries,
// negative caching for definitive not-found answers, and stale cache
// fallback when the upstream is unreachable.
package registry

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizePackageID strips hyphens and whitespace so both registries'
// spellings of the same identifier compare equal.
func NormalizePackageID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsPackageKey reports whether the identifier is already in packaging
// registry key format: 10 to 13 digits once hyphens are stripped.
func IsPackageKey(id string) bool {
	normalized := NormalizePackageID(id)
	if len(normalized) < 10 || len(normalized) > 13 {
		return false
	}
	for _, r := range normalized {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// nameFolder strips diacritics so accented and plain spellings match.
var nameFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldName normalizes a drug name for matching: diacritics removed,
// lowercased, inner whitespace collapsed.
func FoldName(name string) string {
	folded, _, err := transform.String(nameFolder, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
