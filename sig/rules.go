package sig

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seligo/rxquant-api/dosage"
)

var (
	// clockRe matches explicit administration times: "8am", "8:30 pm",
	// "20:00".
	clockRe = regexp.MustCompile(`\b\d{1,2}:[0-5]\d\s*(?:am|pm)?\b|\b\d{1,2}\s*(?:am|pm)\b`)

	// cueRe matches time-of-day and meal-relative words.
	cueRe = regexp.MustCompile(`\b(?:morning|evening|night|nightly|bedtime|noon|midday|breakfast|lunch|dinner|supper|meals?|qam|qpm|qhs)\b`)

	// numberRe matches integers, decimals, and fractions like "1/2".
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?(?:\s*/\s*\d+)?`)

	// unitAfterRe matches the token immediately following a quantity.
	unitAfterRe = regexp.MustCompile(`^\s*(?:of\s+)?([a-z]+)`)

	// dottedThreeRe and dottedTwoRe collapse dotted latin abbreviations
	// ("b.i.d.", "q.d.") into their plain forms before matching.
	dottedThreeRe = regexp.MustCompile(`\b([a-z])\.\s*([a-z])\.\s*([a-z])\.?`)
	dottedTwoRe   = regexp.MustCompile(`\b([a-z])\.\s*([a-z])\.`)
)

// freqNumericPatterns capture an explicit numeric daily frequency.
// Ordered most specific first; the first match wins.
var freqNumericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\s*x\s*/\s*day`),
	regexp.MustCompile(`(\d+)\s*x\s+daily`),
	regexp.MustCompile(`(\d+)\s*times\s+(?:daily|(?:per|a|each)\s+day)`),
	regexp.MustCompile(`(\d+)\s*times\b`),
}

// freqWordPatterns map frequency words and abbreviations to a count.
var freqWordPatterns = []struct {
	re *regexp.Regexp
	n  int
}{
	{regexp.MustCompile(`\bfour\s+times\b`), 4},
	{regexp.MustCompile(`\bthree\s+times\b`), 3},
	{regexp.MustCompile(`\btwice\b`), 2},
	{regexp.MustCompile(`\bonce\b`), 1},
	{regexp.MustCompile(`\bqid\b`), 4},
	{regexp.MustCompile(`\btid\b`), 3},
	{regexp.MustCompile(`\bbid\b`), 2},
	{regexp.MustCompile(`\bqd\b`), 1},
	{regexp.MustCompile(`\bevery\s+day\b|\beach\s+day\b|\bdaily\b`), 1},
}

// maxFrequency caps explicit numeric frequencies like "12x/day".
const maxFrequency = 10

// durationWords follow numbers that describe treatment length, not a
// dose ("for 30 days").
var durationWords = map[string]bool{
	"day": true, "days": true,
	"week": true, "weeks": true,
	"month": true, "months": true,
	"hour": true, "hours": true,
	"hr": true, "hrs": true,
}

// dosePair is one extracted quantity+unit administration.
type dosePair struct {
	qty  decimal.Decimal
	unit dosage.Unit
}

// analysis is the shared scan both deterministic stages read from.
type analysis struct {
	pairs       []dosePair
	bares       []decimal.Decimal
	freq        int
	freqInvalid bool
	hasCue      bool
}

// analyze scans the SIG text once: masks clock times and frequency
// phrases, detects time cues, and extracts quantity+unit pairs from
// whatever text remains.
func analyze(text string) *analysis {
	lowered := strings.ToLower(text)
	lowered = dottedThreeRe.ReplaceAllString(lowered, "$1$2$3")
	lowered = dottedTwoRe.ReplaceAllString(lowered, "$1$2")

	a := &analysis{}
	mask := make([]bool, len(lowered))

	clocks := clockRe.FindAllStringIndex(lowered, -1)
	for _, loc := range clocks {
		maskRange(mask, loc[0], loc[1])
	}
	a.hasCue = len(clocks) > 0 || cueRe.MatchString(lowered)

	a.scanFrequency(lowered, mask)
	a.scanPairs(lowered, mask)
	return a
}

func (a *analysis) scanFrequency(text string, mask []bool) {
	for _, re := range freqNumericPatterns {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil || overlapsMask(mask, loc[0], loc[1]) {
			continue
		}
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		maskRange(mask, loc[0], loc[1])
		if err != nil || n < 1 || n > maxFrequency {
			a.freqInvalid = true
			return
		}
		a.freq = n
		return
	}

	for _, p := range freqWordPatterns {
		loc := p.re.FindStringIndex(text)
		if loc == nil || overlapsMask(mask, loc[0], loc[1]) {
			continue
		}
		maskRange(mask, loc[0], loc[1])
		a.freq = p.n
		return
	}
}

func (a *analysis) scanPairs(text string, mask []bool) {
	for _, loc := range numberRe.FindAllStringIndex(text, -1) {
		if overlapsMask(mask, loc[0], loc[1]) {
			continue
		}

		qty, ok := parseQuantity(text[loc[0]:loc[1]])
		if !ok {
			continue
		}

		rest := text[loc[1]:]
		if m := unitAfterRe.FindStringSubmatch(rest); m != nil {
			if unit, factor, ok := dosage.NormalizeToken(m[1]); ok {
				a.pairs = append(a.pairs, dosePair{qty: qty.Mul(factor), unit: unit})
				continue
			}
			if durationWords[m[1]] {
				continue
			}
		}
		a.bares = append(a.bares, qty)
	}
}

// parseQuantity converts a numeric token, including fractions like
// "1/2", to a decimal.
func parseQuantity(token string) (decimal.Decimal, bool) {
	if num, den, ok := strings.Cut(token, "/"); ok {
		a, errA := decimal.NewFromString(strings.TrimSpace(num))
		b, errB := decimal.NewFromString(strings.TrimSpace(den))
		if errA != nil || errB != nil || b.IsZero() {
			return decimal.Decimal{}, false
		}
		return a.Div(b), true
	}

	qty, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return qty, true
}

// timeBased builds an interpretation by summing enumerated
// administrations. It applies when a time cue is present, every
// extracted pair shares one unit, and no explicit frequency contradicts
// a single administration.
func (a *analysis) timeBased() *Interpretation {
	if !a.hasCue || len(a.pairs) == 0 {
		return nil
	}
	// "1 tablet twice daily in the morning" is a frequency direction,
	// not an enumeration of administrations.
	if len(a.pairs) == 1 && a.freq > 0 {
		return nil
	}
	// A unitless number next to the enumerated pairs ("... and 1 at
	// night") makes the sum unreliable.
	if len(a.bares) > 0 {
		return nil
	}

	unit := a.pairs[0].unit
	total := decimal.Zero
	for _, p := range a.pairs {
		if p.unit != unit {
			return nil
		}
		total = total.Add(p.qty)
	}
	if !validPerDay(total) {
		return nil
	}

	interp := &Interpretation{
		Dose:       Dose{Unit: unit, PerDay: total},
		Source:     SourceTimeOfDay,
		Confidence: decimal.NewFromInt(1),
	}
	if len(a.pairs) > 1 {
		interp.Notes = append(interp.Notes,
			fmt.Sprintf("summed %d dose administrations", len(a.pairs)))
	}
	return interp
}

// frequencyBased builds an interpretation from one quantity+unit and an
// explicit frequency. hasOverride waives the unit requirement, since the
// caller-supplied unit will replace it anyway. On failure the reason
// names the missing piece.
func (a *analysis) frequencyBased(hasOverride bool) (*Interpretation, string) {
	if a.freqInvalid {
		return nil, fmt.Sprintf("frequency exceeds %d per day", maxFrequency)
	}
	if a.freq == 0 {
		return nil, "no frequency found"
	}

	var qty decimal.Decimal
	var unit dosage.Unit
	switch {
	case len(a.pairs) > 0:
		qty, unit = a.pairs[0].qty, a.pairs[0].unit
	case hasOverride && len(a.bares) > 0:
		qty = a.bares[0]
	case len(a.bares) > 0:
		return nil, "no dose unit found"
	default:
		return nil, "no dose quantity found"
	}

	perDay := qty.Mul(decimal.NewFromInt(int64(a.freq)))
	if !validPerDay(perDay) {
		return nil, fmt.Sprintf("daily dose %s outside supported range", perDay)
	}

	return &Interpretation{
		Dose:       Dose{Unit: unit, PerDay: perDay},
		Source:     SourceFrequency,
		Confidence: decimal.NewFromInt(1),
	}, ""
}

func maskRange(mask []bool, start, end int) {
	for i := start; i < end && i < len(mask); i++ {
		mask[i] = true
	}
}

func overlapsMask(mask []bool, start, end int) bool {
	for i := start; i < end && i < len(mask); i++ {
		if mask[i] {
			return true
		}
	}
	return false
}
