// Package packs selects how a computed quantity is assembled from the
// pack sizes a product actually ships in.
//
// Every active package is tried at every pack count up to the
// configured maximum and scored by how closely the combination covers
// the quantity. Underfilled combinations never qualify; overfilled ones
// lose score linearly until the overfill allowance is exhausted.
package packs

import (
	"sort"

	"github.com/shopspring/decimal"

	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/registry"
)

// DefaultMaxPacks bounds how many packs of one size a selection may
// combine.
const DefaultMaxPacks = 3

// DefaultMaxOverfill is the largest tolerated overfill ratio.
var DefaultMaxOverfill = decimal.RequireFromString("0.1")

// maxAlternates caps how many runner-up options a selection reports.
const maxAlternates = 10

var (
	exactScore       = decimal.NewFromInt(1000)
	multiPackPenalty = decimal.NewFromInt(10)
	preferredBonus   = decimal.NewFromInt(50)
)

// Config tunes the selection search.
type Config struct {
	// MaxPacks is the highest pack count tried per package.
	MaxPacks int
	// MaxOverfill is the overfill ratio above which an option is
	// excluded outright.
	MaxOverfill decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.MaxPacks <= 0 {
		c.MaxPacks = DefaultMaxPacks
	}
	if !c.MaxOverfill.IsPositive() {
		c.MaxOverfill = DefaultMaxOverfill
	}
	return c
}

// Option is one scored pack combination.
type Option struct {
	PackageID     string          `json:"packageId"`
	PackSize      decimal.Decimal `json:"packSize"`
	Packs         int             `json:"packs"`
	OverfillRatio decimal.Decimal `json:"overfillRatio"`
	Score         decimal.Decimal `json:"score"`
}

// Selection is the outcome of a pack search. A nil Chosen means no
// combination covered the quantity within the overfill allowance.
type Selection struct {
	Chosen     *Option  `json:"chosen,omitempty"`
	Alternates []Option `json:"alternates,omitempty"`
}

// Select scores every active package against the quantity and returns
// the winning combination, up to ten runners-up, and the ids of
// inactive packages that were skipped. Equal scores keep the order the
// records came in.
func Select(records []registry.PackageRecord, quantity decimal.Decimal, preferredIDs []string, cfg Config) (Selection, []string, error) {
	if !quantity.IsPositive() {
		return Selection{}, nil, apperrors.Validationf(
			"pack selection needs a positive quantity, got %s", quantity)
	}
	cfg = cfg.withDefaults()

	preferred := make(map[string]bool, len(preferredIDs))
	for _, id := range preferredIDs {
		preferred[registry.NormalizePackageID(id)] = true
	}

	var inactive []string
	var options []Option
	for _, record := range records {
		if !record.IsActive {
			inactive = append(inactive, record.PackageID)
			continue
		}
		if !record.PackSize.IsPositive() {
			continue
		}
		for count := 1; count <= cfg.MaxPacks; count++ {
			option, ok := scoreOption(record, count, quantity, preferred, cfg)
			if ok {
				options = append(options, option)
			}
		}
	}

	sort.SliceStable(options, func(i, j int) bool {
		return options[i].Score.GreaterThan(options[j].Score)
	})

	if len(options) == 0 {
		return Selection{}, inactive, nil
	}

	chosen := options[0]
	end := len(options)
	if end > 1+maxAlternates {
		end = 1 + maxAlternates
	}
	return Selection{Chosen: &chosen, Alternates: options[1:end]}, inactive, nil
}

// scoreOption scores one package at one pack count. The second return
// is false when the combination underfills, overfills past the
// allowance, or scores itself out of contention.
func scoreOption(record registry.PackageRecord, count int, quantity decimal.Decimal, preferred map[string]bool, cfg Config) (Option, bool) {
	total := record.PackSize.Mul(decimal.NewFromInt(int64(count)))
	ratio := total.Sub(quantity).Div(quantity)

	if ratio.IsNegative() || ratio.GreaterThan(cfg.MaxOverfill) {
		return Option{}, false
	}

	score := exactScore
	if !ratio.IsZero() {
		score = exactScore.Mul(decimal.NewFromInt(1).Sub(ratio.Div(cfg.MaxOverfill)))
	}
	score = score.Sub(multiPackPenalty.Mul(decimal.NewFromInt(int64(count - 1))))
	if preferred[registry.NormalizePackageID(record.PackageID)] {
		score = score.Add(preferredBonus)
	}
	if !score.IsPositive() {
		return Option{}, false
	}

	return Option{
		PackageID:     record.PackageID,
		PackSize:      record.PackSize,
		Packs:         count,
		OverfillRatio: ratio,
		Score:         score,
	}, true
}
