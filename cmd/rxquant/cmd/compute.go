// Package cmd - compute command
package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/seligo/rxquant-api/config"
	"github.com/seligo/rxquant-api/engine"
	"github.com/seligo/rxquant-api/interfaces"
	"github.com/seligo/rxquant-api/packs"
	"github.com/seligo/rxquant-api/registry"
	"github.com/seligo/rxquant-api/sig"
	"github.com/seligo/rxquant-api/validation"
)

var (
	identifier   string
	sigText      string
	daysSupply   int
	preferredIDs []string
	unitOverride string
	jsonOutput   bool
)

// computeCmd represents the compute command
var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Resolve one drug quantity request",
	Long: `Resolve a drug identifier, interpret the dosing instruction, and
compute the dispensable quantity with a pack selection.

The registries are reached with the same cache, retry, and circuit
breaker behavior the server uses.

Examples:
  rxquant compute --identifier metformin --sig "take 1 tablet twice daily" --days 30
  rxquant compute --identifier "insulin glargine" --sig "20 units at bedtime" --days 30 --unit unit
  rxquant compute --identifier lisinopril --sig "1 tablet daily" --days 90 --preferred 55555-0001-30 --json`,
	RunE: runCompute,
}

func init() {
	computeCmd.Flags().StringVarP(&identifier, "identifier", "i", "", "drug name, concept id, or packaging key")
	computeCmd.Flags().StringVarP(&sigText, "sig", "s", "", "dosing instruction text")
	computeCmd.Flags().IntVarP(&daysSupply, "days", "d", 30, "days of treatment to cover")
	computeCmd.Flags().StringSliceVar(&preferredIDs, "preferred", nil, "packaging keys to favor during pack selection")
	computeCmd.Flags().StringVar(&unitOverride, "unit", "", "dose unit to use when the instruction names none")
	computeCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the raw result JSON")

	computeCmd.MarkFlagRequired("identifier")
	computeCmd.MarkFlagRequired("sig")
}

func runCompute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if namingURL != "" {
		cfg.NamingRegistryURL = namingURL
	}
	if packagingURL != "" {
		cfg.PackagingRegistryURL = packagingURL
	}

	quantityEngine := buildEngine(cfg)

	query := &interfaces.DrugQuery{
		Identifier:          identifier,
		Sig:                 sigText,
		DaysSupply:          daysSupply,
		PreferredPackageIDs: preferredIDs,
		UnitOverride:        unitOverride,
	}

	result, err := quantityEngine.Compute(cmd.Context(), query)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Print(formatResult(result))
	return nil
}

// buildEngine wires the resolution pipeline the way the server does,
// minus the HTTP layer.
func buildEngine(cfg *config.Config) *engine.Engine {
	httpClient := &http.Client{Timeout: cfg.RegistryTimeout}

	naming := registry.NewNaming(registry.ClientConfig{
		BaseURL:        cfg.NamingRegistryURL,
		CacheCapacity:  cfg.NamingCacheCapacity,
		FreshTTL:       cfg.NamingCacheTTL,
		StaleTTL:       cfg.StaleCacheTTL,
		RateLimit:      cfg.NamingRateLimit,
		MaxAttempts:    cfg.RetryMaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		BreakerTimeout: cfg.BreakerTimeout,
	}, httpClient)

	packaging := registry.NewPackaging(registry.ClientConfig{
		BaseURL:        cfg.PackagingRegistryURL,
		CacheCapacity:  cfg.PackagingCacheCapacity,
		FreshTTL:       cfg.PackagingCacheTTL,
		StaleTTL:       cfg.StaleCacheTTL,
		RateLimit:      cfg.PackagingRateLimit,
		MaxAttempts:    cfg.RetryMaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		BreakerTimeout: cfg.BreakerTimeout,
	}, httpClient)

	var fallback *sig.FallbackClient
	if cfg.FallbackEnabled {
		fallback = sig.NewFallbackClient(sig.FallbackConfig{
			Endpoint: cfg.FallbackEndpoint,
			Model:    cfg.FallbackModel,
			APIKey:   cfg.FallbackAPIKey,
			Timeout:  cfg.FallbackTimeout,
		}, nil)
	}

	return engine.New(validation.NewQueryValidator(), naming, packaging, sig.NewInterpreter(fallback),
		engine.Config{
			Packs: packs.Config{
				MaxPacks:    cfg.MaxPacks,
				MaxOverfill: decimal.NewFromFloat(cfg.MaxOverfill),
			},
		})
}

// formatResult renders a compute result for terminal reading.
func formatResult(result *engine.ComputeResult) string {
	var b strings.Builder

	drugLine := "(not resolved)"
	if result.NormalizedDrug.DisplayName != nil {
		drugLine = *result.NormalizedDrug.DisplayName
		if result.NormalizedDrug.CanonicalID != nil {
			drugLine += fmt.Sprintf(" (%s)", *result.NormalizedDrug.CanonicalID)
		}
	} else if result.NormalizedDrug.CanonicalID != nil {
		drugLine = *result.NormalizedDrug.CanonicalID
	}
	fmt.Fprintf(&b, "Drug:      %s\n", drugLine)

	interp := result.Interpretation
	doseLine := fmt.Sprintf("%s %s/day for %d days (%s)",
		interp.Dose.PerDay, interp.Dose.Unit, result.Computed.DaysSupply, interp.Source)
	if interp.Confidence.LessThan(decimal.NewFromInt(1)) {
		doseLine += fmt.Sprintf(", confidence %s", interp.Confidence)
	}
	fmt.Fprintf(&b, "Dose:      %s\n", doseLine)

	fmt.Fprintf(&b, "Dispense:  %s %s\n", result.Computed.Total, result.Computed.Unit)
	if result.Computed.Canisters > 0 {
		fmt.Fprintf(&b, "           %d canisters of %d actuations\n",
			result.Computed.Canisters, result.Computed.ActuationsPerCanister)
	}
	if result.Computed.Containers > 0 {
		fmt.Fprintf(&b, "           %d %s containers (U-%d)\n",
			result.Computed.Containers, result.Computed.Container, int(result.Computed.Concentration))
	}

	if result.Selection.Chosen != nil {
		fmt.Fprintf(&b, "Packs:     %s\n", formatOption(*result.Selection.Chosen))
		if len(result.Selection.Alternates) > 0 {
			fmt.Fprintf(&b, "Alternates:\n")
			for _, alt := range result.Selection.Alternates {
				fmt.Fprintf(&b, "  %s\n", formatOption(alt))
			}
		}
	} else {
		fmt.Fprintf(&b, "Packs:     no combination covers the quantity\n")
	}

	var notes []string
	notes = append(notes, interp.Notes...)
	notes = append(notes, result.Computed.Notes...)
	notes = append(notes, result.Flags.Notes...)
	if result.Flags.Mismatch {
		notes = append(notes, "the naming and packaging registries disagree on the package list")
	}
	if len(result.Flags.InactivePackageIDs) > 0 {
		notes = append(notes, fmt.Sprintf("inactive packages skipped: %s",
			strings.Join(result.Flags.InactivePackageIDs, ", ")))
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, "Notes:\n")
		for _, note := range notes {
			fmt.Fprintf(&b, "  %s\n", note)
		}
	}

	return b.String()
}

// formatOption renders one pack combination.
func formatOption(opt packs.Option) string {
	fill := "exact fill"
	if !opt.OverfillRatio.IsZero() {
		fill = fmt.Sprintf("+%s%% overfill", opt.OverfillRatio.Mul(decimal.NewFromInt(100)).Round(1))
	}
	return fmt.Sprintf("%d x %s-pack %s (%s)", opt.Packs, opt.PackSize, opt.PackageID, fill)
}
