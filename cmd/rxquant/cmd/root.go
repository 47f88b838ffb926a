// Package cmd provides the CLI commands for rxquant.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/seligo/rxquant-api/logging"
)

var (
	namingURL    string
	packagingURL string
	verbose      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rxquant",
	Short: "Resolve drug quantities and pack selections from the command line",
	Long: `rxquant runs the quantity resolution pipeline without the HTTP layer.

It normalizes a drug identifier against the naming and packaging
registries, interprets the dosing instruction, computes the dispensable
quantity, and selects the pack combination that covers it.

Examples:
  rxquant compute --identifier metformin --sig "take 1 tablet twice daily" --days 30
  rxquant compute --identifier 0071-0155-30 --sig "2 puffs at bedtime" --days 90 --json
  rxquant version`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&namingURL, "naming-url", "", "naming registry base URL (overrides NAMING_REGISTRY_URL)")
	rootCmd.PersistentFlags().StringVar(&packagingURL, "packaging-url", "", "packaging registry base URL (overrides PACKAGING_REGISTRY_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(computeCmd)
	rootCmd.AddCommand(versionCmd)
}

// initEnv loads .env and routes pipeline logs to stderr so stdout stays
// clean for command output.
func initEnv() {
	_ = godotenv.Load()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logging.Default = &logging.Service{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("rxquant version 0.1.0")
	},
}
