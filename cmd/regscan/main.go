package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "regscan",
	Short: "Regulatory change impact analysis for quality procedures",
	Long: `regscan matches changes between regulatory standard revisions against
your internal quality system procedures (QSPs) and reports which sections,
forms and work instructions are impacted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id for API requests (default: default)")

	rootCmd.AddCommand(
		startCmd,
		stopCmd,
		statusCmd,
		uploadCmd,
		documentsCmd,
		mapCmd,
		diffCmd,
		analyzeCmd,
		runsCmd,
		hierarchyCmd,
		configCmd,
	)
}

func main() {
	// Best effort; a missing .env file is fine.
	godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
