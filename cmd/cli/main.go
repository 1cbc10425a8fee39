package main

import (
	"fmt"
	"os"

	"github.com/dmarceye/internal/cli/commands"
	"github.com/dmarceye/internal/config"
	"github.com/dmarceye/internal/database"
	"github.com/dmarceye/internal/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dmarceye-cli",
	Short: "DMARCEye CLI - manage report schedules, digests and alert rules",
	Long: `DMARCEye CLI edits the recurring work the dmarceye jobs pick up: PDF report
schedules, digest subscriptions and alert rules. It also shows what the report
store holds.`,
}

func openStore() (*store.Store, error) {
	path := os.Getenv("DMARCEYE_CONFIG_PATH")
	if path == "" {
		path = "."
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	return store.New(db, cfg.Jobs.ClaimLease), nil
}

func init() {
	// Add commands
	rootCmd.AddCommand(commands.NewScheduleCommand(openStore))
	rootCmd.AddCommand(commands.NewDigestCommand(openStore))
	rootCmd.AddCommand(commands.NewRuleCommand(openStore))
	rootCmd.AddCommand(commands.NewStatsCommand(openStore))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
