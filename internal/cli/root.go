package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootConfig carries the persistent flags shared by every subcommand.
type RootConfig struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
	JSON       bool
}

func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:   "riskguard",
		Short: "Riskguard: pre-trade risk guard and allocation engine",
		Long: `Riskguard sits between a trading decision and the exchange.

It provides tools for:
  - Checking proposed orders against drawdown, loss, exposure and cooldown limits
  - Splitting a daily budget across instruments by inverse volatility
  - Versioning every change to the risk limits
  - Running a scheduled paper-trading autopilot with Prometheus metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global / persistent flags
	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (optional)")
	cmd.PersistentFlags().StringVar(&rc.EnvFile, "env-file", ".env", "Dotenv file overlaid on the config")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	cmd.PersistentFlags().BoolVar(&rc.JSON, "json", false, "Print results as JSON instead of tables")

	cmd.AddCommand(
		newConfigCmd(rc),
		newStateCmd(rc),
		newPlanCmd(rc),
		newGuardCmd(rc),
		newCommitCmd(rc),
		newFillCmd(rc),
		newResetDailyCmd(rc),
		newSubmitCmd(rc),
		newRunCmd(rc),
		newVersionCmd(),
	)

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
