package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskguard/config"
	"github.com/rustyeddy/riskguard/risk"
)

func newConfigCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the bootstrap file and the versioned risk config",
		Long: `Manage configuration.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file
  show     - Print the current (or a past) risk config version
  set      - Update risk limits, recording a new version
  history  - List every recorded risk config version

Examples:
  riskguard config init -o riskguard.yaml
  riskguard --config riskguard.yaml config set daily_loss_cap=800 cooldown_seconds=60`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigValidateCmd(),
		newConfigShowCmd(rc),
		newConfigSetCmd(rc),
		newConfigHistoryCmd(rc),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := cfg.SaveToFile(output); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created default configuration: %s\n", output)
			fmt.Fprintln(out, "\nEdit the file and run with:")
			fmt.Fprintf(out, "  riskguard --config %s run\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "riskguard.yaml", "output config file path")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Configuration valid: %s\n", path)
			fmt.Fprintf(out, "  Store: %s\n", cfg.Store.Driver)
			fmt.Fprintf(out, "  Mode: %s (capital %.2f, daily %.2f, single %.2f)\n",
				cfg.Risk.Mode, cfg.Risk.TotalCapital, cfg.Risk.DailyInvestLimit, cfg.Risk.SingleTradeLimit)
			fmt.Fprintf(out, "  Universe: %d instruments\n", len(cfg.Universe))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "path to config file (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newConfigShowCmd(rc *RootConfig) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current risk config",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			v := s.risk.Version()
			if version > 0 {
				if v, err = s.risk.ConfigAt(cmd.Context(), version); err != nil {
					return err
				}
			}
			if s.json {
				return s.printJSON(v)
			}

			t := s.table(fmt.Sprintf("RISK CONFIG v%d", v.Version), nil)
			c := v.Config
			t.AppendRows([]table.Row{
				{"daily_loss_cap", money(c.DailyLossCap)},
				{"max_exposure_per_symbol", money(c.MaxExposurePerSymbol)},
				{"cooldown_seconds", c.CooldownSeconds},
				{"max_drawdown_stop", pct(c.MaxDrawdownStop)},
			})
			t.AppendSeparator()
			t.AppendRows([]table.Row{
				{"total_capital", money(c.TotalCapital)},
				{"daily_invest_limit", money(c.DailyInvestLimit)},
				{"single_trade_limit", money(c.SingleTradeLimit)},
				{"mode", c.Mode},
			})
			t.AppendSeparator()
			t.AppendRow(table.Row{"updated", fmt.Sprintf("%s by %s", v.UpdatedAt.Format("2006-01-02 15:04:05"), v.UpdatedBy)})
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "show a past version instead of the current one")
	return cmd
}

func newConfigSetCmd(rc *RootConfig) *cobra.Command {
	var updatedBy string

	cmd := &cobra.Command{
		Use:   "set key=value [key=value...]",
		Short: "Update risk limits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(args))
			for _, a := range args {
				k, v, ok := strings.Cut(a, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got %q", a)
				}
				values[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			patch, err := risk.ParsePatch(values)
			if err != nil {
				return err
			}

			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.risk.UpdateConfig(cmd.Context(), patch, updatedBy)
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(res)
			}

			fmt.Fprintf(s.out, "✓ Risk config now at version %d\n", res.Version)
			for _, f := range res.Diff.Fields() {
				ch := res.Diff[f]
				fmt.Fprintf(s.out, "  %s: %s -> %s\n", f, ch.Before, ch.After)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&updatedBy, "by", "cli", "who is making the change")
	return cmd
}

func newConfigHistoryCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recorded risk config versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			hist, err := s.risk.ConfigHistory(cmd.Context())
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(hist)
			}

			t := s.table("RISK CONFIG HISTORY", table.Row{"Version", "Updated", "By", "Changes"})
			for _, v := range hist {
				changes := make([]string, 0, len(v.Diff))
				for _, f := range v.Diff.Fields() {
					changes = append(changes, fmt.Sprintf("%s %s→%s", f, v.Diff[f].Before, v.Diff[f].After))
				}
				t.AppendRow(table.Row{v.Version, v.UpdatedAt.Format("2006-01-02 15:04:05"), v.UpdatedBy, strings.Join(changes, ", ")})
			}
			t.Render()
			return nil
		},
	}
}
