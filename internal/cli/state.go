package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskguard/orchestrator"
	"github.com/rustyeddy/riskguard/risk"
)

func newStateCmd(rc *RootConfig) *cobra.Command {
	var equity float64

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show exposure, realized pnl and cooldowns",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			snap := s.risk.Snapshot()
			if s.json {
				return s.printJSON(snap)
			}

			cfg := s.risk.Config()
			if equity <= 0 {
				equity = cfg.TotalCapital + snap.RealizedPnL
			}
			now := time.Now()

			t := s.table("RISK STATE", table.Row{"Symbol", "Exposure", "Last Order", "Cooldown Left"})
			for _, sym := range snap.Symbols() {
				last, cooldown := "-", "-"
				if at, ok := snap.LastOrderAt[sym]; ok {
					last = at.Local().Format("2006-01-02 15:04:05")
					if left := cfg.Cooldown() - now.Sub(at); left > 0 {
						cooldown = left.Round(time.Second).String()
					}
				}
				t.AppendRow(table.Row{sym, money(snap.SymbolExposure[sym]), last, cooldown})
			}
			t.AppendFooter(table.Row{"Total", money(snap.TotalExposure()), "", ""})
			t.Render()

			fmt.Fprintf(s.out, "Realized PnL: %s   Equity peak: %s   Drawdown at %s: %s\n",
				money(snap.RealizedPnL), money(snap.EquityPeak), money(equity), pct(s.risk.Drawdown(equity)))
			return nil
		},
	}
	cmd.Flags().Float64Var(&equity, "equity", 0, "equity to compute drawdown against (default capital + pnl)")
	return cmd
}

func newGuardCmd(rc *RootConfig) *cobra.Command {
	var equity float64

	cmd := &cobra.Command{
		Use:   "guard SYMBOL NOTIONAL",
		Short: "Run the pre-trade check for one order",
		Long: `Run the pre-trade guard for a proposed order without committing it.

Exits non-zero when the order is rejected. The equity peak is updated
either way.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			notional, err := parseAmount("notional", args[1])
			if err != nil {
				return err
			}

			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if equity <= 0 {
				equity = s.risk.Config().TotalCapital + s.risk.Snapshot().RealizedPnL
			}
			v := s.risk.Check(args[0], notional, time.Now(), equity)
			if s.json {
				if err := s.printJSON(v); err != nil {
					return err
				}
			} else if v.Allowed {
				fmt.Fprintf(s.out, "✓ %s %.2f allowed (drawdown %s)\n", args[0], notional, pct(v.Drawdown))
			}
			return v.Err(args[0])
		},
	}
	cmd.Flags().Float64Var(&equity, "equity", 0, "current account equity (default capital + pnl)")
	return cmd
}

func newCommitCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "commit SYMBOL NOTIONAL",
		Short: "Record an order the exchange accepted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			notional, err := parseAmount("notional", args[1])
			if err != nil {
				return err
			}

			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.risk.Commit(cmd.Context(), args[0], notional, time.Now()); err != nil {
				return err
			}
			sym, total := s.risk.Exposure(args[0])
			fmt.Fprintf(s.out, "✓ %s exposure %s (total %s)\n", args[0], money(sym), money(total))
			return nil
		},
	}
}

func newFillCmd(rc *RootConfig) *cobra.Command {
	var notional float64

	cmd := &cobra.Command{
		Use:   "fill SYMBOL PNL",
		Short: "Record a closed position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pnl, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid pnl %q: %w", args[1], err)
			}

			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.risk.RegisterFill(cmd.Context(), args[0], pnl, notional); err != nil {
				return err
			}
			snap := s.risk.Snapshot()
			fmt.Fprintf(s.out, "✓ %s exposure %s, realized pnl %s\n",
				args[0], money(snap.SymbolExposure[args[0]]), money(snap.RealizedPnL))
			return nil
		},
	}
	cmd.Flags().Float64Var(&notional, "notional", 0, "notional released by the close")
	return cmd
}

func newResetDailyCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-daily",
		Short: "Clear realized pnl and cooldowns",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.risk.ResetDaily(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "✓ Daily counters reset")
			return nil
		},
	}
}

func newSubmitCmd(rc *RootConfig) *cobra.Command {
	var (
		file   string
		equity float64
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Check a batch of proposals in order",
		Long: `Walk a JSON array of proposals through the daily budget and the
pre-trade guard, in order. Allowed proposals are reported as approved;
submit them to the exchange and then record each with 'riskguard commit'.

Example:
  riskguard submit -f proposals.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read proposals: %w", err)
			}
			var proposals []risk.Proposal
			if err := json.Unmarshal(data, &proposals); err != nil {
				return fmt.Errorf("parse proposals: %w", err)
			}

			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			desk := orchestrator.NewDesk(s.risk, s.cfg.Universe, orchestrator.WithLogger(s.log))
			decisions, batchErr := desk.SubmitBatch(cmd.Context(), proposals, equity)
			if decisions == nil && batchErr != nil {
				return batchErr
			}

			if s.json {
				if err := s.printJSON(decisions); err != nil {
					return err
				}
				return batchErr
			}
			renderDecisions(s, "BATCH", decisions)
			return batchErr
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the proposals (required)")
	cmd.Flags().Float64Var(&equity, "equity", 0, "current account equity (default capital + pnl)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func renderDecisions(s *session, title string, decisions []orchestrator.Decision) {
	t := s.table(title, table.Row{"#", "Symbol", "Side", "Notional", "Status", "Detail"})
	for i, d := range decisions {
		detail := d.OrderID
		if d.Error != "" {
			detail = d.Error
		}
		t.AppendRow(table.Row{i + 1, d.Proposal.Symbol, d.Proposal.Side, money(d.Proposal.Notional), d.Status, detail})
	}
	t.Render()
}

func parseAmount(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", name, s)
	}
	return v, nil
}
