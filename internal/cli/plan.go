package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskguard/orchestrator"
)

func newPlanCmd(rc *RootConfig) *cobra.Command {
	var vol float64

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview today's allocation across the universe",
		Long: `Split the daily invest limit across the configured universe by
inverse volatility. Nothing is checked or committed.

Example:
  riskguard plan --vol 1.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rc.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			base, err := s.cfg.Orchestrator.Interval()
			if err != nil {
				return err
			}
			desk := orchestrator.NewDesk(s.risk, s.cfg.Universe,
				orchestrator.WithBaseInterval(base),
				orchestrator.WithLogger(s.log),
			)
			p := desk.PlanAllocation(vol)
			if s.json {
				return s.printJSON(p)
			}

			t := s.table("ALLOCATION PLAN", table.Row{"Symbol", "Volatility", "Weight", "Notional"})
			var total float64
			for _, tg := range p.Targets {
				t.AppendRow(table.Row{tg.Symbol, fmt.Sprintf("%.4f", tg.Volatility), pct(tg.Weight), money(tg.Notional)})
				total += tg.Notional
			}
			t.AppendFooter(table.Row{"Total", "", "", money(total)})
			t.Render()

			fmt.Fprintf(s.out, "Daily limit %s, single trade limit %s, next cycle in %ds\n",
				money(p.DailyLimit), money(p.SingleTradeLimit), p.SuggestedSeconds)
			return nil
		},
	}
	cmd.Flags().Float64Var(&vol, "vol", 1, "market volatility multiplier applied to every instrument")
	return cmd
}
