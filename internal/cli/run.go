package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskguard/broker"
	"github.com/rustyeddy/riskguard/broker/paper"
	"github.com/rustyeddy/riskguard/cost"
	"github.com/rustyeddy/riskguard/journal"
	"github.com/rustyeddy/riskguard/metrics"
	"github.com/rustyeddy/riskguard/orchestrator"
	"github.com/rustyeddy/riskguard/risk"
)

func newRunCmd(rc *RootConfig) *cobra.Command {
	var (
		signalsPath string
		once        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduled autopilot against the paper exchange",
		Long: `Run decision cycles on the suggested interval until interrupted.

Each cycle reads the signals file (JSON: volatility, sentiment, confidence,
equity, prices), feeds its prices to the paper exchange, and walks the
allocation through the risk guard. Metrics are served on metrics.listen.

Example:
  riskguard --config riskguard.yaml run --signals signals.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			s, err := rc.open(cmd, risk.WithObserver(m))
			if err != nil {
				return err
			}
			defer s.Close()

			var jr journal.Journal
			if jc := s.cfg.Journal; jc.Enabled() {
				csvj, err := journal.NewCSV(jc.FillsFile, jc.CyclesFile)
				if err != nil {
					return err
				}
				defer csvj.Close()
				jr = csvj
			}

			desk, ex, err := buildDesk(s, m, jr)
			if err != nil {
				return err
			}
			src := &fileSignals{path: signalsPath, ex: ex, spread: s.cfg.Paper.Spread}

			if once {
				sig, err := src.Signals(ctx)
				if err != nil {
					return err
				}
				res, err := desk.RunCycle(ctx, sig)
				if s.json {
					if jerr := s.printJSON(res); jerr != nil {
						return jerr
					}
					return err
				}
				renderDecisions(s, fmt.Sprintf("CYCLE %s (%s)", res.ID, res.Status), res.Decisions)
				fmt.Fprintf(s.out, "Complexity %.3f, tier %q, next cycle in %s\n", res.Complexity, res.Tier, res.NextInterval)
				return err
			}

			if addr := s.cfg.Metrics.Listen; addr != "" {
				srv := serveMetrics(addr, reg, s)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			err = desk.Run(ctx, src)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&signalsPath, "signals", "", "JSON signals file re-read every cycle (optional)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

// buildDesk wires the paper exchange behind the circuit breaker, the cost
// ledger, metrics and the optional journal around the session's risk
// manager.
func buildDesk(s *session, m *metrics.Metrics, jr journal.Journal) (*orchestrator.Desk, *paper.Exchange, error) {
	base, err := s.cfg.Orchestrator.Interval()
	if err != nil {
		return nil, nil, err
	}

	balance := s.cfg.Paper.Balance
	if balance <= 0 {
		balance = s.risk.Config().TotalCapital
	}
	ex := paper.New(balance, paper.WithLogger(s.log))

	ledger := cost.NewLedger(s.cfg.Cost.DailyLimit,
		cost.WithTiers(s.cfg.Cost.Tiers),
		cost.WithPreferredTier(s.cfg.Cost.PreferredTier),
		cost.WithObserver(m),
		cost.WithLogger(s.log),
	)

	var submitter broker.Submitter = ex
	if bc := s.cfg.Breaker; bc.MaxErrors > 0 {
		window, openFor, err := bc.Durations()
		if err != nil {
			return nil, nil, err
		}
		submitter = broker.NewBreaker(ex,
			broker.WithThresholds(window, bc.MaxErrors, openFor),
			broker.WithBreakerLogger(s.log),
		)
	}

	opts := []orchestrator.Option{
		orchestrator.WithSubmitter(submitter),
		orchestrator.WithCostGate(ledger),
		orchestrator.WithObserver(m),
		orchestrator.WithBaseInterval(base),
		orchestrator.WithLogger(s.log),
	}
	if jr != nil {
		opts = append(opts, orchestrator.WithRecorder(jr))
	}
	desk := orchestrator.NewDesk(s.risk, s.cfg.Universe, opts...)

	listeners := fillFanout{desk}
	if jr != nil {
		listeners = append(listeners, journalFills{j: jr, log: s.log})
	}
	ex.SetFillListener(listeners)
	return desk, ex, nil
}

// fillFanout hands each paper fill to every listener in order.
type fillFanout []paper.FillListener

func (f fillFanout) OnFill(ctx context.Context, fl broker.Fill) {
	for _, l := range f {
		l.OnFill(ctx, fl)
	}
}

type journalFills struct {
	j   journal.Journal
	log *slog.Logger
}

func (jf journalFills) OnFill(_ context.Context, fl broker.Fill) {
	if err := jf.j.RecordFill(fl); err != nil {
		jf.log.Error("journal fill", "order_id", fl.OrderID, "err", err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, s *session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		s.log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server", "err", err)
		}
	}()
	return srv
}

// fileSignals re-reads a JSON signals file each cycle and pushes its
// prices into the paper exchange. Without a file every cycle is neutral.
type fileSignals struct {
	path   string
	ex     *paper.Exchange
	spread float64
}

func (f *fileSignals) Signals(ctx context.Context) (orchestrator.Signals, error) {
	var sig orchestrator.Signals
	if f.path != "" {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return sig, fmt.Errorf("read signals: %w", err)
		}
		if err := json.Unmarshal(data, &sig); err != nil {
			return sig, fmt.Errorf("parse signals: %w", err)
		}
	}

	half := f.spread / 2
	for sym, px := range sig.Prices {
		if px <= 0 {
			continue
		}
		f.ex.UpdatePrice(ctx, paper.Quote{Symbol: sym, Bid: px * (1 - half), Ask: px * (1 + half)})
	}
	if sig.Equity <= 0 {
		sig.Equity = f.ex.Equity()
	}
	return sig, nil
}
