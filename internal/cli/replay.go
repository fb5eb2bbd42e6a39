package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trading-sim/internal/engine"
	"trading-sim/internal/events"
	"trading-sim/internal/order"
	"trading-sim/pkg/config"
	"trading-sim/pkg/logger"
)

func newReplayCmd() *cobra.Command {
	var (
		seed     int64
		asJSON   bool
		activity int
	)
	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Run a scripted scenario through one simulated account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sc, err := config.LoadScenario(args[0])
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogDev)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cmd.Flags().Changed("seed") {
				cfg.Sim.SlippageSeed = seed
			}
			report, err := runScenario(cmd.Context(), cfg, sc, log)
			if err != nil {
				return err
			}
			report.trimActivity(activity)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return report.print(cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "slippage seed; overrides SIM_SLIPPAGE_SEED")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().IntVar(&activity, "activity", 20, "number of activity records to print; 0 prints none")
	return cmd
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Detail string `json:"detail"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Report is what a replay prints.
type Report struct {
	Steps    []StepResult    `json:"steps"`
	Final    engine.Snapshot `json:"final"`
	Activity []events.Record `json:"activity"`
}

func (r *Report) trimActivity(n int) {
	if n <= 0 {
		r.Activity = nil
		return
	}
	if len(r.Activity) > n {
		r.Activity = r.Activity[len(r.Activity)-n:]
	}
}

// replayClock follows tick timestamps so daily P&L rolls over on scenario
// time rather than wall time.
type replayClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t.IsZero() {
		return time.Now().UTC()
	}
	return c.t
}

func (c *replayClock) set(t time.Time) {
	if t.IsZero() {
		return
	}
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// runScenario executes every step in order. Step failures are recorded in
// the report and do not stop the replay.
func runScenario(ctx context.Context, cfg *config.Config, sc *config.Scenario, log *zap.Logger) (*Report, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	cfg.Mode = config.ModeSimulated
	ec, err := engineConfig(cfg, catalog, nil, log)
	if err != nil {
		return nil, err
	}
	clk := &replayClock{}
	ec.Account = sc.Account
	ec.Now = clk.Now
	ec.Volatility = nil // the engine feeds its own from the scenario ticks
	ec.ActivitySize = 1000
	if sc.InitialBalance > 0 {
		ec.InitialBalance = dec(sc.InitialBalance)
	}

	e, err := engine.New(ec)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	report := &Report{}
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := StepResult{Index: i}
		var stepErr error
		switch {
		case st.Tick != nil:
			res.Action, res.Symbol = "tick", st.Tick.Symbol
			clk.set(st.Tick.Time)
			var tr engine.TickResult
			tr, stepErr = e.UpdatePrice(ctx, st.Tick.Symbol, dec(st.Tick.Price))
			res.Detail = describeTick(tr)
		case st.Order != nil:
			res.Action, res.Symbol = "order", st.Order.Symbol
			var req engine.OrderRequest
			req, stepErr = orderRequest(st.Order)
			if stepErr == nil {
				var pr engine.PlaceResult
				pr, stepErr = e.PlaceOrder(ctx, req)
				if stepErr == nil {
					res.Detail = fmt.Sprintf("#%d %s %s @ %s fee %s liq %s",
						pr.Order.ID, pr.Position.Side, pr.Position.Size, pr.Order.FillPrice,
						pr.Order.Fee, pr.Position.LiquidationPrice)
				}
			}
		case st.Close != nil:
			res.Action, res.Symbol = "close", st.Close.Symbol
			var cr engine.CloseResult
			cr, stepErr = e.ClosePosition(ctx, st.Close.Symbol, dec(st.Close.Price))
			if stepErr == nil {
				res.Detail = describeClose(cr)
			}
		}
		if stepErr != nil {
			res.Error = stepErr.Error()
			res.Kind = engine.Kind(stepErr)
		}
		report.Steps = append(report.Steps, res)
	}

	report.Final = e.Snapshot()
	report.Activity = e.Activity(0)
	return report, nil
}

func orderRequest(st *config.OrderStep) (engine.OrderRequest, error) {
	side, ok := order.ParseSide(st.Side)
	if !ok {
		return engine.OrderRequest{}, fmt.Errorf("%w: side %q", engine.ErrValidation, st.Side)
	}
	typ, ok := order.ParseType(st.Type)
	if !ok {
		return engine.OrderRequest{}, fmt.Errorf("%w: type %q", engine.ErrValidation, st.Type)
	}
	return engine.OrderRequest{
		Symbol:    st.Symbol,
		Side:      side,
		Type:      typ,
		Size:      dec(st.Size),
		Price:     dec(st.Price),
		StopPrice: dec(st.StopPrice),
		Leverage:  st.Leverage,
	}, nil
}

func describeTick(tr engine.TickResult) string {
	switch {
	case tr.Closed != nil:
		return describeClose(*tr.Closed)
	case tr.Position != nil:
		return fmt.Sprintf("%s unrealized %s", tr.Price, tr.Position.UnrealizedPnL)
	}
	return tr.Price.String()
}

func describeClose(cr engine.CloseResult) string {
	return fmt.Sprintf("%s at %s pnl %s fee %s", cr.Reason, cr.ExitPrice, cr.RealizedPnL, cr.Fee)
}

func (r *Report) print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tACTION\tSYMBOL\tRESULT")
	for _, s := range r.Steps {
		detail := s.Detail
		if s.Error != "" {
			detail = s.Kind + ": " + s.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Index, s.Action, s.Symbol, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	b := r.Final.Balance
	fmt.Fprintf(w, "\nbalance total=%s available=%s locked=%s equity=%s\n",
		b.Total, b.Available, b.Locked, r.Final.Portfolio.Equity)
	for _, p := range r.Final.Positions {
		fmt.Fprintf(w, "position %s %s size=%s entry=%s mark=%s upnl=%s liq=%s\n",
			p.Symbol, p.Side, p.Size, p.EntryPrice, p.MarkPrice, p.UnrealizedPnL, p.LiquidationPrice)
	}
	if r.Final.Emergency.Active {
		fmt.Fprintf(w, "emergency stop: %s\n", r.Final.Emergency.Trip.Reason)
	}
	if len(r.Activity) > 0 {
		fmt.Fprintln(w, "\nactivity:")
		for _, rec := range r.Activity {
			fmt.Fprintf(w, "  %s %s %s\n", rec.Time.Format(time.RFC3339), rec.Type, rec.Symbol)
		}
	}
	return nil
}
