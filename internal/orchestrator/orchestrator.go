package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"pulse_trading/internal/broker"
	"pulse_trading/internal/health"
	"pulse_trading/internal/models"
	"pulse_trading/internal/order"
	"pulse_trading/internal/pdt"
	"pulse_trading/internal/risk"
	"pulse_trading/internal/storage"
)

// Action is one step of the preservation response. The monitor and risk
// manager only decide that preservation is needed; the orchestrator owns
// what that means and executes the plan.
type Action string

const (
	ActionDisableEntries Action = "disable_new_entries"
	ActionCloseLosers    Action = "close_losing_positions"
	ActionTightenStops   Action = "tighten_stops"
)

// Config selects the preservation actions and the main loop cadence.
type Config struct {
	DisableEntries bool
	CloseLosers    bool
	TightenStops   bool

	PollInterval   time.Duration
	KillSwitchFile string
}

// Orchestrator drives the main evaluation loop: refresh account state, feed
// the risk manager's drawdown and milestone tracking, react to preservation
// triggers, and persist state after each tick.
type Orchestrator struct {
	gw      broker.Gateway
	retry   *broker.RetryPolicy
	orders  *order.Manager
	risk    *risk.Manager
	pdt     *pdt.Manager
	monitor *health.Monitor
	store   *storage.Store
	keys    *order.KeyGenerator
	cfg     Config

	entriesDisabled  atomic.Bool
	preservationDone atomic.Bool
}

// New wires the orchestrator. The store may be nil to run without
// persistence (tests do this).
func New(gw broker.Gateway, retry *broker.RetryPolicy, orders *order.Manager,
	riskMgr *risk.Manager, pdtMgr *pdt.Manager, monitor *health.Monitor,
	store *storage.Store, keys *order.KeyGenerator, cfg Config) *Orchestrator {

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if keys == nil {
		keys = order.NewKeyGenerator("")
	}
	return &Orchestrator{
		gw: gw, retry: retry, orders: orders, risk: riskMgr, pdt: pdtMgr,
		monitor: monitor, store: store, keys: keys, cfg: cfg,
	}
}

// PreservationPlan lists the configured actions, in execution order.
func (o *Orchestrator) PreservationPlan() []Action {
	var plan []Action
	if o.cfg.DisableEntries {
		plan = append(plan, ActionDisableEntries)
	}
	if o.cfg.CloseLosers {
		plan = append(plan, ActionCloseLosers)
	}
	if o.cfg.TightenStops {
		plan = append(plan, ActionTightenStops)
	}
	return plan
}

// EntriesDisabled reports whether preservation mode has shut off new buys.
// Strategies check this before proposing entries.
func (o *Orchestrator) EntriesDisabled() bool {
	return o.entriesDisabled.Load()
}

// EnterPreservationMode executes the configured plan. Idempotent; repeat
// triggers while already in preservation mode do nothing.
func (o *Orchestrator) EnterPreservationMode() error {
	if !o.preservationDone.CompareAndSwap(false, true) {
		return nil
	}

	plan := o.PreservationPlan()
	log.Printf("🛡️ ENTERING PRESERVATION MODE, executing %d action(s): %v", len(plan), plan)

	var lastErr error
	for _, action := range plan {
		switch action {
		case ActionDisableEntries:
			o.entriesDisabled.Store(true)
			log.Printf("🚫 New entries disabled")
		case ActionCloseLosers:
			if _, err := o.orders.CloseLosingPositions(); err != nil {
				log.Printf("❌ Preservation: closing losers: %v", err)
				lastErr = err
			}
		case ActionTightenStops:
			if err := o.tightenStops(); err != nil {
				log.Printf("❌ Preservation: tightening stops: %v", err)
				lastErr = err
			}
		}
	}
	return lastErr
}

// ExitPreservationMode re-enables entries and re-arms the one-shot. Called
// by the operator path alongside the monitor's reset.
func (o *Orchestrator) ExitPreservationMode() {
	o.preservationDone.Store(false)
	o.entriesDisabled.Store(false)
	if o.monitor != nil {
		o.monitor.ResetPreservationMode()
	}
	log.Printf("🔄 Preservation mode cleared, entries re-enabled")
}

// tightenStops puts a protective stop just under the market for every long
// position that survived the close-losers pass.
func (o *Orchestrator) tightenStops() error {
	var positions []models.Position
	err := o.retry.Do("get_positions", func() error {
		var e error
		positions, e = o.gw.GetPositions()
		return e
	})
	if err != nil {
		return err
	}

	var lastErr error
	for _, p := range positions {
		if !p.Qty.IsPositive() || !p.CurrentPrice.IsPositive() {
			continue
		}
		stop := p.CurrentPrice.Mul(decimal.NewFromFloat(0.99)).Round(2)
		req := broker.OrderRequest{
			Symbol:         p.Symbol,
			Side:           "sell",
			Type:           "stop",
			Qty:            p.Qty,
			StopPrice:      &stop,
			IdempotencyKey: o.keys.Next("preservation_stop", p.Symbol),
		}
		err := o.retry.Do(fmt.Sprintf("submit_order(%s)", p.Symbol), func() error {
			_, e := o.gw.SubmitOrder(req)
			return e
		})
		if err != nil {
			lastErr = err
			continue
		}
		log.Printf("🪢 Stop tightened: %s sell stop @ $%s", p.Symbol, stop.StringFixed(2))
	}
	return lastErr
}

// Tick is one pass of the main loop: refresh the account, update drawdown
// and milestone floors, evaluate the preservation predicate, persist state.
func (o *Orchestrator) Tick() error {
	var account *models.Account
	err := o.retry.Do("get_account", func() error {
		var e error
		account, e = o.gw.GetAccount()
		return e
	})
	if err != nil {
		return err
	}

	if account.TradingBlocked || account.AccountBlocked {
		log.Printf("🚫 Account is blocked by the broker, skipping evaluation")
		return nil
	}

	equity := account.Equity
	dd := o.risk.UpdateDailyDrawdown(equity)
	o.risk.SetMilestoneFloor(equity)

	errorCount := 0
	if o.monitor != nil {
		errorCount = o.monitor.Status().ErrorCount
	}
	if o.risk.ShouldEnterPreservationMode(equity, errorCount) {
		if err := o.EnterPreservationMode(); err != nil {
			log.Printf("❌ Preservation actions incomplete: %v", err)
		}
	}

	log.Printf("📈 Tick: equity $%s, drawdown %s%%, tier %s, day trades left %d",
		equity.StringFixed(2), dd.StringFixed(2),
		o.risk.CurrentTier(equity).Name, o.pdt.RemainingDayTrades(equity))

	o.saveState()
	return nil
}

func (o *Orchestrator) saveState() {
	if o.store == nil {
		return
	}
	o.store.Save(storage.State{
		Risk: o.risk.Snapshot(),
		PDT:  o.pdt.Snapshot(),
	})
}

// RestoreState loads persisted state into the risk and PDT managers.
func (o *Orchestrator) RestoreState() {
	if o.store == nil {
		return
	}
	s, err := o.store.Load()
	if err != nil {
		log.Printf("⚠️ Could not load state file, starting fresh: %v", err)
		return
	}
	o.risk.Restore(s.Risk)
	o.pdt.Restore(s.PDT)
}

// KillSwitchActive reports whether the kill-switch file exists. Dropping the
// file next to the binary halts trading on the next tick.
func (o *Orchestrator) KillSwitchActive() bool {
	if o.cfg.KillSwitchFile == "" {
		return false
	}
	_, err := os.Stat(o.cfg.KillSwitchFile)
	return err == nil
}

// StartupBanner logs the effective risk and compliance posture once.
func (o *Orchestrator) StartupBanner(account *models.Account) {
	tier := o.risk.CurrentTier(account.Equity)
	log.Println("============================================")
	log.Println("🚀 PulseTrader starting")
	log.Printf("   Equity:     $%s", account.Equity.StringFixed(2))
	log.Printf("   Available:  $%s (after reserve)", o.risk.AvailableCapital(account.Equity).StringFixed(2))
	log.Printf("   Tier:       %s (%s-%s%% per trade, %s%% daily drawdown cap)",
		tier.Name, tier.RiskMinPct, tier.RiskMaxPct, tier.DailyMaxDrawdownPct)
	log.Printf("   %s", o.pdt.StatusReport(account.Equity))
	log.Printf("   Preservation plan: %v", o.PreservationPlan())
	log.Println("============================================")
}

// Run drives the loop until the context is cancelled or the kill switch
// appears. The health monitor runs its own loop; Run only handles ticks.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("👋 Shutdown requested, stopping main loop")
			return ctx.Err()
		case <-ticker.C:
			if o.KillSwitchActive() {
				log.Printf("🛑 Kill switch file %q present, halting trading", o.cfg.KillSwitchFile)
				return nil
			}
			if err := o.Tick(); err != nil {
				log.Printf("❌ Tick failed: %v", err)
			}
		}
	}
}
