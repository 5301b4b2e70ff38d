package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse_trading/internal/broker"
	"pulse_trading/internal/models"
	"pulse_trading/internal/order"
	"pulse_trading/internal/pdt"
	"pulse_trading/internal/risk"
	"pulse_trading/internal/storage"
)

type fakeGateway struct {
	broker.Gateway
	equity    decimal.Decimal
	positions []models.Position
	submitted []broker.OrderRequest
	seq       int
}

func (g *fakeGateway) GetAccount() (*models.Account, error) {
	return &models.Account{Equity: g.equity, Cash: g.equity}, nil
}

func (g *fakeGateway) GetPositions() ([]models.Position, error) {
	return append([]models.Position(nil), g.positions...), nil
}

func (g *fakeGateway) GetPosition(symbol string) (*models.Position, error) {
	for _, p := range g.positions {
		if p.Symbol == symbol {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) SubmitOrder(req broker.OrderRequest) (*models.Order, error) {
	g.submitted = append(g.submitted, req)
	g.seq++
	return &models.Order{
		ID:            fmt.Sprintf("order-%d", g.seq),
		ClientOrderID: req.IdempotencyKey,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           req.Qty,
		Status:        models.OrderAccepted,
	}, nil
}

func newTestOrchestrator(t *testing.T, gw *fakeGateway, riskCfg risk.Config, cfg Config) *Orchestrator {
	t.Helper()
	riskMgr, err := risk.NewManager(riskCfg)
	require.NoError(t, err)
	pdtMgr := pdt.NewManager(pdt.Config{Enabled: true})
	retry := broker.NewRetryPolicy()
	orders := order.NewManager(gw, retry, riskMgr, pdtMgr, nil)
	return New(gw, retry, orders, riskMgr, pdtMgr, nil, nil, nil, cfg)
}

func TestPreservationPlan_FollowsConfig(t *testing.T) {
	gw := &fakeGateway{equity: decimal.NewFromInt(10000)}

	o := newTestOrchestrator(t, gw, risk.Config{}, Config{DisableEntries: true, CloseLosers: true})
	assert.Equal(t, []Action{ActionDisableEntries, ActionCloseLosers}, o.PreservationPlan())

	o = newTestOrchestrator(t, gw, risk.Config{}, Config{TightenStops: true})
	assert.Equal(t, []Action{ActionTightenStops}, o.PreservationPlan())

	o = newTestOrchestrator(t, gw, risk.Config{}, Config{})
	assert.Empty(t, o.PreservationPlan())
}

func TestEnterPreservationMode_DisablesEntriesAndClosesLosers(t *testing.T) {
	gw := &fakeGateway{
		equity: decimal.NewFromInt(10000),
		positions: []models.Position{
			{Symbol: "TQQQ", Qty: decimal.NewFromInt(5), UnrealizedPL: decimal.NewFromInt(-40),
				AssetClass: models.AssetETF},
			{Symbol: "SOXL", Qty: decimal.NewFromInt(3), UnrealizedPL: decimal.NewFromInt(60),
				AssetClass: models.AssetETF},
		},
	}
	o := newTestOrchestrator(t, gw, risk.Config{}, Config{DisableEntries: true, CloseLosers: true})

	require.NoError(t, o.EnterPreservationMode())

	assert.True(t, o.EntriesDisabled())
	require.Len(t, gw.submitted, 1, "only the losing position is closed")
	assert.Equal(t, "TQQQ", gw.submitted[0].Symbol)
	assert.Equal(t, "sell", gw.submitted[0].Side)
}

func TestEnterPreservationMode_IsOneShot(t *testing.T) {
	gw := &fakeGateway{
		equity: decimal.NewFromInt(10000),
		positions: []models.Position{
			{Symbol: "TQQQ", Qty: decimal.NewFromInt(5), UnrealizedPL: decimal.NewFromInt(-40),
				AssetClass: models.AssetETF},
		},
	}
	o := newTestOrchestrator(t, gw, risk.Config{}, Config{CloseLosers: true})

	require.NoError(t, o.EnterPreservationMode())
	require.NoError(t, o.EnterPreservationMode())
	assert.Len(t, gw.submitted, 1, "repeat triggers must not re-run the plan")

	o.ExitPreservationMode()
	require.NoError(t, o.EnterPreservationMode())
	assert.Len(t, gw.submitted, 2, "an explicit reset re-arms the trigger")
}

func TestTightenStops_LongPositionsOnly(t *testing.T) {
	gw := &fakeGateway{
		equity: decimal.NewFromInt(10000),
		positions: []models.Position{
			{Symbol: "SPY", Qty: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(500)},
			{Symbol: "SQQQ", Qty: decimal.NewFromInt(-5), CurrentPrice: decimal.NewFromInt(20)},
		},
	}
	o := newTestOrchestrator(t, gw, risk.Config{}, Config{TightenStops: true})

	require.NoError(t, o.EnterPreservationMode())

	require.Len(t, gw.submitted, 1, "shorts are skipped")
	req := gw.submitted[0]
	assert.Equal(t, "SPY", req.Symbol)
	assert.Equal(t, "stop", req.Type)
	require.NotNil(t, req.StopPrice)
	assert.True(t, req.StopPrice.Equal(decimal.NewFromInt(495)), "got %s", req.StopPrice)
}

func TestTick_TriggersPreservationOnDrawdown(t *testing.T) {
	gw := &fakeGateway{equity: decimal.NewFromInt(10000)}
	o := newTestOrchestrator(t, gw,
		risk.Config{TriggerOnDrawdown: true},
		Config{DisableEntries: true})

	require.NoError(t, o.Tick())
	assert.False(t, o.EntriesDisabled())

	// At $9,500 the account sits in tier_growth (5.0% daily limit); the 5%
	// drop from the $10,000 baseline reaches it exactly.
	gw.equity = decimal.NewFromInt(9500)
	require.NoError(t, o.Tick())
	assert.True(t, o.EntriesDisabled())
}

func TestTick_PersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	gw := &fakeGateway{equity: decimal.NewFromInt(10000)}

	riskMgr, err := risk.NewManager(risk.Config{MilestoneFloorsEnabled: true})
	require.NoError(t, err)
	pdtMgr := pdt.NewManager(pdt.Config{Enabled: true})
	retry := broker.NewRetryPolicy()
	orders := order.NewManager(gw, retry, riskMgr, pdtMgr, nil)
	o := New(gw, retry, orders, riskMgr, pdtMgr, nil, storage.NewStore(path), nil, Config{})

	require.NoError(t, o.Tick())

	st := storage.NewStore(path)
	s, err := st.Load()
	require.NoError(t, err)
	assert.NotEmpty(t, s.Risk.Date, "drawdown baseline was persisted")
	assert.NotEmpty(t, s.Risk.Floors, "milestone floors up to $10k were persisted")
}

func TestKillSwitch(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "KILL_SWITCH")
	gw := &fakeGateway{equity: decimal.NewFromInt(10000)}
	o := newTestOrchestrator(t, gw, risk.Config{}, Config{KillSwitchFile: file})

	assert.False(t, o.KillSwitchActive())
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.True(t, o.KillSwitchActive())
}
