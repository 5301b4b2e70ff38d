package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse_trading/internal/models"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestAvailableCapital_TwentyPercentReserve(t *testing.T) {
	m := newTestManager(t, Config{})

	got := m.AvailableCapital(decimal.NewFromInt(1000))
	assert.True(t, got.Equal(decimal.NewFromInt(800)), "want 800, got %s", got)

	got = m.AvailableCapital(decimal.NewFromFloat(12345.67))
	want := decimal.NewFromFloat(12345.67).Mul(decimal.NewFromFloat(0.8))
	assert.True(t, got.Equal(want), "want %s, got %s", want, got)
}

func TestCurrentTier_PartitionIsTotal(t *testing.T) {
	m := newTestManager(t, Config{})

	cases := []struct {
		equity string
		tier   string
	}{
		{"0", "tier_starter"},
		{"1000", "tier_starter"},
		{"2499.99", "tier_starter"},
		{"2500", "tier_growth"},
		{"9999.99", "tier_growth"},
		{"10000", "tier_scale"},
		{"25000", "tier_pdt"},
		{"100000", "tier_six_figure"},
		{"1000000", "tier_1m_plus"},
		{"50000000", "tier_1m_plus"},
	}
	for _, tc := range cases {
		tier := m.CurrentTier(decimal.RequireFromString(tc.equity))
		assert.Equal(t, tc.tier, tier.Name, "equity %s", tc.equity)
	}
}

func TestValidateTiers_RejectsGaps(t *testing.T) {
	broken := []Tier{
		{Name: "a", MinEquity: dec("0"), MaxEquity: dec("1000")},
		{Name: "b", MinEquity: dec("2000"), MaxEquity: decimal.Zero},
	}
	assert.Error(t, ValidateTiers(broken))

	assert.NoError(t, ValidateTiers(DefaultTiers()))
}

func TestSizePosition_MidpointAndClamp(t *testing.T) {
	m := newTestManager(t, Config{})
	equity := decimal.NewFromInt(1000) // tier_starter, band 8-15%

	// No explicit risk: midpoint 11.5% of $800 available.
	s := m.SizePosition(equity, decimal.Zero, decimal.Zero, decimal.Zero)
	assert.Equal(t, "tier_starter", s.TierName)
	assert.True(t, s.RiskPct.Equal(dec("11.5")), "got %s", s.RiskPct)
	assert.True(t, s.Value.Equal(decimal.NewFromInt(92)), "got %s", s.Value)

	// Explicit 20% clamps down to the band's 15% ceiling.
	s = m.SizePosition(equity, decimal.NewFromInt(20), decimal.Zero, decimal.Zero)
	assert.True(t, s.RiskPct.Equal(decimal.NewFromInt(15)))
	assert.True(t, s.Value.Equal(decimal.NewFromInt(120)), "got %s", s.Value)

	// Explicit 2% clamps up to the band's 8% floor.
	s = m.SizePosition(equity, decimal.NewFromInt(2), decimal.Zero, decimal.Zero)
	assert.True(t, s.RiskPct.Equal(decimal.NewFromInt(8)))
}

func TestSizePosition_WholeSharesOnly(t *testing.T) {
	m := newTestManager(t, Config{})
	equity := decimal.NewFromInt(1000)
	price := decimal.NewFromInt(50)

	// 15% of $800 = $120 -> 2 shares at $50, value recomputed to $100.
	s := m.SizePosition(equity, decimal.NewFromInt(15), price, decimal.Zero)
	assert.Equal(t, int64(2), s.Shares)
	assert.True(t, s.Value.Equal(decimal.NewFromInt(100)), "got %s", s.Value)
}

func TestSizePosition_RiskAmountUsesStop(t *testing.T) {
	m := newTestManager(t, Config{})
	equity := decimal.NewFromInt(1000)

	s := m.SizePosition(equity, decimal.NewFromInt(10), decimal.Zero, decimal.NewFromInt(5))
	// value = $80, 5% stop -> $4 at risk
	assert.True(t, s.RiskAmount.Equal(decimal.NewFromInt(4)), "got %s", s.RiskAmount)

	s = m.SizePosition(equity, decimal.NewFromInt(10), decimal.Zero, decimal.Zero)
	assert.True(t, s.RiskAmount.Equal(s.Value))
}

func TestValidateTrade_ReserveViolation(t *testing.T) {
	m := newTestManager(t, Config{})
	equity := decimal.NewFromInt(1000)

	ok, reasons := m.ValidateTrade(equity, decimal.NewFromInt(900), models.AssetStock, nil)
	assert.False(t, ok)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "reserve violation")

	ok, reasons = m.ValidateTrade(equity, decimal.NewFromInt(800), models.AssetStock, nil)
	assert.True(t, ok)
	assert.Empty(t, reasons)
}

func TestValidateTrade_CollectsAllReasons(t *testing.T) {
	m := newTestManager(t, Config{
		MaxPositions: map[models.AssetClass]int{models.AssetStock: 2},
	})
	equity := decimal.NewFromInt(1000)
	counts := map[models.AssetClass]int{models.AssetStock: 2}

	ok, reasons := m.ValidateTrade(equity, decimal.NewFromInt(900), models.AssetStock, counts)
	assert.False(t, ok)
	require.Len(t, reasons, 2)
	assert.Contains(t, reasons[0], "reserve violation")
	assert.Contains(t, reasons[1], "position limit")
}

func TestValidateTrade_FloorProximityIsWarningOnly(t *testing.T) {
	m := newTestManager(t, Config{MilestoneFloorsEnabled: true})
	m.SetMilestoneFloor(decimal.NewFromInt(1000)) // floor 937.50

	// Equity just above the floor: inside the 2% buffer.
	equity := decimal.NewFromInt(950)
	ok, reasons := m.ValidateTrade(equity, decimal.NewFromInt(100), models.AssetStock, nil)
	assert.True(t, ok, "floor proximity must not reject on its own")
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "milestone floor")
}

func TestUpdateDailyDrawdown_HighWaterMark(t *testing.T) {
	m := newTestManager(t, Config{})
	now := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }

	dd := m.UpdateDailyDrawdown(decimal.NewFromInt(1000))
	assert.True(t, dd.IsZero(), "baseline call returns zero")

	dd = m.UpdateDailyDrawdown(decimal.NewFromInt(950))
	assert.True(t, dd.Equal(decimal.NewFromInt(5)), "got %s", dd)

	// Recovery does not lower the high-water mark.
	dd = m.UpdateDailyDrawdown(decimal.NewFromInt(990))
	assert.True(t, dd.Equal(decimal.NewFromInt(5)), "got %s", dd)

	dd = m.UpdateDailyDrawdown(decimal.NewFromInt(940))
	assert.True(t, dd.Equal(decimal.NewFromInt(6)), "got %s", dd)
}

func TestUpdateDailyDrawdown_ResetsAtDayRollover(t *testing.T) {
	m := newTestManager(t, Config{})
	day1 := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return day1 }

	m.UpdateDailyDrawdown(decimal.NewFromInt(1000))
	m.UpdateDailyDrawdown(decimal.NewFromInt(900))
	assert.True(t, m.DailyDrawdownPct().Equal(decimal.NewFromInt(10)))

	day2 := day1.Add(24 * time.Hour)
	m.nowFunc = func() time.Time { return day2 }

	dd := m.UpdateDailyDrawdown(decimal.NewFromInt(900))
	assert.True(t, dd.IsZero(), "rollover resets drawdown, got %s", dd)
}

func TestCheckDailyDrawdownLimit_TierLimit(t *testing.T) {
	m := newTestManager(t, Config{})
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }

	// tier_starter daily limit is 6.0%.
	m.UpdateDailyDrawdown(decimal.NewFromInt(1000))

	m.UpdateDailyDrawdown(decimal.NewFromInt(941)) // 5.9%
	ok, _ := m.CheckDailyDrawdownLimit(decimal.NewFromInt(941))
	assert.True(t, ok, "5.9%% is under the 6%% limit")

	m.UpdateDailyDrawdown(decimal.NewFromInt(940)) // 6.0%
	ok, reason := m.CheckDailyDrawdownLimit(decimal.NewFromInt(940))
	assert.False(t, ok)
	assert.Contains(t, reason, "drawdown limit")
}

func TestMilestoneFloors_RatchetAndBreach(t *testing.T) {
	m := newTestManager(t, Config{MilestoneFloorsEnabled: true})

	m.SetMilestoneFloor(decimal.NewFromInt(2600))
	floors := m.MilestoneFloors()
	require.Len(t, floors, 2, "1000 and 2500 milestones crossed")
	assert.True(t, floors[0].Floor.Equal(dec("937.5")), "got %s", floors[0].Floor)
	assert.True(t, floors[1].Floor.Equal(dec("2343.75")), "got %s", floors[1].Floor)

	// Setting again for the same equity adds nothing.
	m.SetMilestoneFloor(decimal.NewFromInt(2600))
	assert.Len(t, m.MilestoneFloors(), 2)

	assert.False(t, m.MilestoneFloorBreached(decimal.NewFromInt(2400)))
	assert.True(t, m.MilestoneFloorBreached(decimal.NewFromInt(2300)))

	// Within 2% above the 2343.75 floor.
	assert.True(t, m.IsApproachingMilestoneFloor(dec("2380")))
	assert.False(t, m.IsApproachingMilestoneFloor(dec("2500")))
}

func TestMilestoneFloors_DisabledIsNoop(t *testing.T) {
	m := newTestManager(t, Config{})
	m.SetMilestoneFloor(decimal.NewFromInt(100000))
	assert.Empty(t, m.MilestoneFloors())
	assert.False(t, m.IsApproachingMilestoneFloor(decimal.NewFromInt(1)))
}

func TestShouldEnterPreservationMode_Triggers(t *testing.T) {
	m := newTestManager(t, Config{
		MilestoneFloorsEnabled: true,
		TriggerOnFloorApproach: true,
		TriggerOnDrawdown:      true,
		TriggerOnAPIErrors:     true,
	})
	equity := decimal.NewFromInt(5000)

	assert.False(t, m.ShouldEnterPreservationMode(equity, 0))
	assert.False(t, m.ShouldEnterPreservationMode(equity, 4))
	assert.True(t, m.ShouldEnterPreservationMode(equity, 5), "5 broker errors hit the threshold")

	m.SetMilestoneFloor(decimal.NewFromInt(5000)) // floor 4687.50
	assert.True(t, m.ShouldEnterPreservationMode(dec("4700"), 0))
}

func TestShouldEnterPreservationMode_TriggersDisabled(t *testing.T) {
	m := newTestManager(t, Config{MilestoneFloorsEnabled: true})
	m.SetMilestoneFloor(decimal.NewFromInt(5000))
	assert.False(t, m.ShouldEnterPreservationMode(dec("4700"), 100))
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	m := newTestManager(t, Config{MilestoneFloorsEnabled: true})
	m.nowFunc = func() time.Time { return now }
	m.UpdateDailyDrawdown(decimal.NewFromInt(1000))
	m.UpdateDailyDrawdown(decimal.NewFromInt(960))
	m.SetMilestoneFloor(decimal.NewFromInt(1000))

	snap := m.Snapshot()

	restored := newTestManager(t, Config{MilestoneFloorsEnabled: true})
	restored.nowFunc = func() time.Time { return now }
	restored.Restore(snap)

	assert.True(t, restored.DailyDrawdownPct().Equal(decimal.NewFromInt(4)))
	assert.Len(t, restored.MilestoneFloors(), 1)

	// Restoring yesterday's baseline on a new day keeps only the floors.
	nextDay := newTestManager(t, Config{MilestoneFloorsEnabled: true})
	nextDay.nowFunc = func() time.Time { return now.Add(24 * time.Hour) }
	nextDay.Restore(snap)
	assert.True(t, nextDay.DailyDrawdownPct().IsZero())
	assert.Len(t, nextDay.MilestoneFloors(), 1)
}
