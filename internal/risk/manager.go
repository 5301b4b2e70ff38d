package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pulse_trading/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Config holds the risk budget knobs. Zero-value fields fall back to the
// defaults applied in NewManager.
type Config struct {
	ReservePct decimal.Decimal // mandatory reserve, percent of equity (default 20)
	Tiers      []Tier

	MaxPositions map[models.AssetClass]int // open-position ceiling per class

	MilestoneFloorsEnabled bool
	MilestoneLevels        []decimal.Decimal
	FloorPct               decimal.Decimal // floor = milestone × FloorPct/100 (default 93.75)
	FloorBufferPct         decimal.Decimal // "approaching" margin above the floor (default 2)

	APIErrorThreshold int // consecutive broker errors before preservation (default 5)

	// Preservation mode trigger switches.
	TriggerOnFloorApproach bool
	TriggerOnDrawdown      bool
	TriggerOnAPIErrors     bool
}

// MilestoneFloor is a ratcheted warning level. Once equity has crossed a
// milestone the floor stays for the life of the process.
type MilestoneFloor struct {
	Milestone decimal.Decimal `json:"milestone"`
	Floor     decimal.Decimal `json:"floor"`
	SetAt     time.Time       `json:"set_at"`
}

// PositionSize is the result of sizing one trade.
type PositionSize struct {
	Value      decimal.Decimal
	Shares     int64
	RiskPct    decimal.Decimal
	RiskAmount decimal.Decimal
	TierName   string
}

// State is the persistable slice of the manager: the intraday drawdown
// baseline and the ratcheted floors. Tiers and limits come from config.
type State struct {
	Date           string           `json:"date"` // calendar date of the baseline, YYYY-MM-DD
	DayStartEquity decimal.Decimal  `json:"day_start_equity"`
	MaxDrawdownPct decimal.Decimal  `json:"max_drawdown_pct"`
	Floors         []MilestoneFloor `json:"floors"`
}

// Manager gates every trade against the mandatory reserve, tier sizing,
// per-class position limits and the intraday drawdown circuit breaker.
// Safe for concurrent use.
type Manager struct {
	cfg Config

	mu             sync.RWMutex
	dayDate        string // calendar date the baseline belongs to
	dayStartEquity decimal.Decimal
	maxDrawdownPct decimal.Decimal
	ddWarned       bool // early-warning logged once per day
	floors         []MilestoneFloor

	nowFunc func() time.Time
}

// NewManager builds a risk manager, filling config defaults and validating
// the tier table. A broken tier table is a startup error, not something to
// limp along with.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ReservePct.IsZero() {
		cfg.ReservePct = decimal.NewFromInt(20)
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if err := ValidateTiers(cfg.Tiers); err != nil {
		return nil, fmt.Errorf("risk tier table: %w", err)
	}
	if cfg.FloorPct.IsZero() {
		cfg.FloorPct = dec("93.75")
	}
	if cfg.FloorBufferPct.IsZero() {
		cfg.FloorBufferPct = two
	}
	if cfg.APIErrorThreshold <= 0 {
		cfg.APIErrorThreshold = 5
	}
	if len(cfg.MilestoneLevels) == 0 && cfg.MilestoneFloorsEnabled {
		cfg.MilestoneLevels = DefaultMilestones()
	}
	return &Manager{cfg: cfg, nowFunc: time.Now}, nil
}

// DefaultMilestones is the equity ladder that earns a ratcheted floor.
func DefaultMilestones() []decimal.Decimal {
	return []decimal.Decimal{
		decimal.NewFromInt(1000), decimal.NewFromInt(2500), decimal.NewFromInt(5000),
		decimal.NewFromInt(10000), decimal.NewFromInt(25000), decimal.NewFromInt(50000),
		decimal.NewFromInt(100000), decimal.NewFromInt(250000), decimal.NewFromInt(500000),
		decimal.NewFromInt(1000000),
	}
}

// AvailableCapital is equity minus the mandatory reserve.
func (m *Manager) AvailableCapital(equity decimal.Decimal) decimal.Decimal {
	factor := hundred.Sub(m.cfg.ReservePct).Div(hundred)
	return equity.Mul(factor)
}

// CurrentTier maps equity to its risk tier. Equity above every bounded range
// lands in the top tier.
func (m *Manager) CurrentTier(equity decimal.Decimal) Tier {
	for _, t := range m.cfg.Tiers {
		if t.Contains(equity) {
			return t
		}
	}
	return m.cfg.Tiers[len(m.cfg.Tiers)-1]
}

// SizePosition computes the dollar value and whole-share quantity for one
// trade. A zero riskPct means "use the tier midpoint"; an explicit riskPct is
// clamped into the tier band. With a price the value is floored to whole
// shares and recomputed, so equities never get fractional quantities.
// riskAmount is the capital actually at risk given the stop, or the whole
// position when no stop is set.
func (m *Manager) SizePosition(equity, riskPct, price, stopLossPct decimal.Decimal) PositionSize {
	tier := m.CurrentTier(equity)

	if riskPct.IsZero() {
		riskPct = tier.RiskMidpointPct()
	} else {
		riskPct = tier.ClampRiskPct(riskPct)
	}

	value := m.AvailableCapital(equity).Mul(riskPct).Div(hundred)

	var shares int64
	if price.IsPositive() {
		shares = value.Div(price).IntPart()
		value = price.Mul(decimal.NewFromInt(shares))
	}

	riskAmount := value
	if stopLossPct.IsPositive() {
		riskAmount = value.Mul(stopLossPct).Div(hundred)
	}

	return PositionSize{
		Value:      value,
		Shares:     shares,
		RiskPct:    riskPct,
		RiskAmount: riskAmount,
		TierName:   tier.Name,
	}
}

// ValidateTrade runs every gate and collects all failing reasons so the
// caller sees the full picture at once. The milestone-floor proximity check
// is a warning only and never rejects on its own.
func (m *Manager) ValidateTrade(equity, proposedValue decimal.Decimal, class models.AssetClass, positionCounts map[models.AssetClass]int) (bool, []string) {
	ok := true
	var reasons []string

	available := m.AvailableCapital(equity)
	if proposedValue.GreaterThan(available) {
		ok = false
		reasons = append(reasons, fmt.Sprintf(
			"reserve violation: proposed $%s exceeds available capital $%s (%s%% reserve held back)",
			proposedValue.StringFixed(2), available.StringFixed(2), m.cfg.ReservePct))
	}

	if limit, found := m.cfg.MaxPositions[class]; found && limit > 0 {
		if positionCounts[class] >= limit {
			ok = false
			reasons = append(reasons, fmt.Sprintf(
				"position limit: already holding %d/%d %s positions", positionCounts[class], limit, class))
		}
	}

	if ddOK, reason := m.CheckDailyDrawdownLimit(equity); !ddOK {
		ok = false
		reasons = append(reasons, reason)
	}

	if m.IsApproachingMilestoneFloor(equity) {
		reasons = append(reasons, fmt.Sprintf(
			"warning: equity $%s is approaching a milestone floor", equity.StringFixed(2)))
	}

	return ok, reasons
}

// UpdateDailyDrawdown records the intraday high-water drawdown. The first
// call of a new calendar day resets the baseline to the current equity; the
// returned percentage is monotonic non-decreasing within the day.
func (m *Manager) UpdateDailyDrawdown(equity decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.nowFunc().Format("2006-01-02")
	if m.dayDate != today {
		m.dayDate = today
		m.dayStartEquity = equity
		m.maxDrawdownPct = decimal.Zero
		m.ddWarned = false
		log.Printf("📅 New trading day %s, drawdown baseline set to $%s", today, equity.StringFixed(2))
		return decimal.Zero
	}

	if !m.dayStartEquity.IsPositive() {
		return m.maxDrawdownPct
	}

	dd := m.dayStartEquity.Sub(equity).Div(m.dayStartEquity).Mul(hundred)
	if dd.GreaterThan(m.maxDrawdownPct) {
		m.maxDrawdownPct = dd
	}
	return m.maxDrawdownPct
}

// CheckDailyDrawdownLimit fails once today's high-water drawdown has reached
// the tier's daily limit. An early warning is logged the first time the day
// crosses 80% of the limit.
func (m *Manager) CheckDailyDrawdownLimit(equity decimal.Decimal) (bool, string) {
	tier := m.CurrentTier(equity)
	limit := tier.DailyMaxDrawdownPct

	m.mu.Lock()
	dd := m.maxDrawdownPct
	warnAt := limit.Mul(dec("0.8"))
	if dd.GreaterThanOrEqual(warnAt) && dd.LessThan(limit) && !m.ddWarned {
		m.ddWarned = true
		log.Printf("⚠️ Daily drawdown %s%% at 80%% of the %s%% limit (%s)",
			dd.StringFixed(2), limit, tier.Name)
	}
	m.mu.Unlock()

	if dd.GreaterThanOrEqual(limit) {
		return false, fmt.Sprintf("daily drawdown limit: %s%% reached the %s%% maximum for %s",
			dd.StringFixed(2), limit, tier.Name)
	}
	return true, ""
}

// DailyDrawdownPct returns today's high-water drawdown.
func (m *Manager) DailyDrawdownPct() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxDrawdownPct
}

// SetMilestoneFloor ratchets in a floor for every configured milestone the
// equity has crossed and that has no floor yet. Floors are never removed.
func (m *Manager) SetMilestoneFloor(equity decimal.Decimal) {
	if !m.cfg.MilestoneFloorsEnabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, milestone := range m.cfg.MilestoneLevels {
		if equity.LessThan(milestone) {
			continue
		}
		if m.hasFloorLocked(milestone) {
			continue
		}
		floor := milestone.Mul(m.cfg.FloorPct).Div(hundred)
		m.floors = append(m.floors, MilestoneFloor{
			Milestone: milestone,
			Floor:     floor,
			SetAt:     m.nowFunc(),
		})
		log.Printf("🏆 Milestone $%s reached! Floor locked in at $%s",
			milestone.StringFixed(0), floor.StringFixed(2))
	}
}

func (m *Manager) hasFloorLocked(milestone decimal.Decimal) bool {
	for _, f := range m.floors {
		if f.Milestone.Equal(milestone) {
			return true
		}
	}
	return false
}

// MilestoneFloors returns a copy of the ratcheted floors.
func (m *Manager) MilestoneFloors() []MilestoneFloor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MilestoneFloor, len(m.floors))
	copy(out, m.floors)
	return out
}

// highestFloor returns the largest floor value set so far, or zero.
func (m *Manager) highestFloor() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	highest := decimal.Zero
	for _, f := range m.floors {
		if f.Floor.GreaterThan(highest) {
			highest = f.Floor
		}
	}
	return highest
}

// MilestoneFloorBreached reports whether equity has fallen below the highest
// ratcheted floor.
func (m *Manager) MilestoneFloorBreached(equity decimal.Decimal) bool {
	floor := m.highestFloor()
	return floor.IsPositive() && equity.LessThan(floor)
}

// IsApproachingMilestoneFloor reports whether equity is within the buffer
// above the highest floor (or already under it).
func (m *Manager) IsApproachingMilestoneFloor(equity decimal.Decimal) bool {
	floor := m.highestFloor()
	if !floor.IsPositive() {
		return false
	}
	threshold := floor.Mul(hundred.Add(m.cfg.FloorBufferPct)).Div(hundred)
	return equity.LessThanOrEqual(threshold)
}

// ShouldEnterPreservationMode is the OR of the configured triggers: floor
// proximity, drawdown breach, and sustained broker errors.
func (m *Manager) ShouldEnterPreservationMode(equity decimal.Decimal, apiErrorCount int) bool {
	if m.cfg.TriggerOnFloorApproach && m.IsApproachingMilestoneFloor(equity) {
		log.Printf("🛡️ Preservation trigger: equity $%s near milestone floor", equity.StringFixed(2))
		return true
	}
	if m.cfg.TriggerOnDrawdown {
		if ok, reason := m.CheckDailyDrawdownLimit(equity); !ok {
			log.Printf("🛡️ Preservation trigger: %s", reason)
			return true
		}
	}
	if m.cfg.TriggerOnAPIErrors && apiErrorCount >= m.cfg.APIErrorThreshold {
		log.Printf("🛡️ Preservation trigger: %d consecutive broker errors (threshold %d)",
			apiErrorCount, m.cfg.APIErrorThreshold)
		return true
	}
	return false
}

// Snapshot exports the persistable state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	floors := make([]MilestoneFloor, len(m.floors))
	copy(floors, m.floors)
	return State{
		Date:           m.dayDate,
		DayStartEquity: m.dayStartEquity,
		MaxDrawdownPct: m.maxDrawdownPct,
		Floors:         floors,
	}
}

// Restore loads persisted state. A baseline from an earlier calendar day is
// dropped so the next UpdateDailyDrawdown call starts the day fresh; floors
// are always restored because they ratchet for life.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.floors = make([]MilestoneFloor, len(s.Floors))
	copy(m.floors, s.Floors)

	if s.Date == m.nowFunc().Format("2006-01-02") {
		m.dayDate = s.Date
		m.dayStartEquity = s.DayStartEquity
		m.maxDrawdownPct = s.MaxDrawdownPct
	}
	log.Printf("💾 Risk state restored: %d milestone floors, drawdown baseline %s",
		len(m.floors), s.Date)
}
