package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is one equity band of the risk budget. MaxEquity is exclusive; a zero
// MaxEquity marks the unbounded top tier. RiskMinPct/RiskMaxPct bound the
// per-trade risk percentage and DailyMaxDrawdownPct is the intraday circuit
// breaker for accounts in the band.
type Tier struct {
	Name                string          `json:"name"`
	MinEquity           decimal.Decimal `json:"min_equity"`
	MaxEquity           decimal.Decimal `json:"max_equity"` // exclusive; zero = unbounded
	RiskMinPct          decimal.Decimal `json:"risk_min_pct"`
	RiskMaxPct          decimal.Decimal `json:"risk_max_pct"`
	DailyMaxDrawdownPct decimal.Decimal `json:"daily_max_drawdown_pct"`
	Aggression          string          `json:"aggression"`
}

// Contains reports whether equity falls inside the tier's half-open range.
func (t Tier) Contains(equity decimal.Decimal) bool {
	if equity.LessThan(t.MinEquity) {
		return false
	}
	if t.MaxEquity.IsZero() {
		return true
	}
	return equity.LessThan(t.MaxEquity)
}

// RiskMidpointPct is the default per-trade risk percentage for the tier.
func (t Tier) RiskMidpointPct() decimal.Decimal {
	return t.RiskMinPct.Add(t.RiskMaxPct).Div(decimal.NewFromInt(2))
}

// ClampRiskPct pulls an explicit risk percentage into the tier's band.
func (t Tier) ClampRiskPct(pct decimal.Decimal) decimal.Decimal {
	if pct.LessThan(t.RiskMinPct) {
		return t.RiskMinPct
	}
	if pct.GreaterThan(t.RiskMaxPct) {
		return t.RiskMaxPct
	}
	return pct
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// DefaultTiers is the standard ladder. Small accounts run hotter per trade
// with a looser drawdown limit; the bands tighten as capital grows.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "tier_starter", MinEquity: dec("0"), MaxEquity: dec("2500"),
			RiskMinPct: dec("8"), RiskMaxPct: dec("15"), DailyMaxDrawdownPct: dec("6.0"), Aggression: "aggressive"},
		{Name: "tier_growth", MinEquity: dec("2500"), MaxEquity: dec("10000"),
			RiskMinPct: dec("6"), RiskMaxPct: dec("12"), DailyMaxDrawdownPct: dec("5.0"), Aggression: "aggressive"},
		{Name: "tier_scale", MinEquity: dec("10000"), MaxEquity: dec("25000"),
			RiskMinPct: dec("5"), RiskMaxPct: dec("10"), DailyMaxDrawdownPct: dec("4.0"), Aggression: "moderate"},
		{Name: "tier_pdt", MinEquity: dec("25000"), MaxEquity: dec("100000"),
			RiskMinPct: dec("4"), RiskMaxPct: dec("8"), DailyMaxDrawdownPct: dec("3.0"), Aggression: "moderate"},
		{Name: "tier_six_figure", MinEquity: dec("100000"), MaxEquity: dec("1000000"),
			RiskMinPct: dec("2"), RiskMaxPct: dec("5"), DailyMaxDrawdownPct: dec("2.5"), Aggression: "conservative"},
		{Name: "tier_1m_plus", MinEquity: dec("1000000"), MaxEquity: decimal.Zero,
			RiskMinPct: dec("1"), RiskMaxPct: dec("3"), DailyMaxDrawdownPct: dec("2.0"), Aggression: "conservative"},
	}
}

// ValidateTiers checks that a tier table is a sorted, gap-free partition of
// the equity axis starting at zero and ending in one unbounded tier.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("tier table is empty")
	}
	if !tiers[0].MinEquity.IsZero() {
		return fmt.Errorf("first tier %q must start at 0, starts at %s", tiers[0].Name, tiers[0].MinEquity)
	}
	for i, t := range tiers {
		last := i == len(tiers)-1
		if last {
			if !t.MaxEquity.IsZero() {
				return fmt.Errorf("last tier %q must be unbounded", t.Name)
			}
			continue
		}
		if t.MaxEquity.IsZero() {
			return fmt.Errorf("tier %q is unbounded but not last", t.Name)
		}
		if !t.MaxEquity.GreaterThan(t.MinEquity) {
			return fmt.Errorf("tier %q has empty range [%s, %s)", t.Name, t.MinEquity, t.MaxEquity)
		}
		if !tiers[i+1].MinEquity.Equal(t.MaxEquity) {
			return fmt.Errorf("gap between tier %q (ends %s) and %q (starts %s)",
				t.Name, t.MaxEquity, tiers[i+1].Name, tiers[i+1].MinEquity)
		}
	}
	return nil
}
