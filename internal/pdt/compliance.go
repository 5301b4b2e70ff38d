package pdt

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pulse_trading/internal/models"
)

const (
	// Threshold is the regulatory equity line. At or above it the account is
	// not subject to pattern-day-trading limits.
	Threshold = 25000
	// MaxDayTrades is the cap for accounts under the threshold.
	MaxDayTrades = 3
	// RollingWindowDays is the lookback for counting day trades.
	RollingWindowDays = 5

	// unlimitedDayTrades is the sentinel returned for unlocked accounts.
	unlimitedDayTrades = 999
)

// Config controls hold-time and focus-asset behavior. Enabled=false turns
// every gate into a pass-through.
type Config struct {
	Enabled bool

	// MinHoldDays applies while the account is under the threshold.
	MinHoldDays int
	// RemoveHoldAboveThreshold drops the hold requirement once unlocked.
	RemoveHoldAboveThreshold bool

	// FocusLocked lists the asset labels a locked account should trade
	// (classes not subject to PDT rules). FocusUnlocked lists everything.
	FocusLocked   []string
	FocusUnlocked []string
}

// State is the persistable slice of the manager.
type State struct {
	DayTrades    []models.DayTradeRecord `json:"day_trades"`
	StockEntries map[string]time.Time    `json:"stock_entries"`
}

// Manager tracks day trades in the rolling window and gates entries, exits
// and asset focus based on equity versus the regulatory threshold.
// Safe for concurrent use.
type Manager struct {
	cfg       Config
	threshold decimal.Decimal

	mu           sync.RWMutex
	dayTrades    []models.DayTradeRecord
	stockEntries map[string]time.Time // symbol -> entry time, stocks/ETFs only

	nowFunc func() time.Time
}

// NewManager builds a compliance manager with config defaults filled in.
func NewManager(cfg Config) *Manager {
	if cfg.MinHoldDays <= 0 {
		cfg.MinHoldDays = 1
	}
	if len(cfg.FocusLocked) == 0 {
		cfg.FocusLocked = []string{string(models.AssetCrypto), models.FocusLeveragedETF}
	}
	if len(cfg.FocusUnlocked) == 0 {
		cfg.FocusUnlocked = []string{
			string(models.AssetStock), string(models.AssetETF),
			string(models.AssetCrypto), models.FocusLeveragedETF,
		}
	}
	return &Manager{
		cfg:          cfg,
		threshold:    decimal.NewFromInt(Threshold),
		stockEntries: make(map[string]time.Time),
		nowFunc:      time.Now,
	}
}

// IsUnlocked reports whether equity clears the regulatory threshold.
func (m *Manager) IsUnlocked(equity decimal.Decimal) bool {
	return equity.GreaterThanOrEqual(m.threshold)
}

// pruneLocked drops records older than the rolling window. Caller holds mu.
func (m *Manager) pruneLocked() {
	cutoff := m.nowFunc().AddDate(0, 0, -RollingWindowDays).Format("2006-01-02")
	kept := m.dayTrades[:0]
	for _, r := range m.dayTrades {
		if r.Date > cutoff {
			kept = append(kept, r)
		}
	}
	m.dayTrades = kept
}

// RemainingDayTrades returns how many day trades are left in the window.
// Unlocked accounts get an effectively unlimited count.
func (m *Manager) RemainingDayTrades(equity decimal.Decimal) int {
	if !m.cfg.Enabled || m.IsUnlocked(equity) {
		return unlimitedDayTrades
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()

	remaining := MaxDayTrades - len(m.dayTrades)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RecordDayTrade appends a record, but only when entry and exit share a
// calendar date. Anything else is not a day trade and is ignored.
func (m *Manager) RecordDayTrade(symbol string, entry, exit time.Time) {
	entryDate := entry.Format("2006-01-02")
	if entryDate != exit.Format("2006-01-02") {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayTrades = append(m.dayTrades, models.DayTradeRecord{
		Symbol:    symbol,
		Date:      entryDate,
		EntryTime: entry,
		ExitTime:  exit,
	})
	log.Printf("📊 Day trade recorded: %s on %s (%d in the trailing %d days)",
		symbol, entryDate, len(m.dayTrades), RollingWindowDays)
}

// CanDayTrade gates a prospective same-day round trip. Unlocked or disabled
// compliance always passes; a locked account with one slot left passes with a
// warning, and with zero slots is rejected.
func (m *Manager) CanDayTrade(equity decimal.Decimal, symbol string) (bool, string) {
	if !m.cfg.Enabled || m.IsUnlocked(equity) {
		return true, ""
	}

	remaining := m.RemainingDayTrades(equity)
	switch {
	case remaining <= 0:
		return false, fmt.Sprintf(
			"PDT violation risk: %s would exceed %d day trades in %d days (equity $%s under $%d)",
			symbol, MaxDayTrades, RollingWindowDays, equity.StringFixed(2), Threshold)
	case remaining == 1:
		log.Printf("⚠️ Last day trade available in the rolling window (%s)", symbol)
		return true, "last day trade available in the rolling window"
	default:
		return true, ""
	}
}

// CanExitPositionToday gates an exit against the day-trade budget. Only a
// same-day entry makes the exit a day trade; anything held overnight exits
// freely.
func (m *Manager) CanExitPositionToday(equity decimal.Decimal, symbol string, entryTime time.Time) (bool, string) {
	if entryTime.Format("2006-01-02") != m.nowFunc().Format("2006-01-02") {
		return true, ""
	}
	return m.CanDayTrade(equity, symbol)
}

// MinimumHoldTime is how long a stock/ETF position must be held before exit.
func (m *Manager) MinimumHoldTime(equity decimal.Decimal) time.Duration {
	if !m.cfg.Enabled {
		return 0
	}
	if m.IsUnlocked(equity) && m.cfg.RemoveHoldAboveThreshold {
		return 0
	}
	return time.Duration(m.cfg.MinHoldDays) * 24 * time.Hour
}

// RecordStockEntry notes when a stock/ETF position was opened so the minimum
// hold can be enforced on exit. Crypto entries are not tracked.
func (m *Manager) RecordStockEntry(symbol string, at time.Time) {
	if models.ClassifyAsset(symbol) == models.AssetCrypto {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stockEntries[symbol] = at
}

// RemoveStockEntry clears the entry record once the position is closed.
func (m *Manager) RemoveStockEntry(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stockEntries, symbol)
}

// StockEntryTime returns the recorded entry time for a symbol, if any.
func (m *Manager) StockEntryTime(symbol string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.stockEntries[symbol]
	return at, ok
}

// CanExitStockPosition denies an exit until the minimum hold has elapsed
// since the recorded entry; once elapsed it defers to the day-trade gate.
// Symbols with no recorded entry exit freely.
func (m *Manager) CanExitStockPosition(equity decimal.Decimal, symbol string) (bool, string) {
	if !m.cfg.Enabled {
		return true, ""
	}

	entry, ok := m.StockEntryTime(symbol)
	if !ok {
		return true, ""
	}

	hold := m.MinimumHoldTime(equity)
	held := m.nowFunc().Sub(entry)
	if held < hold {
		return false, fmt.Sprintf("minimum hold: %s held %s of required %s",
			symbol, held.Round(time.Minute), hold)
	}
	return m.CanExitPositionToday(equity, symbol, entry)
}

// FocusAssets returns the asset labels the account should trade right now.
func (m *Manager) FocusAssets(equity decimal.Decimal) []string {
	if !m.cfg.Enabled || m.IsUnlocked(equity) {
		return append([]string(nil), m.cfg.FocusUnlocked...)
	}
	return append([]string(nil), m.cfg.FocusLocked...)
}

// IsStockTradingAllowed reports whether plain stocks are in the current
// focus set. Locked accounts are steered toward assets outside PDT rules.
func (m *Manager) IsStockTradingAllowed(equity decimal.Decimal) bool {
	for _, a := range m.FocusAssets(equity) {
		if a == string(models.AssetStock) {
			return true
		}
	}
	return false
}

// StatusReport summarizes the compliance position for logs and the startup
// banner.
func (m *Manager) StatusReport(equity decimal.Decimal) string {
	if !m.cfg.Enabled {
		return "PDT compliance disabled"
	}
	if m.IsUnlocked(equity) {
		return fmt.Sprintf("PDT unlocked (equity $%s ≥ $%d): unlimited day trades",
			equity.StringFixed(2), Threshold)
	}
	return fmt.Sprintf("PDT locked (equity $%s < $%d): %d of %d day trades remaining, focus %v",
		equity.StringFixed(2), Threshold, m.RemainingDayTrades(equity), MaxDayTrades, m.cfg.FocusLocked)
}

// Snapshot exports the persistable state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trades := make([]models.DayTradeRecord, len(m.dayTrades))
	copy(trades, m.dayTrades)
	entries := make(map[string]time.Time, len(m.stockEntries))
	for k, v := range m.stockEntries {
		entries[k] = v
	}
	return State{DayTrades: trades, StockEntries: entries}
}

// Restore loads persisted state. Expired records are pruned on load.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dayTrades = make([]models.DayTradeRecord, len(s.DayTrades))
	copy(m.dayTrades, s.DayTrades)
	m.stockEntries = make(map[string]time.Time, len(s.StockEntries))
	for k, v := range s.StockEntries {
		m.stockEntries[k] = v
	}
	m.pruneLocked()
	log.Printf("💾 PDT state restored: %d day trades in window, %d tracked entries",
		len(m.dayTrades), len(m.stockEntries))
}
