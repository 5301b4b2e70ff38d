package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a read-only snapshot of the broker account. Components receive
// it by value and never mutate it; the broker gateway owns the authoritative
// state.
type Account struct {
	ID               string          `json:"id"`
	Currency         string          `json:"currency"`
	Equity           decimal.Decimal `json:"equity"`
	Cash             decimal.Decimal `json:"cash"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	DaytradeCount    int             `json:"daytrade_count"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
	TradingBlocked   bool            `json:"trading_blocked"`
	AccountBlocked   bool            `json:"account_blocked"`
}

// Position is a per-evaluation-cycle snapshot of one open position.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"` // signed; negative for shorts
	Side          string          `json:"side"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	AssetClass    AssetClass      `json:"asset_class"`
}

// OrderStatus enumerates broker order states. The order cache only ever
// stores statuses reported by the broker, never locally fabricated ones.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderAccepted        OrderStatus = "accepted"
	OrderPendingNew      OrderStatus = "pending_new"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderExpired         OrderStatus = "expired"
	OrderRejected        OrderStatus = "rejected"
)

// Order mirrors the broker's view of an order. Mutated only by re-fetching
// authoritative state through the gateway.
type Order struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"` // buy, sell
	Type           string           `json:"type"` // market, limit, stop
	Qty            decimal.Decimal  `json:"qty"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	Status         OrderStatus      `json:"status"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	FilledAvgPrice decimal.Decimal  `json:"filled_avg_price"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	FilledAt       *time.Time       `json:"filled_at,omitempty"`
}

// Quote is a bid/ask snapshot.
type Quote struct {
	Symbol    string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Timestamp time.Time
}

// Clock is the market open/close status.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// DayTradeRecord is one same-calendar-date entry/exit pair. Records are
// append-only and pruned once older than the rolling compliance window.
type DayTradeRecord struct {
	Symbol    string    `json:"symbol"`
	Date      string    `json:"date"` // calendar date, YYYY-MM-DD
	EntryTime time.Time `json:"entry_time"`
	ExitTime  time.Time `json:"exit_time"`
}

// HealthSnapshot is an immutable copy of the connection monitor's state.
// Zero timestamps mean "never".
type HealthSnapshot struct {
	IsHealthy                 bool
	ErrorCount                int
	LastResponseTime          time.Duration
	AvgResponseTime           time.Duration
	LastSuccess               time.Time
	LastCheck                 time.Time
	PreservationModeTriggered bool
}
