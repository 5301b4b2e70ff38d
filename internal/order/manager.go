package order

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"pulse_trading/internal/broker"
	"pulse_trading/internal/models"
	"pulse_trading/internal/pdt"
	"pulse_trading/internal/risk"
)

var (
	metricOrdersAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_orders_attempted_total",
		Help: "Order submissions requested by strategies.",
	})
	metricOrdersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_orders_rejected_total",
		Help: "Submissions rejected before reaching the broker.",
	}, []string{"gate"})
	metricOrdersSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_orders_submitted_total",
		Help: "Orders accepted by the broker.",
	})
	metricOrdersFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_orders_failed_total",
		Help: "Broker submissions that errored after retries.",
	})
	metricPositionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_positions_closed_total",
		Help: "Positions closed through the order manager.",
	})
)

func init() {
	prometheus.MustRegister(
		metricOrdersAttempted, metricOrdersRejected,
		metricOrdersSubmitted, metricOrdersFailed, metricPositionsClosed,
	)
}

// closeStrategy tags orders generated by position-close paths rather than a
// trading strategy.
const closeStrategy = "position_close"

// Manager runs the order pipeline: validate caller input, gate through risk
// and PDT compliance, submit idempotently through the retry policy, and keep
// a cache of broker order state. Rejections by a gate are not errors; they
// come back as a nil order with the reasons logged.
type Manager struct {
	gw    broker.Gateway
	retry *broker.RetryPolicy
	risk  *risk.Manager
	pdt   *pdt.Manager
	keys  *KeyGenerator

	mu     sync.RWMutex
	orders map[string]*models.Order // broker order id -> last fetched state

	// Per-symbol submission locks. Two concurrent submissions for the same
	// symbol would race between the position-count snapshot and the broker
	// call, so submissions serialize per symbol.
	lockMu   sync.Mutex
	symLocks map[string]*sync.Mutex

	nowFunc func() time.Time
}

// NewManager wires the pipeline. All collaborators are required except keys,
// which defaults to the "pulse" prefix.
func NewManager(gw broker.Gateway, retry *broker.RetryPolicy, riskMgr *risk.Manager, pdtMgr *pdt.Manager, keys *KeyGenerator) *Manager {
	if keys == nil {
		keys = NewKeyGenerator("")
	}
	return &Manager{
		gw:       gw,
		retry:    retry,
		risk:     riskMgr,
		pdt:      pdtMgr,
		keys:     keys,
		orders:   make(map[string]*models.Order),
		symLocks: make(map[string]*sync.Mutex),
		nowFunc:  time.Now,
	}
}

func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.symLocks[symbol]
	if !ok {
		l = &sync.Mutex{}
		m.symLocks[symbol] = l
	}
	return l
}

func validateRequest(symbol, side, orderType string, qty decimal.Decimal, limitPrice *decimal.Decimal) error {
	if strings.TrimSpace(symbol) == "" {
		return fmt.Errorf("invalid order: empty symbol")
	}
	if side != "buy" && side != "sell" {
		return fmt.Errorf("invalid order: side %q must be buy or sell", side)
	}
	switch orderType {
	case "market", "stop":
	case "limit":
		if limitPrice == nil || !limitPrice.IsPositive() {
			return fmt.Errorf("invalid order: limit order for %s requires a positive limit price", symbol)
		}
	default:
		return fmt.Errorf("invalid order: type %q must be market, limit or stop", orderType)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("invalid order: qty %s must be positive", qty)
	}
	return nil
}

// SubmitOrder runs the full pipeline for one strategy-originated order.
// Returns (nil, nil) when a risk or PDT gate rejects the trade; the broker
// is never called in that case. Errors are reserved for bad input and broker
// failures that survived the retry policy.
func (m *Manager) SubmitOrder(symbol, side, orderType string, qty decimal.Decimal, strategy string, limitPrice *decimal.Decimal) (*models.Order, error) {
	metricOrdersAttempted.Inc()

	if err := validateRequest(symbol, side, orderType, qty, limitPrice); err != nil {
		metricOrdersRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	var price decimal.Decimal
	err := m.retry.Do(fmt.Sprintf("get_current_price(%s)", symbol), func() error {
		var e error
		price, e = m.gw.GetCurrentPrice(symbol)
		return e
	})
	if err != nil {
		log.Printf("❌ %s: no current price, order aborted: %v", symbol, err)
		return nil, err
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("submit %s: current price unavailable", symbol)
	}

	tradeValue := qty.Mul(price)
	class := models.ClassifyAsset(symbol)

	var account *models.Account
	err = m.retry.Do("get_account", func() error {
		var e error
		account, e = m.gw.GetAccount()
		return e
	})
	if err != nil {
		return nil, err
	}

	var positions []models.Position
	err = m.retry.Do("get_positions", func() error {
		var e error
		positions, e = m.gw.GetPositions()
		return e
	})
	if err != nil {
		return nil, err
	}
	counts := countByClass(positions)

	if side == "buy" {
		if ok, reasons := m.risk.ValidateTrade(account.Equity, tradeValue, class, counts); !ok {
			metricOrdersRejected.WithLabelValues("risk").Inc()
			log.Printf("🚫 %s %s rejected by risk checks:", side, symbol)
			for _, r := range reasons {
				log.Printf("   - %s", r)
			}
			return nil, nil
		} else if len(reasons) > 0 {
			for _, r := range reasons {
				log.Printf("⚠️ %s: %s", symbol, r)
			}
		}

		if class == models.AssetStock && !m.pdt.IsStockTradingAllowed(account.Equity) {
			metricOrdersRejected.WithLabelValues("pdt").Inc()
			log.Printf("🚫 %s rejected: stocks outside the PDT focus set for this equity level", symbol)
			return nil, nil
		}
	} else {
		if ok, reason := m.pdt.CanExitStockPosition(account.Equity, symbol); !ok {
			metricOrdersRejected.WithLabelValues("pdt").Inc()
			log.Printf("🚫 sell %s rejected: %s", symbol, reason)
			return nil, nil
		}
	}

	req := broker.OrderRequest{
		Symbol:         symbol,
		Side:           side,
		Type:           orderType,
		Qty:            qty,
		LimitPrice:     limitPrice,
		IdempotencyKey: m.keys.Next(strategy, symbol),
	}
	order, err := m.submitToBroker(req)
	if err != nil {
		return nil, err
	}

	m.afterSubmit(order, side, class)
	return order, nil
}

// submitToBroker is the shared broker leg: retry-wrapped submission plus
// cache and fill logging.
func (m *Manager) submitToBroker(req broker.OrderRequest) (*models.Order, error) {
	var order *models.Order
	err := m.retry.Do(fmt.Sprintf("submit_order(%s)", req.Symbol), func() error {
		var e error
		order, e = m.gw.SubmitOrder(req)
		return e
	})
	if err != nil {
		metricOrdersFailed.Inc()
		log.Printf("❌ Broker rejected %s %s %s: %v", req.Side, req.Qty, req.Symbol, err)
		return nil, err
	}
	if order == nil {
		metricOrdersFailed.Inc()
		return nil, fmt.Errorf("submit %s: broker returned no order", req.Symbol)
	}

	metricOrdersSubmitted.Inc()
	m.mu.Lock()
	m.orders[order.ID] = order
	m.mu.Unlock()

	log.Printf("📤 Order submitted: %s %s %s @ %s (id %s, client %s)",
		order.Side, order.Qty, order.Symbol, order.Type, order.ID, order.ClientOrderID)
	m.logFill(order)
	return order, nil
}

// afterSubmit keeps the PDT bookkeeping in step with what was just sent.
// Stock buys start the minimum-hold clock; a sell that closes a same-day
// entry consumes a day trade.
func (m *Manager) afterSubmit(order *models.Order, side string, class models.AssetClass) {
	now := m.nowFunc()
	if side == "buy" {
		if class != models.AssetCrypto {
			m.pdt.RecordStockEntry(order.Symbol, now)
		}
		return
	}

	entry, ok := m.pdt.StockEntryTime(order.Symbol)
	if ok {
		if entry.Format("2006-01-02") == now.Format("2006-01-02") {
			m.pdt.RecordDayTrade(order.Symbol, entry, now)
		}
		m.pdt.RemoveStockEntry(order.Symbol)
	}
}

func countByClass(positions []models.Position) map[models.AssetClass]int {
	counts := make(map[models.AssetClass]int)
	for _, p := range positions {
		counts[p.AssetClass]++
	}
	return counts
}

// ClosePosition exits the full position with an opposite-side market order.
// No open position is a no-op, returning (nil, nil). The entry-side risk
// gates do not apply to an exit; PDT exit rules still do.
func (m *Manager) ClosePosition(symbol string) (*models.Order, error) {
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	var pos *models.Position
	err := m.retry.Do(fmt.Sprintf("get_position(%s)", symbol), func() error {
		var e error
		pos, e = m.gw.GetPosition(symbol)
		return e
	})
	if err != nil {
		return nil, err
	}
	if pos == nil {
		log.Printf("ℹ️ %s: no open position to close", symbol)
		return nil, nil
	}

	var account *models.Account
	err = m.retry.Do("get_account", func() error {
		var e error
		account, e = m.gw.GetAccount()
		return e
	})
	if err != nil {
		return nil, err
	}

	if ok, reason := m.pdt.CanExitStockPosition(account.Equity, symbol); !ok {
		metricOrdersRejected.WithLabelValues("pdt").Inc()
		log.Printf("🚫 Close %s blocked: %s", symbol, reason)
		return nil, nil
	}

	side := "sell"
	if pos.Qty.IsNegative() {
		side = "buy"
	}
	req := broker.OrderRequest{
		Symbol:         symbol,
		Side:           side,
		Type:           "market",
		Qty:            pos.Qty.Abs(),
		IdempotencyKey: m.keys.Next(closeStrategy, symbol),
	}

	order, err := m.submitToBroker(req)
	if err != nil {
		return nil, err
	}

	metricPositionsClosed.Inc()
	m.afterSubmit(order, "sell", pos.AssetClass)
	log.Printf("🔒 Position closed: %s %s %s (unrealized P/L $%s)",
		side, req.Qty, symbol, pos.UnrealizedPL.StringFixed(2))
	return order, nil
}

// CloseLosingPositions closes every position with negative unrealized P/L.
// Symbols are handled independently; one failure never aborts the rest.
// Returns how many close orders went out and the last error seen.
func (m *Manager) CloseLosingPositions() (int, error) {
	var positions []models.Position
	err := m.retry.Do("get_positions", func() error {
		var e error
		positions, e = m.gw.GetPositions()
		return e
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	var lastErr error
	for _, p := range positions {
		if !p.UnrealizedPL.IsNegative() {
			continue
		}
		order, err := m.ClosePosition(p.Symbol)
		if err != nil {
			log.Printf("❌ Failed to close losing position %s: %v", p.Symbol, err)
			lastErr = err
			continue
		}
		if order != nil {
			closed++
		}
	}
	if closed > 0 {
		log.Printf("🧹 Closed %d losing position(s)", closed)
	}
	return closed, lastErr
}

// CloseAllPositions liquidates everything, one symbol at a time through the
// normal close path so PDT exit rules still apply.
func (m *Manager) CloseAllPositions() (int, error) {
	var positions []models.Position
	err := m.retry.Do("get_positions", func() error {
		var e error
		positions, e = m.gw.GetPositions()
		return e
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	var lastErr error
	for _, p := range positions {
		order, err := m.ClosePosition(p.Symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if order != nil {
			closed++
		}
	}
	return closed, lastErr
}

// GetOrderStatus re-fetches authoritative order state from the broker,
// refreshes the cache and logs fill details.
func (m *Manager) GetOrderStatus(orderID string) (*models.Order, error) {
	var order *models.Order
	err := m.retry.Do(fmt.Sprintf("get_order(%s)", orderID), func() error {
		var e error
		order, e = m.gw.GetOrder(orderID)
		return e
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	m.mu.Lock()
	m.orders[order.ID] = order
	m.mu.Unlock()

	m.logFill(order)
	return order, nil
}

// CachedOrder returns the last known state for a broker order id without
// touching the broker.
func (m *Manager) CachedOrder(orderID string) (*models.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// logFill logs full fills and partial fills. Other statuses are quiet here.
func (m *Manager) logFill(o *models.Order) {
	switch o.Status {
	case models.OrderFilled:
		total := o.FilledQty.Mul(o.FilledAvgPrice)
		log.Printf("✅ Filled: %s %s %s @ $%s (total $%s)",
			o.Side, o.FilledQty, o.Symbol, o.FilledAvgPrice.StringFixed(2), total.StringFixed(2))
	case models.OrderPartiallyFilled:
		remaining := o.Qty.Sub(o.FilledQty)
		partial := o.FilledQty.Mul(o.FilledAvgPrice)
		log.Printf("⏳ Partial fill: %s %s/%s %s (remaining %s, value so far $%s)",
			o.Side, o.FilledQty, o.Qty, o.Symbol, remaining, partial.StringFixed(2))
	}
}
