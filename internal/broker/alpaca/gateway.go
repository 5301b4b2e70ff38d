package alpaca

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"pulse_trading/internal/broker"
	"pulse_trading/internal/models"
)

// Gateway implements broker.Gateway against the Alpaca v3 SDK. It is a thin
// boundary layer: SDK structs are mapped into internal/models values and SDK
// errors are wrapped into broker.APIError so the core never sees SDK types.
type Gateway struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
}

var _ broker.Gateway = (*Gateway)(nil)

// NewGateway returns a gateway using credentials from the standard
// APCA_API_KEY_ID / APCA_API_SECRET_KEY environment variables, which the SDK
// clients pick up on their own.
func NewGateway() *Gateway {
	return &Gateway{
		mdClient:    marketdata.NewClient(marketdata.ClientOpts{}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{}),
	}
}

// wrapErr converts an SDK error into a broker.APIError, extracting the HTTP
// status when the SDK provides one.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return &broker.APIError{Op: op, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return &broker.APIError{Op: op, Message: err.Error(), Err: err}
}

// --- Account & positions ---

func (g *Gateway) GetAccount() (*models.Account, error) {
	a, err := g.tradeClient.GetAccount()
	if err != nil {
		return nil, wrapErr("get_account", err)
	}
	return &models.Account{
		ID:               a.ID,
		Currency:         a.Currency,
		Equity:           a.Equity,
		Cash:             a.Cash,
		BuyingPower:      a.BuyingPower,
		PortfolioValue:   a.PortfolioValue,
		DaytradeCount:    int(a.DaytradeCount),
		PatternDayTrader: a.PatternDayTrader,
		TradingBlocked:   a.TradingBlocked,
		AccountBlocked:   a.AccountBlocked,
	}, nil
}

func (g *Gateway) GetPositions() ([]models.Position, error) {
	raw, err := g.tradeClient.GetPositions()
	if err != nil {
		return nil, wrapErr("get_positions", err)
	}

	positions := make([]models.Position, 0, len(raw))
	for i := range raw {
		positions = append(positions, mapPosition(&raw[i]))
	}
	return positions, nil
}

func (g *Gateway) GetPosition(symbol string) (*models.Position, error) {
	p, err := g.tradeClient.GetPosition(symbol)
	if err != nil {
		wrapped := wrapErr(fmt.Sprintf("get_position(%s)", symbol), err)
		if broker.IsNotFound(wrapped) {
			// No open position is a normal "none" result, not an error.
			return nil, nil
		}
		return nil, wrapped
	}
	pos := mapPosition(p)
	return &pos, nil
}

func mapPosition(p *alpaca.Position) models.Position {
	current := decimal.Zero
	if p.CurrentPrice != nil {
		current = *p.CurrentPrice
	}
	unrealized := decimal.Zero
	if p.UnrealizedPL != nil {
		unrealized = *p.UnrealizedPL
	}

	return models.Position{
		Symbol:        p.Symbol,
		Qty:           p.Qty,
		Side:          strings.ToLower(p.Side),
		AvgEntryPrice: p.AvgEntryPrice,
		CostBasis:     p.CostBasis,
		CurrentPrice:  current,
		UnrealizedPL:  unrealized,
		AssetClass:    models.ClassifyAsset(p.Symbol),
	}
}

// --- Market data ---

func (g *Gateway) GetCurrentPrice(symbol string) (decimal.Decimal, error) {
	op := fmt.Sprintf("get_current_price(%s)", symbol)

	if models.ClassifyAsset(symbol) == models.AssetCrypto {
		trade, err := g.mdClient.GetLatestCryptoTrade(symbol, marketdata.GetLatestCryptoTradeRequest{})
		if err != nil {
			return decimal.Zero, wrapErr(op, err)
		}
		if trade == nil {
			return decimal.Zero, &broker.APIError{Op: op, Message: "no trade data"}
		}
		return decimal.NewFromFloat(trade.Price), nil
	}

	trade, err := g.mdClient.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, wrapErr(op, err)
	}
	if trade == nil {
		return decimal.Zero, &broker.APIError{Op: op, Message: "no trade data"}
	}
	return decimal.NewFromFloat(trade.Price), nil
}

func (g *Gateway) GetPreviousClose(symbol string) (decimal.Decimal, error) {
	op := fmt.Sprintf("get_previous_close(%s)", symbol)

	if models.ClassifyAsset(symbol) == models.AssetCrypto {
		snap, err := g.mdClient.GetCryptoSnapshot(symbol, marketdata.GetCryptoSnapshotRequest{})
		if err != nil {
			return decimal.Zero, wrapErr(op, err)
		}
		if snap == nil || snap.PrevDailyBar == nil {
			return decimal.Zero, &broker.APIError{Op: op, Message: "no previous daily bar"}
		}
		return decimal.NewFromFloat(snap.PrevDailyBar.Close), nil
	}

	snap, err := g.mdClient.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return decimal.Zero, wrapErr(op, err)
	}
	if snap == nil || snap.PrevDailyBar == nil {
		return decimal.Zero, &broker.APIError{Op: op, Message: "no previous daily bar"}
	}
	return decimal.NewFromFloat(snap.PrevDailyBar.Close), nil
}

func (g *Gateway) GetClock() (*models.Clock, error) {
	c, err := g.tradeClient.GetClock()
	if err != nil {
		return nil, wrapErr("get_clock", err)
	}
	return &models.Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}, nil
}

// --- Orders ---

func (g *Gateway) SubmitOrder(req broker.OrderRequest) (*models.Order, error) {
	qty := req.Qty
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.Day,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		ClientOrderID: req.IdempotencyKey,
	}

	o, err := g.tradeClient.PlaceOrder(placeReq)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("submit_order(%s)", req.Symbol), err)
	}
	return mapOrder(o), nil
}

func (g *Gateway) GetOrder(id string) (*models.Order, error) {
	o, err := g.tradeClient.GetOrder(id)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get_order(%s)", id), err)
	}
	return mapOrder(o), nil
}

func (g *Gateway) GetOrders(status string, limit int) ([]models.Order, error) {
	raw, err := g.tradeClient.GetOrders(alpaca.GetOrdersRequest{
		Status: status,
		Limit:  limit,
	})
	if err != nil {
		return nil, wrapErr("get_orders", err)
	}

	orders := make([]models.Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, *mapOrder(&raw[i]))
	}
	return orders, nil
}

func (g *Gateway) CancelOrder(id string) error {
	return wrapErr(fmt.Sprintf("cancel_order(%s)", id), g.tradeClient.CancelOrder(id))
}

func (g *Gateway) ClosePosition(symbol string) (*models.Order, error) {
	o, err := g.tradeClient.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		wrapped := wrapErr(fmt.Sprintf("close_position(%s)", symbol), err)
		if broker.IsNotFound(wrapped) {
			return nil, nil
		}
		return nil, wrapped
	}
	return mapOrder(o), nil
}

// CloseAllPositions liquidates every open position one symbol at a time so a
// failure on one symbol does not abort the rest. Returns the close orders
// that were accepted.
func (g *Gateway) CloseAllPositions() ([]models.Order, error) {
	positions, err := g.GetPositions()
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	var lastErr error
	for _, p := range positions {
		o, err := g.ClosePosition(p.Symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if o != nil {
			orders = append(orders, *o)
		}
	}
	return orders, lastErr
}

func mapOrder(o *alpaca.Order) *models.Order {
	if o == nil {
		return nil
	}

	qty := decimal.Zero
	if o.Qty != nil {
		qty = *o.Qty
	}
	filledAvg := decimal.Zero
	if o.FilledAvgPrice != nil {
		filledAvg = *o.FilledAvgPrice
	}

	return &models.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Qty:            qty,
		FilledQty:      o.FilledQty,
		Status:         models.OrderStatus(o.Status),
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		FilledAvgPrice: filledAvg,
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
	}
}
