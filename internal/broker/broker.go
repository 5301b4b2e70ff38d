package broker

import (
	"github.com/shopspring/decimal"

	"pulse_trading/internal/models"
)

// Gateway is the interface the trading core uses to talk to the broker.
// The concrete Alpaca implementation lives in broker/alpaca; tests swap in
// mocks. All returned values are detached snapshots, never live references.
type Gateway interface {
	GetAccount() (*models.Account, error)
	GetPositions() ([]models.Position, error)
	// GetPosition returns (nil, nil) when no position exists for the symbol.
	GetPosition(symbol string) (*models.Position, error)
	GetCurrentPrice(symbol string) (decimal.Decimal, error)
	GetPreviousClose(symbol string) (decimal.Decimal, error)
	GetClock() (*models.Clock, error)

	SubmitOrder(req OrderRequest) (*models.Order, error)
	GetOrder(id string) (*models.Order, error)
	GetOrders(status string, limit int) ([]models.Order, error)
	CancelOrder(id string) error
	ClosePosition(symbol string) (*models.Order, error)
	CloseAllPositions() ([]models.Order, error)
}

// OrderRequest is a broker-bound order. IdempotencyKey is the client order
// id; the broker enforces its uniqueness server-side, which is what makes
// retried submissions safe.
type OrderRequest struct {
	Symbol         string
	Side           string // buy, sell
	Type           string // market, limit, stop
	Qty            decimal.Decimal
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	IdempotencyKey string
}
