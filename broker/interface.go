package broker

import (
	"context"
	"errors"

	"ironbeam_auto_go/position"
)

// Sentinel errors callers branch on.
var (
	// ErrUnauthorized is returned when credentials are rejected.
	ErrUnauthorized = errors.New("broker: unauthorized")
	// ErrInvalidRequest is returned for requests the API refuses as malformed,
	// including amendment prices the venue considers invalid.
	ErrInvalidRequest = errors.New("broker: invalid request")
	// ErrNotAuthenticated is returned when a call is made before Authenticate.
	ErrNotAuthenticated = errors.New("broker: not authenticated")
)

// Quote is a market-data snapshot for one symbol.
type Quote struct {
	Symbol    string  `json:"exchSym"`
	BidPrice  float64 `json:"bidPrice"`
	AskPrice  float64 `json:"askPrice"`
	LastPrice float64 `json:"lastPrice"`
}

// Price returns the last trade price, falling back to the bid/ask midpoint.
// ok is false when the quote carries no usable price at all.
func (q Quote) Price() (float64, bool) {
	if q.LastPrice > 0 {
		return q.LastPrice, true
	}
	if q.BidPrice > 0 && q.AskPrice > 0 {
		return (q.BidPrice + q.AskPrice) / 2, true
	}
	return 0, false
}

// Position is an open position snapshot as reported by the broker.
type Position struct {
	Symbol     string        `json:"symbol"`
	Side       position.Side `json:"side"`
	Quantity   int           `json:"quantity"`
	EntryPrice float64       `json:"entryPrice"`
}

// Order is a working order as reported by the broker. Executors use it to
// map an open position back to the bracket order whose protective legs
// they amend.
type Order struct {
	OrderID    string  `json:"orderId"`
	Symbol     string  `json:"symbol"`
	Status     string  `json:"status"`
	Quantity   int     `json:"quantity"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
}

// OrderUpdate is the payload for amending the protective legs of a
// bracket order. Only the non-nil leg is changed.
type OrderUpdate struct {
	OrderID    string   `json:"orderId"`
	Quantity   int      `json:"quantity"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
	ClientID   string   `json:"clientId,omitempty"`
}

// Client is the broker surface the executors depend on. It is safe for
// use from one caller at a time per account, which both executor designs
// guarantee by construction.
type Client interface {
	// Authenticate obtains a session token. Must be called before any
	// other method.
	Authenticate(ctx context.Context) error

	// GetQuotes fetches current quotes for the given symbols.
	GetQuotes(ctx context.Context, symbols []string) ([]Quote, error)

	// GetPositions fetches all open positions for an account.
	GetPositions(ctx context.Context, accountID string) ([]Position, error)

	// GetOrders fetches working orders for an account.
	GetOrders(ctx context.Context, accountID string) ([]Order, error)

	// UpdateStopLoss amends the stop loss leg of a bracket order.
	UpdateStopLoss(ctx context.Context, accountID, orderID string, quantity int, price float64) error

	// UpdateTakeProfit amends the take profit leg of a bracket order.
	UpdateTakeProfit(ctx context.Context, accountID, orderID string, quantity int, price float64) error

	// StreamURL provisions a fresh streaming session and returns the
	// websocket URL to dial. Each call yields a new stream id, so the
	// stream layer calls it again on every reconnect attempt.
	StreamURL(ctx context.Context) (string, error)
}
