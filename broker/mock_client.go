// broker/mock_client.go
package broker

import (
	"context"
	"sync"
)

// Ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)

// Amendment records one protective-leg update submitted to the mock.
type Amendment struct {
	Kind      string // "stop_loss" or "take_profit"
	AccountID string
	OrderID   string
	Quantity  int
	Price     float64
}

// MockClient is an in-memory broker used by simulation mode and tests.
// Quotes, positions and orders are scripted by the caller; every
// amendment is recorded for later inspection.
type MockClient struct {
	mu         sync.Mutex
	quotes     map[string]Quote
	positions  []Position
	orders     []Order
	amendments []Amendment
	failNext   map[string]error
	streamURL  string
}

// NewMockClient creates an empty mock broker.
func NewMockClient() *MockClient {
	return &MockClient{
		quotes:   make(map[string]Quote),
		failNext: make(map[string]error),
	}
}

// SetQuote scripts the quote returned for a symbol.
func (m *MockClient) SetQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Symbol] = q
}

// SetLastPrice scripts a plain last-price quote for a symbol.
func (m *MockClient) SetLastPrice(symbol string, price float64) {
	m.SetQuote(Quote{Symbol: symbol, LastPrice: price})
}

// SetPositions scripts the open positions of the account.
func (m *MockClient) SetPositions(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append([]Position(nil), positions...)
}

// SetOrders scripts the working orders of the account.
func (m *MockClient) SetOrders(orders []Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append([]Order(nil), orders...)
}

// SetStreamURL scripts the URL returned by StreamURL.
func (m *MockClient) SetStreamURL(u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamURL = u
}

// FailNext makes the next call of the named operation ("quotes",
// "positions", "orders", "update", "stream") return err once.
func (m *MockClient) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = err
}

// Amendments returns a copy of every recorded amendment, in submission order.
func (m *MockClient) Amendments() []Amendment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Amendment(nil), m.amendments...)
}

func (m *MockClient) takeFailure(op string) error {
	if err, ok := m.failNext[op]; ok {
		delete(m.failNext, op)
		return err
	}
	return nil
}

func (m *MockClient) Authenticate(ctx context.Context) error { return nil }

func (m *MockClient) GetQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("quotes"); err != nil {
		return nil, err
	}
	out := make([]Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := m.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *MockClient) GetPositions(ctx context.Context, accountID string) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("positions"); err != nil {
		return nil, err
	}
	return append([]Position(nil), m.positions...), nil
}

func (m *MockClient) GetOrders(ctx context.Context, accountID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("orders"); err != nil {
		return nil, err
	}
	return append([]Order(nil), m.orders...), nil
}

func (m *MockClient) UpdateStopLoss(ctx context.Context, accountID, orderID string, quantity int, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("update"); err != nil {
		return err
	}
	m.amendments = append(m.amendments, Amendment{
		Kind: "stop_loss", AccountID: accountID, OrderID: orderID, Quantity: quantity, Price: price,
	})
	return nil
}

func (m *MockClient) UpdateTakeProfit(ctx context.Context, accountID, orderID string, quantity int, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("update"); err != nil {
		return err
	}
	m.amendments = append(m.amendments, Amendment{
		Kind: "take_profit", AccountID: accountID, OrderID: orderID, Quantity: quantity, Price: price,
	})
	return nil
}

func (m *MockClient) StreamURL(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("stream"); err != nil {
		return "", err
	}
	return m.streamURL, nil
}
