// Package venuetest provides a configurable fake venue adapter for tests.
package venuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/pkg/types"
)

// Fake implements types.VenueAdapter with scriptable results and failure
// injection. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	caps types.Capabilities

	ConnectErr    error
	DisconnectErr error
	AccountErr    error
	PositionsErr  error
	SubmitErr     error
	QuoteErr      error
	BarsErr       error
	TradesErr     error
	SubscribeErr  error

	Account   *types.Account
	Positions []*types.Position
	Trades    []*types.Trade
	Quote     *types.Quote
	Bars      []*types.Bar

	connected       bool
	connectCalls    int
	disconnectCalls int
	accountCalls    int
	submitted       []*types.OrderRequest
	canceled        []string
	subscribed      []string
	orderSeq        int

	emit types.EmitFunc
}

var _ types.VenueAdapter = (*Fake)(nil)

// New creates a fake declaring the given asset classes (streaming enabled)
// and a flat default account.
func New(classes ...types.AssetClass) *Fake {
	if len(classes) == 0 {
		classes = []types.AssetClass{types.AssetStock}
	}
	return &Fake{
		caps: types.Capabilities{AssetClasses: classes, Streaming: true},
		Account: &types.Account{
			Equity:      decimal.NewFromInt(10000),
			Cash:        decimal.NewFromInt(10000),
			BuyingPower: decimal.NewFromInt(10000),
		},
	}
}

// Constructor returns a venue.Constructor that hands out this fake and
// captures the emit callback, for registering through a factory.
func (f *Fake) Constructor() venue.Constructor {
	return func(id string, cfg types.VenueConfig, emit types.EmitFunc) (types.VenueAdapter, error) {
		f.mu.Lock()
		f.emit = emit
		f.mu.Unlock()
		return f, nil
	}
}

// SetStreaming toggles the declared streaming capability.
func (f *Fake) SetStreaming(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps.Streaming = on
}

// Emit publishes an event through the captured registry callback.
func (f *Fake) Emit(ev types.Event) {
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

func (f *Fake) Capabilities() types.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	if f.DisconnectErr != nil {
		return f.DisconnectErr
	}
	f.connected = false
	return nil
}

func (f *Fake) GetAccount(ctx context.Context) (*types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	acct := *f.Account
	return &acct, nil
}

func (f *Fake) GetPositions(ctx context.Context) ([]*types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PositionsErr != nil {
		return nil, f.PositionsErr
	}
	out := make([]*types.Position, len(f.Positions))
	for i, p := range f.Positions {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (f *Fake) SubmitOrder(ctx context.Context, req *types.OrderRequest) (*types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}
	f.orderSeq++
	cp := *req
	f.submitted = append(f.submitted, &cp)
	return &types.Order{
		ID:             fmt.Sprintf("ord-%d", f.orderSeq),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Status:         types.OrderStatusFilled,
		Quantity:       req.Quantity,
		FilledQuantity: req.Quantity,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *Fake) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	return &types.Order{ID: orderID, Status: types.OrderStatusFilled}, nil
}

func (f *Fake) ClosePosition(ctx context.Context, symbol string, qty decimal.Decimal) (*types.Order, error) {
	return f.SubmitOrder(ctx, &types.OrderRequest{
		Symbol:   symbol,
		Side:     types.OrderSideSell,
		Type:     types.OrderTypeMarket,
		Quantity: qty,
	})
}

func (f *Fake) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	f.mu.Lock()
	positions := f.Positions
	f.mu.Unlock()

	var out []*types.Order
	for _, p := range positions {
		order, err := f.ClosePosition(ctx, p.Symbol, p.Quantity)
		if err != nil {
			return out, err
		}
		out = append(out, order)
	}
	return out, nil
}

func (f *Fake) GetTrades(ctx context.Context, filter types.TradeFilter) ([]*types.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TradesErr != nil {
		return nil, f.TradesErr
	}
	var out []*types.Trade
	for _, tr := range f.Trades {
		if filter.Symbol != "" && tr.Symbol != filter.Symbol {
			continue
		}
		if !filter.Start.IsZero() && tr.Time.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && tr.Time.After(filter.End) {
			continue
		}
		cp := *tr
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QuoteErr != nil {
		return nil, f.QuoteErr
	}
	if f.Quote != nil {
		q := *f.Quote
		q.Symbol = symbol
		return &q, nil
	}
	return &types.Quote{
		Symbol: symbol,
		Bid:    decimal.NewFromInt(99),
		Ask:    decimal.NewFromInt(101),
		Last:   decimal.NewFromInt(100),
		Time:   time.Now(),
	}, nil
}

func (f *Fake) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*types.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BarsErr != nil {
		return nil, f.BarsErr
	}
	return f.Bars, nil
}

func (f *Fake) SubscribeQuotes(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.subscribed = append(f.subscribed, symbols...)
	return nil
}

// --- inspection helpers ---

// ConnectCalls returns how many times Connect ran.
func (f *Fake) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// DisconnectCalls returns how many times Disconnect ran.
func (f *Fake) DisconnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectCalls
}

// AccountCalls returns how many times GetAccount ran.
func (f *Fake) AccountCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountCalls
}

// Submitted returns the order requests this fake accepted.
func (f *Fake) Submitted() []*types.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.OrderRequest, len(f.submitted))
	copy(out, f.submitted)
	return out
}

// Subscribed returns the symbols subscribed so far.
func (f *Fake) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subscribed))
	copy(out, f.subscribed)
	return out
}
