// Package paper implements a fully in-memory simulated venue. It supports
// every asset class, fills market orders instantly at the simulated price,
// rests limit orders, and emits order/position/trade events like a real
// adapter would. Useful for paper trading mode and local development without
// venue credentials.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/pkg/types"
)

const defaultSpreadBps = 10 // 5 bps each side of the simulated last price

var (
	defaultCash  = decimal.NewFromInt(100000)
	defaultPrice = decimal.NewFromInt(100)
)

// Venue is the simulated adapter. All state lives behind one mutex; calls are
// quick enough that finer locking buys nothing.
type Venue struct {
	emit types.EmitFunc
	log  *logrus.Entry

	mu        sync.Mutex
	connected bool
	cash      decimal.Decimal
	prices    map[string]decimal.Decimal
	positions map[string]*types.Position
	orders    map[string]*types.Order
	trades    []*types.Trade
	seq       int64
}

var _ types.VenueAdapter = (*Venue)(nil)

// New creates a simulator. cfg.Extra["cash"] overrides the starting balance.
func New(id string, cfg types.VenueConfig, emit types.EmitFunc) (types.VenueAdapter, error) {
	cash := defaultCash
	if raw, ok := cfg.Extra["cash"]; ok {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, &types.ConfigError{
				VenueType: types.VenuePaper,
				Field:     "extra.cash",
				Reason:    fmt.Sprintf("not a decimal: %v", err),
			}
		}
		cash = parsed
	}
	return &Venue{
		emit:      emit,
		log:       logrus.WithFields(logrus.Fields{"component": "paper-venue", "venue": id}),
		cash:      cash,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]*types.Position),
		orders:    make(map[string]*types.Order),
	}, nil
}

// Capabilities declares support for every asset class plus streaming.
func (v *Venue) Capabilities() types.Capabilities {
	return types.Capabilities{AssetClasses: types.AllAssetClasses(), Streaming: true}
}

func (v *Venue) Connect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = true
	return nil
}

func (v *Venue) Disconnect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
	return nil
}

// SetPrice overrides the simulated last price for a symbol. Intended for
// tests and scripted scenarios.
func (v *Venue) SetPrice(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
	v.fillRestingLocked(symbol, price)
}

func (v *Venue) priceLocked(symbol string) decimal.Decimal {
	if p, ok := v.prices[symbol]; ok {
		return p
	}
	return defaultPrice
}

func (v *Venue) GetAccount(ctx context.Context) (*types.Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	equity := v.cash
	for _, p := range v.positions {
		equity = equity.Add(p.Quantity.Mul(v.priceLocked(p.Symbol)))
	}
	return &types.Account{
		Currency:    "USD",
		Equity:      equity,
		Cash:        v.cash,
		BuyingPower: v.cash,
		UpdatedAt:   time.Now(),
	}, nil
}

func (v *Venue) GetPositions(ctx context.Context) ([]*types.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]*types.Position, 0, len(v.positions))
	for _, p := range v.positions {
		cp := *p
		cp.MarkPrice = v.priceLocked(p.Symbol)
		cp.UnrealizedPnL = cp.MarkPrice.Sub(p.EntryPrice).Mul(p.Quantity)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req *types.OrderRequest) (*types.Order, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("quantity must be positive, got %s", req.Quantity)
	}
	if req.Side != types.OrderSideBuy && req.Side != types.OrderSideSell {
		return nil, fmt.Errorf("unknown order side %q", req.Side)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.seq++
	order := &types.Order{
		ID:            strconv.FormatInt(v.seq, 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        types.OrderStatusNew,
		Price:         req.Price,
		Quantity:      req.Quantity,
		CreatedAt:     time.Now(),
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}
	v.orders[order.ID] = order

	switch req.Type {
	case types.OrderTypeMarket, "":
		if err := v.fillLocked(order, v.priceLocked(req.Symbol)); err != nil {
			order.Status = types.OrderStatusRejected
			return nil, err
		}
	case types.OrderTypeLimit:
		if req.Price.LessThanOrEqual(decimal.Zero) {
			order.Status = types.OrderStatusRejected
			return nil, fmt.Errorf("limit order requires a positive price")
		}
		// Rests until SetPrice crosses it.
	default:
		order.Status = types.OrderStatusRejected
		return nil, fmt.Errorf("unsupported order type %q", req.Type)
	}

	cp := *order
	v.emitEvent(types.Event{Kind: types.EventOrderUpdate, Payload: &cp})
	return &cp, nil
}

// fillLocked executes order at price, adjusting cash and position, recording
// the trade, and emitting fill events. Caller holds the mutex.
func (v *Venue) fillLocked(order *types.Order, price decimal.Decimal) error {
	notional := order.Quantity.Mul(price)

	pos := v.positions[order.Symbol]
	if order.Side == types.OrderSideBuy {
		if notional.GreaterThan(v.cash) {
			return fmt.Errorf("insufficient cash: need %s, have %s", notional, v.cash)
		}
		v.cash = v.cash.Sub(notional)
		if pos == nil {
			pos = &types.Position{Symbol: order.Symbol, Side: "long"}
			v.positions[order.Symbol] = pos
		}
		total := pos.Quantity.Add(order.Quantity)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).Add(notional).Div(total)
		pos.Quantity = total
	} else {
		if pos == nil || pos.Quantity.LessThan(order.Quantity) {
			return fmt.Errorf("insufficient position in %s to sell %s", order.Symbol, order.Quantity)
		}
		v.cash = v.cash.Add(notional)
		pos.Quantity = pos.Quantity.Sub(order.Quantity)
		if pos.Quantity.IsZero() {
			delete(v.positions, order.Symbol)
		}
	}
	pos.UpdatedAt = time.Now()

	order.Status = types.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.AvgFillPrice = price
	order.UpdatedAt = time.Now()

	v.seq++
	trade := &types.Trade{
		ID:       strconv.FormatInt(v.seq, 10),
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Price:    price,
		Quantity: order.Quantity,
		Time:     time.Now(),
	}
	v.trades = append(v.trades, trade)

	tr := *trade
	v.emitEvent(types.Event{Kind: types.EventTrade, Payload: &tr})
	if p, ok := v.positions[order.Symbol]; ok {
		pc := *p
		v.emitEvent(types.Event{Kind: types.EventPositionUpdate, Payload: &pc})
	}
	return nil
}

// fillRestingLocked crosses open limit orders against a fresh price.
func (v *Venue) fillRestingLocked(symbol string, price decimal.Decimal) {
	for _, order := range v.orders {
		if order.Symbol != symbol || order.Status != types.OrderStatusNew || order.Type != types.OrderTypeLimit {
			continue
		}
		crossed := (order.Side == types.OrderSideBuy && price.LessThanOrEqual(order.Price)) ||
			(order.Side == types.OrderSideSell && price.GreaterThanOrEqual(order.Price))
		if !crossed {
			continue
		}
		if err := v.fillLocked(order, order.Price); err != nil {
			v.log.WithError(err).WithField("order", order.ID).Warn("resting order fill failed")
			order.Status = types.OrderStatusRejected
		}
		cp := *order
		v.emitEvent(types.Event{Kind: types.EventOrderUpdate, Payload: &cp})
	}
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	order, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if order.Status != types.OrderStatusNew {
		return fmt.Errorf("order %s is %s, cannot cancel", orderID, order.Status)
	}
	order.Status = types.OrderStatusCanceled
	order.UpdatedAt = time.Now()

	cp := *order
	v.emitEvent(types.Event{Kind: types.EventOrderUpdate, Payload: &cp})
	return nil
}

func (v *Venue) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	order, ok := v.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	cp := *order
	return &cp, nil
}

func (v *Venue) ClosePosition(ctx context.Context, symbol string, qty decimal.Decimal) (*types.Order, error) {
	v.mu.Lock()
	pos, ok := v.positions[symbol]
	if !ok {
		v.mu.Unlock()
		return nil, fmt.Errorf("no open position in %s", symbol)
	}
	if qty.IsZero() || qty.GreaterThan(pos.Quantity) {
		qty = pos.Quantity
	}
	v.mu.Unlock()

	return v.SubmitOrder(ctx, &types.OrderRequest{
		Symbol:   symbol,
		Side:     types.OrderSideSell,
		Type:     types.OrderTypeMarket,
		Quantity: qty,
	})
}

func (v *Venue) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	v.mu.Lock()
	symbols := make([]string, 0, len(v.positions))
	for sym := range v.positions {
		symbols = append(symbols, sym)
	}
	v.mu.Unlock()
	sort.Strings(symbols)

	var out []*types.Order
	for _, sym := range symbols {
		order, err := v.ClosePosition(ctx, sym, decimal.Zero)
		if err != nil {
			return out, fmt.Errorf("close %s: %w", sym, err)
		}
		out = append(out, order)
	}
	return out, nil
}

func (v *Venue) GetTrades(ctx context.Context, filter types.TradeFilter) ([]*types.Trade, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []*types.Trade
	for _, tr := range v.trades {
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

func (v *Venue) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	last := v.priceLocked(symbol)
	half := last.Mul(decimal.New(defaultSpreadBps, -4)).Div(decimal.NewFromInt(2))
	return &types.Quote{
		Symbol: symbol,
		Bid:    last.Sub(half),
		Ask:    last.Add(half),
		Last:   last,
		Time:   time.Now(),
	}, nil
}

// GetBars synthesizes flat candles at the simulated price, one per timeframe
// step between start and end.
func (v *Venue) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*types.Bar, error) {
	step, err := timeframeStep(timeframe)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	price := v.priceLocked(symbol)
	v.mu.Unlock()

	var out []*types.Bar
	for t := start; t.Before(end) && len(out) < 1000; t = t.Add(step) {
		out = append(out, &types.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.Zero,
			Start:     t,
			End:       t.Add(step),
		})
	}
	return out, nil
}

// SubscribeQuotes emits one quote event per symbol immediately; the simulator
// has no live feed to attach to.
func (v *Venue) SubscribeQuotes(ctx context.Context, symbols []string) error {
	for _, sym := range symbols {
		quote, err := v.GetQuote(ctx, sym)
		if err != nil {
			return err
		}
		v.emitEvent(types.Event{Kind: types.EventQuote, Payload: quote})
	}
	return nil
}

func (v *Venue) emitEvent(ev types.Event) {
	if v.emit != nil {
		v.emit(ev)
	}
}

func timeframeStep(timeframe string) (time.Duration, error) {
	switch timeframe {
	case "1m", "":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}
