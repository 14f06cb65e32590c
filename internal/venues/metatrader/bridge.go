// Package metatrader connects to a MetaTrader bridge over a websocket and
// speaks its JSON request/response protocol. The bridge is an expert advisor
// running inside the terminal that proxies account, order, and market-data
// calls; this adapter correlates responses by request id and forwards pushed
// events to the routing layer.
package metatrader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/pkg/types"
)

const (
	writeTimeout   = 5 * time.Second
	requestTimeout = 15 * time.Second
	dialMaxElapsed = 30 * time.Second
)

// request is a call sent to the bridge.
type request struct {
	ID   int64       `json:"id"`
	Op   string      `json:"op"`
	Data interface{} `json:"data,omitempty"`
}

// response answers one request by id. Unsolicited frames carry Event instead.
type response struct {
	ID    int64           `json:"id"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Bridge is the adapter. One websocket carries both request/response traffic
// and pushed events; the read loop demultiplexes them.
type Bridge struct {
	url  url.URL
	emit types.EmitFunc
	log  *logrus.Entry

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan *response
	nextID  int64
	done    chan struct{}

	// dialMu single-flights Connect. writeMu serializes socket writes: the
	// websocket allows only one concurrent writer, and overlapping calls from
	// the health monitor and aggregation fan-outs are expected. Neither is
	// ever held together with mu.
	dialMu  sync.Mutex
	writeMu sync.Mutex
}

var _ types.VenueAdapter = (*Bridge)(nil)

// New constructs the adapter. host and port locate the bridge endpoint.
func New(id string, cfg types.VenueConfig, emit types.EmitFunc) (types.VenueAdapter, error) {
	if cfg.Host == "" {
		return nil, &types.ConfigError{VenueType: types.VenueMetaTrader, Field: "host", Reason: "required"}
	}
	if cfg.Port == 0 {
		return nil, &types.ConfigError{VenueType: types.VenueMetaTrader, Field: "port", Reason: "required"}
	}
	return &Bridge{
		url: url.URL{
			Scheme: "ws",
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:   "/bridge",
		},
		emit: emit,
		log:  logrus.WithFields(logrus.Fields{"component": "metatrader-venue", "venue": id}),
	}, nil
}

// Capabilities declares the MetaTrader asset classes with streaming quotes.
func (b *Bridge) Capabilities() types.Capabilities {
	return types.Capabilities{
		AssetClasses: []types.AssetClass{types.AssetForex, types.AssetCFD, types.AssetCommodities},
		Streaming:    true,
	}
}

// Connect dials the bridge, retrying with exponential backoff until the
// context or the elapsed cap expires, then starts the read loop. Concurrent
// connects collapse into one dial.
func (b *Bridge) Connect(ctx context.Context) error {
	b.dialMu.Lock()
	defer b.dialMu.Unlock()

	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	var conn *websocket.Conn
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(dialMaxElapsed),
	), ctx)

	err := backoff.Retry(func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, b.url.String(), nil)
		if err != nil {
			b.log.WithError(err).Debug("bridge dial failed, retrying")
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("dial metatrader bridge %s: %w", b.url.Host, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.pending = make(map[int64]chan *response)
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.readLoop(conn)
	return nil
}

// Disconnect closes the socket and fails any in-flight calls.
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	done := b.done
	b.conn = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// readLoop demultiplexes frames until the socket dies, then fails pending
// calls and emits a transport error event.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		pending := b.pending
		b.pending = nil
		alive := b.conn == conn
		if alive {
			b.conn = nil
		}
		done := b.done
		b.mu.Unlock()

		for _, ch := range pending {
			close(ch)
		}
		close(done)
		if alive {
			// Socket died underneath us rather than via Disconnect.
			b.emitEvent(types.Event{Kind: types.EventError, Error: "bridge connection lost"})
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			b.log.WithError(err).Warn("bad frame from bridge")
			continue
		}

		if resp.Event != "" {
			b.handleEvent(&resp)
			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// handleEvent forwards a pushed frame as a typed event.
func (b *Bridge) handleEvent(resp *response) {
	switch resp.Event {
	case "quote":
		var q wireQuote
		if err := json.Unmarshal(resp.Data, &q); err != nil {
			b.log.WithError(err).Warn("bad quote event")
			return
		}
		b.emitEvent(types.Event{Kind: types.EventQuote, Payload: q.toQuote()})
	case "order":
		var o wireOrder
		if err := json.Unmarshal(resp.Data, &o); err != nil {
			b.log.WithError(err).Warn("bad order event")
			return
		}
		b.emitEvent(types.Event{Kind: types.EventOrderUpdate, Payload: o.toOrder()})
	case "trade":
		var t wireTrade
		if err := json.Unmarshal(resp.Data, &t); err != nil {
			b.log.WithError(err).Warn("bad trade event")
			return
		}
		b.emitEvent(types.Event{Kind: types.EventTrade, Payload: t.toTrade()})
	default:
		b.log.WithField("event", resp.Event).Debug("ignoring bridge event")
	}
}

// call sends one request and waits for its response or the context.
func (b *Bridge) call(ctx context.Context, op string, data interface{}, out interface{}) error {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return fmt.Errorf("metatrader bridge not connected")
	}
	b.nextID++
	id := b.nextID
	ch := make(chan *response, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	payload, err := json.Marshal(request{ID: id, Op: op, Data: data})
	if err != nil {
		b.dropPending(id)
		return fmt.Errorf("encode %s: %w", op, err)
	}

	b.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	b.writeMu.Unlock()
	if err != nil {
		b.dropPending(id)
		return fmt.Errorf("send %s: %w", op, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: bridge connection lost", op)
		}
		if !resp.OK {
			return fmt.Errorf("%s: bridge error: %s", op, resp.Error)
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", op, err)
			}
		}
		return nil
	case <-ctx.Done():
		b.dropPending(id)
		return ctx.Err()
	case <-timer.C:
		b.dropPending(id)
		return fmt.Errorf("%s: bridge timed out after %s", op, requestTimeout)
	}
}

func (b *Bridge) dropPending(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != nil {
		delete(b.pending, id)
	}
}

func (b *Bridge) emitEvent(ev types.Event) {
	if b.emit != nil {
		b.emit(ev)
	}
}

// --- wire types: the bridge reports numbers as floats ---

type wireAccount struct {
	Currency string  `json:"currency"`
	Equity   float64 `json:"equity"`
	Balance  float64 `json:"balance"`
	Free     float64 `json:"free_margin"`
	Margin   float64 `json:"margin"`
}

type wirePosition struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"open_price"`
	Price      float64 `json:"price"`
	Profit     float64 `json:"profit"`
	UpdateTime int64   `json:"update_time"`
}

func (p wirePosition) toPosition() *types.Position {
	return &types.Position{
		Symbol:        p.Symbol,
		Side:          p.Side,
		Quantity:      decimal.NewFromFloat(p.Volume),
		EntryPrice:    decimal.NewFromFloat(p.OpenPrice),
		MarkPrice:     decimal.NewFromFloat(p.Price),
		UnrealizedPnL: decimal.NewFromFloat(p.Profit),
		UpdatedAt:     time.Unix(p.UpdateTime, 0),
	}
}

type wireOrder struct {
	Ticket     int64   `json:"ticket"`
	ClientID   string  `json:"client_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Status     string  `json:"status"`
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	Filled     float64 `json:"filled"`
	FillPrice  float64 `json:"fill_price"`
	OpenTime   int64   `json:"open_time"`
	UpdateTime int64   `json:"update_time"`
}

func (o wireOrder) toOrder() *types.Order {
	return &types.Order{
		ID:             strconv.FormatInt(o.Ticket, 10),
		ClientOrderID:  o.ClientID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           o.Type,
		Status:         o.Status,
		Price:          decimal.NewFromFloat(o.Price),
		Quantity:       decimal.NewFromFloat(o.Volume),
		FilledQuantity: decimal.NewFromFloat(o.Filled),
		AvgFillPrice:   decimal.NewFromFloat(o.FillPrice),
		CreatedAt:      time.Unix(o.OpenTime, 0),
		UpdatedAt:      time.Unix(o.UpdateTime, 0),
	}
}

type wireTrade struct {
	Deal   int64   `json:"deal"`
	Ticket int64   `json:"ticket"`
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Fee    float64 `json:"fee"`
	Time   int64   `json:"time"`
}

func (t wireTrade) toTrade() *types.Trade {
	return &types.Trade{
		ID:       strconv.FormatInt(t.Deal, 10),
		OrderID:  strconv.FormatInt(t.Ticket, 10),
		Symbol:   t.Symbol,
		Side:     t.Side,
		Price:    decimal.NewFromFloat(t.Price),
		Quantity: decimal.NewFromFloat(t.Volume),
		Fee:      decimal.NewFromFloat(t.Fee),
		Time:     time.Unix(t.Time, 0),
	}
}

type wireQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"`
}

func (q wireQuote) toQuote() *types.Quote {
	return &types.Quote{
		Symbol: q.Symbol,
		Bid:    decimal.NewFromFloat(q.Bid),
		Ask:    decimal.NewFromFloat(q.Ask),
		Time:   time.Unix(q.Time, 0),
	}
}

type wireBar struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Time   int64   `json:"time"`
}

// --- adapter surface ---

func (b *Bridge) GetAccount(ctx context.Context) (*types.Account, error) {
	var acct wireAccount
	if err := b.call(ctx, "account", nil, &acct); err != nil {
		return nil, err
	}
	return &types.Account{
		Currency:    acct.Currency,
		Equity:      decimal.NewFromFloat(acct.Equity),
		Cash:        decimal.NewFromFloat(acct.Balance),
		BuyingPower: decimal.NewFromFloat(acct.Free),
		MarginUsed:  decimal.NewFromFloat(acct.Margin),
		UpdatedAt:   time.Now(),
	}, nil
}

func (b *Bridge) GetPositions(ctx context.Context) ([]*types.Position, error) {
	var wire []wirePosition
	if err := b.call(ctx, "positions", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]*types.Position, 0, len(wire))
	for _, p := range wire {
		out = append(out, p.toPosition())
	}
	return out, nil
}

func (b *Bridge) SubmitOrder(ctx context.Context, req *types.OrderRequest) (*types.Order, error) {
	var order wireOrder
	err := b.call(ctx, "order.submit", map[string]interface{}{
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"volume":    req.Quantity.InexactFloat64(),
		"price":     req.Price.InexactFloat64(),
		"client_id": req.ClientOrderID,
	}, &order)
	if err != nil {
		return nil, err
	}
	return order.toOrder(), nil
}

func (b *Bridge) CancelOrder(ctx context.Context, orderID string) error {
	return b.call(ctx, "order.cancel", map[string]string{"ticket": orderID}, nil)
}

func (b *Bridge) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	var order wireOrder
	if err := b.call(ctx, "order.get", map[string]string{"ticket": orderID}, &order); err != nil {
		return nil, err
	}
	return order.toOrder(), nil
}

func (b *Bridge) ClosePosition(ctx context.Context, symbol string, qty decimal.Decimal) (*types.Order, error) {
	var order wireOrder
	err := b.call(ctx, "position.close", map[string]interface{}{
		"symbol": symbol,
		"volume": qty.InexactFloat64(),
	}, &order)
	if err != nil {
		return nil, err
	}
	return order.toOrder(), nil
}

func (b *Bridge) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	var wire []wireOrder
	if err := b.call(ctx, "position.close_all", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]*types.Order, 0, len(wire))
	for _, o := range wire {
		out = append(out, o.toOrder())
	}
	return out, nil
}

func (b *Bridge) GetTrades(ctx context.Context, filter types.TradeFilter) ([]*types.Trade, error) {
	args := map[string]interface{}{}
	if filter.Symbol != "" {
		args["symbol"] = filter.Symbol
	}
	if !filter.Start.IsZero() {
		args["start"] = filter.Start.Unix()
	}
	if !filter.End.IsZero() {
		args["end"] = filter.End.Unix()
	}

	var wire []wireTrade
	if err := b.call(ctx, "trades", args, &wire); err != nil {
		return nil, err
	}
	out := make([]*types.Trade, 0, len(wire))
	for _, t := range wire {
		out = append(out, t.toTrade())
	}
	return out, nil
}

func (b *Bridge) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	var q wireQuote
	if err := b.call(ctx, "quote", map[string]string{"symbol": symbol}, &q); err != nil {
		return nil, err
	}
	return q.toQuote(), nil
}

func (b *Bridge) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*types.Bar, error) {
	var wire []wireBar
	err := b.call(ctx, "bars", map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
		"start":     start.Unix(),
		"end":       end.Unix(),
	}, &wire)
	if err != nil {
		return nil, err
	}

	out := make([]*types.Bar, 0, len(wire))
	for _, bar := range wire {
		out = append(out, &types.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      decimal.NewFromFloat(bar.Open),
			High:      decimal.NewFromFloat(bar.High),
			Low:       decimal.NewFromFloat(bar.Low),
			Close:     decimal.NewFromFloat(bar.Close),
			Volume:    decimal.NewFromFloat(bar.Volume),
			Start:     time.Unix(bar.Time, 0),
		})
	}
	return out, nil
}

// SubscribeQuotes asks the bridge to start pushing quote events for symbols.
func (b *Bridge) SubscribeQuotes(ctx context.Context, symbols []string) error {
	return b.call(ctx, "subscribe", map[string]interface{}{"symbols": symbols}, nil)
}
