// Package binance adapts the Binance spot REST and websocket APIs to the
// venue contract. Paper mode targets the public spot testnet.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/pkg/types"
)

const testnetBaseURL = "https://testnet.binance.vision/api"

// Venue wraps a go-binance client. Binance identifies orders by (symbol,
// orderID), so the adapter remembers the symbol of every order it submitted.
type Venue struct {
	client *binance.Client
	emit   types.EmitFunc
	log    *logrus.Entry

	mu           sync.Mutex
	orderSymbols map[string]string
	wsStops      []chan struct{}
}

var _ types.VenueAdapter = (*Venue)(nil)

// New constructs the adapter. api_key and api_secret are required.
func New(id string, cfg types.VenueConfig, emit types.EmitFunc) (types.VenueAdapter, error) {
	if cfg.APIKey == "" {
		return nil, &types.ConfigError{VenueType: types.VenueBinance, Field: "api_key", Reason: "required"}
	}
	if cfg.APISecret == "" {
		return nil, &types.ConfigError{VenueType: types.VenueBinance, Field: "api_secret", Reason: "required"}
	}

	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.Paper:
		client.BaseURL = testnetBaseURL
	}

	return &Venue{
		client:       client,
		emit:         emit,
		log:          logrus.WithFields(logrus.Fields{"component": "binance-venue", "venue": id}),
		orderSymbols: make(map[string]string),
	}, nil
}

// Capabilities declares crypto spot trading with streaming quotes.
func (v *Venue) Capabilities() types.Capabilities {
	return types.Capabilities{
		AssetClasses: []types.AssetClass{types.AssetCrypto},
		Streaming:    true,
	}
}

// Connect verifies reachability and credentials with a ping plus an account
// fetch.
func (v *Venue) Connect(ctx context.Context) error {
	if err := v.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}
	if _, err := v.client.NewGetAccountService().Do(ctx); err != nil {
		return fmt.Errorf("binance account check: %w", err)
	}
	return nil
}

// Disconnect stops any websocket streams. REST needs no teardown.
func (v *Venue) Disconnect(ctx context.Context) error {
	v.mu.Lock()
	stops := v.wsStops
	v.wsStops = nil
	v.mu.Unlock()

	for _, stopC := range stops {
		close(stopC)
	}
	return nil
}

func (v *Venue) GetAccount(ctx context.Context) (*types.Account, error) {
	acct, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance account: %w", err)
	}

	// Spot has no margin; equity is free plus locked across assets. Non-USD
	// assets are reported at face value, consistent with the no-conversion
	// contract of account snapshots.
	free := decimal.Zero
	total := decimal.Zero
	for _, b := range acct.Balances {
		f := mustDecimal(b.Free)
		l := mustDecimal(b.Locked)
		if f.IsZero() && l.IsZero() {
			continue
		}
		free = free.Add(f)
		total = total.Add(f).Add(l)
	}
	return &types.Account{
		Equity:      total,
		Cash:        free,
		BuyingPower: free,
		UpdatedAt:   time.Now(),
	}, nil
}

// GetPositions reports each non-zero spot balance as a long position, the
// closest spot analogue to a derivatives position list.
func (v *Venue) GetPositions(ctx context.Context) ([]*types.Position, error) {
	acct, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance account: %w", err)
	}

	var out []*types.Position
	for _, b := range acct.Balances {
		qty := mustDecimal(b.Free).Add(mustDecimal(b.Locked))
		if qty.IsZero() {
			continue
		}
		out = append(out, &types.Position{
			Symbol:    b.Asset,
			Side:      "long",
			Quantity:  qty,
			UpdatedAt: time.Now(),
		})
	}
	return out, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req *types.OrderRequest) (*types.Order, error) {
	svc := v.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(strings.ToUpper(req.Side))).
		Type(toBinanceOrderType(req.Type)).
		Quantity(req.Quantity.String())

	if req.Type == types.OrderTypeLimit {
		tif := binance.TimeInForceTypeGTC
		if req.TimeInForce != "" {
			tif = binance.TimeInForceType(strings.ToUpper(req.TimeInForce))
		}
		svc = svc.Price(req.Price.String()).TimeInForce(tif)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance create order: %w", err)
	}

	orderID := strconv.FormatInt(res.OrderID, 10)
	v.mu.Lock()
	v.orderSymbols[orderID] = res.Symbol
	v.mu.Unlock()

	return &types.Order{
		ID:             orderID,
		ClientOrderID:  res.ClientOrderID,
		Symbol:         res.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Status:         fromBinanceStatus(string(res.Status)),
		Price:          mustDecimal(res.Price),
		Quantity:       mustDecimal(res.OrigQuantity),
		FilledQuantity: mustDecimal(res.ExecutedQuantity),
		CreatedAt:      time.UnixMilli(res.TransactTime),
	}, nil
}

// symbolFor resolves the trading symbol for an order this adapter submitted.
func (v *Venue) symbolFor(orderID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sym, ok := v.orderSymbols[orderID]
	if !ok {
		return "", fmt.Errorf("unknown order %s: binance requires the symbol and this order was not submitted here", orderID)
	}
	return sym, nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	sym, err := v.symbolFor(orderID)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad binance order id %q: %w", orderID, err)
	}
	if _, err := v.client.NewCancelOrderService().Symbol(sym).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("binance cancel order: %w", err)
	}
	return nil
}

func (v *Venue) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	sym, err := v.symbolFor(orderID)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad binance order id %q: %w", orderID, err)
	}

	res, err := v.client.NewGetOrderService().Symbol(sym).OrderID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance get order: %w", err)
	}
	return &types.Order{
		ID:             strconv.FormatInt(res.OrderID, 10),
		ClientOrderID:  res.ClientOrderID,
		Symbol:         res.Symbol,
		Side:           strings.ToLower(string(res.Side)),
		Type:           strings.ToLower(string(res.Type)),
		Status:         fromBinanceStatus(string(res.Status)),
		Price:          mustDecimal(res.Price),
		Quantity:       mustDecimal(res.OrigQuantity),
		FilledQuantity: mustDecimal(res.ExecutedQuantity),
		CreatedAt:      time.UnixMilli(res.Time),
		UpdatedAt:      time.UnixMilli(res.UpdateTime),
	}, nil
}

// ClosePosition sells qty of the base asset at market. symbol must be a full
// trading pair (e.g. BTCUSDT).
func (v *Venue) ClosePosition(ctx context.Context, symbol string, qty decimal.Decimal) (*types.Order, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("binance close requires an explicit quantity for %s", symbol)
	}
	return v.SubmitOrder(ctx, &types.OrderRequest{
		Symbol:   symbol,
		Side:     types.OrderSideSell,
		Type:     types.OrderTypeMarket,
		Quantity: qty,
	})
}

// CloseAllPositions is not expressible for spot balances without a quote
// currency convention, so the adapter refuses rather than guessing pairs.
func (v *Venue) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	return nil, fmt.Errorf("binance spot cannot close all positions: sell each pair explicitly")
}

// GetTrades requires a symbol; Binance has no cross-symbol trade listing on
// spot.
func (v *Venue) GetTrades(ctx context.Context, filter types.TradeFilter) ([]*types.Trade, error) {
	if filter.Symbol == "" {
		return nil, fmt.Errorf("binance trade history requires a symbol")
	}

	svc := v.client.NewListTradesService().Symbol(filter.Symbol)
	if !filter.Start.IsZero() {
		svc = svc.StartTime(filter.Start.UnixMilli())
	}
	if !filter.End.IsZero() {
		svc = svc.EndTime(filter.End.UnixMilli())
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance trades: %w", err)
	}

	out := make([]*types.Trade, 0, len(trades))
	for _, t := range trades {
		side := types.OrderSideSell
		if t.IsBuyer {
			side = types.OrderSideBuy
		}
		out = append(out, &types.Trade{
			ID:       strconv.FormatInt(t.ID, 10),
			OrderID:  strconv.FormatInt(t.OrderID, 10),
			Symbol:   filter.Symbol,
			Side:     side,
			Price:    mustDecimal(t.Price),
			Quantity: mustDecimal(t.Quantity),
			Fee:      mustDecimal(t.Commission),
			Time:     time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

func (v *Venue) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	books, err := v.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance book ticker: %w", err)
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("binance: no book ticker for %s", symbol)
	}
	b := books[0]
	return &types.Quote{
		Symbol:  b.Symbol,
		Bid:     mustDecimal(b.BidPrice),
		BidSize: mustDecimal(b.BidQuantity),
		Ask:     mustDecimal(b.AskPrice),
		AskSize: mustDecimal(b.AskQuantity),
		Time:    time.Now(),
	}, nil
}

func (v *Venue) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*types.Bar, error) {
	klines, err := v.client.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	out := make([]*types.Bar, 0, len(klines))
	for _, k := range klines {
		out = append(out, &types.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      mustDecimal(k.Open),
			High:      mustDecimal(k.High),
			Low:       mustDecimal(k.Low),
			Close:     mustDecimal(k.Close),
			Volume:    mustDecimal(k.Volume),
			Start:     time.UnixMilli(k.OpenTime),
			End:       time.UnixMilli(k.CloseTime),
		})
	}
	return out, nil
}

// SubscribeQuotes opens one book-ticker stream per symbol and forwards each
// update as a quote event. Streams stop on Disconnect.
func (v *Venue) SubscribeQuotes(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		sym := symbol
		handler := func(ev *binance.WsBookTickerEvent) {
			v.emitEvent(types.Event{
				Kind: types.EventQuote,
				Payload: &types.Quote{
					Symbol:  ev.Symbol,
					Bid:     mustDecimal(ev.BestBidPrice),
					BidSize: mustDecimal(ev.BestBidQty),
					Ask:     mustDecimal(ev.BestAskPrice),
					AskSize: mustDecimal(ev.BestAskQty),
					Time:    time.Now(),
				},
			})
		}
		errHandler := func(err error) {
			v.log.WithError(err).WithField("symbol", sym).Warn("book ticker stream error")
			v.emitEvent(types.Event{Kind: types.EventError, Error: err.Error()})
		}

		_, stopC, err := binance.WsBookTickerServe(sym, handler, errHandler)
		if err != nil {
			return fmt.Errorf("binance subscribe %s: %w", sym, err)
		}
		v.mu.Lock()
		v.wsStops = append(v.wsStops, stopC)
		v.mu.Unlock()
	}
	return nil
}

func (v *Venue) emitEvent(ev types.Event) {
	if v.emit != nil {
		v.emit(ev)
	}
}

func toBinanceOrderType(t types.OrderType) binance.OrderType {
	switch t {
	case types.OrderTypeLimit:
		return binance.OrderTypeLimit
	case types.OrderTypeStop:
		return binance.OrderTypeStopLoss
	case types.OrderTypeStopLimit:
		return binance.OrderTypeStopLossLimit
	default:
		return binance.OrderTypeMarket
	}
}

func fromBinanceStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.OrderStatusNew
	case "PARTIALLY_FILLED":
		return types.OrderStatusPartiallyFilled
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return types.OrderStatusCanceled
	case "REJECTED":
		return types.OrderStatusRejected
	default:
		return strings.ToLower(s)
	}
}

// mustDecimal parses a venue-reported numeric string, mapping malformed input
// to zero. Venue payloads are well-formed in practice; a zero is safer than a
// panic deep in an aggregation sweep.
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
