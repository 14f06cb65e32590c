// Package alpaca adapts the Alpaca trading and market-data APIs to the venue
// contract. Paper mode targets Alpaca's paper endpoint, which is the default
// when no base URL is configured.
package alpaca

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/pkg/types"
)

const (
	paperBaseURL = "https://paper-api.alpaca.markets"
	liveBaseURL  = "https://api.alpaca.markets"
)

// Venue wraps the Alpaca trading and market-data clients. The Alpaca SDK
// manages its own HTTP timeouts, so the context on each call bounds only the
// adapter's own work.
type Venue struct {
	trading *alpaca.Client
	data    *marketdata.Client
	emit    types.EmitFunc
	log     *logrus.Entry
}

var _ types.VenueAdapter = (*Venue)(nil)

// New constructs the adapter. api_key and api_secret are required.
func New(id string, cfg types.VenueConfig, emit types.EmitFunc) (types.VenueAdapter, error) {
	if cfg.APIKey == "" {
		return nil, &types.ConfigError{VenueType: types.VenueAlpaca, Field: "api_key", Reason: "required"}
	}
	if cfg.APISecret == "" {
		return nil, &types.ConfigError{VenueType: types.VenueAlpaca, Field: "api_secret", Reason: "required"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = liveBaseURL
		if cfg.Paper {
			baseURL = paperBaseURL
		}
	}

	return &Venue{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		emit: emit,
		log:  logrus.WithFields(logrus.Fields{"component": "alpaca-venue", "venue": id}),
	}, nil
}

// Capabilities declares US equities without streaming; quote subscriptions go
// through venues that stream.
func (v *Venue) Capabilities() types.Capabilities {
	return types.Capabilities{
		AssetClasses: []types.AssetClass{types.AssetStock},
		Streaming:    false,
	}
}

// Connect verifies credentials with an account fetch.
func (v *Venue) Connect(ctx context.Context) error {
	if _, err := v.trading.GetAccount(); err != nil {
		return fmt.Errorf("alpaca account check: %w", err)
	}
	return nil
}

// Disconnect is a no-op; the client is stateless REST.
func (v *Venue) Disconnect(ctx context.Context) error {
	return nil
}

func (v *Venue) GetAccount(ctx context.Context) (*types.Account, error) {
	acct, err := v.trading.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca account: %w", err)
	}
	return &types.Account{
		Currency:    acct.Currency,
		Equity:      acct.Equity,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
		MarginUsed:  acct.InitialMargin,
		UpdatedAt:   time.Now(),
	}, nil
}

func (v *Venue) GetPositions(ctx context.Context) ([]*types.Position, error) {
	positions, err := v.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}

	out := make([]*types.Position, 0, len(positions))
	for _, p := range positions {
		pos := &types.Position{
			Symbol:     p.Symbol,
			Side:       p.Side,
			Quantity:   p.Qty,
			EntryPrice: p.AvgEntryPrice,
			UpdatedAt:  time.Now(),
		}
		if p.CurrentPrice != nil {
			pos.MarkPrice = *p.CurrentPrice
		}
		if p.UnrealizedPL != nil {
			pos.UnrealizedPnL = *p.UnrealizedPL
		}
		out = append(out, pos)
	}
	return out, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req *types.OrderRequest) (*types.Order, error) {
	qty := req.Quantity
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          toAlpacaSide(req.Side),
		Type:          toAlpacaType(req.Type),
		TimeInForce:   toAlpacaTIF(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == types.OrderTypeLimit || req.Type == types.OrderTypeStopLimit {
		price := req.Price
		placeReq.LimitPrice = &price
	}
	if req.Type == types.OrderTypeStop || req.Type == types.OrderTypeStopLimit {
		stop := req.StopPrice
		placeReq.StopPrice = &stop
	}

	order, err := v.trading.PlaceOrder(placeReq)
	if err != nil {
		return nil, fmt.Errorf("alpaca place order: %w", err)
	}
	return fromAlpacaOrder(order), nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	if err := v.trading.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca cancel order: %w", err)
	}
	return nil
}

func (v *Venue) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	order, err := v.trading.GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("alpaca get order: %w", err)
	}
	return fromAlpacaOrder(order), nil
}

func (v *Venue) ClosePosition(ctx context.Context, symbol string, qty decimal.Decimal) (*types.Order, error) {
	req := alpaca.ClosePositionRequest{}
	if !qty.IsZero() {
		req.Qty = qty
	}
	order, err := v.trading.ClosePosition(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("alpaca close position %s: %w", symbol, err)
	}
	return fromAlpacaOrder(order), nil
}

func (v *Venue) CloseAllPositions(ctx context.Context) ([]*types.Order, error) {
	orders, err := v.trading.CloseAllPositions(alpaca.CloseAllPositionsRequest{
		CancelOrders: true,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca close all positions: %w", err)
	}

	out := make([]*types.Order, 0, len(orders))
	for i := range orders {
		out = append(out, fromAlpacaOrder(&orders[i]))
	}
	return out, nil
}

// GetTrades lists fill activities.
func (v *Venue) GetTrades(ctx context.Context, filter types.TradeFilter) ([]*types.Trade, error) {
	req := alpaca.GetAccountActivitiesRequest{
		ActivityTypes: []string{"FILL"},
		After:         filter.Start,
		Until:         filter.End,
	}

	activities, err := v.trading.GetAccountActivities(req)
	if err != nil {
		return nil, fmt.Errorf("alpaca activities: %w", err)
	}

	var out []*types.Trade
	for _, a := range activities {
		if filter.Symbol != "" && a.Symbol != filter.Symbol {
			continue
		}
		out = append(out, &types.Trade{
			ID:       a.ID,
			OrderID:  a.OrderID,
			Symbol:   a.Symbol,
			Side:     a.Side,
			Price:    a.Price,
			Quantity: a.Qty,
			Time:     a.TransactionTime,
		})
	}
	return out, nil
}

func (v *Venue) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	quote, err := v.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, fmt.Errorf("alpaca latest quote %s: %w", symbol, err)
	}
	return &types.Quote{
		Symbol:  symbol,
		Bid:     decimal.NewFromFloat(quote.BidPrice),
		BidSize: decimal.NewFromInt(int64(quote.BidSize)),
		Ask:     decimal.NewFromFloat(quote.AskPrice),
		AskSize: decimal.NewFromInt(int64(quote.AskSize)),
		Time:    quote.Timestamp,
	}, nil
}

func (v *Venue) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*types.Bar, error) {
	tf, err := toAlpacaTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	bars, err := v.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}

	out := make([]*types.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, &types.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      decimal.NewFromFloat(b.Open),
			High:      decimal.NewFromFloat(b.High),
			Low:       decimal.NewFromFloat(b.Low),
			Close:     decimal.NewFromFloat(b.Close),
			Volume:    decimal.NewFromInt(int64(b.Volume)),
			Start:     b.Timestamp,
		})
	}
	return out, nil
}

// SubscribeQuotes is unsupported: this adapter does not declare streaming.
func (v *Venue) SubscribeQuotes(ctx context.Context, symbols []string) error {
	return types.ErrStreamingUnsupported
}

func fromAlpacaOrder(o *alpaca.Order) *types.Order {
	out := &types.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Status:         o.Status,
		FilledQuantity: o.FilledQty,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Qty != nil {
		out.Quantity = *o.Qty
	}
	if o.LimitPrice != nil {
		out.Price = *o.LimitPrice
	}
	if o.FilledAvgPrice != nil {
		out.AvgFillPrice = *o.FilledAvgPrice
	}
	return out
}

func toAlpacaSide(side types.OrderSide) alpaca.Side {
	if side == types.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func toAlpacaType(t types.OrderType) alpaca.OrderType {
	switch t {
	case types.OrderTypeLimit:
		return alpaca.Limit
	case types.OrderTypeStop:
		return alpaca.Stop
	case types.OrderTypeStopLimit:
		return alpaca.StopLimit
	default:
		return alpaca.Market
	}
}

func toAlpacaTIF(tif string) alpaca.TimeInForce {
	switch tif {
	case "gtc", "GTC":
		return alpaca.GTC
	case "ioc", "IOC":
		return alpaca.IOC
	default:
		return alpaca.Day
	}
}

func toAlpacaTimeframe(timeframe string) (marketdata.TimeFrame, error) {
	switch timeframe {
	case "1m", "":
		return marketdata.OneMin, nil
	case "1h":
		return marketdata.OneHour, nil
	case "1d":
		return marketdata.OneDay, nil
	case "5m":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "15m":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "4h":
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}
