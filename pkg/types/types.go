package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass is the market category used as the routing key.
type AssetClass string

const (
	AssetStock       AssetClass = "stock"
	AssetCrypto      AssetClass = "crypto"
	AssetForex       AssetClass = "forex"
	AssetFutures     AssetClass = "futures"
	AssetOptions     AssetClass = "options"
	AssetCommodities AssetClass = "commodities"
	AssetCFD         AssetClass = "cfd"
	AssetBond        AssetClass = "bond"
)

// AllAssetClasses is the fixed set of asset classes known to the router.
// The routing table creates one preference entry per class at startup.
func AllAssetClasses() []AssetClass {
	return []AssetClass{
		AssetStock,
		AssetCrypto,
		AssetForex,
		AssetFutures,
		AssetOptions,
		AssetCommodities,
		AssetCFD,
		AssetBond,
	}
}

// VenueType identifies a venue adapter implementation.
type VenueType string

const (
	VenueAlpaca     VenueType = "alpaca"
	VenueBinance    VenueType = "binance"
	VenueMetaTrader VenueType = "metatrader"
	VenuePaper      VenueType = "paper"
)

// Order sides
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Order types
const (
	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"
)

// Order status
const (
	OrderStatusNew             = "new"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusRejected        = "rejected"
)

// Type aliases kept as plain strings so adapters can pass venue values through.
type OrderSide = string
type OrderType = string
type OrderStatus = string

// OrderRequest describes an order to be routed to a venue.
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price,omitempty"`
	StopPrice     decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce   string          `json:"time_in_force,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

// Order represents an order as reported by a venue.
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
	VenueID        string          `json:"venue_id,omitempty"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Status         OrderStatus     `json:"status"`
	Price          decimal.Decimal `json:"price,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at,omitempty"`
}

// Account is a snapshot of a single venue's account. All amounts are in the
// venue's reporting currency; no conversion is applied by this layer.
type Account struct {
	VenueID     string          `json:"venue_id,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Equity      decimal.Decimal `json:"equity"`
	Cash        decimal.Decimal `json:"cash"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	MarginUsed  decimal.Decimal `json:"margin_used"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Position represents an open position at one venue.
type Position struct {
	VenueID       string          `json:"venue_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price,omitempty"`
	MarkPrice     decimal.Decimal `json:"mark_price,omitempty"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at,omitempty"`
}

// Trade represents an executed fill.
type Trade struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id,omitempty"`
	VenueID  string          `json:"venue_id,omitempty"`
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Fee      decimal.Decimal `json:"fee,omitempty"`
	Time     time.Time       `json:"time"`
}

// TradeFilter narrows a trade-history query. Zero values mean "no bound".
type TradeFilter struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

// Quote is a top-of-book snapshot.
type Quote struct {
	VenueID string          `json:"venue_id,omitempty"`
	Symbol  string          `json:"symbol"`
	Bid     decimal.Decimal `json:"bid"`
	BidSize decimal.Decimal `json:"bid_size,omitempty"`
	Ask     decimal.Decimal `json:"ask"`
	AskSize decimal.Decimal `json:"ask_size,omitempty"`
	Last    decimal.Decimal `json:"last,omitempty"`
	Time    time.Time       `json:"time"`
}

// Bar is a single OHLCV candle.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe,omitempty"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end,omitempty"`
}
