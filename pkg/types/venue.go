package types

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Capabilities describes what a venue adapter can do. Declared once at
// construction and treated as immutable afterwards.
type Capabilities struct {
	AssetClasses []AssetClass `json:"asset_classes"`
	Streaming    bool         `json:"streaming"`
}

// Supports reports whether the venue declares the given asset class.
func (c Capabilities) Supports(class AssetClass) bool {
	for _, ac := range c.AssetClasses {
		if ac == class {
			return true
		}
	}
	return false
}

// VenueConfig carries the per-venue settings needed to construct an adapter.
// Which fields are required depends on the venue type; constructors return a
// *ConfigError when a required field is missing.
type VenueConfig struct {
	APIKey    string            `json:"api_key,omitempty" mapstructure:"api_key"`
	APISecret string            `json:"api_secret,omitempty" mapstructure:"api_secret"`
	BaseURL   string            `json:"base_url,omitempty" mapstructure:"base_url"`
	Host      string            `json:"host,omitempty" mapstructure:"host"`
	Port      int               `json:"port,omitempty" mapstructure:"port"`
	Paper     bool              `json:"paper,omitempty" mapstructure:"paper"`
	Extra     map[string]string `json:"extra,omitempty" mapstructure:"extra"`
}

// EmitFunc is how an adapter pushes events back to the routing layer. The
// registry tags each event with the venue id before it reaches subscribers,
// so adapters may leave VenueID empty.
type EmitFunc func(Event)

// VenueAdapter is the uniform contract every venue integration implements.
// All network-bound calls take a context and must honor its deadline. Connect
// and Disconnect are idempotent.
type VenueAdapter interface {
	Capabilities() Capabilities

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]*Position, error)

	SubmitOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ClosePosition(ctx context.Context, symbol string, qty decimal.Decimal) (*Order, error)
	CloseAllPositions(ctx context.Context) ([]*Order, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]*Trade, error)

	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*Bar, error)
	SubscribeQuotes(ctx context.Context, symbols []string) error
}

// EventKind names a topic on the event hub.
type EventKind string

const (
	EventConnected      EventKind = "connected"
	EventDisconnected   EventKind = "disconnected"
	EventError          EventKind = "error"
	EventOrderUpdate    EventKind = "order_update"
	EventPositionUpdate EventKind = "position_update"
	EventTrade          EventKind = "trade"
	EventQuote          EventKind = "quote"
	EventBar            EventKind = "bar"
	EventModeChange     EventKind = "mode_change"
)

// Event is a tagged notification re-published by the hub to all subscribers.
// VenueID is empty for process-level events such as mode changes.
type Event struct {
	VenueID string      `json:"venue_id,omitempty"`
	Kind    EventKind   `json:"kind"`
	Reason  string      `json:"reason,omitempty"`
	Error   string      `json:"error,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Time    time.Time   `json:"time"`
}
