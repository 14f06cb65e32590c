// Package service is the caller-facing facade over the broker aggregation
// layer: it composes the connection registry, routing table, dispatcher,
// aggregation engine, health monitor, and trading-mode controller into one
// explicitly constructed instance owned by the process's composition root.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/internal/health"
	"github.com/brokermesh/oms/internal/portfolio"
	"github.com/brokermesh/oms/internal/router"
	"github.com/brokermesh/oms/internal/trademode"
	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/pkg/bus"
	"github.com/brokermesh/oms/pkg/types"
)

// Options configures a Service. Factory is required; everything else has
// safe defaults.
type Options struct {
	Factory *venue.Factory
	// Hub to publish events on; a fresh hub is created when nil.
	Hub *bus.Hub
	// Mode is the initial trading mode, paper by default.
	Mode trademode.Mode
	// HealthInterval overrides the probe interval (default 60s).
	HealthInterval time.Duration
	// ProbeTimeout overrides the per-probe timeout (default 10s).
	ProbeTimeout time.Duration
}

// Service exposes the full broker-routing surface to its caller (an HTTP
// layer, a strategy engine). Construct one per process; tests build their own.
type Service struct {
	hub      *bus.Hub
	venues   *venue.Manager
	table    *router.Table
	dispatch *router.Dispatcher
	engine   *portfolio.Engine
	monitor  *health.Monitor
	mode     *trademode.Controller
	log      *logrus.Entry
}

// New wires up a service instance. The health monitor is created but not
// started; call Start.
func New(opts Options) *Service {
	hub := opts.Hub
	if hub == nil {
		hub = bus.New()
	}

	table := router.NewTable()
	venues := venue.NewManager(opts.Factory, hub, table)

	return &Service{
		hub:      hub,
		venues:   venues,
		table:    table,
		dispatch: router.NewDispatcher(venues, table),
		engine:   portfolio.NewEngine(venues),
		monitor: health.NewMonitor(venues, health.Config{
			Interval:     opts.HealthInterval,
			ProbeTimeout: opts.ProbeTimeout,
		}),
		mode: trademode.NewController(opts.Mode, venues, hub),
		log:  logrus.WithField("component", "broker-service"),
	}
}

// Events returns the hub so callers can subscribe to venue events.
func (s *Service) Events() *bus.Hub { return s.hub }

// Start launches background activity (the health monitor).
func (s *Service) Start() {
	s.monitor.Start()
}

// Shutdown stops the health monitor and disconnects every venue before
// returning.
func (s *Service) Shutdown(ctx context.Context) {
	s.monitor.Stop()
	s.venues.Shutdown(ctx)
	s.log.Info("broker service stopped")
}

// --- registry surface ---

// AddBroker registers a venue under id. Fails with a ConfigError for an
// unknown type or missing required fields, and with ErrDuplicateID when id
// already exists.
func (s *Service) AddBroker(id string, vtype types.VenueType, cfg types.VenueConfig, opts venue.Options) error {
	return s.venues.Register(id, vtype, cfg, opts)
}

// ConnectBroker connects one venue.
func (s *Service) ConnectBroker(ctx context.Context, id string) error {
	return s.venues.Connect(ctx, id)
}

// ConnectAll connects every registered venue concurrently and returns the
// number that connected successfully.
func (s *Service) ConnectAll(ctx context.Context) int {
	return s.venues.ConnectAll(ctx)
}

// DisconnectBroker disconnects one venue. Idempotent.
func (s *Service) DisconnectBroker(ctx context.Context, id string) error {
	return s.venues.Disconnect(ctx, id)
}

// DisconnectAll disconnects every connected venue and returns the count.
func (s *Service) DisconnectAll(ctx context.Context) int {
	return s.venues.DisconnectAll(ctx)
}

// RemoveBroker disconnects (if needed) and deletes a venue. No-op when
// unknown.
func (s *Service) RemoveBroker(ctx context.Context, id string) {
	s.venues.Remove(ctx, id)
}

// GetStatus reports connected/total counts and per-venue rows.
func (s *Service) GetStatus() venue.Status { return s.venues.Status() }

// GetHealth reports per-venue heartbeat detail.
func (s *Service) GetHealth() []venue.VenueHealth { return s.venues.Health() }

// GetBroker returns the registry record for id.
func (s *Service) GetBroker(id string) (*venue.Connection, error) {
	return s.venues.Get(id)
}

// GetConnectedBrokerIDs lists connected venue ids in registration order.
func (s *Service) GetConnectedBrokerIDs() []string {
	return s.venues.ConnectedIDs()
}

// GetAccount fetches one venue's account snapshot. The venue must be
// connected.
func (s *Service) GetAccount(ctx context.Context, venueID string) (*types.Account, error) {
	conn, err := s.venues.Get(venueID)
	if err != nil {
		return nil, err
	}
	if !conn.Connected() {
		return nil, types.ErrVenueUnavailable
	}
	account, err := conn.Adapter.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	account.VenueID = venueID
	return account, nil
}

// --- dispatch surface ---

// SubmitOrder routes and submits an order. assetClass and preferredVenueID
// are optional; see the dispatcher for the resolution order.
func (s *Service) SubmitOrder(ctx context.Context, req *types.OrderRequest, assetClass types.AssetClass, preferredVenueID string) (*router.RoutedOrder, error) {
	return s.dispatch.SubmitOrder(ctx, req, assetClass, preferredVenueID)
}

// CancelOrder cancels an order at a connected venue.
func (s *Service) CancelOrder(ctx context.Context, venueID, orderID string) error {
	return s.dispatch.CancelOrder(ctx, venueID, orderID)
}

// GetOrder fetches an order's current state from a connected venue.
func (s *Service) GetOrder(ctx context.Context, venueID, orderID string) (*types.Order, error) {
	return s.dispatch.GetOrder(ctx, venueID, orderID)
}

// ClosePosition closes a position (fully when qty is zero) at a venue.
func (s *Service) ClosePosition(ctx context.Context, venueID, symbol string, qty decimal.Decimal) (*types.Order, error) {
	return s.dispatch.ClosePosition(ctx, venueID, symbol, qty)
}

// CloseAllPositions fans out to every connected venue, tolerating per-venue
// failures.
func (s *Service) CloseAllPositions(ctx context.Context) []router.CloseResult {
	return s.dispatch.CloseAllPositions(ctx)
}

// GetQuote fetches a quote from a specific venue or the first responsive one.
func (s *Service) GetQuote(ctx context.Context, symbol, venueID string) (*types.Quote, error) {
	return s.dispatch.GetQuote(ctx, symbol, venueID)
}

// GetBars fetches historical bars.
func (s *Service) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time, venueID string) ([]*types.Bar, error) {
	return s.dispatch.GetBars(ctx, symbol, timeframe, start, end, venueID)
}

// SubscribeQuotes subscribes to streaming quotes on one venue or on every
// connected streaming-capable venue.
func (s *Service) SubscribeQuotes(ctx context.Context, symbols []string, venueID string) (int, error) {
	return s.dispatch.SubscribeQuotes(ctx, symbols, venueID)
}

// SetRoutingPreference explicitly points an asset class at a venue.
func (s *Service) SetRoutingPreference(class types.AssetClass, preferred, fallback string) error {
	return s.table.SetPreference(class, preferred, fallback)
}

// GetRoutingPreferences returns the routing table snapshot.
func (s *Service) GetRoutingPreferences() []router.Preference {
	return s.table.Preferences()
}

// --- aggregation surface ---

// GetAggregatedPortfolio recomputes the portfolio-wide snapshot from every
// connected venue. Unresponsive venues contribute zero.
func (s *Service) GetAggregatedPortfolio(ctx context.Context) *portfolio.Portfolio {
	return s.engine.Aggregate(ctx)
}

// GetAllPositions returns the merged positions across connected venues.
func (s *Service) GetAllPositions(ctx context.Context) []*types.Position {
	return s.engine.AllPositions(ctx)
}

// GetTradeHistory returns merged trades, newest first.
func (s *Service) GetTradeHistory(ctx context.Context, filter types.TradeFilter) []*types.Trade {
	return s.engine.TradeHistory(ctx, filter)
}

// --- trading mode surface ---

// IsPaperMode reports whether trading is simulated.
func (s *Service) IsPaperMode() bool { return s.mode.IsPaper() }

// GetTradingMode returns the current mode.
func (s *Service) GetTradingMode() trademode.Mode { return s.mode.Mode() }

// GetTradingModeInfo returns the read-only mode summary.
func (s *Service) GetTradingModeInfo() trademode.Info { return s.mode.Info() }

// SetTradingMode switches paper/live. An actual switch disconnects every
// venue as a visible side effect and does not reconnect them.
func (s *Service) SetTradingMode(ctx context.Context, mode trademode.Mode) (*trademode.SwitchResult, error) {
	return s.mode.Set(ctx, mode)
}
