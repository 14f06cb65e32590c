package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/pkg/types"
)

// fanoutTimeout bounds each per-venue call inside a multi-venue operation so
// a hung venue cannot stall the whole fan-out.
const fanoutTimeout = 10 * time.Second

// RoutedOrder is the result of a successful submission: the order as the
// venue reported it, plus which venue it landed on.
type RoutedOrder struct {
	VenueID string       `json:"venue_id"`
	Order   *types.Order `json:"order"`
}

// CloseResult is one venue's outcome within CloseAllPositions.
type CloseResult struct {
	VenueID string         `json:"venue_id"`
	Orders  []*types.Order `json:"orders,omitempty"`
	Err     error          `json:"-"`
}

// Dispatcher resolves a venue for each order or data request and delegates
// to its adapter.
type Dispatcher struct {
	venues *venue.Manager
	table  *Table
	log    *logrus.Entry
}

// NewDispatcher wires a dispatcher to the registry and routing table.
func NewDispatcher(venues *venue.Manager, table *Table) *Dispatcher {
	return &Dispatcher{
		venues: venues,
		table:  table,
		log:    logrus.WithField("component", "dispatcher"),
	}
}

// resolve picks the venue for an order: explicit id first, then the routing
// table's preferred (and fallback) venue for the asset class, then the first
// connected venue in registration order.
func (d *Dispatcher) resolve(class types.AssetClass, preferredID string) (*venue.Connection, error) {
	if preferredID != "" {
		conn, err := d.venues.Get(preferredID)
		if err != nil {
			return nil, fmt.Errorf("routing to %s: %w", preferredID, types.ErrNoVenueAvailable)
		}
		if !conn.Connected() {
			return nil, fmt.Errorf("routing to %s: %w", preferredID, types.ErrNoVenueAvailable)
		}
		return conn, nil
	}

	if class != "" {
		if id, ok := d.table.Preferred(class); ok {
			if conn, err := d.venues.Get(id); err == nil && conn.Connected() {
				return conn, nil
			}
		}
		if id, ok := d.table.Fallback(class); ok {
			if conn, err := d.venues.Get(id); err == nil && conn.Connected() {
				return conn, nil
			}
		}
	}

	for _, conn := range d.venues.Connected() {
		if class == "" || conn.Supports(class) {
			return conn, nil
		}
	}

	return nil, types.ErrNoVenueAvailable
}

// SubmitOrder routes req to a venue and submits it. class and preferredID are
// both optional; see resolve for the resolution order.
func (d *Dispatcher) SubmitOrder(ctx context.Context, req *types.OrderRequest, class types.AssetClass, preferredID string) (*RoutedOrder, error) {
	conn, err := d.resolve(class, preferredID)
	if err != nil {
		return nil, err
	}

	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	order, err := conn.Adapter.SubmitOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submitting order to %s: %w", conn.ID, err)
	}
	order.VenueID = conn.ID

	d.log.WithFields(logrus.Fields{
		"venue":  conn.ID,
		"symbol": req.Symbol,
		"side":   req.Side,
		"type":   req.Type,
	}).Info("order routed")

	return &RoutedOrder{VenueID: conn.ID, Order: order}, nil
}

// CancelOrder cancels an order at a specific venue, which must be connected.
func (d *Dispatcher) CancelOrder(ctx context.Context, venueID, orderID string) error {
	conn, err := d.requireConnected(venueID)
	if err != nil {
		return err
	}
	if err := conn.Adapter.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("canceling order %s on %s: %w", orderID, venueID, err)
	}
	return nil
}

// GetOrder fetches an order's current state from a specific venue.
func (d *Dispatcher) GetOrder(ctx context.Context, venueID, orderID string) (*types.Order, error) {
	conn, err := d.requireConnected(venueID)
	if err != nil {
		return nil, err
	}
	order, err := conn.Adapter.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetching order %s from %s: %w", orderID, venueID, err)
	}
	order.VenueID = venueID
	return order, nil
}

// ClosePosition closes (all or qty of) a position at a specific venue.
func (d *Dispatcher) ClosePosition(ctx context.Context, venueID, symbol string, qty decimal.Decimal) (*types.Order, error) {
	conn, err := d.requireConnected(venueID)
	if err != nil {
		return nil, err
	}
	order, err := conn.Adapter.ClosePosition(ctx, symbol, qty)
	if err != nil {
		return nil, fmt.Errorf("closing %s on %s: %w", symbol, venueID, err)
	}
	if order != nil {
		order.VenueID = venueID
	}
	return order, nil
}

// CloseAllPositions fans out to every connected venue, collecting per-venue
// results and continuing past individual failures.
func (d *Dispatcher) CloseAllPositions(ctx context.Context) []CloseResult {
	conns := d.venues.Connected()

	results := make([]CloseResult, len(conns))
	var wg sync.WaitGroup

	for i, conn := range conns {
		wg.Add(1)
		go func(i int, c *venue.Connection) {
			defer wg.Done()

			vctx, cancel := context.WithTimeout(ctx, fanoutTimeout)
			defer cancel()

			orders, err := c.Adapter.CloseAllPositions(vctx)
			if err != nil {
				d.log.WithError(err).WithField("venue", c.ID).Error("close-all failed")
				results[i] = CloseResult{VenueID: c.ID, Err: err}
				return
			}
			for _, o := range orders {
				o.VenueID = c.ID
			}
			results[i] = CloseResult{VenueID: c.ID, Orders: orders}
		}(i, conn)
	}
	wg.Wait()

	return results
}

// GetQuote fetches a quote. With venueID given that venue is used
// exclusively; otherwise every connected venue is tried in registration order
// and the first success wins, surfacing the last error only if all fail.
func (d *Dispatcher) GetQuote(ctx context.Context, symbol, venueID string) (*types.Quote, error) {
	if venueID != "" {
		conn, err := d.requireConnected(venueID)
		if err != nil {
			return nil, err
		}
		quote, err := conn.Adapter.GetQuote(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("quote for %s from %s: %w", symbol, venueID, err)
		}
		quote.VenueID = venueID
		return quote, nil
	}

	var lastErr error
	for _, conn := range d.venues.Connected() {
		quote, err := conn.Adapter.GetQuote(ctx, symbol)
		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{"venue": conn.ID, "symbol": symbol}).
				Debug("quote attempt failed")
			lastErr = err
			continue
		}
		quote.VenueID = conn.ID
		return quote, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("quote for %s: %w", symbol, lastErr)
	}
	return nil, fmt.Errorf("quote for %s: %w", symbol, types.ErrNoVenueAvailable)
}

// GetBars fetches historical bars with the same venue selection as GetQuote.
func (d *Dispatcher) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time, venueID string) ([]*types.Bar, error) {
	if venueID != "" {
		conn, err := d.requireConnected(venueID)
		if err != nil {
			return nil, err
		}
		bars, err := conn.Adapter.GetBars(ctx, symbol, timeframe, start, end)
		if err != nil {
			return nil, fmt.Errorf("bars for %s from %s: %w", symbol, venueID, err)
		}
		return bars, nil
	}

	var lastErr error
	for _, conn := range d.venues.Connected() {
		bars, err := conn.Adapter.GetBars(ctx, symbol, timeframe, start, end)
		if err != nil {
			lastErr = err
			continue
		}
		return bars, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("bars for %s: %w", symbol, lastErr)
	}
	return nil, fmt.Errorf("bars for %s: %w", symbol, types.ErrNoVenueAvailable)
}

// SubscribeQuotes subscribes to streaming quotes. With no venueID it targets
// every connected venue that declares streaming support; one venue failing is
// logged and does not block the others. Returns how many venues subscribed.
func (d *Dispatcher) SubscribeQuotes(ctx context.Context, symbols []string, venueID string) (int, error) {
	if venueID != "" {
		conn, err := d.requireConnected(venueID)
		if err != nil {
			return 0, err
		}
		if !conn.Streaming {
			return 0, fmt.Errorf("venue %s: %w", venueID, types.ErrStreamingUnsupported)
		}
		if err := conn.Adapter.SubscribeQuotes(ctx, symbols); err != nil {
			return 0, fmt.Errorf("subscribing on %s: %w", venueID, err)
		}
		return 1, nil
	}

	subscribed := 0
	for _, conn := range d.venues.Connected() {
		if !conn.Streaming {
			continue
		}
		if err := conn.Adapter.SubscribeQuotes(ctx, symbols); err != nil {
			d.log.WithError(err).WithField("venue", conn.ID).Warn("quote subscription failed")
			continue
		}
		subscribed++
	}
	return subscribed, nil
}

func (d *Dispatcher) requireConnected(venueID string) (*venue.Connection, error) {
	conn, err := d.venues.Get(venueID)
	if err != nil {
		return nil, err
	}
	if !conn.Connected() {
		return nil, fmt.Errorf("venue %s: %w", venueID, types.ErrVenueUnavailable)
	}
	return conn, nil
}
