// Package portfolio aggregates accounts, positions, and trade history across
// every connected venue. Snapshots are recomputed on demand, never cached.
package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/pkg/types"
)

// queryTimeout bounds each venue's contribution to a fan-out so one hung
// venue cannot stall the aggregate.
const queryTimeout = 10 * time.Second

// Portfolio is a read-only snapshot summed across all venues that responded.
// Totals are strict sums; venues are assumed to report in a common unit.
// Position keys are "venueID:symbol" so identical symbols held at two venues
// stay distinct.
type Portfolio struct {
	TotalEquity      decimal.Decimal            `json:"total_equity"`
	TotalCash        decimal.Decimal            `json:"total_cash"`
	TotalBuyingPower decimal.Decimal            `json:"total_buying_power"`
	TotalMarginUsed  decimal.Decimal            `json:"total_margin_used"`
	Positions        map[string]*types.Position `json:"positions"`
	Accounts         map[string]*types.Account  `json:"accounts"`
	GeneratedAt      time.Time                  `json:"generated_at"`
}

// PositionKey builds the namespaced key for a position in a Portfolio.
func PositionKey(venueID, symbol string) string {
	return fmt.Sprintf("%s:%s", venueID, symbol)
}

// Engine runs the aggregation fan-outs against the registry.
type Engine struct {
	venues *venue.Manager
	log    *logrus.Entry
}

// NewEngine wires an aggregation engine to the registry.
func NewEngine(venues *venue.Manager) *Engine {
	return &Engine{
		venues: venues,
		log:    logrus.WithField("component", "portfolio"),
	}
}

// Aggregate queries account and position data from every connected venue
// concurrently. A venue that fails to respond is skipped (contributes zero)
// and does not abort the aggregation of the remaining venues.
func (e *Engine) Aggregate(ctx context.Context) *Portfolio {
	conns := e.venues.Connected()

	p := &Portfolio{
		Positions:   make(map[string]*types.Position),
		Accounts:    make(map[string]*types.Account),
		GeneratedAt: time.Now(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, queryTimeout)
			defer cancel()

			account, err := conn.Adapter.GetAccount(vctx)
			if err != nil {
				e.log.WithError(err).WithField("venue", conn.ID).Warn("account query failed, venue skipped")
				return nil
			}
			account.VenueID = conn.ID

			positions, err := conn.Adapter.GetPositions(vctx)
			if err != nil {
				e.log.WithError(err).WithField("venue", conn.ID).Warn("position query failed, venue skipped")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			p.Accounts[conn.ID] = account
			p.TotalEquity = p.TotalEquity.Add(account.Equity)
			p.TotalCash = p.TotalCash.Add(account.Cash)
			p.TotalBuyingPower = p.TotalBuyingPower.Add(account.BuyingPower)
			p.TotalMarginUsed = p.TotalMarginUsed.Add(account.MarginUsed)

			for _, pos := range positions {
				pos.VenueID = conn.ID
				p.Positions[PositionKey(conn.ID, pos.Symbol)] = pos
			}
			return nil
		})
	}
	g.Wait() // workers never return errors; failures are logged per venue

	return p
}

// AllPositions fans out to every connected venue and returns the merged
// position list, tolerating individual venue failures.
func (e *Engine) AllPositions(ctx context.Context) []*types.Position {
	conns := e.venues.Connected()

	var mu sync.Mutex
	var out []*types.Position
	g, gctx := errgroup.WithContext(ctx)

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, queryTimeout)
			defer cancel()

			positions, err := conn.Adapter.GetPositions(vctx)
			if err != nil {
				e.log.WithError(err).WithField("venue", conn.ID).Warn("position query failed, venue skipped")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, pos := range positions {
				pos.VenueID = conn.ID
				out = append(out, pos)
			}
			return nil
		})
	}
	g.Wait()

	return out
}

// TradeHistory merges each connected venue's trades matching filter, sorted
// by timestamp descending. Venue failures are logged and skipped.
func (e *Engine) TradeHistory(ctx context.Context, filter types.TradeFilter) []*types.Trade {
	conns := e.venues.Connected()

	var mu sync.Mutex
	var out []*types.Trade
	g, gctx := errgroup.WithContext(ctx)

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, queryTimeout)
			defer cancel()

			trades, err := conn.Adapter.GetTrades(vctx, filter)
			if err != nil {
				e.log.WithError(err).WithField("venue", conn.ID).Warn("trade query failed, venue skipped")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, tr := range trades {
				tr.VenueID = conn.ID
				out = append(out, tr)
			}
			return nil
		})
	}
	g.Wait()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.After(out[j].Time)
	})
	return out
}
