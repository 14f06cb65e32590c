// Package venue implements the connection registry: it owns the set of
// registered venue adapters, their lifecycle, and their health counters.
package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/pkg/bus"
	"github.com/brokermesh/oms/pkg/types"
)

// Per-venue timeouts. Fan-out operations never wait longer than these on a
// single hung venue.
const (
	connectTimeout    = 15 * time.Second
	disconnectTimeout = 10 * time.Second
)

// RoutingObserver is notified whenever a venue is registered so routing
// preferences can be kept current. Implemented by router.Table.
type RoutingObserver interface {
	ObserveVenue(id string, classes []types.AssetClass, primary bool)
}

// Options carries optional registration settings.
type Options struct {
	// Name is the human-readable display name; defaults to the id.
	Name string
	// Primary marks this venue as the preferred target for every asset class
	// it supports. Advisory: a later primary simply re-points the preference.
	Primary bool
}

// VenueStatus is one row of the registry status report.
type VenueStatus struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      types.VenueType `json:"type"`
	Connected bool            `json:"connected"`
}

// Status summarizes the registry: connected/total counts plus per-venue rows
// in registration order. A pure read.
type Status struct {
	ConnectedVenues int           `json:"connected_venues"`
	TotalVenues     int           `json:"total_venues"`
	Venues          []VenueStatus `json:"venues"`
}

// VenueHealth is one venue's liveness detail.
type VenueHealth struct {
	ID            string    `json:"id"`
	Connected     bool      `json:"connected"`
	Failures      int       `json:"failures"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

// Manager is the connection registry. The map of id to connection record is
// the only shared mutable structure in the routing layer; it is guarded here,
// while per-venue state flips are serialized by each record's own lock.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	order []string // registration order, drives deterministic iteration

	factory *Factory
	hub     *bus.Hub
	routes  RoutingObserver
	log     *logrus.Entry
}

// NewManager creates a registry. routes may be nil when no routing table
// needs to observe registrations (tests).
func NewManager(factory *Factory, hub *bus.Hub, routes RoutingObserver) *Manager {
	return &Manager{
		conns:   make(map[string]*Connection),
		factory: factory,
		hub:     hub,
		routes:  routes,
		log:     logrus.WithField("component", "venue-registry"),
	}
}

// Register constructs the adapter for vtype, stores the record in state
// disconnected, wires its events into the hub tagged with id, and updates the
// routing table for every asset class the adapter declares.
func (m *Manager) Register(id string, vtype types.VenueType, cfg types.VenueConfig, opts Options) error {
	if id == "" {
		return &types.ConfigError{VenueType: vtype, Field: "id", Reason: "must not be empty"}
	}

	m.mu.RLock()
	_, exists := m.conns[id]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("venue %s: %w", id, types.ErrDuplicateID)
	}

	emit := func(ev types.Event) {
		ev.VenueID = id
		m.hub.Publish(ev)
	}

	adapter, err := m.factory.New(vtype, id, cfg, emit)
	if err != nil {
		return err
	}

	caps := adapter.Capabilities()
	classes := make([]types.AssetClass, len(caps.AssetClasses))
	copy(classes, caps.AssetClasses)

	name := opts.Name
	if name == "" {
		name = id
	}

	conn := &Connection{
		ID:           id,
		Type:         vtype,
		Name:         name,
		Adapter:      adapter,
		Primary:      opts.Primary,
		AssetClasses: classes,
		Streaming:    caps.Streaming,
	}

	m.mu.Lock()
	if _, exists := m.conns[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("venue %s: %w", id, types.ErrDuplicateID)
	}
	m.conns[id] = conn
	m.order = append(m.order, id)
	m.mu.Unlock()

	if m.routes != nil {
		m.routes.ObserveVenue(id, classes, opts.Primary)
	}

	m.log.WithFields(logrus.Fields{
		"venue":   id,
		"type":    vtype,
		"classes": classes,
		"primary": opts.Primary,
	}).Info("venue registered")

	return nil
}

// Get returns the connection record for id.
func (m *Manager) Get(id string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("venue %s: %w", id, types.ErrVenueNotFound)
	}
	return conn, nil
}

// All returns every registered connection in registration order.
func (m *Manager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Connection, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.conns[id])
	}
	return out
}

// Connected returns the connected venues in registration order.
func (m *Manager) Connected() []*Connection {
	var out []*Connection
	for _, conn := range m.All() {
		if conn.Connected() {
			out = append(out, conn)
		}
	}
	return out
}

// ConnectedIDs returns the ids of connected venues in registration order.
func (m *Manager) ConnectedIDs() []string {
	conns := m.Connected()
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID)
	}
	return ids
}

// Connect invokes the venue adapter's connect operation and, on success,
// flips the record to connected and publishes a connected event.
func (m *Manager) Connect(ctx context.Context, id string) error {
	conn, err := m.Get(id)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := conn.Adapter.Connect(cctx); err != nil {
		return fmt.Errorf("connecting venue %s: %w", id, err)
	}

	if conn.markConnected() {
		m.hub.Publish(types.Event{VenueID: id, Kind: types.EventConnected})
		m.log.WithField("venue", id).Info("venue connected")
	}
	return nil
}

// ConnectAll issues connects to every registered venue concurrently. A single
// venue failing does not fail the bulk operation: failures are logged and the
// count of successful connections is returned.
func (m *Manager) ConnectAll(ctx context.Context) int {
	conns := m.All()

	var wg sync.WaitGroup
	var mu sync.Mutex
	connected := 0

	for _, conn := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := m.Connect(ctx, c.ID); err != nil {
				m.log.WithError(err).WithField("venue", c.ID).Error("connect failed")
				return
			}
			mu.Lock()
			connected++
			mu.Unlock()
		}(conn)
	}
	wg.Wait()

	m.log.WithFields(logrus.Fields{"connected": connected, "total": len(conns)}).
		Info("bulk connect finished")
	return connected
}

// Disconnect invokes the adapter's disconnect operation and flips the record.
// Idempotent: disconnecting an already-disconnected venue is a no-op and does
// not emit a second disconnected event.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	conn, err := m.Get(id)
	if err != nil {
		return err
	}
	_, err = m.disconnect(ctx, conn)
	return err
}

// disconnect flips the record and tears down the adapter, reporting whether
// the record actually transitioned. The venue counts as disconnected once the
// record flips, even when the adapter teardown then errors.
func (m *Manager) disconnect(ctx context.Context, conn *Connection) (bool, error) {
	if !conn.markDisconnected() {
		return false, nil
	}

	m.hub.Publish(types.Event{VenueID: conn.ID, Kind: types.EventDisconnected, Reason: "requested"})
	m.log.WithField("venue", conn.ID).Info("venue disconnected")

	dctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	defer cancel()

	if err := conn.Adapter.Disconnect(dctx); err != nil {
		return true, fmt.Errorf("disconnecting venue %s: %w", conn.ID, err)
	}
	return true, nil
}

// DisconnectAll mirrors ConnectAll: concurrent, tolerant of individual
// failures, returns the number of venues that transitioned to disconnected.
// A teardown error does not undo the transition, so it still counts.
func (m *Manager) DisconnectAll(ctx context.Context) int {
	conns := m.All()

	var wg sync.WaitGroup
	var mu sync.Mutex
	disconnected := 0

	for _, conn := range conns {
		if !conn.Connected() {
			continue
		}
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			transitioned, err := m.disconnect(ctx, c)
			if err != nil {
				m.log.WithError(err).WithField("venue", c.ID).Error("disconnect failed")
			}
			if !transitioned {
				return
			}
			mu.Lock()
			disconnected++
			mu.Unlock()
		}(conn)
	}
	wg.Wait()

	return disconnected
}

// Demote flips a venue to disconnected on behalf of the health monitor,
// emitting the disconnection event with the given reason exactly once per
// transition. The adapter teardown is best-effort.
func (m *Manager) Demote(id, reason string) {
	conn, err := m.Get(id)
	if err != nil {
		return
	}

	if !conn.markDisconnected() {
		return
	}

	m.hub.Publish(types.Event{VenueID: id, Kind: types.EventDisconnected, Reason: reason})
	m.log.WithFields(logrus.Fields{"venue": id, "reason": reason}).Warn("venue demoted to disconnected")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := conn.Adapter.Disconnect(ctx); err != nil {
			m.log.WithError(err).WithField("venue", id).Warn("adapter teardown after demotion failed")
		}
	}()
}

// Remove disconnects the venue if still connected, then deletes the record.
// No-op if id is unknown.
func (m *Manager) Remove(ctx context.Context, id string) {
	conn, err := m.Get(id)
	if err != nil {
		return
	}

	if conn.Connected() {
		if err := m.Disconnect(ctx, id); err != nil {
			m.log.WithError(err).WithField("venue", id).Warn("disconnect during removal failed")
		}
	}

	m.mu.Lock()
	delete(m.conns, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.log.WithField("venue", id).Info("venue removed")
}

// Status reports connected/total counts and per-venue rows. No side effects.
func (m *Manager) Status() Status {
	conns := m.All()

	st := Status{
		TotalVenues: len(conns),
		Venues:      make([]VenueStatus, 0, len(conns)),
	}
	for _, c := range conns {
		connected := c.Connected()
		if connected {
			st.ConnectedVenues++
		}
		st.Venues = append(st.Venues, VenueStatus{
			ID:        c.ID,
			Name:      c.Name,
			Type:      c.Type,
			Connected: connected,
		})
	}
	return st
}

// Health reports per-venue liveness detail in registration order.
func (m *Manager) Health() []VenueHealth {
	conns := m.All()

	out := make([]VenueHealth, 0, len(conns))
	for _, c := range conns {
		out = append(out, VenueHealth{
			ID:            c.ID,
			Connected:     c.Connected(),
			Failures:      c.Failures(),
			LastHeartbeat: c.LastHeartbeat(),
		})
	}
	return out
}

// Shutdown disconnects every venue before returning.
func (m *Manager) Shutdown(ctx context.Context) {
	m.DisconnectAll(ctx)
}
