package venue

import (
	"sync"
	"time"

	"github.com/brokermesh/oms/pkg/types"
)

// Connection is the registry's record for one registered venue. The adapter
// is exclusively owned by the registry; no other component keeps a long-lived
// reference to it. Identity fields are immutable after registration; the
// mutable connection state is guarded by the record's own mutex so state
// flips on different venues never contend.
type Connection struct {
	ID           string
	Type         types.VenueType
	Name         string
	Adapter      types.VenueAdapter
	Primary      bool
	AssetClasses []types.AssetClass
	Streaming    bool

	mu            sync.Mutex
	connected     bool
	lastHeartbeat time.Time
	failures      int
}

// Connected reports the current connection state.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Failures returns the consecutive heartbeat failure count.
func (c *Connection) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// LastHeartbeat returns the time of the last successful probe or connect.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Supports reports whether the venue declared the asset class at registration.
func (c *Connection) Supports(class types.AssetClass) bool {
	for _, ac := range c.AssetClasses {
		if ac == class {
			return true
		}
	}
	return false
}

// markConnected flips the record to connected, resetting the failure streak.
// Returns false if the record was already connected.
func (c *Connection) markConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return false
	}
	c.connected = true
	c.failures = 0
	c.lastHeartbeat = time.Now()
	return true
}

// markDisconnected flips the record to disconnected. Returns false if it was
// already disconnected, which is how callers guarantee the disconnection
// event fires exactly once per transition.
func (c *Connection) markDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	c.connected = false
	return true
}

// Heartbeat records a successful probe: stamps the time, zeroes the streak.
func (c *Connection) Heartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.lastHeartbeat = time.Now()
}

// RecordFailure increments the consecutive failure counter and returns the
// new count. The increment and read are a single critical section so two
// concurrent probes cannot both observe the demotion threshold.
func (c *Connection) RecordFailure() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	return c.failures
}
