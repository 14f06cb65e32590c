// Package trademode owns the process-wide paper/live switch. Flipping modes
// is a manual safety gate: every venue is disconnected first and the caller
// must reconnect explicitly afterward.
package trademode

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/pkg/bus"
	"github.com/brokermesh/oms/pkg/types"
)

// Mode is the trading mode value.
type Mode string

const (
	// ModePaper simulates trading with no real capital at risk. The default.
	ModePaper Mode = "paper"
	// ModeLive trades real money.
	ModeLive Mode = "live"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePaper, ModeLive:
		return Mode(s), nil
	case "":
		return ModePaper, nil
	default:
		return "", fmt.Errorf("invalid trading mode %q", s)
	}
}

// SwitchResult reports what a Set call did.
type SwitchResult struct {
	Mode         Mode   `json:"mode"`
	Changed      bool   `json:"changed"`
	Disconnected int    `json:"disconnected,omitempty"`
	Message      string `json:"message"`
}

// Info is the read-only mode summary.
type Info struct {
	Mode  Mode `json:"mode"`
	Paper bool `json:"paper"`
}

// Controller guards the mode flag. A switch holds the lock across the
// disconnect so concurrent switches serialize.
type Controller struct {
	mu     sync.Mutex
	mode   Mode
	venues *venue.Manager
	hub    *bus.Hub
	log    *logrus.Entry
}

// NewController creates a controller starting in initial mode.
func NewController(initial Mode, venues *venue.Manager, hub *bus.Hub) *Controller {
	if initial == "" {
		initial = ModePaper
	}
	return &Controller{
		mode:   initial,
		venues: venues,
		hub:    hub,
		log:    logrus.WithField("component", "trade-mode"),
	}
}

// Mode returns the current trading mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// IsPaper reports whether trading is simulated.
func (c *Controller) IsPaper() bool {
	return c.Mode() == ModePaper
}

// Info returns the read-only mode summary.
func (c *Controller) Info() Info {
	mode := c.Mode()
	return Info{Mode: mode, Paper: mode == ModePaper}
}

// Set switches the trading mode. Requesting the current mode is a no-op
// success that disconnects nothing. An actual switch disconnects every venue,
// waits for completion, flips the flag, and emits a mode-changed event; the
// caller must reconnect explicitly.
func (c *Controller) Set(ctx context.Context, mode Mode) (*SwitchResult, error) {
	if mode != ModePaper && mode != ModeLive {
		return nil, fmt.Errorf("invalid trading mode %q", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == mode {
		return &SwitchResult{
			Mode:    mode,
			Message: fmt.Sprintf("already in %s mode", mode),
		}, nil
	}

	previous := c.mode
	disconnected := c.venues.DisconnectAll(ctx)
	c.mode = mode

	c.hub.Publish(types.Event{
		Kind: types.EventModeChange,
		Payload: map[string]string{
			"from": string(previous),
			"to":   string(mode),
		},
	})
	c.log.WithFields(logrus.Fields{
		"from":         previous,
		"to":           mode,
		"disconnected": disconnected,
	}).Warn("trading mode changed")

	return &SwitchResult{
		Mode:         mode,
		Changed:      true,
		Disconnected: disconnected,
		Message:      fmt.Sprintf("trading mode changed to %s; reconnect venues to resume trading", mode),
	}, nil
}
