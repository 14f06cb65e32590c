package trademode_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokermesh/oms/internal/trademode"
	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/internal/venuetest"
	"github.com/brokermesh/oms/pkg/bus"
	"github.com/brokermesh/oms/pkg/types"
)

func newController(t *testing.T, connected int) (*trademode.Controller, *venue.Manager, *bus.Subscription) {
	t.Helper()
	hub := bus.New()
	t.Cleanup(hub.Close)

	factory := venue.NewFactory()
	mgr := venue.NewManager(factory, hub, nil)
	for i := 0; i < connected; i++ {
		id := string(rune('a' + i))
		factory.Register(types.VenueType(id), venuetest.New().Constructor())
		require.NoError(t, mgr.Register(id, types.VenueType(id), types.VenueConfig{}, venue.Options{}))
		require.NoError(t, mgr.Connect(context.Background(), id))
	}

	sub := hub.Subscribe(64, types.EventModeChange)
	return trademode.NewController("", mgr, hub), mgr, sub
}

func TestDefaultModeIsPaper(t *testing.T) {
	ctrl, _, _ := newController(t, 0)
	assert.Equal(t, trademode.ModePaper, ctrl.Mode())
	assert.True(t, ctrl.IsPaper())

	info := ctrl.Info()
	assert.Equal(t, trademode.ModePaper, info.Mode)
	assert.True(t, info.Paper)
}

func TestParseMode(t *testing.T) {
	mode, err := trademode.ParseMode("live")
	require.NoError(t, err)
	assert.Equal(t, trademode.ModeLive, mode)

	mode, err = trademode.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, trademode.ModePaper, mode)

	_, err = trademode.ParseMode("demo")
	assert.Error(t, err)
}

func TestSwitchDisconnectsEveryVenue(t *testing.T) {
	ctrl, mgr, sub := newController(t, 2)

	res, err := ctrl.Set(context.Background(), trademode.ModeLive)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Disconnected)
	assert.Equal(t, trademode.ModeLive, ctrl.Mode())
	assert.False(t, ctrl.IsPaper())

	st := mgr.Status()
	assert.Equal(t, 0, st.ConnectedVenues, "a mode switch never leaves a venue connected")

	select {
	case ev := <-sub.C:
		assert.Equal(t, types.EventModeChange, ev.Kind)
		payload, ok := ev.Payload.(map[string]string)
		require.True(t, ok)
		assert.Equal(t, "paper", payload["from"])
		assert.Equal(t, "live", payload["to"])
	default:
		t.Fatal("expected a mode change event")
	}
}

func TestSwitchToCurrentModeIsNoOp(t *testing.T) {
	ctrl, mgr, sub := newController(t, 2)

	res, err := ctrl.Set(context.Background(), trademode.ModePaper)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, res.Disconnected)

	st := mgr.Status()
	assert.Equal(t, 2, st.ConnectedVenues, "redundant switch disconnects nothing")

	select {
	case <-sub.C:
		t.Fatal("redundant switch must not emit an event")
	default:
	}
}

func TestSwitchRejectsInvalidMode(t *testing.T) {
	ctrl, _, _ := newController(t, 0)
	_, err := ctrl.Set(context.Background(), "demo")
	assert.Error(t, err)
	assert.Equal(t, trademode.ModePaper, ctrl.Mode())
}
