package venue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/internal/venuetest"
	"github.com/brokermesh/oms/pkg/bus"
	"github.com/brokermesh/oms/pkg/types"
)

// testEnv bundles a registry with a hub subscription capturing every event.
type testEnv struct {
	hub     *bus.Hub
	factory *venue.Factory
	mgr     *venue.Manager
	sub     *bus.Subscription
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	hub := bus.New()
	t.Cleanup(hub.Close)

	factory := venue.NewFactory()
	return &testEnv{
		hub:     hub,
		factory: factory,
		mgr:     venue.NewManager(factory, hub, nil),
		sub:     hub.Subscribe(64),
	}
}

// addFake registers a fake venue under id, binding its constructor to a venue
// type of the same name so every fake stays distinct.
func (e *testEnv) addFake(t *testing.T, id string, fake *venuetest.Fake) {
	t.Helper()
	e.factory.Register(types.VenueType(id), fake.Constructor())
	require.NoError(t, e.mgr.Register(id, types.VenueType(id), types.VenueConfig{}, venue.Options{}))
}

func (e *testEnv) events() []types.Event {
	var out []types.Event
	for {
		select {
		case ev := <-e.sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []types.Event, venueID string, kind types.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.VenueID == venueID && ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestRegisterDuplicateID(t *testing.T) {
	env := newEnv(t)
	env.addFake(t, "alpha", venuetest.New())

	env.factory.Register("other", venuetest.New().Constructor())
	err := env.mgr.Register("alpha", "other", types.VenueConfig{}, venue.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDuplicateID)

	// The original registration is untouched.
	conn, err := env.mgr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, types.VenueType("alpha"), conn.Type)
}

func TestRegisterUnknownTypeIsConfigError(t *testing.T) {
	env := newEnv(t)
	err := env.mgr.Register("x", "nope", types.VenueConfig{}, venue.Options{})
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))
}

func TestRegisterEmptyIDIsConfigError(t *testing.T) {
	env := newEnv(t)
	err := env.mgr.Register("", "whatever", types.VenueConfig{}, venue.Options{})
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))
}

func TestConnectEmitsConnectedEvent(t *testing.T) {
	env := newEnv(t)
	env.addFake(t, "alpha", venuetest.New())

	require.NoError(t, env.mgr.Connect(context.Background(), "alpha"))

	conn, _ := env.mgr.Get("alpha")
	assert.True(t, conn.Connected())
	assert.Equal(t, 1, countKind(env.events(), "alpha", types.EventConnected))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	env := newEnv(t)
	fake := venuetest.New()
	env.addFake(t, "alpha", fake)

	ctx := context.Background()
	require.NoError(t, env.mgr.Connect(ctx, "alpha"))

	require.NoError(t, env.mgr.Disconnect(ctx, "alpha"))
	require.NoError(t, env.mgr.Disconnect(ctx, "alpha"))
	require.NoError(t, env.mgr.Disconnect(ctx, "alpha"))

	events := env.events()
	assert.Equal(t, 1, countKind(events, "alpha", types.EventDisconnected),
		"repeated disconnects must emit exactly one event")
	assert.Equal(t, 1, fake.DisconnectCalls(), "adapter teardown runs once")
}

func TestDisconnectUnknownVenue(t *testing.T) {
	env := newEnv(t)
	err := env.mgr.Disconnect(context.Background(), "ghost")
	assert.ErrorIs(t, err, types.ErrVenueNotFound)
}

func TestConnectAllToleratesFailures(t *testing.T) {
	env := newEnv(t)
	good := venuetest.New()
	bad := venuetest.New()
	bad.ConnectErr = errors.New("refused")

	env.addFake(t, "good", good)
	env.addFake(t, "bad", bad)

	connected := env.mgr.ConnectAll(context.Background())
	assert.Equal(t, 1, connected)

	st := env.mgr.Status()
	assert.Equal(t, 1, st.ConnectedVenues)
	assert.Equal(t, 2, st.TotalVenues)
}

func TestDisconnectAllCountsTransitionDespiteTeardownError(t *testing.T) {
	env := newEnv(t)
	clean := venuetest.New()
	stubborn := venuetest.New()
	stubborn.DisconnectErr = errors.New("socket already gone")

	env.addFake(t, "clean", clean)
	env.addFake(t, "stubborn", stubborn)

	ctx := context.Background()
	require.Equal(t, 2, env.mgr.ConnectAll(ctx))

	// The stubborn adapter errors on teardown, but its record still flips, so
	// both venues count as disconnected.
	assert.Equal(t, 2, env.mgr.DisconnectAll(ctx))
	assert.Equal(t, 0, env.mgr.Status().ConnectedVenues)

	events := env.events()
	assert.Equal(t, 1, countKind(events, "clean", types.EventDisconnected))
	assert.Equal(t, 1, countKind(events, "stubborn", types.EventDisconnected))
}

func TestStatusPreservesRegistrationOrder(t *testing.T) {
	env := newEnv(t)
	env.addFake(t, "first", venuetest.New())
	env.addFake(t, "second", venuetest.New())
	env.addFake(t, "third", venuetest.New())

	st := env.mgr.Status()
	require.Len(t, st.Venues, 3)
	assert.Equal(t, "first", st.Venues[0].ID)
	assert.Equal(t, "second", st.Venues[1].ID)
	assert.Equal(t, "third", st.Venues[2].ID)
}

func TestRemoveDisconnectsFirst(t *testing.T) {
	env := newEnv(t)
	fake := venuetest.New()
	env.addFake(t, "alpha", fake)

	ctx := context.Background()
	require.NoError(t, env.mgr.Connect(ctx, "alpha"))
	env.mgr.Remove(ctx, "alpha")

	_, err := env.mgr.Get("alpha")
	assert.ErrorIs(t, err, types.ErrVenueNotFound)
	assert.Equal(t, 1, fake.DisconnectCalls())
	assert.Equal(t, 1, countKind(env.events(), "alpha", types.EventDisconnected))

	// Removing again is a no-op.
	env.mgr.Remove(ctx, "alpha")
}

func TestDemoteEmitsReasonOnce(t *testing.T) {
	env := newEnv(t)
	env.addFake(t, "alpha", venuetest.New())

	ctx := context.Background()
	require.NoError(t, env.mgr.Connect(ctx, "alpha"))

	env.mgr.Demote("alpha", "heartbeat failures")
	env.mgr.Demote("alpha", "heartbeat failures")

	events := env.events()
	require.Equal(t, 1, countKind(events, "alpha", types.EventDisconnected))
	for _, ev := range events {
		if ev.Kind == types.EventDisconnected {
			assert.Equal(t, "heartbeat failures", ev.Reason)
		}
	}

	conn, _ := env.mgr.Get("alpha")
	assert.False(t, conn.Connected())
}

func TestAdapterEventsTaggedWithVenueID(t *testing.T) {
	env := newEnv(t)
	fake := venuetest.New()
	env.addFake(t, "alpha", fake)

	fake.Emit(types.Event{Kind: types.EventQuote, Payload: "x"})

	events := env.events()
	require.Len(t, events, 1)
	assert.Equal(t, "alpha", events[0].VenueID)
}
