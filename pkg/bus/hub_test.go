package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokermesh/oms/pkg/types"
)

func drain(sub *Subscription) []types.Event {
	var out []types.Event
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHubDeliversToAllSubscribers(t *testing.T) {
	hub := New()
	defer hub.Close()

	sub1 := hub.Subscribe(8)
	sub2 := hub.Subscribe(8)

	hub.Publish(types.Event{VenueID: "v1", Kind: types.EventConnected})

	ev1 := drain(sub1)
	ev2 := drain(sub2)
	require.Len(t, ev1, 1)
	require.Len(t, ev2, 1)
	assert.Equal(t, "v1", ev1[0].VenueID)
	assert.False(t, ev1[0].Time.IsZero(), "publish should stamp the time")
}

func TestHubKindFilter(t *testing.T) {
	hub := New()
	defer hub.Close()

	sub := hub.Subscribe(8, types.EventDisconnected)

	hub.Publish(types.Event{VenueID: "v1", Kind: types.EventConnected})
	hub.Publish(types.Event{VenueID: "v1", Kind: types.EventDisconnected, Reason: "requested"})
	hub.Publish(types.Event{VenueID: "v1", Kind: types.EventQuote})

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventDisconnected, events[0].Kind)
	assert.Equal(t, "requested", events[0].Reason)
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	hub := New()
	defer hub.Close()

	sub := hub.Subscribe(1)

	hub.Publish(types.Event{Kind: types.EventQuote})
	hub.Publish(types.Event{Kind: types.EventQuote})
	hub.Publish(types.Event{Kind: types.EventQuote})

	assert.Len(t, drain(sub), 1)
	assert.Equal(t, uint64(2), sub.Dropped())
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := New()
	defer hub.Close()

	sub := hub.Subscribe(1)
	sub.Unsubscribe()
	sub.Unsubscribe() // second call is a no-op

	_, open := <-sub.C
	assert.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	hub.Publish(types.Event{Kind: types.EventQuote})
}

func TestHubCloseDetachesSubscribers(t *testing.T) {
	hub := New()
	sub := hub.Subscribe(1)

	hub.Close()
	hub.Close() // idempotent

	_, open := <-sub.C
	assert.False(t, open)

	hub.Publish(types.Event{Kind: types.EventQuote}) // no-op after close

	late := hub.Subscribe(1)
	_, open = <-late.C
	assert.False(t, open, "subscribing after close yields a closed channel")
}
