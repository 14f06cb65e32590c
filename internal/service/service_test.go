package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokermesh/oms/internal/service"
	"github.com/brokermesh/oms/internal/trademode"
	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/internal/venuetest"
	"github.com/brokermesh/oms/pkg/types"
)

// newService builds a service over two fake venues: an equities venue marked
// primary and a crypto venue.
func newService(t *testing.T) (*service.Service, *venuetest.Fake, *venuetest.Fake) {
	t.Helper()

	stocks := venuetest.New(types.AssetStock)
	crypto := venuetest.New(types.AssetCrypto)

	factory := venue.NewFactory()
	factory.Register("fake-stocks", stocks.Constructor())
	factory.Register("fake-crypto", crypto.Constructor())

	svc := service.New(service.Options{
		Factory:        factory,
		HealthInterval: 5 * time.Millisecond,
		ProbeTimeout:   time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	require.NoError(t, svc.AddBroker("broker-a", "fake-stocks", types.VenueConfig{}, venue.Options{Primary: true}))
	require.NoError(t, svc.AddBroker("broker-b", "fake-crypto", types.VenueConfig{}, venue.Options{}))
	return svc, stocks, crypto
}

func TestEndToEndRoutingAndDemotion(t *testing.T) {
	svc, stocks, crypto := newService(t)
	sub := svc.Events().Subscribe(64, types.EventDisconnected)

	ctx := context.Background()
	require.Equal(t, 2, svc.ConnectAll(ctx))
	require.Equal(t, []string{"broker-a", "broker-b"}, svc.GetConnectedBrokerIDs())

	// A stock order lands on the primary equities venue without an explicit
	// venue id.
	routed, err := svc.SubmitOrder(ctx, &types.OrderRequest{
		Symbol:   "AAPL",
		Side:     types.OrderSideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10),
	}, types.AssetStock, "")
	require.NoError(t, err)
	assert.Equal(t, "broker-a", routed.VenueID)
	assert.Len(t, stocks.Submitted(), 1)
	assert.Empty(t, crypto.Submitted())

	// The crypto venue starts failing its heartbeat; after three consecutive
	// failures the monitor demotes it.
	crypto.AccountErr = errors.New("gateway timeout")
	svc.Start()

	require.Eventually(t, func() bool {
		return svc.GetStatus().ConnectedVenues == 1
	}, 2*time.Second, 5*time.Millisecond, "crypto venue should be demoted")

	assert.Equal(t, []string{"broker-a"}, svc.GetConnectedBrokerIDs())

	// Exactly one disconnected event, carrying the demotion reason.
	deadline := time.After(time.Second)
	var events []types.Event
	for len(events) == 0 {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
		case <-deadline:
			t.Fatal("no disconnected event observed")
		}
	}
	// Give a straggler event the chance to show up before asserting exactness.
	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
			continue
		default:
		}
		break
	}
	require.Len(t, events, 1)
	assert.Equal(t, "broker-b", events[0].VenueID)
	assert.Equal(t, "heartbeat failures", events[0].Reason)
}

func TestDuplicateBrokerID(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.AddBroker("broker-a", "fake-stocks", types.VenueConfig{}, venue.Options{})
	assert.ErrorIs(t, err, types.ErrDuplicateID)
}

func TestGetAccountRequiresConnection(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.GetAccount(context.Background(), "broker-a")
	assert.ErrorIs(t, err, types.ErrVenueUnavailable)

	_, err = svc.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, types.ErrVenueNotFound)

	require.NoError(t, svc.ConnectBroker(context.Background(), "broker-a"))
	acct, err := svc.GetAccount(context.Background(), "broker-a")
	require.NoError(t, err)
	assert.Equal(t, "broker-a", acct.VenueID)
}

func TestAggregatedPortfolioAcrossBrokers(t *testing.T) {
	svc, stocks, crypto := newService(t)
	stocks.Account.Equity = decimal.NewFromInt(7000)
	crypto.Account.Equity = decimal.NewFromInt(3000)

	ctx := context.Background()
	svc.ConnectAll(ctx)

	p := svc.GetAggregatedPortfolio(ctx)
	assert.True(t, p.TotalEquity.Equal(decimal.NewFromInt(10000)), "got %s", p.TotalEquity)
	assert.Len(t, p.Accounts, 2)
}

func TestModeSwitchGate(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	svc.ConnectAll(ctx)

	assert.True(t, svc.IsPaperMode())
	res, err := svc.SetTradingMode(ctx, trademode.ModeLive)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Disconnected)
	assert.Equal(t, trademode.ModeLive, svc.GetTradingMode())
	assert.Equal(t, 0, svc.GetStatus().ConnectedVenues)

	// Trading is gated until the caller reconnects.
	_, err = svc.SubmitOrder(ctx, &types.OrderRequest{
		Symbol:   "AAPL",
		Side:     types.OrderSideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	}, types.AssetStock, "")
	assert.ErrorIs(t, err, types.ErrNoVenueAvailable)
}

func TestRoutingPreferences(t *testing.T) {
	svc, _, _ := newService(t)

	prefs := svc.GetRoutingPreferences()
	byClass := map[types.AssetClass]string{}
	for _, p := range prefs {
		byClass[p.AssetClass] = p.PreferredVenue
	}
	assert.Equal(t, "broker-a", byClass[types.AssetStock])
	assert.Equal(t, "broker-b", byClass[types.AssetCrypto])

	require.NoError(t, svc.SetRoutingPreference(types.AssetCrypto, "broker-a", "broker-b"))
	prefs = svc.GetRoutingPreferences()
	for _, p := range prefs {
		if p.AssetClass == types.AssetCrypto {
			assert.Equal(t, "broker-a", p.PreferredVenue)
			assert.Equal(t, "broker-b", p.FallbackVenue)
		}
	}
}

func TestRemoveBroker(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	svc.ConnectAll(ctx)

	svc.RemoveBroker(ctx, "broker-b")
	st := svc.GetStatus()
	assert.Equal(t, 1, st.TotalVenues)
	assert.Equal(t, 1, st.ConnectedVenues)

	_, err := svc.GetBroker("broker-b")
	assert.ErrorIs(t, err, types.ErrVenueNotFound)
}
