package router_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokermesh/oms/internal/router"
	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/internal/venuetest"
	"github.com/brokermesh/oms/pkg/bus"
	"github.com/brokermesh/oms/pkg/types"
)

type fixture struct {
	mgr      *venue.Manager
	table    *router.Table
	dispatch *router.Dispatcher
	factory  *venue.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := bus.New()
	t.Cleanup(hub.Close)

	factory := venue.NewFactory()
	table := router.NewTable()
	mgr := venue.NewManager(factory, hub, table)
	return &fixture{
		mgr:      mgr,
		table:    table,
		dispatch: router.NewDispatcher(mgr, table),
		factory:  factory,
	}
}

func (f *fixture) add(t *testing.T, id string, fake *venuetest.Fake, primary bool) {
	t.Helper()
	f.factory.Register(types.VenueType(id), fake.Constructor())
	require.NoError(t, f.mgr.Register(id, types.VenueType(id), types.VenueConfig{}, venue.Options{Primary: primary}))
}

func (f *fixture) connect(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.mgr.Connect(context.Background(), id))
	}
}

func marketBuy(symbol string) *types.OrderRequest {
	return &types.OrderRequest{
		Symbol:   symbol,
		Side:     types.OrderSideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	}
}

func TestSubmitOrderRoutesByAssetClass(t *testing.T) {
	f := newFixture(t)
	stocks := venuetest.New(types.AssetStock)
	crypto := venuetest.New(types.AssetCrypto)
	f.add(t, "stocks", stocks, true)
	f.add(t, "crypto", crypto, false)
	f.connect(t, "stocks", "crypto")

	routed, err := f.dispatch.SubmitOrder(context.Background(), marketBuy("AAPL"), types.AssetStock, "")
	require.NoError(t, err)
	assert.Equal(t, "stocks", routed.VenueID)
	assert.Equal(t, "stocks", routed.Order.VenueID)
	assert.NotEmpty(t, routed.Order.ClientOrderID, "a client order id is generated")

	routed, err = f.dispatch.SubmitOrder(context.Background(), marketBuy("BTCUSDT"), types.AssetCrypto, "")
	require.NoError(t, err)
	assert.Equal(t, "crypto", routed.VenueID)

	assert.Len(t, stocks.Submitted(), 1)
	assert.Len(t, crypto.Submitted(), 1)
}

func TestSubmitOrderExplicitVenueOverridesTable(t *testing.T) {
	f := newFixture(t)
	a := venuetest.New(types.AssetStock)
	b := venuetest.New(types.AssetStock)
	f.add(t, "a", a, true)
	f.add(t, "b", b, false)
	f.connect(t, "a", "b")

	routed, err := f.dispatch.SubmitOrder(context.Background(), marketBuy("AAPL"), types.AssetStock, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", routed.VenueID)
	assert.Empty(t, a.Submitted())
}

func TestSubmitOrderExplicitVenueMustBeConnected(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", venuetest.New(types.AssetStock), false)

	_, err := f.dispatch.SubmitOrder(context.Background(), marketBuy("AAPL"), types.AssetStock, "a")
	assert.ErrorIs(t, err, types.ErrNoVenueAvailable)

	_, err = f.dispatch.SubmitOrder(context.Background(), marketBuy("AAPL"), "", "ghost")
	assert.ErrorIs(t, err, types.ErrNoVenueAvailable)
}

func TestSubmitOrderFallsBackWhenPreferredDown(t *testing.T) {
	f := newFixture(t)
	a := venuetest.New(types.AssetStock)
	b := venuetest.New(types.AssetStock)
	f.add(t, "a", a, true)
	f.add(t, "b", b, false)
	f.connect(t, "b") // preferred venue a stays down

	routed, err := f.dispatch.SubmitOrder(context.Background(), marketBuy("AAPL"), types.AssetStock, "")
	require.NoError(t, err)
	assert.Equal(t, "b", routed.VenueID)
}

func TestSubmitOrderNoVenueAvailable(t *testing.T) {
	f := newFixture(t)
	f.add(t, "crypto", venuetest.New(types.AssetCrypto), false)
	f.connect(t, "crypto")

	_, err := f.dispatch.SubmitOrder(context.Background(), marketBuy("AAPL"), types.AssetStock, "")
	assert.ErrorIs(t, err, types.ErrNoVenueAvailable)
}

func TestSubmitOrderRoutingIsDeterministic(t *testing.T) {
	f := newFixture(t)
	a := venuetest.New(types.AssetStock)
	b := venuetest.New(types.AssetStock)
	f.add(t, "a", a, false)
	f.add(t, "b", b, false)
	f.connect(t, "a", "b")

	for i := 0; i < 10; i++ {
		routed, err := f.dispatch.SubmitOrder(context.Background(), marketBuy("AAPL"), types.AssetStock, "")
		require.NoError(t, err)
		assert.Equal(t, "a", routed.VenueID, "same inputs must route to the same venue")
	}
}

func TestCancelOrderRequiresConnectedVenue(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", venuetest.New(types.AssetStock), false)

	err := f.dispatch.CancelOrder(context.Background(), "a", "1")
	assert.ErrorIs(t, err, types.ErrVenueUnavailable)

	err = f.dispatch.CancelOrder(context.Background(), "ghost", "1")
	assert.ErrorIs(t, err, types.ErrVenueNotFound)
}

func TestCloseAllPositionsToleratesVenueFailure(t *testing.T) {
	f := newFixture(t)
	good := venuetest.New(types.AssetStock)
	good.Positions = []*types.Position{{Symbol: "AAPL", Quantity: decimal.NewFromInt(5)}}
	bad := venuetest.New(types.AssetCrypto)
	bad.SubmitErr = errors.New("rejected")
	bad.Positions = []*types.Position{{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1)}}

	f.add(t, "good", good, false)
	f.add(t, "bad", bad, false)
	f.connect(t, "good", "bad")

	results := f.dispatch.CloseAllPositions(context.Background())
	require.Len(t, results, 2)

	byVenue := map[string]router.CloseResult{}
	for _, r := range results {
		byVenue[r.VenueID] = r
	}
	require.NoError(t, byVenue["good"].Err)
	require.Len(t, byVenue["good"].Orders, 1)
	assert.Equal(t, "good", byVenue["good"].Orders[0].VenueID)
	assert.Error(t, byVenue["bad"].Err)
}

func TestGetQuoteFallsThroughToFirstSuccess(t *testing.T) {
	f := newFixture(t)
	broken := venuetest.New(types.AssetStock)
	broken.QuoteErr = errors.New("feed down")
	working := venuetest.New(types.AssetStock)

	f.add(t, "broken", broken, false)
	f.add(t, "working", working, false)
	f.connect(t, "broken", "working")

	quote, err := f.dispatch.GetQuote(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.Equal(t, "working", quote.VenueID)
}

func TestGetQuoteExplicitVenueDoesNotFallBack(t *testing.T) {
	f := newFixture(t)
	broken := venuetest.New(types.AssetStock)
	broken.QuoteErr = errors.New("feed down")
	working := venuetest.New(types.AssetStock)

	f.add(t, "broken", broken, false)
	f.add(t, "working", working, false)
	f.connect(t, "broken", "working")

	_, err := f.dispatch.GetQuote(context.Background(), "AAPL", "broken")
	assert.Error(t, err)
}

func TestGetQuoteNoVenues(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatch.GetQuote(context.Background(), "AAPL", "")
	assert.ErrorIs(t, err, types.ErrNoVenueAvailable)
}

func TestSubscribeQuotesSkipsNonStreamingVenues(t *testing.T) {
	f := newFixture(t)
	streaming := venuetest.New(types.AssetStock)
	static := venuetest.New(types.AssetStock)
	static.SetStreaming(false)

	f.add(t, "streaming", streaming, false)
	f.add(t, "static", static, false)
	f.connect(t, "streaming", "static")

	n, err := f.dispatch.SubscribeQuotes(context.Background(), []string{"AAPL"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"AAPL"}, streaming.Subscribed())
	assert.Empty(t, static.Subscribed())
}

func TestSubscribeQuotesExplicitNonStreamingVenue(t *testing.T) {
	f := newFixture(t)
	static := venuetest.New(types.AssetStock)
	static.SetStreaming(false)
	f.add(t, "static", static, false)
	f.connect(t, "static")

	_, err := f.dispatch.SubscribeQuotes(context.Background(), []string{"AAPL"}, "static")
	assert.ErrorIs(t, err, types.ErrStreamingUnsupported)
}
