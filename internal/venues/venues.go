// Package venues assembles the built-in venue adapters into a factory.
package venues

import (
	"github.com/brokermesh/oms/internal/venue"
	"github.com/brokermesh/oms/internal/venues/alpaca"
	"github.com/brokermesh/oms/internal/venues/binance"
	"github.com/brokermesh/oms/internal/venues/metatrader"
	"github.com/brokermesh/oms/internal/venues/paper"
	"github.com/brokermesh/oms/pkg/types"
)

// DefaultFactory returns a factory with every built-in adapter registered.
func DefaultFactory() *venue.Factory {
	f := venue.NewFactory()
	f.Register(types.VenueAlpaca, alpaca.New)
	f.Register(types.VenueBinance, binance.New)
	f.Register(types.VenueMetaTrader, metatrader.New)
	f.Register(types.VenuePaper, paper.New)
	return f
}
