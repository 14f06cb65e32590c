package venue

import (
	"fmt"
	"sync"

	"github.com/brokermesh/oms/pkg/types"
)

// Constructor builds an adapter for one venue type. The emit callback is how
// the adapter pushes events back to the hub; the registry tags them with id.
type Constructor func(id string, cfg types.VenueConfig, emit types.EmitFunc) (types.VenueAdapter, error)

// Factory resolves venue types to adapter constructors through a registration
// map, so adding a venue type is a compile-time extension rather than a
// string switch scattered across the registry.
type Factory struct {
	mu    sync.RWMutex
	ctors map[types.VenueType]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{
		ctors: make(map[types.VenueType]Constructor),
	}
}

// Register binds a venue type to its constructor, replacing any previous binding.
func (f *Factory) Register(vtype types.VenueType, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[vtype] = ctor
}

// Types returns the registered venue types.
func (f *Factory) Types() []types.VenueType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]types.VenueType, 0, len(f.ctors))
	for t := range f.ctors {
		out = append(out, t)
	}
	return out
}

// New constructs an adapter for vtype. An unregistered type is a
// configuration error, fatal to this call only.
func (f *Factory) New(vtype types.VenueType, id string, cfg types.VenueConfig, emit types.EmitFunc) (types.VenueAdapter, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[vtype]
	f.mu.RUnlock()

	if !ok {
		return nil, &types.ConfigError{VenueType: vtype, Reason: "unknown venue type"}
	}

	adapter, err := ctor(id, cfg, emit)
	if err != nil {
		return nil, fmt.Errorf("constructing %s adapter %s: %w", vtype, id, err)
	}
	return adapter, nil
}
