// Package router maps asset classes to preferred venues and dispatches
// orders and market-data requests to the venue that should serve them.
package router

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/pkg/types"
)

// Preference is one routing entry. Every asset class known to the system has
// exactly one, created at startup with no preferred venue. AllowSplit is
// stored but not acted on yet.
type Preference struct {
	AssetClass     types.AssetClass `json:"asset_class"`
	PreferredVenue string           `json:"preferred_venue,omitempty"`
	FallbackVenue  string           `json:"fallback_venue,omitempty"`
	AllowSplit     bool             `json:"allow_split,omitempty"`
}

// Table holds the routing preferences. Mutated at registration time and by
// explicit SetPreference calls; read concurrently during dispatch.
type Table struct {
	mu    sync.RWMutex
	prefs map[types.AssetClass]*Preference
	log   *logrus.Entry
}

// NewTable creates a table with one empty entry per asset class.
func NewTable() *Table {
	prefs := make(map[types.AssetClass]*Preference)
	for _, class := range types.AllAssetClasses() {
		prefs[class] = &Preference{AssetClass: class}
	}
	return &Table{
		prefs: prefs,
		log:   logrus.WithField("component", "routing-table"),
	}
}

// ObserveVenue updates preferences for a newly registered venue: it becomes
// preferred for each declared class when no preference is set yet or when the
// venue is registered as primary, and fallback when a preference exists.
func (t *Table) ObserveVenue(id string, classes []types.AssetClass, primary bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, class := range classes {
		pref, ok := t.prefs[class]
		if !ok {
			continue
		}
		switch {
		case pref.PreferredVenue == "" || primary:
			if pref.PreferredVenue != "" && pref.PreferredVenue != id {
				pref.FallbackVenue = pref.PreferredVenue
			}
			pref.PreferredVenue = id
		case pref.FallbackVenue == "":
			pref.FallbackVenue = id
		}
		t.log.WithFields(logrus.Fields{
			"class":     class,
			"preferred": pref.PreferredVenue,
			"fallback":  pref.FallbackVenue,
		}).Debug("routing preference updated")
	}
}

// SetPreference explicitly points an asset class at a venue.
func (t *Table) SetPreference(class types.AssetClass, preferred, fallback string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pref, ok := t.prefs[class]
	if !ok {
		return fmt.Errorf("unknown asset class %q", class)
	}
	pref.PreferredVenue = preferred
	pref.FallbackVenue = fallback
	return nil
}

// Preferred returns the preferred venue id for class, if any.
func (t *Table) Preferred(class types.AssetClass) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pref, ok := t.prefs[class]
	if !ok || pref.PreferredVenue == "" {
		return "", false
	}
	return pref.PreferredVenue, true
}

// Fallback returns the fallback venue id for class, if any.
func (t *Table) Fallback(class types.AssetClass) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pref, ok := t.prefs[class]
	if !ok || pref.FallbackVenue == "" {
		return "", false
	}
	return pref.FallbackVenue, true
}

// Preferences returns a snapshot of every entry, in the fixed class order.
func (t *Table) Preferences() []Preference {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Preference, 0, len(t.prefs))
	for _, class := range types.AllAssetClasses() {
		if pref, ok := t.prefs[class]; ok {
			out = append(out, *pref)
		}
	}
	return out
}
