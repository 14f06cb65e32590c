package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the routing layer. Callers match them with errors.Is.
var (
	// ErrDuplicateID is returned when registering a venue id that already exists.
	ErrDuplicateID = errors.New("venue id already registered")

	// ErrVenueNotFound is returned for operations referencing an unregistered id.
	ErrVenueNotFound = errors.New("venue not found")

	// ErrVenueUnavailable is returned for operations referencing a registered
	// but disconnected venue. Recoverable by reconnecting.
	ErrVenueUnavailable = errors.New("venue not connected")

	// ErrNoVenueAvailable is returned when order or data routing cannot
	// resolve any connected venue.
	ErrNoVenueAvailable = errors.New("no venue available")

	// ErrStreamingUnsupported is returned by adapters without streaming support.
	ErrStreamingUnsupported = errors.New("venue does not support streaming")
)

// ConfigError reports an invalid or incomplete venue setup. It is fatal to
// the register call that produced it only.
type ConfigError struct {
	VenueType VenueType
	Field     string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("venue config %s: field %q: %s", e.VenueType, e.Field, e.Reason)
	}
	return fmt.Sprintf("venue config %s: %s", e.VenueType, e.Reason)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
