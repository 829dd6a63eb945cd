package collector

import (
	"context"
	"errors"
)

// ErrSourceUnavailable marks a collector that could not sample its data source at all.
var ErrSourceUnavailable = errors.New("source unavailable")

// Record is one flat observation of a single entity (process, connection).
// Params: primitive field values keyed by name; never carries event_type.
// Returns: raw collector output normalized into events by Service.
type Record map[string]any

// Collector samples one class of host state.
// Params: context for cancellation and deadlines.
// Returns: records or an error wrapping ErrSourceUnavailable when nothing could be sampled.
type Collector interface {
	// Name returns the collector identity, e.g. "ProcessCollector".
	Name() string
	// Collect samples the data source once, skipping unreadable items.
	Collect(ctx context.Context) ([]Record, error)
}
