package model

import (
	"encoding/json"
	"time"
)

// Event is one normalized observation produced by a collector during a scan tick.
// Params: EventType assigned by the collector service; Data schema depends on type.
// Returns: immutable event value shared by evaluator and persistence.
type Event struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Number reads one numeric data field regardless of its concrete numeric type.
// Params: key data field name.
// Returns: value and true when the field exists and is numeric.
func (e Event) Number(key string) (float64, bool) {
	raw, ok := e.Data[key]
	if !ok {
		return 0, false
	}
	return toFloat(raw)
}

// String reads one string data field.
// Params: key data field name.
// Returns: value and true when the field exists and is a string.
func (e Event) String(key string) (string, bool) {
	raw, ok := e.Data[key]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	return value, ok
}

// Map renders the event as a plain map for embedding into alert details.
// Params: none.
// Returns: map with event_type, data and created_at keys.
func (e Event) Map() map[string]any {
	return map[string]any{
		"event_type": e.EventType,
		"data":       e.Data,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toFloat(raw any) (float64, bool) {
	switch value := raw.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint32:
		return float64(value), true
	case uint64:
		return float64(value), true
	case json.Number:
		parsed, err := value.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}
