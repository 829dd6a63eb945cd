package store

import (
	"context"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"sentinel/internal/model"
)

const defaultMemoryCapacity = 10000

type sequenced[T any] struct {
	seq   uint64
	value T
}

// MemoryStore keeps the most recent events and alerts in bounded LRU caches.
// Inserts never touch existing keys, so eviction order is insertion order.
type MemoryStore struct {
	mu     sync.Mutex
	seq    uint64
	events *lru.Cache[uint64, sequenced[model.Event]]
	alerts *lru.Cache[uint64, sequenced[model.Alert]]
}

// NewMemoryStore creates a store holding up to capacity rows per table.
// Params: capacity per table; <= 0 selects the default.
// Returns: memory store.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	events, _ := lru.New[uint64, sequenced[model.Event]](capacity)
	alerts, _ := lru.New[uint64, sequenced[model.Alert]](capacity)
	return &MemoryStore{events: events, alerts: alerts}
}

// InsertEvents appends events, evicting the oldest beyond capacity.
func (s *MemoryStore) InsertEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		s.seq++
		s.events.Add(s.seq, sequenced[model.Event]{seq: s.seq, value: event})
	}
	return nil
}

// InsertAlerts appends alerts, evicting the oldest beyond capacity.
func (s *MemoryStore) InsertAlerts(_ context.Context, alerts []model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alert := range alerts {
		s.seq++
		s.alerts.Add(s.seq, sequenced[model.Alert]{seq: s.seq, value: alert})
	}
	return nil
}

// LatestEvents returns up to limit events, newest first.
func (s *MemoryStore) LatestEvents(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.Lock()
	rows := s.events.Values()
	s.mu.Unlock()

	slices.SortStableFunc(rows, func(a, b sequenced[model.Event]) int {
		return compareNewestFirst(a.value.CreatedAt.UnixNano(), b.value.CreatedAt.UnixNano(), a.seq, b.seq)
	})
	return takeValues(rows, ClampLimit(limit)), nil
}

// LatestAlerts returns up to limit alerts, newest first.
func (s *MemoryStore) LatestAlerts(_ context.Context, limit int) ([]model.Alert, error) {
	s.mu.Lock()
	rows := s.alerts.Values()
	s.mu.Unlock()

	slices.SortStableFunc(rows, func(a, b sequenced[model.Alert]) int {
		return compareNewestFirst(a.value.CreatedAt.UnixNano(), b.value.CreatedAt.UnixNano(), a.seq, b.seq)
	})
	return takeValues(rows, ClampLimit(limit)), nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close drops all rows.
func (s *MemoryStore) Close() error {
	s.events.Purge()
	s.alerts.Purge()
	return nil
}

func compareNewestFirst(aTime, bTime int64, aSeq, bSeq uint64) int {
	switch {
	case aTime > bTime:
		return -1
	case aTime < bTime:
		return 1
	case aSeq > bSeq:
		return -1
	case aSeq < bSeq:
		return 1
	default:
		return 0
	}
}

func takeValues[T any](rows []sequenced[T], limit int) []T {
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.value)
	}
	return out
}
