package replay

import (
	"context"
	"sort"
	"sync"

	"github.com/annel0/contraption-arena/internal/eventbus"
)

// EventStore интерфейс для хранения и запроса событий матча
type EventStore interface {
	// WriteEvent записывает событие в хранилище
	WriteEvent(ctx context.Context, ev *eventbus.Envelope) error

	// QueryEvents возвращает события по фильтрам, от старых к новым
	QueryEvents(ctx context.Context, query EventQuery) ([]*eventbus.Envelope, error)

	// GetEventStats возвращает статистику событий
	GetEventStats(ctx context.Context, query EventQuery) (*EventStats, error)

	// GetEventTypes возвращает типы событий, которые встречались
	GetEventTypes(ctx context.Context) ([]string, error)
}

// RingStore хранит последние события в кольцевом буфере. Старые
// события вытесняются по мере заполнения.
type RingStore struct {
	mu     sync.RWMutex
	events []*eventbus.Envelope
	next   int
	full   bool
	types  map[string]struct{}
}

// NewRingStore создаёт хранилище на capacity событий
func NewRingStore(capacity int) *RingStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingStore{
		events: make([]*eventbus.Envelope, capacity),
		types:  make(map[string]struct{}),
	}
}

// Attach подписывает хранилище на шину
func (s *RingStore) Attach(ctx context.Context, bus eventbus.EventBus) (eventbus.Subscription, error) {
	return bus.Subscribe(ctx, eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		s.WriteEvent(ctx, ev)
	})
}

func (s *RingStore) WriteEvent(_ context.Context, ev *eventbus.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = ev
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
	s.types[ev.EventType] = struct{}{}
	return nil
}

// ordered события от старых к новым; вызывается под блокировкой
func (s *RingStore) ordered() []*eventbus.Envelope {
	if !s.full {
		return s.events[:s.next]
	}
	out := make([]*eventbus.Envelope, 0, len(s.events))
	out = append(out, s.events[s.next:]...)
	return append(out, s.events[:s.next]...)
}

func (s *RingStore) QueryEvents(ctx context.Context, query EventQuery) ([]*eventbus.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*eventbus.Envelope
	for _, ev := range s.ordered() {
		if query.matches(ev) {
			out = append(out, ev)
		}
	}
	// Limit оставляет самые свежие
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[len(out)-query.Limit:]
	}
	return out, nil
}

func (s *RingStore) GetEventStats(ctx context.Context, query EventQuery) (*EventStats, error) {
	query.Limit = 0
	evs, err := s.QueryEvents(ctx, query)
	if err != nil {
		return nil, err
	}
	stats := &EventStats{EventTypes: make(map[string]int)}
	for _, ev := range evs {
		stats.TotalEvents++
		stats.EventTypes[ev.EventType]++
	}
	if len(evs) > 0 {
		first, last := evs[0].Timestamp, evs[len(evs)-1].Timestamp
		stats.From, stats.To = &first, &last
	}
	return stats, nil
}

func (s *RingStore) GetEventTypes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	types := make([]string, 0, len(s.types))
	for t := range s.types {
		types = append(types, t)
	}
	s.mu.RUnlock()
	sort.Strings(types)
	return types, nil
}
