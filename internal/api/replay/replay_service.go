// Package replay отдаёт историю событий матча для REST API.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/contraption-arena/internal/eventbus"
)

// EventQuery представляет запрос к хранилищу событий
type EventQuery struct {
	EventTypes []string   `json:"event_types"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	MatchID    string     `json:"match_id,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

func (q EventQuery) matches(ev *eventbus.Envelope) bool {
	if q.MatchID != "" && ev.MatchID != q.MatchID {
		return false
	}
	if q.StartTime != nil && ev.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && ev.Timestamp.After(*q.EndTime) {
		return false
	}
	if len(q.EventTypes) == 0 {
		return true
	}
	for _, t := range q.EventTypes {
		if t == ev.EventType {
			return true
		}
	}
	return false
}

// EventStats представляет статистику событий
type EventStats struct {
	TotalEvents int64          `json:"total_events"`
	EventTypes  map[string]int `json:"event_types"`
	From        *time.Time     `json:"from,omitempty"`
	To          *time.Time     `json:"to,omitempty"`
}

// Event событие в ответе API
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	MatchID   string          `json:"match_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ReplayService представляет сервис воспроизведения событий
type ReplayService struct {
	eventStore EventStore
}

// NewReplayService создает новый сервис воспроизведения
func NewReplayService(eventStore EventStore) *ReplayService {
	return &ReplayService{eventStore: eventStore}
}

// StreamEvents возвращает события по фильтру
func (s *ReplayService) StreamEvents(ctx context.Context, query EventQuery) ([]Event, error) {
	if s.eventStore == nil {
		return nil, fmt.Errorf("event store not configured")
	}
	envs, err := s.eventStore.QueryEvents(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	result := make([]Event, len(envs))
	for i, env := range envs {
		result[i] = Event{
			ID:        env.ID,
			Type:      env.EventType,
			MatchID:   env.MatchID,
			Timestamp: env.Timestamp,
			Data:      env.Payload,
		}
	}
	return result, nil
}

// GetEventStats возвращает статистику событий
func (s *ReplayService) GetEventStats(ctx context.Context, query EventQuery) (*EventStats, error) {
	if s.eventStore == nil {
		return nil, fmt.Errorf("event store not configured")
	}
	stats, err := s.eventStore.GetEventStats(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// GetEventTypes возвращает доступные типы событий
func (s *ReplayService) GetEventTypes(ctx context.Context) ([]string, error) {
	if s.eventStore == nil {
		return nil, fmt.Errorf("event store not configured")
	}
	types, err := s.eventStore.GetEventTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get event types: %w", err)
	}
	return types, nil
}
