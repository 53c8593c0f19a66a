package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/contraption-arena/internal/eventbus"
)

func event(t *testing.T, typ, matchID string, at time.Time) *eventbus.Envelope {
	t.Helper()
	ev, err := eventbus.NewEnvelope("test", typ, matchID, map[string]int{"n": 1})
	require.NoError(t, err)
	ev.Timestamp = at
	return ev
}

func TestRingStoreKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store := NewRingStore(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, typ := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.WriteEvent(ctx, event(t, typ, "m1", base.Add(time.Duration(i)*time.Second))))
	}

	evs, err := store.QueryEvents(ctx, EventQuery{})
	require.NoError(t, err)
	var types []string
	for _, ev := range evs {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{"b", "c", "d"}, types)

	all, err := store.GetEventTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, all, "types outlive evicted events")
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	store := NewRingStore(16)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.WriteEvent(ctx, event(t, eventbus.EventMatchStarted, "m1", base))
	store.WriteEvent(ctx, event(t, eventbus.EventBaseDamaged, "m1", base.Add(time.Second)))
	store.WriteEvent(ctx, event(t, eventbus.EventBaseDamaged, "m1", base.Add(2*time.Second)))
	store.WriteEvent(ctx, event(t, eventbus.EventMatchStarted, "m2", base.Add(3*time.Second)))

	svc := NewReplayService(store)

	evs, err := svc.StreamEvents(ctx, EventQuery{MatchID: "m1", EventTypes: []string{eventbus.EventBaseDamaged}})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
	assert.JSONEq(t, `{"n":1}`, string(evs[0].Data))

	from := base.Add(time.Second)
	evs, err = svc.StreamEvents(ctx, EventQuery{StartTime: &from, Limit: 2})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "m2", evs[1].MatchID, "limit keeps the newest")

	stats, err := svc.GetEventStats(ctx, EventQuery{MatchID: "m1", Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalEvents)
	assert.Equal(t, 2, stats.EventTypes[eventbus.EventBaseDamaged])
	assert.Equal(t, base, *stats.From)
	assert.Equal(t, base.Add(2*time.Second), *stats.To)

	_, err = NewReplayService(nil).GetEventTypes(ctx)
	assert.Error(t, err)
}

func TestRingStoreAttachesToBus(t *testing.T) {
	bus := eventbus.NewMemoryBus(8)
	defer bus.Close()
	store := NewRingStore(8)
	_, err := store.Attach(context.Background(), bus)
	require.NoError(t, err)

	ev, err := eventbus.NewEnvelope("host", eventbus.EventMatchEnded, "m1", eventbus.MatchEnded{})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	require.Eventually(t, func() bool {
		evs, _ := store.QueryEvents(context.Background(), EventQuery{})
		return len(evs) == 1
	}, time.Second, 5*time.Millisecond)
}
