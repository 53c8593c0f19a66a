package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	got []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestEnvelopeDecode(t *testing.T) {
	ev, err := NewEnvelope("host", EventBaseDamaged, "m1", BaseDamaged{Team: 1, HP: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 7, ev.Priority)

	p, err := Decode[BaseDamaged](ev)
	require.NoError(t, err)
	assert.Equal(t, BaseDamaged{Team: 1, HP: 2}, p)
}

func TestMemoryBusFilterAndOrder(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var all, ends collector
	_, err := bus.Subscribe(context.Background(), Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), Filter{Types: []string{EventMatchEnded}}, ends.handle)
	require.NoError(t, err)

	for _, typ := range []string{EventMatchStarted, EventBaseDamaged, EventMatchEnded} {
		ev, err := NewEnvelope("host", typ, "m1", struct{}{})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	require.Eventually(t, func() bool { return all.len() == 3 && ends.len() == 1 }, time.Second, 5*time.Millisecond)
	all.mu.Lock()
	assert.Equal(t, EventMatchStarted, all.got[0].EventType)
	assert.Equal(t, EventMatchEnded, all.got[2].EventType)
	all.mu.Unlock()
}

func TestMemoryBusUnsubscribeAndClose(t *testing.T) {
	bus := NewMemoryBus(4)
	var c collector
	sub, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, _ := NewEnvelope("host", EventMatchStarted, "m1", MatchStarted{})
	require.NoError(t, bus.Publish(context.Background(), ev))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, c.len())

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrClosed)
}

func TestMetricsExporterCollect(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	ev, _ := NewEnvelope("host", EventMatchStarted, "m1", MatchStarted{})
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))

	prev := me.Collect(Stats{})
	assert.Equal(t, uint64(2), prev.Published)
	assert.Equal(t, 2.0, testutil.ToFloat64(me.published))

	me.Collect(prev)
	assert.Equal(t, 2.0, testutil.ToFloat64(me.published))
}
