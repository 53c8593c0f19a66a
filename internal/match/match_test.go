package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/contraption-arena/internal/block"
	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/eventbus"
	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/physics/memworld"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/vec"
)

type recordingSink struct {
	mu        sync.Mutex
	snapshots []*protocol.Snapshot
	control   []string
	payloads  []any
}

func (s *recordingSink) SendSnapshot(snap *protocol.Snapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *recordingSink) SendControl(t string, p any) {
	s.mu.Lock()
	s.control = append(s.control, t)
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Arena.Amplitude = 0
	cfg.Arena.Reserve = 2
	return cfg
}

func newLoop(t *testing.T, cfg *config.Config) (*Loop, *memworld.World) {
	t.Helper()
	w := memworld.New()
	mc := NewContext(cfg, w)
	return NewLoop(cfg, mc, nil), w
}

func core(t *testing.T, name string, team int) *contraption.Contraption {
	t.Helper()
	c := contraption.New(name, team, 1)
	_, err := c.Place(block.Core, 0, 0, 0)
	require.NoError(t, err)
	return c
}

func coreBody(t *testing.T, l *Loop, c *contraption.Contraption) physics.BodyID {
	t.Helper()
	id, ok := l.ctx.Registry.PrimaryBody(c, c.Core().ID)
	require.True(t, ok)
	return id
}

func TestSpawnUsesTeamSideAndReserve(t *testing.T) {
	l, _ := newLoop(t, testConfig())
	l.Start()

	blue := core(t, "blue", 0)
	_, err := blue.Place(block.Plain, 1, 0, 0)
	require.NoError(t, err)
	red := core(t, "red", 1)

	require.NoError(t, l.Spawn(blue))
	require.NoError(t, l.Spawn(red))
	assert.Equal(t, 1, blue.Facing)
	assert.Equal(t, -1, red.Facing)
	assert.Equal(t, 1, l.ctx.Reserve(0))
	assert.Equal(t, 1, l.ctx.Reserve(1))

	st, ok := l.ctx.World.Body(coreBody(t, l, red))
	require.True(t, ok)
	assert.Equal(t, l.ctx.Arena.Spawns[1], st.Position)

	assert.ErrorIs(t, l.Spawn(contraption.New("empty", 0, 1)), ErrNoCore)
	require.NoError(t, l.Spawn(core(t, "blue2", 0)))
	assert.ErrorIs(t, l.Spawn(core(t, "blue3", 0)), ErrNoReserve)
}

func TestSpawnRequiresRunningMatch(t *testing.T) {
	l, _ := newLoop(t, testConfig())
	assert.ErrorIs(t, l.Spawn(core(t, "early", 0)), ErrMatchStopped)
}

func TestFrameCarriesGeometryAndHealth(t *testing.T) {
	l, _ := newLoop(t, testConfig())
	l.Start()
	c := core(t, "blue", 0)
	require.NoError(t, l.Spawn(c))
	c.Core().Health = 50

	id := coreBody(t, l, c)
	var found bool
	statics := 0
	for _, b := range l.ctx.Frame() {
		if b.Static {
			statics++
		}
		if b.ID != uint64(id) {
			continue
		}
		found = true
		assert.Len(t, b.Vertices, 4)
		assert.True(t, b.HasHealth)
		assert.InDelta(t, 0.5, b.HealthPercent, 1e-9)
		assert.Equal(t, block.MustGet(block.Core).Color, b.Color)
	}
	assert.True(t, found)
	assert.Equal(t, 3, statics) // рельеф и две базы
}

func TestAdvanceFixedStepAndClamp(t *testing.T) {
	l, w := newLoop(t, testConfig())
	assert.Zero(t, l.Advance(time.Second), "idle loop does not step")

	l.Start()
	assert.Equal(t, 3, l.Advance(50*time.Millisecond))
	assert.Equal(t, 3, w.Steps())

	assert.Equal(t, 5, l.Advance(time.Second))
	assert.Less(t, l.acc, l.step)
	assert.Equal(t, uint64(8), l.ctx.Tick())
}

func TestSnapshotCadence(t *testing.T) {
	l, _ := newLoop(t, testConfig())
	l.Start()
	require.NoError(t, l.Spawn(core(t, "blue", 0)))

	sink := &recordingSink{}
	l.Attach(sink)
	for i := 0; i < 60; i++ {
		l.Advance(time.Second / 60)
	}
	require.InDelta(t, 20, len(sink.snapshots), 1)

	first := sink.snapshots[0]
	for _, b := range first.Bodies {
		assert.True(t, b.HasGeometry, "body %d", b.ID)
	}
	for _, b := range sink.snapshots[1].Bodies {
		assert.False(t, b.HasGeometry, "body %d", b.ID)
	}

	l.Detach(sink)
	n := len(sink.snapshots)
	l.Advance(200 * time.Millisecond)
	assert.Equal(t, n, len(sink.snapshots))
	assert.Equal(t, StateRunning, l.State())
}

func TestFriendlyCoresNeverDamageEachOther(t *testing.T) {
	l, w := newLoop(t, testConfig())
	l.Start()
	a, b := core(t, "a", 0), core(t, "b", 0)
	require.NoError(t, l.Spawn(a))
	require.NoError(t, l.Spawn(b))

	ida, idb := coreBody(t, l, a), coreBody(t, l, b)
	w.SetVelocity(ida, vec.Vec2Float{X: 400})
	w.SetVelocity(idb, vec.Vec2Float{X: -400})
	for i := 0; i < 30; i++ {
		w.Inject(physics.Contact{Phase: physics.ContactActive, A: ida, B: idb})
		l.Tick()
	}
	assert.Equal(t, a.Core().MaxHealth, a.Core().Health)
	assert.Equal(t, b.Core().MaxHealth, b.Core().Health)
}

func TestBaseDestroyedEndsMatch(t *testing.T) {
	cfg := testConfig()
	cfg.Arena.Reserve = 10
	l, w := newLoop(t, cfg)
	sink := &recordingSink{}
	l.Attach(sink)
	var ended []Result
	l.OnEnd = func(r Result) { ended = append(ended, r) }
	l.Start()

	defenders := core(t, "red", 1)
	require.NoError(t, l.Spawn(defenders))
	defenderCore := coreBody(t, l, defenders)
	base := l.ctx.Arena.Bases[1].BodyID

	for hp := cfg.Arena.BaseHP; hp > 0; hp-- {
		attacker := core(t, "blue", 0)
		require.NoError(t, l.Spawn(attacker))
		w.Inject(physics.Contact{Phase: physics.ContactBegin, A: base, B: coreBody(t, l, attacker)})
		l.Tick()
		assert.False(t, attacker.Alive(), "the core is spent on the hit")
	}

	require.Len(t, ended, 1)
	assert.Equal(t, Result{Winner: 0, Reason: ReasonBase, Tick: uint64(cfg.Arena.BaseHP)}, ended[0])
	assert.Equal(t, StateStopped, l.State())
	assert.Zero(t, defenders.Core().Health)
	_, stillThere := l.ctx.World.Body(defenderCore)
	assert.False(t, stillThere)

	assert.Contains(t, sink.control, protocol.MsgBaseHP)
	assert.Equal(t, protocol.MsgMatchEnd, sink.control[len(sink.control)-1])
}

func TestBothBasesInOneTickIsTie(t *testing.T) {
	cfg := testConfig()
	cfg.Arena.BaseHP = 1
	l, w := newLoop(t, cfg)
	l.Start()

	blue, red := core(t, "blue", 0), core(t, "red", 1)
	require.NoError(t, l.Spawn(blue))
	require.NoError(t, l.Spawn(red))
	w.Inject(physics.Contact{Phase: physics.ContactBegin, A: l.ctx.Arena.Bases[1].BodyID, B: coreBody(t, l, blue)})
	w.Inject(physics.Contact{Phase: physics.ContactBegin, A: coreBody(t, l, red), B: l.ctx.Arena.Bases[0].BodyID})
	l.Tick()

	r, ok := l.Result()
	require.True(t, ok)
	assert.True(t, r.Tie)
	assert.Equal(t, -1, r.Winner)
}

func eliminationLoop(t *testing.T) (*Loop, *contraption.Contraption, *contraption.Contraption) {
	t.Helper()
	cfg := testConfig()
	cfg.Arena.Reserve = 1
	l, _ := newLoop(t, cfg)
	l.Start()
	blue, red := core(t, "blue", 0), core(t, "red", 1)
	require.NoError(t, l.Spawn(blue))
	require.NoError(t, l.Spawn(red))
	return l, blue, red
}

func TestEliminationWithinTieWindowIsTie(t *testing.T) {
	l, _, _ := eliminationLoop(t)
	l.ctx.Resolver.CollapseTeam(0)
	l.Tick()
	assert.Equal(t, StateRunning, l.State(), "loss is pending during the tie window")

	for i := 0; i < 10; i++ {
		l.Tick()
	}
	l.ctx.Resolver.CollapseTeam(1)
	l.Tick()

	r, ok := l.Result()
	require.True(t, ok)
	assert.True(t, r.Tie)
	assert.Equal(t, ReasonElimination, r.Reason)
}

func TestEliminationAfterTieWindowLoses(t *testing.T) {
	l, _, red := eliminationLoop(t)
	l.ctx.Resolver.CollapseTeam(0)
	for i := 0; i < 40 && l.State() == StateRunning; i++ {
		l.Tick()
	}

	r, ok := l.Result()
	require.True(t, ok)
	assert.Equal(t, 1, r.Winner)
	assert.False(t, r.Tie)
	assert.True(t, red.Alive())
}

func TestCoresDyingWithReserveLeftKeepMatchRunning(t *testing.T) {
	cfg := testConfig()
	cfg.Arena.Reserve = 2
	l, _ := newLoop(t, cfg)
	l.Start()
	require.NoError(t, l.Spawn(core(t, "blue", 0)))
	require.NoError(t, l.Spawn(core(t, "red", 1)))

	l.ctx.Resolver.CollapseTeam(0)
	l.ctx.Resolver.CollapseTeam(1)
	for i := 0; i < 40; i++ {
		l.Tick()
	}
	assert.Equal(t, StateRunning, l.State(), "в резерве ещё по контрапции")
	_, ok := l.Result()
	assert.False(t, ok)
}

func TestStopWithoutWinner(t *testing.T) {
	l, _ := newLoop(t, testConfig())
	l.Start()
	l.Stop()
	r, ok := l.Result()
	require.True(t, ok)
	assert.Equal(t, -1, r.Winner)
	assert.Equal(t, ReasonStopped, r.Reason)
	assert.Zero(t, l.Advance(time.Second))
}

func spawnCar(t *testing.T, l *Loop, name string, team int, bot bool) physics.BodyID {
	t.Helper()
	c := core(t, name, team)
	c.Bot = bot
	_, err := c.Place(block.Wheel, 0, 1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Spawn(c))

	for _, id := range l.ctx.Registry.BoundBodies() {
		if bind, _ := l.ctx.Registry.Binding(id); bind.Drive && bind.Contraption == c {
			return id
		}
	}
	require.Fail(t, "у машины нет ведущего колеса")
	return 0
}

func TestWheelDriveFollowsTeamInput(t *testing.T) {
	l, w := newLoop(t, testConfig())
	l.Start()
	wheel := spawnCar(t, l, "car", 0, false)

	l.Tick()
	st, _ := w.Body(wheel)
	assert.Zero(t, st.AngularVelocity, "без ввода колёса катятся свободно")

	require.NoError(t, l.ctx.SetInput(0, 1))
	l.Tick()
	st, _ = w.Body(wheel)
	assert.Greater(t, st.AngularVelocity, 0.0)

	require.NoError(t, l.ctx.SetInput(0, 0))
	w.SetAngularVelocity(wheel, 0)
	l.Tick()
	st, _ = w.Body(wheel)
	assert.Zero(t, st.AngularVelocity)

	assert.ErrorIs(t, l.ctx.SetInput(2, 1), ErrBadTeam)
}

func TestBotDrivesWithoutInput(t *testing.T) {
	l, w := newLoop(t, testConfig())
	l.Start()
	wheel := spawnCar(t, l, "bot", 1, true)
	require.Zero(t, l.ctx.Input(1))

	l.Tick()
	st, _ := w.Body(wheel)
	assert.NotZero(t, st.AngularVelocity)
}

func TestTeardownEmptiesWorld(t *testing.T) {
	l, w := newLoop(t, testConfig())
	l.Start()
	require.NoError(t, l.Spawn(core(t, "blue", 0)))
	l.Close()

	assert.Empty(t, w.Bodies())
	assert.Zero(t, w.ConstraintCount())
	assert.Empty(t, l.ctx.Registry.Contraptions())
}

func TestRunServesInboxAndPublishesEvents(t *testing.T) {
	cfg := testConfig()
	bus := eventbus.NewMemoryBus(32)
	defer bus.Close()

	var mu sync.Mutex
	var seen []string
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		seen = append(seen, ev.EventType)
		mu.Unlock()
	})
	require.NoError(t, err)

	l := NewLoop(cfg, NewContext(cfg, memworld.New()), bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	reply := make(chan error, 1)
	require.True(t, l.Submit(SpawnCmd{Contraption: core(t, "blue", 0), Reply: reply}, time.Second))
	require.NoError(t, <-reply)
	require.True(t, l.Submit(InputCmd{Team: 0, Drive: -0.5}, time.Second))

	qctx, qcancel := context.WithTimeout(context.Background(), time.Second)
	st, err := l.Query(qctx)
	qcancel()
	require.NoError(t, err)
	assert.Equal(t, "running", st.State)
	assert.Len(t, st.Contraptions, 1)
	assert.Equal(t, -0.5, st.Inputs[0])
	assert.Equal(t, 1, st.Reserve[0])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	l.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{eventbus.EventMatchStarted, eventbus.EventContraptionSpawned, eventbus.EventMatchEnded}, seen[:3])
	mu.Unlock()
}
