package sync

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/vec"
)

func ms(n float64) time.Duration {
	return time.Duration(n * float64(time.Millisecond))
}

func interpConfig() config.InterpConfig {
	return config.InterpConfig{
		MinDelay:         50 * time.Millisecond,
		MaxDelay:         300 * time.Millisecond,
		LossDelayCap:     150 * time.Millisecond,
		JitterMul:        2,
		Smoothing:        0.1,
		LossRateFraction: 0.5,
		MaxBuffered:      120,
		MaxExtrapolation: 100 * time.Millisecond,
	}
}

var square = []vec.Vec2Float{{X: -20, Y: -20}, {X: 20, Y: -20}, {X: 20, Y: 20}, {X: -20, Y: 20}}

func squareAt(id uint64, pos vec.Vec2Float, angle float64) RenderBody {
	return RenderBody{
		ID:       id,
		Position: pos,
		Angle:    angle,
		Vertices: project(square, pos, angle),
		Color:    "#888888",
	}
}

func TestBuilderGeometryOnFirstSight(t *testing.T) {
	sb := NewSnapshotBuilder(config.SyncConfig{ResendInterval: 2 * time.Second, MaxResends: 4})

	bodies := []RenderBody{squareAt(1, vec.Vec2Float{}, 0), squareAt(2, vec.Vec2Float{X: 50}, 0)}
	snap, stats := sb.Build(0, bodies, nil)
	assert.Equal(t, uint32(1), snap.Seq)
	assert.Equal(t, 2, stats.Geometry)
	assert.True(t, snap.Bodies[0].HasGeometry)
	assert.Len(t, snap.Bodies[0].Vertices, 4)

	snap, stats = sb.Build(time.Second, bodies, nil)
	assert.Zero(t, stats.Geometry)
	for _, b := range snap.Bodies {
		assert.False(t, b.HasGeometry)
		assert.Empty(t, b.Vertices)
	}

	bodies = append(bodies, squareAt(3, vec.Vec2Float{X: 100}, 0))
	snap, stats = sb.Build(1100*time.Millisecond, bodies, nil)
	assert.Equal(t, 1, stats.Geometry)
	assert.True(t, snap.Bodies[2].HasGeometry)
}

func TestBuilderResendCapOldestFirst(t *testing.T) {
	sb := NewSnapshotBuilder(config.SyncConfig{ResendInterval: 2 * time.Second, MaxResends: 4})
	var bodies []RenderBody
	for id := uint64(1); id <= 6; id++ {
		bodies = append(bodies, squareAt(id, vec.Vec2Float{X: float64(id) * 40}, 0))
	}
	sb.Build(0, bodies[:4], nil)
	sb.Build(500*time.Millisecond, bodies, nil)

	// 1-4 отправлены в 0, 5-6 в 0.5 с: первыми повторяются самые старые
	snap, stats := sb.Build(2500*time.Millisecond, bodies, nil)
	assert.Equal(t, 4, stats.Resent)
	for i, b := range snap.Bodies {
		assert.Equal(t, i < 4, b.HasGeometry, "body %d", b.ID)
	}

	snap, stats = sb.Build(2550*time.Millisecond, bodies, nil)
	assert.Equal(t, 2, stats.Resent)
	assert.True(t, snap.Bodies[4].HasGeometry)
	assert.True(t, snap.Bodies[5].HasGeometry)
}

func TestBuilderForgetsVanishedBodies(t *testing.T) {
	sb := NewSnapshotBuilder(config.SyncConfig{ResendInterval: 2 * time.Second, MaxResends: 4})
	a, b := squareAt(1, vec.Vec2Float{}, 0), squareAt(2, vec.Vec2Float{}, 0)
	sb.Build(0, []RenderBody{a, b}, nil)
	sb.Build(50*time.Millisecond, []RenderBody{a}, nil)
	assert.Equal(t, 1, sb.Tracked())

	snap, _ := sb.Build(100*time.Millisecond, []RenderBody{a, b}, nil)
	assert.False(t, snap.Bodies[0].HasGeometry)
	assert.True(t, snap.Bodies[1].HasGeometry)
}

func TestBuilderCarriesEffects(t *testing.T) {
	sb := NewSnapshotBuilder(config.SyncConfig{ResendInterval: time.Second, MaxResends: 1})
	effects := []protocol.Effect{{Kind: protocol.EffectExplosion, X: 1, Y: 2, Radius: 120}}
	snap, _ := sb.Build(0, nil, effects)
	assert.Equal(t, effects, snap.Effects)
}

// Геометрия пришла один раз; для следующих снимков вершины восстанавливаются
// из локального кэша по текущей позе.
func TestReconstructionRoundTrip(t *testing.T) {
	sb := NewSnapshotBuilder(config.SyncConfig{ResendInterval: time.Hour, MaxResends: 4})
	buf := NewSnapshotBuffer(interpConfig(), 20)

	for i := 0; i <= 8; i++ {
		pos := vec.Vec2Float{X: 100 + 13.5*float64(i), Y: 300 - 4*float64(i)}
		angle := 0.3 * float64(i)
		now := time.Duration(i) * 50 * time.Millisecond
		snap, stats := sb.Build(now, []RenderBody{squareAt(9, pos, angle)}, nil)
		if i > 0 {
			require.Zero(t, stats.Geometry)
		}

		decoded, err := protocol.DecodeSnapshot(protocol.EncodeSnapshot(snap))
		require.NoError(t, err)
		require.True(t, buf.Push(decoded, now))

		entries, _ := buf.view(now)
		got := entries[len(entries)-1].bodies[9].body
		require.Len(t, got.Vertices, 4)
		for k, v := range square {
			want := v.Rotate(angle).Add(pos)
			assert.InDelta(t, want.X, got.Vertices[k].X, 1e-3)
			assert.InDelta(t, want.Y, got.Vertices[k].Y, 1e-3)
		}
		assert.Equal(t, "#888888", got.Color)
	}
}

func TestBufferDropsReorderedSnapshots(t *testing.T) {
	buf := NewSnapshotBuffer(interpConfig(), 20)
	require.True(t, buf.Push(&protocol.Snapshot{Seq: 2}, ms(10)))
	assert.False(t, buf.Push(&protocol.Snapshot{Seq: 1}, ms(20)))
	assert.Equal(t, 1, buf.Len())
	assert.Equal(t, uint64(1), buf.Stats().Stale)
}

func pushSteady(buf *SnapshotBuffer, times ...float64) {
	for i, at := range times {
		buf.Push(&protocol.Snapshot{
			Seq:    uint32(i + 1),
			Bodies: []protocol.Body{{ID: 1, X: at}},
		}, ms(at))
	}
}

func TestDelaySteadyStream(t *testing.T) {
	buf := NewSnapshotBuffer(interpConfig(), 20)
	var times []float64
	for i := 0; i <= 20; i++ {
		times = append(times, float64(i)*50)
	}
	pushSteady(buf, times...)
	assert.Equal(t, ms(50), buf.Delay(ms(1000)))
}

func TestDelayJitterTerm(t *testing.T) {
	cfg := interpConfig()
	cfg.LossDelayCap = 0
	buf := NewSnapshotBuffer(cfg, 20)
	pushSteady(buf, 0, 20, 200, 220, 400, 420, 600, 620, 800, 820, 1000)
	// среднее 100, отклонение 80
	assert.InDelta(t, float64(ms(260)), float64(buf.Delay(ms(1000))), float64(time.Microsecond))
}

func TestDelayLossCap(t *testing.T) {
	buf := NewSnapshotBuffer(interpConfig(), 20)
	pushSteady(buf, 0, 400, 800, 1200)
	assert.Equal(t, ms(150), buf.Delay(ms(1200)))
}

// driveFrames шлёт снимки с заданными интервалами по кругу и рисует кадр
// каждые 16 мс, как клиентский цикл отрисовки
func driveFrames(ip *Interpolator, buf *SnapshotBuffer, gaps []float64, total time.Duration) {
	next, seq, k := 0.0, uint32(0), 0
	for now := time.Duration(0); now < total; now += ms(16) {
		for ms(next) <= now {
			seq++
			buf.Push(&protocol.Snapshot{Seq: seq, Bodies: []protocol.Body{{ID: 1, X: next}}}, ms(next))
			next += gaps[k%len(gaps)]
			k++
		}
		ip.Frame(now)
	}
}

func TestDelayCapIgnoresTrimmedHistory(t *testing.T) {
	cfg := interpConfig()
	buf := NewSnapshotBuffer(cfg, 20)
	ip := NewInterpolator(buf, cfg)

	// 20 снимков в секунду пачками: потерь нет, худший интервал 185 мс
	driveFrames(ip, buf, []float64{5, 5, 5, 185}, 5*time.Second)
	assert.Less(t, buf.Len(), 21, "кадры подрезают буфер")
	assert.InDelta(t, float64(ms(185)), float64(ip.Delay()), float64(ms(5)))

	// 5 снимков в секунду: частота ниже половины номинальной
	lossy := NewSnapshotBuffer(cfg, 20)
	ip = NewInterpolator(lossy, cfg)
	driveFrames(ip, lossy, []float64{200}, 5*time.Second)
	assert.InDelta(t, float64(cfg.LossDelayCap), float64(ip.Delay()), float64(ms(1)))
}

func TestDelayIsSmoothed(t *testing.T) {
	buf := NewSnapshotBuffer(interpConfig(), 20)
	var times []float64
	for i := 0; i <= 20; i++ {
		times = append(times, float64(i)*50)
	}
	pushSteady(buf, times...)
	require.Equal(t, ms(50), buf.Delay(ms(1000)))

	buf.Push(&protocol.Snapshot{Seq: 100, Bodies: []protocol.Body{{ID: 1}}}, ms(1250))
	// цель 250 мс, шаг сглаживания 0.1
	assert.InDelta(t, float64(ms(70)), float64(buf.Delay(ms(1250))), float64(time.Microsecond))
}

func TestTrimKeepsTwiceDelay(t *testing.T) {
	buf := NewSnapshotBuffer(interpConfig(), 20)
	var times []float64
	for i := 0; i <= 20; i++ {
		times = append(times, float64(i)*50)
	}
	pushSteady(buf, times...)
	buf.Delay(ms(1000))
	buf.Trim(ms(1000))
	assert.Equal(t, 3, buf.Len())
}

func TestTrimHardCap(t *testing.T) {
	cfg := interpConfig()
	cfg.MaxBuffered = 5
	buf := NewSnapshotBuffer(cfg, 20)
	pushSteady(buf, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	buf.Trim(ms(9))
	assert.Equal(t, 5, buf.Len())
	assert.Equal(t, uint64(5), buf.Stats().Trimmed)

	entries, _ := buf.view(ms(9))
	assert.Equal(t, ms(5), entries[0].recv)
}

func interpolatorWith(t *testing.T, cfg config.InterpConfig) *Interpolator {
	t.Helper()
	buf := NewSnapshotBuffer(cfg, 20)
	for i, at := range []float64{100, 150, 200} {
		buf.Push(&protocol.Snapshot{
			Seq: uint32(i + 1),
			Bodies: []protocol.Body{{
				ID: 1, X: at, Y: 10, Angle: 0.01 * at,
				HasGeometry: i == 0,
				Vertices:    project(square, vec.Vec2Float{X: at, Y: 10}, 0.01*at),
				HasHealth:   true, HealthPercent: 1 - at/1000,
			}},
		}, ms(at))
	}
	return NewInterpolator(buf, cfg)
}

func TestFrameAtSnapshotTimeIsExact(t *testing.T) {
	ip := interpolatorWith(t, interpConfig())
	frame := ip.Frame(ms(200)) // задержка 50 мс: цель ровно 150
	require.Equal(t, ms(50), ip.Delay())
	require.Equal(t, ModeExact, ip.Mode())
	require.Len(t, frame, 1)

	b := frame[0]
	assert.Equal(t, 150.0, b.Position.X)
	assert.Equal(t, 10.0, b.Position.Y)
	assert.Equal(t, 0.01*150, b.Angle)
	assert.Equal(t, 1-150.0/1000, b.HealthPercent)
}

func TestFrameInterpolatesWithEasing(t *testing.T) {
	ip := interpolatorWith(t, interpConfig())

	frame := ip.Frame(ms(225))
	require.Equal(t, ModeInterpolate, ip.Mode())
	assert.InDelta(t, 175, frame[0].Position.X, 1e-9)

	frame = ip.Frame(ms(212.5))
	// smoothstep(0.25) = 0.15625
	assert.InDelta(t, 150+50*0.15625, frame[0].Position.X, 1e-6)
	for k, v := range square {
		want := v.Rotate(frame[0].Angle).Add(frame[0].Position)
		assert.InDelta(t, want.X, frame[0].Vertices[k].X, 1e-9)
	}
}

func TestFrameHoldsAtNewest(t *testing.T) {
	ip := interpolatorWith(t, interpConfig())
	frame := ip.Frame(ms(300))
	assert.Equal(t, ModeHold, ip.Mode())
	assert.Equal(t, 200.0, frame[0].Position.X)
}

func TestFrameExtrapolationIsClamped(t *testing.T) {
	cfg := interpConfig()
	cfg.Extrapolate = true
	ip := interpolatorWith(t, cfg)

	frame := ip.Frame(ms(400))
	assert.Equal(t, ModeExtrapolate, ip.Mode())
	// 1 единица в мс, не дальше 100 мс вперёд
	assert.InDelta(t, 300, frame[0].Position.X, 1e-6)
}

func TestFrameEmptyBuffer(t *testing.T) {
	buf := NewSnapshotBuffer(interpConfig(), 20)
	ip := NewInterpolator(buf, interpConfig())
	assert.Nil(t, ip.Frame(time.Second))
	assert.Equal(t, ModeEmpty, ip.Mode())
}

func TestInterpolateShortestArc(t *testing.T) {
	a := &entry{recv: 0, order: []uint64{1}, bodies: map[uint64]bufferedBody{1: {body: RenderBody{ID: 1, Angle: 3.0}}}}
	b := &entry{recv: ms(50), order: []uint64{1}, bodies: map[uint64]bufferedBody{1: {body: RenderBody{ID: 1, Angle: -3.0}}}}
	out := interpolate(a, b, 0.5)
	assert.InDelta(t, math.Pi, math.Abs(out[0].Angle), 1e-3)
}

func TestSmoothstep(t *testing.T) {
	assert.Equal(t, 0.0, smoothstep(-1))
	assert.Equal(t, 0.5, smoothstep(0.5))
	assert.Equal(t, 1.0, smoothstep(2))
}
