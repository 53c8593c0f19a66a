package sync

import (
	"time"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/vec"
)

// Mode как был получен последний кадр
type Mode uint8

const (
	ModeEmpty Mode = iota
	ModeExact
	ModeInterpolate
	ModeHold
	ModeExtrapolate
)

func (m Mode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModeInterpolate:
		return "interpolate"
	case ModeHold:
		return "hold"
	case ModeExtrapolate:
		return "extrapolate"
	default:
		return "empty"
	}
}

// Interpolator строит кадр клиента из буфера: рисует на now − delay между
// двумя окружающими снимками. Новее последнего снимка кадр стоит на нём;
// экстраполяция включается только конфигом и ограничена MaxExtrapolation.
type Interpolator struct {
	buf              *SnapshotBuffer
	extrapolate      bool
	maxExtrapolation time.Duration

	lastMode  Mode
	lastDelay time.Duration
}

// NewInterpolator создаёт интерполятор поверх буфера
func NewInterpolator(buf *SnapshotBuffer, cfg config.InterpConfig) *Interpolator {
	return &Interpolator{
		buf:              buf,
		extrapolate:      cfg.Extrapolate,
		maxExtrapolation: cfg.MaxExtrapolation,
	}
}

// Mode режим последнего кадра
func (ip *Interpolator) Mode() Mode { return ip.lastMode }

// Delay задержка последнего кадра
func (ip *Interpolator) Delay() time.Duration { return ip.lastDelay }

// Frame возвращает тела для отрисовки на локальный момент now
func (ip *Interpolator) Frame(now time.Duration) []RenderBody {
	entries, delay := ip.buf.view(now)
	ip.lastDelay = delay
	bodies, mode := ip.at(entries, now-delay)
	ip.lastMode = mode
	return bodies
}

// at выбирает способ построения кадра для целевого времени target
func (ip *Interpolator) at(entries []*entry, target time.Duration) ([]RenderBody, Mode) {
	n := len(entries)
	if n == 0 {
		return nil, ModeEmpty
	}

	newest := entries[n-1]
	if target >= newest.recv {
		if target == newest.recv {
			return exact(newest), ModeExact
		}
		if ip.extrapolate && n >= 2 {
			ahead := target - newest.recv
			if ahead > ip.maxExtrapolation {
				ahead = ip.maxExtrapolation
			}
			return extrapolate(entries[n-2], newest, ahead), ModeExtrapolate
		}
		return exact(newest), ModeHold
	}

	if target <= entries[0].recv {
		if target == entries[0].recv {
			return exact(entries[0]), ModeExact
		}
		return exact(entries[0]), ModeHold
	}

	for i := n - 2; i >= 0; i-- {
		a, b := entries[i], entries[i+1]
		if a.recv > target {
			continue
		}
		if a.recv == target {
			return exact(a), ModeExact
		}
		alpha := float64(target-a.recv) / float64(b.recv-a.recv)
		return interpolate(a, b, smoothstep(alpha)), ModeInterpolate
	}
	return exact(entries[0]), ModeHold
}

// exact тела снимка без изменений
func exact(e *entry) []RenderBody {
	out := make([]RenderBody, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.bodies[id].body.clone())
	}
	return out
}

// interpolate смешивает позы двух снимков. Тела, которых нет в более старом
// снимке, рисуются по новому; исчезнувшие не рисуются.
func interpolate(a, b *entry, t float64) []RenderBody {
	out := make([]RenderBody, 0, len(b.order))
	for _, id := range b.order {
		nb := b.bodies[id]
		ob, ok := a.bodies[id]
		if !ok {
			out = append(out, nb.body.clone())
			continue
		}
		body := nb.body.clone()
		body.Position = ob.body.Position.Lerp(nb.body.Position, t)
		body.Angle = vec.LerpAngle(ob.body.Angle, nb.body.Angle, t)
		body.Vertices = project(nb.local, body.Position, body.Angle)
		out = append(out, body)
	}
	return out
}

// extrapolate продлевает движение по скорости между двумя последними снимками
func extrapolate(prev, last *entry, ahead time.Duration) []RenderBody {
	span := (last.recv - prev.recv).Seconds()
	dt := ahead.Seconds()
	out := make([]RenderBody, 0, len(last.order))
	for _, id := range last.order {
		lb := last.bodies[id]
		pb, ok := prev.bodies[id]
		body := lb.body.clone()
		if !ok || span <= 0 || body.Static {
			out = append(out, body)
			continue
		}
		vel := lb.body.Position.Sub(pb.body.Position).Mul(1 / span)
		spin := vec.NormalizeAngle(lb.body.Angle-pb.body.Angle) / span
		body.Position = lb.body.Position.Add(vel.Mul(dt))
		body.Angle = lb.body.Angle + spin*dt
		body.Vertices = project(lb.local, body.Position, body.Angle)
		out = append(out, body)
	}
	return out
}
