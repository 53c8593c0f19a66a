package combat

import "github.com/annel0/contraption-arena/internal/vec"

// EffectKind вид побочного эффекта для клиента
type EffectKind uint8

const (
	EffectHit EffectKind = iota + 1
	EffectExplosion
	EffectBaseHit
	EffectBlockDestroyed
)

func (k EffectKind) String() string {
	switch k {
	case EffectHit:
		return "hit"
	case EffectExplosion:
		return "explosion"
	case EffectBaseHit:
		return "base_hit"
	case EffectBlockDestroyed:
		return "block_destroyed"
	default:
		return "unknown"
	}
}

// Effect событие столкновения, урона или взрыва
type Effect struct {
	Kind     EffectKind
	Position vec.Vec2Float
	Amount   float64
	Radius   float64
	Team     int
}

// EffectLog эффекты, накопленные с последнего снимка
type EffectLog struct {
	events []Effect
}

// Add добавляет эффект
func (l *EffectLog) Add(e Effect) {
	l.events = append(l.events, e)
}

// Len количество накопленных эффектов
func (l *EffectLog) Len() int {
	return len(l.events)
}

// Drain возвращает накопленное и очищает журнал
func (l *EffectLog) Drain() []Effect {
	out := l.events
	l.events = nil
	return out
}
