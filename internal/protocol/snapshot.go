package protocol

import "github.com/annel0/contraption-arena/internal/vec"

// Body состояние одного тела в снимке. Геометрия передаётся в мировых
// координатах и только когда HasGeometry установлен.
type Body struct {
	ID    uint64
	X, Y  float64
	Angle float64

	HasGeometry  bool
	Vertices     []vec.Vec2Float
	CircleRadius float64

	Static bool
	Color  string

	HasHealth     bool
	HealthPercent float64
}

// Position возвращает позицию тела
func (b Body) Position() vec.Vec2Float {
	return vec.Vec2Float{X: b.X, Y: b.Y}
}

// EffectKind вид побочного эффекта
type EffectKind uint8

const (
	EffectHit EffectKind = iota + 1
	EffectExplosion
	EffectBaseHit
	EffectBlockDestroyed
)

// Effect эффект, накопленный с прошлого снимка
type Effect struct {
	Kind   EffectKind
	X, Y   float64
	Amount float64
	Radius float64
	Team   int
}

// Snapshot один снимок хоста. Timestamp в миллисекундах времени хоста и
// используется только для отладки: порядок клиент строит по времени приёма.
type Snapshot struct {
	Seq       uint32
	Timestamp int64
	Bodies    []Body
	Effects   []Effect
}
