package block

import (
	"math"

	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/vec"
)

// Stats базовые характеристики типа
type Stats struct {
	MaxHealth  float64
	Stiffness  float64
	Damping    float64
	Damage     float64
	Knockback  float64
	Mass       float64
	Fragile    bool
	DamageType DamageType
}

// Pose положение блока при сборке
type Pose struct {
	Position vec.Vec2Float // мировой центр ячейки
	Angle    float64       // уже с учётом отражения
	Facing   int           // +1 или -1
	Grid     float64
}

// Place переводит смещение от центра ячейки (в неотражённой раскладке) в мировую точку
func (p Pose) Place(offset vec.Vec2Float) vec.Vec2Float {
	return offset.MirrorX(p.Facing).Rotate(p.Angle).Add(p.Position)
}

// InternalConstraint связь внутри составного блока; A и B индексы в Recipe.Bodies
type InternalConstraint struct {
	A, B int
	Def  physics.ConstraintDef
}

// Recipe результат построения тел блока
type Recipe struct {
	Bodies   []physics.BodyDef
	Internal []InternalConstraint
	Primary  int // тело, к которому крепятся соседи
	Drive    int // тело, на которое подаётся момент колеса; -1 если нет
}

// Resistance кривая сопротивления: возвращает урон после защиты
type Resistance func(amount float64, dt DamageType) float64

// Spec запись таблицы возможностей
type Spec struct {
	Type       Type
	Faces      FaceSet
	Stats      Stats
	Color      string
	Build      func(p Pose) Recipe
	Resistance Resistance
	Drive      *Drive
}

// AttachmentFaces возвращает грани с учётом поворота блока
func (s *Spec) AttachmentFaces(rotationSteps int) FaceSet {
	return s.Faces.Rotate(rotationSteps)
}

// ApplyResistance пропускает урон через кривую сопротивления.
// Результат не отрицателен и не превышает входной урон.
func (s *Spec) ApplyResistance(amount float64, dt DamageType) float64 {
	if amount <= 0 || math.IsNaN(amount) {
		return 0
	}
	if s.Resistance == nil {
		return amount
	}
	out := s.Resistance(amount, dt)
	if out < 0 || math.IsNaN(out) {
		return 0
	}
	if out > amount {
		return amount
	}
	return out
}

func boxRecipe(p Pose, st Stats) Recipe {
	return Recipe{
		Bodies: []physics.BodyDef{{
			Position:   p.Position,
			Angle:      p.Angle,
			Mass:       st.Mass,
			Shapes:     []physics.ShapeDef{{Kind: physics.ShapeBox, Width: p.Grid, Height: p.Grid}},
			Friction:   0.7,
			Elasticity: 0.1,
			Category:   physics.CategoryBlock,
		}},
		Primary: 0,
		Drive:   -1,
	}
}

func spikeRecipe(p Pose, st Stats) Recipe {
	h := p.Grid / 2
	// остриё смотрит вправо, основание на левой грани
	tri := []vec.Vec2Float{{X: -h, Y: -h}, {X: h, Y: 0}, {X: -h, Y: h}}
	for i := range tri {
		tri[i] = tri[i].MirrorX(p.Facing)
	}
	return Recipe{
		Bodies: []physics.BodyDef{{
			Position:   p.Position,
			Angle:      p.Angle,
			Mass:       st.Mass,
			Shapes:     []physics.ShapeDef{{Kind: physics.ShapePoly, Vertices: tri}},
			Friction:   0.5,
			Elasticity: 0.1,
			Category:   physics.CategoryBlock,
		}},
		Primary: 0,
		Drive:   -1,
	}
}

// wheelRecipe: крепёжная пластина у верхней грани и колесо на шарнире в центре ячейки
func wheelRecipe(p Pose, st Stats) Recipe {
	plateH := p.Grid / 4
	plateCenter := p.Place(vec.Vec2Float{X: 0, Y: -p.Grid/2 + plateH/2})
	radius := p.Grid * 0.45

	plate := physics.BodyDef{
		Position:   plateCenter,
		Angle:      p.Angle,
		Mass:       st.Mass * 0.3,
		Shapes:     []physics.ShapeDef{{Kind: physics.ShapeBox, Width: p.Grid, Height: plateH}},
		Friction:   0.7,
		Elasticity: 0.1,
		Category:   physics.CategoryBlock,
	}
	wheel := physics.BodyDef{
		Position:   p.Position,
		Angle:      p.Angle,
		Mass:       st.Mass * 0.7,
		Shapes:     []physics.ShapeDef{{Kind: physics.ShapeCircle, Radius: radius}},
		Friction:   1.2,
		Elasticity: 0.05,
		Category:   physics.CategoryBlock,
	}
	pivot := physics.ConstraintDef{
		Kind:    physics.ConstraintPivot,
		AnchorA: vec.ToLocal(p.Position, plateCenter, p.Angle),
		AnchorB: vec.Vec2Float{},
	}
	return Recipe{
		Bodies:   []physics.BodyDef{plate, wheel},
		Internal: []InternalConstraint{{A: 0, B: 1, Def: pivot}},
		Primary:  0,
		Drive:    1,
	}
}

// armorResistance: острый урон до 5%, тупой до 10%, взрыв вдвое
func armorResistance(amount float64, dt DamageType) float64 {
	switch dt {
	case Sharp:
		return amount * 0.05
	case Blunt:
		return amount * 0.10
	case Blast:
		return amount * 0.5
	default:
		return amount
	}
}

func withStats(st Stats, build func(Pose, Stats) Recipe) func(Pose) Recipe {
	return func(p Pose) Recipe { return build(p, st) }
}

func init() {
	const stiff, damp = 8000.0, 150.0

	register := func(s *Spec, build func(Pose, Stats) Recipe) {
		s.Build = withStats(s.Stats, build)
		Register(s)
	}

	register(&Spec{
		Type:  Core,
		Faces: AllFaces,
		Color: "#f2c14e",
		Stats: Stats{MaxHealth: 100, Stiffness: stiff, Damping: damp, Mass: 2, Fragile: true},
	}, boxRecipe)

	register(&Spec{
		Type:  Plain,
		Faces: AllFaces,
		Color: "#9aa5b1",
		Stats: Stats{MaxHealth: 100, Stiffness: stiff, Damping: damp, Damage: 1, Knockback: 1, Mass: 1, DamageType: Blunt},
	}, boxRecipe)

	register(&Spec{
		Type:  Wheel,
		Faces: Faces(Top),
		Color: "#3d4451",
		Stats: Stats{MaxHealth: 60, Stiffness: stiff, Damping: damp, Damage: 0.5, Knockback: 0.5, Mass: 1, DamageType: Blunt},
		Drive: &Drive{MaxAngularSpeed: 12, Gain: 40, MaxTorque: 60000},
	}, wheelRecipe)

	register(&Spec{
		Type:  Spike,
		Faces: Faces(Left),
		Color: "#c0392b",
		Stats: Stats{MaxHealth: 80, Stiffness: stiff, Damping: damp, Damage: 4, Knockback: 2, Mass: 0.8, DamageType: Sharp},
	}, spikeRecipe)

	register(&Spec{
		Type:       Armor,
		Faces:      AllFaces,
		Color:      "#5b7083",
		Stats:      Stats{MaxHealth: 200, Stiffness: stiff * 1.5, Damping: damp, Damage: 1, Knockback: 1, Mass: 2.5, DamageType: Blunt},
		Resistance: armorResistance,
	}, boxRecipe)

	register(&Spec{
		Type:  Explosive,
		Faces: AllFaces,
		Color: "#e67e22",
		Stats: Stats{MaxHealth: 30, Stiffness: stiff, Damping: damp, Mass: 1, DamageType: Blast},
	}, boxRecipe)
}
