// Package physics описывает движок твёрдых тел как внешний сервис:
// тела, связи, события контактов, силы и управление сном.
package physics

import (
	"github.com/annel0/contraption-arena/internal/vec"
)

// BodyID идентификатор тела в мире
type BodyID uint64

// ConstraintID идентификатор связи в мире
type ConstraintID uint64

// Category определяет класс тела для обработчиков столкновений
type Category uint8

const (
	CategoryBlock Category = iota + 1
	CategoryTerrain
	CategoryBase
)

// ShapeKind тип формы
type ShapeKind uint8

const (
	ShapeBox ShapeKind = iota
	ShapePoly
	ShapeCircle
	ShapeSegment
)

// ShapeDef описывает форму в локальных координатах тела
type ShapeDef struct {
	Kind     ShapeKind
	Width    float64         // для ShapeBox
	Height   float64         // для ShapeBox
	Vertices []vec.Vec2Float // для ShapePoly, против часовой стрелки
	Radius   float64         // для ShapeCircle и толщина ShapeSegment
	Offset   vec.Vec2Float   // смещение центра круга
	A, B     vec.Vec2Float   // концы ShapeSegment
}

// LocalVertices возвращает вершины формы в локальных координатах тела.
// Для круга возвращает nil.
func (s ShapeDef) LocalVertices() []vec.Vec2Float {
	switch s.Kind {
	case ShapeBox:
		hw, hh := s.Width/2, s.Height/2
		return []vec.Vec2Float{{X: -hw, Y: -hh}, {X: hw, Y: -hh}, {X: hw, Y: hh}, {X: -hw, Y: hh}}
	case ShapePoly:
		out := make([]vec.Vec2Float, len(s.Vertices))
		copy(out, s.Vertices)
		return out
	case ShapeSegment:
		return []vec.Vec2Float{s.A, s.B}
	default:
		return nil
	}
}

// BodyDef описывает создаваемое тело
type BodyDef struct {
	Position   vec.Vec2Float
	Angle      float64
	Mass       float64
	Static     bool
	Sensor     bool
	Shapes     []ShapeDef
	Friction   float64
	Elasticity float64
	Category   Category
	// Group: тела с одинаковой ненулевой группой не сталкиваются друг с другом
	Group uint64
}

// ConstraintKind тип связи
type ConstraintKind uint8

const (
	// ConstraintSpring упругая связь между якорями
	ConstraintSpring ConstraintKind = iota
	// ConstraintPin жёсткая дистанция между якорями
	ConstraintPin
	// ConstraintPivot шарнир, свободное вращение вокруг общей точки
	ConstraintPivot
)

// ConstraintDef описывает связь между двумя телами. Якоря заданы в локальных координатах тел.
type ConstraintDef struct {
	Kind       ConstraintKind
	A, B       BodyID
	AnchorA    vec.Vec2Float
	AnchorB    vec.Vec2Float
	RestLength float64
	Stiffness  float64
	Damping    float64
}

// ContactPhase фаза контакта
type ContactPhase uint8

const (
	ContactBegin ContactPhase = iota
	ContactActive
	ContactEnd
)

// String для логов
func (p ContactPhase) String() string {
	switch p {
	case ContactBegin:
		return "begin"
	case ContactActive:
		return "active"
	default:
		return "end"
	}
}

// Contact событие столкновения пары тел
type Contact struct {
	Phase ContactPhase
	A, B  BodyID
}

// BodyState состояние тела после шага
type BodyState struct {
	ID              BodyID
	Position        vec.Vec2Float
	Angle           float64
	Velocity        vec.Vec2Float
	AngularVelocity float64
	Static          bool
	Sleeping        bool
}

// ContactHandler вызывается изнутри Step. Обработчик не должен менять мир.
type ContactHandler func(Contact)

// World определяет интерфейс движка твёрдых тел
type World interface {
	AddBody(def BodyDef) BodyID
	RemoveBody(id BodyID)
	AddConstraint(def ConstraintDef) ConstraintID
	RemoveConstraint(id ConstraintID)

	Step(dt float64)
	SetContactHandler(h ContactHandler)

	Body(id BodyID) (BodyState, bool)
	Bodies() []BodyID

	ApplyImpulse(id BodyID, impulse vec.Vec2Float)
	ApplyForce(id BodyID, force vec.Vec2Float)
	ApplyTorque(id BodyID, torque float64)

	Wake(id BodyID)
	Sleep(id BodyID)
}
