// Package memworld реализует physics.World без обнаружения столкновений:
// тела интегрируются по скорости, контакты подаются снаружи через Inject.
// Используется в тестах и при проигрывании записанных матчей.
package memworld

import (
	"sort"

	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/vec"
)

type body struct {
	def      physics.BodyDef
	state    physics.BodyState
	inertia  float64
	force    vec.Vec2Float
	torque   float64
	sleeping bool
}

// World кинематический мир
type World struct {
	Gravity vec.Vec2Float

	bodies      map[physics.BodyID]*body
	constraints map[physics.ConstraintID]physics.ConstraintDef
	nextBody    physics.BodyID
	nextCons    physics.ConstraintID
	handler     physics.ContactHandler
	pending     []physics.Contact
	steps       int
}

// New создаёт пустой мир
func New() *World {
	return &World{
		bodies:      make(map[physics.BodyID]*body),
		constraints: make(map[physics.ConstraintID]physics.ConstraintDef),
		nextBody:    1,
		nextCons:    1,
	}
}

func momentOf(def physics.BodyDef) float64 {
	if def.Mass <= 0 {
		return 1
	}
	moment := 0.0
	for _, s := range def.Shapes {
		switch s.Kind {
		case physics.ShapeBox:
			moment += def.Mass * (s.Width*s.Width + s.Height*s.Height) / 12
		case physics.ShapeCircle:
			moment += def.Mass * s.Radius * s.Radius / 2
		default:
			moment += def.Mass
		}
	}
	if moment <= 0 {
		moment = def.Mass
	}
	return moment
}

// AddBody добавляет тело
func (w *World) AddBody(def physics.BodyDef) physics.BodyID {
	id := w.nextBody
	w.nextBody++
	w.bodies[id] = &body{
		def:     def,
		inertia: momentOf(def),
		state: physics.BodyState{
			ID:       id,
			Position: def.Position,
			Angle:    def.Angle,
			Static:   def.Static,
		},
	}
	return id
}

// RemoveBody удаляет тело; связи, касающиеся его, тоже удаляются
func (w *World) RemoveBody(id physics.BodyID) {
	delete(w.bodies, id)
	for cid, c := range w.constraints {
		if c.A == id || c.B == id {
			delete(w.constraints, cid)
		}
	}
}

// AddConstraint добавляет связь
func (w *World) AddConstraint(def physics.ConstraintDef) physics.ConstraintID {
	id := w.nextCons
	w.nextCons++
	w.constraints[id] = def
	return id
}

// RemoveConstraint удаляет связь
func (w *World) RemoveConstraint(id physics.ConstraintID) {
	delete(w.constraints, id)
}

// Constraint возвращает описание связи (для тестов)
func (w *World) Constraint(id physics.ConstraintID) (physics.ConstraintDef, bool) {
	c, ok := w.constraints[id]
	return c, ok
}

// ConstraintCount количество связей в мире
func (w *World) ConstraintCount() int {
	return len(w.constraints)
}

// Def возвращает исходное описание тела
func (w *World) Def(id physics.BodyID) (physics.BodyDef, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return physics.BodyDef{}, false
	}
	return b.def, true
}

// SetContactHandler задаёт обработчик контактов
func (w *World) SetContactHandler(h physics.ContactHandler) {
	w.handler = h
}

// Inject ставит контакт в очередь; он будет выдан во время следующего Step
func (w *World) Inject(c physics.Contact) {
	w.pending = append(w.pending, c)
}

// SetVelocity задаёт линейную скорость тела
func (w *World) SetVelocity(id physics.BodyID, v vec.Vec2Float) {
	if b, ok := w.bodies[id]; ok {
		b.state.Velocity = v
	}
}

// SetAngularVelocity задаёт угловую скорость тела
func (w *World) SetAngularVelocity(id physics.BodyID, av float64) {
	if b, ok := w.bodies[id]; ok {
		b.state.AngularVelocity = av
	}
}

// Steps количество выполненных шагов
func (w *World) Steps() int {
	return w.steps
}

// Step интегрирует скорости и выдаёт накопленные контакты
func (w *World) Step(dt float64) {
	w.steps++
	for _, id := range w.Bodies() {
		b := w.bodies[id]
		if b.def.Static || b.sleeping {
			b.force = vec.Vec2Float{}
			b.torque = 0
			continue
		}
		mass := b.def.Mass
		if mass <= 0 {
			mass = 1
		}
		accel := b.force.Mul(1 / mass).Add(w.Gravity)
		b.state.Velocity = b.state.Velocity.Add(accel.Mul(dt))
		b.state.AngularVelocity += b.torque / b.inertia * dt
		b.state.Position = b.state.Position.Add(b.state.Velocity.Mul(dt))
		b.state.Angle += b.state.AngularVelocity * dt
		b.force = vec.Vec2Float{}
		b.torque = 0
	}

	pending := w.pending
	w.pending = nil
	if w.handler == nil {
		return
	}
	for _, c := range pending {
		_, okA := w.bodies[c.A]
		_, okB := w.bodies[c.B]
		if okA && okB {
			w.handler(c)
		}
	}
}

// Body возвращает состояние тела
func (w *World) Body(id physics.BodyID) (physics.BodyState, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return physics.BodyState{}, false
	}
	st := b.state
	st.Sleeping = b.sleeping
	return st, true
}

// Bodies возвращает идентификаторы тел по возрастанию
func (w *World) Bodies() []physics.BodyID {
	ids := make([]physics.BodyID, 0, len(w.bodies))
	for id := range w.bodies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ApplyImpulse мгновенно меняет скорость тела
func (w *World) ApplyImpulse(id physics.BodyID, impulse vec.Vec2Float) {
	b, ok := w.bodies[id]
	if !ok || b.def.Static {
		return
	}
	mass := b.def.Mass
	if mass <= 0 {
		mass = 1
	}
	b.state.Velocity = b.state.Velocity.Add(impulse.Mul(1 / mass))
}

// ApplyForce накапливает силу до следующего шага
func (w *World) ApplyForce(id physics.BodyID, force vec.Vec2Float) {
	if b, ok := w.bodies[id]; ok {
		b.force = b.force.Add(force)
	}
}

// ApplyTorque накапливает момент до следующего шага
func (w *World) ApplyTorque(id physics.BodyID, torque float64) {
	if b, ok := w.bodies[id]; ok {
		b.torque += torque
	}
}

// Wake будит тело
func (w *World) Wake(id physics.BodyID) {
	if b, ok := w.bodies[id]; ok {
		b.sleeping = false
	}
}

// Sleep усыпляет тело
func (w *World) Sleep(id physics.BodyID) {
	if b, ok := w.bodies[id]; ok && !b.def.Static {
		b.sleeping = true
	}
}

var _ physics.World = (*World)(nil)
