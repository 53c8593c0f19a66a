// Package cpworld реализует physics.World поверх Chipmunk2D (github.com/jakecoffman/cp).
package cpworld

import (
	"sort"

	"github.com/jakecoffman/cp"

	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/vec"
)

// Options настройки пространства
type Options struct {
	Gravity        vec.Vec2Float
	Iterations     uint
	SleepThreshold float64 // секунды покоя до засыпания; 0 отключает сон
}

// DefaultOptions возвращает настройки для арены
func DefaultOptions() Options {
	return Options{
		Gravity:        vec.Vec2Float{X: 0, Y: 900},
		Iterations:     10,
		SleepThreshold: 0.5,
	}
}

type entry struct {
	body   *cp.Body
	shapes []*cp.Shape
	static bool
}

// World адаптер пространства Chipmunk
type World struct {
	space       *cp.Space
	bodies      map[physics.BodyID]*entry
	constraints map[physics.ConstraintID]*cp.Constraint
	consByBody  map[physics.BodyID]map[physics.ConstraintID]struct{}
	nextBody    physics.BodyID
	nextCons    physics.ConstraintID
	handler     physics.ContactHandler
}

// New создаёт пространство и регистрирует обработчики пар категорий
func New(opts Options) *World {
	space := cp.NewSpace()
	space.SetGravity(toCP(opts.Gravity))
	if opts.Iterations > 0 {
		space.Iterations = opts.Iterations
	}
	if opts.SleepThreshold > 0 {
		space.SleepTimeThreshold = opts.SleepThreshold
	}

	w := &World{
		space:       space,
		bodies:      make(map[physics.BodyID]*entry),
		constraints: make(map[physics.ConstraintID]*cp.Constraint),
		consByBody:  make(map[physics.BodyID]map[physics.ConstraintID]struct{}),
		nextBody:    1,
		nextCons:    1,
	}

	block := cp.CollisionType(physics.CategoryBlock)
	w.register(block, block)
	w.register(block, cp.CollisionType(physics.CategoryTerrain))
	w.register(block, cp.CollisionType(physics.CategoryBase))
	return w
}

func (w *World) register(a, b cp.CollisionType) {
	h := w.space.NewCollisionHandler(a, b)
	h.BeginFunc = func(arb *cp.Arbiter, space *cp.Space, userData interface{}) bool {
		w.emit(physics.ContactBegin, arb)
		return true
	}
	h.PreSolveFunc = func(arb *cp.Arbiter, space *cp.Space, userData interface{}) bool {
		w.emit(physics.ContactActive, arb)
		return !sensorContact(arb)
	}
	h.SeparateFunc = func(arb *cp.Arbiter, space *cp.Space, userData interface{}) {
		w.emit(physics.ContactEnd, arb)
	}
}

// sensorContact контакт с сенсором (зона базы) не даёт отклика
func sensorContact(arb *cp.Arbiter) bool {
	a, b := arb.Shapes()
	return a.Sensor() || b.Sensor()
}

func (w *World) emit(phase physics.ContactPhase, arb *cp.Arbiter) {
	if w.handler == nil {
		return
	}
	a, b := arb.Bodies()
	idA, okA := a.UserData.(physics.BodyID)
	idB, okB := b.UserData.(physics.BodyID)
	if !okA || !okB {
		return
	}
	w.handler(physics.Contact{Phase: phase, A: idA, B: idB})
}

func toCP(v vec.Vec2Float) cp.Vector {
	return cp.Vector{X: v.X, Y: v.Y}
}

func fromCP(v cp.Vector) vec.Vec2Float {
	return vec.Vec2Float{X: v.X, Y: v.Y}
}

// ccw возвращает вершины против часовой стрелки (отражение по X меняет обход)
func ccw(verts []vec.Vec2Float) []cp.Vector {
	area := 0.0
	for i := range verts {
		j := (i + 1) % len(verts)
		area += verts[i].X*verts[j].Y - verts[j].X*verts[i].Y
	}
	out := make([]cp.Vector, len(verts))
	for i, v := range verts {
		if area < 0 {
			out[len(verts)-1-i] = toCP(v)
		} else {
			out[i] = toCP(v)
		}
	}
	return out
}

func moment(def physics.BodyDef) float64 {
	m := 0.0
	for _, s := range def.Shapes {
		switch s.Kind {
		case physics.ShapeBox:
			m += cp.MomentForBox(def.Mass, s.Width, s.Height)
		case physics.ShapeCircle:
			m += cp.MomentForCircle(def.Mass, 0, s.Radius, toCP(s.Offset))
		case physics.ShapePoly:
			verts := ccw(s.Vertices)
			m += cp.MomentForPoly(def.Mass, len(verts), verts, cp.Vector{}, 0)
		}
	}
	if m <= 0 {
		m = def.Mass
	}
	return m
}

// AddBody создаёт тело и его формы
func (w *World) AddBody(def physics.BodyDef) physics.BodyID {
	id := w.nextBody
	w.nextBody++

	var body *cp.Body
	if def.Static {
		body = cp.NewStaticBody()
	} else {
		mass := def.Mass
		if mass <= 0 {
			mass = 1
		}
		def.Mass = mass
		body = cp.NewBody(mass, moment(def))
	}
	body.UserData = id
	body.SetPosition(toCP(def.Position))
	body.SetAngle(def.Angle)
	w.space.AddBody(body)

	e := &entry{body: body, static: def.Static}
	for _, s := range def.Shapes {
		var shape *cp.Shape
		switch s.Kind {
		case physics.ShapeBox:
			shape = cp.NewBox(body, s.Width, s.Height, 0)
		case physics.ShapePoly:
			verts := ccw(s.Vertices)
			shape = cp.NewPolyShapeRaw(body, len(verts), verts, 0)
		case physics.ShapeCircle:
			shape = cp.NewCircle(body, s.Radius, toCP(s.Offset))
		case physics.ShapeSegment:
			shape = cp.NewSegment(body, toCP(s.A), toCP(s.B), s.Radius)
		default:
			continue
		}
		shape.SetCollisionType(cp.CollisionType(def.Category))
		shape.SetFriction(def.Friction)
		shape.SetElasticity(def.Elasticity)
		shape.SetSensor(def.Sensor)
		if def.Group != 0 {
			shape.SetFilter(cp.NewShapeFilter(uint(def.Group), cp.ALL_CATEGORIES, cp.ALL_CATEGORIES))
		}
		w.space.AddShape(shape)
		e.shapes = append(e.shapes, shape)
	}

	w.bodies[id] = e
	return id
}

// RemoveBody удаляет тело вместе с формами и связями
func (w *World) RemoveBody(id physics.BodyID) {
	e, ok := w.bodies[id]
	if !ok {
		return
	}
	for cid := range w.consByBody[id] {
		w.RemoveConstraint(cid)
	}
	for _, s := range e.shapes {
		w.space.RemoveShape(s)
	}
	w.space.RemoveBody(e.body)
	delete(w.bodies, id)
	delete(w.consByBody, id)
}

// AddConstraint создаёт связь
func (w *World) AddConstraint(def physics.ConstraintDef) physics.ConstraintID {
	a, okA := w.bodies[def.A]
	b, okB := w.bodies[def.B]
	if !okA || !okB {
		return 0
	}

	var c *cp.Constraint
	switch def.Kind {
	case physics.ConstraintSpring:
		c = cp.NewDampedSpring(a.body, b.body, toCP(def.AnchorA), toCP(def.AnchorB), def.RestLength, def.Stiffness, def.Damping)
	case physics.ConstraintPin:
		c = cp.NewPinJoint(a.body, b.body, toCP(def.AnchorA), toCP(def.AnchorB))
	case physics.ConstraintPivot:
		c = cp.NewPivotJoint2(a.body, b.body, toCP(def.AnchorA), toCP(def.AnchorB))
		c.SetCollideBodies(false)
	default:
		return 0
	}
	w.space.AddConstraint(c)

	id := w.nextCons
	w.nextCons++
	w.constraints[id] = c
	for _, bid := range []physics.BodyID{def.A, def.B} {
		if w.consByBody[bid] == nil {
			w.consByBody[bid] = make(map[physics.ConstraintID]struct{})
		}
		w.consByBody[bid][id] = struct{}{}
	}
	return id
}

// RemoveConstraint удаляет связь
func (w *World) RemoveConstraint(id physics.ConstraintID) {
	c, ok := w.constraints[id]
	if !ok {
		return
	}
	w.space.RemoveConstraint(c)
	delete(w.constraints, id)
	for _, set := range w.consByBody {
		delete(set, id)
	}
}

// Step продвигает пространство
func (w *World) Step(dt float64) {
	w.space.Step(dt)
}

// SetContactHandler задаёт обработчик контактов
func (w *World) SetContactHandler(h physics.ContactHandler) {
	w.handler = h
}

// Body возвращает состояние тела
func (w *World) Body(id physics.BodyID) (physics.BodyState, bool) {
	e, ok := w.bodies[id]
	if !ok {
		return physics.BodyState{}, false
	}
	return physics.BodyState{
		ID:              id,
		Position:        fromCP(e.body.Position()),
		Angle:           e.body.Angle(),
		Velocity:        fromCP(e.body.Velocity()),
		AngularVelocity: e.body.AngularVelocity(),
		Static:          e.static,
		Sleeping:        !e.static && e.body.IsSleeping(),
	}, true
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

// ApplyImpulse прикладывает импульс в центре масс
func (w *World) ApplyImpulse(id physics.BodyID, impulse vec.Vec2Float) {
	if e, ok := w.bodies[id]; ok && !e.static {
		e.body.ApplyImpulseAtWorldPoint(toCP(impulse), e.body.Position())
	}
}

// ApplyForce прикладывает силу в центре масс до конца шага
func (w *World) ApplyForce(id physics.BodyID, force vec.Vec2Float) {
	if e, ok := w.bodies[id]; ok && !e.static {
		e.body.ApplyForceAtWorldPoint(toCP(force), e.body.Position())
	}
}

// ApplyTorque добавляет момент до конца шага
func (w *World) ApplyTorque(id physics.BodyID, torque float64) {
	if e, ok := w.bodies[id]; ok && !e.static {
		e.body.SetTorque(e.body.Torque() + torque)
	}
}

// Wake будит тело
func (w *World) Wake(id physics.BodyID) {
	if e, ok := w.bodies[id]; ok && !e.static {
		e.body.Activate()
	}
}

// Sleep усыпляет тело
func (w *World) Sleep(id physics.BodyID) {
	if e, ok := w.bodies[id]; ok && !e.static {
		e.body.Sleep()
	}
}

var _ physics.World = (*World)(nil)
