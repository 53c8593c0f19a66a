// Package match ведёт один матч: владеет физическим миром, реестром тел и
// разрешителем боя, крутит шаг фиксированной длины и решает, кто победил.
package match

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/contraption-arena/internal/block"
	"github.com/annel0/contraption-arena/internal/combat"
	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/sync"
	"github.com/annel0/contraption-arena/internal/vec"
	"github.com/annel0/contraption-arena/internal/world"
)

var (
	ErrBadTeam      = errors.New("team must be 0 or 1")
	ErrNoCore       = errors.New("contraption has no core")
	ErrNoReserve    = errors.New("no contraptions left in reserve")
	ErrMatchStopped = errors.New("match is not running")
)

var (
	terrainColor = "#5b4636"
	baseColors   = [2]string{"#3a7bd5", "#d53a3a"}
)

// shape геометрия тела для отрисовки в локальных координатах
type shape struct {
	local  []vec.Vec2Float
	radius float64
	color  string
}

// Context состояние одного матча. Живёт от создания до Teardown и
// передаётся всем компонентам явно.
type Context struct {
	ID  string
	cfg *config.Config

	World    physics.World
	Arena    *world.Arena
	Registry *combat.Registry
	Forces   *combat.Forces
	Effects  *combat.EffectLog
	Resolver *combat.Resolver

	logger *logging.Logger

	shapes  map[physics.BodyID]shape
	inputs  [2]float64
	reserve [2]int
	group   uint64
	now     time.Duration
	tick    uint64
}

// NewContext создаёт матч поверх мира w: строит арену и подключает разрешитель
// к контактам мира.
func NewContext(cfg *config.Config, w physics.World) *Context {
	arena := world.NewArena(cfg.Arena)
	arena.Install(w)

	reg := combat.NewRegistry()
	forces := combat.NewForces()
	effects := &combat.EffectLog{}

	c := &Context{
		ID:       uuid.NewString(),
		cfg:      cfg,
		World:    w,
		Arena:    arena,
		Registry: reg,
		Forces:   forces,
		Effects:  effects,
		Resolver: combat.NewResolver(cfg, w, reg, arena, forces, effects),
		logger:   logging.GetMatchLogger(),
		shapes:   make(map[physics.BodyID]shape),
		reserve:  [2]int{cfg.Arena.Reserve, cfg.Arena.Reserve},
	}
	w.SetContactHandler(func(ct physics.Contact) {
		c.Resolver.RecordContact(ct, c.now)
	})
	c.registerArenaShapes()
	return c
}

func (c *Context) registerArenaShapes() {
	for _, id := range c.Arena.StaticBodies() {
		if c.Arena.IsTerrain(id) {
			surface := make([]vec.Vec2Float, len(c.Arena.Surface))
			copy(surface, c.Arena.Surface)
			c.shapes[id] = shape{local: surface, color: terrainColor}
			continue
		}
		if b, ok := c.Arena.BaseByBody(id); ok {
			box := physics.ShapeDef{Kind: physics.ShapeBox, Width: b.Rect.W, Height: b.Rect.H}
			c.shapes[id] = shape{local: box.LocalVertices(), color: baseColors[b.Team]}
		}
	}
}

// Config конфигурация матча
func (c *Context) Config() *config.Config { return c.cfg }

// Now время симуляции
func (c *Context) Now() time.Duration { return c.now }

// Tick номер последнего шага
func (c *Context) Tick() uint64 { return c.tick }

// Reserve сколько контрапций сторона ещё может выпустить
func (c *Context) Reserve(team int) int {
	if team < 0 || team > 1 {
		return 0
	}
	return c.reserve[team]
}

// SetInput задаёт ввод привода колёс стороны, обрезая его до [-1, 1]
func (c *Context) SetInput(team int, drive float64) error {
	if team < 0 || team > 1 {
		return ErrBadTeam
	}
	if drive > 1 {
		drive = 1
	} else if drive < -1 {
		drive = -1
	}
	c.inputs[team] = drive
	return nil
}

// Input текущий ввод стороны
func (c *Context) Input(team int) float64 {
	if team < 0 || team > 1 {
		return 0
	}
	return c.inputs[team]
}

// Spawn выпускает контрапцию у точки появления её команды. Направление
// берётся от стороны, а не из чертежа.
func (c *Context) Spawn(ct *contraption.Contraption) (combat.Spawned, error) {
	if ct.Team < 0 || ct.Team > 1 {
		return combat.Spawned{}, ErrBadTeam
	}
	if ct.Core() == nil {
		return combat.Spawned{}, ErrNoCore
	}
	if c.reserve[ct.Team] <= 0 {
		return combat.Spawned{}, ErrNoReserve
	}
	if _, dup := c.Registry.Contraption(ct.ID); dup {
		return combat.Spawned{}, fmt.Errorf("contraption %s already spawned", ct.ID)
	}

	ct.Facing = c.Arena.Facings[ct.Team]
	origin := c.Arena.Spawns[ct.Team]
	plan := ct.BuildPhysics(origin.X, origin.Y, c.cfg.Arena.GridSize)

	c.group++
	spawned := combat.Instantiate(c.World, c.Registry, ct, plan, c.group)
	for _, id := range spawned.Bodies {
		bind, _ := c.Registry.Binding(id)
		def := spawned.Defs[id]
		c.shapes[id] = shapeOf(def, bind.Block())
	}
	c.reserve[ct.Team]--

	c.logger.Info("Контрапция %s (%s) выпущена командой %d: %d тел, %d связей",
		ct.Name, ct.ID, ct.Team, len(spawned.Bodies), len(spawned.Constraints))
	return spawned, nil
}

// shapeOf берёт для отрисовки первую форму тела
func shapeOf(def physics.BodyDef, blk *contraption.Block) shape {
	var s shape
	if blk != nil {
		if spec, ok := block.Get(blk.Type); ok {
			s.color = spec.Color
		}
	}
	if len(def.Shapes) == 0 {
		return s
	}
	first := def.Shapes[0]
	if first.Kind == physics.ShapeCircle {
		s.radius = first.Radius
		return s
	}
	s.local = first.LocalVertices()
	return s
}

// Frame тела живого мира в форме для отрисовки, по возрастанию id.
// Тела без записанной формы пропускаются.
func (c *Context) Frame() []sync.RenderBody {
	ids := make([]physics.BodyID, 0, len(c.shapes))
	for id := range c.shapes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]sync.RenderBody, 0, len(ids))
	for _, id := range ids {
		st, ok := c.World.Body(id)
		if !ok {
			delete(c.shapes, id)
			continue
		}
		sh := c.shapes[id]
		rb := sync.RenderBody{
			ID:           uint64(id),
			Position:     st.Position,
			Angle:        st.Angle,
			CircleRadius: sh.radius,
			Color:        sh.color,
			Static:       st.Static,
		}
		if len(sh.local) > 0 {
			rb.Vertices = make([]vec.Vec2Float, len(sh.local))
			for i, v := range sh.local {
				rb.Vertices[i] = vec.ToWorld(v, st.Position, st.Angle)
			}
		}
		if bind, ok := c.Registry.Binding(id); ok {
			if blk := bind.Block(); blk != nil {
				rb.HasHealth = true
				rb.HealthPercent = blk.HealthPercent()
			}
		}
		out = append(out, rb)
	}
	return out
}

// DrainEffects забирает эффекты, накопленные с прошлого снимка
func (c *Context) DrainEffects() []protocol.Effect {
	events := c.Effects.Drain()
	if len(events) == 0 {
		return nil
	}
	out := make([]protocol.Effect, len(events))
	for i, e := range events {
		out[i] = protocol.Effect{
			Kind:   protocol.EffectKind(e.Kind),
			X:      e.Position.X,
			Y:      e.Position.Y,
			Amount: e.Amount,
			Radius: e.Radius,
			Team:   e.Team,
		}
	}
	return out
}

// applyDrive крутит колёса живых контрапций. Боты всегда едут вперёд,
// остальные по вводу своей стороны.
func (c *Context) applyDrive() {
	for _, id := range c.Registry.BoundBodies() {
		bind, _ := c.Registry.Binding(id)
		if !bind.Drive || !bind.Contraption.Alive() {
			continue
		}
		blk := bind.Block()
		if blk == nil || !blk.Alive() {
			continue
		}
		input := c.inputs[bind.Team]
		if bind.Contraption.Bot {
			input = 1
		}
		if input == 0 {
			continue
		}
		st, ok := c.World.Body(id)
		if !ok {
			continue
		}
		torque := blk.Spec().Drive.Torque(st.AngularVelocity, input, bind.Facing)
		if torque != 0 {
			c.World.Wake(id)
			c.World.ApplyTorque(id, torque)
		}
	}
}

// step один шаг симуляции: силы, привод, физика, разрешение, уборка
func (c *Context) step(dt time.Duration) combat.CleanupReport {
	c.Forces.Flush(c.World)
	c.applyDrive()
	c.World.Step(dt.Seconds())
	c.now += dt
	c.tick++
	c.Resolver.Resolve()
	return c.Resolver.Cleanup()
}

// Teardown удаляет из мира всё созданное матчем и очищает реестры
func (c *Context) Teardown() {
	c.World.SetContactHandler(nil)
	for _, id := range c.Registry.BoundBodies() {
		for _, cid := range c.Registry.ConstraintsOf(id) {
			c.World.RemoveConstraint(cid)
			c.Registry.DropConstraint(cid)
		}
		c.World.RemoveBody(id)
	}
	for _, id := range c.Arena.StaticBodies() {
		c.World.RemoveBody(id)
	}
	c.Registry.Reset()
	c.Forces.Reset()
	c.Effects.Drain()
	c.Resolver.Reset()
	c.shapes = make(map[physics.BodyID]shape)
	c.logger.Debug("Матч %s разобран", c.ID)
}
