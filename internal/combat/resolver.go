// Package combat разрешает столкновения за тик: урон, отбрасывание, взрывы,
// удаление разрушенных блоков и попадания ядер в базы.
//
// Тик состоит из двух фаз. Во время шага физики RecordContact только
// записывает намерения; после шага Resolve применяет их все разом, а
// Cleanup убирает мёртвые тела и пересчитывает связность.
package combat

import (
	"sort"
	"time"

	"github.com/annel0/contraption-arena/internal/block"
	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/vec"
	"github.com/annel0/contraption-arena/internal/world"
)

type pairKey struct {
	a, b physics.BodyID
}

func makePair(a, b physics.BodyID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// hitIntent столкновение, записанное внутри шага; скорости сняты в момент контакта
type hitIntent struct {
	a, b       physics.BodyID
	posA, posB vec.Vec2Float
	velA, velB vec.Vec2Float
}

type baseIntent struct {
	base *world.Base
	body physics.BodyID
}

// Resolver разрешает бой одного матча
type Resolver struct {
	cfg     config.CombatConfig
	radius  float64
	world   physics.World
	reg     *Registry
	arena   *world.Arena
	forces  *Forces
	effects *EffectLog
	logger  *logging.Logger

	lastHit  map[pairKey]time.Duration
	hits     []hitIntent
	baseHits []baseIntent
	lost     map[*contraption.Contraption]struct{}

	// OnBaseDestroyed вызывается, когда HP базы доходит до нуля
	OnBaseDestroyed func(b *world.Base)
	// OnBaseHit вызывается при каждом попадании ядра в базу
	OnBaseHit func(b *world.Base)
}

// NewResolver создаёт разрешитель для мира, реестра и арены матча
func NewResolver(cfg *config.Config, w physics.World, reg *Registry, arena *world.Arena, forces *Forces, effects *EffectLog) *Resolver {
	return &Resolver{
		cfg:     cfg.Combat,
		radius:  cfg.BlastRadius(),
		world:   w,
		reg:     reg,
		arena:   arena,
		forces:  forces,
		effects: effects,
		logger:  logging.GetCombatLogger(),
		lastHit: make(map[pairKey]time.Duration),
		lost:    make(map[*contraption.Contraption]struct{}),
	}
}

// BlastRadius радиус взрыва в мировых единицах
func (r *Resolver) BlastRadius() float64 {
	return r.radius
}

func (r *Resolver) isTerrain(id physics.BodyID) bool {
	return r.arena != nil && r.arena.IsTerrain(id)
}

func (r *Resolver) baseOf(id physics.BodyID) (*world.Base, bool) {
	if r.arena == nil {
		return nil, false
	}
	return r.arena.BaseByBody(id)
}

// RecordContact записывает намерение по событию контакта. Вызывается из шага физики
// и не меняет ни мир, ни здоровье блоков.
func (r *Resolver) RecordContact(c physics.Contact, now time.Duration) {
	key := makePair(c.A, c.B)
	if c.Phase == physics.ContactEnd {
		delete(r.lastHit, key)
		return
	}

	if base, ok := r.baseOf(c.A); ok {
		if c.Phase == physics.ContactBegin {
			r.baseHits = append(r.baseHits, baseIntent{base: base, body: c.B})
		}
		return
	}
	if base, ok := r.baseOf(c.B); ok {
		if c.Phase == physics.ContactBegin {
			r.baseHits = append(r.baseHits, baseIntent{base: base, body: c.A})
		}
		return
	}

	_, boundA := r.reg.Binding(c.A)
	_, boundB := r.reg.Binding(c.B)
	if !boundA && !boundB {
		return
	}
	if (!boundA && !r.isTerrain(c.A)) || (!boundB && !r.isTerrain(c.B)) {
		return
	}

	last, seen := r.lastHit[key]
	if c.Phase == physics.ContactActive && seen && now-last < r.cfg.ContactRetrigger {
		return
	}
	r.lastHit[key] = now

	intent := hitIntent{a: c.A, b: c.B}
	if st, ok := r.world.Body(c.A); ok {
		intent.posA, intent.velA = st.Position, st.Velocity
	}
	if st, ok := r.world.Body(c.B); ok {
		intent.posB, intent.velB = st.Position, st.Velocity
	}
	r.hits = append(r.hits, intent)
}

// Pending количество записанных, но не применённых намерений
func (r *Resolver) Pending() int {
	return len(r.hits) + len(r.baseHits)
}

// Resolve применяет все намерения тика: урон, отбрасывание, попадания в базы и взрывы.
func (r *Resolver) Resolve() {
	hits := r.hits
	r.hits = nil
	for _, h := range hits {
		r.applyHit(h)
	}

	baseHits := r.baseHits
	r.baseHits = nil
	for _, bh := range baseHits {
		r.applyBaseHit(bh)
	}

	r.detonatePending()
}

func (r *Resolver) bindingBlock(id physics.BodyID) (*Binding, *contraption.Block) {
	b, ok := r.reg.Binding(id)
	if !ok {
		return nil, nil
	}
	blk := b.Block()
	if blk == nil {
		return nil, nil
	}
	return b, blk
}

func (r *Resolver) applyHit(h hitIntent) {
	bindA, blkA := r.bindingBlock(h.a)
	bindB, blkB := r.bindingBlock(h.b)
	if blkA == nil && blkB == nil {
		return
	}
	if blkA != nil && blkB != nil {
		if bindA.Team == bindB.Team || bindA.Contraption == bindB.Contraption {
			return
		}
	}

	relSpeed := h.velA.Sub(h.velB).Length()
	r.strike(bindA, blkA, h.a, h.posA, h.velA, bindB, blkB, h.b, h.posB, relSpeed)
	r.strike(bindB, blkB, h.b, h.posB, h.velB, bindA, blkA, h.a, h.posA, relSpeed)
}

// strike применяет урон атакующего att к защитнику def. Любой из них может быть рельефом (nil).
func (r *Resolver) strike(
	attBind *Binding, att *contraption.Block, attID physics.BodyID, attPos, attVel vec.Vec2Float,
	defBind *Binding, def *contraption.Block, defID physics.BodyID, defPos vec.Vec2Float,
	relSpeed float64,
) {
	if def == nil || !def.Alive() {
		return
	}

	var dmg float64
	switch {
	case def.Fragile:
		dmg = relSpeed * r.cfg.FragileFactor
		if att == nil {
			dmg *= 1 + r.cfg.TerrainBonus
		}
	case att != nil && !att.Fragile:
		raw := att.Damage * attVel.Length() * r.cfg.SpeedScale
		dmg = def.Spec().ApplyResistance(raw, att.Spec().Stats.DamageType)
	}
	if dmg <= 0 {
		return
	}

	r.damage(defBind, def, dmg)
	r.effects.Add(Effect{
		Kind:     EffectHit,
		Position: attPos.Lerp(defPos, 0.5),
		Amount:   dmg,
		Team:     defBind.Team,
	})

	if att == nil || att.Fragile || att.Knockback <= 0 {
		return
	}
	dir := defPos.Sub(attPos).Normalized()
	impulse := dir.Mul(att.Knockback * r.cfg.KnockbackScale)
	r.forces.Add(defID, impulse)
	r.forces.Add(attID, impulse.Mul(-1))
	r.forces.Wake(defID)
	r.forces.Wake(attID)
}

// damage вычитает урон и отмечает контрапцию, если блок погиб
func (r *Resolver) damage(bind *Binding, blk *contraption.Block, amount float64) {
	if !blk.Alive() || amount <= 0 {
		return
	}
	blk.Health -= amount
	if blk.Health <= 0 {
		blk.Health = 0
		r.lost[bind.Contraption] = struct{}{}
	}
}

func (r *Resolver) applyBaseHit(bh baseIntent) {
	bind, blk := r.bindingBlock(bh.body)
	if blk == nil || blk.Type != block.Core || !blk.Alive() {
		return
	}
	if bind.Team == bh.base.Team || bh.base.Destroyed() {
		return
	}

	blk.Health = 0
	r.lost[bind.Contraption] = struct{}{}
	fell := bh.base.Hit()
	r.effects.Add(Effect{Kind: EffectBaseHit, Position: bh.base.Rect.Center(), Amount: 1, Team: bh.base.Team})
	r.logger.Info("Ядро команды %d попало в базу команды %d, HP=%d", bind.Team, bh.base.Team, bh.base.HP)
	if r.OnBaseHit != nil {
		r.OnBaseHit(bh.base)
	}
	if fell {
		r.CollapseTeam(bh.base.Team)
		if r.OnBaseDestroyed != nil {
			r.OnBaseDestroyed(bh.base)
		}
	}
}

// CollapseTeam обнуляет все блоки контрапций команды
func (r *Resolver) CollapseTeam(team int) {
	for _, c := range r.reg.Contraptions() {
		if c.Team != team {
			continue
		}
		if len(c.Zero()) > 0 {
			r.lost[c] = struct{}{}
		}
	}
}

type blockRef struct {
	bind *Binding
	blk  *contraption.Block
	body physics.BodyID
	pos  vec.Vec2Float
}

// livingBlocks основные тела живых блоков с текущими позициями
func (r *Resolver) livingBlocks() []blockRef {
	var out []blockRef
	for _, id := range r.reg.BoundBodies() {
		bind, _ := r.reg.Binding(id)
		if !bind.Primary {
			continue
		}
		blk := bind.Block()
		if blk == nil || !blk.Alive() {
			continue
		}
		st, ok := r.world.Body(id)
		if !ok {
			continue
		}
		out = append(out, blockRef{bind: bind, blk: blk, body: id, pos: st.Position})
	}
	return out
}

// pendingExplosives мёртвые взрывчатки, ещё не сдетонировавшие и имеющие тело
func (r *Resolver) pendingExplosives() []blockRef {
	var out []blockRef
	for _, id := range r.reg.BoundBodies() {
		bind, _ := r.reg.Binding(id)
		if !bind.Primary {
			continue
		}
		blk := bind.Block()
		if blk == nil || blk.Alive() || blk.Type != block.Explosive || blk.Detonated {
			continue
		}
		st, ok := r.world.Body(id)
		if !ok {
			continue
		}
		out = append(out, blockRef{bind: bind, blk: blk, body: id, pos: st.Position})
	}
	return out
}

// detonatePending подрывает мёртвые взрывчатки, пока цепочка не затихнет.
// Каждый блок взрывается не более одного раза за жизнь.
func (r *Resolver) detonatePending() {
	for {
		queue := r.pendingExplosives()
		if len(queue) == 0 {
			return
		}
		for _, ex := range queue {
			r.detonate(ex)
		}
	}
}

func (r *Resolver) detonate(ex blockRef) {
	if ex.blk.Detonated {
		return
	}
	ex.blk.Detonated = true
	r.effects.Add(Effect{Kind: EffectExplosion, Position: ex.pos, Radius: r.radius, Team: ex.bind.Team})
	r.logger.Debug("Взрыв блока %d контрапции %s", ex.blk.ID, ex.bind.Contraption.ID)

	inner := r.radius / 2
	for _, target := range r.livingBlocks() {
		if target.blk == ex.blk {
			continue
		}
		dist := target.pos.DistanceTo(ex.pos)
		if dist > r.radius {
			continue
		}
		dmg, knock := r.cfg.BlastOuter, r.cfg.BlastKnockOuter
		if dist <= inner {
			dmg, knock = r.cfg.BlastInner, r.cfg.BlastKnockInner
		}
		dmg = target.blk.Spec().ApplyResistance(dmg, block.Blast)
		r.damage(target.bind, target.blk, dmg)

		if knock > 0 && dist > 0 {
			r.forces.Add(target.body, target.pos.Sub(ex.pos).Normalized().Mul(knock))
		}
		r.forces.Wake(target.body)
	}
}

// CleanupReport итог уборки за тик
type CleanupReport struct {
	RemovedBodies int
	RemovedBlocks int
	Lost          []*contraption.Contraption
}

// Cleanup удаляет тела мёртвых блоков и связи, касающиеся их, затем пересчитывает
// связность каждой контрапции, потерявшей блок. Повторяется, пока отвалившиеся
// блоки (и подорванные ими взрывчатки) не перестанут порождать новые потери.
func (r *Resolver) Cleanup() CleanupReport {
	var report CleanupReport
	touched := make(map[*contraption.Contraption]struct{})

	for {
		r.detonatePending()

		dead := r.deadBodies()
		if len(dead) == 0 && len(r.lost) == 0 {
			break
		}

		destroyed := make(map[*contraption.Block]struct{})
		for _, id := range dead {
			bind, _ := r.reg.Binding(id)
			if blk := bind.Block(); blk != nil {
				if _, seen := destroyed[blk]; !seen {
					destroyed[blk] = struct{}{}
					if st, ok := r.world.Body(id); ok {
						r.effects.Add(Effect{Kind: EffectBlockDestroyed, Position: st.Position, Team: bind.Team})
					}
				}
			}
			r.lost[bind.Contraption] = struct{}{}
			r.removeBody(id)
		}
		report.RemovedBodies += len(dead)
		report.RemovedBlocks += len(destroyed)

		lost := r.lost
		r.lost = make(map[*contraption.Contraption]struct{})
		for _, c := range orderContraptions(lost) {
			touched[c] = struct{}{}
			c.Connectivity()
		}
	}

	report.Lost = orderContraptions(touched)
	return report
}

func orderContraptions(set map[*contraption.Contraption]struct{}) []*contraption.Contraption {
	out := make([]*contraption.Contraption, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Resolver) deadBodies() []physics.BodyID {
	var out []physics.BodyID
	for _, id := range r.reg.BoundBodies() {
		bind, _ := r.reg.Binding(id)
		blk := bind.Block()
		if blk == nil || !blk.Alive() {
			out = append(out, id)
		}
	}
	return out
}

func (r *Resolver) removeBody(id physics.BodyID) {
	for _, cid := range r.reg.ConstraintsOf(id) {
		r.world.RemoveConstraint(cid)
		r.reg.DropConstraint(cid)
	}
	r.world.RemoveBody(id)
	r.reg.Unbind(id)
	for key := range r.lastHit {
		if key.a == id || key.b == id {
			delete(r.lastHit, key)
		}
	}
}

// Reset сбрасывает намерения и память контактов
func (r *Resolver) Reset() {
	r.hits = nil
	r.baseHits = nil
	r.lastHit = make(map[pairKey]time.Duration)
	r.lost = make(map[*contraption.Contraption]struct{})
}
