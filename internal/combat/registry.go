package combat

import (
	"sort"

	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/physics"
)

// Binding связь тела мира с блоком контрапции
type Binding struct {
	Contraption *contraption.Contraption
	BlockID     contraption.BlockID
	Team        int
	OwnerID     string
	Facing      int
	Primary     bool
	Drive       bool
}

// Block возвращает связанный блок
func (b *Binding) Block() *contraption.Block {
	blk, _ := b.Contraption.Block(b.BlockID)
	return blk
}

type blockKey struct {
	contraption string
	block       contraption.BlockID
}

// Registry индекс тело -> блок -> контрапция в пределах одного матча
type Registry struct {
	bodies       map[physics.BodyID]*Binding
	byBlock      map[blockKey][]physics.BodyID
	constraints  map[physics.ConstraintID][2]physics.BodyID
	byBody       map[physics.BodyID]map[physics.ConstraintID]struct{}
	contraptions []*contraption.Contraption
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		bodies:      make(map[physics.BodyID]*Binding),
		byBlock:     make(map[blockKey][]physics.BodyID),
		constraints: make(map[physics.ConstraintID][2]physics.BodyID),
		byBody:      make(map[physics.BodyID]map[physics.ConstraintID]struct{}),
	}
}

// AddContraption регистрирует контрапцию матча
func (r *Registry) AddContraption(c *contraption.Contraption) {
	for _, existing := range r.contraptions {
		if existing == c {
			return
		}
	}
	r.contraptions = append(r.contraptions, c)
}

// Contraptions возвращает контрапции в порядке появления
func (r *Registry) Contraptions() []*contraption.Contraption {
	return r.contraptions
}

// Contraption ищет контрапцию по идентификатору
func (r *Registry) Contraption(id string) (*contraption.Contraption, bool) {
	for _, c := range r.contraptions {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Bind привязывает тело к блоку
func (r *Registry) Bind(id physics.BodyID, b *Binding) {
	r.bodies[id] = b
	k := blockKey{b.Contraption.ID, b.BlockID}
	r.byBlock[k] = append(r.byBlock[k], id)
}

// Unbind снимает привязку тела
func (r *Registry) Unbind(id physics.BodyID) {
	b, ok := r.bodies[id]
	if !ok {
		return
	}
	delete(r.bodies, id)
	k := blockKey{b.Contraption.ID, b.BlockID}
	ids := r.byBlock[k]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byBlock, k)
	} else {
		r.byBlock[k] = ids
	}
}

// Binding возвращает привязку тела
func (r *Registry) Binding(id physics.BodyID) (*Binding, bool) {
	b, ok := r.bodies[id]
	return b, ok
}

// BodiesOf возвращает тела блока
func (r *Registry) BodiesOf(c *contraption.Contraption, blockID contraption.BlockID) []physics.BodyID {
	return r.byBlock[blockKey{c.ID, blockID}]
}

// PrimaryBody возвращает основное тело блока
func (r *Registry) PrimaryBody(c *contraption.Contraption, blockID contraption.BlockID) (physics.BodyID, bool) {
	ids := r.BodiesOf(c, blockID)
	for _, id := range ids {
		if r.bodies[id].Primary {
			return id, true
		}
	}
	if len(ids) > 0 {
		return ids[0], true
	}
	return 0, false
}

// BoundBodies возвращает все привязанные тела по возрастанию
func (r *Registry) BoundBodies() []physics.BodyID {
	ids := make([]physics.BodyID, 0, len(r.bodies))
	for id := range r.bodies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddConstraint индексирует связь между телами
func (r *Registry) AddConstraint(id physics.ConstraintID, a, b physics.BodyID) {
	r.constraints[id] = [2]physics.BodyID{a, b}
	for _, body := range []physics.BodyID{a, b} {
		if r.byBody[body] == nil {
			r.byBody[body] = make(map[physics.ConstraintID]struct{})
		}
		r.byBody[body][id] = struct{}{}
	}
}

// ConstraintsOf возвращает связи, касающиеся тела
func (r *Registry) ConstraintsOf(body physics.BodyID) []physics.ConstraintID {
	out := make([]physics.ConstraintID, 0, len(r.byBody[body]))
	for id := range r.byBody[body] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DropConstraint удаляет связь из индекса
func (r *Registry) DropConstraint(id physics.ConstraintID) {
	pair, ok := r.constraints[id]
	if !ok {
		return
	}
	delete(r.constraints, id)
	for _, body := range pair {
		if set := r.byBody[body]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byBody, body)
			}
		}
	}
}

// ConstraintCount количество связей
func (r *Registry) ConstraintCount() int {
	return len(r.constraints)
}

// Reset очищает реестр при завершении матча
func (r *Registry) Reset() {
	r.bodies = make(map[physics.BodyID]*Binding)
	r.byBlock = make(map[blockKey][]physics.BodyID)
	r.constraints = make(map[physics.ConstraintID][2]physics.BodyID)
	r.byBody = make(map[physics.BodyID]map[physics.ConstraintID]struct{})
	r.contraptions = nil
}
