package combat

import (
	"sort"

	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/vec"
)

// Forces накопитель импульсов. Применяется один раз в начале следующего тика,
// одновременные импульсы на одно тело суммируются.
type Forces struct {
	impulses map[physics.BodyID]vec.Vec2Float
	wake     map[physics.BodyID]struct{}
}

// NewForces создаёт пустой накопитель
func NewForces() *Forces {
	return &Forces{
		impulses: make(map[physics.BodyID]vec.Vec2Float),
		wake:     make(map[physics.BodyID]struct{}),
	}
}

// Add добавляет импульс телу
func (f *Forces) Add(id physics.BodyID, impulse vec.Vec2Float) {
	f.impulses[id] = f.impulses[id].Add(impulse)
}

// Wake помечает тело для пробуждения
func (f *Forces) Wake(id physics.BodyID) {
	f.wake[id] = struct{}{}
}

// Pending суммарный импульс тела
func (f *Forces) Pending(id physics.BodyID) vec.Vec2Float {
	return f.impulses[id]
}

// Len количество тел с импульсом
func (f *Forces) Len() int {
	return len(f.impulses)
}

// Flush применяет накопленное к миру и очищает накопитель.
// Тела, удалённые из мира, пропускаются.
func (f *Forces) Flush(w physics.World) {
	ids := make([]physics.BodyID, 0, len(f.wake))
	for id := range f.wake {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if _, ok := w.Body(id); ok {
			w.Wake(id)
		}
	}

	for id, imp := range f.impulses {
		if _, ok := w.Body(id); ok {
			w.ApplyImpulse(id, imp)
		}
	}

	f.impulses = make(map[physics.BodyID]vec.Vec2Float)
	f.wake = make(map[physics.BodyID]struct{})
}

// Reset очищает накопитель без применения
func (f *Forces) Reset() {
	f.impulses = make(map[physics.BodyID]vec.Vec2Float)
	f.wake = make(map[physics.BodyID]struct{})
}
