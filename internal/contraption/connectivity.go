package contraption

import (
	"github.com/annel0/contraption-arena/internal/block"
)

// bonded проверяет, что a и соседний b по грани f обращены друг к другу гранями крепления
func bonded(a, b *Block, f block.Face) bool {
	return a.Faces().Has(f) && b.Faces().Has(f.Opposite())
}

// Connectivity обходит граф креплений в ширину от ядра. Недостижимые блоки
// теряют всё здоровье; без живого ядра обнуляется вся контрапция.
// Возвращает идентификаторы блоков, обнулённых этим вызовом.
func (c *Contraption) Connectivity() []BlockID {
	core := c.Core()
	if core == nil || !core.Alive() {
		return c.Zero()
	}

	reached := map[BlockID]bool{core.ID: true}
	queue := []*Block{core}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i, cell := range cur.Cell().Neighbors() {
			next, ok := c.Blocks[cell]
			if !ok || reached[next.ID] || !next.Alive() {
				continue
			}
			if !bonded(cur, next, block.Face(i)) {
				continue
			}
			reached[next.ID] = true
			queue = append(queue, next)
		}
	}

	var killed []BlockID
	for _, b := range c.Ordered() {
		if b.Alive() && !reached[b.ID] {
			b.Health = 0
			killed = append(killed, b.ID)
		}
	}
	return killed
}

// Bonds возвращает пары (блок, грань) для каждой грани, скреплённой с живым соседом
func (c *Contraption) Bonds(b *Block) []block.Face {
	var out []block.Face
	if !b.Alive() {
		return out
	}
	for i, cell := range b.Cell().Neighbors() {
		n, ok := c.Blocks[cell]
		if !ok || !n.Alive() {
			continue
		}
		if bonded(b, n, block.Face(i)) {
			out = append(out, block.Face(i))
		}
	}
	return out
}
