// Package contraption содержит модель контрапции из блоков сетки,
// проверку связности от ядра и сборку физического плана.
package contraption

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/annel0/contraption-arena/internal/block"
	"github.com/annel0/contraption-arena/internal/vec"
)

var (
	// ErrUnknownBlockType тип блока вне каталога
	ErrUnknownBlockType = block.ErrUnknownType
	// ErrCellOccupied в ячейке уже есть блок
	ErrCellOccupied = errors.New("grid cell occupied")
	// ErrDuplicateCore второе ядро в контрапции
	ErrDuplicateCore = errors.New("contraption already has a core")
	// ErrBadRotation поворот вне 0..3
	ErrBadRotation = errors.New("rotation steps out of range")
)

// BlockID идентификатор блока внутри контрапции
type BlockID uint32

// Block атомарная единица контрапции
type Block struct {
	ID            BlockID
	Type          block.Type
	GridX, GridY  int
	Health        float64
	MaxHealth     float64
	Stiffness     float64
	Damping       float64
	Damage        float64
	Knockback     float64
	RotationSteps int
	Fragile       bool
	Detonated     bool
}

// Alive проверяет, жив ли блок
func (b *Block) Alive() bool {
	return b.Health > 0
}

// Cell возвращает ячейку сетки
func (b *Block) Cell() vec.Vec2 {
	return vec.Vec2{X: b.GridX, Y: b.GridY}
}

// Spec возвращает запись каталога
func (b *Block) Spec() *block.Spec {
	return block.MustGet(b.Type)
}

// Faces возвращает грани крепления с учётом поворота
func (b *Block) Faces() block.FaceSet {
	return b.Spec().AttachmentFaces(b.RotationSteps)
}

// HealthPercent доля здоровья в [0, 1]
func (b *Block) HealthPercent() float64 {
	if b.MaxHealth <= 0 || b.Health <= 0 {
		return 0
	}
	if b.Health >= b.MaxHealth {
		return 1
	}
	return b.Health / b.MaxHealth
}

// Contraption собранная игроком машина
type Contraption struct {
	ID      string
	Name    string
	Team    int
	OwnerID string
	Facing  int
	Bot     bool

	Blocks map[vec.Vec2]*Block

	byID    map[BlockID]*Block
	coreID  BlockID
	hasCore bool
	nextID  BlockID
}

// New создаёт пустую контрапцию
func New(name string, team, facing int) *Contraption {
	if facing >= 0 {
		facing = 1
	} else {
		facing = -1
	}
	return &Contraption{
		ID:     uuid.NewString(),
		Name:   name,
		Team:   team,
		Facing: facing,
		Blocks: make(map[vec.Vec2]*Block),
		byID:   make(map[BlockID]*Block),
		nextID: 1,
	}
}

// Place ставит блок типа typ в ячейку (gx, gy) с поворотом rot
func (c *Contraption) Place(typ block.Type, gx, gy, rot int) (*Block, error) {
	spec, ok := block.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownBlockType, typ)
	}
	if rot < 0 || rot > 3 {
		return nil, fmt.Errorf("%w: %d", ErrBadRotation, rot)
	}
	cell := vec.Vec2{X: gx, Y: gy}
	if _, taken := c.Blocks[cell]; taken {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrCellOccupied, gx, gy)
	}
	if typ == block.Core && c.hasCore {
		return nil, ErrDuplicateCore
	}

	st := spec.Stats
	b := &Block{
		ID:            c.nextID,
		Type:          typ,
		GridX:         gx,
		GridY:         gy,
		Health:        st.MaxHealth,
		MaxHealth:     st.MaxHealth,
		Stiffness:     st.Stiffness,
		Damping:       st.Damping,
		Damage:        st.Damage,
		Knockback:     st.Knockback,
		RotationSteps: rot,
		Fragile:       st.Fragile,
	}
	c.nextID++
	c.Blocks[cell] = b
	c.byID[b.ID] = b
	if typ == block.Core {
		c.coreID = b.ID
		c.hasCore = true
	}
	return b, nil
}

// Remove убирает блок из ячейки. Используется редактором.
func (c *Contraption) Remove(gx, gy int) bool {
	cell := vec.Vec2{X: gx, Y: gy}
	b, ok := c.Blocks[cell]
	if !ok {
		return false
	}
	delete(c.Blocks, cell)
	delete(c.byID, b.ID)
	if b.Type == block.Core {
		c.hasCore = false
		c.coreID = 0
	}
	return true
}

// Block возвращает блок по идентификатору
func (c *Contraption) Block(id BlockID) (*Block, bool) {
	b, ok := c.byID[id]
	return b, ok
}

// Core возвращает ядро или nil
func (c *Contraption) Core() *Block {
	if !c.hasCore {
		return nil
	}
	return c.byID[c.coreID]
}

// Alive проверяет, живо ли ядро
func (c *Contraption) Alive() bool {
	core := c.Core()
	return core != nil && core.Alive()
}

// Ordered возвращает блоки по строкам сетки, затем по столбцам
func (c *Contraption) Ordered() []*Block {
	out := make([]*Block, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GridY != out[j].GridY {
			return out[i].GridY < out[j].GridY
		}
		return out[i].GridX < out[j].GridX
	})
	return out
}

// Living возвращает живые блоки
func (c *Contraption) Living() []*Block {
	var out []*Block
	for _, b := range c.Ordered() {
		if b.Alive() {
			out = append(out, b)
		}
	}
	return out
}

// Revive восстанавливает здоровье всех блоков
func (c *Contraption) Revive() {
	for _, b := range c.Blocks {
		b.Health = b.MaxHealth
		b.Detonated = false
	}
}

// Zero обнуляет здоровье всех блоков и возвращает тех, кто был жив
func (c *Contraption) Zero() []BlockID {
	var killed []BlockID
	for _, b := range c.Ordered() {
		if b.Alive() {
			killed = append(killed, b.ID)
		}
		b.Health = 0
	}
	return killed
}
