package contraption

import (
	"math"

	"github.com/annel0/contraption-arena/internal/block"
	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/vec"
)

// PlannedBody тело плана с привязкой к блоку
type PlannedBody struct {
	BlockID BlockID
	Def     physics.BodyDef
	Primary bool
	Drive   bool
}

// PlannedConstraint связь плана; BodyA и BodyB индексы в Plan.Bodies
type PlannedConstraint struct {
	BodyA, BodyB int
	Def          physics.ConstraintDef
	Internal     bool
}

// Plan тела и связи контрапции, готовые к созданию в мире
type Plan struct {
	Bodies      []PlannedBody
	Constraints []PlannedConstraint
}

// углы грани в раскладке сетки относительно центра ячейки
func faceCorners(f block.Face, h float64) [2]vec.Vec2Float {
	switch f {
	case block.Top:
		return [2]vec.Vec2Float{{X: -h, Y: -h}, {X: h, Y: -h}}
	case block.Right:
		return [2]vec.Vec2Float{{X: h, Y: -h}, {X: h, Y: h}}
	case block.Bottom:
		return [2]vec.Vec2Float{{X: -h, Y: h}, {X: h, Y: h}}
	default:
		return [2]vec.Vec2Float{{X: -h, Y: -h}, {X: -h, Y: h}}
	}
}

// CellCenter мировой центр ячейки блока при сборке в origin
func (c *Contraption) CellCenter(b *Block, origin vec.Vec2Float, grid float64) vec.Vec2Float {
	return origin.Add(vec.Vec2Float{
		X: float64(b.GridX) * grid * float64(c.Facing),
		Y: float64(b.GridY) * grid,
	})
}

// BlockAngle угол тела блока: поворот сетки с учётом отражения
func (c *Contraption) BlockAngle(b *Block) float64 {
	return float64(b.RotationSteps) * math.Pi / 2 * float64(c.Facing)
}

// BuildPhysics восстанавливает контрапцию и строит план тел и связей.
// Не трогает физический мир.
func (c *Contraption) BuildPhysics(originX, originY, grid float64) Plan {
	c.Revive()
	c.Connectivity()

	origin := vec.Vec2Float{X: originX, Y: originY}
	var plan Plan
	primary := make(map[BlockID]int)

	for _, b := range c.Living() {
		recipe := b.Spec().Build(block.Pose{
			Position: c.CellCenter(b, origin, grid),
			Angle:    c.BlockAngle(b),
			Facing:   c.Facing,
			Grid:     grid,
		})

		base := len(plan.Bodies)
		for i, def := range recipe.Bodies {
			plan.Bodies = append(plan.Bodies, PlannedBody{
				BlockID: b.ID,
				Def:     def,
				Primary: i == recipe.Primary,
				Drive:   i == recipe.Drive,
			})
		}
		for _, ic := range recipe.Internal {
			plan.Constraints = append(plan.Constraints, PlannedConstraint{
				BodyA:    base + ic.A,
				BodyB:    base + ic.B,
				Def:      ic.Def,
				Internal: true,
			})
		}
		primary[b.ID] = base + recipe.Primary
	}

	half := grid / 2
	for _, b := range c.Living() {
		ia := primary[b.ID]
		center := c.CellCenter(b, origin, grid)
		for _, f := range c.Bonds(b) {
			n := c.Blocks[b.Cell().Neighbors()[f]]
			ib := primary[n.ID]
			bodyA, bodyB := plan.Bodies[ia].Def, plan.Bodies[ib].Def
			for _, corner := range faceCorners(f, half) {
				p := center.Add(corner.MirrorX(c.Facing))
				plan.Constraints = append(plan.Constraints, PlannedConstraint{
					BodyA: ia,
					BodyB: ib,
					Def: physics.ConstraintDef{
						Kind:       physics.ConstraintSpring,
						AnchorA:    vec.ToLocal(p, bodyA.Position, bodyA.Angle),
						AnchorB:    vec.ToLocal(p, bodyB.Position, bodyB.Angle),
						RestLength: 0,
						Stiffness:  b.Stiffness,
						Damping:    b.Damping,
					},
				})
			}
		}
	}

	return plan
}
