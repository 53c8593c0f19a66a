package combat

import (
	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/physics"
)

// Spawned тела и связи, созданные для одной контрапции
type Spawned struct {
	Bodies      []physics.BodyID
	Constraints []physics.ConstraintID
	Defs        map[physics.BodyID]physics.BodyDef
}

// Instantiate создаёт тела и связи плана в мире и привязывает их к блокам.
// Группа столкновений общая для всей контрапции: собственные блоки не сталкиваются.
func Instantiate(w physics.World, reg *Registry, c *contraption.Contraption, plan contraption.Plan, group uint64) Spawned {
	reg.AddContraption(c)

	out := Spawned{Defs: make(map[physics.BodyID]physics.BodyDef, len(plan.Bodies))}
	ids := make([]physics.BodyID, len(plan.Bodies))
	for i, pb := range plan.Bodies {
		def := pb.Def
		def.Group = group
		id := w.AddBody(def)
		ids[i] = id
		reg.Bind(id, &Binding{
			Contraption: c,
			BlockID:     pb.BlockID,
			Team:        c.Team,
			OwnerID:     c.OwnerID,
			Facing:      c.Facing,
			Primary:     pb.Primary,
			Drive:       pb.Drive,
		})
		out.Bodies = append(out.Bodies, id)
		out.Defs[id] = def
	}

	for _, pc := range plan.Constraints {
		def := pc.Def
		def.A = ids[pc.BodyA]
		def.B = ids[pc.BodyB]
		cid := w.AddConstraint(def)
		if cid == 0 {
			continue
		}
		reg.AddConstraint(cid, def.A, def.B)
		out.Constraints = append(out.Constraints, cid)
	}
	return out
}
