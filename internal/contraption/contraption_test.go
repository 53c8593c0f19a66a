package contraption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/contraption-arena/internal/block"
	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/vec"
)

func mustPlace(t *testing.T, c *Contraption, typ block.Type, x, y, rot int) *Block {
	t.Helper()
	b, err := c.Place(typ, x, y, rot)
	require.NoError(t, err)
	return b
}

func TestPlace_Errors(t *testing.T) {
	c := New("test", 0, 1)
	mustPlace(t, c, block.Core, 0, 0, 0)

	_, err := c.Place(block.Plain, 0, 0, 0)
	assert.ErrorIs(t, err, ErrCellOccupied)

	_, err = c.Place(block.Core, 1, 0, 0)
	assert.ErrorIs(t, err, ErrDuplicateCore)

	_, err = c.Place(block.Plain, 1, 0, 4)
	assert.ErrorIs(t, err, ErrBadRotation)

	_, err = c.Place(block.Type(99), 2, 0, 0)
	assert.ErrorIs(t, err, ErrUnknownBlockType)
}

func TestConnectivity_DisconnectedFallsOff(t *testing.T) {
	c := New("test", 0, 1)
	mustPlace(t, c, block.Core, 0, 0, 0)
	mid := mustPlace(t, c, block.Plain, 1, 0, 0)
	tail := mustPlace(t, c, block.Plain, 2, 0, 0)

	assert.Empty(t, c.Connectivity(), "всё связано")

	mid.Health = 0
	killed := c.Connectivity()
	assert.Equal(t, []BlockID{tail.ID}, killed)
	assert.Zero(t, tail.Health)
}

func TestConnectivity_RequiresMutualFaces(t *testing.T) {
	c := New("test", 0, 1)
	mustPlace(t, c, block.Core, 0, 0, 0)
	// шип крепится только левой гранью; справа от ядра он смотрит на ядро
	spike := mustPlace(t, c, block.Spike, 1, 0, 0)
	// слева от ядра левая грань шипа смотрит наружу
	wrong := mustPlace(t, c, block.Spike, -1, 0, 0)

	c.Connectivity()
	assert.True(t, spike.Alive())
	assert.False(t, wrong.Alive())
}

func TestConnectivity_RotatedWheel(t *testing.T) {
	c := New("test", 0, 1)
	mustPlace(t, c, block.Core, 0, 0, 0)
	below := mustPlace(t, c, block.Wheel, 0, 1, 0)
	// колесо с поворотом 1 крепится правой гранью, слева от него ничего нет
	side := mustPlace(t, c, block.Wheel, 1, 1, 1)

	c.Connectivity()
	assert.True(t, below.Alive(), "верхняя грань колеса смотрит на ядро")
	assert.False(t, side.Alive())
}

func TestConnectivity_NoCoreCollapses(t *testing.T) {
	c := New("test", 0, 1)
	a := mustPlace(t, c, block.Plain, 0, 0, 0)
	b := mustPlace(t, c, block.Plain, 1, 0, 0)

	killed := c.Connectivity()
	assert.Len(t, killed, 2)
	assert.False(t, a.Alive())
	assert.False(t, b.Alive())
}

func TestConnectivity_DeadCoreCollapses(t *testing.T) {
	c := New("test", 0, 1)
	core := mustPlace(t, c, block.Core, 0, 0, 0)
	p := mustPlace(t, c, block.Plain, 1, 0, 0)
	core.Health = 0

	c.Connectivity()
	assert.False(t, p.Alive())
}

// после сборки обход от ядра достигает каждого живого блока
func TestBuildPhysics_RevivesAndConnects(t *testing.T) {
	c := New("test", 0, 1)
	mustPlace(t, c, block.Core, 0, 0, 0)
	p1 := mustPlace(t, c, block.Plain, 1, 0, 0)
	p2 := mustPlace(t, c, block.Armor, 1, 1, 0)
	w := mustPlace(t, c, block.Wheel, 0, 1, 0)
	p1.Health = 0
	p2.Detonated = true

	plan := c.BuildPhysics(0, 0, 40)

	for _, b := range c.Ordered() {
		assert.Equal(t, b.MaxHealth, b.Health, "блок %d восстановлен", b.ID)
		assert.False(t, b.Detonated)
	}
	assert.Empty(t, c.Connectivity())

	// 4 блока, колесо даёт два тела
	assert.Len(t, plan.Bodies, 5)

	var internal, springs int
	for _, pc := range plan.Constraints {
		if pc.Internal {
			internal++
		} else {
			springs++
			assert.Equal(t, physics.ConstraintSpring, pc.Def.Kind)
		}
	}
	assert.Equal(t, 1, internal, "шарнир колеса")
	// связи: ядро-plain, plain-armor, ядро-колесо, armor-колесо(колесо только сверху, нет)
	// каждая связь: 2 блока по 2 пружины
	assert.Equal(t, 3*4, springs)

	var wheelBodies int
	for _, pb := range plan.Bodies {
		if pb.BlockID == w.ID {
			wheelBodies++
		}
	}
	assert.Equal(t, 2, wheelBodies)
}

func TestBuildPhysics_CornerAnchorsMeet(t *testing.T) {
	c := New("test", 0, 1)
	mustPlace(t, c, block.Core, 0, 0, 0)
	mustPlace(t, c, block.Plain, 1, 0, 1)

	plan := c.BuildPhysics(100, 200, 40)
	require.Len(t, plan.Bodies, 2)

	for _, pc := range plan.Constraints {
		a := plan.Bodies[pc.BodyA].Def
		b := plan.Bodies[pc.BodyB].Def
		wa := vec.ToWorld(pc.Def.AnchorA, a.Position, a.Angle)
		wb := vec.ToWorld(pc.Def.AnchorB, b.Position, b.Angle)
		assert.InDelta(t, wa.X, wb.X, 1e-9)
		assert.InDelta(t, wa.Y, wb.Y, 1e-9)
		assert.InDelta(t, 120, wa.X, 1e-9, "углы лежат на общей грани")
	}
}

func TestBuildPhysics_Mirroring(t *testing.T) {
	right := New("r", 0, 1)
	mustPlace(t, right, block.Core, 0, 0, 0)
	mustPlace(t, right, block.Plain, 1, 0, 1)

	left := New("l", 1, -1)
	mustPlace(t, left, block.Core, 0, 0, 0)
	mustPlace(t, left, block.Plain, 1, 0, 1)

	pr := right.BuildPhysics(0, 0, 40)
	pl := left.BuildPhysics(0, 0, 40)

	require.Len(t, pr.Bodies, 2)
	require.Len(t, pl.Bodies, 2)
	assert.InDelta(t, 40, pr.Bodies[1].Def.Position.X, 1e-9)
	assert.InDelta(t, -40, pl.Bodies[1].Def.Position.X, 1e-9, "отражение по X")
	assert.InDelta(t, -pr.Bodies[1].Def.Angle, pl.Bodies[1].Def.Angle, 1e-9, "нечётный поворот меняет знак")
	assert.Len(t, pl.Constraints, len(pr.Constraints), "связность не зависит от отражения")
}

func TestSaveLoad(t *testing.T) {
	c := New("tank", 1, -1)
	c.Bot = true
	mustPlace(t, c, block.Core, 0, 0, 0)
	mustPlace(t, c, block.Spike, 1, 0, 2)
	mustPlace(t, c, block.Wheel, 0, 1, 0)

	data, err := c.Save()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, c.ID, loaded.ID)
	assert.Equal(t, "tank", loaded.Name)
	assert.Equal(t, 1, loaded.Team)
	assert.Equal(t, -1, loaded.Facing)
	assert.True(t, loaded.Bot)
	require.Len(t, loaded.Blocks, 3)
	assert.Equal(t, block.Spike, loaded.Blocks[vec.Vec2{X: 1, Y: 0}].Type)
	assert.Equal(t, 2, loaded.Blocks[vec.Vec2{X: 1, Y: 0}].RotationSteps)
	assert.NotNil(t, loaded.Core())
}

func TestLoad_UnknownTypeNamesBlock(t *testing.T) {
	data := []byte(`{"version":1,"name":"x","facing":1,"blocks":[{"type":"core","x":0,"y":0},{"type":"laser","x":3,"y":2}]}`)

	_, err := Load(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownBlockType)
	assert.Contains(t, err.Error(), "(3,2)")
}
