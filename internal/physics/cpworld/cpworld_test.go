package cpworld

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/vec"
)

func TestCPWorld_BodyLifecycle(t *testing.T) {
	w := New(Options{})

	id := w.AddBody(physics.BodyDef{
		Position: vec.Vec2Float{X: 10, Y: 20},
		Mass:     1,
		Shapes:   []physics.ShapeDef{{Kind: physics.ShapeBox, Width: 40, Height: 40}},
		Category: physics.CategoryBlock,
	})

	st, ok := w.Body(id)
	require.True(t, ok, "тело должно существовать")
	assert.InDelta(t, 10, st.Position.X, 1e-9)
	assert.InDelta(t, 20, st.Position.Y, 1e-9)

	w.RemoveBody(id)
	_, ok = w.Body(id)
	assert.False(t, ok, "тело должно быть удалено")
	assert.Empty(t, w.Bodies())
}

func TestCPWorld_ImpulseMovesBody(t *testing.T) {
	w := New(Options{})
	id := w.AddBody(physics.BodyDef{
		Mass:     2,
		Shapes:   []physics.ShapeDef{{Kind: physics.ShapeCircle, Radius: 10}},
		Category: physics.CategoryBlock,
	})

	w.ApplyImpulse(id, vec.Vec2Float{X: 20})
	w.Step(1.0 / 60)

	st, _ := w.Body(id)
	assert.InDelta(t, 10, st.Velocity.X, 1e-6, "импульс 20 при массе 2 даёт скорость 10")
	assert.Greater(t, st.Position.X, 0.0)
}

func TestCPWorld_SensorReportsContactWithoutResponse(t *testing.T) {
	w := New(Options{})
	var phases []physics.ContactPhase
	w.SetContactHandler(func(c physics.Contact) { phases = append(phases, c.Phase) })

	w.AddBody(physics.BodyDef{
		Static:   true,
		Sensor:   true,
		Shapes:   []physics.ShapeDef{{Kind: physics.ShapeBox, Width: 200, Height: 200}},
		Category: physics.CategoryBase,
	})
	id := w.AddBody(physics.BodyDef{
		Position: vec.Vec2Float{X: -20},
		Mass:     1,
		Shapes:   []physics.ShapeDef{{Kind: physics.ShapeBox, Width: 40, Height: 40}},
		Category: physics.CategoryBlock,
	})
	w.ApplyImpulse(id, vec.Vec2Float{X: 30})

	for i := 0; i < 10; i++ {
		w.Step(1.0 / 60)
	}

	require.NotEmpty(t, phases, "касание зоны базы должно дойти до обработчика")
	assert.Equal(t, physics.ContactBegin, phases[0])
	st, _ := w.Body(id)
	assert.InDelta(t, 30, st.Velocity.X, 1e-6, "сенсор не толкает тело")
	assert.InDelta(t, 0, st.Velocity.Y, 1e-6)
}

func TestCCWReversesMirroredTriangle(t *testing.T) {
	tri := []vec.Vec2Float{{X: 10, Y: 10}, {X: -10, Y: 0}, {X: 10, Y: -10}}
	out := ccw(tri)
	area := 0.0
	for i := range out {
		j := (i + 1) % len(out)
		area += out[i].X*out[j].Y - out[j].X*out[i].Y
	}
	assert.Greater(t, area, 0.0)
}
