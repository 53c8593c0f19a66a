package vec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRotateQuarterTurn(t *testing.T) {
	v := Vec2Float{X: 1, Y: 0}.Rotate(math.Pi / 2)
	assert.InDelta(t, 0, v.X, 1e-9)
	assert.InDelta(t, 1, v.Y, 1e-9)
}

func TestLocalWorldRoundTrip(t *testing.T) {
	pos := Vec2Float{X: 10, Y: -4}
	angle := 0.7
	p := Vec2Float{X: 13, Y: 2}

	back := ToWorld(ToLocal(p, pos, angle), pos, angle)
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
}

func TestLerpAngleShortestArc(t *testing.T) {
	// Из 170° в -170° идём через 180°, а не через 0°
	a := 170 * math.Pi / 180
	b := -170 * math.Pi / 180
	mid := LerpAngle(a, b, 0.5)
	assert.InDelta(t, math.Pi, math.Abs(NormalizeAngle(mid)), 1e-9)
}

func TestMirrorX(t *testing.T) {
	v := Vec2Float{X: 3, Y: 2}
	assert.Equal(t, Vec2Float{X: -3, Y: 2}, v.MirrorX(-1))
	assert.Equal(t, v, v.MirrorX(1))
}
