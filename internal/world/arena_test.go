package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/physics/memworld"
)

func TestArena_FlatWhenNoAmplitude(t *testing.T) {
	cfg := config.Default().Arena
	cfg.Amplitude = 0

	a := NewArena(cfg)
	for _, p := range a.Surface {
		assert.Equal(t, a.GroundY, p.Y)
	}
	assert.Equal(t, a.GroundY, a.SurfaceY(1234))
}

func TestArena_BasesAndSpawns(t *testing.T) {
	cfg := config.Default().Arena
	a := NewArena(cfg)

	require.NotNil(t, a.Bases[0])
	require.NotNil(t, a.Bases[1])
	assert.Less(t, a.Bases[0].Rect.X, a.Bases[1].Rect.X)
	assert.Less(t, a.Spawns[0].X, a.Spawns[1].X)
	assert.Equal(t, 1, a.Facings[0])
	assert.Equal(t, -1, a.Facings[1])
	assert.Equal(t, cfg.BaseHP, a.Bases[1].HP)
}

func TestArena_Install(t *testing.T) {
	a := NewArena(config.Default().Arena)
	w := memworld.New()
	a.Install(w)

	assert.Len(t, w.Bodies(), 3, "рельеф и две базы")
	b, ok := a.BaseByBody(a.Bases[1].BodyID)
	require.True(t, ok)
	assert.Equal(t, 1, b.Team)
	assert.False(t, a.IsTerrain(b.BodyID))
}

func TestBase_Hit(t *testing.T) {
	b := &Base{HP: 2, MaxHP: 2}
	assert.False(t, b.Hit())
	assert.True(t, b.Hit(), "HP достигло нуля")
	assert.False(t, b.Hit(), "павшая база не уходит в минус")
	assert.Equal(t, 0, b.HP)
}
