// Package world описывает арену матча: рельеф, базы сторон и точки появления.
package world

import (
	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/physics"
	"github.com/annel0/contraption-arena/internal/util"
	"github.com/annel0/contraption-arena/internal/vec"
)

// Rect прямоугольник в мировых координатах; X, Y левый верхний угол
type Rect struct {
	X, Y, W, H float64
}

// Center центр прямоугольника
func (r Rect) Center() vec.Vec2Float {
	return vec.Vec2Float{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Base статичная зона стороны со своим счётчиком HP
type Base struct {
	Team    int
	OwnerID string
	HP      int
	MaxHP   int
	Rect    Rect
	BodyID  physics.BodyID
}

// Destroyed проверяет, исчерпано ли HP базы
func (b *Base) Destroyed() bool {
	return b.HP <= 0
}

// Hit уменьшает HP на единицу. Возвращает true, если база только что пала.
func (b *Base) Hit() bool {
	if b.HP <= 0 {
		return false
	}
	b.HP--
	return b.HP == 0
}

// Arena поле боя
type Arena struct {
	Width, Height float64
	GroundY       float64
	Surface       []vec.Vec2Float
	Bases         [2]*Base
	Spawns        [2]vec.Vec2Float
	Facings       [2]int

	terrain map[physics.BodyID]struct{}
	bases   map[physics.BodyID]*Base
}

// NewArena строит рельеф и базы по конфигурации
func NewArena(cfg config.ArenaConfig) *Arena {
	a := &Arena{
		Width:   cfg.Width,
		Height:  cfg.Height,
		GroundY: cfg.Height - 100,
		Facings: [2]int{1, -1},
		terrain: make(map[physics.BodyID]struct{}),
		bases:   make(map[physics.BodyID]*Base),
	}
	a.Surface = generateSurface(cfg, a.GroundY)

	baseH := cfg.GridSize * 5
	for team := 0; team < 2; team++ {
		x := 0.0
		if team == 1 {
			x = cfg.Width - cfg.BaseWidth
		}
		top := a.SurfaceY(x+cfg.BaseWidth/2) - baseH
		a.Bases[team] = &Base{
			Team:  team,
			HP:    cfg.BaseHP,
			MaxHP: cfg.BaseHP,
			Rect:  Rect{X: x, Y: top, W: cfg.BaseWidth, H: baseH},
		}
	}

	margin := cfg.BaseWidth + cfg.GridSize*5
	for team, x := range []float64{margin, cfg.Width - margin} {
		a.Spawns[team] = vec.Vec2Float{X: x, Y: a.SurfaceY(x) - cfg.GridSize*4}
	}
	return a
}

// generateSurface ломаная поверхности; нулевая амплитуда даёт ровный пол
func generateSurface(cfg config.ArenaConfig, groundY float64) []vec.Vec2Float {
	segments := cfg.Segments
	if segments < 1 {
		segments = 1
	}
	noise := util.NewNoise(cfg.TerrainSeed)
	step := cfg.Width / float64(segments)

	points := make([]vec.Vec2Float, 0, segments+1)
	for i := 0; i <= segments; i++ {
		x := float64(i) * step
		y := groundY
		if cfg.Amplitude != 0 {
			// края у баз ровные
			edge := x < cfg.BaseWidth*1.5 || x > cfg.Width-cfg.BaseWidth*1.5
			if !edge {
				y -= (noise.Noise1D(float64(i)*0.15) - 0.5) * 2 * cfg.Amplitude
			}
		}
		points = append(points, vec.Vec2Float{X: x, Y: y})
	}
	return points
}

// SurfaceY высота поверхности в точке x
func (a *Arena) SurfaceY(x float64) float64 {
	pts := a.Surface
	if len(pts) == 0 {
		return a.GroundY
	}
	if x <= pts[0].X {
		return pts[0].Y
	}
	for i := 1; i < len(pts); i++ {
		if x <= pts[i].X {
			t := (x - pts[i-1].X) / (pts[i].X - pts[i-1].X)
			return pts[i-1].Y + (pts[i].Y-pts[i-1].Y)*t
		}
	}
	return pts[len(pts)-1].Y
}

// Install создаёт статичные тела рельефа, стен и сенсоры баз
func (a *Arena) Install(w physics.World) {
	shapes := make([]physics.ShapeDef, 0, len(a.Surface)+1)
	for i := 1; i < len(a.Surface); i++ {
		shapes = append(shapes, physics.ShapeDef{
			Kind:   physics.ShapeSegment,
			A:      a.Surface[i-1],
			B:      a.Surface[i],
			Radius: 4,
		})
	}
	shapes = append(shapes,
		physics.ShapeDef{Kind: physics.ShapeSegment, A: vec.Vec2Float{X: 0, Y: 0}, B: vec.Vec2Float{X: 0, Y: a.Height}, Radius: 4},
		physics.ShapeDef{Kind: physics.ShapeSegment, A: vec.Vec2Float{X: a.Width, Y: 0}, B: vec.Vec2Float{X: a.Width, Y: a.Height}, Radius: 4},
	)
	id := w.AddBody(physics.BodyDef{
		Static:   true,
		Shapes:   shapes,
		Friction: 0.9,
		Category: physics.CategoryTerrain,
	})
	a.terrain[id] = struct{}{}

	for _, b := range a.Bases {
		b.BodyID = w.AddBody(physics.BodyDef{
			Position: b.Rect.Center(),
			Static:   true,
			Sensor:   true,
			Shapes:   []physics.ShapeDef{{Kind: physics.ShapeBox, Width: b.Rect.W, Height: b.Rect.H}},
			Category: physics.CategoryBase,
		})
		a.bases[b.BodyID] = b
	}
}

// IsTerrain проверяет, принадлежит ли тело рельефу
func (a *Arena) IsTerrain(id physics.BodyID) bool {
	_, ok := a.terrain[id]
	return ok
}

// BaseByBody возвращает базу, которой принадлежит сенсор
func (a *Arena) BaseByBody(id physics.BodyID) (*Base, bool) {
	b, ok := a.bases[id]
	return b, ok
}

// BaseOf возвращает базу команды
func (a *Arena) BaseOf(team int) *Base {
	if team < 0 || team > 1 {
		return nil
	}
	return a.Bases[team]
}

// StaticBodies тела рельефа и баз
func (a *Arena) StaticBodies() []physics.BodyID {
	var out []physics.BodyID
	for id := range a.terrain {
		out = append(out, id)
	}
	for _, b := range a.Bases {
		out = append(out, b.BodyID)
	}
	return out
}
