// Package sync передаёт состояние физики от хоста клиенту: хост собирает
// снимки с ограниченной повторной отправкой геометрии, клиент буферизует их
// и рисует с адаптивной задержкой интерполяции.
package sync

import (
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/vec"
)

// RenderBody тело для отрисовки. Одинаково на хосте (из живого мира) и на
// клиенте (восстановлено из снимков). Вершины в мировых координатах.
type RenderBody struct {
	ID            uint64
	Position      vec.Vec2Float
	Angle         float64
	Vertices      []vec.Vec2Float
	CircleRadius  float64
	Color         string
	Static        bool
	HasHealth     bool
	HealthPercent float64
}

func (b RenderBody) clone() RenderBody {
	if b.Vertices != nil {
		b.Vertices = append([]vec.Vec2Float(nil), b.Vertices...)
	}
	return b
}

// wire переводит тело в запись снимка; геометрия добавляется отдельно
func (b RenderBody) wire(withGeometry bool) protocol.Body {
	out := protocol.Body{
		ID:            b.ID,
		X:             b.Position.X,
		Y:             b.Position.Y,
		Angle:         b.Angle,
		Static:        b.Static,
		HasHealth:     b.HasHealth,
		HealthPercent: b.HealthPercent,
	}
	if withGeometry {
		out.HasGeometry = true
		out.Vertices = b.Vertices
		out.CircleRadius = b.CircleRadius
		out.Color = b.Color
	}
	return out
}

// project переводит локальные вершины в мировые для позы тела
func project(local []vec.Vec2Float, pos vec.Vec2Float, angle float64) []vec.Vec2Float {
	if len(local) == 0 {
		return nil
	}
	out := make([]vec.Vec2Float, len(local))
	for i, v := range local {
		out[i] = vec.ToWorld(v, pos, angle)
	}
	return out
}

// smoothstep сглаживает параметр интерполяции, убирая видимые ступеньки
func smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}
