package vec

import "math"

// Vec2 представляет координаты ячейки сетки
type Vec2 struct {
	X, Y int
}

// Add складывает две ячейки
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Neighbors возвращает четыре соседние ячейки: сверху, справа, снизу, слева
func (v Vec2) Neighbors() [4]Vec2 {
	return [4]Vec2{
		{X: v.X, Y: v.Y - 1},
		{X: v.X + 1, Y: v.Y},
		{X: v.X, Y: v.Y + 1},
		{X: v.X - 1, Y: v.Y},
	}
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
