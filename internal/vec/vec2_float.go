package vec

import "math"

// Vec2Float представляет 2D координаты с плавающей точкой
type Vec2Float struct {
	X, Y float64
}

// FromVec2 создает Vec2Float из Vec2
func FromVec2(v Vec2) Vec2Float {
	return Vec2Float{X: float64(v.X), Y: float64(v.Y)}
}

// Add складывает два вектора
func (v Vec2Float) Add(other Vec2Float) Vec2Float {
	return Vec2Float{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2Float) Sub(other Vec2Float) Vec2Float {
	return Vec2Float{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul умножает вектор на скаляр
func (v Vec2Float) Mul(scalar float64) Vec2Float {
	return Vec2Float{X: v.X * scalar, Y: v.Y * scalar}
}

// Dot скалярное произведение
func (v Vec2Float) Dot(other Vec2Float) float64 {
	return v.X*other.X + v.Y*other.Y
}

// Normalized возвращает нормализованный вектор
func (v Vec2Float) Normalized() Vec2Float {
	length := v.Length()
	if length == 0 {
		return Vec2Float{X: 0, Y: 0}
	}
	return Vec2Float{X: v.X / length, Y: v.Y / length}
}

// Length возвращает длину вектора
func (v Vec2Float) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2Float) DistanceTo(other Vec2Float) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Rotate поворачивает вектор на angle радиан вокруг начала координат
func (v Vec2Float) Rotate(angle float64) Vec2Float {
	if angle == 0 {
		return v
	}
	sin, cos := math.Sincos(angle)
	return Vec2Float{X: v.X*cos - v.Y*sin, Y: v.X*sin + v.Y*cos}
}

// MirrorX отражает вектор по оси X, если facing == -1
func (v Vec2Float) MirrorX(facing int) Vec2Float {
	if facing < 0 {
		return Vec2Float{X: -v.X, Y: v.Y}
	}
	return v
}

// Lerp линейная интерполяция между v и other
func (v Vec2Float) Lerp(other Vec2Float, t float64) Vec2Float {
	return Vec2Float{X: v.X + (other.X-v.X)*t, Y: v.Y + (other.Y-v.Y)*t}
}

// ToLocal переводит мировую точку в локальные координаты тела (position, angle)
func ToLocal(world, position Vec2Float, angle float64) Vec2Float {
	return world.Sub(position).Rotate(-angle)
}

// ToWorld переводит локальную точку тела в мировые координаты
func ToWorld(local, position Vec2Float, angle float64) Vec2Float {
	return local.Rotate(angle).Add(position)
}

// NormalizeAngle приводит угол к диапазону (-π, π]
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// LerpAngle интерполирует угол по кратчайшей дуге
func LerpAngle(a, b, t float64) float64 {
	return a + NormalizeAngle(b-a)*t
}
