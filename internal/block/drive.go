package block

import "math"

// Drive привод колеса: момент к целевой угловой скорости
type Drive struct {
	MaxAngularSpeed float64 // рад/с при полном вводе
	Gain            float64
	MaxTorque       float64
}

// Torque возвращает момент для ввода input из [-1, 1].
// Нулевой ввод не даёт момента, колесо катится свободно.
func (d *Drive) Torque(angularVelocity, input float64, facing int) float64 {
	if d == nil || input == 0 {
		return 0
	}
	input = math.Max(-1, math.Min(1, input))
	dir := 1.0
	if facing < 0 {
		dir = -1
	}
	target := input * dir * d.MaxAngularSpeed
	torque := (target - angularVelocity) * d.Gain
	return math.Max(-d.MaxTorque, math.Min(d.MaxTorque, torque))
}
