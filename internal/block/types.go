// Package block описывает закрытый каталог типов блоков контрапции:
// грани крепления, базовые характеристики, рецепты тел и кривые сопротивления.
package block

import (
	"errors"
	"fmt"
)

// ErrUnknownType неизвестное имя типа блока
var ErrUnknownType = errors.New("unknown block type")

// Type тип блока
type Type uint8

const (
	Core Type = iota
	Plain
	Wheel
	Spike
	Armor
	Explosive
)

var typeNames = [...]string{
	Core:      "core",
	Plain:     "plain",
	Wheel:     "wheel",
	Spike:     "spike",
	Armor:     "armor",
	Explosive: "explosive",
}

// Types возвращает все типы каталога в порядке объявления
func Types() []Type {
	return []Type{Core, Plain, Wheel, Spike, Armor, Explosive}
}

// String возвращает имя типа для сериализации
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType разбирает имя типа
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if n == name {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// MarshalText для JSON
func (t Type) MarshalText() ([]byte, error) {
	if int(t) >= len(typeNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText для JSON
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DamageType вид урона
type DamageType uint8

const (
	Blunt DamageType = iota
	Sharp
	Blast
)

func (d DamageType) String() string {
	switch d {
	case Sharp:
		return "sharp"
	case Blast:
		return "blast"
	default:
		return "blunt"
	}
}

// Face грань блока в сетке (Y вниз)
type Face uint8

const (
	Top Face = iota
	Right
	Bottom
	Left
)

// Opposite возвращает противоположную грань
func (f Face) Opposite() Face {
	return (f + 2) % 4
}

// Rotate поворачивает грань на steps четвертей по часовой стрелке
func (f Face) Rotate(steps int) Face {
	s := ((steps % 4) + 4) % 4
	return Face((int(f) + s) % 4)
}

func (f Face) String() string {
	switch f {
	case Top:
		return "top"
	case Right:
		return "right"
	case Bottom:
		return "bottom"
	default:
		return "left"
	}
}

// FaceSet битовая маска граней
type FaceSet uint8

// AllFaces все четыре грани
const AllFaces FaceSet = 0b1111

// Faces собирает набор из перечисленных граней
func Faces(fs ...Face) FaceSet {
	var s FaceSet
	for _, f := range fs {
		s |= 1 << f
	}
	return s
}

// Has проверяет наличие грани
func (s FaceSet) Has(f Face) bool {
	return s&(1<<f) != 0
}

// Rotate поворачивает весь набор на steps четвертей по часовой стрелке
func (s FaceSet) Rotate(steps int) FaceSet {
	var out FaceSet
	for f := Top; f <= Left; f++ {
		if s.Has(f) {
			out |= 1 << f.Rotate(steps)
		}
	}
	return out
}
