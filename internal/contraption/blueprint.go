package contraption

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/contraption-arena/internal/block"
)

// BlueprintVersion текущая версия формата чертежа
const BlueprintVersion = 1

// Blueprint сериализуемый вид контрапции для инструментов сборки
type Blueprint struct {
	Version int              `json:"version"`
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Team    int              `json:"team"`
	Facing  int              `json:"facing"`
	Bot     bool             `json:"bot"`
	Blocks  []BlueprintBlock `json:"blocks"`
}

// BlueprintBlock запись блока; тип задаётся строкой
type BlueprintBlock struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Rot  int    `json:"rot"`
}

// Blueprint возвращает сериализуемое описание
func (c *Contraption) Blueprint() Blueprint {
	bp := Blueprint{
		Version: BlueprintVersion,
		ID:      c.ID,
		Name:    c.Name,
		Team:    c.Team,
		Facing:  c.Facing,
		Bot:     c.Bot,
	}
	for _, b := range c.Ordered() {
		bp.Blocks = append(bp.Blocks, BlueprintBlock{Type: b.Type.String(), X: b.GridX, Y: b.GridY, Rot: b.RotationSteps})
	}
	return bp
}

// Save сериализует контрапцию в JSON
func (c *Contraption) Save() ([]byte, error) {
	return json.Marshal(c.Blueprint())
}

// FromBlueprint восстанавливает контрапцию. Неизвестный тип блока является ошибкой.
func FromBlueprint(bp Blueprint) (*Contraption, error) {
	if bp.Version > BlueprintVersion {
		return nil, fmt.Errorf("blueprint version %d is newer than supported %d", bp.Version, BlueprintVersion)
	}
	c := New(bp.Name, bp.Team, bp.Facing)
	if bp.ID != "" {
		c.ID = bp.ID
	}
	c.Bot = bp.Bot
	for i, rec := range bp.Blocks {
		typ, err := block.ParseType(rec.Type)
		if err != nil {
			return nil, fmt.Errorf("block %d at (%d,%d): %w", i, rec.X, rec.Y, err)
		}
		if _, err := c.Place(typ, rec.X, rec.Y, rec.Rot); err != nil {
			return nil, fmt.Errorf("block %d at (%d,%d): %w", i, rec.X, rec.Y, err)
		}
	}
	return c, nil
}

// Load разбирает JSON чертежа
func Load(data []byte) (*Contraption, error) {
	var bp Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("decode blueprint: %w", err)
	}
	return FromBlueprint(bp)
}
