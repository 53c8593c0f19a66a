package eventbus

import "errors"

// ErrClosed публикация в закрытую шину
var ErrClosed = errors.New("eventbus: closed")

// Типы событий матча
const (
	EventMatchStarted         = "MatchStarted"
	EventContraptionSpawned   = "ContraptionSpawned"
	EventContraptionDestroyed = "ContraptionDestroyed"
	EventBaseDamaged          = "BaseDamaged"
	EventMatchEnded           = "MatchEnded"
)

func priorityOf(eventType string) int {
	switch eventType {
	case EventMatchEnded:
		return 9
	case EventBaseDamaged, EventMatchStarted:
		return 7
	default:
		return 3
	}
}

// MatchStarted матч запущен
type MatchStarted struct {
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	BaseHP   int     `json:"baseHp"`
	TickRate int     `json:"tickRate"`
}

// ContraptionSpawned контрапция выпущена на арену
type ContraptionSpawned struct {
	ContraptionID string `json:"contraptionId"`
	Name          string `json:"name"`
	Team          int    `json:"team"`
	Blocks        int    `json:"blocks"`
	Bot           bool   `json:"bot"`
}

// ContraptionDestroyed у контрапции не осталось живых блоков
type ContraptionDestroyed struct {
	ContraptionID string `json:"contraptionId"`
	Team          int    `json:"team"`
}

// BaseDamaged база потеряла очко прочности
type BaseDamaged struct {
	Team int `json:"team"`
	HP   int `json:"hp"`
}

// MatchEnded итог матча
type MatchEnded struct {
	Winner int    `json:"winner"`
	Tie    bool   `json:"tie"`
	Reason string `json:"reason"`
	Ticks  uint64 `json:"ticks"`
}
