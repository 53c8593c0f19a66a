// Package protocol описывает сообщения между хостом и клиентом: управляющий
// конверт JSON для надёжного канала и бинарные снимки физики для ненадёжного.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed нераспознаваемое сообщение
var ErrMalformed = errors.New("malformed message")

// Типы управляющих сообщений
const (
	MsgHello      = "hello"
	MsgMatchStart = "matchStart"
	MsgInput      = "input"
	MsgSpawn      = "spawn"
	MsgSpawnAck   = "spawnAck"
	MsgBaseHP     = "baseHp"
	MsgMatchEnd   = "matchEnd"
	MsgPing       = "ping"
	MsgPong       = "pong"
	MsgBind       = "bind"
)

// Envelope управляющее сообщение: тип и полезная нагрузка
type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p"`
}

// Hello первое сообщение клиента
type Hello struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
	Deck    string `json:"deck,omitempty"`
}

// MatchStart хост сообщает параметры матча
type MatchStart struct {
	MatchID  string  `json:"matchId"`
	Team     int     `json:"team"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	GridSize float64 `json:"gridSize"`
	SendRate int     `json:"sendRate"`
	BaseHP   int     `json:"baseHp"`
	Token    string  `json:"token"` // привязка датаграммного канала
}

// Input ввод привода колёс стороны, в [-1, 1]
type Input struct {
	Drive float64 `json:"drive"`
}

// Spawn запрос на выпуск контрапции из слота колоды
type Spawn struct {
	Slot int `json:"slot"`
}

// SpawnAck ответ на Spawn
type SpawnAck struct {
	Slot          int    `json:"slot"`
	ContraptionID string `json:"contraptionId,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BaseHP новое значение HP базы
type BaseHP struct {
	Team int `json:"team"`
	HP   int `json:"hp"`
}

// MatchEnd итог матча; Winner равен -1 при ничьей
type MatchEnd struct {
	Winner int    `json:"winner"`
	Tie    bool   `json:"tie"`
	Reason string `json:"reason"`
}

// Ping замер задержки
type Ping struct {
	Sent int64 `json:"sent"`
}

// Bind первая датаграмма клиента: привязывает UDP адрес к сессии
type Bind struct {
	Token string `json:"token"`
}

// Encode упаковывает полезную нагрузку в конверт
func Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("encode: empty message type")
	}
	if payload == nil {
		return nil, fmt.Errorf("encode %s: nil payload", t)
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Envelope{T: t, P: pb})
}

// DecodeEnvelope разбирает конверт
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty envelope", ErrMalformed)
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.T == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return e, nil
}

// DecodePayload разбирает полезную нагрузку конверта в T
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 {
		return out, fmt.Errorf("%w: empty payload for %q", ErrMalformed, env.T)
	}
	if err := json.Unmarshal(env.P, &out); err != nil {
		return out, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.T, err)
	}
	return out, nil
}
