// Package storage хранит чертежи контрапций и колоды, из которых сторона
// выпускает машины в матче.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/contraption"
)

// MaxDeckSize сколько чертежей помещается в колоду
const MaxDeckSize = 6

var (
	ErrNotFound     = errors.New("not found")
	ErrDeckTooLarge = fmt.Errorf("deck holds at most %d blueprints", MaxDeckSize)
	ErrNoID         = errors.New("blueprint id is empty")
	// ErrInvalid чертёж не собирается в контрапцию
	ErrInvalid = errors.New("invalid blueprint")
)

// BlueprintRepo определяет интерфейс хранилища чертежей и колод.
// Колода задаётся именем слота и хранит идентификаторы чертежей по порядку.
type BlueprintRepo interface {
	// SaveBlueprint сохраняет чертёж, перезаписывая чертёж с тем же ID.
	// Параметры:
	//   ctx - контекст для отмены операции
	//   bp - чертёж с непустым ID
	SaveBlueprint(ctx context.Context, bp contraption.Blueprint) error

	// LoadBlueprint загружает чертёж. Отсутствующий чертёж даёт ErrNotFound.
	LoadBlueprint(ctx context.Context, id string) (contraption.Blueprint, error)

	// ListBlueprints возвращает все чертежи по возрастанию ID.
	ListBlueprints(ctx context.Context) ([]contraption.Blueprint, error)

	// DeleteBlueprint удаляет чертёж. Отсутствующий чертёж даёт ErrNotFound.
	DeleteBlueprint(ctx context.Context, id string) error

	// SaveDeck сохраняет колоду слота. Все чертежи колоды должны существовать.
	// Параметры:
	//   ctx - контекст для отмены операции
	//   slot - имя слота колоды
	//   ids - идентификаторы чертежей, не больше MaxDeckSize
	SaveDeck(ctx context.Context, slot string, ids []string) error

	// LoadDeck загружает колоду слота. Пустой слот даёт ErrNotFound.
	LoadDeck(ctx context.Context, slot string) ([]string, error)

	Close() error
}

// NewRepo открывает хранилище по конфигурации
func NewRepo(cfg config.StorageConfig) (BlueprintRepo, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryRepo(), nil
	case "badger":
		return NewBadgerRepo(cfg.BadgerPath)
	case "redis":
		return NewRedisRepo(&RedisConfig{Addr: cfg.RedisAddr, KeyPrefix: cfg.RedisPrefix})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// checkBlueprint проверяет, что чертёж можно собрать
func checkBlueprint(bp contraption.Blueprint) error {
	if bp.ID == "" {
		return ErrNoID
	}
	if _, err := contraption.FromBlueprint(bp); err != nil {
		return fmt.Errorf("%w %s: %v", ErrInvalid, bp.ID, err)
	}
	return nil
}

func checkDeck(slot string, ids []string) error {
	if slot == "" {
		return errors.New("deck slot is empty")
	}
	if len(ids) > MaxDeckSize {
		return ErrDeckTooLarge
	}
	return nil
}

func missing(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// SpawnFromDeck собирает контрапцию из чертежа, стоящего в колоде под
// номером index. Каждая сборка получает новый ID, чтобы один чертёж можно
// было выпускать повторно.
func SpawnFromDeck(ctx context.Context, repo BlueprintRepo, slot string, index, team int) (*contraption.Contraption, error) {
	ids, err := repo.LoadDeck(ctx, slot)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(ids) {
		return nil, fmt.Errorf("deck %s has no entry %d: %w", slot, index, ErrNotFound)
	}
	bp, err := repo.LoadBlueprint(ctx, ids[index])
	if err != nil {
		return nil, err
	}
	c, err := contraption.FromBlueprint(bp)
	if err != nil {
		return nil, err
	}
	c.ID = fmt.Sprintf("%s#%s", bp.ID, uuid.NewString()[:8])
	c.Team = team
	return c, nil
}
