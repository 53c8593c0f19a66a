package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/logging"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "arena:",
	}
}

// RedisRepo хранит чертежи в Redis: строка <prefix>bp:<id> с JSON и
// список <prefix>deck:<slot> с идентификаторами.
type RedisRepo struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRepo подключается к Redis и проверяет соединение
func NewRedisRepo(config *RedisConfig) (*RedisRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logging.GetStorageLogger().Info("Хранилище чертежей подключено к Redis %s", config.Addr)
	return newRedisRepo(client, config.KeyPrefix), nil
}

func newRedisRepo(client *redis.Client, prefix string) *RedisRepo {
	return &RedisRepo{client: client, keyPrefix: prefix}
}

func (r *RedisRepo) bpKey(id string) string     { return r.keyPrefix + "bp:" + id }
func (r *RedisRepo) deckKey(slot string) string { return r.keyPrefix + "deck:" + slot }

func (r *RedisRepo) SaveBlueprint(ctx context.Context, bp contraption.Blueprint) error {
	if err := checkBlueprint(bp); err != nil {
		return err
	}
	data, err := json.Marshal(bp)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.bpKey(bp.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save blueprint: %w", err)
	}
	return nil
}

func (r *RedisRepo) LoadBlueprint(ctx context.Context, id string) (contraption.Blueprint, error) {
	var bp contraption.Blueprint
	data, err := r.client.Get(ctx, r.bpKey(id)).Bytes()
	if err == redis.Nil {
		return bp, missing("blueprint", id)
	} else if err != nil {
		return bp, fmt.Errorf("failed to get blueprint: %w", err)
	}
	if err := json.Unmarshal(data, &bp); err != nil {
		return bp, fmt.Errorf("failed to unmarshal blueprint: %w", err)
	}
	return bp, nil
}

// ListBlueprints сканирует ключи по шаблону и читает их одним конвейером
func (r *RedisRepo) ListBlueprints(ctx context.Context) ([]contraption.Blueprint, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.bpKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan blueprints: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read blueprints: %w", err)
	}

	out := make([]contraption.Blueprint, 0, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue // удалён между SCAN и GET
		} else if err != nil {
			return nil, err
		}
		var bp contraption.Blueprint
		if err := json.Unmarshal(data, &bp); err != nil {
			return nil, fmt.Errorf("key %s: %w", strings.TrimPrefix(keys[i], r.keyPrefix), err)
		}
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RedisRepo) DeleteBlueprint(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.bpKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete blueprint: %w", err)
	}
	if n == 0 {
		return missing("blueprint", id)
	}
	return nil
}

func (r *RedisRepo) SaveDeck(ctx context.Context, slot string, ids []string) error {
	if err := checkDeck(slot, ids); err != nil {
		return err
	}
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = r.bpKey(id)
		}
		// EXISTS считает повторяющиеся ключи столько раз, сколько они указаны
		n, err := r.client.Exists(ctx, keys...).Result()
		if err != nil {
			return err
		}
		if int(n) != len(ids) {
			for _, id := range ids {
				if c, _ := r.client.Exists(ctx, r.bpKey(id)).Result(); c == 0 {
					return missing("blueprint", id)
				}
			}
		}
	}

	key := r.deckKey(slot)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(ids) > 0 {
			vals := make([]interface{}, len(ids))
			for i, id := range ids {
				vals[i] = id
			}
			pipe.RPush(ctx, key, vals...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save deck: %w", err)
	}
	return nil
}

// LoadDeck читает список колоды. Пустая колода в Redis не хранится, поэтому
// отсутствие ключа означает пустой слот.
func (r *RedisRepo) LoadDeck(ctx context.Context, slot string) ([]string, error) {
	key := r.deckKey(slot)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, missing("deck", slot)
	}
	return r.client.LRange(ctx, key, 0, -1).Result()
}

// Close закрывает соединение с Redis
func (r *RedisRepo) Close() error {
	return r.client.Close()
}
