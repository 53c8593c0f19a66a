package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/contraption-arena/internal/contraption"
)

const (
	badgerBlueprintPrefix = "bp:"
	badgerDeckPrefix      = "deck:"
)

// BadgerRepo хранит чертежи в BadgerDB: ключи bp:<id> и deck:<slot>,
// значения в JSON.
type BadgerRepo struct {
	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerRepo открывает базу в каталоге path
func NewBadgerRepo(path string) (*BadgerRepo, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerRepo{db: db, isReady: true}, nil
}

// Close закрывает базу
func (r *BadgerRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}
	r.isReady = false
	return r.db.Close()
}

func (r *BadgerRepo) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return nil
}

// readJSON читает и разбирает значение ключа внутри транзакции
func readJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func (r *BadgerRepo) SaveBlueprint(ctx context.Context, bp contraption.Blueprint) error {
	if err := checkBlueprint(bp); err != nil {
		return err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(bp)
	if err != nil {
		return fmt.Errorf("ошибка сериализации чертежа: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerBlueprintPrefix+bp.ID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (r *BadgerRepo) LoadBlueprint(ctx context.Context, id string) (contraption.Blueprint, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(ctx); err != nil {
		return contraption.Blueprint{}, err
	}

	var bp contraption.Blueprint
	err := r.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, badgerBlueprintPrefix+id, &bp)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return contraption.Blueprint{}, missing("blueprint", id)
	}
	if err != nil {
		return contraption.Blueprint{}, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return bp, nil
}

// ListBlueprints обходит ключи с префиксом bp:; Badger отдаёт их по
// возрастанию, поэтому сортировать не нужно
func (r *BadgerRepo) ListBlueprints(ctx context.Context) ([]contraption.Blueprint, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	var out []contraption.Blueprint
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerBlueprintPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var bp contraption.Blueprint
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &bp)
			})
			if err != nil {
				return fmt.Errorf("ключ %s: %w", it.Item().Key(), err)
			}
			out = append(out, bp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BadgerRepo) DeleteBlueprint(ctx context.Context, id string) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(ctx); err != nil {
		return err
	}

	key := []byte(badgerBlueprintPrefix + id)
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return missing("blueprint", id)
	}
	return err
}

func (r *BadgerRepo) SaveDeck(ctx context.Context, slot string, ids []string) error {
	if err := checkDeck(slot, ids); err != nil {
		return err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if _, err := txn.Get([]byte(badgerBlueprintPrefix + id)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return missing("blueprint", id)
				}
				return err
			}
		}
		return txn.Set([]byte(badgerDeckPrefix+slot), data)
	})
}

func (r *BadgerRepo) LoadDeck(ctx context.Context, slot string) ([]string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	var ids []string
	err := r.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, badgerDeckPrefix+slot, &ids)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, missing("deck", slot)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return ids, nil
}
