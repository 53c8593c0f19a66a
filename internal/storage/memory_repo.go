package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/annel0/contraption-arena/internal/contraption"
)

// MemoryRepo реализует BlueprintRepo в памяти.
// Используется по умолчанию и в тестах.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryRepo struct {
	mu         sync.RWMutex
	blueprints map[string]contraption.Blueprint
	decks      map[string][]string
}

// NewMemoryRepo создает новое хранилище чертежей в памяти
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		blueprints: make(map[string]contraption.Blueprint),
		decks:      make(map[string][]string),
	}
}

// SaveBlueprint сохраняет копию чертежа
func (r *MemoryRepo) SaveBlueprint(ctx context.Context, bp contraption.Blueprint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkBlueprint(bp); err != nil {
		return err
	}
	bp.Blocks = append([]contraption.BlueprintBlock(nil), bp.Blocks...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.blueprints[bp.ID] = bp
	return nil
}

func (r *MemoryRepo) LoadBlueprint(ctx context.Context, id string) (contraption.Blueprint, error) {
	if err := ctx.Err(); err != nil {
		return contraption.Blueprint{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.blueprints[id]
	if !ok {
		return contraption.Blueprint{}, missing("blueprint", id)
	}
	bp.Blocks = append([]contraption.BlueprintBlock(nil), bp.Blocks...)
	return bp, nil
}

func (r *MemoryRepo) ListBlueprints(ctx context.Context) ([]contraption.Blueprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]contraption.Blueprint, 0, len(r.blueprints))
	for _, bp := range r.blueprints {
		out = append(out, bp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) DeleteBlueprint(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blueprints[id]; !ok {
		return missing("blueprint", id)
	}
	delete(r.blueprints, id)
	return nil
}

func (r *MemoryRepo) SaveDeck(ctx context.Context, slot string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDeck(slot, ids); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, ok := r.blueprints[id]; !ok {
			return missing("blueprint", id)
		}
	}
	r.decks[slot] = append([]string(nil), ids...)
	return nil
}

func (r *MemoryRepo) LoadDeck(ctx context.Context, slot string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.decks[slot]
	if !ok {
		return nil, missing("deck", slot)
	}
	return append([]string(nil), ids...), nil
}

// Close ничего не делает
func (r *MemoryRepo) Close() error { return nil }
