// Package aoestore loads and persists AOE model definitions. Only model
// definitions are stored; AoeResults live solely on the dispatcher's
// result channel.
package aoestore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// Store is the model-definition persistence interface. Implementations:
// MemoryStore (file-loaded, process-local) and BunStore (Postgres).
type Store interface {
	SaveModel(ctx context.Context, model *domain.AoeModel) error
	GetModel(ctx context.Context, id uint64) (*domain.AoeModel, error)
	ListModels(ctx context.Context) ([]*domain.AoeModel, error)
	DeleteModel(ctx context.Context, id uint64) error
}

// MemoryStore keeps models in a process-local map.
type MemoryStore struct {
	mu     sync.RWMutex
	models map[uint64]*domain.AoeModel
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[uint64]*domain.AoeModel)}
}

func (s *MemoryStore) SaveModel(_ context.Context, model *domain.AoeModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[model.ID] = model
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, id uint64) (*domain.AoeModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	model, ok := s.models[id]
	if !ok {
		return nil, &domain.DomainError{Code: domain.ErrCodeNotFound, Message: fmt.Sprintf("aoe model %d", id)}
	}
	return model, nil
}

func (s *MemoryStore) ListModels(_ context.Context) ([]*domain.AoeModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.AoeModel, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteModel(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, id)
	return nil
}
