package storage

import (
	"context"
	"sync"

	"github.com/charging-platform/charge-point-simulator/internal/scenario"
)

// MemoryRepository 内存场景仓库，进程内使用
type MemoryRepository struct {
	mu        sync.RWMutex
	scenarios map[string]*scenario.Definition
}

// NewMemoryRepository 创建内存场景仓库
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		scenarios: make(map[string]*scenario.Definition),
	}
}

// Load 实现ScenarioRepository接口
func (r *MemoryRepository) Load(ctx context.Context) ([]*scenario.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*scenario.Definition, 0, len(r.scenarios))
	for _, def := range r.scenarios {
		result = append(result, def.Clone())
	}
	return result, nil
}

// Save 实现ScenarioRepository接口
func (r *MemoryRepository) Save(ctx context.Context, def *scenario.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[def.ID] = def.Clone()
	return nil
}

// Delete 实现ScenarioRepository接口
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scenarios[id]; !ok {
		return ErrNotFound
	}
	delete(r.scenarios, id)
	return nil
}

// Clear 实现ScenarioRepository接口
func (r *MemoryRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios = make(map[string]*scenario.Definition)
	return nil
}
