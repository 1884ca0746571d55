package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/scenario"
)

// FileRepository 文件目录场景仓库，每个场景一个JSON文件
type FileRepository struct {
	dir    string
	logger *logger.Logger
	mu     sync.Mutex
}

// NewFileRepository 创建文件场景仓库，目录不存在时创建
func NewFileRepository(dir string, log *logger.Logger) (*FileRepository, error) {
	if log == nil {
		log = logger.Global()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scenario directory %s: %w", dir, err)
	}
	return &FileRepository{
		dir:    dir,
		logger: log.With("scenario-store"),
	}, nil
}

// Load 实现ScenarioRepository接口
//
// 无法解析的文件跳过并告警，不阻断其余场景载入。
func (r *FileRepository) Load(ctx context.Context) ([]*scenario.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var defs []*scenario.Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warnf("Skipping unreadable scenario file %s: %v", path, err)
			continue
		}
		def, err := scenario.Import(data)
		if err != nil {
			r.logger.Warnf("Skipping invalid scenario file %s: %v", path, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Save 实现ScenarioRepository接口
func (r *FileRepository) Save(ctx context.Context, def *scenario.Definition) error {
	data, err := def.Export()
	if err != nil {
		return fmt.Errorf("failed to export scenario %s: %w", def.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return os.WriteFile(r.path(def.ID), data, 0644)
}

// Delete 实现ScenarioRepository接口
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Clear 实现ScenarioRepository接口
func (r *FileRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// path 场景文件路径
func (r *FileRepository) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}
