package storage

import (
	"context"
	"errors"

	"github.com/charging-platform/charge-point-simulator/internal/scenario"
)

// ErrNotFound 场景不存在
var ErrNotFound = errors.New("scenario not found in repository")

// ScenarioRepository 场景持久化接口
//
// 核心不假定任何存储介质，由装配方注入内存/文件/Redis实现。
type ScenarioRepository interface {
	// Load 载入全部场景定义
	Load(ctx context.Context) ([]*scenario.Definition, error)
	// Save 保存或覆盖一个场景定义
	Save(ctx context.Context, def *scenario.Definition) error
	// Delete 删除一个场景定义
	Delete(ctx context.Context, id string) error
	// Clear 清空全部场景定义
	Clear(ctx context.Context) error
}
