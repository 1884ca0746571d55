package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/scenario"
)

// scenarioHashKey 场景哈希键前缀
const scenarioHashKey = "simulator:scenarios:%s"

// RedisRepository Redis场景仓库，按充电桩分哈希存储
type RedisRepository struct {
	client redis.Cmdable
	key    string
	logger *logger.Logger
}

// RedisConfig Redis连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisRepository 创建Redis场景仓库
func NewRedisRepository(cfg RedisConfig, chargePointID string, log *logger.Logger) (*RedisRepository, error) {
	if log == nil {
		log = logger.Global()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisRepository{
		client: client,
		key:    fmt.Sprintf(scenarioHashKey, chargePointID),
		logger: log.With("scenario-store"),
	}, nil
}

// NewRedisRepositoryWithClient 使用现有客户端创建仓库，测试注入mock用
func NewRedisRepositoryWithClient(client redis.Cmdable, chargePointID string, log *logger.Logger) *RedisRepository {
	if log == nil {
		log = logger.Global()
	}
	return &RedisRepository{
		client: client,
		key:    fmt.Sprintf(scenarioHashKey, chargePointID),
		logger: log.With("scenario-store"),
	}
}

// Load 实现ScenarioRepository接口
//
// 无法解析的条目跳过并告警。
func (r *RedisRepository) Load(ctx context.Context) ([]*scenario.Definition, error) {
	entries, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios from redis: %w", err)
	}
	var defs []*scenario.Definition
	for id, raw := range entries {
		def, err := scenario.Import([]byte(raw))
		if err != nil {
			r.logger.Warnf("Skipping invalid scenario %s in redis: %v", id, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Save 实现ScenarioRepository接口
func (r *RedisRepository) Save(ctx context.Context, def *scenario.Definition) error {
	data, err := def.Export()
	if err != nil {
		return fmt.Errorf("failed to export scenario %s: %w", def.ID, err)
	}
	if err := r.client.HSet(ctx, r.key, def.ID, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to save scenario %s: %w", def.ID, err)
	}
	return nil
}

// Delete 实现ScenarioRepository接口
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	removed, err := r.client.HDel(ctx, r.key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete scenario %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear 实现ScenarioRepository接口
func (r *RedisRepository) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear scenarios: %w", err)
	}
	return nil
}
