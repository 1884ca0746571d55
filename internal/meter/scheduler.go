package meter

import (
	"context"
	"sync"
	"time"

	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/metrics"
)

// Sink 电表值写入目标，由连接器实现
type Sink interface {
	// MeterValueWh 读取当前电表值
	MeterValueWh() int
	// SetMeterValueWh 写入电表值
	SetMeterValueWh(valueWh int)
	// SendMeterValue 上报当前电表值
	SendMeterValue()
}

// IncrementConfig 线性递增策略配置
type IncrementConfig struct {
	Interval    time.Duration // 刷新间隔，不足1s钳制到1s
	IncrementWh int           // 每次递增量(Wh)
	MaxTime     time.Duration // 可选运行时长上限，0表示无限
	MaxValueWh  int           // 可选电表值上限，0表示无限
}

// CurveConfig 曲线策略配置
type CurveConfig struct {
	Points       []CurvePoint  // 有序控制点
	Interval     time.Duration // 固定刷新间隔；AutoInterval时忽略
	AutoInterval bool          // 按曲线跨度自动推算刷新间隔
}

// Scheduler 电表值调度器
//
// 同一连接器同一时刻只允许一个策略运行，启动新策略隐式停止旧策略。
type Scheduler struct {
	sink   Sink
	logger *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started time.Time
	active  bool
	wg      sync.WaitGroup
}

// NewScheduler 创建电表值调度器
func NewScheduler(sink Sink, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Global()
	}
	return &Scheduler{
		sink:   sink,
		logger: log.With("meter-scheduler"),
	}
}

// StartIncrement 启动线性递增策略
func (s *Scheduler) StartIncrement(cfg IncrementConfig) {
	interval := cfg.Interval
	if interval < time.Second {
		interval = time.Second
	}

	ctx := s.arm()
	s.logger.Debugf("Increment strategy started: interval=%s increment=%dWh", interval, cfg.IncrementWh)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		started := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cfg.MaxTime > 0 && time.Since(started) >= cfg.MaxTime {
					s.logger.Debug("Increment strategy reached max time")
					s.stopCurrent(ctx)
					return
				}
				value := s.sink.MeterValueWh() + cfg.IncrementWh
				if cfg.MaxValueWh > 0 && value > cfg.MaxValueWh {
					value = cfg.MaxValueWh
				}
				s.sink.SetMeterValueWh(value)
				s.sink.SendMeterValue()
				metrics.MeterUpdates.WithLabelValues("increment").Inc()
				if cfg.MaxValueWh > 0 && value >= cfg.MaxValueWh {
					s.logger.Debug("Increment strategy reached max value")
					s.stopCurrent(ctx)
					return
				}
			}
		}
	}()
}

// StartCurve 启动曲线策略
func (s *Scheduler) StartCurve(cfg CurveConfig) {
	interval := cfg.Interval
	if cfg.AutoInterval || interval <= 0 {
		interval = CurveTickInterval(cfg.Points)
	}
	if interval < time.Second {
		interval = time.Second
	}

	ctx := s.arm()
	s.logger.Debugf("Curve strategy started: points=%d interval=%s", len(cfg.Points), interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		started := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(started).Minutes()
				kwh := EvaluateCurve(cfg.Points, elapsed)
				s.sink.SetMeterValueWh(KWhToWh(kwh))
				s.sink.SendMeterValue()
				metrics.MeterUpdates.WithLabelValues("curve").Inc()
			}
		}
	}()
}

// Stop 停止当前策略并重置计时
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.active = false
	s.started = time.Time{}
	s.mu.Unlock()
}

// IsActive 当前是否有策略在运行
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Wait 等待所有策略协程退出，用于连接器teardown
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// arm 停止旧策略并登记新策略上下文
func (s *Scheduler) arm() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = time.Now()
	s.active = true
	return ctx
}

// stopCurrent 策略自行终止时解除armed标记，仅当仍是当前策略
func (s *Scheduler) stopCurrent(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-ctx.Done():
		// 已被新策略替换，保持现状
		return
	default:
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.active = false
	s.started = time.Time{}
}
