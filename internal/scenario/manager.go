package scenario

import (
	"sync"

	"github.com/charging-platform/charge-point-simulator/internal/domain/events"
	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/metrics"
)

// Manager 单个连接器的场景管理器
//
// 持有该连接器的场景集合，响应状态变更通知做触发匹配，
// 并独占管理存活的执行器：触发式启动先停后启，手动启动为叠加。
type Manager struct {
	connectorID int
	callbacks   Callbacks
	bus         *events.Bus
	logger      *logger.Logger

	mu        sync.Mutex
	scenarios map[string]*Definition
	executors map[string]*Executor
	destroyed bool

	// triggerMu 串行化触发式先停后启序列，并发状态变更通知不交错
	triggerMu sync.Mutex
}

// NewManager 创建场景管理器
func NewManager(connectorID int, callbacks Callbacks, bus *events.Bus, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Global()
	}
	return &Manager{
		connectorID: connectorID,
		callbacks:   callbacks,
		bus:         bus,
		logger:      log.With("scenario-manager"),
		scenarios:   make(map[string]*Definition),
		executors:   make(map[string]*Executor),
	}
}

// LoadScenarios 批量载入场景定义，替换现有集合
func (m *Manager) LoadScenarios(defs []*Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.scenarios = make(map[string]*Definition, len(defs))
	for _, def := range defs {
		m.scenarios[def.ID] = def
	}
	m.logger.Infof("Loaded %d scenarios for connector %d", len(defs), m.connectorID)
}

// Scenarios 获取全部场景定义
func (m *Manager) Scenarios() []*Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*Definition, 0, len(m.scenarios))
	for _, def := range m.scenarios {
		result = append(result, def)
	}
	return result
}

// SetScenario 新增或更新场景
func (m *Manager) SetScenario(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrManagerDestroyed
	}
	m.scenarios[def.ID] = def
	return nil
}

// RemoveScenario 移除场景，运行中的先停止
func (m *Manager) RemoveScenario(id string) {
	m.mu.Lock()
	executor := m.executors[id]
	delete(m.executors, id)
	delete(m.scenarios, id)
	m.mu.Unlock()

	if executor != nil {
		executor.Stop()
	}
}

// ActiveScenarioIDs 当前存活执行器对应的场景ID
func (m *Manager) ActiveScenarioIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.executors))
	for id := range m.executors {
		ids = append(ids, id)
	}
	return ids
}

// IsScenarioActive 场景是否在执行中
func (m *Manager) IsScenarioActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.executors[id]
	return ok
}

// ExecutionContext 获取运行中场景的执行上下文
func (m *Manager) ExecutionContext(id string) (ExecutionContext, bool) {
	m.mu.Lock()
	executor := m.executors[id]
	m.mu.Unlock()
	if executor == nil {
		return ExecutionContext{}, false
	}
	return executor.Context(), true
}

// ExecuteScenario 以指定模式启动场景，同一场景单飞
func (m *Manager) ExecuteScenario(id string, mode ExecutionMode) error {
	return m.launch(id, mode, "manual")
}

// ManualExecute 以场景默认模式手动启动，不影响其他运行中的场景
func (m *Manager) ManualExecute(id string) error {
	m.mu.Lock()
	def := m.scenarios[id]
	m.mu.Unlock()
	if def == nil {
		return ErrScenarioNotFound
	}
	return m.launch(id, def.EffectiveMode(), "manual")
}

// PauseScenario 暂停运行中的场景，未运行时no-op
func (m *Manager) PauseScenario(id string) {
	if executor := m.executor(id); executor != nil {
		executor.Pause()
	}
}

// ResumeScenario 恢复暂停的场景，未运行时no-op
func (m *Manager) ResumeScenario(id string) {
	if executor := m.executor(id); executor != nil {
		executor.Resume()
	}
}

// StepScenario 单步放行，未运行时no-op
func (m *Manager) StepScenario(id string) {
	if executor := m.executor(id); executor != nil {
		executor.Step()
	}
}

// StopScenario 停止运行中的场景
func (m *Manager) StopScenario(id string) {
	m.mu.Lock()
	executor := m.executors[id]
	delete(m.executors, id)
	m.mu.Unlock()
	if executor != nil {
		executor.Stop()
	}
}

// StopAllScenarios 停止该连接器全部运行中的场景
func (m *Manager) StopAllScenarios() {
	m.mu.Lock()
	stopped := make([]*Executor, 0, len(m.executors))
	for id, executor := range m.executors {
		stopped = append(stopped, executor)
		delete(m.executors, id)
	}
	m.mu.Unlock()

	for _, executor := range stopped {
		executor.Stop()
	}
}

// OnStatusChange 连接器状态变更通知入口
//
// 命中触发条件的场景集合非空时，先停止本连接器全部运行中的
// 场景（无论是否在新的命中集合内），再逐一启动命中场景。
// 整个匹配-停止-启动序列串行执行。
func (m *Manager) OnStatusChange(from, to ocpp16.ChargePointStatus) {
	m.triggerMu.Lock()
	defer m.triggerMu.Unlock()

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	var matched []*Definition
	for _, def := range m.scenarios {
		if def.Enabled && def.Trigger.Matches(from, to) {
			matched = append(matched, def)
		}
	}
	m.mu.Unlock()

	if len(matched) == 0 {
		return
	}

	m.logger.Infof("Status change %s -> %s matched %d scenarios on connector %d",
		from, to, len(matched), m.connectorID)
	m.StopAllScenarios()

	for _, def := range matched {
		if err := m.launch(def.ID, def.EffectiveMode(), "trigger"); err != nil {
			m.logger.Errorf("Failed to start scenario %s: %v", def.ID, err)
		}
	}
}

// Destroy 停止所有执行并清空状态，连接器teardown时调用一次
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	stopped := make([]*Executor, 0, len(m.executors))
	for _, executor := range m.executors {
		stopped = append(stopped, executor)
	}
	m.executors = make(map[string]*Executor)
	m.scenarios = make(map[string]*Definition)
	m.mu.Unlock()

	for _, executor := range stopped {
		executor.Stop()
	}
	m.logger.Debugf("Scenario manager for connector %d destroyed", m.connectorID)
}

// executor 查找存活执行器
func (m *Manager) executor(id string) *Executor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executors[id]
}

// launch 创建并启动一个新的执行器
func (m *Manager) launch(id string, mode ExecutionMode, kind string) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrManagerDestroyed
	}
	def := m.scenarios[id]
	if def == nil {
		m.mu.Unlock()
		return ErrScenarioNotFound
	}
	if !def.Enabled {
		m.mu.Unlock()
		return ErrScenarioDisabled
	}
	if _, running := m.executors[id]; running {
		m.mu.Unlock()
		return ErrScenarioActive
	}

	executor := NewExecutor(def, m.callbacks, m.observerFor(def), m.logger)
	m.executors[id] = executor
	m.mu.Unlock()

	if err := executor.Start(mode); err != nil {
		m.mu.Lock()
		delete(m.executors, id)
		m.mu.Unlock()
		return err
	}

	metrics.ScenariosStarted.WithLabelValues(kind).Inc()
	m.logger.Infof("Scenario %s started (%s, mode=%s)", id, kind, mode)

	// 终止后从存活表摘除
	go func() {
		<-executor.Done()
		m.mu.Lock()
		if m.executors[id] == executor {
			delete(m.executors, id)
		}
		m.mu.Unlock()
	}()
	return nil
}

// observerFor 构造把执行过程桥接到事件总线的观察者
func (m *Manager) observerFor(def *Definition) Observer {
	publish := func(event events.Event) {
		if m.bus != nil {
			m.bus.Publish(event)
		}
	}
	return Observer{
		OnStateChange: func(ctx ExecutionContext) {
			publish(events.New(events.EventTypeScenarioStateChanged, m.connectorID, events.ScenarioStatePayload{
				ScenarioID: def.ID,
				State:      string(ctx.State),
				Error:      ctx.Error,
			}))
		},
		OnNodeExecute: func(nodeID string) {
			nodeType := ""
			if n, ok := def.Node(nodeID); ok {
				nodeType = string(n.Type)
			}
			publish(events.New(events.EventTypeScenarioNodeExecuted, m.connectorID, events.NodeExecutedPayload{
				ScenarioID: def.ID,
				NodeID:     nodeID,
				NodeType:   nodeType,
			}))
		},
		OnNodeProgress: func(nodeID string, remaining, total float64) {
			publish(events.New(events.EventTypeScenarioNodeProgress, m.connectorID, events.NodeProgressPayload{
				ScenarioID: def.ID,
				NodeID:     nodeID,
				Remaining:  remaining,
				Total:      total,
			}))
		},
		OnError: func(err error) {
			publish(events.New(events.EventTypeScenarioError, m.connectorID, events.ScenarioErrorPayload{
				ScenarioID: def.ID,
				Message:    err.Error(),
			}))
		},
	}
}
