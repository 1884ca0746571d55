package connector

import (
	"sync"
	"time"

	"github.com/charging-platform/charge-point-simulator/internal/domain/events"
	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/meter"
	"github.com/charging-platform/charge-point-simulator/internal/scenario"
)

// Transaction 连接器上的活动交易
type Transaction struct {
	ID                 *int       `json:"id,omitempty"` // 服务端确认前为nil
	IdTag              string     `json:"id_tag"`
	MeterStart         int        `json:"meter_start"`
	StartTime          time.Time  `json:"start_time"`
	StopTime           *time.Time `json:"stop_time,omitempty"`
	BatteryCapacityKWh *float64   `json:"battery_capacity_kwh,omitempty"`
	InitialSoC         *float64   `json:"initial_soc,omitempty"`
}

// AutoMeterConfig 自动电表值配置
type AutoMeterConfig struct {
	Enabled      bool               `json:"enabled"`
	CurvePoints  []meter.CurvePoint `json:"curve_points,omitempty"`
	Interval     time.Duration      `json:"interval,omitempty"`
	AutoInterval bool               `json:"auto_interval,omitempty"`
}

// MeterSender 电表值上报回调
type MeterSender func(connectorID int, transactionID *int, valueWh int)

// Config 连接器配置
type Config struct {
	ID                int
	InitialMeterWh    int
	IncrementFallback meter.IncrementConfig // 无曲线配置时的递增兜底
}

// Connector 连接器聚合
//
// 持有单个插座的全部可变状态，状态变更通过事件总线通知；
// 独占拥有电表调度器与场景管理器，Close()负责释放两者。
type Connector struct {
	id     int
	bus    *events.Bus
	logger *logger.Logger

	mu                sync.RWMutex
	status            ocpp16.ChargePointStatus
	availability      ocpp16.AvailabilityType
	meterWh           int
	soc               *float64
	transaction       *Transaction
	pluggedIn         bool
	autoMeter         AutoMeterConfig
	incrementFallback meter.IncrementConfig
	closed            bool

	scheduler *meter.Scheduler
	manager   *scenario.Manager
	sendMeter MeterSender
}

// New 创建连接器
func New(cfg Config, bus *events.Bus, log *logger.Logger) *Connector {
	if log == nil {
		log = logger.Global()
	}
	c := &Connector{
		id:                cfg.ID,
		bus:               bus,
		logger:            log.With("connector"),
		status:            ocpp16.StatusAvailable,
		availability:      ocpp16.AvailabilityOperative,
		meterWh:           cfg.InitialMeterWh,
		incrementFallback: cfg.IncrementFallback,
	}
	c.scheduler = meter.NewScheduler(c, log)
	return c
}

// ID 连接器编号
func (c *Connector) ID() int {
	return c.id
}

// AttachManager 挂接场景管理器，连接器负责其teardown
func (c *Connector) AttachManager(m *scenario.Manager) {
	c.mu.Lock()
	c.manager = m
	c.mu.Unlock()
}

// Manager 当前挂接的场景管理器
func (c *Connector) Manager() *scenario.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manager
}

// SetMeterSender 注入电表值上报回调
func (c *Connector) SetMeterSender(sender MeterSender) {
	c.mu.Lock()
	c.sendMeter = sender
	c.mu.Unlock()
}

// Scheduler 连接器独占的电表调度器
func (c *Connector) Scheduler() *meter.Scheduler {
	return c.scheduler
}

// Status 当前状态
func (c *Connector) Status() ocpp16.ChargePointStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus 变更状态，通知事件总线并驱动场景触发匹配
func (c *Connector) SetStatus(to ocpp16.ChargePointStatus) {
	c.mu.Lock()
	from := c.status
	if from == to {
		c.mu.Unlock()
		return
	}
	c.status = to
	manager := c.manager
	c.mu.Unlock()

	c.logger.Infof("Connector %d status changed: %s -> %s", c.id, from, to)
	c.publish(events.EventTypeConnectorStatusChanged, events.StatusChangedPayload{From: from, To: to})

	if manager != nil {
		manager.OnStatusChange(from, to)
	}
}

// Availability 当前可用性
func (c *Connector) Availability() ocpp16.AvailabilityType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.availability
}

// SetAvailability 变更可用性
func (c *Connector) SetAvailability(availability ocpp16.AvailabilityType) {
	c.mu.Lock()
	if c.availability == availability {
		c.mu.Unlock()
		return
	}
	c.availability = availability
	c.mu.Unlock()

	c.publish(events.EventTypeConnectorAvailability, events.AvailabilityPayload{Availability: availability})
	if availability == ocpp16.AvailabilityInoperative {
		c.SetStatus(ocpp16.StatusUnavailable)
	} else {
		c.SetStatus(ocpp16.StatusAvailable)
	}
}

// MeterValueWh 读取电表值，实现meter.Sink
func (c *Connector) MeterValueWh() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meterWh
}

// SetMeterValueWh 写入电表值，实现meter.Sink
func (c *Connector) SetMeterValueWh(valueWh int) {
	c.mu.Lock()
	c.meterWh = valueWh
	c.mu.Unlock()
	c.publish(events.EventTypeConnectorMeterUpdated, events.MeterUpdatedPayload{ValueWh: valueWh})
}

// SendMeterValue 上报当前电表值，实现meter.Sink
func (c *Connector) SendMeterValue() {
	c.mu.RLock()
	sender := c.sendMeter
	value := c.meterWh
	var transactionID *int
	if c.transaction != nil {
		transactionID = c.transaction.ID
	}
	c.mu.RUnlock()

	if sender != nil {
		sender(c.id, transactionID, value)
	}
	c.publish(events.EventTypeConnectorMeterUpdated, events.MeterUpdatedPayload{ValueWh: value, Sent: true})
}

// SetMeterValue 设置电表值，send为真时同时上报
func (c *Connector) SetMeterValue(valueWh int, send bool) {
	c.SetMeterValueWh(valueWh)
	if send {
		c.SendMeterValue()
	}
}

// SoC 当前电池电量
func (c *Connector) SoC() *float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.soc
}

// SetSoC 设置电池电量
func (c *Connector) SetSoC(soc float64) {
	c.mu.Lock()
	c.soc = &soc
	c.mu.Unlock()
	c.publish(events.EventTypeConnectorSoCUpdated, events.SoCUpdatedPayload{SoC: soc})
}

// Transaction 当前活动交易快照
func (c *Connector) Transaction() *Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.transaction == nil {
		return nil
	}
	t := *c.transaction
	return &t
}

// StartTransaction 开启本地交易，交易ID由服务端异步确认
func (c *Connector) StartTransaction(idTag string, battery *scenario.BatteryParams) *Transaction {
	c.mu.Lock()
	t := &Transaction{
		IdTag:      idTag,
		MeterStart: c.meterWh,
		StartTime:  time.Now().UTC(),
	}
	if battery != nil {
		t.BatteryCapacityKWh = battery.CapacityKWh
		t.InitialSoC = battery.InitialSoC
		if battery.InitialSoC != nil {
			soc := *battery.InitialSoC
			c.soc = &soc
		}
	}
	c.transaction = t
	snapshot := *t
	c.mu.Unlock()

	c.logger.Infof("Transaction started on connector %d by %s", c.id, idTag)
	c.publish(events.EventTypeTransactionStarted, events.TransactionPayload{
		IdTag:     snapshot.IdTag,
		MeterWh:   snapshot.MeterStart,
		Timestamp: snapshot.StartTime,
	})
	return &snapshot
}

// ConfirmTransaction 服务端确认交易ID
func (c *Connector) ConfirmTransaction(transactionID int) {
	c.mu.Lock()
	if c.transaction != nil {
		c.transaction.ID = &transactionID
	}
	c.mu.Unlock()
}

// StopTransaction 结束本地交易并停止自动电表
func (c *Connector) StopTransaction() *Transaction {
	c.mu.Lock()
	t := c.transaction
	if t == nil {
		c.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	t.StopTime = &now
	c.transaction = nil
	meterStop := c.meterWh
	snapshot := *t
	c.mu.Unlock()

	c.scheduler.Stop()

	c.logger.Infof("Transaction stopped on connector %d, meter=%dWh", c.id, meterStop)
	c.publish(events.EventTypeTransactionStopped, events.TransactionPayload{
		TransactionID: snapshot.ID,
		IdTag:         snapshot.IdTag,
		MeterWh:       meterStop,
		Timestamp:     now,
	})
	return &snapshot
}

// PluggedIn 是否已插枪
func (c *Connector) PluggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pluggedIn
}

// Plug 插枪/拔枪
func (c *Connector) Plug(action scenario.PlugAction) {
	pluggedIn := action == scenario.PlugActionPlugIn
	c.mu.Lock()
	if c.pluggedIn == pluggedIn {
		c.mu.Unlock()
		return
	}
	c.pluggedIn = pluggedIn
	c.mu.Unlock()

	c.publish(events.EventTypeConnectorPlugChanged, events.PlugChangedPayload{PluggedIn: pluggedIn})
	if pluggedIn {
		c.SetStatus(ocpp16.StatusPreparing)
	} else {
		c.SetStatus(ocpp16.StatusAvailable)
	}
}

// AutoMeterConfig 当前自动电表配置
func (c *Connector) AutoMeterConfig() AutoMeterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoMeter
}

// SetAutoMeterConfig 更新自动电表配置
func (c *Connector) SetAutoMeterConfig(cfg AutoMeterConfig) {
	c.mu.Lock()
	c.autoMeter = cfg
	c.mu.Unlock()
}

// StartAutoMeter 按场景节点配置启动递增策略
func (c *Connector) StartAutoMeter(cfg meter.IncrementConfig) {
	c.scheduler.StartIncrement(cfg)
}

// StartConfiguredMeter 按连接器自身配置启动自动电表
//
// 配置了曲线控制点时走曲线策略，否则回退到递增兜底。
func (c *Connector) StartConfiguredMeter() {
	c.mu.RLock()
	autoMeter := c.autoMeter
	fallback := c.incrementFallback
	c.mu.RUnlock()

	if autoMeter.Enabled && len(autoMeter.CurvePoints) > 0 {
		c.scheduler.StartCurve(meter.CurveConfig{
			Points:       autoMeter.CurvePoints,
			Interval:     autoMeter.Interval,
			AutoInterval: autoMeter.AutoInterval,
		})
		return
	}
	if fallback.IncrementWh > 0 {
		c.scheduler.StartIncrement(fallback)
	}
}

// Close 释放调度器与场景管理器，teardown时调用一次
func (c *Connector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	manager := c.manager
	c.manager = nil
	c.mu.Unlock()

	c.scheduler.Stop()
	c.scheduler.Wait()
	if manager != nil {
		manager.Destroy()
	}
	c.logger.Debugf("Connector %d closed", c.id)
}

// publish 发布连接器事件
func (c *Connector) publish(eventType events.EventType, payload interface{}) {
	if c.bus != nil {
		c.bus.Publish(events.New(eventType, c.id, payload))
	}
}
