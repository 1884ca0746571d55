package chargepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charging-platform/charge-point-simulator/internal/connector"
	"github.com/charging-platform/charge-point-simulator/internal/domain/events"
	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/meter"
	"github.com/charging-platform/charge-point-simulator/internal/scenario"
)

// ChargePointService 协议协作方契约
//
// 由传输层实现；核心只依赖该窄接口，不依赖具体客户端。
type ChargePointService interface {
	// SendStatusNotification 上报连接器状态
	SendStatusNotification(ctx context.Context, connectorID int, status ocpp16.ChargePointStatus, errorCode ocpp16.ChargePointErrorCode) error
	// StartTransaction 上报交易开始，返回服务端分配的交易ID
	StartTransaction(ctx context.Context, connectorID int, idTag string, meterStart int) (int, error)
	// StopTransaction 上报交易结束
	StopTransaction(ctx context.Context, transactionID int, meterStop int, idTag *string) error
	// SendMeterValues 上报电表读数
	SendMeterValues(ctx context.Context, connectorID int, transactionID *int, valueWh int) error
	// SendDataTransfer 发送任意命名消息
	SendDataTransfer(ctx context.Context, messageID string, payload json.RawMessage) error
}

// Config 充电桩配置
type Config struct {
	ID             string
	ConnectorCount int
	InitialMeterWh int
	DefaultIdTag   string
}

// reservation 连接器上的预约
type reservation struct {
	ID     int
	IdTag  string
	Expiry time.Time
}

// commandWaiters 单个连接器的远程指令等待者注册表
type commandWaiters struct {
	mu          sync.Mutex
	remoteStart []chan string
	reservation []chan int
}

// ChargePoint 模拟充电桩聚合
//
// 拥有连接器集合，接收下行远程指令并路由到对应连接器的
// 等待者；为每个连接器装配场景执行回调。
type ChargePoint struct {
	id      string
	config  Config
	bus     *events.Bus
	service ChargePointService
	logger  *logger.Logger

	mu           sync.RWMutex
	connectors   map[int]*connector.Connector
	waiters      map[int]*commandWaiters
	reservations map[int]*reservation
	closed       bool
}

// New 创建充电桩及其连接器
func New(cfg Config, service ChargePointService, bus *events.Bus, log *logger.Logger) *ChargePoint {
	if log == nil {
		log = logger.Global()
	}
	if cfg.ConnectorCount <= 0 {
		cfg.ConnectorCount = 1
	}
	cp := &ChargePoint{
		id:           cfg.ID,
		config:       cfg,
		bus:          bus,
		service:      service,
		logger:       log.With("charge-point"),
		connectors:   make(map[int]*connector.Connector),
		waiters:      make(map[int]*commandWaiters),
		reservations: make(map[int]*reservation),
	}

	for i := 1; i <= cfg.ConnectorCount; i++ {
		conn := connector.New(connector.Config{
			ID:             i,
			InitialMeterWh: cfg.InitialMeterWh,
		}, bus, log)
		conn.SetMeterSender(cp.meterSender)
		manager := scenario.NewManager(i, cp.callbacksFor(conn), bus, log)
		conn.AttachManager(manager)
		cp.connectors[i] = conn
		cp.waiters[i] = &commandWaiters{}
	}
	return cp
}

// ID 充电桩标识
func (cp *ChargePoint) ID() string {
	return cp.id
}

// Connector 按编号获取连接器
func (cp *ChargePoint) Connector(id int) (*connector.Connector, bool) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	conn, ok := cp.connectors[id]
	return conn, ok
}

// Connectors 全部连接器
func (cp *ChargePoint) Connectors() []*connector.Connector {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	result := make([]*connector.Connector, 0, len(cp.connectors))
	for i := 1; i <= len(cp.connectors); i++ {
		if conn, ok := cp.connectors[i]; ok {
			result = append(result, conn)
		}
	}
	return result
}

// LoadScenarios 把场景定义路由到目标连接器的管理器
//
// 未指定连接器的整桩场景归属1号连接器。
func (cp *ChargePoint) LoadScenarios(defs []*scenario.Definition) {
	byConnector := make(map[int][]*scenario.Definition)
	for _, def := range defs {
		target := 1
		if def.ConnectorID != nil {
			target = *def.ConnectorID
		}
		byConnector[target] = append(byConnector[target], def)
	}
	for id, group := range byConnector {
		conn, ok := cp.Connector(id)
		if !ok {
			cp.logger.Warnf("Dropping %d scenarios for unknown connector %d", len(group), id)
			continue
		}
		if m := conn.Manager(); m != nil {
			m.LoadScenarios(group)
		}
	}
}

// Close 停止所有场景与调度器并释放连接器
func (cp *ChargePoint) Close() {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return
	}
	cp.closed = true
	conns := make([]*connector.Connector, 0, len(cp.connectors))
	for _, conn := range cp.connectors {
		conns = append(conns, conn)
	}
	cp.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	cp.logger.Infof("Charge point %s closed", cp.id)
}

// 下行指令入口

// HandleRemoteStart 处理远程启动指令
//
// 指令递交给目标连接器上挂起的remoteStartTrigger等待者；
// 没有等待者时拒绝。未指定连接器时投递给任意有等待者的连接器。
func (cp *ChargePoint) HandleRemoteStart(req *ocpp16.RemoteStartTransactionRequest) ocpp16.RemoteCommandStatus {
	targets := cp.waiterTargets(req.ConnectorId)
	for _, w := range targets {
		w.mu.Lock()
		if len(w.remoteStart) > 0 {
			ch := w.remoteStart[0]
			w.remoteStart = w.remoteStart[1:]
			w.mu.Unlock()
			ch <- req.IdTag
			return ocpp16.RemoteCommandAccepted
		}
		w.mu.Unlock()
	}
	cp.logger.Warnf("Remote start for idTag %s rejected: no waiter", req.IdTag)
	return ocpp16.RemoteCommandRejected
}

// HandleRemoteStop 处理远程停止指令
func (cp *ChargePoint) HandleRemoteStop(req *ocpp16.RemoteStopTransactionRequest) ocpp16.RemoteCommandStatus {
	for _, conn := range cp.Connectors() {
		t := conn.Transaction()
		if t == nil || t.ID == nil || *t.ID != req.TransactionId {
			continue
		}
		stopped := conn.StopTransaction()
		conn.SetStatus(ocpp16.StatusFinishing)
		if stopped != nil && stopped.ID != nil && cp.service != nil {
			meterStop := conn.MeterValueWh()
			go func(id, meterStop int) {
				if err := cp.service.StopTransaction(context.Background(), id, meterStop, nil); err != nil {
					cp.logger.ErrorWithErr(err, "Failed to report remote-stopped transaction")
				}
			}(*stopped.ID, meterStop)
		}
		return ocpp16.RemoteCommandAccepted
	}
	return ocpp16.RemoteCommandRejected
}

// HandleReserveNow 处理预约指令
func (cp *ChargePoint) HandleReserveNow(req *ocpp16.ReserveNowRequest) ocpp16.RemoteCommandStatus {
	conn, ok := cp.Connector(req.ConnectorId)
	if !ok {
		return ocpp16.RemoteCommandRejected
	}

	cp.mu.Lock()
	cp.reservations[req.ConnectorId] = &reservation{
		ID:     req.ReservationId,
		IdTag:  req.IdTag,
		Expiry: req.ExpiryDate.Time,
	}
	cp.mu.Unlock()

	conn.SetStatus(ocpp16.StatusReserved)

	// 唤醒挂起的reservationTrigger等待者
	if w := cp.waiters[req.ConnectorId]; w != nil {
		w.mu.Lock()
		if len(w.reservation) > 0 {
			ch := w.reservation[0]
			w.reservation = w.reservation[1:]
			w.mu.Unlock()
			ch <- req.ReservationId
		} else {
			w.mu.Unlock()
		}
	}
	return ocpp16.RemoteCommandAccepted
}

// HandleCancelReservation 处理取消预约指令
func (cp *ChargePoint) HandleCancelReservation(req *ocpp16.CancelReservationRequest) ocpp16.RemoteCommandStatus {
	cp.mu.Lock()
	var connectorID int
	found := false
	for id, r := range cp.reservations {
		if r.ID == req.ReservationId {
			connectorID = id
			found = true
			delete(cp.reservations, id)
			break
		}
	}
	cp.mu.Unlock()

	if !found {
		return ocpp16.RemoteCommandRejected
	}
	if conn, ok := cp.Connector(connectorID); ok && conn.Status() == ocpp16.StatusReserved {
		conn.SetStatus(ocpp16.StatusAvailable)
	}
	return ocpp16.RemoteCommandAccepted
}

// HandleChangeAvailability 处理可用性变更指令，connectorId为0时作用于全部连接器
func (cp *ChargePoint) HandleChangeAvailability(req *ocpp16.ChangeAvailabilityRequest) ocpp16.RemoteCommandStatus {
	if req.ConnectorId == 0 {
		for _, conn := range cp.Connectors() {
			conn.SetAvailability(req.Type)
		}
		return ocpp16.RemoteCommandAccepted
	}
	conn, ok := cp.Connector(req.ConnectorId)
	if !ok {
		return ocpp16.RemoteCommandRejected
	}
	conn.SetAvailability(req.Type)
	return ocpp16.RemoteCommandAccepted
}

// 执行器回调装配

// callbacksFor 为连接器装配场景节点回调
func (cp *ChargePoint) callbacksFor(conn *connector.Connector) scenario.Callbacks {
	return scenario.Callbacks{
		ChangeStatus: func(ctx context.Context, status ocpp16.ChargePointStatus) error {
			conn.SetStatus(status)
			if cp.service == nil {
				return nil
			}
			return cp.service.SendStatusNotification(ctx, conn.ID(), status, ocpp16.ErrorCodeNoError)
		},
		StartTransaction: func(ctx context.Context, idTag string, battery *scenario.BatteryParams) error {
			if idTag == "" {
				idTag = cp.config.DefaultIdTag
			}
			t := conn.StartTransaction(idTag, battery)
			if cp.service == nil {
				return nil
			}
			transactionID, err := cp.service.StartTransaction(ctx, conn.ID(), idTag, t.MeterStart)
			if err != nil {
				return fmt.Errorf("start transaction: %w", err)
			}
			conn.ConfirmTransaction(transactionID)
			return nil
		},
		StopTransaction: func(ctx context.Context) error {
			t := conn.StopTransaction()
			if t == nil || t.ID == nil || cp.service == nil {
				return nil
			}
			idTag := t.IdTag
			return cp.service.StopTransaction(ctx, *t.ID, conn.MeterValueWh(), &idTag)
		},
		SetMeterValue: func(valueWh int, send bool) error {
			conn.SetMeterValue(valueWh, send)
			return nil
		},
		StartAutoMeter: func(cfg meter.IncrementConfig) error {
			conn.StartAutoMeter(cfg)
			return nil
		},
		SendMessage: func(ctx context.Context, messageType string, payload json.RawMessage) error {
			if cp.service == nil {
				return nil
			}
			return cp.service.SendDataTransfer(ctx, messageType, payload)
		},
		Plug: func(ctx context.Context, action scenario.PlugAction) error {
			conn.Plug(action)
			return nil
		},
		WaitForRemoteStart: func(ctx context.Context) (string, error) {
			return cp.waitForRemoteStart(ctx, conn.ID())
		},
		WaitForStatus: func(ctx context.Context, status ocpp16.ChargePointStatus, timeout time.Duration) error {
			return cp.waitForStatus(ctx, conn, status, timeout)
		},
		WaitForReservation: func(ctx context.Context, timeout time.Duration) (int, error) {
			return cp.waitForReservation(ctx, conn.ID(), timeout)
		},
		ReserveNow: func(ctx context.Context, req scenario.ReservationRequest) error {
			cp.mu.Lock()
			cp.reservations[conn.ID()] = &reservation{
				ID:     req.ReservationID,
				IdTag:  req.IdTag,
				Expiry: req.Expiry,
			}
			cp.mu.Unlock()
			conn.SetStatus(ocpp16.StatusReserved)
			return nil
		},
		CancelReservation: func(ctx context.Context, reservationID int) error {
			status := cp.HandleCancelReservation(&ocpp16.CancelReservationRequest{ReservationId: reservationID})
			if status == ocpp16.RemoteCommandRejected {
				return fmt.Errorf("reservation %d not found", reservationID)
			}
			return nil
		},
	}
}

// meterSender 电表值上报回调
func (cp *ChargePoint) meterSender(connectorID int, transactionID *int, valueWh int) {
	if cp.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cp.service.SendMeterValues(ctx, connectorID, transactionID, valueWh); err != nil {
		cp.logger.ErrorWithErr(err, "Failed to send meter values")
	}
}

// waitForRemoteStart 阻塞等待远程启动指令，返回idTag
func (cp *ChargePoint) waitForRemoteStart(ctx context.Context, connectorID int) (string, error) {
	w := cp.waiters[connectorID]
	ch := make(chan string, 1)
	w.mu.Lock()
	w.remoteStart = append(w.remoteStart, ch)
	w.mu.Unlock()
	defer cp.removeRemoteStartWaiter(connectorID, ch)

	select {
	case idTag := <-ch:
		return idTag, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// waitForStatus 阻塞等待连接器到达目标状态
//
// timeout为正时到期返回错误；零超时表示无限等待。
func (cp *ChargePoint) waitForStatus(ctx context.Context, conn *connector.Connector, target ocpp16.ChargePointStatus, timeout time.Duration) error {
	if conn.Status() == target {
		return nil
	}

	reached := make(chan struct{}, 1)
	unsubscribe := cp.bus.Subscribe(events.EventTypeConnectorStatusChanged, func(ev events.Event) {
		if ev.ConnectorID != conn.ID() {
			return
		}
		if payload, ok := ev.Payload.(events.StatusChangedPayload); ok && payload.To == target {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	// 订阅与首检之间的窗口
	if conn.Status() == target {
		return nil
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-reached:
		return nil
	case <-timeoutCh:
		return fmt.Errorf("timed out waiting for status %s on connector %d", target, conn.ID())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForReservation 阻塞等待预约指令，返回预约ID
func (cp *ChargePoint) waitForReservation(ctx context.Context, connectorID int, timeout time.Duration) (int, error) {
	w := cp.waiters[connectorID]
	ch := make(chan int, 1)
	w.mu.Lock()
	w.reservation = append(w.reservation, ch)
	w.mu.Unlock()
	defer cp.removeReservationWaiter(connectorID, ch)

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case reservationID := <-ch:
		return reservationID, nil
	case <-timeoutCh:
		return 0, fmt.Errorf("timed out waiting for reservation on connector %d", connectorID)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// waiterTargets 指令投递目标，未指定连接器时遍历全部
func (cp *ChargePoint) waiterTargets(connectorID *int) []*commandWaiters {
	if connectorID != nil {
		if w, ok := cp.waiters[*connectorID]; ok {
			return []*commandWaiters{w}
		}
		return nil
	}
	targets := make([]*commandWaiters, 0, len(cp.waiters))
	for i := 1; i <= len(cp.waiters); i++ {
		if w, ok := cp.waiters[i]; ok {
			targets = append(targets, w)
		}
	}
	return targets
}

func (cp *ChargePoint) removeRemoteStartWaiter(connectorID int, ch chan string) {
	w := cp.waiters[connectorID]
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range w.remoteStart {
		if c == ch {
			w.remoteStart = append(w.remoteStart[:i], w.remoteStart[i+1:]...)
			return
		}
	}
}

func (cp *ChargePoint) removeReservationWaiter(connectorID int, ch chan int) {
	w := cp.waiters[connectorID]
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range w.reservation {
		if c == ch {
			w.reservation = append(w.reservation[:i], w.reservation[i+1:]...)
			return
		}
	}
}
