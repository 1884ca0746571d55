package ocpp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/metrics"
)

// CommandHandler 下行指令处理契约，由充电桩聚合实现
type CommandHandler interface {
	HandleRemoteStart(req *ocpp16.RemoteStartTransactionRequest) ocpp16.RemoteCommandStatus
	HandleRemoteStop(req *ocpp16.RemoteStopTransactionRequest) ocpp16.RemoteCommandStatus
	HandleReserveNow(req *ocpp16.ReserveNowRequest) ocpp16.RemoteCommandStatus
	HandleCancelReservation(req *ocpp16.CancelReservationRequest) ocpp16.RemoteCommandStatus
	HandleChangeAvailability(req *ocpp16.ChangeAvailabilityRequest) ocpp16.RemoteCommandStatus
}

// Config WebSocket客户端配置
type Config struct {
	// 连接配置
	URL           string `json:"url"`
	ChargePointID string `json:"charge_point_id"`

	// WebSocket配置
	HandshakeTimeout  time.Duration `json:"handshake_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	PingInterval      time.Duration `json:"ping_interval"`
	MaxMessageSize    int64         `json:"max_message_size"`
	EnableCompression bool          `json:"enable_compression"`

	// 请求响应配置
	CallTimeout time.Duration `json:"call_timeout"`

	// 启动通知配置
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageSize:    1024 * 1024, // 1MB
		EnableCompression: false,
		CallTimeout:       30 * time.Second,
		Vendor:            "ChargingPlatform",
		Model:             "Simulator",
	}
}

// callOutcome 一次Call的结果
type callOutcome struct {
	payload json.RawMessage
	err     error
}

// Client OCPP-J 1.6 WebSocket客户端
//
// 所有写入经由sendChan串行化；Call按消息ID关联响应。
type Client struct {
	config  *Config
	handler CommandHandler
	logger  *logger.Logger

	conn     *websocket.Conn
	sendChan chan []byte

	// 挂起的Call，按消息ID索引
	pending map[string]chan callOutcome
	mutex   sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool
}

// NewClient 创建OCPP客户端
func NewClient(config *Config, handler CommandHandler, log *logger.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.Global()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:   config,
		handler:  handler,
		logger:   log.With("ocpp-client"),
		sendChan: make(chan []byte, 256),
		pending:  make(map[string]chan callOutcome),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect 建立WebSocket连接并启动收发协程
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout:  c.config.HandshakeTimeout,
		Subprotocols:      []string{"ocpp1.6"},
		EnableCompression: c.config.EnableCompression,
	}

	endpoint := c.config.URL + "/" + c.config.ChargePointID
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	conn.SetReadLimit(c.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	c.conn = conn
	c.connected = true

	c.wg.Add(3)
	go c.sendRoutine()
	go c.receiveRoutine()
	go c.pingRoutine()

	c.logger.Infof("Connected to central system at %s (subprotocol: %s)", endpoint, conn.Subprotocol())
	return nil
}

// Close 关闭连接并使所有挂起的Call失败
func (c *Client) Close() {
	c.cancel()
	if c.conn != nil {
		c.conn.Close()
	}
	c.wg.Wait()

	c.mutex.Lock()
	for id, ch := range c.pending {
		ch <- callOutcome{err: fmt.Errorf("connection closed")}
		delete(c.pending, id)
	}
	c.connected = false
	c.mutex.Unlock()

	c.logger.Info("OCPP client closed")
}

// SendBootNotification 发送启动通知
func (c *Client) SendBootNotification(ctx context.Context) (*ocpp16.BootNotificationConfirmation, error) {
	req := ocpp16.BootNotificationRequest{
		ChargePointVendor: c.config.Vendor,
		ChargePointModel:  c.config.Model,
	}
	if c.config.FirmwareVersion != "" {
		fw := c.config.FirmwareVersion
		req.FirmwareVersion = &fw
	}

	payload, err := c.call(ctx, ocpp16.ActionBootNotification, req)
	if err != nil {
		return nil, err
	}
	var conf ocpp16.BootNotificationConfirmation
	if err := json.Unmarshal(payload, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse boot notification confirmation: %w", err)
	}
	return &conf, nil
}

// SendHeartbeat 发送心跳
func (c *Client) SendHeartbeat(ctx context.Context) error {
	_, err := c.call(ctx, ocpp16.ActionHeartbeat, struct{}{})
	return err
}

// SendStatusNotification 实现ChargePointService接口
func (c *Client) SendStatusNotification(ctx context.Context, connectorID int, status ocpp16.ChargePointStatus, errorCode ocpp16.ChargePointErrorCode) error {
	req := ocpp16.StatusNotificationRequest{
		ConnectorId: connectorID,
		ErrorCode:   errorCode,
		Status:      status,
		Timestamp:   ocpp16.NewDateTime(time.Now()),
	}
	_, err := c.call(ctx, ocpp16.ActionStatusNotification, req)
	return err
}

// StartTransaction 实现ChargePointService接口
func (c *Client) StartTransaction(ctx context.Context, connectorID int, idTag string, meterStart int) (int, error) {
	req := ocpp16.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       idTag,
		MeterStart:  meterStart,
		Timestamp:   ocpp16.NewDateTime(time.Now()),
	}
	payload, err := c.call(ctx, ocpp16.ActionStartTransaction, req)
	if err != nil {
		return 0, err
	}
	var conf ocpp16.StartTransactionConfirmation
	if err := json.Unmarshal(payload, &conf); err != nil {
		return 0, fmt.Errorf("failed to parse start transaction confirmation: %w", err)
	}
	return conf.TransactionId, nil
}

// StopTransaction 实现ChargePointService接口
func (c *Client) StopTransaction(ctx context.Context, transactionID int, meterStop int, idTag *string) error {
	req := ocpp16.StopTransactionRequest{
		IdTag:         idTag,
		MeterStop:     meterStop,
		Timestamp:     ocpp16.NewDateTime(time.Now()),
		TransactionId: transactionID,
	}
	_, err := c.call(ctx, ocpp16.ActionStopTransaction, req)
	return err
}

// SendMeterValues 实现ChargePointService接口
func (c *Client) SendMeterValues(ctx context.Context, connectorID int, transactionID *int, valueWh int) error {
	req := ocpp16.MeterValuesRequest{
		ConnectorId:   connectorID,
		TransactionId: transactionID,
		MeterValue: []ocpp16.MeterValue{{
			Timestamp: ocpp16.NewDateTime(time.Now()),
			SampledValue: []ocpp16.SampledValue{{
				Value:     strconv.Itoa(valueWh),
				Measurand: "Energy.Active.Import.Register",
				Unit:      "Wh",
			}},
		}},
	}
	_, err := c.call(ctx, ocpp16.ActionMeterValues, req)
	return err
}

// SendDataTransfer 实现ChargePointService接口
func (c *Client) SendDataTransfer(ctx context.Context, messageID string, payload json.RawMessage) error {
	req := ocpp16.DataTransferRequest{
		VendorId:  c.config.Vendor,
		MessageId: &messageID,
		Data:      payload,
	}
	_, err := c.call(ctx, ocpp16.ActionDataTransfer, req)
	return err
}

// call 发送Call帧并等待对应的CallResult
func (c *Client) call(ctx context.Context, action ocpp16.Action, payload interface{}) (json.RawMessage, error) {
	messageID := uuid.New().String()
	frame, err := json.Marshal([]interface{}{ocpp16.Call, messageID, action, payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s call: %w", action, err)
	}

	outcomeChan := make(chan callOutcome, 1)
	c.mutex.Lock()
	if !c.connected {
		c.mutex.Unlock()
		return nil, fmt.Errorf("client not connected")
	}
	c.pending[messageID] = outcomeChan
	c.mutex.Unlock()
	defer c.removePending(messageID)

	select {
	case c.sendChan <- frame:
	case <-c.ctx.Done():
		return nil, fmt.Errorf("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	metrics.MessagesSent.WithLabelValues(string(action)).Inc()

	timer := time.NewTimer(c.config.CallTimeout)
	defer timer.Stop()

	select {
	case outcome := <-outcomeChan:
		return outcome.payload, outcome.err
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for %s response", action)
	case <-c.ctx.Done():
		return nil, fmt.Errorf("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// removePending 清理挂起的Call
func (c *Client) removePending(messageID string) {
	c.mutex.Lock()
	delete(c.pending, messageID)
	c.mutex.Unlock()
}

// sendRoutine 发送协程，串行化所有WebSocket写入
func (c *Client) sendRoutine() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Errorf("Failed to send message: %v", err)
				return
			}
		}
	}
}

// receiveRoutine 接收协程
func (c *Client) receiveRoutine() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			messageType, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Errorf("WebSocket error: %v", err)
				}
				return
			}
			if messageType == websocket.TextMessage {
				c.handleFrame(message)
			}
		}
	}
}

// pingRoutine ping协程
func (c *Client) pingRoutine() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warnf("Failed to send ping: %v", err)
				return
			}
		}
	}
}

// handleFrame 解析并分发OCPP-J帧
func (c *Client) handleFrame(message []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) < 3 {
		c.logger.Errorf("Received malformed frame: %s", string(message))
		return
	}

	var messageType int
	if err := json.Unmarshal(frame[0], &messageType); err != nil {
		c.logger.Errorf("Received frame with invalid message type: %s", string(message))
		return
	}
	var messageID string
	if err := json.Unmarshal(frame[1], &messageID); err != nil {
		c.logger.Errorf("Received frame with invalid message ID: %s", string(message))
		return
	}

	switch ocpp16.MessageType(messageType) {
	case ocpp16.CallResult:
		c.resolvePending(messageID, callOutcome{payload: frame[2]})
	case ocpp16.CallError:
		var code, description string
		json.Unmarshal(frame[2], &code)
		if len(frame) > 3 {
			json.Unmarshal(frame[3], &description)
		}
		c.resolvePending(messageID, callOutcome{err: fmt.Errorf("call error %s: %s", code, description)})
	case ocpp16.Call:
		if len(frame) < 4 {
			c.logger.Errorf("Received call frame without payload: %s", string(message))
			return
		}
		var action ocpp16.Action
		if err := json.Unmarshal(frame[2], &action); err != nil {
			c.logger.Errorf("Received call frame with invalid action: %s", string(message))
			return
		}
		c.handleCall(messageID, action, frame[3])
	default:
		c.logger.Warnf("Received unknown message type %d", messageType)
	}
}

// resolvePending 把响应递交给等待的Call
func (c *Client) resolvePending(messageID string, outcome callOutcome) {
	c.mutex.Lock()
	ch, exists := c.pending[messageID]
	if exists {
		delete(c.pending, messageID)
	}
	c.mutex.Unlock()

	if !exists {
		c.logger.Warnf("Received response for unknown message ID: %s", messageID)
		return
	}
	ch <- outcome
}

// handleCall 处理中央系统发起的下行Call
func (c *Client) handleCall(messageID string, action ocpp16.Action, payload json.RawMessage) {
	c.logger.Debugf("Handling %s call from central system", action)

	if c.handler == nil {
		c.sendCallError(messageID, "NotImplemented", fmt.Sprintf("no handler for action %s", action))
		return
	}

	var status ocpp16.RemoteCommandStatus
	var parseErr error

	switch action {
	case ocpp16.ActionRemoteStartTransaction:
		var req ocpp16.RemoteStartTransactionRequest
		if parseErr = json.Unmarshal(payload, &req); parseErr == nil {
			status = c.handler.HandleRemoteStart(&req)
		}
	case ocpp16.ActionRemoteStopTransaction:
		var req ocpp16.RemoteStopTransactionRequest
		if parseErr = json.Unmarshal(payload, &req); parseErr == nil {
			status = c.handler.HandleRemoteStop(&req)
		}
	case ocpp16.ActionReserveNow:
		var req ocpp16.ReserveNowRequest
		if parseErr = json.Unmarshal(payload, &req); parseErr == nil {
			status = c.handler.HandleReserveNow(&req)
		}
	case ocpp16.ActionCancelReservation:
		var req ocpp16.CancelReservationRequest
		if parseErr = json.Unmarshal(payload, &req); parseErr == nil {
			status = c.handler.HandleCancelReservation(&req)
		}
	case ocpp16.ActionChangeAvailability:
		var req ocpp16.ChangeAvailabilityRequest
		if parseErr = json.Unmarshal(payload, &req); parseErr == nil {
			status = c.handler.HandleChangeAvailability(&req)
		}
	default:
		c.sendCallError(messageID, "NotImplemented", fmt.Sprintf("action %s not supported", action))
		return
	}

	if parseErr != nil {
		c.sendCallError(messageID, "FormationViolation", parseErr.Error())
		return
	}

	c.sendCallResult(messageID, map[string]interface{}{"status": status})
}

// sendCallResult 发送CallResult帧
func (c *Client) sendCallResult(messageID string, payload interface{}) {
	frame, err := json.Marshal([]interface{}{ocpp16.CallResult, messageID, payload})
	if err != nil {
		c.logger.Errorf("Failed to marshal call result: %v", err)
		return
	}
	c.enqueue(frame)
}

// sendCallError 发送CallError帧
func (c *Client) sendCallError(messageID, code, description string) {
	frame, err := json.Marshal([]interface{}{ocpp16.CallError, messageID, code, description, map[string]interface{}{}})
	if err != nil {
		c.logger.Errorf("Failed to marshal call error: %v", err)
		return
	}
	c.enqueue(frame)
}

// enqueue 投递帧到发送队列
func (c *Client) enqueue(frame []byte) {
	select {
	case c.sendChan <- frame:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("Send channel full, dropping frame")
	}
}
