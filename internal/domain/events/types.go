package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
)

// EventType 事件类型
type EventType string

const (
	// 连接器事件
	EventTypeConnectorStatusChanged EventType = "connector.status_changed"
	EventTypeConnectorAvailability  EventType = "connector.availability_changed"
	EventTypeConnectorMeterUpdated  EventType = "connector.meter_updated"
	EventTypeConnectorSoCUpdated    EventType = "connector.soc_updated"
	EventTypeTransactionStarted     EventType = "connector.transaction_started"
	EventTypeTransactionStopped     EventType = "connector.transaction_stopped"
	EventTypeConnectorPlugChanged   EventType = "connector.plug_changed"

	// 场景事件
	EventTypeScenarioStateChanged EventType = "scenario.state_changed"
	EventTypeScenarioNodeExecuted EventType = "scenario.node_executed"
	EventTypeScenarioNodeProgress EventType = "scenario.node_progress"
	EventTypeScenarioError        EventType = "scenario.error"
)

// Event 统一事件结构
type Event struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"type"`
	ConnectorID int         `json:"connector_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload,omitempty"`
}

// New 创建事件
func New(eventType EventType, connectorID int, payload interface{}) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		ConnectorID: connectorID,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
}

// StatusChangedPayload 状态变更载荷
type StatusChangedPayload struct {
	From ocpp16.ChargePointStatus `json:"from"`
	To   ocpp16.ChargePointStatus `json:"to"`
}

// AvailabilityPayload 可用性变更载荷
type AvailabilityPayload struct {
	Availability ocpp16.AvailabilityType `json:"availability"`
}

// MeterUpdatedPayload 电表值变更载荷
type MeterUpdatedPayload struct {
	ValueWh int  `json:"value_wh"`
	Sent    bool `json:"sent"`
}

// SoCUpdatedPayload 电池电量变更载荷
type SoCUpdatedPayload struct {
	SoC float64 `json:"soc"`
}

// TransactionPayload 交易事件载荷
type TransactionPayload struct {
	TransactionID *int      `json:"transaction_id,omitempty"`
	IdTag         string    `json:"id_tag"`
	MeterWh       int       `json:"meter_wh"`
	Timestamp     time.Time `json:"timestamp"`
}

// PlugChangedPayload 插枪状态变更载荷
type PlugChangedPayload struct {
	PluggedIn bool `json:"plugged_in"`
}

// ScenarioStatePayload 场景状态变更载荷
type ScenarioStatePayload struct {
	ScenarioID string `json:"scenario_id"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

// NodeExecutedPayload 节点执行载荷
type NodeExecutedPayload struct {
	ScenarioID string `json:"scenario_id"`
	NodeID     string `json:"node_id"`
	NodeType   string `json:"node_type"`
}

// NodeProgressPayload 节点进度载荷
type NodeProgressPayload struct {
	ScenarioID string  `json:"scenario_id"`
	NodeID     string  `json:"node_id"`
	Remaining  float64 `json:"remaining_seconds"`
	Total      float64 `json:"total_seconds"`
}

// ScenarioErrorPayload 场景错误载荷
type ScenarioErrorPayload struct {
	ScenarioID string `json:"scenario_id"`
	Message    string `json:"message"`
}
