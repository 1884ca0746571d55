package scenario

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
)

// NodeType 场景节点类型
type NodeType string

const (
	NodeTypeStart              NodeType = "start"
	NodeTypeEnd                NodeType = "end"
	NodeTypeStatusChange       NodeType = "statusChange"
	NodeTypeTransaction        NodeType = "transaction"
	NodeTypeMeterValue         NodeType = "meterValue"
	NodeTypeDelay              NodeType = "delay"
	NodeTypeNotification       NodeType = "notification"
	NodeTypeConnectorPlug      NodeType = "connectorPlug"
	NodeTypeRemoteStartTrigger NodeType = "remoteStartTrigger"
	NodeTypeStatusTrigger      NodeType = "statusTrigger"
	NodeTypeReservationTrigger NodeType = "reservationTrigger"
	NodeTypeReserveNow         NodeType = "reserveNow"
	NodeTypeCancelReservation  NodeType = "cancelReservation"
)

// ExecutionMode 场景执行模式
type ExecutionMode string

const (
	// ModeAuto 自动执行
	ModeAuto ExecutionMode = "auto"
	// ModeStep 单步执行，每个节点需要显式Step()才继续
	ModeStep ExecutionMode = "step"
)

// Position 节点画布坐标，仅用于编辑器展示
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node 场景节点
type Node struct {
	ID       string    `json:"id" validate:"required"`
	Type     NodeType  `json:"type" validate:"required"`
	Label    string    `json:"label,omitempty"`
	Position *Position `json:"position,omitempty"`
	Data     NodeData  `json:"data,omitempty"`
}

// NodeData 节点配置数据，按节点类型封闭的标签联合
type NodeData struct {
	StatusChange      *StatusChangeData      `json:"statusChange,omitempty"`
	Transaction       *TransactionData       `json:"transaction,omitempty"`
	MeterValue        *MeterValueData        `json:"meterValue,omitempty"`
	Delay             *DelayData             `json:"delay,omitempty"`
	Notification      *NotificationData      `json:"notification,omitempty"`
	ConnectorPlug     *ConnectorPlugData     `json:"connectorPlug,omitempty"`
	Trigger           *TriggerWaitData       `json:"trigger,omitempty"`
	ReserveNow        *ReserveNowData        `json:"reserveNow,omitempty"`
	CancelReservation *CancelReservationData `json:"cancelReservation,omitempty"`
}

// StatusChangeData 状态变更节点配置
type StatusChangeData struct {
	Status ocpp16.ChargePointStatus `json:"status" validate:"required"`
}

// TransactionAction 交易节点动作
type TransactionAction string

const (
	TransactionActionStart TransactionAction = "start"
	TransactionActionStop  TransactionAction = "stop"
)

// TransactionData 交易节点配置
type TransactionData struct {
	Action             TransactionAction `json:"action" validate:"required,oneof=start stop"`
	IdTag              string            `json:"idTag,omitempty"`
	BatteryCapacityKWh *float64          `json:"batteryCapacityKWh,omitempty" validate:"omitempty,gt=0"`
	InitialSoC         *float64          `json:"initialSoC,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// MeterValueData 电表值节点配置
type MeterValueData struct {
	ValueWh         int  `json:"valueWh" validate:"gte=0"`
	SendMessage     bool `json:"sendMessage,omitempty"`
	AutoIncrement   bool `json:"autoIncrement,omitempty"`
	IntervalSeconds int  `json:"intervalSeconds,omitempty" validate:"omitempty,gte=0"`
	IncrementWh     int  `json:"incrementWh,omitempty"`
	MaxTimeSeconds  *int `json:"maxTimeSeconds,omitempty" validate:"omitempty,gt=0"`
	MaxValueWh      *int `json:"maxValueWh,omitempty" validate:"omitempty,gt=0"`
}

// DelayData 延时节点配置
type DelayData struct {
	Seconds float64 `json:"seconds" validate:"gt=0"`
}

// NotificationData 消息注入节点配置
type NotificationData struct {
	MessageType string          `json:"messageType" validate:"required"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// PlugAction 插枪动作
type PlugAction string

const (
	PlugActionPlugIn  PlugAction = "plugin"
	PlugActionPlugOut PlugAction = "plugout"
)

// ConnectorPlugData 插枪节点配置
type ConnectorPlugData struct {
	Action PlugAction `json:"action" validate:"required,oneof=plugin plugout"`
}

// TriggerWaitData 等待型节点配置，用于远程启动/状态/预约触发器
type TriggerWaitData struct {
	TimeoutSeconds float64                  `json:"timeoutSeconds,omitempty" validate:"omitempty,gte=0"`
	Status         ocpp16.ChargePointStatus `json:"status,omitempty"`
}

// ReserveNowData 预约节点配置
type ReserveNowData struct {
	ExpirySeconds int     `json:"expirySeconds" validate:"gt=0"`
	IdTag         string  `json:"idTag" validate:"required"`
	ParentIdTag   *string `json:"parentIdTag,omitempty"`
	ReservationID *int    `json:"reservationId,omitempty"`
}

// CancelReservationData 取消预约节点配置
type CancelReservationData struct {
	ReservationID int `json:"reservationId"`
}

// Edge 节点连线，source/target为节点ID
type Edge struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// TriggerType 场景触发器类型
type TriggerType string

const (
	// TriggerTypeManual 仅手动启动
	TriggerTypeManual TriggerType = "manual"
	// TriggerTypeStatusChange 连接器状态变更时自动启动
	TriggerTypeStatusChange TriggerType = "statusChange"
)

// Trigger 场景触发器
type Trigger struct {
	Type TriggerType               `json:"type" validate:"required,oneof=manual statusChange"`
	From *ocpp16.ChargePointStatus `json:"from,omitempty"`
	To   *ocpp16.ChargePointStatus `json:"to,omitempty"`
}

// Matches 判断状态变更是否命中触发条件
//
// 仅statusChange触发器可命中；from/to条件为可选，缺省即任意匹配。
func (t *Trigger) Matches(from, to ocpp16.ChargePointStatus) bool {
	if t == nil || t.Type != TriggerTypeStatusChange {
		return false
	}
	if t.From != nil && *t.From != from {
		return false
	}
	if t.To != nil && *t.To != to {
		return false
	}
	return true
}

// Definition 场景定义
type Definition struct {
	ID          string        `json:"id" validate:"required"`
	Name        string        `json:"name,omitempty"`
	ConnectorID *int          `json:"connectorId,omitempty"` // nil表示整桩场景
	Nodes       []Node        `json:"nodes" validate:"required,min=1,dive"`
	Edges       []Edge        `json:"edges" validate:"required,dive"`
	Trigger     *Trigger      `json:"trigger,omitempty"`
	Mode        ExecutionMode `json:"mode,omitempty" validate:"omitempty,oneof=auto step"`
	Enabled     bool          `json:"enabled"`
	CreatedAt   time.Time     `json:"createdAt,omitempty"`
	UpdatedAt   time.Time     `json:"updatedAt,omitempty"`
}

var validate = validator.New()

// Import 解析并校验场景JSON文档
func Import(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid scenario document: %w", err)
	}
	if def.Edges == nil {
		return nil, fmt.Errorf("invalid scenario document: missing edges")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Export 序列化场景定义，与Import构成字节级往返
func (d *Definition) Export() ([]byte, error) {
	return json.Marshal(d)
}

// Validate 结构校验
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("scenario validation failed: %w", err)
	}
	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("scenario validation failed: duplicate node id %s", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// Preflight 执行前的图结构检查：恰好一个start节点，至多一个end节点
func (d *Definition) Preflight() error {
	starts, ends := 0, 0
	for _, n := range d.Nodes {
		switch n.Type {
		case NodeTypeStart:
			starts++
		case NodeTypeEnd:
			ends++
		}
	}
	if starts == 0 {
		return ErrMissingStartNode
	}
	if starts > 1 {
		return ErrMultipleStartNodes
	}
	if ends > 1 {
		return ErrMultipleEndNodes
	}
	return nil
}

// Node 按ID查找节点
func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// StartNode 定位唯一的start节点
func (d *Definition) StartNode() (*Node, error) {
	if err := d.Preflight(); err != nil {
		return nil, err
	}
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeTypeStart {
			return &d.Nodes[i], nil
		}
	}
	return nil, ErrMissingStartNode
}

// Targets 按连线顺序收集source的所有存活目标节点，去重
//
// 指向已删除节点的连线被跳过。
func (d *Definition) Targets(sourceID string) []*Node {
	var targets []*Node
	seen := make(map[string]bool)
	for _, e := range d.Edges {
		if e.Source != sourceID || seen[e.Target] {
			continue
		}
		if n, ok := d.Node(e.Target); ok {
			targets = append(targets, n)
			seen[e.Target] = true
		}
	}
	return targets
}

// Clone 深拷贝场景定义，执行器持有快照避免编辑竞争
func (d *Definition) Clone() *Definition {
	c := *d
	c.Nodes = make([]Node, len(d.Nodes))
	copy(c.Nodes, d.Nodes)
	c.Edges = make([]Edge, len(d.Edges))
	copy(c.Edges, d.Edges)
	if d.Trigger != nil {
		t := *d.Trigger
		c.Trigger = &t
	}
	return &c
}

// EffectiveMode 场景默认执行模式
func (d *Definition) EffectiveMode() ExecutionMode {
	if d.Mode == ModeStep {
		return ModeStep
	}
	return ModeAuto
}
