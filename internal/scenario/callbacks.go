package scenario

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-simulator/internal/meter"
)

// BatteryParams 交易启动时的电池参数
type BatteryParams struct {
	CapacityKWh *float64
	InitialSoC  *float64
}

// ReservationRequest 预约参数
type ReservationRequest struct {
	ReservationID int
	Expiry        time.Time
	IdTag         string
	ParentIdTag   *string
}

// Callbacks 节点处理器的外部回调契约
//
// 所有字段均可为nil，缺失的回调是静默no-op而非错误。
// 长等待类回调需要响应ctx取消以便Stop()及时解除阻塞。
type Callbacks struct {
	// ChangeStatus 变更连接器状态
	ChangeStatus func(ctx context.Context, status ocpp16.ChargePointStatus) error
	// StartTransaction 启动交易
	StartTransaction func(ctx context.Context, idTag string, battery *BatteryParams) error
	// StopTransaction 停止交易
	StopTransaction func(ctx context.Context) error
	// SetMeterValue 设置电表值，send为真时同时上报
	SetMeterValue func(valueWh int, send bool) error
	// StartAutoMeter 启动自动电表递增，不阻塞执行器
	StartAutoMeter func(cfg meter.IncrementConfig) error
	// Delay 延时回调；为nil时执行器内部延时并产生进度回调
	Delay func(ctx context.Context, seconds float64) error
	// SendMessage 发送任意命名消息
	SendMessage func(ctx context.Context, messageType string, payload json.RawMessage) error
	// Plug 插枪/拔枪动作
	Plug func(ctx context.Context, action PlugAction) error
	// WaitForRemoteStart 等待远程启动指令，返回idTag
	WaitForRemoteStart func(ctx context.Context) (string, error)
	// WaitForStatus 等待连接器到达目标状态
	WaitForStatus func(ctx context.Context, status ocpp16.ChargePointStatus, timeout time.Duration) error
	// WaitForReservation 等待预约指令，返回预约ID
	WaitForReservation func(ctx context.Context, timeout time.Duration) (int, error)
	// ReserveNow 创建预约
	ReserveNow func(ctx context.Context, req ReservationRequest) error
	// CancelReservation 取消预约
	CancelReservation func(ctx context.Context, reservationID int) error
}

// Observer 执行过程观察回调
//
// 与Callbacks相同，nil字段静默跳过。观察回调不得抛错。
type Observer struct {
	// OnStateChange 执行器状态变更
	OnStateChange func(ctx ExecutionContext)
	// OnNodeExecute 节点开始执行
	OnNodeExecute func(nodeID string)
	// OnNodeComplete 节点执行完成
	OnNodeComplete func(nodeID string)
	// OnNodeProgress 节点进度，remaining/total单位为秒
	OnNodeProgress func(nodeID string, remaining, total float64)
	// OnError 流程失败
	OnError func(err error)
}
