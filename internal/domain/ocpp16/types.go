package ocpp16

import (
	"time"
)

// MessageType OCPP-J消息帧类型
type MessageType int

const (
	// Call 请求消息
	Call MessageType = 2
	// CallResult 响应消息
	CallResult MessageType = 3
	// CallError 错误消息
	CallError MessageType = 4
)

// Action OCPP动作类型
type Action string

const (
	// 模拟器发起的上行动作
	ActionAuthorize          Action = "Authorize"
	ActionBootNotification   Action = "BootNotification"
	ActionDataTransfer       Action = "DataTransfer"
	ActionHeartbeat          Action = "Heartbeat"
	ActionMeterValues        Action = "MeterValues"
	ActionStartTransaction   Action = "StartTransaction"
	ActionStatusNotification Action = "StatusNotification"
	ActionStopTransaction    Action = "StopTransaction"

	// 中央系统发起的下行动作
	ActionCancelReservation      Action = "CancelReservation"
	ActionChangeAvailability     Action = "ChangeAvailability"
	ActionRemoteStartTransaction Action = "RemoteStartTransaction"
	ActionRemoteStopTransaction  Action = "RemoteStopTransaction"
	ActionReserveNow             Action = "ReserveNow"
	ActionReset                  Action = "Reset"
	ActionTriggerMessage         Action = "TriggerMessage"
	ActionUnlockConnector        Action = "UnlockConnector"
)

// ChargePointStatus 连接器状态
type ChargePointStatus string

const (
	StatusAvailable     ChargePointStatus = "Available"
	StatusPreparing     ChargePointStatus = "Preparing"
	StatusCharging      ChargePointStatus = "Charging"
	StatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	StatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	StatusFinishing     ChargePointStatus = "Finishing"
	StatusReserved      ChargePointStatus = "Reserved"
	StatusUnavailable   ChargePointStatus = "Unavailable"
	StatusFaulted       ChargePointStatus = "Faulted"
)

// IsValid 检查状态值是否合法
func (s ChargePointStatus) IsValid() bool {
	switch s {
	case StatusAvailable, StatusPreparing, StatusCharging, StatusSuspendedEVSE,
		StatusSuspendedEV, StatusFinishing, StatusReserved, StatusUnavailable, StatusFaulted:
		return true
	}
	return false
}

// ChargePointErrorCode 连接器错误代码
type ChargePointErrorCode string

const (
	ErrorCodeNoError       ChargePointErrorCode = "NoError"
	ErrorCodeInternalError ChargePointErrorCode = "InternalError"
	ErrorCodeOtherError    ChargePointErrorCode = "OtherError"
)

// AvailabilityType 可用性类型
type AvailabilityType string

const (
	AvailabilityOperative   AvailabilityType = "Operative"
	AvailabilityInoperative AvailabilityType = "Inoperative"
)

// DateTime OCPP时间格式包装
type DateTime struct {
	time.Time
}

// NewDateTime 创建OCPP时间
func NewDateTime(t time.Time) *DateTime {
	return &DateTime{Time: t.UTC()}
}

// MarshalJSON 序列化为RFC3339格式
func (dt DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.UTC().Format(time.RFC3339) + `"`), nil
}

// UnmarshalJSON 解析RFC3339格式时间
func (dt *DateTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	dt.Time = t
	return nil
}
