package ocpp16

import "encoding/json"

// BootNotificationRequest 启动通知请求
type BootNotificationRequest struct {
	ChargePointVendor string  `json:"chargePointVendor" validate:"required,max=20"`
	ChargePointModel  string  `json:"chargePointModel" validate:"required,max=20"`
	FirmwareVersion   *string `json:"firmwareVersion,omitempty" validate:"omitempty,max=50"`
}

// BootNotificationConfirmation 启动通知响应
type BootNotificationConfirmation struct {
	CurrentTime *DateTime `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

// StatusNotificationRequest 状态通知请求
type StatusNotificationRequest struct {
	ConnectorId int                  `json:"connectorId" validate:"gte=0"`
	ErrorCode   ChargePointErrorCode `json:"errorCode" validate:"required"`
	Status      ChargePointStatus    `json:"status" validate:"required"`
	Timestamp   *DateTime            `json:"timestamp,omitempty"`
	Info        *string              `json:"info,omitempty"`
}

// StartTransactionRequest 开始交易请求
type StartTransactionRequest struct {
	ConnectorId   int       `json:"connectorId" validate:"gt=0"`
	IdTag         string    `json:"idTag" validate:"required,max=20"`
	MeterStart    int       `json:"meterStart" validate:"gte=0"`
	ReservationId *int      `json:"reservationId,omitempty"`
	Timestamp     *DateTime `json:"timestamp" validate:"required"`
}

// StartTransactionConfirmation 开始交易响应
type StartTransactionConfirmation struct {
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
	TransactionId int       `json:"transactionId"`
}

// StopTransactionRequest 停止交易请求
type StopTransactionRequest struct {
	IdTag         *string   `json:"idTag,omitempty" validate:"omitempty,max=20"`
	MeterStop     int       `json:"meterStop" validate:"gte=0"`
	Timestamp     *DateTime `json:"timestamp" validate:"required"`
	TransactionId int       `json:"transactionId"`
	Reason        *string   `json:"reason,omitempty"`
}

// StopTransactionConfirmation 停止交易响应
type StopTransactionConfirmation struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// IdTagInfo 授权标签信息
type IdTagInfo struct {
	ExpiryDate  *DateTime `json:"expiryDate,omitempty"`
	ParentIdTag *string   `json:"parentIdTag,omitempty"`
	Status      string    `json:"status"`
}

// MeterValuesRequest 电表值上报请求
type MeterValuesRequest struct {
	ConnectorId   int          `json:"connectorId" validate:"gte=0"`
	TransactionId *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue" validate:"required,min=1"`
}

// MeterValue 一次电表采样
type MeterValue struct {
	Timestamp    *DateTime      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1"`
}

// SampledValue 采样值
type SampledValue struct {
	Value     string `json:"value" validate:"required"`
	Measurand string `json:"measurand,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// DataTransferRequest 数据传输请求
type DataTransferRequest struct {
	VendorId  string          `json:"vendorId" validate:"required,max=255"`
	MessageId *string         `json:"messageId,omitempty" validate:"omitempty,max=50"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RemoteStartTransactionRequest 远程启动交易请求
type RemoteStartTransactionRequest struct {
	ConnectorId *int   `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
	IdTag       string `json:"idTag" validate:"required,max=20"`
}

// RemoteStopTransactionRequest 远程停止交易请求
type RemoteStopTransactionRequest struct {
	TransactionId int `json:"transactionId"`
}

// ReserveNowRequest 预约请求
type ReserveNowRequest struct {
	ConnectorId   int       `json:"connectorId" validate:"gte=0"`
	ExpiryDate    *DateTime `json:"expiryDate" validate:"required"`
	IdTag         string    `json:"idTag" validate:"required,max=20"`
	ParentIdTag   *string   `json:"parentIdTag,omitempty" validate:"omitempty,max=20"`
	ReservationId int       `json:"reservationId"`
}

// CancelReservationRequest 取消预约请求
type CancelReservationRequest struct {
	ReservationId int `json:"reservationId"`
}

// ChangeAvailabilityRequest 变更可用性请求
type ChangeAvailabilityRequest struct {
	ConnectorId int              `json:"connectorId" validate:"gte=0"`
	Type        AvailabilityType `json:"type" validate:"required"`
}

// RemoteCommandStatus 远程指令处理结果
type RemoteCommandStatus string

const (
	RemoteCommandAccepted RemoteCommandStatus = "Accepted"
	RemoteCommandRejected RemoteCommandStatus = "Rejected"
)
