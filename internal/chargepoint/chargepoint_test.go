package chargepoint

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/charge-point-simulator/internal/domain/events"
	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-simulator/internal/scenario"
)

// fakeService 记录上行调用的协议服务
type fakeService struct {
	mu            sync.Mutex
	statuses      []ocpp16.ChargePointStatus
	started       int
	stopped       []int
	meterValues   []int
	dataTransfers []string
	nextTxnID     int
}

func newFakeService() *fakeService {
	return &fakeService{nextTxnID: 1000}
}

func (f *fakeService) SendStatusNotification(ctx context.Context, connectorID int, status ocpp16.ChargePointStatus, errorCode ocpp16.ChargePointErrorCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeService) StartTransaction(ctx context.Context, connectorID int, idTag string, meterStart int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.nextTxnID++
	return f.nextTxnID, nil
}

func (f *fakeService) StopTransaction(ctx context.Context, transactionID int, meterStop int, idTag *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, transactionID)
	return nil
}

func (f *fakeService) SendMeterValues(ctx context.Context, connectorID int, transactionID *int, valueWh int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meterValues = append(f.meterValues, valueWh)
	return nil
}

func (f *fakeService) SendDataTransfer(ctx context.Context, messageID string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataTransfers = append(f.dataTransfers, messageID)
	return nil
}

func (f *fakeService) stoppedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]int, len(f.stopped))
	copy(result, f.stopped)
	return result
}

func newTestChargePoint(t *testing.T, connectors int) (*ChargePoint, *fakeService, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil)
	service := newFakeService()
	cp := New(Config{
		ID:             "SIM001",
		ConnectorCount: connectors,
		DefaultIdTag:   "DEFAULT",
	}, service, bus, nil)
	t.Cleanup(cp.Close)
	return cp, service, bus
}

func intPtr(v int) *int { return &v }

func TestChargePoint_ConnectorSetup(t *testing.T) {
	cp, _, _ := newTestChargePoint(t, 2)

	assert.Equal(t, "SIM001", cp.ID())
	assert.Len(t, cp.Connectors(), 2)

	conn, ok := cp.Connector(1)
	require.True(t, ok)
	assert.NotNil(t, conn.Manager())

	_, ok = cp.Connector(3)
	assert.False(t, ok)
}

func TestChargePoint_LoadScenariosRouting(t *testing.T) {
	cp, _, _ := newTestChargePoint(t, 2)

	wholePoint := sampleScenario("whole-point") // 未指定连接器
	second := sampleScenario("second")
	second.ConnectorID = intPtr(2)
	unknown := sampleScenario("unknown")
	unknown.ConnectorID = intPtr(9)

	cp.LoadScenarios([]*scenario.Definition{wholePoint, second, unknown})

	conn1, _ := cp.Connector(1)
	conn2, _ := cp.Connector(2)
	// 整桩场景归属1号连接器，未知连接器的场景被丢弃
	assert.Len(t, conn1.Manager().Scenarios(), 1)
	assert.Len(t, conn2.Manager().Scenarios(), 1)
}

func TestChargePoint_RemoteStartDelivery(t *testing.T) {
	cp, _, _ := newTestChargePoint(t, 2)

	// 没有等待者时拒绝
	status := cp.HandleRemoteStart(&ocpp16.RemoteStartTransactionRequest{IdTag: "TAG1"})
	assert.Equal(t, ocpp16.RemoteCommandRejected, status)

	// 场景挂起remoteStartTrigger等待者后接受
	def := &scenario.Definition{
		ID:      "wait-remote",
		Enabled: true,
		Nodes: []scenario.Node{
			{ID: "start", Type: scenario.NodeTypeStart},
			{ID: "wait", Type: scenario.NodeTypeRemoteStartTrigger},
			{ID: "end", Type: scenario.NodeTypeEnd},
		},
		Edges: []scenario.Edge{
			{Source: "start", Target: "wait"},
			{Source: "wait", Target: "end"},
		},
	}
	conn1, _ := cp.Connector(1)
	conn1.Manager().LoadScenarios([]*scenario.Definition{def})
	require.NoError(t, conn1.Manager().ExecuteScenario("wait-remote", scenario.ModeAuto))

	// 等待执行器挂在触发器节点上
	require.Eventually(t, func() bool {
		ctx, ok := conn1.Manager().ExecutionContext("wait-remote")
		return ok && ctx.CurrentNodeID == "wait"
	}, 2*time.Second, 10*time.Millisecond)
	// 等待者注册与节点登记之间仍有窗口
	require.Eventually(t, func() bool {
		return cp.HandleRemoteStart(&ocpp16.RemoteStartTransactionRequest{
			ConnectorId: intPtr(1),
			IdTag:       "TAG1",
		}) == ocpp16.RemoteCommandAccepted
	}, 2*time.Second, 20*time.Millisecond)

	// 指令递交后场景继续执行到完成
	require.Eventually(t, func() bool {
		return !conn1.Manager().IsScenarioActive("wait-remote")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChargePoint_RemoteStopMatchesTransaction(t *testing.T) {
	cp, service, _ := newTestChargePoint(t, 2)

	conn2, _ := cp.Connector(2)
	conn2.StartTransaction("TAG1", nil)
	conn2.ConfirmTransaction(77)

	// 未命中的交易ID拒绝
	assert.Equal(t, ocpp16.RemoteCommandRejected,
		cp.HandleRemoteStop(&ocpp16.RemoteStopTransactionRequest{TransactionId: 99}))

	status := cp.HandleRemoteStop(&ocpp16.RemoteStopTransactionRequest{TransactionId: 77})
	assert.Equal(t, ocpp16.RemoteCommandAccepted, status)
	assert.Nil(t, conn2.Transaction())
	assert.Equal(t, ocpp16.StatusFinishing, conn2.Status())

	// 上报是异步的
	require.Eventually(t, func() bool {
		ids := service.stoppedIDs()
		return len(ids) == 1 && ids[0] == 77
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChargePoint_ReservationLifecycle(t *testing.T) {
	cp, _, _ := newTestChargePoint(t, 2)
	conn1, _ := cp.Connector(1)

	expiry := ocpp16.NewDateTime(time.Now().Add(time.Hour))
	status := cp.HandleReserveNow(&ocpp16.ReserveNowRequest{
		ConnectorId:   1,
		ReservationId: 5,
		IdTag:         "TAG1",
		ExpiryDate:    expiry,
	})
	assert.Equal(t, ocpp16.RemoteCommandAccepted, status)
	assert.Equal(t, ocpp16.StatusReserved, conn1.Status())

	// 未知连接器与未知预约拒绝
	assert.Equal(t, ocpp16.RemoteCommandRejected,
		cp.HandleReserveNow(&ocpp16.ReserveNowRequest{ConnectorId: 9, ReservationId: 6, IdTag: "T", ExpiryDate: expiry}))
	assert.Equal(t, ocpp16.RemoteCommandRejected,
		cp.HandleCancelReservation(&ocpp16.CancelReservationRequest{ReservationId: 99}))

	status = cp.HandleCancelReservation(&ocpp16.CancelReservationRequest{ReservationId: 5})
	assert.Equal(t, ocpp16.RemoteCommandAccepted, status)
	assert.Equal(t, ocpp16.StatusAvailable, conn1.Status())
}

func TestChargePoint_ChangeAvailabilityAllConnectors(t *testing.T) {
	cp, _, _ := newTestChargePoint(t, 2)

	// connectorId为0作用于全部连接器
	status := cp.HandleChangeAvailability(&ocpp16.ChangeAvailabilityRequest{
		ConnectorId: 0,
		Type:        ocpp16.AvailabilityInoperative,
	})
	assert.Equal(t, ocpp16.RemoteCommandAccepted, status)
	for _, conn := range cp.Connectors() {
		assert.Equal(t, ocpp16.StatusUnavailable, conn.Status())
	}

	status = cp.HandleChangeAvailability(&ocpp16.ChangeAvailabilityRequest{
		ConnectorId: 1,
		Type:        ocpp16.AvailabilityOperative,
	})
	assert.Equal(t, ocpp16.RemoteCommandAccepted, status)
	conn1, _ := cp.Connector(1)
	conn2, _ := cp.Connector(2)
	assert.Equal(t, ocpp16.StatusAvailable, conn1.Status())
	assert.Equal(t, ocpp16.StatusUnavailable, conn2.Status())

	assert.Equal(t, ocpp16.RemoteCommandRejected,
		cp.HandleChangeAvailability(&ocpp16.ChangeAvailabilityRequest{ConnectorId: 9, Type: ocpp16.AvailabilityOperative}))
}

func TestChargePoint_ScenarioDrivesTransactionFlow(t *testing.T) {
	cp, service, _ := newTestChargePoint(t, 1)
	conn1, _ := cp.Connector(1)

	// 完整充电流程: 插枪 -> 开始交易 -> 电表值 -> 停止交易
	def := &scenario.Definition{
		ID:      "charge-flow",
		Enabled: true,
		Nodes: []scenario.Node{
			{ID: "start", Type: scenario.NodeTypeStart},
			{ID: "plug", Type: scenario.NodeTypeConnectorPlug, Data: scenario.NodeData{
				ConnectorPlug: &scenario.ConnectorPlugData{Action: scenario.PlugActionPlugIn},
			}},
			{ID: "txn-start", Type: scenario.NodeTypeTransaction, Data: scenario.NodeData{
				Transaction: &scenario.TransactionData{Action: scenario.TransactionActionStart, IdTag: "TAG1"},
			}},
			{ID: "meter", Type: scenario.NodeTypeMeterValue, Data: scenario.NodeData{
				MeterValue: &scenario.MeterValueData{ValueWh: 4200, SendMessage: true},
			}},
			{ID: "txn-stop", Type: scenario.NodeTypeTransaction, Data: scenario.NodeData{
				Transaction: &scenario.TransactionData{Action: scenario.TransactionActionStop},
			}},
			{ID: "end", Type: scenario.NodeTypeEnd},
		},
		Edges: []scenario.Edge{
			{Source: "start", Target: "plug"},
			{Source: "plug", Target: "txn-start"},
			{Source: "txn-start", Target: "meter"},
			{Source: "meter", Target: "txn-stop"},
			{Source: "txn-stop", Target: "end"},
		},
	}
	conn1.Manager().LoadScenarios([]*scenario.Definition{def})
	require.NoError(t, conn1.Manager().ExecuteScenario("charge-flow", scenario.ModeAuto))

	require.Eventually(t, func() bool {
		return !conn1.Manager().IsScenarioActive("charge-flow")
	}, 5*time.Second, 10*time.Millisecond)

	service.mu.Lock()
	defer service.mu.Unlock()
	assert.Equal(t, 1, service.started)
	require.Len(t, service.stopped, 1)
	assert.Equal(t, 1001, service.stopped[0]) // fakeService分配的首个交易ID
	assert.Equal(t, []int{4200}, service.meterValues)
	assert.Nil(t, conn1.Transaction())
	assert.Equal(t, 4200, conn1.MeterValueWh())
}

func TestChargePoint_ScenarioDrivesAutoMeter(t *testing.T) {
	cp, _, _ := newTestChargePoint(t, 1)
	conn1, _ := cp.Connector(1)

	// 充电流程带自动递增电表: 状态Charging -> 电表递增 -> 延时 -> 停止交易
	def := &scenario.Definition{
		ID:      "auto-meter-flow",
		Enabled: true,
		Nodes: []scenario.Node{
			{ID: "start", Type: scenario.NodeTypeStart},
			{ID: "txn-start", Type: scenario.NodeTypeTransaction, Data: scenario.NodeData{
				Transaction: &scenario.TransactionData{Action: scenario.TransactionActionStart, IdTag: "TAG1"},
			}},
			{ID: "charging", Type: scenario.NodeTypeStatusChange, Data: scenario.NodeData{
				StatusChange: &scenario.StatusChangeData{Status: ocpp16.StatusCharging},
			}},
			{ID: "meter", Type: scenario.NodeTypeMeterValue, Data: scenario.NodeData{
				MeterValue: &scenario.MeterValueData{
					ValueWh:         500,
					AutoIncrement:   true,
					IntervalSeconds: 1,
					IncrementWh:     150,
				},
			}},
			{ID: "wait", Type: scenario.NodeTypeDelay, Data: scenario.NodeData{
				Delay: &scenario.DelayData{Seconds: 1.4},
			}},
			{ID: "txn-stop", Type: scenario.NodeTypeTransaction, Data: scenario.NodeData{
				Transaction: &scenario.TransactionData{Action: scenario.TransactionActionStop},
			}},
			{ID: "end", Type: scenario.NodeTypeEnd},
		},
		Edges: []scenario.Edge{
			{Source: "start", Target: "txn-start"},
			{Source: "txn-start", Target: "charging"},
			{Source: "charging", Target: "meter"},
			{Source: "meter", Target: "wait"},
			{Source: "wait", Target: "txn-stop"},
			{Source: "txn-stop", Target: "end"},
		},
	}
	conn1.Manager().LoadScenarios([]*scenario.Definition{def})
	require.NoError(t, conn1.Manager().ExecuteScenario("auto-meter-flow", scenario.ModeAuto))

	require.Eventually(t, func() bool {
		return !conn1.Manager().IsScenarioActive("auto-meter-flow")
	}, 5*time.Second, 10*time.Millisecond)

	// 延时期间至少走过一个递增节拍
	final := conn1.MeterValueWh()
	assert.GreaterOrEqual(t, final, 500+150)
	assert.Nil(t, conn1.Transaction())

	// 停止交易后调度器已停机，电表值不再变化
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, final, conn1.MeterValueWh())
}

// sampleScenario 最小合法场景
func sampleScenario(id string) *scenario.Definition {
	return &scenario.Definition{
		ID:      id,
		Enabled: true,
		Nodes: []scenario.Node{
			{ID: "start", Type: scenario.NodeTypeStart},
			{ID: "end", Type: scenario.NodeTypeEnd},
		},
		Edges: []scenario.Edge{{Source: "start", Target: "end"}},
	}
}
