package message

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/charge-point-simulator/internal/domain/events"
	"github.com/charging-platform/charge-point-simulator/internal/logger"
)

// newMockPublisher 用sarama mock生产者构造发布器并订阅总线
func newMockPublisher(t *testing.T, bus *events.Bus) (*KafkaPublisher, *mocks.AsyncProducer) {
	t.Helper()
	producer := mocks.NewAsyncProducer(t, nil)
	p := &KafkaPublisher{
		producer:      producer,
		topic:         "simulator-events",
		chargePointID: "CP001",
		logger:        logger.Global(),
	}
	if bus != nil {
		p.unsubscribe = bus.SubscribeAll(p.publish)
	}
	return p, producer
}

func TestKafkaPublisher_ForwardsBusEvents(t *testing.T) {
	bus := events.NewBus(nil)
	p, producer := newMockPublisher(t, bus)

	producer.ExpectInputWithCheckerFunctionAndSucceed(func(value []byte) error {
		var env envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		assert.Equal(t, "CP001", env.ChargePointID)
		assert.Equal(t, events.EventTypeConnectorMeterUpdated, env.Event.Type)
		assert.Equal(t, 2, env.Event.ConnectorID)
		return nil
	})

	bus.Publish(events.New(events.EventTypeConnectorMeterUpdated, 2, events.MeterUpdatedPayload{ValueWh: 1200}))

	require.NoError(t, p.Close())
}

func TestKafkaPublisher_CloseUnsubscribes(t *testing.T) {
	bus := events.NewBus(nil)
	p, _ := newMockPublisher(t, bus)
	require.NoError(t, p.Close())

	// 关闭后总线事件不再投递到已关闭的生产者
	assert.NotPanics(t, func() {
		bus.Publish(events.New(events.EventTypeConnectorStatusChanged, 1, nil))
	})
}
