package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/charging-platform/charge-point-simulator/internal/domain/events"
	"github.com/charging-platform/charge-point-simulator/internal/logger"
)

// envelope Kafka消息信封，附带充电桩标识
type envelope struct {
	ChargePointID string       `json:"charge_point_id"`
	Event         events.Event `json:"event"`
}

// KafkaPublisher 把事件总线上的模拟器事件转发到Kafka
type KafkaPublisher struct {
	producer      sarama.AsyncProducer
	topic         string
	chargePointID string
	unsubscribe   func()
	logger        *logger.Logger
}

// NewKafkaPublisher 创建Kafka事件发布器并订阅总线
func NewKafkaPublisher(brokers []string, topic, chargePointID string, bus *events.Bus, log *logger.Logger) (*KafkaPublisher, error) {
	if log == nil {
		log = logger.Global()
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal       // 只等待本地确认
	config.Producer.Compression = sarama.CompressionSnappy   // 压缩
	config.Producer.Flush.Frequency = 500 * time.Millisecond // 刷新频率
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka async producer: %w", err)
	}

	p := &KafkaPublisher{
		producer:      producer,
		topic:         topic,
		chargePointID: chargePointID,
		logger:        log.With("kafka-publisher"),
	}

	go p.handleSuccesses()
	go p.handleErrors()

	p.unsubscribe = bus.SubscribeAll(p.publish)
	return p, nil
}

// publish 序列化事件并投递到Kafka
func (p *KafkaPublisher) publish(event events.Event) {
	data, err := json.Marshal(envelope{ChargePointID: p.chargePointID, Event: event})
	if err != nil {
		p.logger.Errorf("Failed to marshal event %s: %v", event.Type, err)
		return
	}

	// 充电桩ID作为Key，同一桩的事件落入同一分区
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(p.chargePointID),
		Value: sarama.ByteEncoder(data),
	}
}

// Close 退订总线并关闭生产者
func (p *KafkaPublisher) Close() error {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) handleSuccesses() {
	for msg := range p.producer.Successes() {
		p.logger.Debugf("Kafka message sent to topic %s", msg.Topic)
	}
}

func (p *KafkaPublisher) handleErrors() {
	for err := range p.producer.Errors() {
		p.logger.ErrorWithErr(err.Err, "Failed to send Kafka message")
	}
}
