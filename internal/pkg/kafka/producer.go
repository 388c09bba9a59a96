package kafka

import (
	"Murmur/internal/api/config"
	"context"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// Producer 消息事件生产者接口定义
type Producer interface {
	PublishMessageCreated(ctx context.Context, evt *MessageEvent) error
	Close() error
}

type producerImpl struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(cfg *config.Config) (Producer, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)

	p, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}

	return &producerImpl{
		producer: p,
		topic:    cfg.KafkaMessage.Topic,
	}, nil
}

// PublishMessageCreated 以会话 ID 作为分区键，保证同会话事件有序
func (s *producerImpl) PublishMessageCreated(_ context.Context, evt *MessageEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(evt.ConversationID, 10)),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err = s.producer.SendMessage(msg)
	return err
}

func (s *producerImpl) Close() error {
	return s.producer.Close()
}
