package kafka

import (
	"Murmur/internal/api/config"
	"Murmur/internal/pkg/mongo"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
)

// ConsumerManager 管理所有 Kafka 消费者
type ConsumerManager struct {
	messageConsumer sarama.ConsumerGroup
	messageHandler  sarama.ConsumerGroupHandler
}

// NewConsumerManager 构造函数
func NewConsumerManager(
	cfg *config.Config,
	notifyRepo mongo.NotificationRepo,
) (*ConsumerManager, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)

	messageConsumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.KafkaMessage.GroupID, saramaCfg)
	if err != nil {
		return nil, err
	}
	messageHandler := NewNotifyHandler(notifyRepo)

	return &ConsumerManager{
		messageConsumer: messageConsumer,
		messageHandler:  messageHandler,
	}, nil
}

// Start 启动所有消费者
func (m *ConsumerManager) Start(ctx context.Context, cfg *config.Config) error {
	go func() {
		topic := cfg.KafkaMessage.Topic
		log.Info("Message consumer started", "topic", topic)
		for {
			if err := m.messageConsumer.Consume(ctx, []string{topic}, m.messageHandler); err != nil {
				log.Error("Error from consumer", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	log.Info("Kafka Manager shutting down...")

	if err := m.messageConsumer.Close(); err != nil {
		log.Error("Failed to close message consumer", "err", err)
	}

	return nil
}
