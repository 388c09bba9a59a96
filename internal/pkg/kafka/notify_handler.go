package kafka

import (
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/pkg/redis"
	"context"
	log "log/slog"
	"strconv"

	"github.com/IBM/sarama"
)

// NotifyHandler 消费消息创建事件，为离线接收方落库通知
type NotifyHandler struct {
	notifyRepo mongo.NotificationRepo
}

func NewNotifyHandler(notifyRepo mongo.NotificationRepo) *NotifyHandler {
	return &NotifyHandler{
		notifyRepo: notifyRepo,
	}
}

func (s *NotifyHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info("message notify consumer setup")
	return nil
}

func (s *NotifyHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("message notify consumer cleanup")
	return nil
}

func (s *NotifyHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log.Info("topic-message consume claim")
	err := pullMessageBatch(session, claim, s.logic)
	if err != nil {
		log.Error("topic-message process batch error", "err", err)
	}
	return err
}

func (s *NotifyHandler) logic(ctx context.Context, msg *sarama.ConsumerMessage) error {
	evt, err := ToMessageEvent(msg)
	if err != nil {
		// 格式损坏的消息直接跳过，避免无限重试
		return nil
	}

	for _, receiverID := range evt.RecipientIDs {
		online, err := redis.SIsMember(ctx, consts.PresenceOnlineSetKey, strconv.FormatUint(receiverID, 10))
		if err != nil {
			return err
		}
		if online {
			continue
		}

		notification := &mongo.NotificationModel{
			ReceiverID:     receiverID,
			SenderID:       evt.SenderID,
			ConversationID: evt.ConversationID,
			Content:        preview(evt.Content),
			IsRead:         false,
			CreatedAt:      evt.CreatedAt,
		}
		if err := s.notifyRepo.CreateNotification(ctx, notification); err != nil {
			return err
		}
	}
	return nil
}

// preview 通知里只存文案摘要
func preview(content string) string {
	runes := []rune(content)
	if len(runes) > 60 {
		return string(runes[:60]) + "..."
	}
	return content
}
