package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationModel 离线消息通知模型
// 由 Kafka 消费者在接收方不在线时落库
type NotificationModel struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ReceiverID     uint64             `bson:"receiver_id" json:"receiverId"`
	SenderID       uint64             `bson:"sender_id" json:"senderId"`
	ConversationID uint64             `bson:"conversation_id" json:"conversationId"`
	Content        string             `bson:"content" json:"content"` // 消息文案预览
	IsRead         bool               `bson:"is_read" json:"isRead"`
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
}
