package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message MongoDB 消息明细模型
// Content 写入后不可变；仅 Status 与 ReadReceipts 允许更新
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID uint64             `bson:"conversation_id" json:"conversationId"` // 关联 MySQL 的会话 ID
	SenderID       uint64             `bson:"sender_id" json:"senderId"`             // 发送者 UID
	MsgType        string             `bson:"msg_type" json:"msgType"`               // text / image / audio
	Content        string             `bson:"content" json:"content"`
	Status         string             `bson:"status" json:"status"`                        // sent / read
	ReplyTo        string             `bson:"reply_to,omitempty" json:"replyTo,omitempty"` // 被回复消息的 ID
	ReadReceipts   []ReadReceipt      `bson:"read_receipts" json:"readReceipts"`           // 每用户至多一条，追加式
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
}

// ReadReceipt 单用户已读回执
type ReadReceipt struct {
	UserID uint64    `bson:"user_id" json:"userId"`
	ReadAt time.Time `bson:"read_at" json:"readAt"`
}
