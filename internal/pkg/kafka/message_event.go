package kafka

import "time"

// MessageEvent 消息创建事件，消息落库成功后投递
// 离线通知消费者按 RecipientIDs 逐个判断在线状态
type MessageEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID uint64    `json:"conversation_id"`
	SenderID       uint64    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	RecipientIDs   []uint64  `json:"recipient_ids"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
