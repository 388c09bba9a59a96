package dto

import "time"

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	Content        string `json:"content" binding:"required,max=2000"`
	MsgType        string `json:"msg_type" binding:"omitempty,oneof=text image audio"`
	ReplyTo        string `json:"reply_to"`
}

// StartConversationReq 发起会话请求体
type StartConversationReq struct {
	TargetUserID uint64 `json:"target_user_id" binding:"required"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID             string           `json:"id"`
	ConversationID uint64           `json:"conversation_id"`
	SenderID       uint64           `json:"sender_id"`
	SenderUsername string           `json:"sender_username"`
	MsgType        string           `json:"msg_type"`
	Content        string           `json:"content"`
	Status         string           `json:"status"`
	ReplyTo        string           `json:"reply_to,omitempty"`
	ReadReceipts   []ReadReceiptDTO `json:"read_receipts"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ReadReceiptDTO 单用户已读回执
type ReadReceiptDTO struct {
	UserID uint64    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationID uint64    `json:"conversation_id"`
	PeerID         uint64    `json:"peer_id"` // 对手方ID
	PeerUsername   string    `json:"peer_username"`
	PeerOnline     bool      `json:"peer_online"`
	LastMsgContent string    `json:"last_msg_content"`
	LastMsgType    string    `json:"last_msg_type"`
	LastSenderID   uint64    `json:"last_sender_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadCount    uint64    `json:"unread_count"`
}

// OnlineUsersDTO 在线用户快照
type OnlineUsersDTO struct {
	UserIDs []uint64 `json:"user_ids"`
	Count   int      `json:"count"`
}
