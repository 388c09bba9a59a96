package dto

// NotificationDTO 离线消息通知响应
type NotificationDTO struct {
	ID             string `json:"id"`
	SenderID       uint64 `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	ConversationID uint64 `json:"conversation_id"`
	Content        string `json:"content"`
	IsRead         bool   `json:"is_read"`
	CreatedAt      string `json:"created_at"`
}

// NotificationUnreadDTO 未读通知数
type NotificationUnreadDTO struct {
	UnreadCount int64 `json:"unread_count"`
}

// MarkNotificationReadReq 通知已读请求
type MarkNotificationReadReq struct {
	ID string `json:"id" binding:"required"`
}
