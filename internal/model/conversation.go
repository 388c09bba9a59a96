package model

import "time"

// Conversation 会话主表
// 双人会话用 PeerKey (uid1_uid2, 小者在前) 保证全局唯一，重复发起复用既有会话
type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PeerKey        string    `gorm:"uniqueIndex;type:varchar(64)" json:"peerKey"`
	LastMsgContent string    `gorm:"type:varchar(255)" json:"lastMsgContent"` // 反规范化的最近消息快照
	LastMsgType    string    `gorm:"type:varchar(16);default:text" json:"lastMsgType"`
	LastSenderID   uint64    `gorm:"not null;default:0" json:"lastSenderId"`
	LastMessageAt  time.Time `gorm:"index" json:"lastMessageAt"` // 会话列表按此倒序
	IsActive       bool      `gorm:"type:tinyint(1);default:1" json:"isActive"` // 软停用，不做物理删除
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

// ConversationParticipant 会话成员表
type ConversationParticipant struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"uniqueIndex:idx_conv_user" json:"conversationId"`
	UserID         uint64    `gorm:"uniqueIndex:idx_conv_user;index" json:"userId"`
	UnreadCount    uint64    `gorm:"not null;default:0" json:"unreadCount"`
	LastReadAt     time.Time `json:"lastReadAt"`
	JoinedAt       time.Time `json:"joinedAt"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID" json:"conversation"`
}

func (ConversationParticipant) TableName() string { return "conversation_participants" }
