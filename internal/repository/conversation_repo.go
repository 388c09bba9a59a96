package repository

import (
	"Murmur/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
)

type ConversationRepo interface {
	CreateConversation(ctx context.Context, conv *model.Conversation, participants []*model.ConversationParticipant) error
	GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error)
	GetConversationByPeerKey(ctx context.Context, peerKey string) (*model.Conversation, error)
	IsParticipant(ctx context.Context, convID uint64, userID uint64) (bool, error)
	GetParticipantIDs(ctx context.Context, convID uint64) ([]uint64, error)

	ApplyMessage(ctx context.Context, convID uint64, content, msgType string, senderID uint64, at time.Time) error
	ResetUnread(ctx context.Context, convID, userID uint64, readAt time.Time) error

	GetUserConversationList(ctx context.Context, userID uint64) ([]*model.ConversationParticipant, error)
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// CreateConversation 开启事务创建会话及初始成员
func (s *conversationRepoImpl) CreateConversation(ctx context.Context, conv *model.Conversation, participants []*model.ConversationParticipant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, p := range participants {
			p.ConversationID = conv.ID
			p.JoinedAt = time.Now()
			if err := tx.Create(p).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConversation 根据会话 ID 获取会话
func (s *conversationRepoImpl) GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, convID).Error
	return &conv, err
}

// GetConversationByPeerKey 根据会话标识获取会话
func (s *conversationRepoImpl) GetConversationByPeerKey(ctx context.Context, peerKey string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&conv).Error
	return &conv, err
}

// IsParticipant 检查用户是否是会话成员
func (s *conversationRepoImpl) IsParticipant(ctx context.Context, convID uint64, userID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	return count > 0, err
}

// GetParticipantIDs 获取会话全部成员 ID
func (s *conversationRepoImpl) GetParticipantIDs(ctx context.Context, convID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.ConversationParticipant{}).
		Where("conversation_id = ?", convID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ApplyMessage 消息落库后的会话侧写入：快照更新与未读自增在同一事务内完成
func (s *conversationRepoImpl) ApplyMessage(ctx context.Context, convID uint64, content, msgType string, senderID uint64, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Conversation{}).Where("id = ?", convID).
			Updates(map[string]interface{}{
				"last_msg_content": content,
				"last_msg_type":    msgType,
				"last_sender_id":   senderID,
				"last_message_at":  at,
			}).Error
		if err != nil {
			return err
		}

		// 发送者之外的所有成员未读 +1
		return tx.Model(&model.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id <> ?", convID, senderID).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error
	})
}

// ResetUnread 清零用户在会话内的未读数并记录已读时间
func (s *conversationRepoImpl) ResetUnread(ctx context.Context, convID, userID uint64, readAt time.Time) error {
	return s.db.WithContext(ctx).Model(&model.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Updates(map[string]interface{}{
			"unread_count": 0,
			"last_read_at": readAt,
		}).Error
}

// GetUserConversationList 联表查询，利用嵌套 Model 自动装配，最近活跃在前
func (s *conversationRepoImpl) GetUserConversationList(ctx context.Context, userID uint64) ([]*model.ConversationParticipant, error) {
	var participants []*model.ConversationParticipant
	// 使用 Conversation__ 别名配合 GORM 的嵌套填充特性
	err := s.db.WithContext(ctx).Table("conversation_participants p").
		Select("p.*, "+
			"c.id AS `Conversation__id`, "+
			"c.peer_key AS `Conversation__peer_key`, "+
			"c.last_msg_content AS `Conversation__last_msg_content`, "+
			"c.last_msg_type AS `Conversation__last_msg_type`, "+
			"c.last_sender_id AS `Conversation__last_sender_id`, "+
			"c.last_message_at AS `Conversation__last_message_at`, "+
			"c.is_active AS `Conversation__is_active`").
		Joins("JOIN conversations c ON p.conversation_id = c.id").
		Where("p.user_id = ? AND c.is_active = 1", userID).
		Order("c.last_message_at DESC").
		Find(&participants).Error
	return participants, err
}
