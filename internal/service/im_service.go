package service

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/model"
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/kafka"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/repository"
	"Murmur/internal/ws"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// IMService 即时通讯服务接口定义
// SendMessage / MarkRead 同时服务于 WS 事件与 HTTP 回退接口
type IMService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	StartConversation(ctx context.Context, userID, targetUserID uint64) (uint64, error)
	GetChatHistory(ctx context.Context, userID uint64, convID uint64, beforeID string, pageSize int) ([]*dto.MessageDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	MarkRead(ctx context.Context, userID uint64, convID uint64) error
	GetOnlineUsers(ctx context.Context) (*dto.OnlineUsersDTO, error)
}

type imServiceImpl struct {
	convRepo    repository.ConversationRepo
	userRepo    repository.UserRepo
	messageRepo mongo.MessageRepo
	bus         ws.Bus
	producer    kafka.Producer
}

func NewIMService(
	convRepo repository.ConversationRepo,
	userRepo repository.UserRepo,
	messageRepo mongo.MessageRepo,
	bus ws.Bus,
	producer kafka.Producer,
) IMService {
	return &imServiceImpl{
		convRepo:    convRepo,
		userRepo:    userRepo,
		messageRepo: messageRepo,
		bus:         bus,
		producer:    producer,
	}
}

// SendMessage 发送消息：成员校验在此处，房间订阅不被信任
func (s *imServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	conv, err := s.authorizeParticipant(ctx, req.ConversationID, senderID)
	if err != nil {
		return nil, err
	}

	sender, err := s.userRepo.GetUserById(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrUserNotFound
	}

	msgType := req.MsgType
	if msgType == "" {
		msgType = consts.MsgTypeText
	}

	msgModel := &mongo.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		MsgType:        msgType,
		Content:        req.Content,
		Status:         consts.MsgStatusSent,
		ReplyTo:        req.ReplyTo,
		CreatedAt:      time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.messageRepo.SaveMessage(writeCtx, msgModel); err != nil {
		log.ErrorContext(ctx, "message persist failed", "conversationID", conv.ID, "err", err)
		return nil, UnExpectedError
	}

	// 快照 + 未读计数一个事务写入；失败只记录，广播照常 (接受的短暂不一致)
	if err := s.convRepo.ApplyMessage(ctx, conv.ID, msgModel.Content, msgType, senderID, msgModel.CreatedAt); err != nil {
		log.ErrorContext(ctx, "conversation snapshot update failed", "conversationID", conv.ID, "err", err)
	}

	msgDTO := s.toMessageDTO(msgModel, sender.Username)

	// 广播给当前订阅房间的所有连接，发送者自身的连接也包含在内
	if err := ws.PublishToConversation(ctx, s.bus, conv.ID, ws.EventNewMessage, msgDTO, 0); err != nil {
		log.ErrorContext(ctx, "message broadcast failed", "conversationID", conv.ID, "err", err)
	}

	s.publishMessageEvent(ctx, conv.ID, msgDTO)

	return msgDTO, nil
}

// StartConversation 针对单聊：获取或创建会话，同一对用户恒复用同一会话
func (s *imServiceImpl) StartConversation(ctx context.Context, userID, targetUserID uint64) (uint64, error) {
	if targetUserID == 0 || targetUserID == userID {
		return 0, ErrTargetUserInvalid
	}

	target, err := s.userRepo.GetUserById(ctx, targetUserID)
	if err != nil {
		return 0, err
	}
	if target == nil {
		return 0, ErrUserNotFound
	}

	peerKey := buildPeerKey(userID, targetUserID)

	conv, err := s.convRepo.GetConversationByPeerKey(ctx, peerKey)
	if err == nil {
		return conv.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	newConv := &model.Conversation{
		PeerKey:       peerKey,
		LastMessageAt: time.Now(),
		IsActive:      true,
	}
	participants := []*model.ConversationParticipant{
		{UserID: userID},
		{UserID: targetUserID},
	}

	if err := s.convRepo.CreateConversation(ctx, newConv, participants); err != nil {
		return 0, err
	}
	return newConv.ID, nil
}

// GetChatHistory 拉取历史消息，游标向更旧方向翻页
func (s *imServiceImpl) GetChatHistory(ctx context.Context, userID uint64, convID uint64, beforeID string, pageSize int) ([]*dto.MessageDTO, error) {
	if _, err := s.authorizeParticipant(ctx, convID, userID); err != nil {
		return nil, err
	}

	if pageSize <= 0 {
		pageSize = consts.DefaultHistoryPageSize
	}

	models, err := s.messageRepo.GetHistory(ctx, convID, beforeID, pageSize)
	if err != nil {
		return nil, err
	}

	names, err := s.resolveUsernames(ctx, senderIDs(models))
	if err != nil {
		log.WarnContext(ctx, "sender name resolution failed", "err", err)
	}

	res := make([]*dto.MessageDTO, 0, len(models))
	for _, m := range models {
		res = append(res, s.toMessageDTO(m, names[m.SenderID]))
	}
	return res, nil
}

// GetConversationList 获取会话列表，最近活跃在前
func (s *imServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	participants, err := s.convRepo.GetUserConversationList(ctx, userID)
	if err != nil {
		return nil, err
	}

	peerIDs := make([]uint64, 0, len(participants))
	for _, p := range participants {
		if peerID, err := parsePeerID(p.Conversation.PeerKey, userID); err == nil {
			peerIDs = append(peerIDs, peerID)
		}
	}
	peers := make(map[uint64]*model.User)
	if len(peerIDs) > 0 {
		users, err := s.userRepo.GetUserByIds(ctx, peerIDs)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			peers[u.ID] = u
		}
	}

	res := make([]*dto.ConversationDTO, 0, len(participants))
	for _, p := range participants {
		d := &dto.ConversationDTO{
			ConversationID: p.ConversationID,
			LastMsgContent: p.Conversation.LastMsgContent,
			LastMsgType:    p.Conversation.LastMsgType,
			LastSenderID:   p.Conversation.LastSenderID,
			LastMessageAt:  p.Conversation.LastMessageAt,
			UnreadCount:    p.UnreadCount,
		}

		if peerID, err := parsePeerID(p.Conversation.PeerKey, userID); err == nil {
			d.PeerID = peerID
			if peer, ok := peers[peerID]; ok {
				d.PeerUsername = peer.Username
				d.PeerOnline = peer.IsOnline
			}
		}
		res = append(res, d)
	}
	return res, nil
}

// MarkRead 标记已读：回执追加幂等，未读清零，已读通知广播给其他订阅者
func (s *imServiceImpl) MarkRead(ctx context.Context, userID uint64, convID uint64) error {
	if _, err := s.authorizeParticipant(ctx, convID, userID); err != nil {
		return err
	}

	now := time.Now()
	if _, err := s.messageRepo.AppendReadReceipts(ctx, convID, userID, now); err != nil {
		return err
	}

	if err := s.convRepo.ResetUnread(ctx, convID, userID, now); err != nil {
		return err
	}

	username := ""
	if reader, err := s.userRepo.GetUserById(ctx, userID); err == nil && reader != nil {
		username = reader.Username
	}

	evt := ws.MessagesReadEvent{ConversationID: convID, UserID: userID, Username: username}
	if err := ws.PublishToConversation(ctx, s.bus, convID, ws.EventMessagesRead, evt, userID); err != nil {
		log.ErrorContext(ctx, "read notice broadcast failed", "conversationID", convID, "err", err)
	}

	return nil
}

// GetOnlineUsers 跨实例在线用户快照 (Redis 在线集合)
func (s *imServiceImpl) GetOnlineUsers(ctx context.Context) (*dto.OnlineUsersDTO, error) {
	members, err := redis.GetSet(ctx, consts.PresenceOnlineSetKey)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseUint(m, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return &dto.OnlineUsersDTO{UserIDs: ids, Count: len(ids)}, nil
}

// authorizeParticipant 会话存在、激活且用户在成员内，否则一律按"会话不存在"拒绝
func (s *imServiceImpl) authorizeParticipant(ctx context.Context, convID uint64, userID uint64) (*model.Conversation, error) {
	if convID == 0 {
		return nil, ErrConversationNotFound
	}

	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.IsActive {
		return nil, ErrConversationNotFound
	}

	isMember, err := s.convRepo.IsParticipant(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrConversationNotFound
	}

	return conv, nil
}

// publishMessageEvent 投递消息事件到 Kafka，供离线通知消费者使用。尽力而为
func (s *imServiceImpl) publishMessageEvent(ctx context.Context, convID uint64, msg *dto.MessageDTO) {
	recipients, err := s.convRepo.GetParticipantIDs(ctx, convID)
	if err != nil {
		log.WarnContext(ctx, "participant lookup for message event failed", "conversationID", convID, "err", err)
		return
	}

	evt := &kafka.MessageEvent{
		MessageID:      msg.ID,
		ConversationID: convID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderUsername,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
	for _, id := range recipients {
		if id != msg.SenderID {
			evt.RecipientIDs = append(evt.RecipientIDs, id)
		}
	}

	if err := s.producer.PublishMessageCreated(ctx, evt); err != nil {
		log.WarnContext(ctx, "message event publish failed", "conversationID", convID, "err", err)
	}
}

func (s *imServiceImpl) resolveUsernames(ctx context.Context, ids []uint64) (map[uint64]string, error) {
	names := make(map[uint64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	users, err := s.userRepo.GetUserByIds(ctx, ids)
	if err != nil {
		return names, err
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}

func (s *imServiceImpl) toMessageDTO(m *mongo.Message, senderName string) *dto.MessageDTO {
	receipts := make([]dto.ReadReceiptDTO, 0, len(m.ReadReceipts))
	for _, r := range m.ReadReceipts {
		receipts = append(receipts, dto.ReadReceiptDTO{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return &dto.MessageDTO{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderUsername: senderName,
		MsgType:        m.MsgType,
		Content:        m.Content,
		Status:         m.Status,
		ReplyTo:        m.ReplyTo,
		ReadReceipts:   receipts,
		CreatedAt:      m.CreatedAt,
	}
}

func senderIDs(models []*mongo.Message) []uint64 {
	seen := make(map[uint64]struct{}, len(models))
	ids := make([]uint64, 0, len(models))
	for _, m := range models {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	return ids
}

// buildPeerKey 单聊唯一标识，小 ID 在前
func buildPeerKey(a, b uint64) string {
	if a < b {
		return fmt.Sprintf("%d_%d", a, b)
	}
	return fmt.Sprintf("%d_%d", b, a)
}

func parsePeerID(peerKey string, currentUserID uint64) (uint64, error) {
	var u1, u2 uint64
	if _, err := fmt.Sscanf(peerKey, "%d_%d", &u1, &u2); err != nil {
		return 0, err
	}
	if u1 == currentUserID {
		return u2, nil
	}
	return u1, nil
}
