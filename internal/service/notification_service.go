package service

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/jinzhu/copier"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

// NotificationService 离线消息通知服务接口定义
type NotificationService interface {
	GetNotificationList(ctx context.Context, userID uint64, limit, offset int64) ([]*dto.NotificationDTO, error)
	GetUnreadCount(ctx context.Context, userID uint64) (*dto.NotificationUnreadDTO, error)
	MarkAsRead(ctx context.Context, userID uint64, msgID string) error
	MarkAllAsRead(ctx context.Context, userID uint64) error
}

type notificationServiceImpl struct {
	notifyRepo mongo.NotificationRepo
	userRepo   repository.UserRepo
}

func NewNotificationService(notifyRepo mongo.NotificationRepo, userRepo repository.UserRepo) NotificationService {
	return &notificationServiceImpl{
		notifyRepo: notifyRepo,
		userRepo:   userRepo,
	}
}

// GetNotificationList 分页获取通知列表并补全发送者名称
func (s *notificationServiceImpl) GetNotificationList(ctx context.Context, userID uint64, limit, offset int64) ([]*dto.NotificationDTO, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	list, err := s.notifyRepo.GetNotificationList(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	senderIDs := make([]uint64, 0, len(list))
	seen := make(map[uint64]struct{}, len(list))
	for _, n := range list {
		if _, ok := seen[n.SenderID]; !ok {
			seen[n.SenderID] = struct{}{}
			senderIDs = append(senderIDs, n.SenderID)
		}
	}

	names := make(map[uint64]string, len(senderIDs))
	if len(senderIDs) > 0 {
		users, err := s.userRepo.GetUserByIds(ctx, senderIDs)
		if err != nil {
			log.WarnContext(ctx, "sender name resolution failed", "err", err)
		}
		for _, u := range users {
			names[u.ID] = u.Username
		}
	}

	res := make([]*dto.NotificationDTO, 0, len(list))
	for _, n := range list {
		var d dto.NotificationDTO
		if err := copier.Copy(&d, n); err != nil {
			return nil, err
		}
		d.ID = n.ID.Hex()
		d.SenderName = names[n.SenderID]
		d.CreatedAt = n.CreatedAt.Format(time.DateTime)
		res = append(res, &d)
	}
	return res, nil
}

func (s *notificationServiceImpl) GetUnreadCount(ctx context.Context, userID uint64) (*dto.NotificationUnreadDTO, error) {
	count, err := s.notifyRepo.GetUnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &dto.NotificationUnreadDTO{UnreadCount: count}, nil
}

func (s *notificationServiceImpl) MarkAsRead(ctx context.Context, userID uint64, msgID string) error {
	err := s.notifyRepo.MarkAsRead(ctx, userID, msgID)
	if errors.Is(err, mongodriver.ErrNoDocuments) || errors.Is(err, mongodriver.ErrInvalidIndexValue) {
		return ErrNotificationNotFound
	}
	return err
}

func (s *notificationServiceImpl) MarkAllAsRead(ctx context.Context, userID uint64) error {
	return s.notifyRepo.MarkAllAsRead(ctx, userID)
}
