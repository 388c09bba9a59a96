package service

import (
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/repository"
	"Murmur/internal/ws"
	"context"
	"strconv"
	"time"
)

type presenceStoreImpl struct {
	userRepo repository.UserRepo
}

// NewPresenceStore 在线状态持久化：MySQL 字段 + Redis 全局在线集合双写
func NewPresenceStore(userRepo repository.UserRepo) ws.PresenceStore {
	return &presenceStoreImpl{userRepo: userRepo}
}

func (s *presenceStoreImpl) SetOnline(ctx context.Context, userID uint64, at time.Time) error {
	if err := s.userRepo.UpdatePresence(ctx, userID, true, at); err != nil {
		return err
	}
	return redis.SAdd(ctx, consts.PresenceOnlineSetKey, strconv.FormatUint(userID, 10))
}

func (s *presenceStoreImpl) SetOffline(ctx context.Context, userID uint64, at time.Time) error {
	if err := s.userRepo.UpdatePresence(ctx, userID, false, at); err != nil {
		return err
	}
	return redis.SRem(ctx, consts.PresenceOnlineSetKey, strconv.FormatUint(userID, 10))
}
