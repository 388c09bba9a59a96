package job

import (
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/logger"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/repository"
	"context"
	log "log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PresenceSweepJob 在线状态校准
// 实例异常退出时来不及执行下线流程，MySQL 里会残留 is_online 标记
// 以 Redis 在线集合为准，把数据库中多出来的在线用户批量置为离线
type PresenceSweepJob struct {
	userRepo repository.UserRepo
}

func NewPresenceSweepJob(userRepo repository.UserRepo) *PresenceSweepJob {
	return &PresenceSweepJob{userRepo: userRepo}
}

func (s *PresenceSweepJob) Run() {
	traceID := "job-" + uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, traceID)

	dbOnline, err := s.userRepo.ListOnlineUserIds(ctx)
	if err != nil {
		log.ErrorContext(ctx, "list online users error", "err", err)
		return
	}
	if len(dbOnline) == 0 {
		return
	}

	members, err := redis.GetSet(ctx, consts.PresenceOnlineSetKey)
	if err != nil {
		log.ErrorContext(ctx, "get online set error", "err", err)
		return
	}
	live := make(map[uint64]struct{}, len(members))
	for _, m := range members {
		if id, err := strconv.ParseUint(m, 10, 64); err == nil {
			live[id] = struct{}{}
		}
	}

	var stale []uint64
	for _, id := range dbOnline {
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return
	}

	if err := s.userRepo.MarkOffline(ctx, stale, time.Now()); err != nil {
		log.ErrorContext(ctx, "mark stale users offline error", "err", err)
		return
	}
	log.InfoContext(ctx, "presence sweep done", "staleCount", len(stale))
}
