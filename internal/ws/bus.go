package ws

import (
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/redis"
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// BusMessage 总线上的一条广播
type BusMessage struct {
	Channel string
	Payload []byte
}

// Bus 广播背板抽象。多实例部署时由 Redis Pub/Sub 承载，
// 同一会话分散在不同实例上的订阅者因此互相可见。
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, patterns ...string) (<-chan BusMessage, func(), error)
}

// frame 总线帧：携带已编码的客户端事件与可选的排除目标
type frame struct {
	ExcludeUserID uint64          `json:"exclude_user_id,omitempty"`
	Event         json.RawMessage `json:"event"`
}

// PublishToConversation 向会话频道广播一条出站事件
func PublishToConversation(ctx context.Context, bus Bus, convID uint64, evtType string, data interface{}, excludeUserID uint64) error {
	f := frame{
		ExcludeUserID: excludeUserID,
		Event:         Encode(evtType, data),
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, consts.ChatConversationKey+strconv.FormatUint(convID, 10), b)
}

// PublishPresence 向全局频道广播在线状态变更
func PublishPresence(ctx context.Context, bus Bus, data StatusChangeEvent) error {
	f := frame{Event: Encode(EventUserStatusChange, data)}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, consts.ChatPresenceKey, b)
}

// conversationIDFromChannel 从频道名还原会话 ID，非会话频道返回 0
func conversationIDFromChannel(channel string) uint64 {
	if !strings.HasPrefix(channel, consts.ChatConversationKey) {
		return 0
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(channel, consts.ChatConversationKey), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// RedisBus Redis Pub/Sub 承载的跨实例背板
type RedisBus struct{}

func NewRedisBus() *RedisBus {
	return &RedisBus{}
}

func (s *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return redis.Publish(ctx, channel, payload)
}

func (s *RedisBus) Subscribe(ctx context.Context, patterns ...string) (<-chan BusMessage, func(), error) {
	pubsub := redis.PSubscribe(ctx, patterns...)
	out := make(chan BusMessage, 256)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}
		}
	}()

	return out, func() { _ = pubsub.Close() }, nil
}

// LocalBus 进程内回环背板，测试与单机模式使用
type LocalBus struct {
	mu   sync.Mutex
	subs []*localSub
}

type localSub struct {
	patterns []string
	ch       chan BusMessage
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (s *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if matchAny(sub.patterns, channel) {
			select {
			case sub.ch <- BusMessage{Channel: channel, Payload: payload}:
			default:
			}
		}
	}
	return nil
}

func (s *LocalBus) Subscribe(_ context.Context, patterns ...string) (<-chan BusMessage, func(), error) {
	sub := &localSub{patterns: patterns, ch: make(chan BusMessage, 256)}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.subs {
			if existing == sub {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, cancel, nil
}

// matchAny 仅支持 Redis 通配里实际用到的尾部 * 形式
func matchAny(patterns []string, channel string) bool {
	for _, p := range patterns {
		if p == channel {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(channel, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}
