package ws

import (
	"Murmur/internal/pkg/consts"
	"context"
	log "log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// PresenceStore 在线状态的持久化侧 (MySQL 标记 + Redis 在线集合)
// 写入失败只记录日志，不阻断广播
type PresenceStore interface {
	SetOnline(ctx context.Context, userID uint64, at time.Time) error
	SetOffline(ctx context.Context, userID uint64, at time.Time) error
}

// Hub 连接协调器：在线映射、会话房间、输入状态全部由它独占持有，
// 外界只能通过方法访问。跨实例广播经由 Bus。
type Hub struct {
	mu      sync.Mutex
	clients map[uint64]*Client               // userID -> 活跃连接，后到者顶替
	rooms   map[uint64]map[*Client]struct{}  // conversationID -> 订阅连接集合
	typing  map[typingKey]*typingState

	bus           Bus
	presence      PresenceStore
	typingTimeout time.Duration
}

func NewHub(bus Bus, presence PresenceStore, typingTimeout time.Duration) *Hub {
	if typingTimeout <= 0 {
		typingTimeout = time.Duration(consts.DefaultTypingTimeoutMs) * time.Millisecond
	}
	return &Hub{
		clients:       make(map[uint64]*Client),
		rooms:         make(map[uint64]map[*Client]struct{}),
		typing:        make(map[typingKey]*typingState),
		bus:           bus,
		presence:      presence,
		typingTimeout: typingTimeout,
	}
}

// Run 订阅背板并分发广播，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) error {
	ch, cancel, err := h.bus.Subscribe(ctx, consts.ChatConversationPattern, consts.ChatPresenceKey)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.dispatch(msg)
		}
	}
}

func (h *Hub) dispatch(msg BusMessage) {
	var f frame
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		log.Warn("discarding malformed bus frame", "channel", msg.Channel, "err", err)
		return
	}

	if msg.Channel == consts.ChatPresenceKey {
		h.deliverToAll(f.Event)
		return
	}

	if convID := conversationIDFromChannel(msg.Channel); convID > 0 {
		h.deliverToRoom(convID, f.Event, f.ExcludeUserID)
	}
}

// Register 登记新连接；同一用户的旧连接被顶替关闭，但不触发离线广播
func (h *Hub) Register(c *Client) {
	var superseded *Client

	h.mu.Lock()
	if old, ok := h.clients[c.userID]; ok && old != c {
		old.superseded = true
		h.removeFromRoomsLocked(old)
		old.closeSend()
		superseded = old
	}
	h.clients[c.userID] = c
	h.mu.Unlock()

	if superseded != nil {
		log.Info("connection superseded", "userID", c.userID)
	}

	now := time.Now()
	ctx := context.Background()
	if err := h.presence.SetOnline(ctx, c.userID, now); err != nil {
		log.Error("presence online update failed", "userID", c.userID, "err", err)
	}
	if err := PublishPresence(ctx, h.bus, StatusChangeEvent{UserID: c.userID, IsOnline: true, LastSeen: now}); err != nil {
		log.Error("presence broadcast failed", "userID", c.userID, "err", err)
	}
}

// Unregister 注销连接：清房间、清输入状态、离线广播
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.removeFromRoomsLocked(c)
	if c.superseded {
		// 顶替路径：用户仍在线，清理到此为止
		h.mu.Unlock()
		return
	}
	if cur, ok := h.clients[c.userID]; ok && cur == c {
		delete(h.clients, c.userID)
		c.closeSend()
	}
	typingConvs := h.clearTypingLocked(c.userID)
	h.mu.Unlock()

	ctx := context.Background()
	for _, convID := range typingConvs {
		h.broadcastTyping(ctx, convID, c, false)
	}

	now := time.Now()
	if err := h.presence.SetOffline(ctx, c.userID, now); err != nil {
		log.Error("presence offline update failed", "userID", c.userID, "err", err)
	}
	if err := PublishPresence(ctx, h.bus, StatusChangeEvent{UserID: c.userID, IsOnline: false, LastSeen: now}); err != nil {
		log.Error("presence broadcast failed", "userID", c.userID, "err", err)
	}
}

// JoinRoom 订阅会话房间。幂等，不做成员鉴权：发送路径才是信任边界
func (h *Hub) JoinRoom(c *Client, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[convID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[convID] = room
	}
	room[c] = struct{}{}
	c.joined[convID] = struct{}{}
}

// LeaveRoom 退订会话房间，非成员时为幂等空操作
func (h *Hub) LeaveRoom(c *Client, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[convID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, convID)
		}
	}
	delete(c.joined, convID)
}

// OnlineUsers 本实例已登记用户快照，运维/健康检查用
func (h *Hub) OnlineUsers() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]uint64, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) removeFromRoomsLocked(c *Client) {
	for convID := range c.joined {
		if room, ok := h.rooms[convID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, convID)
			}
		}
	}
	c.joined = make(map[uint64]struct{})
}

func (h *Hub) deliverToRoom(convID uint64, payload []byte, excludeUserID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[convID] {
		if excludeUserID != 0 && c.userID == excludeUserID {
			continue
		}
		c.enqueue(payload)
	}
}

func (h *Hub) deliverToAll(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		c.enqueue(payload)
	}
}
