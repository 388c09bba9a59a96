package ws

import (
	"context"
	log "log/slog"
	"time"
)

type typingKey struct {
	convID uint64
	userID uint64
}

// typingState 每个 (会话,用户) 键持有唯一一个定时器句柄，
// 重复 start 先取消旧句柄再重置，不存在多个并行计时器
type typingState struct {
	timer    *time.Timer
	username string
}

// TypingStart 登记输入状态并 (重新) 武装静默超时
func (h *Hub) TypingStart(c *Client, convID uint64) {
	key := typingKey{convID: convID, userID: c.userID}

	h.mu.Lock()
	if st, ok := h.typing[key]; ok {
		st.timer.Stop()
	}
	st := &typingState{username: c.username}
	st.timer = time.AfterFunc(h.typingTimeout, func() {
		h.typingExpired(key, c, st)
	})
	h.typing[key] = st
	h.mu.Unlock()

	h.broadcastTyping(context.Background(), convID, c, true)
}

// TypingStop 显式终止输入状态
func (h *Hub) TypingStop(c *Client, convID uint64) {
	key := typingKey{convID: convID, userID: c.userID}

	h.mu.Lock()
	if st, ok := h.typing[key]; ok {
		st.timer.Stop()
		delete(h.typing, key)
	}
	h.mu.Unlock()

	h.broadcastTyping(context.Background(), convID, c, false)
}

// typingExpired 静默窗口耗尽后的自动停止。
// 回调持有武装它的 state，重置竞态下旧定时器触发时键已指向新 state，直接放弃
func (h *Hub) typingExpired(key typingKey, c *Client, armed *typingState) {
	h.mu.Lock()
	cur, ok := h.typing[key]
	expired := ok && cur == armed
	if expired {
		delete(h.typing, key)
	}
	h.mu.Unlock()

	if expired {
		h.broadcastTyping(context.Background(), key.convID, c, false)
	}
}

// clearTypingLocked 清空某用户的全部输入状态，返回涉及的会话 ID
func (h *Hub) clearTypingLocked(userID uint64) []uint64 {
	var convs []uint64
	for key, st := range h.typing {
		if key.userID != userID {
			continue
		}
		st.timer.Stop()
		delete(h.typing, key)
		convs = append(convs, key.convID)
	}
	return convs
}

// broadcastTyping 向会话内其他成员广播输入状态，发送者自身排除
func (h *Hub) broadcastTyping(ctx context.Context, convID uint64, c *Client, isTyping bool) {
	evt := TypingEvent{
		ConversationID: convID,
		UserID:         c.userID,
		Username:       c.username,
		IsTyping:       isTyping,
	}
	if err := PublishToConversation(ctx, h.bus, convID, EventUserTyping, evt, c.userID); err != nil {
		log.Error("typing broadcast failed", "conversationID", convID, "userID", c.userID, "err", err)
	}
}
