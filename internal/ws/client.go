package ws

import (
	"Murmur/internal/api/dto"
	"context"
	log "log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Relay 发送路径的信任边界，由聊天服务实现
type Relay interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	MarkRead(ctx context.Context, userID uint64, convID uint64) error
}

// Client 一条已通过握手鉴权的活跃连接
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	relay Relay

	send       chan []byte
	sendMu     sync.Mutex // 保护 send 的关闭与写入：读泵可能在顶替关闭之后仍产生出站事件
	sendClosed bool
	userID     uint64
	username   string
	joined     map[uint64]struct{} // 已加入的会话房间，断开时据此清理
	superseded bool                // 被同用户新连接顶替，注销时跳过离线广播
}

func NewClient(hub *Hub, conn *websocket.Conn, relay Relay, userID uint64, username string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		relay:    relay,
		send:     make(chan []byte, sendBuffer),
		userID:   userID,
		username: username,
		joined:   make(map[uint64]struct{}),
	}
}

// Serve 启动读写泵，读泵退出即注销连接
func (c *Client) Serve() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("ws read error", "userID", c.userID, "err", err)
			}
			return
		}
		c.handleEvent(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent 入站事件分发：负载在边界处校验，失败回 error 事件但连接保持
func (c *Client) handleEvent(raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		c.sendError("malformed event")
		return
	}

	switch env.Type {
	case EventJoinConversation:
		var p ConversationPayload
		if err := env.Bind(&p); err != nil {
			c.sendError("invalid join_conversation payload")
			return
		}
		c.hub.JoinRoom(c, p.ConversationID)

	case EventLeaveConversation:
		var p ConversationPayload
		if err := env.Bind(&p); err != nil {
			c.sendError("invalid leave_conversation payload")
			return
		}
		c.hub.LeaveRoom(c, p.ConversationID)

	case EventSendMessage:
		var p SendMessagePayload
		if err := env.Bind(&p); err != nil {
			c.sendError("invalid send_message payload")
			return
		}
		req := &dto.SendMessageReq{
			ConversationID: p.ConversationID,
			Content:        p.Content,
			MsgType:        p.MsgType,
			ReplyTo:        p.ReplyTo,
		}
		if _, err := c.relay.SendMessage(context.Background(), c.userID, req); err != nil {
			c.sendError(err.Error())
			return
		}

	case EventTypingStart:
		var p ConversationPayload
		if err := env.Bind(&p); err != nil {
			c.sendError("invalid typing_start payload")
			return
		}
		c.hub.TypingStart(c, p.ConversationID)

	case EventTypingStop:
		var p ConversationPayload
		if err := env.Bind(&p); err != nil {
			c.sendError("invalid typing_stop payload")
			return
		}
		c.hub.TypingStop(c, p.ConversationID)

	case EventMarkRead:
		var p ConversationPayload
		if err := env.Bind(&p); err != nil {
			c.sendError("invalid mark_read payload")
			return
		}
		if err := c.relay.MarkRead(context.Background(), c.userID, p.ConversationID); err != nil {
			c.sendError(err.Error())
			return
		}

	default:
		c.sendError("unsupported event type")
	}
}

// enqueue 非阻塞投递；慢消费者的缓冲占满时丢弃并记录。
// 已关闭的连接直接丢弃，避免向关闭的通道写入
func (c *Client) enqueue(payload []byte) {
	if payload == nil {
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Warn("ws send buffer full, dropping event", "userID", c.userID)
	}
}

// closeSend 幂等关闭出站通道，只能经由此方法关闭 send
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

func (c *Client) sendError(msg string) {
	c.enqueue(Encode(EventError, ErrorEvent{Message: msg}))
}
