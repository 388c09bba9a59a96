package chatclient

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// ErrNotConnected 连接尚未建立或正在重连
var ErrNotConnected = errors.New("socket not connected")

const (
	heartbeatInterval = 30 * time.Second
	reconnectDelay    = 3 * time.Second
	socketWriteWait   = 10 * time.Second
)

// SocketSubscription Websocket 实时订阅
// 连接断开后由单个定时器延迟重连，任何时刻最多只有一个待触发的重连
type SocketSubscription struct {
	url   string
	token string

	mu        sync.Mutex
	conn      *websocket.Conn
	reconnect *time.Timer // 待触发的重连，nil 表示没有

	events chan Event
	dialer *websocket.Dialer
	delay  time.Duration
}

func NewSocketSubscription(url, token string) *SocketSubscription {
	return &SocketSubscription{
		url:    url,
		token:  token,
		events: make(chan Event, 64),
		dialer: websocket.DefaultDialer,
		delay:  reconnectDelay,
	}
}

func (s *SocketSubscription) Capabilities() Capabilities {
	return Capabilities{Typing: true, Presence: true}
}

func (s *SocketSubscription) Events() <-chan Event {
	return s.events
}

// Run 建立连接并维持事件读取，断线时安排重连，直到 ctx 取消
func (s *SocketSubscription) Run(ctx context.Context) error {
	defer close(s.events)
	defer s.closeConn()

	retry := make(chan struct{}, 1)
	s.connect(ctx, retry)

	for {
		select {
		case <-ctx.Done():
			s.cancelReconnect()
			return ctx.Err()
		case <-retry:
			s.connect(ctx, retry)
		}
	}
}

// Send 发送客户端事件，未连接时返回错误
func (s *SocketSubscription) Send(evtType string, payload interface{}) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(envelope{Type: evtType, Data: payload})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *SocketSubscription) connect(ctx context.Context, retry chan<- struct{}) {
	conn, _, err := s.dialer.DialContext(ctx, s.url+"?token="+s.token, nil)
	if err != nil {
		log.Warn("chat socket dial failed", "err", err)
		s.scheduleReconnect(retry)
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.heartbeat(ctx, conn)
	go s.readLoop(ctx, conn, retry)
}

func (s *SocketSubscription) readLoop(ctx context.Context, conn *websocket.Conn, retry chan<- struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.closeConn()
			if ctx.Err() == nil {
				s.scheduleReconnect(retry)
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			log.Warn("chat socket malformed event", "err", err)
			continue
		}

		select {
		case s.events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func (s *SocketSubscription) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// scheduleReconnect 已有待触发的重连时直接返回，重连请求从不堆叠
func (s *SocketSubscription) scheduleReconnect(retry chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnect != nil {
		return
	}
	s.reconnect = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.reconnect = nil
		s.mu.Unlock()
		select {
		case retry <- struct{}{}:
		default:
		}
	})
}

func (s *SocketSubscription) cancelReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

func (s *SocketSubscription) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
