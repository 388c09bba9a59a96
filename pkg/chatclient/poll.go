package chatclient

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

const pollInterval = 5 * time.Second

// pollResponse 服务端统一响应封装
type pollResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type pollMessage struct {
	ID             string `json:"id"`
	ConversationID uint64 `json:"conversation_id"`
}

// PollSubscription HTTP 轮询降级订阅
// 固定间隔拉取当前会话的最新消息，不支持输入状态和在线状态
type PollSubscription struct {
	client  *resty.Client
	baseURL string

	mu     sync.Mutex
	convID uint64
	lastID string // 已投递的最新消息 ID，ObjectID 十六进制按时间有序

	events chan Event
}

func NewPollSubscription(baseURL, token string) *PollSubscription {
	client := resty.New().
		SetTimeout(pollInterval).
		SetAuthToken(token)
	return &PollSubscription{
		client:  client,
		baseURL: baseURL,
		events:  make(chan Event, 64),
	}
}

func (s *PollSubscription) Capabilities() Capabilities {
	return Capabilities{Typing: false, Presence: false}
}

func (s *PollSubscription) Events() <-chan Event {
	return s.events
}

// Run 固定间隔轮询，直到 ctx 取消
func (s *PollSubscription) Run(ctx context.Context) error {
	defer close(s.events)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// Send 消息发送与已读走 HTTP 接口，输入状态事件不支持
func (s *PollSubscription) Send(evtType string, payload interface{}) error {
	switch evtType {
	case EventJoinConversation:
		return s.switchConversation(payload)
	case EventLeaveConversation:
		s.mu.Lock()
		s.convID = 0
		s.lastID = ""
		s.mu.Unlock()
		return nil
	case EventSendMessage:
		resp, err := s.client.R().SetBody(payload).Post(s.baseURL + "/api/im/send")
		return httpError(resp, err)
	case EventMarkRead:
		convID, err := conversationID(payload)
		if err != nil {
			return err
		}
		resp, err := s.client.R().Patch(fmt.Sprintf("%s/api/im/mark-read/%d", s.baseURL, convID))
		return httpError(resp, err)
	default:
		return ErrUnsupported
	}
}

func (s *PollSubscription) switchConversation(payload interface{}) error {
	convID, err := conversationID(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.convID != convID {
		s.convID = convID
		s.lastID = ""
	}
	s.mu.Unlock()
	return nil
}

// pollOnce 拉取一页最新消息，把上次之后的新消息按时间顺序投递
func (s *PollSubscription) pollOnce(ctx context.Context) {
	s.mu.Lock()
	convID := s.convID
	lastID := s.lastID
	s.mu.Unlock()
	if convID == 0 {
		return
	}

	resp, err := s.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/api/im/messages/%d", s.baseURL, convID))
	if err != nil {
		log.Warn("chat poll failed", "conversationID", convID, "err", err)
		return
	}

	var body pollResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || !body.Success {
		log.Warn("chat poll bad response", "conversationID", convID, "status", resp.StatusCode())
		return
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body.Data, &raw); err != nil {
		return
	}

	// 服务端返回最新在前，反转后按时间推进
	for i := len(raw) - 1; i >= 0; i-- {
		var meta pollMessage
		if err := json.Unmarshal(raw[i], &meta); err != nil {
			continue
		}
		if meta.ID <= lastID {
			continue
		}
		select {
		case s.events <- Event{Type: EventNewMessage, Data: raw[i]}:
			lastID = meta.ID
		case <-ctx.Done():
			return
		}
	}

	s.mu.Lock()
	if s.convID == convID && lastID > s.lastID {
		s.lastID = lastID
	}
	s.mu.Unlock()
}

func conversationID(payload interface{}) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	var p pollMessage
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, err
	}
	if p.ConversationID == 0 {
		return 0, fmt.Errorf("missing conversation_id")
	}
	return p.ConversationID, nil
}

func httpError(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("request failed with status %d", resp.StatusCode())
	}
	return nil
}
