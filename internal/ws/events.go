package ws

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// 客户端 → 服务端事件
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
)

// 服务端 → 客户端事件
const (
	EventNewMessage       = "new_message"
	EventUserTyping       = "user_typing"
	EventMessagesRead     = "messages_read"
	EventUserStatusChange = "user_status_change"
	EventError            = "error"
)

var validate = validator.New()

// Envelope 入站事件信封，按 Type 区分负载结构
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope 解析入站事件外层
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Bind 解析负载并在分发前完成校验
func (e *Envelope) Bind(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// ConversationPayload join/leave/typing/mark_read 共用负载
type ConversationPayload struct {
	ConversationID uint64 `json:"conversation_id" validate:"required"`
}

// SendMessagePayload send_message 负载
type SendMessagePayload struct {
	ConversationID uint64 `json:"conversation_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=2000"`
	MsgType        string `json:"msg_type" validate:"omitempty,oneof=text image audio"`
	ReplyTo        string `json:"reply_to"`
}

// ServerEvent 出站事件信封
type ServerEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Encode 序列化出站事件，编码失败返回 nil
func Encode(evtType string, data interface{}) []byte {
	b, err := json.Marshal(ServerEvent{Type: evtType, Data: data})
	if err != nil {
		return nil
	}
	return b
}

// TypingEvent user_typing 负载
type TypingEvent struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
	Username       string `json:"username"`
	IsTyping       bool   `json:"is_typing"`
}

// MessagesReadEvent messages_read 负载
type MessagesReadEvent struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
	Username       string `json:"username"`
}

// StatusChangeEvent user_status_change 负载
type StatusChangeEvent struct {
	UserID   uint64    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// ErrorEvent error 负载
type ErrorEvent struct {
	Message string `json:"message"`
}
