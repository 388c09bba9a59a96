// Package chatclient 提供聊天服务的 Go 客户端
// Websocket 与 HTTP 轮询两种订阅实现共用同一抽象，调用方按需降级
package chatclient

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
)

// Event 服务端推送的事件，Data 结构随 Type 变化
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Capabilities 订阅实现的能力声明
// 轮询实现没有输入状态和在线状态，调用方据此隐藏对应 UI
type Capabilities struct {
	Typing   bool
	Presence bool
}

// Subscription 实时事件订阅抽象
type Subscription interface {
	// Run 阻塞运行直到 ctx 取消，内部自行处理重连
	Run(ctx context.Context) error
	// Events 事件输出通道，Run 退出后关闭
	Events() <-chan Event
	// Send 发送客户端事件
	Send(evtType string, payload interface{}) error
	Capabilities() Capabilities
}

// ErrUnsupported 当前订阅实现不支持该事件类型
var ErrUnsupported = errors.New("event type not supported by this transport")

// 客户端发送的事件类型
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
)

// 服务端推送的事件类型
const (
	EventNewMessage       = "new_message"
	EventUserTyping       = "user_typing"
	EventMessagesRead     = "messages_read"
	EventUserStatusChange = "user_status_change"
	EventError            = "error"
)

type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
