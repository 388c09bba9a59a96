package chatclient

import (
	"testing"
	"time"
)

func TestScheduleReconnectNeverStacks(t *testing.T) {
	s := NewSocketSubscription("ws://127.0.0.1:0/api/im", "token")
	s.delay = 20 * time.Millisecond

	retry := make(chan struct{}, 8)

	// 连续多次断线通知只允许武装一个重连定时器
	s.scheduleReconnect(retry)
	s.scheduleReconnect(retry)
	s.scheduleReconnect(retry)

	select {
	case <-retry:
	case <-time.After(time.Second):
		t.Fatal("reconnect timer never fired")
	}

	select {
	case <-retry:
		t.Fatal("reconnect requests were stacked")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduleReconnectRearmsAfterFiring(t *testing.T) {
	s := NewSocketSubscription("ws://127.0.0.1:0/api/im", "token")
	s.delay = 20 * time.Millisecond

	retry := make(chan struct{}, 8)

	s.scheduleReconnect(retry)
	select {
	case <-retry:
	case <-time.After(time.Second):
		t.Fatal("first reconnect never fired")
	}

	// 定时器触发后重连槽位释放，下一次断线可以重新武装
	s.scheduleReconnect(retry)
	select {
	case <-retry:
	case <-time.After(time.Second):
		t.Fatal("second reconnect never fired")
	}
}

func TestCancelReconnectStopsPendingTimer(t *testing.T) {
	s := NewSocketSubscription("ws://127.0.0.1:0/api/im", "token")
	s.delay = 50 * time.Millisecond

	retry := make(chan struct{}, 8)

	s.scheduleReconnect(retry)
	s.cancelReconnect()

	select {
	case <-retry:
		t.Fatal("cancelled reconnect still fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSendWithoutConnection(t *testing.T) {
	s := NewSocketSubscription("ws://127.0.0.1:0/api/im", "token")
	if err := s.Send(EventTypingStart, map[string]uint64{"conversation_id": 1}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	socket := NewSocketSubscription("ws://127.0.0.1:0/api/im", "token")
	if caps := socket.Capabilities(); !caps.Typing || !caps.Presence {
		t.Fatalf("socket transport should support typing and presence, got %+v", caps)
	}

	poll := NewPollSubscription("http://127.0.0.1:0", "token")
	if caps := poll.Capabilities(); caps.Typing || caps.Presence {
		t.Fatalf("poll transport must not claim typing or presence, got %+v", caps)
	}
}

func TestPollRejectsTypingEvents(t *testing.T) {
	poll := NewPollSubscription("http://127.0.0.1:0", "token")
	if err := poll.Send(EventTypingStart, map[string]uint64{"conversation_id": 1}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if err := poll.Send(EventTypingStop, map[string]uint64{"conversation_id": 1}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
