package ws

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func decodeTyping(t *testing.T, evt receivedEvent) TypingEvent {
	t.Helper()
	var typing TypingEvent
	if err := json.Unmarshal(evt.Data, &typing); err != nil {
		t.Fatalf("bad typing payload: %v", err)
	}
	return typing
}

func TestTypingAutoExpires(t *testing.T) {
	hub, _, _ := startHub(t, 80*time.Millisecond)

	typer := newTestClient(1, "alice")
	watcher := newTestClient(2, "bob")
	hub.Register(typer)
	hub.Register(watcher)
	hub.JoinRoom(typer, 3)
	hub.JoinRoom(watcher, 3)

	hub.TypingStart(typer, 3)

	start := waitForEvent(t, watcher, EventUserTyping, time.Second)
	if got := decodeTyping(t, start); !got.IsTyping || got.UserID != 1 {
		t.Fatalf("expected typing start from user 1, got %+v", got)
	}

	// 不发 typing_stop，等静默超时自动停止
	stop := waitForEvent(t, watcher, EventUserTyping, time.Second)
	if got := decodeTyping(t, stop); got.IsTyping {
		t.Fatalf("expected auto stop, got %+v", got)
	}
}

func TestTypingRestartRearmsTimer(t *testing.T) {
	hub, _, _ := startHub(t, 200*time.Millisecond)

	typer := newTestClient(1, "alice")
	watcher := newTestClient(2, "bob")
	hub.Register(typer)
	hub.Register(watcher)
	hub.JoinRoom(typer, 3)
	hub.JoinRoom(watcher, 3)

	hub.TypingStart(typer, 3)
	waitForEvent(t, watcher, EventUserTyping, time.Second)

	time.Sleep(100 * time.Millisecond)
	hub.TypingStart(typer, 3)
	rearmedAt := time.Now()
	waitForEvent(t, watcher, EventUserTyping, time.Second)

	// 首个定时器已被取消，停止事件只能来自重置后的定时器
	stop := waitForEvent(t, watcher, EventUserTyping, time.Second)
	if got := decodeTyping(t, stop); got.IsTyping {
		t.Fatalf("expected stop event, got %+v", got)
	}
	if elapsed := time.Since(rearmedAt); elapsed < 180*time.Millisecond {
		t.Fatalf("stop fired %v after rearm, prior timer was not cancelled", elapsed)
	}
}

func TestStaleTypingExpiryLeavesRearmedState(t *testing.T) {
	hub, _, _ := startHub(t, time.Minute)

	typer := newTestClient(1, "alice")
	watcher := newTestClient(2, "bob")
	hub.Register(typer)
	hub.Register(watcher)
	hub.JoinRoom(typer, 3)
	hub.JoinRoom(watcher, 3)

	key := typingKey{convID: 3, userID: 1}

	hub.TypingStart(typer, 3)
	hub.mu.Lock()
	stale := hub.typing[key]
	hub.mu.Unlock()

	hub.TypingStart(typer, 3)
	waitForEvent(t, watcher, EventUserTyping, time.Second)
	waitForEvent(t, watcher, EventUserTyping, time.Second)

	// 首个定时器在 Stop 已出队后触发的情形：回调持有的 state 已被顶掉
	hub.typingExpired(key, typer, stale)

	hub.mu.Lock()
	cur := hub.typing[key]
	hub.mu.Unlock()
	if cur == nil {
		t.Fatal("rearmed typing state was deleted by a stale expiry")
	}
	if cur == stale {
		t.Fatal("expected typing state to be replaced on restart")
	}

	// 过期的回调不得提前广播停止
	expectNoTypedEvent(t, watcher, EventUserTyping, 100*time.Millisecond)

	hub.TypingStop(typer, 3)
	stop := waitForEvent(t, watcher, EventUserTyping, time.Second)
	if got := decodeTyping(t, stop); got.IsTyping {
		t.Fatalf("expected stop event, got %+v", got)
	}
}

func TestTypingStopIsImmediateAndFinal(t *testing.T) {
	hub, _, _ := startHub(t, 80*time.Millisecond)

	typer := newTestClient(1, "alice")
	watcher := newTestClient(2, "bob")
	hub.Register(typer)
	hub.Register(watcher)
	hub.JoinRoom(typer, 3)
	hub.JoinRoom(watcher, 3)

	hub.TypingStart(typer, 3)
	waitForEvent(t, watcher, EventUserTyping, time.Second)

	hub.TypingStop(typer, 3)
	stop := waitForEvent(t, watcher, EventUserTyping, time.Second)
	if got := decodeTyping(t, stop); got.IsTyping {
		t.Fatalf("expected stop event, got %+v", got)
	}

	// 显式停止后超时定时器不得再补发一次
	expectNoTypedEvent(t, watcher, EventUserTyping, 150*time.Millisecond)
}

func TestTypingStopWithoutStartIsBroadcast(t *testing.T) {
	hub, _, _ := startHub(t, 0)

	typer := newTestClient(1, "alice")
	watcher := newTestClient(2, "bob")
	hub.Register(typer)
	hub.Register(watcher)
	hub.JoinRoom(typer, 3)
	hub.JoinRoom(watcher, 3)

	hub.TypingStop(typer, 3)
	stop := waitForEvent(t, watcher, EventUserTyping, time.Second)
	if got := decodeTyping(t, stop); got.IsTyping {
		t.Fatalf("expected stop event, got %+v", got)
	}
}

func TestDisconnectClearsTyping(t *testing.T) {
	hub, _, _ := startHub(t, time.Minute)

	typer := newTestClient(1, "alice")
	watcher := newTestClient(2, "bob")
	hub.Register(typer)
	hub.Register(watcher)
	hub.JoinRoom(typer, 3)
	hub.JoinRoom(watcher, 3)

	hub.TypingStart(typer, 3)
	waitForEvent(t, watcher, EventUserTyping, time.Second)

	hub.Unregister(typer)

	stop := waitForEvent(t, watcher, EventUserTyping, time.Second)
	if got := decodeTyping(t, stop); got.IsTyping || got.ConversationID != 3 {
		t.Fatalf("expected stop for conversation 3, got %+v", got)
	}

	hub.mu.Lock()
	remaining := len(hub.typing)
	hub.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("typing state should be empty after disconnect, %d left", remaining)
	}
}
