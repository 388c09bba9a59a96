package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

type fakePresence struct {
	mu       sync.Mutex
	online   []uint64
	offline  []uint64
}

func (f *fakePresence) SetOnline(_ context.Context, userID uint64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, userID)
	return nil
}

func (f *fakePresence) SetOffline(_ context.Context, userID uint64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, userID)
	return nil
}

func (f *fakePresence) offlineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offline)
}

func newTestClient(userID uint64, username string) *Client {
	return &Client{
		send:     make(chan []byte, sendBuffer),
		userID:   userID,
		username: username,
		joined:   make(map[uint64]struct{}),
	}
}

// receivedEvent 测试侧出站事件视图
type receivedEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func recvEvent(t *testing.T, c *Client, timeout time.Duration) receivedEvent {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var evt receivedEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatalf("malformed event: %v", err)
		}
		return evt
	case <-time.After(timeout):
		t.Fatal("no event received before timeout")
	}
	return receivedEvent{}
}

// waitForEvent 跳过其他类型事件，直到收到目标类型
func waitForEvent(t *testing.T, c *Client, evtType string, timeout time.Duration) receivedEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		got := recvEvent(t, c, timeout)
		if got.Type == evtType {
			return got
		}
	}
	t.Fatalf("never received %s", evtType)
	return receivedEvent{}
}

// expectNoTypedEvent 等待窗口内不允许出现目标类型事件，其他事件忽略
func expectNoTypedEvent(t *testing.T, c *Client, evtType string, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		select {
		case raw, ok := <-c.send:
			if !ok {
				return
			}
			var evt receivedEvent
			if err := json.Unmarshal(raw, &evt); err != nil {
				t.Fatalf("malformed event: %v", err)
			}
			if evt.Type == evtType {
				t.Fatalf("unexpected %s event: %s", evtType, raw)
			}
		case <-time.After(remaining):
			return
		}
	}
}

func startHub(t *testing.T, typingTimeout time.Duration) (*Hub, *LocalBus, *fakePresence) {
	t.Helper()
	bus := NewLocalBus()
	presence := &fakePresence{}
	hub := NewHub(bus, presence, typingTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		bus.mu.Lock()
		subscribed := len(bus.subs) > 0
		bus.mu.Unlock()
		if subscribed {
			return hub, bus, presence
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("hub never subscribed to the bus")
	return nil, nil, nil
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func TestRegisterSupersedesPreviousConnection(t *testing.T) {
	hub, _, presence := startHub(t, 0)

	first := newTestClient(1, "alice")
	hub.Register(first)
	hub.JoinRoom(first, 5)

	second := newTestClient(1, "alice")
	hub.Register(second)

	if !first.superseded {
		t.Fatal("first connection should be marked superseded")
	}
	closed := false
	for i := 0; i < sendBuffer+1; i++ {
		if _, ok := <-first.send; !ok {
			closed = true
			break
		}
	}
	if !closed {
		t.Fatal("superseded connection send channel should be closed")
	}
	if len(first.joined) != 0 {
		t.Fatal("superseded connection should be removed from rooms")
	}

	users := hub.OnlineUsers()
	if len(users) != 1 || users[0] != 1 {
		t.Fatalf("expected exactly user 1 online, got %v", users)
	}

	// 顶替路径的注销不触发离线
	hub.Unregister(first)
	if presence.offlineCount() != 0 {
		t.Fatal("superseded unregister must not record offline")
	}
}

func TestSupersededConnectionDropsLateWrites(t *testing.T) {
	hub, _, _ := startHub(t, 0)

	first := newTestClient(1, "alice")
	hub.Register(first)
	second := newTestClient(1, "alice")
	hub.Register(second)

	// 旧连接的读泵可能在顶替之后仍产生出站事件，此时通道已关闭，只能丢弃
	first.sendError("conversation not found")
	first.enqueue([]byte(`{"type":"error"}`))

	// 关闭幂等：顶替后的注销路径再次触碰通道不得 panic
	hub.Unregister(first)
	first.closeSend()
}

func TestJoinAndLeaveRoomIdempotent(t *testing.T) {
	hub, _, _ := startHub(t, 0)

	c := newTestClient(2, "bob")
	hub.Register(c)

	hub.JoinRoom(c, 7)
	hub.JoinRoom(c, 7)

	hub.mu.Lock()
	size := len(hub.rooms[7])
	hub.mu.Unlock()
	if size != 1 {
		t.Fatalf("expected room size 1 after double join, got %d", size)
	}

	hub.LeaveRoom(c, 7)
	hub.LeaveRoom(c, 7)
	hub.LeaveRoom(c, 999) // 从未加入过的房间

	hub.mu.Lock()
	_, exists := hub.rooms[7]
	hub.mu.Unlock()
	if exists {
		t.Fatal("empty room should be removed")
	}
}

func TestRoomFanoutExcludesSender(t *testing.T) {
	hub, bus, _ := startHub(t, 0)

	sender := newTestClient(1, "alice")
	peer := newTestClient(2, "bob")
	outsider := newTestClient(3, "carol")
	for _, c := range []*Client{sender, peer, outsider} {
		hub.Register(c)
	}
	hub.JoinRoom(sender, 7)
	hub.JoinRoom(peer, 7)
	// outsider 未加入房间

	drain(sender)
	drain(peer)
	drain(outsider)

	evt := TypingEvent{ConversationID: 7, UserID: 1, Username: "alice", IsTyping: true}
	if err := PublishToConversation(context.Background(), bus, 7, EventUserTyping, evt, 1); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitForEvent(t, peer, EventUserTyping, time.Second)
	expectNoTypedEvent(t, sender, EventUserTyping, 50*time.Millisecond)
	expectNoTypedEvent(t, outsider, EventUserTyping, 50*time.Millisecond)
}

func TestUnregisterBroadcastsOffline(t *testing.T) {
	hub, _, presence := startHub(t, 0)

	leaving := newTestClient(1, "alice")
	watcher := newTestClient(2, "bob")
	hub.Register(leaving)
	hub.Register(watcher)

	hub.Unregister(leaving)

	// 先于离线事件到达的上线广播直接跳过
	deadline := time.Now().Add(time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never saw offline status for user 1")
		}
		got := recvEvent(t, watcher, time.Second)
		if got.Type != EventUserStatusChange {
			t.Fatalf("expected %s, got %s", EventUserStatusChange, got.Type)
		}
		var status StatusChangeEvent
		if err := json.Unmarshal(got.Data, &status); err != nil {
			t.Fatalf("bad status payload: %v", err)
		}
		if status.UserID == 1 && !status.IsOnline {
			break
		}
	}
	if presence.offlineCount() != 1 {
		t.Fatal("offline state should be persisted once")
	}
}

func TestPresenceBroadcastReachesAllClients(t *testing.T) {
	hub, _, _ := startHub(t, 0)

	a := newTestClient(1, "alice")
	hub.Register(a)

	b := newTestClient(2, "bob")
	hub.Register(b)

	// a 可能先收到自己的上线事件，读到 b 的上线为止
	deadline := time.Now().Add(time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never saw online status for user 2")
		}
		got := recvEvent(t, a, time.Second)
		if got.Type != EventUserStatusChange {
			t.Fatalf("expected %s, got %s", EventUserStatusChange, got.Type)
		}
		var status StatusChangeEvent
		if err := json.Unmarshal(got.Data, &status); err != nil {
			t.Fatalf("bad status payload: %v", err)
		}
		if status.UserID == 2 && status.IsOnline {
			return
		}
	}
}
