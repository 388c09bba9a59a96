package service

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/model"
	"Murmur/internal/pkg/kafka"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/ws"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

type fakeConvRepo struct {
	mu           sync.Mutex
	nextID       uint64
	convs        map[uint64]*model.Conversation
	participants map[uint64][]uint64
	applyCalls   int
	resetCalls   int
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		nextID:       1,
		convs:        make(map[uint64]*model.Conversation),
		participants: make(map[uint64][]uint64),
	}
}

func (f *fakeConvRepo) addConversation(peerKey string, active bool, members ...uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.convs[id] = &model.Conversation{ID: id, PeerKey: peerKey, IsActive: active}
	f.participants[id] = members
	return id
}

func (f *fakeConvRepo) CreateConversation(_ context.Context, conv *model.Conversation, participants []*model.ConversationParticipant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv.ID = f.nextID
	f.nextID++
	f.convs[conv.ID] = conv
	for _, p := range participants {
		f.participants[conv.ID] = append(f.participants[conv.ID], p.UserID)
	}
	return nil
}

func (f *fakeConvRepo) GetConversation(_ context.Context, convID uint64) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[convID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return conv, nil
}

func (f *fakeConvRepo) GetConversationByPeerKey(_ context.Context, peerKey string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.PeerKey == peerKey {
			return conv, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeConvRepo) IsParticipant(_ context.Context, convID uint64, userID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.participants[convID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConvRepo) GetParticipantIDs(_ context.Context, convID uint64) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.participants[convID]...), nil
}

func (f *fakeConvRepo) ApplyMessage(_ context.Context, convID uint64, content, msgType string, senderID uint64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++
	if conv, ok := f.convs[convID]; ok {
		conv.LastMsgContent = content
		conv.LastMsgType = msgType
		conv.LastSenderID = senderID
		conv.LastMessageAt = at
	}
	return nil
}

func (f *fakeConvRepo) ResetUnread(_ context.Context, _, _ uint64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	return nil
}

func (f *fakeConvRepo) GetUserConversationList(_ context.Context, _ uint64) ([]*model.ConversationParticipant, error) {
	return nil, nil
}

type fakeUserRepo struct {
	users map[uint64]*model.User
}

func (f *fakeUserRepo) GetUserById(_ context.Context, id uint64) (*model.User, error) {
	return f.users[id], nil
}

func (f *fakeUserRepo) GetUserByIds(_ context.Context, ids []uint64) ([]*model.User, error) {
	var res []*model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

func (f *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *model.User) error {
	user.ID = uint64(len(f.users) + 1)
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) UpdatePresence(_ context.Context, _ uint64, _ bool, _ time.Time) error {
	return nil
}

func (f *fakeUserRepo) ListOnlineUserIds(_ context.Context) ([]uint64, error) {
	return nil, nil
}

func (f *fakeUserRepo) MarkOffline(_ context.Context, _ []uint64, _ time.Time) error {
	return nil
}

type fakeMessageRepo struct {
	mu    sync.Mutex
	saved []*mongo.Message
}

func (f *fakeMessageRepo) SaveMessage(_ context.Context, msg *mongo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	f.saved = append(f.saved, msg)
	return nil
}

func (f *fakeMessageRepo) GetHistory(_ context.Context, convID uint64, _ string, pageSize int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*mongo.Message
	for i := len(f.saved) - 1; i >= 0 && len(res) < pageSize; i-- {
		if f.saved[i].ConversationID == convID {
			res = append(res, f.saved[i])
		}
	}
	return res, nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, id string) (*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.saved {
		if m.ID.Hex() == id {
			return m, nil
		}
	}
	return nil, errors.New("not found")
}

// AppendReadReceipts 与线上实现一致：每用户至多一条回执，重复调用幂等
func (f *fakeMessageRepo) AppendReadReceipts(_ context.Context, convID uint64, userID uint64, readAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.saved {
		if m.ConversationID != convID || m.SenderID == userID {
			continue
		}
		already := false
		for _, r := range m.ReadReceipts {
			if r.UserID == userID {
				already = true
				break
			}
		}
		if already {
			continue
		}
		m.ReadReceipts = append(m.ReadReceipts, mongo.ReadReceipt{UserID: userID, ReadAt: readAt})
		m.Status = "read"
		count++
	}
	return count, nil
}

func (f *fakeMessageRepo) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeProducer struct {
	mu     sync.Mutex
	events []*kafka.MessageEvent
}

func (f *fakeProducer) PublishMessageCreated(_ context.Context, evt *kafka.MessageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type imFixture struct {
	svc      IMService
	convRepo *fakeConvRepo
	userRepo *fakeUserRepo
	msgRepo  *fakeMessageRepo
	producer *fakeProducer
	bus      *ws.LocalBus
}

func newIMFixture() *imFixture {
	convRepo := newFakeConvRepo()
	userRepo := &fakeUserRepo{users: map[uint64]*model.User{
		1: {ID: 1, Username: "alice"},
		2: {ID: 2, Username: "bob"},
	}}
	msgRepo := &fakeMessageRepo{}
	producer := &fakeProducer{}
	bus := ws.NewLocalBus()

	return &imFixture{
		svc:      NewIMService(convRepo, userRepo, msgRepo, bus, producer),
		convRepo: convRepo,
		userRepo: userRepo,
		msgRepo:  msgRepo,
		producer: producer,
		bus:      bus,
	}
}

// busFrame 背板帧的测试侧视图
type busFrame struct {
	ExcludeUserID uint64          `json:"exclude_user_id"`
	Event         json.RawMessage `json:"event"`
}

func subscribeConversations(t *testing.T, bus *ws.LocalBus) <-chan ws.BusMessage {
	t.Helper()
	ch, cancel, err := bus.Subscribe(context.Background(), "chat:conv:*")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	t.Cleanup(cancel)
	return ch
}

func recvFrame(t *testing.T, ch <-chan ws.BusMessage) (string, busFrame) {
	t.Helper()
	select {
	case msg := <-ch:
		var f busFrame
		if err := json.Unmarshal(msg.Payload, &f); err != nil {
			t.Fatalf("malformed frame: %v", err)
		}
		return msg.Channel, f
	case <-time.After(time.Second):
		t.Fatal("no bus frame received")
	}
	return "", busFrame{}
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	fix := newIMFixture()
	convID := fix.convRepo.addConversation("1_2", true, 1, 2)

	_, err := fix.svc.SendMessage(context.Background(), 9, &dto.SendMessageReq{
		ConversationID: convID,
		Content:        "hi",
	})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if fix.msgRepo.savedCount() != 0 {
		t.Fatal("nothing should be persisted for a rejected send")
	}
	if fix.convRepo.applyCalls != 0 {
		t.Fatal("conversation snapshot must not be touched")
	}
}

func TestSendMessageRejectsUnknownConversation(t *testing.T) {
	fix := newIMFixture()

	_, err := fix.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		ConversationID: 42,
		Content:        "hi",
	})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSendMessageRejectsInactiveConversation(t *testing.T) {
	fix := newIMFixture()
	convID := fix.convRepo.addConversation("1_2", false, 1, 2)

	_, err := fix.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		ConversationID: convID,
		Content:        "hi",
	})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSendMessagePersistsAndBroadcasts(t *testing.T) {
	fix := newIMFixture()
	convID := fix.convRepo.addConversation("1_2", true, 1, 2)
	ch := subscribeConversations(t, fix.bus)

	msg, err := fix.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		ConversationID: convID,
		Content:        "hello there",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.ID == "" || msg.SenderUsername != "alice" || msg.Status != "sent" {
		t.Fatalf("unexpected message dto: %+v", msg)
	}
	if msg.MsgType != "text" {
		t.Fatalf("empty msg_type should default to text, got %s", msg.MsgType)
	}

	if fix.msgRepo.savedCount() != 1 {
		t.Fatal("message should be persisted exactly once")
	}
	if fix.convRepo.applyCalls != 1 {
		t.Fatal("conversation snapshot should be applied exactly once")
	}

	channel, frame := recvFrame(t, ch)
	if channel != "chat:conv:1" {
		t.Fatalf("unexpected channel %s", channel)
	}
	if frame.ExcludeUserID != 0 {
		t.Fatal("new_message broadcast must include the sender")
	}

	fix.producer.mu.Lock()
	defer fix.producer.mu.Unlock()
	if len(fix.producer.events) != 1 {
		t.Fatal("one message event should be published")
	}
	evt := fix.producer.events[0]
	if len(evt.RecipientIDs) != 1 || evt.RecipientIDs[0] != 2 {
		t.Fatalf("recipients must exclude the sender, got %v", evt.RecipientIDs)
	}
}

func TestStartConversationReusesExisting(t *testing.T) {
	fix := newIMFixture()

	first, err := fix.svc.StartConversation(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// 反向再次发起也要命中同一会话
	second, err := fix.svc.StartConversation(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected same conversation, got %d and %d", first, second)
	}
}

func TestStartConversationRejectsSelfAndUnknown(t *testing.T) {
	fix := newIMFixture()

	if _, err := fix.svc.StartConversation(context.Background(), 1, 1); !errors.Is(err, ErrTargetUserInvalid) {
		t.Fatalf("expected ErrTargetUserInvalid for self, got %v", err)
	}
	if _, err := fix.svc.StartConversation(context.Background(), 1, 77); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	fix := newIMFixture()
	convID := fix.convRepo.addConversation("1_2", true, 1, 2)

	if _, err := fix.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		ConversationID: convID,
		Content:        "hi",
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	ch := subscribeConversations(t, fix.bus)

	if err := fix.svc.MarkRead(context.Background(), 2, convID); err != nil {
		t.Fatalf("first mark read failed: %v", err)
	}
	if err := fix.svc.MarkRead(context.Background(), 2, convID); err != nil {
		t.Fatalf("second mark read failed: %v", err)
	}

	fix.msgRepo.mu.Lock()
	receipts := len(fix.msgRepo.saved[0].ReadReceipts)
	fix.msgRepo.mu.Unlock()
	if receipts != 1 {
		t.Fatalf("expected a single receipt after repeated mark read, got %d", receipts)
	}
	if fix.convRepo.resetCalls != 2 {
		t.Fatalf("unread reset should run per call, got %d", fix.convRepo.resetCalls)
	}

	// 已读广播排除读者本人
	_, frame := recvFrame(t, ch)
	if frame.ExcludeUserID != 2 {
		t.Fatalf("messages_read broadcast should exclude the reader, got %d", frame.ExcludeUserID)
	}
}

func TestGetChatHistoryRequiresMembership(t *testing.T) {
	fix := newIMFixture()
	convID := fix.convRepo.addConversation("1_2", true, 1, 2)

	if _, err := fix.svc.GetChatHistory(context.Background(), 9, convID, "", 20); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}
