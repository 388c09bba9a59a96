package ws

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestDecodeEnvelopeAndBind(t *testing.T) {
	raw := []byte(`{"type":"send_message","data":{"conversation_id":7,"content":"hi"}}`)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Type != EventSendMessage {
		t.Fatalf("expected type %s, got %s", EventSendMessage, env.Type)
	}

	var p SendMessagePayload
	if err := env.Bind(&p); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if p.ConversationID != 7 || p.Content != "hi" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestBindRejectsMissingConversationID(t *testing.T) {
	raw := []byte(`{"type":"join_conversation","data":{}}`)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	var p ConversationPayload
	if err := env.Bind(&p); err == nil {
		t.Fatal("expected validation error for missing conversation_id")
	}
}

func TestBindRejectsUnknownMsgType(t *testing.T) {
	raw := []byte(`{"type":"send_message","data":{"conversation_id":7,"content":"hi","msg_type":"video"}}`)

	env, _ := DecodeEnvelope(raw)
	var p SendMessagePayload
	if err := env.Bind(&p); err == nil {
		t.Fatal("expected validation error for unknown msg_type")
	}
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestEncodeProducesTaggedEnvelope(t *testing.T) {
	raw := Encode(EventUserTyping, TypingEvent{ConversationID: 3, UserID: 1, IsTyping: true})
	if raw == nil {
		t.Fatal("encode returned nil")
	}

	var evt struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("encoded event not valid json: %v", err)
	}
	if evt.Type != EventUserTyping {
		t.Fatalf("expected type %s, got %s", EventUserTyping, evt.Type)
	}

	var typing TypingEvent
	if err := json.Unmarshal(evt.Data, &typing); err != nil {
		t.Fatalf("bad data payload: %v", err)
	}
	if typing.ConversationID != 3 || !typing.IsTyping {
		t.Fatalf("unexpected payload: %+v", typing)
	}
}

func TestConversationIDFromChannel(t *testing.T) {
	if got := conversationIDFromChannel("chat:conv:42"); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := conversationIDFromChannel("chat:presence"); got != 0 {
		t.Fatalf("expected 0 for presence channel, got %d", got)
	}
	if got := conversationIDFromChannel("chat:conv:abc"); got != 0 {
		t.Fatalf("expected 0 for bad id, got %d", got)
	}
}
