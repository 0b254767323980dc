package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/voxlead/voxlead/internal/protocol"
)

// connectedClient returns a client whose fake channel is already open.
func connectedClient(t *testing.T) (*Client, *fakePlatform) {
	t.Helper()
	platform := newFakePlatform()
	tr := NewTransport(platform, &fakeSignaler{}, nil)
	c := NewClient(tr, nil)
	if err := c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	platform.peer.channel.triggerOpen()
	return c, platform
}

func decodeSent(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("sent payload is not JSON: %v", err)
	}
	return m
}

func TestClientSendsRequireOpenChannel(t *testing.T) {
	tr := NewTransport(newFakePlatform(), &fakeSignaler{}, nil)
	c := NewClient(tr, nil)

	if err := c.SendUserMessageContent(nil); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("SendUserMessageContent error = %v, want ErrChannelNotOpen", err)
	}
	if err := c.AppendInputAudio([]float32{0.1}); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("AppendInputAudio error = %v, want ErrChannelNotOpen", err)
	}
	if err := c.CancelResponse("t1", 10); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("CancelResponse error = %v, want ErrChannelNotOpen", err)
	}
}

func TestClientHandshakeOnOpen(t *testing.T) {
	platform := newFakePlatform()
	tr := NewTransport(platform, &fakeSignaler{}, nil)
	c := NewClient(tr, nil)

	var connected int
	c.Events().OnConnected(func() { connected++ })

	// Configuration accumulated before the channel opens is merged but not
	// sent yet.
	if err := c.UpdateSession(protocol.SessionConfig{"voice": "alloy"}); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	if err := c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ch := platform.peer.channel
	if len(ch.sentPayloads()) != 0 {
		t.Fatalf("messages sent before channel open")
	}

	ch.triggerOpen()

	if connected != 1 {
		t.Fatalf("connected fired %d times, want 1", connected)
	}
	sent := ch.sentPayloads()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages on open, want handshake + deferred config", len(sent))
	}
	handshake := decodeSent(t, sent[0])
	if handshake["type"] != "session.update" {
		t.Fatalf("first message type = %v, want session.update", handshake["type"])
	}
	session := handshake["session"].(map[string]any)
	if _, ok := session["modalities"]; !ok {
		t.Fatalf("handshake missing modalities: %v", handshake)
	}
	deferred := decodeSent(t, sent[1])
	if deferred["type"] != "session_update" {
		t.Fatalf("second message type = %v, want session_update", deferred["type"])
	}
	cfg := deferred["config"].(map[string]any)
	if cfg["voice"] != "alloy" {
		t.Fatalf("deferred config = %v", cfg)
	}
}

func TestClientUpdateSessionMergesAndTransmits(t *testing.T) {
	c, platform := connectedClient(t)
	ch := platform.peer.channel
	base := len(ch.sentPayloads())

	if err := c.UpdateSession(protocol.SessionConfig{"voice": "alloy"}); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	if err := c.UpdateSession(protocol.SessionConfig{"instructions": "hi"}); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	if err := c.UpdateSession(protocol.SessionConfig{"voice": "verse"}); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	sent := ch.sentPayloads()
	if len(sent) != base+3 {
		t.Fatalf("sent %d updates, want 3", len(sent)-base)
	}
	last := decodeSent(t, sent[len(sent)-1])
	cfg := last["config"].(map[string]any)
	if cfg["voice"] != "verse" || cfg["instructions"] != "hi" {
		t.Fatalf("merged config = %v, want voice=verse instructions=hi", cfg)
	}
}

func TestClientConversationUpdateInsertsThenMerges(t *testing.T) {
	c, platform := connectedClient(t)
	ch := platform.peer.channel

	var updates []Update
	c.Events().OnConversationUpdated(func(u Update) { updates = append(updates, u) })

	ch.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","role":"assistant","status":"in-progress","formatted":{}}}`))
	if c.Conversation().Len() != 1 {
		t.Fatalf("ledger has %d items after first update, want 1", c.Conversation().Len())
	}

	ch.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","role":"assistant","status":"in-progress"},"delta":{"transcript":"hel"}}`))
	ch.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","role":"assistant","status":"completed"},"delta":{"transcript":"lo"}}`))

	if c.Conversation().Len() != 1 {
		t.Fatalf("ledger has %d items after deltas, want 1 (no duplicates)", c.Conversation().Len())
	}
	item, _ := c.Conversation().Get("x1")
	if item.Formatted.Transcript != "hello" {
		t.Fatalf("transcript = %q, want %q", item.Formatted.Transcript, "hello")
	}
	if item.Status != "completed" {
		t.Fatalf("status = %q, want completed", item.Status)
	}

	if len(updates) != 3 {
		t.Fatalf("got %d notifications, want 3", len(updates))
	}
	// The notification must already reflect the ledger mutation that
	// triggered it.
	if updates[1].Item.Formatted.Transcript != "hel" {
		t.Fatalf("notification item transcript = %q, want %q", updates[1].Item.Formatted.Transcript, "hel")
	}
	if updates[2].Delta == nil || updates[2].Delta.Transcript != "lo" {
		t.Fatalf("notification delta = %+v", updates[2].Delta)
	}
}

func TestClientAudioDeltasAccumulate(t *testing.T) {
	c, platform := connectedClient(t)
	ch := platform.peer.channel

	ch.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","status":"in-progress"},"delta":{"audio":"AQI="}}`))
	ch.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","status":"in-progress"},"delta":{"audio":"AwQ="}}`))

	item, _ := c.Conversation().Get("x1")
	if len(item.Formatted.Audio) != 4 {
		t.Fatalf("audio length = %d, want 4", len(item.Formatted.Audio))
	}
	for i, b := range []byte{1, 2, 3, 4} {
		if item.Formatted.Audio[i] != b {
			t.Fatalf("audio[%d] = %d, want %d", i, item.Formatted.Audio[i], b)
		}
	}
}

func TestClientMalformedMessageDropped(t *testing.T) {
	c, platform := connectedClient(t)
	ch := platform.peer.channel

	var errs int
	c.Events().OnError(func(RemoteError) { errs++ })

	ch.deliver([]byte(`{not json`))
	ch.deliver([]byte(`{"type":"conversation_update"}`)) // missing item
	ch.deliver([]byte(`{"type":"response.created"}`))    // unknown, ignored

	if c.Conversation().Len() != 0 {
		t.Fatalf("ledger mutated by bad payloads")
	}
	if errs != 0 {
		t.Fatalf("error listeners fired %d times for malformed payloads", errs)
	}
	if !c.IsConnected() {
		t.Fatalf("channel closed by malformed payload")
	}
}

func TestClientRemoteErrorSurfacedWithoutClosing(t *testing.T) {
	c, platform := connectedClient(t)
	ch := platform.peer.channel

	var got []RemoteError
	c.Events().OnError(func(e RemoteError) { got = append(got, e) })

	ch.deliver([]byte(`{"type":"error","error":{"code":"rate_limited"}}`))

	if len(got) != 1 {
		t.Fatalf("error fired %d times, want 1", len(got))
	}
	if !c.IsConnected() {
		t.Fatalf("channel closed by remote error event")
	}
}

func TestClientDisconnectedEventOnChannelClose(t *testing.T) {
	c, _ := connectedClient(t)

	var disconnected int
	c.Events().OnDisconnected(func() { disconnected++ })

	c.Disconnect()
	if disconnected != 1 {
		t.Fatalf("disconnected fired %d times, want 1", disconnected)
	}
	if c.TransportState() != StateClosed {
		t.Fatalf("state = %q, want closed", c.TransportState())
	}
}

func TestClientResetClearsConversationAndConfig(t *testing.T) {
	c, platform := connectedClient(t)
	ch := platform.peer.channel

	_ = c.UpdateSession(protocol.SessionConfig{"turn_detection": map[string]any{"type": "server_vad"}})
	ch.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","status":"completed"}}`))

	c.Reset()
	if c.Conversation().Len() != 0 {
		t.Fatalf("conversation not cleared")
	}
	if c.TurnDetectionType() != "none" {
		t.Fatalf("config not cleared: %q", c.TurnDetectionType())
	}
}

func TestClientEndToEndScenario(t *testing.T) {
	platform := newFakePlatform()
	tr := NewTransport(platform, &fakeSignaler{}, nil)
	c := NewClient(tr, nil)

	if err := c.Connect(context.Background(), "be friendly"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.TransportState() != StateConnected {
		t.Fatalf("state = %q, want connected", c.TransportState())
	}
	ch := platform.peer.channel
	ch.triggerOpen()

	if err := c.SendUserMessageContent([]protocol.ContentPart{{Type: "input_text", Text: "Hello!"}}); err != nil {
		t.Fatalf("SendUserMessageContent() error = %v", err)
	}
	sent := ch.sentPayloads()
	msg := decodeSent(t, sent[len(sent)-1])
	if msg["type"] != "user_message" {
		t.Fatalf("last sent type = %v, want user_message", msg["type"])
	}

	ch.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","role":"assistant","status":"in-progress","formatted":{}}}`))
	items := c.Conversation().Items()
	if len(items) != 1 || items[0].ID != "x1" || items[0].Role != "assistant" {
		t.Fatalf("items = %+v, want exactly [{x1 assistant}]", items)
	}

	if err := c.CancelResponse("x1", 4800); err != nil {
		t.Fatalf("CancelResponse() error = %v", err)
	}
	sent = ch.sentPayloads()
	cancel := decodeSent(t, sent[len(sent)-1])
	if cancel["type"] != "cancel_response" || cancel["trackId"] != "x1" || cancel["offset"] != float64(4800) {
		t.Fatalf("cancel payload = %v", cancel)
	}
}
