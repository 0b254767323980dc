package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/voxlead/voxlead/internal/audio"
	"github.com/voxlead/voxlead/internal/conversation"
	"github.com/voxlead/voxlead/internal/realtime"
)

type stubPlatform struct {
	peer *stubPeer
}

func (p *stubPlatform) NewPeerConnection(realtime.PeerConfig) (realtime.PeerConnection, error) {
	return p.peer, nil
}

func (p *stubPlatform) UserAudioTracks(context.Context) ([]realtime.LocalTrack, error) {
	return []realtime.LocalTrack{stubTrack("mic")}, nil
}

type stubTrack string

func (t stubTrack) ID() string   { return string(t) }
func (t stubTrack) Kind() string { return "audio" }

type stubPeer struct {
	mu      sync.Mutex
	channel *stubChannel
}

func (p *stubPeer) AddTrack(realtime.LocalTrack) error { return nil }

func (p *stubPeer) CreateDataChannel(label string) (realtime.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = &stubChannel{}
	return p.channel, nil
}

func (p *stubPeer) CreateOffer(context.Context) (string, error) { return "offer", nil }
func (p *stubPeer) SetLocalDescription(string) error            { return nil }
func (p *stubPeer) SetRemoteDescription(string) error           { return nil }
func (p *stubPeer) OnTrack(func(realtime.RemoteTrack))          {}
func (p *stubPeer) Close() error                                { return nil }

type stubChannel struct {
	mu        sync.Mutex
	open      bool
	sent      [][]byte
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func (c *stubChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *stubChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *stubChannel) OnOpen(fn func())          { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *stubChannel) OnClose(fn func())         { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *stubChannel) OnMessage(fn func([]byte)) { c.mu.Lock(); c.onMessage = fn; c.mu.Unlock() }

func (c *stubChannel) Close() error {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	fn := c.onClose
	c.mu.Unlock()
	if wasOpen && fn != nil {
		fn()
	}
	return nil
}

func (c *stubChannel) triggerOpen() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *stubChannel) deliver(payload []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (c *stubChannel) sentTypes(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, payload := range c.sent {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("sent payload is not JSON: %v", err)
		}
		out = append(out, env.Type)
	}
	return out
}

type stubSignaler struct{}

func (stubSignaler) EphemeralKey(context.Context, string) (string, error) { return "ek", nil }
func (stubSignaler) ExchangeSDP(context.Context, string, string) (string, error) {
	return "answer", nil
}

type pipeInput struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeInput() *pipeInput {
	r, w := io.Pipe()
	return &pipeInput{r: r, w: w}
}

func (d *pipeInput) Open(context.Context, int) (audio.InputSession, error) { return d.r, nil }

type sinkOutput struct {
	writes chan []byte
}

// Capacity 1 keeps the playback pump from racing ahead of the test: at most
// one unread chunk is in flight, so interruption always lands mid-track.
func newSinkOutput() *sinkOutput {
	return &sinkOutput{writes: make(chan []byte, 1)}
}

func (d *sinkOutput) Open(context.Context, int) (audio.OutputSession, error) {
	return &sinkSession{writes: d.writes}, nil
}

type sinkSession struct {
	writes chan []byte
}

func (s *sinkSession) Write(p []byte) (int, error) {
	s.writes <- append([]byte(nil), p...)
	return len(p), nil
}

func (s *sinkSession) Close() error { return nil }

type fixture struct {
	session *VoiceSession
	channel *stubChannel
	mic     *pipeInput
	speaker *sinkOutput
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	platform := &stubPlatform{peer: &stubPeer{}}
	tr := realtime.NewTransport(platform, stubSignaler{}, nil)
	client := realtime.NewClient(tr, nil)

	mic := newPipeInput()
	speaker := newSinkOutput()
	capture := audio.NewCaptureDevice(mic, 1000)
	player := audio.NewStreamPlayer(speaker, 1000)

	s := NewVoiceSession(client, capture, player, nil, Options{
		Instructions: "be concise",
		Voice:        "verse",
		SampleRate:   1000,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(s.Stop)
	platform.peer.channel.triggerOpen()
	return &fixture{session: s, channel: platform.peer.channel, mic: mic, speaker: speaker}
}

func TestSessionStartupMessageOrder(t *testing.T) {
	f := newFixture(t)

	types := f.channel.sentTypes(t)
	if len(types) != 3 {
		t.Fatalf("sent %d messages on open, want 3: %v", len(types), types)
	}
	if types[0] != "session.update" || types[1] != "session_update" || types[2] != "user_message" {
		t.Fatalf("message order = %v", types)
	}

	f.channel.mu.Lock()
	config := f.channel.sent[1]
	greeting := f.channel.sent[2]
	f.channel.mu.Unlock()

	var update struct {
		Config map[string]any `json:"config"`
	}
	if err := json.Unmarshal(config, &update); err != nil {
		t.Fatalf("decode config update: %v", err)
	}
	if update.Config["instructions"] != "be concise" || update.Config["voice"] != "verse" {
		t.Fatalf("config = %v", update.Config)
	}
	if _, ok := update.Config["input_audio_transcription"]; !ok {
		t.Fatalf("transcription model missing from config: %v", update.Config)
	}

	var msg struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(greeting, &msg); err != nil {
		t.Fatalf("decode greeting: %v", err)
	}
	if len(msg.Content) != 1 || msg.Content[0].Text != "Hello!" {
		t.Fatalf("greeting = %+v", msg.Content)
	}
}

func TestSessionStartTwice(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSessionAudioDeltaQueuedForPlayback(t *testing.T) {
	f := newFixture(t)

	// Two PCM16 samples, base64 "AQACAA==".
	f.channel.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","status":"in-progress"},"delta":{"audio":"AQACAA=="}}`))

	select {
	case chunk := <-f.speaker.writes:
		if len(chunk) != 4 {
			t.Fatalf("playback chunk = %d bytes, want 4", len(chunk))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("delta audio never reached the speaker")
	}
}

func TestSessionCompletedItemDecodedToFile(t *testing.T) {
	f := newFixture(t)

	f.channel.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","status":"in-progress"},"delta":{"audio":"AQACAA=="}}`))
	f.channel.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","status":"completed"}}`))

	items := f.session.Snapshot()
	if len(items) != 1 {
		t.Fatalf("snapshot has %d items", len(items))
	}
	if items[0].Status != conversation.StatusCompleted {
		t.Fatalf("status = %q", items[0].Status)
	}
	if len(items[0].Formatted.File) != 2 {
		t.Fatalf("decoded file has %d samples, want 2", len(items[0].Formatted.File))
	}
}

func TestSessionInterruptSendsCancel(t *testing.T) {
	f := newFixture(t)

	// 3000 samples, enough to outlast the first pump chunk.
	raw := make([]byte, 6000)
	for i := range raw {
		raw[i] = byte(i)
	}
	payload, _ := json.Marshal(map[string]any{
		"type":  "conversation_update",
		"item":  map[string]any{"id": "x1", "status": "in-progress"},
		"delta": map[string]any{"audio": raw},
	})
	f.channel.deliver(payload)

	select {
	case <-f.speaker.writes:
	case <-time.After(2 * time.Second):
		t.Fatalf("playback never started")
	}

	if err := f.session.Interrupt(); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}

	f.channel.mu.Lock()
	last := f.channel.sent[len(f.channel.sent)-1]
	f.channel.mu.Unlock()
	var cancel struct {
		Type    string `json:"type"`
		TrackID string `json:"trackId"`
		Offset  int64  `json:"offset"`
	}
	if err := json.Unmarshal(last, &cancel); err != nil {
		t.Fatalf("decode cancel: %v", err)
	}
	if cancel.Type != "cancel_response" || cancel.TrackID != "x1" || cancel.Offset <= 0 {
		t.Fatalf("cancel = %+v", cancel)
	}
}

func TestSessionInterruptWhileIdle(t *testing.T) {
	f := newFixture(t)
	base := len(f.channel.sentTypes(t))
	if err := f.session.Interrupt(); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	if got := len(f.channel.sentTypes(t)); got != base {
		t.Fatalf("idle interrupt sent a message")
	}
}

func TestSessionTurnDetectionModes(t *testing.T) {
	f := newFixture(t)

	if err := f.session.SetTurnDetection(TurnDetectionServerVAD); err != nil {
		t.Fatalf("SetTurnDetection(server_vad) error = %v", err)
	}
	if !f.session.capture.Recording() {
		t.Fatalf("capture not recording in server_vad mode")
	}

	// Feed one 100-sample frame and expect it on the wire as input audio.
	frame := make([]byte, 200)
	if _, err := f.mic.w.Write(frame); err != nil {
		t.Fatalf("mic write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		types := f.channel.sentTypes(t)
		if len(types) > 0 && types[len(types)-1] == "input_audio" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	types := f.channel.sentTypes(t)
	if types[len(types)-1] != "input_audio" {
		t.Fatalf("captured frame never sent: %v", types)
	}

	if err := f.session.SetTurnDetection(TurnDetectionNone); err != nil {
		t.Fatalf("SetTurnDetection(none) error = %v", err)
	}
	if f.session.capture.Status() != audio.CapturePaused {
		t.Fatalf("capture status = %q, want paused", f.session.capture.Status())
	}

	if err := f.session.SetTurnDetection("psychic"); err == nil {
		t.Fatalf("unknown mode accepted")
	}
}

func TestSessionRemoveItemNotifies(t *testing.T) {
	f := newFixture(t)
	f.channel.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","status":"completed"}}`))

	var notified int
	cancel := f.session.OnUpdate(func() { notified++ })
	defer cancel()

	f.session.RemoveItem("x1")
	if len(f.session.Snapshot()) != 0 {
		t.Fatalf("item not removed")
	}
	if notified != 1 {
		t.Fatalf("listeners notified %d times, want 1", notified)
	}
}

func TestSessionStopIdempotent(t *testing.T) {
	f := newFixture(t)
	f.channel.deliver([]byte(`{"type":"conversation_update","item":{"id":"x1","status":"completed"}}`))

	f.session.Stop()
	f.session.Stop()

	if f.session.capture.Status() != audio.CaptureIdle {
		t.Fatalf("capture status = %q, want idle", f.session.capture.Status())
	}
	if len(f.session.Snapshot()) != 0 {
		t.Fatalf("conversation not cleared on stop")
	}
}
