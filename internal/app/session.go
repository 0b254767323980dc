// Package app orchestrates one live voice session: microphone capture,
// realtime transport, conversation state and speaker playback.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/voxlead/voxlead/internal/audio"
	"github.com/voxlead/voxlead/internal/conversation"
	"github.com/voxlead/voxlead/internal/observability"
	"github.com/voxlead/voxlead/internal/protocol"
	"github.com/voxlead/voxlead/internal/realtime"
)

var ErrAlreadyStarted = errors.New("voice session already started")

// TurnDetectionServerVAD streams capture frames continuously and lets the
// upstream peer decide turn boundaries. TurnDetectionNone keeps capture
// paused until the operator records explicitly.
const (
	TurnDetectionServerVAD = "server_vad"
	TurnDetectionNone      = "none"
)

type Options struct {
	Instructions       string
	Voice              string
	SampleRate         int
	TranscriptionModel string
}

// VoiceSession ties the capture device, playback stream and realtime client
// into one conversational loop.
type VoiceSession struct {
	id      string
	client  *realtime.Client
	capture *audio.CaptureDevice
	player  *audio.StreamPlayer
	metrics *observability.Metrics
	opts    Options

	mu        sync.Mutex
	started   bool
	nextSub   int
	listeners map[int]func()
}

func NewVoiceSession(client *realtime.Client, capture *audio.CaptureDevice, player *audio.StreamPlayer, metrics *observability.Metrics, opts Options) *VoiceSession {
	if opts.Voice == "" {
		opts.Voice = "alloy"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	if opts.TranscriptionModel == "" {
		opts.TranscriptionModel = "whisper-1"
	}
	s := &VoiceSession{
		id:        uuid.NewString(),
		client:    client,
		capture:   capture,
		player:    player,
		metrics:   metrics,
		opts:      opts,
		listeners: make(map[int]func()),
	}
	client.Events().OnConnected(s.handleConnected)
	client.Events().OnConversationUpdated(s.handleUpdate)
	client.Events().OnError(func(err realtime.RemoteError) {
		log.Printf("session %s: %v", s.id, err)
	})
	return s
}

func (s *VoiceSession) ID() string { return s.id }

// Start acquires both audio devices and negotiates the transport. On any
// failure everything acquired so far is released.
func (s *VoiceSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.capture.Begin(ctx); err != nil {
		s.markStopped()
		return fmt.Errorf("begin capture: %w", err)
	}
	if err := s.player.Connect(ctx); err != nil {
		_ = s.capture.End()
		s.markStopped()
		return fmt.Errorf("connect playback: %w", err)
	}
	if err := s.client.Connect(ctx, s.opts.Instructions); err != nil {
		_ = s.player.Close()
		_ = s.capture.End()
		s.markStopped()
		return fmt.Errorf("connect transport: %w", err)
	}

	// Queued behind the channel-open handshake; flushed as soon as the
	// channel opens.
	err := s.client.UpdateSession(protocol.SessionConfig{
		"instructions":              s.opts.Instructions,
		"voice":                     s.opts.Voice,
		"input_audio_transcription": map[string]any{"model": s.opts.TranscriptionModel},
	})
	if err != nil {
		log.Printf("session %s: initial session update failed: %v", s.id, err)
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		s.metrics.SessionEvents.WithLabelValues("started").Inc()
	}
	return nil
}

// Stop tears the session down in reverse order and clears conversation
// state. Idempotent.
func (s *VoiceSession) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.client.Disconnect()
	if err := s.capture.End(); err != nil {
		log.Printf("session %s: capture end: %v", s.id, err)
	}
	if err := s.player.Close(); err != nil {
		log.Printf("session %s: playback close: %v", s.id, err)
	}
	s.client.Reset()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
		s.metrics.SessionEvents.WithLabelValues("stopped").Inc()
	}
}

func (s *VoiceSession) markStopped() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Record starts push-to-talk capture; every ~100ms chunk goes out as input
// audio while the channel is open.
func (s *VoiceSession) Record() error {
	return s.capture.Record(func(f audio.Frame) {
		if !s.client.IsConnected() {
			return
		}
		if err := s.client.AppendInputAudio(f.Mono); err != nil {
			log.Printf("session %s: input audio dropped: %v", s.id, err)
		}
	})
}

// PauseRecording stops frame delivery without releasing the microphone.
func (s *VoiceSession) PauseRecording() error {
	return s.capture.Pause()
}

// SetTurnDetection switches between continuous streaming and push-to-talk.
func (s *VoiceSession) SetTurnDetection(mode string) error {
	switch mode {
	case TurnDetectionServerVAD:
		if err := s.client.UpdateSession(protocol.SessionConfig{
			"turn_detection": map[string]any{"type": TurnDetectionServerVAD},
		}); err != nil {
			return err
		}
		return s.Record()
	case TurnDetectionNone:
		if err := s.client.UpdateSession(protocol.SessionConfig{
			"turn_detection": nil,
		}); err != nil {
			return err
		}
		if s.capture.Recording() {
			return s.capture.Pause()
		}
		return nil
	default:
		return fmt.Errorf("unknown turn detection mode %q", mode)
	}
}

// Interrupt halts playback and tells the upstream peer where it stopped so
// the response can be truncated consistently.
func (s *VoiceSession) Interrupt() error {
	off := s.player.Interrupt()
	if off == nil {
		return nil
	}
	if err := s.client.CancelResponse(off.TrackID, off.Offset); err != nil {
		return fmt.Errorf("cancel response: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("interrupted").Inc()
	}
	return nil
}

// Snapshot returns the current conversation items.
func (s *VoiceSession) Snapshot() []conversation.Item {
	return s.client.Conversation().Items()
}

// Frequencies reports the live spectrum for "input" (microphone) or
// "output" (playback).
func (s *VoiceSession) Frequencies(direction string) []float32 {
	if direction == "output" {
		return s.player.GetFrequencies("voice")
	}
	return s.capture.GetFrequencies("voice")
}

// RemoveItem deletes an item from the conversation.
func (s *VoiceSession) RemoveItem(id string) {
	s.client.Conversation().Remove(id)
	s.notify()
}

// OnUpdate registers a conversation listener and returns its cancel func.
func (s *VoiceSession) OnUpdate(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// handleConnected greets the peer once the channel opens so the assistant
// speaks first.
func (s *VoiceSession) handleConnected() {
	err := s.client.SendUserMessageContent([]protocol.ContentPart{
		{Type: "input_text", Text: "Hello!"},
	})
	if err != nil {
		log.Printf("session %s: greeting failed: %v", s.id, err)
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("channel_open").Inc()
	}
}

// handleUpdate queues inbound audio deltas for playback and decodes a
// finished item's accumulated audio into playable samples.
func (s *VoiceSession) handleUpdate(u realtime.Update) {
	if u.Delta != nil && len(u.Delta.Audio) > 0 {
		if err := s.player.Add16BitPCM(u.Delta.Audio, u.Item.ID); err != nil {
			log.Printf("session %s: playback delta dropped: %v", s.id, err)
		}
	}

	if u.Item.Status == conversation.StatusCompleted && len(u.Item.Formatted.Audio) > 0 && len(u.Item.Formatted.File) == 0 {
		samples, err := audio.Decode(u.Item.Formatted.Audio, s.opts.SampleRate, s.opts.SampleRate)
		if err != nil {
			log.Printf("session %s: decode of finished item %s failed: %v", s.id, u.Item.ID, err)
		} else {
			s.client.Conversation().Apply(u.Item.ID, func(it *conversation.Item) {
				it.Formatted.File = samples
			})
		}
	}

	s.notify()
}

func (s *VoiceSession) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
