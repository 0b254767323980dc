package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies data-channel payload variants.
type MessageType string

const (
	// Outbound, client -> upstream.
	TypeSessionHandshake MessageType = "session.update"
	TypeSessionUpdate    MessageType = "session_update"
	TypeUserMessage      MessageType = "user_message"
	TypeInputAudio       MessageType = "input_audio"
	TypeCancelResponse   MessageType = "cancel_response"

	// Inbound, upstream -> client.
	TypeConversationUpdate MessageType = "conversation_update"
	TypeError              MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// SessionConfig accumulates session-level settings. Partial updates merge
// shallowly; the latest value of each field wins.
type SessionConfig map[string]any

// Merge returns a new config with fields from partial overlaid on c.
func (c SessionConfig) Merge(partial SessionConfig) SessionConfig {
	merged := make(SessionConfig, len(c)+len(partial))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return merged
}

// TurnDetectionType reports the configured turn-detection mode, "none" when
// unset or explicitly disabled.
func (c SessionConfig) TurnDetectionType() string {
	td, ok := c["turn_detection"]
	if !ok || td == nil {
		return "none"
	}
	obj, ok := td.(map[string]any)
	if !ok {
		return "none"
	}
	if t, ok := obj["type"].(string); ok && t != "" {
		return t
	}
	return "none"
}

// ContentPart is one element of a user message, e.g. {"type":"input_text","text":...}.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SessionHandshake is the initial configuration sent once on channel open.
type SessionHandshake struct {
	Type    MessageType      `json:"type"`
	Session HandshakeSession `json:"session"`
}

type HandshakeSession struct {
	Modalities []string `json:"modalities"`
	Tools      []any    `json:"tools"`
}

func NewSessionHandshake() SessionHandshake {
	return SessionHandshake{
		Type: TypeSessionHandshake,
		Session: HandshakeSession{
			Modalities: []string{"text", "audio"},
			Tools:      []any{},
		},
	}
}

type SessionUpdate struct {
	Type   MessageType   `json:"type"`
	Config SessionConfig `json:"config"`
}

type UserMessage struct {
	Type    MessageType   `json:"type"`
	Content []ContentPart `json:"content"`
}

type InputAudio struct {
	Type MessageType `json:"type"`
	Data []float32   `json:"data"`
}

type CancelResponse struct {
	Type    MessageType `json:"type"`
	TrackID string      `json:"trackId"`
	Offset  int64       `json:"offset"`
}

// ConversationUpdate carries a full or partial exchange item from upstream.
type ConversationUpdate struct {
	Type  MessageType     `json:"type"`
	Item  json.RawMessage `json:"item"`
	Delta *Delta          `json:"delta,omitempty"`
}

// Delta is an incremental update merged into an existing exchange item.
type Delta struct {
	Audio      []byte `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`
}

type ErrorMessage struct {
	Type  MessageType     `json:"type"`
	Error json.RawMessage `json:"error"`
}

// ParseServerMessage decodes an inbound data-channel payload into its typed
// form. Unknown types return ErrUnsupportedType so callers can skip them
// without tearing down the channel.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeConversationUpdate:
		var msg ConversationUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len(msg.Item) == 0 {
			return nil, errors.New("invalid conversation_update: missing item")
		}
		return msg, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
