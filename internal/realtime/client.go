package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/voxlead/voxlead/internal/conversation"
	"github.com/voxlead/voxlead/internal/observability"
	"github.com/voxlead/voxlead/internal/protocol"
)

// Client is the typed message layer over the data channel. It translates
// inbound raw messages into ledger mutations and notifications and exposes
// the outbound command surface.
type Client struct {
	transport *Transport
	ledger    *conversation.Ledger
	events    *Events
	metrics   *observability.Metrics

	mu     sync.Mutex
	config protocol.SessionConfig
}

// NewClient wires a Client onto the transport's data channel. metrics may be
// nil.
func NewClient(transport *Transport, metrics *observability.Metrics) *Client {
	c := &Client{
		transport: transport,
		ledger:    conversation.NewLedger(),
		events:    &Events{},
		metrics:   metrics,
	}
	transport.Bind(ChannelHandlers{
		OnOpen:    c.handleOpen,
		OnClose:   c.handleClose,
		OnMessage: c.handleMessage,
	})
	transport.OnAudio(c.events.emitAudio)
	return c
}

func (c *Client) Conversation() *conversation.Ledger { return c.ledger }
func (c *Client) Events() *Events                    { return c.events }
func (c *Client) IsConnected() bool                  { return c.transport.IsConnected() }
func (c *Client) TransportState() State              { return c.transport.State() }

// Connect performs the negotiation handshake via the transport.
func (c *Client) Connect(ctx context.Context, instructions string) error {
	start := time.Now()
	if err := c.transport.Connect(ctx, instructions); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.ObserveNegotiationLatency(time.Since(start))
	}
	return nil
}

// Disconnect tears down the transport. Idempotent.
func (c *Client) Disconnect() {
	c.transport.Disconnect()
}

// Reset clears the conversation and accumulated session configuration for a
// fully torn-down session.
func (c *Client) Reset() {
	c.ledger.Reset()
	c.mu.Lock()
	c.config = nil
	c.mu.Unlock()
}

// SendUserMessageContent submits structured content in a user-message
// envelope. Requires an open channel.
func (c *Client) SendUserMessageContent(content []protocol.ContentPart) error {
	return c.send(protocol.UserMessage{Type: protocol.TypeUserMessage, Content: content})
}

// AppendInputAudio submits a block of mono input samples.
func (c *Client) AppendInputAudio(samples []float32) error {
	return c.send(protocol.InputAudio{Type: protocol.TypeInputAudio, Data: samples})
}

// CancelResponse tells the upstream peer playback of a track was interrupted
// at the given sample offset so it can truncate server-side state.
func (c *Client) CancelResponse(trackID string, offset int64) error {
	return c.send(protocol.CancelResponse{Type: protocol.TypeCancelResponse, TrackID: trackID, Offset: offset})
}

// UpdateSession merges partial into the accumulated configuration. The merge
// always happens; the merged configuration is transmitted immediately when
// the channel is open and lazily on channel open otherwise.
func (c *Client) UpdateSession(partial protocol.SessionConfig) error {
	c.mu.Lock()
	c.config = c.config.Merge(partial)
	merged := c.config
	c.mu.Unlock()

	if !c.transport.IsConnected() {
		return nil
	}
	return c.send(protocol.SessionUpdate{Type: protocol.TypeSessionUpdate, Config: merged})
}

// TurnDetectionType reports the accumulated turn-detection mode.
func (c *Client) TurnDetectionType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.TurnDetectionType()
}

func (c *Client) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.transport.Send(payload); err != nil {
		return err
	}
	c.countMessage("out", msg)
	return nil
}

func (c *Client) countMessage(direction string, msg any) {
	if c.metrics == nil {
		return
	}
	var kind protocol.MessageType
	switch m := msg.(type) {
	case protocol.SessionHandshake:
		kind = m.Type
	case protocol.SessionUpdate:
		kind = m.Type
	case protocol.UserMessage:
		kind = m.Type
	case protocol.InputAudio:
		kind = m.Type
	case protocol.CancelResponse:
		kind = m.Type
	case protocol.ConversationUpdate:
		kind = m.Type
	case protocol.ErrorMessage:
		kind = m.Type
	default:
		kind = "unknown"
	}
	c.metrics.ChannelMessages.WithLabelValues(direction, string(kind)).Inc()
}

// handleOpen fires once on data-channel open: send the initial configuration
// handshake, flush any configuration accumulated before the channel opened,
// then notify listeners. Listeners may send immediately, so the handshake
// must already be on the wire when they run.
func (c *Client) handleOpen() {
	if err := c.send(protocol.NewSessionHandshake()); err != nil {
		log.Printf("realtime: initial handshake failed: %v", err)
	}

	c.mu.Lock()
	pending := c.config
	c.mu.Unlock()
	if len(pending) > 0 {
		if err := c.send(protocol.SessionUpdate{Type: protocol.TypeSessionUpdate, Config: pending}); err != nil {
			log.Printf("realtime: deferred session update failed: %v", err)
		}
	}

	c.events.emitConnected()
}

func (c *Client) handleClose() {
	c.events.emitDisconnected()
}

// handleMessage processes one inbound channel payload. Malformed payloads
// are logged and dropped; unknown types are ignored for forward
// compatibility. Neither closes the channel.
func (c *Client) handleMessage(raw []byte) {
	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		if err != protocol.ErrUnsupportedType {
			log.Printf("realtime: dropping malformed message: %v", err)
		}
		return
	}

	switch m := msg.(type) {
	case protocol.ConversationUpdate:
		c.countMessage("in", m)
		c.applyConversationUpdate(m)
	case protocol.ErrorMessage:
		c.countMessage("in", m)
		c.events.emitError(RemoteError{Payload: m.Error})
	}
}

// applyConversationUpdate appends or merges the referenced item, then
// notifies listeners. The notification is emitted only after the ledger
// reflects the update.
func (c *Client) applyConversationUpdate(msg protocol.ConversationUpdate) {
	var incoming conversation.Item
	if err := json.Unmarshal(msg.Item, &incoming); err != nil || incoming.ID == "" {
		log.Printf("realtime: dropping conversation_update with bad item: %v", err)
		return
	}

	merged := c.ledger.Apply(incoming.ID, func(it *conversation.Item) {
		mergeItem(it, incoming, msg.Delta)
	})
	if !merged {
		mergeItem(&incoming, incoming, msg.Delta)
		if err := c.ledger.Add(incoming); err != nil {
			log.Printf("realtime: conversation insert failed: %v", err)
			return
		}
	}

	item, _ := c.ledger.Get(incoming.ID)
	c.events.emitUpdated(Update{Item: item, Delta: msg.Delta})
}

// mergeItem overlays the incoming item's populated fields and appends the
// delta onto the stored item. Fully assigned audio is never replaced.
func mergeItem(dst *conversation.Item, incoming conversation.Item, delta *protocol.Delta) {
	if incoming.Role != "" {
		dst.Role = incoming.Role
	}
	if incoming.Kind != "" {
		dst.Kind = incoming.Kind
	}
	if incoming.Status != "" {
		dst.Status = incoming.Status
	}
	if incoming.Formatted.Text != "" {
		dst.Formatted.Text = incoming.Formatted.Text
	}
	if incoming.Formatted.Transcript != "" {
		dst.Formatted.Transcript = incoming.Formatted.Transcript
	}
	if len(incoming.Formatted.Audio) > 0 && len(dst.Formatted.Audio) == 0 {
		dst.Formatted.Audio = append([]byte(nil), incoming.Formatted.Audio...)
	}
	if len(incoming.Formatted.Tool) > 0 {
		dst.Formatted.Tool = incoming.Formatted.Tool
	}

	if delta == nil {
		return
	}
	if len(delta.Audio) > 0 {
		dst.Formatted.Audio = append(dst.Formatted.Audio, delta.Audio...)
	}
	if delta.Transcript != "" {
		dst.Formatted.Transcript += delta.Transcript
	}
	if delta.Text != "" {
		dst.Formatted.Text += delta.Text
	}
}
