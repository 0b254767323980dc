package realtime

import (
	"context"
	"sync"
)

// State is the transport lifecycle. Owned exclusively by the Transport;
// observed, never mutated, by the protocol and orchestration layers.
type State string

const (
	StateNotConnected State = "not_connected"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// DataChannelLabel is the control channel name the upstream provider expects.
const DataChannelLabel = "oai-events"

// RemoteStream is the single outbound media stream remote tracks fan into.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []RemoteTrack
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemoteTrack(nil), s.tracks...)
}

func (s *RemoteStream) add(t RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// ChannelHandlers are installed on the data channel at creation time, before
// negotiation, so no open/close/message event can be missed.
type ChannelHandlers struct {
	OnOpen    func()
	OnClose   func()
	OnMessage func(payload []byte)
}

// Transport owns the peer connection lifecycle: media track attachment,
// data-channel creation, and the offer/credential/answer handshake.
type Transport struct {
	platform Platform
	signaler Signaler
	stun     []string

	mu         sync.Mutex
	pc         PeerConnection
	dc         DataChannel
	remote     *RemoteStream
	state      State
	generation uint64

	handlers ChannelHandlers
	onAudio  func(*RemoteStream)
}

func NewTransport(platform Platform, signaler Signaler, stunServers []string) *Transport {
	return &Transport{
		platform: platform,
		signaler: signaler,
		stun:     stunServers,
		state:    StateNotConnected,
	}
}

// Bind installs the data-channel handlers. Must be called before Connect.
func (t *Transport) Bind(h ChannelHandlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// OnAudio registers the listener signalled exactly once per new remote
// stream. Must be called before Connect.
func (t *Transport) OnAudio(fn func(*RemoteStream)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAudio = fn
}

// Connect establishes the peer connection and performs the negotiation
// handshake. On failure the transport is left in the failed state and the
// caller must Disconnect before retrying.
func (t *Transport) Connect(ctx context.Context, instructions string) error {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.state = StateNegotiating
	handlers := t.handlers
	t.mu.Unlock()

	pc, err := t.platform.NewPeerConnection(PeerConfig{STUNServers: t.stun})
	if err != nil {
		return t.fail(gen, "create peer connection", err)
	}
	if !t.adopt(gen, func() { t.pc = pc }) {
		_ = pc.Close()
		return ErrSuperseded
	}

	tracks, err := t.platform.UserAudioTracks(ctx)
	if err != nil {
		return t.fail(gen, "acquire local audio", err)
	}
	for _, track := range tracks {
		if err := pc.AddTrack(track); err != nil {
			return t.fail(gen, "attach local track", err)
		}
	}

	pc.OnTrack(func(track RemoteTrack) { t.handleRemoteTrack(gen, track) })

	// The channel has to exist before the offer is generated so it shows up
	// in the offer SDP.
	dc, err := pc.CreateDataChannel(DataChannelLabel)
	if err != nil {
		return t.fail(gen, "create data channel", err)
	}
	if handlers.OnOpen != nil {
		dc.OnOpen(handlers.OnOpen)
	}
	if handlers.OnClose != nil {
		dc.OnClose(handlers.OnClose)
	}
	if handlers.OnMessage != nil {
		dc.OnMessage(handlers.OnMessage)
	}
	if !t.adopt(gen, func() { t.dc = dc }) {
		return ErrSuperseded
	}

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		return t.fail(gen, "create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return t.fail(gen, "set local description", err)
	}

	key, err := t.signaler.EphemeralKey(ctx, instructions)
	if err != nil {
		return t.fail(gen, "fetch ephemeral credential", err)
	}

	answer, err := t.signaler.ExchangeSDP(ctx, offer, key)
	if err != nil {
		return t.fail(gen, "exchange SDP", err)
	}

	// A Disconnect during the network round-trips abandons this attempt;
	// the late answer must not touch the fresh transport state.
	if !t.current(gen) {
		return ErrSuperseded
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return t.fail(gen, "set remote description", err)
	}

	t.mu.Lock()
	if t.generation == gen {
		t.state = StateConnected
	}
	t.mu.Unlock()
	return nil
}

// Disconnect closes the data channel then the peer connection and clears the
// remote stream reference. Idempotent, safe from any state.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.generation++
	dc := t.dc
	pc := t.pc
	t.dc = nil
	t.pc = nil
	t.remote = nil
	t.state = StateClosed
	t.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
}

// IsConnected reports whether the data channel is open. Gates all sends.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()
	return dc != nil && dc.IsOpen()
}

// Send submits one message on the control channel.
func (t *Transport) Send(payload []byte) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()
	if dc == nil || !dc.IsOpen() {
		return ErrChannelNotOpen
	}
	return dc.Send(payload)
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RemoteAudio returns the current remote stream, nil before any track arrived.
func (t *Transport) RemoteAudio() *RemoteStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

func (t *Transport) handleRemoteTrack(gen uint64, track RemoteTrack) {
	t.mu.Lock()
	if t.generation != gen {
		t.mu.Unlock()
		return
	}
	fresh := t.remote == nil
	if fresh {
		t.remote = &RemoteStream{id: track.StreamID()}
	}
	stream := t.remote
	onAudio := t.onAudio
	t.mu.Unlock()

	stream.add(track)
	// Signal "audio available" exactly once per new stream; later tracks
	// just append.
	if fresh && onAudio != nil {
		onAudio(stream)
	}
}

func (t *Transport) fail(gen uint64, step string, err error) error {
	t.mu.Lock()
	if t.generation == gen {
		t.state = StateFailed
	}
	t.mu.Unlock()
	return &NegotiationError{Step: step, Err: err}
}

// adopt stores connection state only while gen is still the live attempt.
func (t *Transport) adopt(gen uint64, store func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.generation != gen {
		return false
	}
	store()
	return true
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation == gen
}
