package realtime

import (
	"context"
	"sync"
)

type fakePlatform struct {
	pcErr    error
	trackErr error
	peer     *fakePeer
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{peer: &fakePeer{}}
}

func (p *fakePlatform) NewPeerConnection(PeerConfig) (PeerConnection, error) {
	if p.pcErr != nil {
		return nil, p.pcErr
	}
	return p.peer, nil
}

func (p *fakePlatform) UserAudioTracks(context.Context) ([]LocalTrack, error) {
	if p.trackErr != nil {
		return nil, p.trackErr
	}
	return []LocalTrack{fakeLocalTrack("mic")}, nil
}

type fakeLocalTrack string

func (t fakeLocalTrack) ID() string   { return string(t) }
func (t fakeLocalTrack) Kind() string { return "audio" }

type fakeRemoteTrack struct {
	id     string
	stream string
}

func (t *fakeRemoteTrack) ID() string       { return t.id }
func (t *fakeRemoteTrack) StreamID() string { return t.stream }
func (t *fakeRemoteTrack) Kind() string     { return "audio" }

type fakePeer struct {
	mu        sync.Mutex
	ops       []string
	tracks    []LocalTrack
	channel   *fakeChannel
	localSDP  string
	remoteSDP string
	onTrack   func(RemoteTrack)
	closed    bool

	channelErr error
	offerErr   error
	localErr   error
	remoteErr  error
}

func (p *fakePeer) AddTrack(track LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "add_track")
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) CreateDataChannel(label string) (DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "create_channel")
	if p.channelErr != nil {
		return nil, p.channelErr
	}
	p.channel = &fakeChannel{label: label}
	return p.channel, nil
}

func (p *fakePeer) CreateOffer(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "create_offer")
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return "offer-sdp", nil
}

func (p *fakePeer) SetLocalDescription(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "set_local")
	if p.localErr != nil {
		return p.localErr
	}
	p.localSDP = sdp
	return nil
}

func (p *fakePeer) SetRemoteDescription(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "set_remote")
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remoteSDP = sdp
	return nil
}

func (p *fakePeer) OnTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) emitTrack(t RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (p *fakePeer) opOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

type fakeChannel struct {
	mu        sync.Mutex
	label     string
	open      bool
	closed    bool
	sent      [][]byte
	sendErr   error
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func (c *fakeChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *fakeChannel) OnOpen(fn func())          { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *fakeChannel) OnClose(fn func())         { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *fakeChannel) OnMessage(fn func([]byte)) { c.mu.Lock(); c.onMessage = fn; c.mu.Unlock() }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	wasOpen := c.open && !c.closed
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if wasOpen && fn != nil {
		fn()
	}
	return nil
}

func (c *fakeChannel) triggerOpen() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeChannel) deliver(payload []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (c *fakeChannel) sentPayloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeSignaler struct {
	mu           sync.Mutex
	instructions string
	offerSeen    string
	keySeen      string
	keyErr       error
	exchangeErr  error
	onExchange   func() // runs before returning the answer
}

func (s *fakeSignaler) EphemeralKey(_ context.Context, instructions string) (string, error) {
	s.mu.Lock()
	s.instructions = instructions
	s.mu.Unlock()
	if s.keyErr != nil {
		return "", s.keyErr
	}
	return "ek-123", nil
}

func (s *fakeSignaler) ExchangeSDP(_ context.Context, offerSDP, key string) (string, error) {
	s.mu.Lock()
	s.offerSeen = offerSDP
	s.keySeen = key
	hook := s.onExchange
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if s.exchangeErr != nil {
		return "", s.exchangeErr
	}
	return "answer-sdp", nil
}
