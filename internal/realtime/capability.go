package realtime

import "context"

// PeerConfig configures discovery assistance for a new peer connection.
type PeerConfig struct {
	STUNServers []string
}

// Platform provides the platform media resources the transport depends on.
// Injected so tests can substitute deterministic fakes.
type Platform interface {
	NewPeerConnection(cfg PeerConfig) (PeerConnection, error)
	// UserAudioTracks acquires the local audio input tracks to attach for
	// bidirectional send/receive.
	UserAudioTracks(ctx context.Context) ([]LocalTrack, error)
}

// PeerConnection abstracts the peer-to-peer media connection.
type PeerConnection interface {
	AddTrack(track LocalTrack) error
	// CreateDataChannel must be called before CreateOffer so the channel is
	// present in the offer SDP.
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer(ctx context.Context) (string, error)
	SetLocalDescription(offerSDP string) error
	SetRemoteDescription(answerSDP string) error
	OnTrack(fn func(RemoteTrack))
	Close() error
}

// DataChannel is the ordered control channel layered on the media transport.
type DataChannel interface {
	Send(payload []byte) error
	IsOpen() bool
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(payload []byte))
	Close() error
}

type LocalTrack interface {
	ID() string
	Kind() string
}

type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() string
}

// Signaler performs the out-of-band negotiation: ephemeral credential
// retrieval from the token broker and the SDP exchange with the upstream
// provider.
type Signaler interface {
	EphemeralKey(ctx context.Context, instructions string) (string, error)
	ExchangeSDP(ctx context.Context, offerSDP, ephemeralKey string) (string, error)
}
