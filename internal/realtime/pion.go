package realtime

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PionPlatform implements Platform on top of pion/webrtc.
type PionPlatform struct{}

func NewPionPlatform() *PionPlatform { return &PionPlatform{} }

func (p *PionPlatform) NewPeerConnection(cfg PeerConfig) (PeerConnection, error) {
	conf := webrtc.Configuration{}
	if len(cfg.STUNServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	pc, err := webrtc.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}
	return &pionPeer{pc: pc}, nil
}

// UserAudioTracks returns a single sendable opus track. Captured PCM travels
// as input_audio control messages; the media track carries the negotiated
// audio leg.
func (p *PionPlatform) UserAudioTracks(_ context.Context) ([]LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "voxlead-mic")
	if err != nil {
		return nil, err
	}
	return []LocalTrack{&pionLocalTrack{track: track}}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddTrack(track LocalTrack) error {
	local, ok := track.(*pionLocalTrack)
	if !ok {
		return fmt.Errorf("unsupported local track %T", track)
	}
	_, err := p.pc.AddTransceiverFromTrack(local.track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	return err
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) CreateOffer(_ context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *pionPeer) SetLocalDescription(offerSDP string) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	})
}

func (p *pionPeer) SetRemoteDescription(answerSDP string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
}

func (p *pionPeer) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(&pionRemoteTrack{track: track})
	})
}

func (p *pionPeer) Close() error { return p.pc.Close() }

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Send(payload []byte) error { return c.dc.Send(payload) }

func (c *pionChannel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *pionChannel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *pionChannel) OnMessage(fn func(payload []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (c *pionChannel) Close() error { return c.dc.Close() }

type pionLocalTrack struct {
	track *webrtc.TrackLocalStaticSample
}

func (t *pionLocalTrack) ID() string   { return t.track.ID() }
func (t *pionLocalTrack) Kind() string { return t.track.Kind().String() }

type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionRemoteTrack) ID() string       { return t.track.ID() }
func (t *pionRemoteTrack) StreamID() string { return t.track.StreamID() }
func (t *pionRemoteTrack) Kind() string     { return t.track.Kind().String() }
