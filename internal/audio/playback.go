package audio

import (
	"context"
	"errors"
	"sync"
)

var ErrNotConnected = errors.New("stream player not connected")

// TrackSampleOffset identifies how far playback of a specific inbound track
// got before interruption, so the upstream peer can truncate server-side
// state consistently.
type TrackSampleOffset struct {
	TrackID string `json:"trackId"`
	Offset  int64  `json:"offset"`
}

// playbackChunk is how many samples the pump hands to the sink per write.
const playbackChunk = 1200

type trackQueue struct {
	id      string
	pending [][]float32
	played  int64
	active  bool
}

// StreamPlayer owns decoding and sequential playback of incoming audio
// chunks keyed by track identity. Deltas for the same track queue for
// gapless continuation; a new track replaces the current one.
type StreamPlayer struct {
	device     OutputDevice
	sampleRate int

	mu       sync.Mutex
	session  OutputSession
	analyzer *Analyzer
	track    *trackQueue
	wake     chan struct{}
	done     chan struct{}
}

func NewStreamPlayer(device OutputDevice, sampleRate int) *StreamPlayer {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &StreamPlayer{device: device, sampleRate: sampleRate}
}

// Connect prepares the output sink and its frequency-analysis tap. The
// player stays connected until Close.
func (p *StreamPlayer) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.session != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	session, err := p.device.Open(ctx, p.sampleRate)
	if err != nil {
		return &DeviceError{Op: "acquire output", Err: err}
	}

	p.mu.Lock()
	p.session = session
	p.analyzer = NewAnalyzer()
	p.wake = make(chan struct{}, 1)
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go p.pump(done)
	return nil
}

// Add16BitPCM decodes data and schedules it for playback under trackID.
// Fast-arriving deltas for the same track append rather than restart;
// a different track preempts the current queue.
func (p *StreamPlayer) Add16BitPCM(data []byte, trackID string) error {
	samples := PCM16ToFloat32Mono(data, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return ErrNotConnected
	}
	if p.track == nil || p.track.id != trackID {
		p.track = &trackQueue{id: trackID}
	}
	p.track.pending = append(p.track.pending, samples)
	p.track.active = true
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Interrupt stops in-flight playback immediately and reports the sample
// offset reached within the current track, or nil when nothing is playing.
func (p *StreamPlayer) Interrupt() *TrackSampleOffset {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.track
	if t == nil || !t.active {
		return nil
	}
	p.track = nil
	return &TrackSampleOffset{TrackID: t.id, Offset: t.played}
}

// GetFrequencies mirrors the capture contract: current output spectrum, or
// a single zero bin when not connected.
func (p *StreamPlayer) GetFrequencies(kind string) []float32 {
	p.mu.Lock()
	analyzer := p.analyzer
	p.mu.Unlock()
	if analyzer == nil {
		return []float32{0}
	}
	return analyzer.Frequencies()
}

// Close releases the output sink. Idempotent.
func (p *StreamPlayer) Close() error {
	p.mu.Lock()
	session := p.session
	done := p.done
	p.session = nil
	p.analyzer = nil
	p.track = nil
	p.done = nil
	p.mu.Unlock()

	if done != nil {
		close(done)
	}
	if session != nil {
		return session.Close()
	}
	return nil
}

// pump drains the current track queue into the sink in small slices so an
// interrupt takes effect within one chunk.
func (p *StreamPlayer) pump(done chan struct{}) {
	for {
		p.mu.Lock()
		var (
			chunk   []float32
			session = p.session
		)
		if p.track != nil && len(p.track.pending) > 0 {
			head := p.track.pending[0]
			if len(head) > playbackChunk {
				chunk = head[:playbackChunk]
				p.track.pending[0] = head[playbackChunk:]
			} else {
				chunk = head
				p.track.pending = p.track.pending[1:]
			}
			p.track.played += int64(len(chunk))
		} else if p.track != nil {
			// Queue drained: the track is no longer playing, but its
			// cumulative offset is kept for a same-track continuation.
			p.track.active = false
		}
		analyzer := p.analyzer
		wake := p.wake
		p.mu.Unlock()

		if session == nil {
			return
		}
		if chunk == nil {
			select {
			case <-done:
				return
			case <-wake:
			}
			continue
		}

		if analyzer != nil {
			analyzer.Push(chunk)
		}
		if _, err := session.Write(Float32ToPCM16(chunk)); err != nil {
			return
		}

		select {
		case <-done:
			return
		default:
		}
	}
}
