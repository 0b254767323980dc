package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

type CaptureStatus string

const (
	CaptureIdle      CaptureStatus = "idle"
	CaptureReady     CaptureStatus = "ready"
	CaptureRecording CaptureStatus = "recording"
	CapturePaused    CaptureStatus = "paused"
)

var (
	ErrNotRecording  = errors.New("capture is not recording")
	ErrNotAcquired   = errors.New("capture device not acquired")
	ErrAlreadyActive = errors.New("capture device already acquired")
)

// Frame is one chunk of captured audio.
type Frame struct {
	Mono []float32
}

type FrameHandler func(Frame)

// CaptureDevice owns microphone acquisition, frequency analysis, and chunked
// recording callbacks. The analysis tap runs from Begin onward so
// visualization works before recording starts.
type CaptureDevice struct {
	device        InputDevice
	sampleRate    int
	frameInterval time.Duration

	mu       sync.Mutex
	status   CaptureStatus
	session  InputSession
	analyzer *Analyzer
	onFrame  FrameHandler
	done     chan struct{}
}

func NewCaptureDevice(device InputDevice, sampleRate int) *CaptureDevice {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &CaptureDevice{
		device:        device,
		sampleRate:    sampleRate,
		frameInterval: 100 * time.Millisecond,
		status:        CaptureIdle,
	}
}

// Begin acquires the input stream and wires the analysis tap. Fails with a
// DeviceError when no device is available or permission is denied.
func (c *CaptureDevice) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.status != CaptureIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.mu.Unlock()

	session, err := c.device.Open(ctx, c.sampleRate)
	if err != nil {
		return &DeviceError{Op: "acquire input", Err: err}
	}

	c.mu.Lock()
	c.session = session
	c.analyzer = NewAnalyzer()
	c.status = CaptureReady
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.pump(session, done)
	return nil
}

// pump reads ~frameInterval chunks from the session, feeds the analyzer, and
// delivers frames to the recording callback while recording is active.
func (c *CaptureDevice) pump(session InputSession, done chan struct{}) {
	frameSamples := c.sampleRate * int(c.frameInterval/time.Millisecond) / 1000
	buf := make([]byte, frameSamples*2)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := io.ReadFull(session, buf)
		if n > 0 {
			mono := PCM16ToFloat32Mono(buf[:n-n%2], 1)
			c.mu.Lock()
			analyzer := c.analyzer
			handler := c.onFrame
			recording := c.status == CaptureRecording
			c.mu.Unlock()
			if analyzer != nil {
				analyzer.Push(mono)
			}
			if recording && handler != nil {
				handler(Frame{Mono: mono})
			}
		}
		if err != nil {
			return
		}
	}
}

// Record begins chunked capture. Roughly every 100ms the just-captured chunk
// is decoded into a mono sample buffer and handed to onFrame. Chunks are
// independent; small boundary gaps are an accepted tradeoff.
func (c *CaptureDevice) Record(onFrame FrameHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == CaptureIdle {
		return ErrNotAcquired
	}
	c.onFrame = onFrame
	c.status = CaptureRecording
	return nil
}

// Pause stops delivering frames without releasing the device. Only valid
// while recording.
func (c *CaptureDevice) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != CaptureRecording {
		return ErrNotRecording
	}
	c.status = CapturePaused
	return nil
}

// GetFrequencies returns the current magnitude spectrum of the live input.
// The kind argument ("voice"/"music") is accepted for interface parity; both
// return the full spectrum. Never fails: a single zero bin is returned when
// no device is active.
func (c *CaptureDevice) GetFrequencies(kind string) []float32 {
	c.mu.Lock()
	analyzer := c.analyzer
	c.mu.Unlock()
	if analyzer == nil {
		return []float32{0}
	}
	return analyzer.Frequencies()
}

// End stops the stream and releases the device and analysis tap. Idempotent.
func (c *CaptureDevice) End() error {
	c.mu.Lock()
	session := c.session
	done := c.done
	c.session = nil
	c.analyzer = nil
	c.onFrame = nil
	c.done = nil
	c.status = CaptureIdle
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if session != nil {
		return session.Close()
	}
	return nil
}

func (c *CaptureDevice) Status() CaptureStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *CaptureDevice) Recording() bool {
	return c.Status() == CaptureRecording
}
