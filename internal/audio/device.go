package audio

import (
	"context"
	"fmt"
	"io"
)

// InputDevice acquires microphone capture sessions. Implementations are
// platform resources (ffmpeg, test fakes); the capture device only depends
// on this contract.
type InputDevice interface {
	Open(ctx context.Context, sampleRate int) (InputSession, error)
}

// InputSession is a live capture stream of PCM16LE mono audio at the rate
// requested from Open.
type InputSession interface {
	io.ReadCloser
}

// OutputDevice acquires playback sinks.
type OutputDevice interface {
	Open(ctx context.Context, sampleRate int) (OutputSession, error)
}

// OutputSession consumes PCM16LE mono audio. Writes may block at roughly
// playback speed depending on the sink.
type OutputSession interface {
	io.WriteCloser
}

// DeviceError reports a failure to acquire or drive an audio device.
// Fatal to starting a session; recoverable by retrying acquisition.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
