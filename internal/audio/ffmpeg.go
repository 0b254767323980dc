package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// FFmpegInput captures microphone PCM using an ffmpeg child process.
type FFmpegInput struct {
	Command string // defaults to "ffmpeg"
	Format  string // e.g. "pulse", "alsa", "avfoundation"
	Device  string // e.g. "default"
}

func (d *FFmpegInput) Open(ctx context.Context, sampleRate int) (InputSession, error) {
	command := d.Command
	if command == "" {
		command = "ffmpeg"
	}
	format := d.Format
	if format == "" {
		format = "pulse"
	}
	device := d.Device
	if device == "" {
		device = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", format,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Devices that do not exist or are permission-blocked fail fast.
	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stderr.String())
		}
		return nil, fmt.Errorf("ffmpeg exited before capture started: %s", stderr.String())
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegSession{stdout: stdout, process: cmd.Process, waitErr: waitErr}, nil
}

type ffmpegSession struct {
	stdout  io.ReadCloser
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}
		select {
		case err := <-s.waitErr:
			s.stopErr = err
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			s.stopErr = <-s.waitErr
		}
		_ = s.stdout.Close()
	})
	return s.stopErr
}

// FFplayOutput plays PCM through an ffplay child process reading stdin.
type FFplayOutput struct {
	Command string // defaults to "ffplay"
}

func (d *FFplayOutput) Open(ctx context.Context, sampleRate int) (OutputSession, error) {
	command := d.Command
	if command == "" {
		command = "ffplay"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-nodisp",
		"-autoexit",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ch_layout", "mono",
		"-i", "-",
	}

	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffplay stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	return &ffplaySession{stdin: stdin, process: cmd.Process, waitErr: waitErr}, nil
}

type ffplaySession struct {
	stdin   io.WriteCloser
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffplaySession) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *ffplaySession) Close() error {
	s.stopOnce.Do(func() {
		_ = s.stdin.Close()
		select {
		case err := <-s.waitErr:
			s.stopErr = err
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			s.stopErr = <-s.waitErr
		}
	})
	return s.stopErr
}
