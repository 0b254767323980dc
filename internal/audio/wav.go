package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 24000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	for _, v := range []any{
		uint16(audioFormat),
		uint16(numChannels),
		uint32(sampleRate),
		byteRate,
		blockAlign,
		uint16(bitsPerSample),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// wavInfo describes the data chunk of a parsed WAV container.
type wavInfo struct {
	sampleRate int
	channels   int
	bits       int
	data       []byte
}

func parseWAV(raw []byte) (wavInfo, error) {
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("not a RIFF/WAVE stream")
	}
	info := wavInfo{}
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+size > len(raw) {
			return wavInfo{}, errors.New("truncated WAV chunk")
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return wavInfo{}, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(raw[body : body+2])
			if format != 1 {
				return wavInfo{}, fmt.Errorf("unsupported WAV format %d (want PCM)", format)
			}
			info.channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			info.bits = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
		case "data":
			info.data = raw[body : body+size]
		}
		// Chunks are word-aligned.
		off = body + size + size%2
	}
	if info.sampleRate <= 0 || info.channels <= 0 {
		return wavInfo{}, errors.New("missing fmt chunk")
	}
	if info.bits != 16 {
		return wavInfo{}, fmt.Errorf("unsupported bit depth %d (want 16)", info.bits)
	}
	if info.data == nil {
		return wavInfo{}, errors.New("missing data chunk")
	}
	return info, nil
}

// Decode materializes an opaque audio payload into single-channel float32
// samples at targetRate. The payload may be a WAV container or raw PCM16LE
// mono at sourceRate; multi-channel WAV input is mixed down to mono.
func Decode(raw []byte, sourceRate, targetRate int) ([]float32, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty audio payload")
	}
	if sourceRate <= 0 {
		return nil, fmt.Errorf("invalid source rate %d", sourceRate)
	}
	if targetRate <= 0 {
		targetRate = sourceRate
	}

	channels := 1
	pcm := raw
	if info, err := parseWAV(raw); err == nil {
		pcm = info.data
		sourceRate = info.sampleRate
		channels = info.channels
	}

	mono := PCM16ToFloat32Mono(pcm, channels)
	if sourceRate == targetRate {
		return mono, nil
	}
	return Resample(mono, sourceRate, targetRate), nil
}

// PCM16ToFloat32Mono converts interleaved PCM16LE bytes into mono float32
// samples in [-1, 1], averaging channels.
func PCM16ToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[off : off+2]))
			sum += float64(s) / 32768
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Float32ToPCM16 converts float32 samples in [-1, 1] to PCM16LE bytes,
// clamping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Resample converts mono samples between rates by linear interpolation.
// Good enough for speech payloads; not a polyphase filter.
func Resample(samples []float32, sourceRate, targetRate int) []float32 {
	if sourceRate == targetRate || len(samples) == 0 {
		return append([]float32(nil), samples...)
	}
	ratio := float64(sourceRate) / float64(targetRate)
	n := int(float64(len(samples)) / ratio)
	if n < 1 {
		n = 1
	}
	out := make([]float32, n)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
