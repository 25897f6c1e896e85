package audio

import (
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Frame is one chunk of captured PCM audio with its stream timestamp.
// Samples are interleaved float64 values normalized to [-1, 1].
type Frame struct {
	Buffer *goaudio.FloatBuffer
	At     time.Duration
}

// NewFloatBuffer wraps interleaved samples in a go-audio buffer.
func NewFloatBuffer(data []float64, channels, sampleRate int) *goaudio.FloatBuffer {
	return &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   data,
	}
}

// SameFormat reports whether two formats describe the same PCM layout.
func SameFormat(a, b *goaudio.Format) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.NumChannels == b.NumChannels && a.SampleRate == b.SampleRate
}

// ValidateFormat rejects formats the generator cannot consume.
func ValidateFormat(f *goaudio.Format) error {
	if f == nil {
		return fmt.Errorf("missing audio format")
	}
	if f.NumChannels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.NumChannels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	return nil
}

// FrameCount returns the number of sample frames (per channel) in buf.
func FrameCount(buf *goaudio.FloatBuffer) int {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels == 0 {
		return 0
	}
	return len(buf.Data) / buf.Format.NumChannels
}

// IntToFloat converts integer PCM to normalized float samples using the
// buffer's source bit depth (16 when unset).
func IntToFloat(buf *goaudio.IntBuffer) *goaudio.FloatBuffer {
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := 1.0 / float64(int64(1)<<uint(depth-1))
	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float64(v) * scale
	}
	return &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: buf.Format.NumChannels, SampleRate: buf.Format.SampleRate},
		Data:   out,
	}
}

// MixDown averages interleaved channels into a mono sample slice.
func MixDown(buf *goaudio.FloatBuffer) []float64 {
	ch := buf.Format.NumChannels
	if ch <= 1 {
		out := make([]float64, len(buf.Data))
		copy(out, buf.Data)
		return out
	}
	frames := len(buf.Data) / ch
	out := make([]float64, frames)
	inv := 1.0 / float64(ch)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += buf.Data[i*ch+c]
		}
		out[i] = sum * inv
	}
	return out
}

// MonoResampler converts a mono stream between sample rates. When the rates
// match it passes samples through untouched.
type MonoResampler struct {
	inRate, outRate int
	r               resampling.Resampler
}

func NewMonoResampler(inRate, outRate int) (*MonoResampler, error) {
	m := &MonoResampler{inRate: inRate, outRate: outRate}
	if inRate == outRate {
		return m, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler %d->%d: %w", inRate, outRate, err)
	}
	m.r = r
	return m, nil
}

func (m *MonoResampler) Process(in []float64) ([]float64, error) {
	if m.r == nil {
		return in, nil
	}
	return m.r.Process(in)
}

func (m *MonoResampler) OutputRate() int { return m.outRate }
