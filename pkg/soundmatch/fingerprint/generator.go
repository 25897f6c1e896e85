package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/audio"
)

// DefaultSampleRate is the rate all audio is resampled to before analysis.
const DefaultSampleRate = 11025

// maxGap bounds the silence inserted when a buffer arrives later than the
// stream position implies.
const maxGap = MaxDeltaMs * time.Millisecond

type GeneratorOption func(*Generator)

// WithTargetRate overrides the analysis sample rate.
func WithTargetRate(rate int) GeneratorOption {
	return func(g *Generator) {
		if rate > 0 {
			g.rate = rate
		}
	}
}

// Generator builds a Signature incrementally from PCM buffers. The first
// appended buffer fixes the input format for the life of the generator.
// A Generator is not safe for concurrent use.
type Generator struct {
	rate      int
	frames    *frameAnalyzer
	bands     [][2]int
	format    *goaudio.Format
	resampler *audio.MonoResampler

	started bool
	startAt time.Duration
	elapsed time.Duration

	pending []float64
	prev    []float64
	cur     []float64
	curIdx  int
	peaks   []Peak
}

func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		rate:   DefaultSampleRate,
		frames: newFrameAnalyzer(Hamming(WindowSize)),
		bands:  logBands(WindowSize / 2),
		curIdx: -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Append feeds one buffer captured at stream time at.
func (g *Generator) Append(buf *goaudio.FloatBuffer, at time.Duration) error {
	if buf == nil {
		return fmt.Errorf("%w: nil buffer", models.ErrGenerationFailure)
	}
	if err := audio.ValidateFormat(buf.Format); err != nil {
		return fmt.Errorf("%w: %v", models.ErrGenerationFailure, err)
	}

	if g.format == nil {
		r, err := audio.NewMonoResampler(buf.Format.SampleRate, g.rate)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrGenerationFailure, err)
		}
		g.format = &goaudio.Format{NumChannels: buf.Format.NumChannels, SampleRate: buf.Format.SampleRate}
		g.resampler = r
	} else if !audio.SameFormat(g.format, buf.Format) {
		return fmt.Errorf("%w: format changed from %dch/%dHz to %dch/%dHz", models.ErrGenerationFailure,
			g.format.NumChannels, g.format.SampleRate, buf.Format.NumChannels, buf.Format.SampleRate)
	}

	if !g.started {
		g.started = true
		g.startAt = at
	} else if gap := at - (g.startAt + g.elapsed); gap > time.Duration(HopSize)*time.Second/time.Duration(g.rate) {
		gap = min(gap, maxGap)
		g.push(make([]float64, int(gap.Seconds()*float64(g.rate))))
		g.elapsed += gap
	}

	mono, err := g.resampler.Process(audio.MixDown(buf))
	if err != nil {
		return fmt.Errorf("%w: resampling: %v", models.ErrGenerationFailure, err)
	}
	g.push(mono)

	frames := audio.FrameCount(buf)
	g.elapsed += time.Duration(frames) * time.Second / time.Duration(g.format.SampleRate)
	return nil
}

// push consumes resampled samples, emitting one spectral frame per hop.
func (g *Generator) push(samples []float64) {
	g.pending = append(g.pending, samples...)
	off := 0
	for off+WindowSize <= len(g.pending) {
		g.addFrame(g.frames.analyze(g.pending[off:]))
		off += HopSize
	}
	if off > 0 {
		g.pending = append(g.pending[:0:0], g.pending[off:]...)
	}
}

// addFrame finalizes the peaks of the previous frame now that its right
// neighbour is known.
func (g *Generator) addFrame(mag []float64) {
	if g.cur != nil {
		g.peaks = append(g.peaks, framePeaks(g.prev, g.cur, mag, g.curIdx, g.bands, g.rate)...)
	}
	g.prev, g.cur = g.cur, mag
	g.curIdx++
}

// Duration is the amount of audio appended so far, including filled gaps.
func (g *Generator) Duration() time.Duration { return g.elapsed }

// Current returns a signature over everything appended so far, or nil when
// less than one analysis window has been seen.
func (g *Generator) Current() *Signature {
	if g.cur == nil {
		return nil
	}
	peaks := make([]Peak, 0, len(g.peaks)+len(g.bands))
	peaks = append(peaks, g.peaks...)
	peaks = append(peaks, framePeaks(g.prev, g.cur, nil, g.curIdx, g.bands, g.rate)...)

	hashes := Landmarks(peaks)
	sig := &Signature{
		hashes:     hashes,
		duration:   g.elapsed,
		sampleRate: g.rate,
		peakCount:  len(peaks),
	}
	for _, anchors := range hashes {
		sig.landmarks += len(anchors)
	}
	return sig
}

// GenerateFromFile decodes path and fingerprints the whole file.
func GenerateFromFile(ctx context.Context, path string, open audio.OpenOptions, opts ...GeneratorOption) (*Signature, error) {
	src, err := audio.OpenFile(ctx, path, open)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationFailure, err)
	}
	defer src.Close()

	g := NewGenerator(opts...)
	var at time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := src.Next(audio.DefaultChunkFrames)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrGenerationFailure, err)
		}
		if err := g.Append(chunk, at); err != nil {
			return nil, err
		}
		at += time.Duration(audio.FrameCount(chunk)) * time.Second / time.Duration(chunk.Format.SampleRate)
	}

	sig := g.Current()
	if sig == nil {
		return nil, fmt.Errorf("%w: %s is too short to fingerprint", models.ErrGenerationFailure, path)
	}
	return sig, nil
}

// GenerateFromBuffers fingerprints a sequence of buffers laid end to end.
// Buffers without a format take format. progress, when set, receives 0 before
// the first buffer and (i+1)/n after each one.
func GenerateFromBuffers(ctx context.Context, bufs []*goaudio.FloatBuffer, format *goaudio.Format, progress func(float64), opts ...GeneratorOption) (*Signature, error) {
	if len(bufs) == 0 {
		return nil, fmt.Errorf("%w: no buffers", models.ErrGenerationFailure)
	}

	g := NewGenerator(opts...)
	report := func(p float64) {
		if progress != nil {
			progress(p)
		}
	}

	report(0)
	var at time.Duration
	for i, buf := range bufs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if buf != nil && buf.Format == nil {
			buf = &goaudio.FloatBuffer{Format: format, Data: buf.Data}
		}
		if err := g.Append(buf, at); err != nil {
			return nil, err
		}
		at += time.Duration(audio.FrameCount(buf)) * time.Second / time.Duration(buf.Format.SampleRate)
		report(float64(i+1) / float64(len(bufs)))
	}

	sig := g.Current()
	if sig == nil {
		return nil, fmt.Errorf("%w: not enough audio to fingerprint", models.ErrGenerationFailure)
	}
	return sig, nil
}
