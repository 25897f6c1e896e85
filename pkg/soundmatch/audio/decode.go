package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupported is returned for files no decoder (including ffmpeg) can read.
var ErrUnsupported = errors.New("unsupported audio file")

// DefaultChunkFrames is the number of sample frames a Source returns per Next call.
const DefaultChunkFrames = 4096

// Source streams decoded PCM from a file in fixed-size chunks.
type Source interface {
	Format() *goaudio.Format
	// Next returns the next chunk, or io.EOF once the stream is drained.
	Next(frames int) (*goaudio.FloatBuffer, error)
	Close() error
}

// OpenOptions controls how OpenFile falls back to ffmpeg.
type OpenOptions struct {
	TempDir    string // where ffmpeg conversions are written
	SampleRate int    // conversion rate for the ffmpeg fallback
}

// OpenFile opens an audio file for streaming. WAV and MP3 are decoded
// natively; anything else is converted to mono WAV with ffmpeg first.
func OpenFile(ctx context.Context, path string, opts OpenOptions) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening audio file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return openWAV(path)
	case ".mp3":
		return openMP3(path)
	}

	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	converted, err := ConvertToMonoWAV(ctx, path, opts.TempDir, ConvertWAVConfig{SampleRate: opts.SampleRate})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupported, filepath.Base(path), err)
	}
	src, err := openWAV(converted)
	if err != nil {
		os.Remove(converted)
		return nil, err
	}
	src.cleanup = converted
	return src, nil
}

type wavSource struct {
	f       *os.File
	dec     *wav.Decoder
	format  *goaudio.Format
	depth   int
	cleanup string
}

func openWAV(path string) (*wavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid PCM WAV file", ErrUnsupported, filepath.Base(path))
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("seeking to PCM data: %w", err)
	}
	return &wavSource{
		f:      f,
		dec:    dec,
		format: &goaudio.Format{NumChannels: int(dec.NumChans), SampleRate: int(dec.SampleRate)},
		depth:  int(dec.BitDepth),
	}, nil
}

func (s *wavSource) Format() *goaudio.Format { return s.format }

func (s *wavSource) Next(frames int) (*goaudio.FloatBuffer, error) {
	if frames <= 0 {
		frames = DefaultChunkFrames
	}
	buf := &goaudio.IntBuffer{
		Format:         s.format,
		Data:           make([]int, frames*s.format.NumChannels),
		SourceBitDepth: s.depth,
	}
	n, err := s.dec.PCMBuffer(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding WAV samples: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	buf.Data = buf.Data[:n]
	return IntToFloat(buf), nil
}

func (s *wavSource) Close() error {
	err := s.f.Close()
	if s.cleanup != "" {
		os.Remove(s.cleanup)
	}
	return err
}

// mp3Source decodes MP3; go-mp3 always yields 16-bit little-endian stereo.
type mp3Source struct {
	f      *os.File
	dec    *mp3.Decoder
	format *goaudio.Format
	raw    []byte
}

func openMP3(path string) (*mp3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: decoding mp3 %s: %v", ErrUnsupported, filepath.Base(path), err)
	}
	return &mp3Source{
		f:      f,
		dec:    dec,
		format: &goaudio.Format{NumChannels: 2, SampleRate: dec.SampleRate()},
	}, nil
}

func (s *mp3Source) Format() *goaudio.Format { return s.format }

func (s *mp3Source) Next(frames int) (*goaudio.FloatBuffer, error) {
	if frames <= 0 {
		frames = DefaultChunkFrames
	}
	need := frames * 4
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	n, err := io.ReadFull(s.dec, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding MP3 samples: %w", err)
	}
	n -= n % 4
	if n == 0 {
		return nil, io.EOF
	}
	out := make([]float64, n/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768.0
	}
	return &goaudio.FloatBuffer{Format: s.format, Data: out}, nil
}

func (s *mp3Source) Close() error { return s.f.Close() }

// ReadAll drains src into a single buffer. Intended for short clips.
func ReadAll(ctx context.Context, src Source) (*goaudio.FloatBuffer, error) {
	f := src.Format()
	all := &goaudio.FloatBuffer{Format: &goaudio.Format{NumChannels: f.NumChannels, SampleRate: f.SampleRate}}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := src.Next(DefaultChunkFrames)
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all.Data = append(all.Data, chunk.Data...)
	}
}
