package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SignatureVersion is bumped whenever the blob layout changes.
const SignatureVersion = 1

var blobMagic = []byte("SMFP")

var ErrInvalidSignature = errors.New("invalid signature data")

// Signature is an immutable landmark fingerprint of a span of audio.
type Signature struct {
	hashes     map[uint32][]uint32
	duration   time.Duration
	sampleRate int
	peakCount  int
	landmarks  int
}

// NewSignature copies hashes into a new Signature.
func NewSignature(hashes map[uint32][]uint32, duration time.Duration, sampleRate, peakCount int) *Signature {
	s := &Signature{
		hashes:     make(map[uint32][]uint32, len(hashes)),
		duration:   duration,
		sampleRate: sampleRate,
		peakCount:  peakCount,
	}
	for h, anchors := range hashes {
		s.hashes[h] = append([]uint32(nil), anchors...)
		s.landmarks += len(anchors)
	}
	return s
}

func (s *Signature) Duration() time.Duration { return s.duration }
func (s *Signature) SampleRate() int         { return s.sampleRate }
func (s *Signature) PeakCount() int          { return s.peakCount }

// Len is the total number of landmarks (hash occurrences).
func (s *Signature) Len() int { return s.landmarks }

// UniqueHashes is the number of distinct hash values.
func (s *Signature) UniqueHashes() int { return len(s.hashes) }

// Anchors returns the anchor times for hash. The slice must not be modified.
func (s *Signature) Anchors(hash uint32) []uint32 { return s.hashes[hash] }

// Each visits every hash in ascending order.
func (s *Signature) Each(fn func(hash uint32, anchorsMs []uint32)) {
	keys := make([]uint32, 0, len(s.hashes))
	for h := range s.hashes {
		keys = append(keys, h)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, h := range keys {
		fn(h, s.hashes[h])
	}
}

type signatureBlob struct {
	Version    int                 `msgpack:"v"`
	SampleRate int                 `msgpack:"sr"`
	DurationMs int64               `msgpack:"dur"`
	PeakCount  int                 `msgpack:"peaks"`
	Hashes     map[uint32][]uint32 `msgpack:"h"`
}

// Marshal encodes s as a versioned blob suitable for persisting to disk.
func (s *Signature) Marshal() ([]byte, error) {
	body, err := msgpack.Marshal(&signatureBlob{
		Version:    SignatureVersion,
		SampleRate: s.sampleRate,
		DurationMs: s.duration.Milliseconds(),
		PeakCount:  s.peakCount,
		Hashes:     s.hashes,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding signature: %w", err)
	}
	return append(append([]byte(nil), blobMagic...), body...), nil
}

func UnmarshalSignature(data []byte) (*Signature, error) {
	if !bytes.HasPrefix(data, blobMagic) {
		return nil, ErrInvalidSignature
	}
	var blob signatureBlob
	if err := msgpack.Unmarshal(data[len(blobMagic):], &blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if blob.Version != SignatureVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSignature, blob.Version)
	}
	return NewSignature(blob.Hashes, time.Duration(blob.DurationMs)*time.Millisecond, blob.SampleRate, blob.PeakCount), nil
}

// Info summarizes a signature for display.
type Info struct {
	Duration     time.Duration
	SizeBytes    int
	Landmarks    int
	UniqueHashes int
	Peaks        int
}

func Describe(s *Signature) (Info, error) {
	blob, err := s.Marshal()
	if err != nil {
		return Info{}, err
	}
	return Info{
		Duration:     s.duration,
		SizeBytes:    len(blob),
		Landmarks:    s.landmarks,
		UniqueHashes: len(s.hashes),
		Peaks:        s.peakCount,
	}, nil
}

// Comparison is a side-by-side summary of two signatures.
type Comparison struct {
	LandmarksA   int
	LandmarksB   int
	DurationA    time.Duration
	DurationB    time.Duration
	SameDuration bool
	SharedHashes int
}

// Compare reports size and overlap figures for two signatures. Durations
// within 100ms count as the same.
func Compare(a, b *Signature) Comparison {
	c := Comparison{
		LandmarksA: a.landmarks,
		LandmarksB: b.landmarks,
		DurationA:  a.duration,
		DurationB:  b.duration,
	}
	diff := a.duration - b.duration
	if diff < 0 {
		diff = -diff
	}
	c.SameDuration = diff <= 100*time.Millisecond

	small, large := a.hashes, b.hashes
	if len(small) > len(large) {
		small, large = large, small
	}
	for h := range small {
		if _, ok := large[h]; ok {
			c.SharedHashes++
		}
	}
	return c
}
