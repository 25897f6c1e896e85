package session

import (
	"context"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/audio"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

// DefaultMatchInterval is how much new audio must accumulate between
// dispatches while listening.
const DefaultMatchInterval = 3 * time.Second

// Device is an audio capture source. Start delivers frames until the
// stream ends or Stop is called, then closes the channel. Err reports why a
// stream ended early.
type Device interface {
	Start(ctx context.Context) (<-chan audio.Frame, error)
	Stop() error
	Err() error
}

// Matcher answers a signature. *dispatch.Dispatcher satisfies it.
type Matcher interface {
	Match(ctx context.Context, sig *fingerprint.Signature) (models.MatchResult, error)
}

// SignatureGenerator accumulates audio into a signature.
// *fingerprint.Generator satisfies it.
type SignatureGenerator interface {
	Append(buf *goaudio.FloatBuffer, at time.Duration) error
	Current() *fingerprint.Signature
	Duration() time.Duration
}

type GeneratorFactory func() SignatureGenerator

// FileGenerator fingerprints a whole audio file.
type FileGenerator func(ctx context.Context, path string) (*fingerprint.Signature, error)

// Recorder persists successful matches.
type Recorder interface {
	RecordMatch(res models.MatchResult) (models.HistoryRecord, error)
}

type Option func(*Session)

func WithLogger(l logger.Leveled) Option {
	return func(s *Session) { s.log = l }
}

func WithDevice(d Device) Option {
	return func(s *Session) { s.device = d }
}

func WithGeneratorFactory(f GeneratorFactory) Option {
	return func(s *Session) { s.newGenerator = f }
}

func WithFileGenerator(f FileGenerator) Option {
	return func(s *Session) { s.fromFile = f }
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithAutoStop returns the session to Idle as soon as an attempt ends.
func WithAutoStop(on bool) Option {
	return func(s *Session) { s.autoStop = on }
}

// WithContinuousMatching keeps listening after a dispatch without candidates
// instead of ending in NoMatch.
func WithContinuousMatching(on bool) Option {
	return func(s *Session) { s.continuous = on }
}

func WithMatchInterval(d time.Duration) Option {
	return func(s *Session) { s.interval = d }
}

// WithSignatureUpdates calls fn on the session goroutine each time the
// live signature grows.
func WithSignatureUpdates(fn func(*fingerprint.Signature)) Option {
	return func(s *Session) { s.onSignature = fn }
}

// WithMatchHandler calls fn on the session goroutine for every match.
func WithMatchHandler(fn func(models.MatchResult)) Option {
	return func(s *Session) { s.onMatch = fn }
}
