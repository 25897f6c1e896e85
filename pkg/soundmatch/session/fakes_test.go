package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/audio"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

const (
	frameRate = 22050
	frameSpan = 500 * time.Millisecond
	// frameLen samples cover frameSpan exactly at frameRate.
	frameLen = int(frameRate * frameSpan / time.Second)
)

type reply struct {
	res models.MatchResult
	err error
}

type fakeMatcher struct {
	calls   atomic.Int32
	replies chan reply
}

func newFakeMatcher() *fakeMatcher {
	return &fakeMatcher{replies: make(chan reply, 8)}
}

func (m *fakeMatcher) Match(ctx context.Context, sig *fingerprint.Signature) (models.MatchResult, error) {
	m.calls.Add(1)
	select {
	case r := <-m.replies:
		return r.res, r.err
	case <-ctx.Done():
		return models.MatchResult{}, ctx.Err()
	}
}

func (m *fakeMatcher) matchWith(cands ...models.Candidate) {
	res := models.MatchResult{Candidates: cands, MatchedAt: time.Now(), Source: models.SourceLibrary}
	if len(cands) > 0 {
		res.Best = cands[0]
	}
	m.replies <- reply{res: res}
}

func (m *fakeMatcher) fail(err error) {
	m.replies <- reply{err: err}
}

type fakeDevice struct {
	mu       sync.Mutex
	frames   chan audio.Frame
	closed   bool
	at       time.Duration
	startErr error
	err      error
	starts   int
	stops    int
}

func (d *fakeDevice) Start(ctx context.Context) (<-chan audio.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	if d.startErr != nil {
		return nil, d.startErr
	}
	d.frames = make(chan audio.Frame, 256)
	d.closed = false
	d.at = 0
	d.err = nil
	return d.frames, nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	if d.frames != nil && !d.closed {
		close(d.frames)
		d.closed = true
	}
	return nil
}

func (d *fakeDevice) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// send pushes n mono frames of frameSpan each.
func (d *fakeDevice) send(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		if d.closed {
			return
		}
		d.frames <- audio.Frame{Buffer: audio.NewFloatBuffer(make([]float64, frameLen), 1, frameRate), At: d.at}
		d.at += frameSpan
	}
}

// end closes the stream as if the hardware stopped, optionally with err.
func (d *fakeDevice) end(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
	if d.frames != nil && !d.closed {
		close(d.frames)
		d.closed = true
	}
}

func (d *fakeDevice) counts() (starts, stops int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops
}

type genStats struct {
	appended atomic.Int32
	failed   atomic.Int32
	created  atomic.Int32
	// failEvery makes every n-th append fail when set.
	failEvery int32
}

type fakeGenerator struct {
	stats *genStats
	n     int32
	dur   time.Duration
}

func (g *fakeGenerator) Append(buf *goaudio.FloatBuffer, at time.Duration) error {
	g.n++
	if g.stats.failEvery > 0 && g.n%g.stats.failEvery == 0 {
		g.stats.failed.Add(1)
		return models.ErrGenerationFailure
	}
	g.stats.appended.Add(1)
	g.dur += time.Duration(len(buf.Data)) * time.Second / time.Duration(buf.Format.SampleRate)
	return nil
}

func (g *fakeGenerator) Current() *fingerprint.Signature {
	if g.dur == 0 {
		return nil
	}
	return fingerprint.NewSignature(map[uint32][]uint32{uint32(g.n): {0}}, g.dur, frameRate, int(g.n))
}

func (g *fakeGenerator) Duration() time.Duration { return g.dur }

func (st *genStats) factory() GeneratorFactory {
	return func() SignatureGenerator {
		st.created.Add(1)
		return &fakeGenerator{stats: st}
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []models.MatchResult
}

func (r *fakeRecorder) RecordMatch(res models.MatchResult) (models.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return models.HistoryRecord{Title: res.Best.Title}, nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}
