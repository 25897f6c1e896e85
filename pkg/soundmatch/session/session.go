// Package session drives one recognition attempt at a time: capture,
// incremental signature generation and match dispatch.
//
// A Session owns a single goroutine. Every state change happens there;
// device frames, file generation and dispatch results are posted to it and
// discarded if the attempt they belong to has since ended or been stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/audio"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

var (
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionStopped is returned to callers whose attempt was cut short by Stop or Reset.
	ErrSessionStopped = errors.New("session stopped")
	ErrNotIdle        = errors.New("session is not idle")
	ErrNoDevice       = errors.New("no capture device configured")
)

type awaitResult struct {
	status Status
	err    error
}

type Session struct {
	matcher      Matcher
	device       Device
	newGenerator GeneratorFactory
	fromFile     FileGenerator
	recorder     Recorder
	log          logger.Leveled
	autoStop     bool
	continuous   bool
	interval     time.Duration
	onSignature  func(*fingerprint.Signature)
	onMatch      func(models.MatchResult)

	// ctx bounds dispatches; Close cancels it.
	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan func()
	quit      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	snapMu sync.RWMutex
	snap   Status

	subMu   sync.Mutex
	subs    map[int]func(Status)
	nextSub int

	// Owned by the loop goroutine.
	state        State
	err          error
	result       *models.MatchResult
	sig          *fingerprint.Signature
	epoch        uint64
	attempt      uint64
	gen          SignatureGenerator
	capturing    bool
	streamEnded  bool
	dispatching  bool
	dispatchedAt time.Duration
	fresh        bool
	lastTerminal *Status
	waiters      []chan awaitResult
}

// New starts a session that dispatches signatures to m.
func New(m Matcher, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		matcher:  m,
		interval: DefaultMatchInterval,
		ctx:      ctx,
		cancel:   cancel,
		cmds:     make(chan func()),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
		subs:     make(map[int]func(Status)),
		snap:     Status{State: Idle},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.GetLogger().With("session")
	}
	if s.newGenerator == nil {
		s.newGenerator = func() SignatureGenerator { return fingerprint.NewGenerator() }
	}
	if s.fromFile == nil {
		s.fromFile = func(ctx context.Context, path string) (*fingerprint.Signature, error) {
			return fingerprint.GenerateFromFile(ctx, path, audio.OpenOptions{})
		}
	}
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.exited)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.quit:
			s.stop()
			return
		}
	}
}

// Close stops any attempt and ends the session goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.exited
		s.cancel()
	})
	return nil
}

// call runs fn on the session goroutine and waits for it.
func (s *Session) call(fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { defer close(done); fn() }:
	case <-s.quit:
		return ErrSessionClosed
	}
	<-done
	return nil
}

func (s *Session) do(fn func() error) error {
	var err error
	if cerr := s.call(func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

// post queues fn without waiting. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// Status returns the latest published snapshot. Safe to call from subscribers.
func (s *Session) Status() Status {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Subscribe registers fn for every state change. fn runs on the session
// goroutine and must not call back into the session synchronously.
func (s *Session) Subscribe(fn func(Status)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Await blocks until the current attempt ends and returns its final status.
// When the last attempt has already ended its status is returned at once.
// An attempt cut short by Stop yields ErrSessionStopped.
func (s *Session) Await(ctx context.Context) (Status, error) {
	ch := make(chan awaitResult, 1)
	err := s.call(func() {
		if !s.state.Active() && s.lastTerminal != nil {
			ch <- awaitResult{status: *s.lastTerminal}
			return
		}
		s.waiters = append(s.waiters, ch)
	})
	if err != nil {
		return s.Status(), err
	}
	select {
	case r := <-ch:
		return r.status, r.err
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	case <-s.exited:
		select {
		case r := <-ch:
			return r.status, r.err
		default:
			return s.Status(), ErrSessionClosed
		}
	}
}

// StartListening opens the capture device and begins matching its audio.
// It returns once the device is running or has failed.
func (s *Session) StartListening(ctx context.Context) error {
	var attempt uint64
	err := s.do(func() error {
		if s.state.Active() {
			return models.ErrMatchInProgress
		}
		if s.device == nil {
			return ErrNoDevice
		}
		s.beginAttempt()
		attempt = s.attempt
		s.setState(PreparingAudio)
		return nil
	})
	if err != nil {
		return err
	}

	frames, startErr := s.device.Start(ctx)

	err = s.do(func() error {
		if attempt != s.attempt {
			if startErr == nil && !s.capturing {
				s.stopDevice()
			}
			return ErrSessionStopped
		}
		if startErr != nil {
			derr := deviceError(startErr)
			s.log.Errorf("Capture device failed to start: %v", startErr)
			s.finish(Error, derr)
			return derr
		}
		s.capturing = true
		s.gen = s.newGenerator()
		s.setState(Listening)
		go s.pump(attempt, frames)
		return nil
	})
	if errors.Is(err, ErrSessionClosed) && startErr == nil {
		s.stopDevice()
	}
	return err
}

// RecognizeFromFile fingerprints path and dispatches the result. Generation
// errors are returned directly; the match outcome is published like any
// other attempt.
func (s *Session) RecognizeFromFile(ctx context.Context, path string) (*fingerprint.Signature, error) {
	var attempt uint64
	err := s.do(func() error {
		if s.state.Active() {
			return models.ErrMatchInProgress
		}
		s.beginAttempt()
		attempt = s.attempt
		s.setState(ProcessingSignature)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sig, genErr := s.fromFile(ctx, path)

	err = s.do(func() error {
		if attempt != s.attempt {
			return ErrSessionStopped
		}
		if genErr != nil {
			s.finish(Error, genErr)
			return genErr
		}
		s.sig = sig
		s.dispatch(sig)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// MatchSignatureDirectly dispatches an existing signature. It is rejected
// with ErrNotIdle unless the session is idle.
func (s *Session) MatchSignatureDirectly(sig *fingerprint.Signature) error {
	if sig == nil {
		return fmt.Errorf("%w: nil signature", models.ErrGenerationFailure)
	}
	return s.do(func() error {
		if s.state != Idle {
			return ErrNotIdle
		}
		s.beginAttempt()
		s.sig = sig
		s.dispatch(sig)
		return nil
	})
}

// Stop tears down capture, drops the generator and returns to Idle from any
// state. Repeated calls are harmless. An outstanding dispatch is not
// cancelled; its result is ignored when it arrives.
func (s *Session) Stop() error {
	return s.call(s.stop)
}

// Reset stops the session and forgets the last result and signature.
func (s *Session) Reset() error {
	return s.call(func() {
		s.stop()
		s.result = nil
		s.sig = nil
		s.err = nil
		s.lastTerminal = nil
		s.publish()
	})
}

func (s *Session) beginAttempt() {
	s.attempt++
	s.err = nil
	s.result = nil
	s.sig = nil
	s.lastTerminal = nil
	s.streamEnded = false
	s.dispatching = false
	s.dispatchedAt = 0
	s.fresh = false
}

func (s *Session) pump(attempt uint64, frames <-chan audio.Frame) {
	for f := range frames {
		if !s.post(func() { s.onFrame(attempt, f) }) {
			return
		}
	}
	s.post(func() { s.onStreamEnd(attempt) })
}

func (s *Session) onFrame(attempt uint64, f audio.Frame) {
	if attempt != s.attempt || s.gen == nil {
		return
	}
	if err := s.gen.Append(f.Buffer, f.At); err != nil {
		s.log.Warnf("Dropping audio at %v: %v", f.At, err)
		return
	}
	sig := s.gen.Current()
	if sig == nil {
		return
	}
	s.sig = sig
	s.fresh = true
	s.snapMu.Lock()
	s.snap.Signature = sig
	s.snapMu.Unlock()
	if s.onSignature != nil {
		s.onSignature(sig)
	}
	if s.state == Listening && s.gen.Duration()-s.dispatchedAt >= s.interval {
		s.dispatch(sig)
	}
}

func (s *Session) onStreamEnd(attempt uint64) {
	if attempt != s.attempt {
		return
	}
	s.streamEnded = true
	if err := s.device.Err(); err != nil {
		s.log.Errorf("Capture stream failed: %v", err)
		s.finish(Error, deviceError(err))
		return
	}
	switch {
	case s.state == Matching:
		// the outstanding dispatch decides
	case s.fresh && s.sig != nil:
		s.dispatch(s.sig)
	default:
		s.finish(NoMatch, nil)
	}
}

func (s *Session) dispatch(sig *fingerprint.Signature) {
	attempt := s.attempt
	s.dispatching = true
	s.fresh = false
	if s.gen != nil {
		s.dispatchedAt = s.gen.Duration()
	}
	s.setState(Matching)
	go func() {
		res, err := s.matcher.Match(s.ctx, sig)
		s.post(func() { s.onMatchResult(attempt, res, err) })
	}()
}

func (s *Session) onMatchResult(attempt uint64, res models.MatchResult, err error) {
	if attempt != s.attempt || !s.dispatching {
		s.log.Debugf("Discarding stale match result")
		return
	}
	s.dispatching = false

	if err != nil {
		s.log.Errorf("Match failed: %v", err)
		s.finish(Error, err)
		return
	}
	if res.Matched() {
		s.result = &res
		if s.recorder != nil {
			if _, err := s.recorder.RecordMatch(res); err != nil {
				s.log.Errorf("Failed to record match: %v", err)
			}
		}
		if s.onMatch != nil {
			s.onMatch(res)
		}
		s.log.Infof("Matched %q by %s (%s)", res.Best.Title, res.Best.Artist, res.Source)
		s.finish(Matched, nil)
		return
	}

	if s.continuous && s.capturing {
		if !s.streamEnded {
			s.setState(Listening)
			return
		}
		if s.fresh && s.sig != nil {
			s.dispatch(s.sig)
			return
		}
	}
	s.finish(NoMatch, nil)
}

// finish ends the current attempt in a terminal state.
func (s *Session) finish(st State, err error) {
	s.teardown()
	s.attempt++
	s.dispatching = false
	s.err = err
	s.setState(st)

	status := s.Status()
	s.lastTerminal = &status
	s.resolveWaiters(status, nil)

	if s.autoStop {
		s.stop()
	}
}

func (s *Session) stop() {
	wasActive := s.state.Active()
	s.teardown()
	s.epoch++
	s.attempt++
	s.dispatching = false
	s.state = Idle
	s.publish()
	if wasActive {
		s.resolveWaiters(s.Status(), ErrSessionStopped)
	}
}

func (s *Session) teardown() {
	if s.capturing {
		s.capturing = false
		s.stopDevice()
	}
	s.gen = nil
}

func (s *Session) stopDevice() {
	if err := s.device.Stop(); err != nil {
		s.log.Warnf("Stopping capture device: %v", err)
	}
}

func (s *Session) setState(st State) {
	if s.state != st {
		s.log.Debugf("%s -> %s", s.state, st)
	}
	s.state = st
	s.publish()
}

func (s *Session) publish() {
	st := Status{State: s.state, Signature: s.sig, Epoch: s.epoch}
	switch s.state {
	case Error:
		st.Err = s.err
	case Matched:
		st.Result = s.result
	}

	s.snapMu.Lock()
	s.snap = st
	s.snapMu.Unlock()

	s.subMu.Lock()
	fns := make([]func(Status), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (s *Session) resolveWaiters(st Status, err error) {
	for _, ch := range s.waiters {
		ch <- awaitResult{status: st, err: err}
	}
	s.waiters = nil
}

func deviceError(err error) error {
	if errors.Is(err, models.ErrPermissionDenied) || errors.Is(err, models.ErrDeviceFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrDeviceFailure, err)
}
