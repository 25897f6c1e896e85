//go:build !js && !wasm
// +build !js,!wasm

// Package capture reads live audio from the default input device.
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/audio"
)

const (
	DefaultSampleRate      = 44100
	DefaultFramesPerBuffer = 1024
	// DefaultQueueDepth is how many buffers may wait for the consumer
	// before new ones are dropped.
	DefaultQueueDepth = 64
)

type Option func(*Microphone)

func WithLogger(l logger.Leveled) Option {
	return func(m *Microphone) { m.log = l }
}

func WithSampleRate(rate int) Option {
	return func(m *Microphone) { m.sampleRate = rate }
}

func WithFramesPerBuffer(n int) Option {
	return func(m *Microphone) { m.framesPerBuffer = n }
}

func WithQueueDepth(n int) Option {
	return func(m *Microphone) { m.queueDepth = n }
}

// Microphone captures mono float audio through PortAudio.
type Microphone struct {
	sampleRate      int
	framesPerBuffer int
	queueDepth      int
	log             logger.Leveled

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  chan audio.Frame
	stopped chan struct{}
	err     error

	running   atomic.Bool
	delivered int64 // sample frames, touched only by the callback
	dropped   atomic.Int64
}

func NewMicrophone(opts ...Option) *Microphone {
	m := &Microphone{
		sampleRate:      DefaultSampleRate,
		framesPerBuffer: DefaultFramesPerBuffer,
		queueDepth:      DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.GetLogger().With("capture")
	}
	return m
}

// Start opens the default input device. The returned channel is closed when
// Stop is called or ctx ends.
func (m *Microphone) Start(ctx context.Context) (<-chan audio.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return nil, fmt.Errorf("%w: microphone already started", models.ErrDeviceFailure)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, classify(fmt.Errorf("failed to initialize PortAudio: %w", err))
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, classify(fmt.Errorf("failed to get default input device: %w", err))
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.sampleRate),
		FramesPerBuffer: m.framesPerBuffer,
	}

	m.frames = make(chan audio.Frame, m.queueDepth)
	m.stopped = make(chan struct{})
	m.err = nil
	m.delivered = 0
	m.dropped.Store(0)

	stream, err := portaudio.OpenStream(params, m.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, classify(fmt.Errorf("failed to open audio stream: %w", err))
	}

	m.running.Store(true)
	if err := stream.Start(); err != nil {
		m.running.Store(false)
		stream.Close()
		portaudio.Terminate()
		return nil, classify(fmt.Errorf("failed to start audio stream: %w", err))
	}
	m.stream = stream

	m.log.Infof("Recording from %s at %d Hz", dev.Name, m.sampleRate)

	stopped := m.stopped
	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-stopped:
		}
	}()

	return m.frames, nil
}

// callback runs on the PortAudio thread and must never block.
func (m *Microphone) callback(in []float32) {
	if !m.running.Load() || len(in) == 0 {
		return
	}
	at := time.Duration(m.delivered) * time.Second / time.Duration(m.sampleRate)
	m.delivered += int64(len(in))
	m.deliver(in, at)
}

func (m *Microphone) deliver(in []float32, at time.Duration) {
	data := make([]float64, len(in))
	for i, s := range in {
		data[i] = float64(s)
	}
	select {
	case m.frames <- audio.Frame{Buffer: audio.NewFloatBuffer(data, 1, m.sampleRate), At: at}:
	default:
		m.dropped.Add(1)
	}
}

// Stop halts capture and closes the frame channel. Safe to call repeatedly.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}
	m.running.Store(false)

	var errs []string
	if err := m.stream.Stop(); err != nil {
		errs = append(errs, fmt.Sprintf("stop: %v", err))
	}
	if err := m.stream.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("close: %v", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Sprintf("terminate: %v", err))
	}
	m.stream = nil
	close(m.stopped)
	close(m.frames)

	if n := m.dropped.Load(); n > 0 {
		m.log.Warnf("Dropped %d audio buffers while the consumer was busy", n)
	}
	if len(errs) > 0 {
		m.err = fmt.Errorf("%w: %s", models.ErrDeviceFailure, strings.Join(errs, "; "))
		return m.err
	}
	return nil
}

func (m *Microphone) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Dropped reports buffers discarded because the consumer fell behind.
func (m *Microphone) Dropped() int64 { return m.dropped.Load() }

// classify maps a PortAudio failure onto the device error taxonomy.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"permission", "not permitted", "denied", "unauthorized", "not authorized"} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", models.ErrDeviceFailure, err)
}
