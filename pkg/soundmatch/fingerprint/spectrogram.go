package fingerprint

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	WindowSize = 1024
	HopSize    = 256
)

var (
	errEmptyInput   = errors.New("no samples")
	errShortInput   = errors.New("input shorter than one analysis window")
	errWindowLength = errors.New("window length does not match window size")
)

// Hamming returns an n-point symmetric Hamming window.
func Hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	step := 2 * math.Pi / float64(n-1)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(step*float64(i))
	}
	return w
}

// MagnitudeSpectrum keeps the non-negative half of a real signal's spectrum.
func MagnitudeSpectrum(spectrum []complex128) []float64 {
	mag := make([]float64, len(spectrum)/2)
	for i := range mag {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	return mag
}

// frameAnalyzer turns fixed-size sample windows into magnitude frames. The
// scratch buffer is reused between calls; returned frames are not.
type frameAnalyzer struct {
	window  []float64
	scratch []float64
}

func newFrameAnalyzer(window []float64) *frameAnalyzer {
	return &frameAnalyzer{window: window, scratch: make([]float64, len(window))}
}

func (a *frameAnalyzer) size() int { return len(a.window) }

func (a *frameAnalyzer) analyze(samples []float64) []float64 {
	for i, w := range a.window {
		a.scratch[i] = samples[i] * w
	}
	return MagnitudeSpectrum(fft.FFTReal(a.scratch))
}

// STFT computes magnitude frames every hopSize samples.
func STFT(samples []float64, windowSize, hopSize int, window []float64) ([][]float64, error) {
	if len(window) != windowSize {
		return nil, fmt.Errorf("stft: %w (%d != %d)", errWindowLength, len(window), windowSize)
	}
	if len(samples) < windowSize {
		return nil, fmt.Errorf("stft: %w", errShortInput)
	}

	an := newFrameAnalyzer(window)
	frames := make([][]float64, 0, (len(samples)-windowSize)/hopSize+1)
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		frames = append(frames, an.analyze(samples[start:]))
	}
	return frames, nil
}

// ComputeSpectrogramFromSamples runs STFT with a Hamming window. Zero sizes
// select WindowSize and HopSize.
func ComputeSpectrogramFromSamples(samples []float64, sampleRate, windowSize, hopSize int) ([][]float64, error) {
	switch {
	case len(samples) == 0:
		return nil, fmt.Errorf("spectrogram: %w", errEmptyInput)
	case sampleRate <= 0:
		return nil, fmt.Errorf("spectrogram: invalid sample rate %d", sampleRate)
	}
	if windowSize == 0 {
		windowSize = WindowSize
	}
	if hopSize == 0 {
		hopSize = HopSize
	}
	return STFT(samples, windowSize, hopSize, Hamming(windowSize))
}
