package fingerprint

import (
	"cmp"
	"math"
	"slices"
)

type Peak struct {
	TimeIdx int
	FreqIdx int
	Time    float64
	Freq    float64
	MagDB   float64
}

const (
	freqNeighbour = 3
	minDbAboveAvg = 3.0
	eps           = 1e-10
)

// logBands splits nBins into a low band of 10 bins followed by octave bands.
func logBands(nBins int) [][2]int {
	bands := [][2]int{{0, min(10, nBins)}}
	for start := 10; start < nBins; start *= 2 {
		end := min(start*2, nBins)
		bands = append(bands, [2]int{start, end})
		if end == nBins {
			break
		}
	}
	return bands
}

func ExtractPeaks(spectrogram [][]float64, sampleRate int) []Peak {
	if len(spectrogram) == 0 || len(spectrogram[0]) == 0 {
		return nil
	}

	nFrames := len(spectrogram)
	bands := logBands(len(spectrogram[0]))
	peaks := make([]Peak, 0, nFrames*2)

	for t := 0; t < nFrames; t++ {
		var prev, next []float64
		if t > 0 {
			prev = spectrogram[t-1]
		}
		if t+1 < nFrames {
			next = spectrogram[t+1]
		}
		peaks = append(peaks, framePeaks(prev, spectrogram[t], next, t, bands, sampleRate)...)
	}

	sortPeaks(peaks)
	return peaks
}

// framePeaks picks the strongest bin per band in cur, keeps those clearly
// above the frame's band average, and drops any that are not a local maximum
// across the neighbouring frames. prev and next are nil at the edges.
func framePeaks(prev, cur, next []float64, t int, bands [][2]int, sampleRate int) []Peak {
	type pick struct {
		bin int
		mag float64
	}
	picks := make([]pick, len(bands))
	var sumDb float64
	for i, b := range bands {
		p := pick{bin: b[0]}
		for bin := b[0]; bin < min(b[1], len(cur)); bin++ {
			if cur[bin] > p.mag {
				p = pick{bin: bin, mag: cur[bin]}
			}
		}
		picks[i] = p
		sumDb += toDB(p.mag)
	}
	threshold := sumDb/float64(len(picks)) + minDbAboveAvg

	binHz := float64(sampleRate) / WindowSize
	at := float64(t) * HopSize / float64(sampleRate)

	var peaks []Peak
	for _, p := range picks {
		db := toDB(p.mag)
		if p.mag <= 0 || db < threshold || !isLocalMax(p.mag, p.bin, prev, cur, next) {
			continue
		}
		peaks = append(peaks, Peak{TimeIdx: t, FreqIdx: p.bin, Time: at, Freq: float64(p.bin) * binHz, MagDB: db})
	}
	return peaks
}

func toDB(mag float64) float64 { return 20 * math.Log10(mag+eps) }

func isLocalMax(mag float64, bin int, frames ...[]float64) bool {
	for fi, frame := range frames {
		if frame == nil {
			continue
		}
		lo, hi := max(bin-freqNeighbour, 0), min(bin+freqNeighbour, len(frame)-1)
		for f := lo; f <= hi; f++ {
			// frames[1] holds the candidate itself
			if fi == 1 && f == bin {
				continue
			}
			if frame[f] > mag {
				return false
			}
		}
	}
	return true
}

func sortPeaks(peaks []Peak) {
	slices.SortFunc(peaks, func(a, b Peak) int {
		if c := cmp.Compare(a.TimeIdx, b.TimeIdx); c != 0 {
			return c
		}
		return cmp.Compare(a.FreqIdx, b.FreqIdx)
	})
}

// StrongestPeaks runs the spectrogram and peak picker over mono samples and
// returns the peaks loudest first, ties broken by time.
func StrongestPeaks(samples []float64, sampleRate int) ([]Peak, error) {
	spec, err := ComputeSpectrogramFromSamples(samples, sampleRate, 0, 0)
	if err != nil {
		return nil, err
	}
	peaks := ExtractPeaks(spec, sampleRate)
	slices.SortStableFunc(peaks, func(a, b Peak) int {
		return cmp.Compare(b.MagDB, a.MagDB)
	})
	return peaks, nil
}
