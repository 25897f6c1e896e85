package fingerprint

import (
	"math"
)

const (
	MaxFreqBits  = 9
	MaxDeltaBits = 14
	FanOut       = 6
	MinDeltaMs   = 10
	MaxDeltaMs   = 15000
)

// createAddress packs anchor frequency, target frequency and the time delta
// between them into one 32-bit landmark hash.
func createAddress(anchor Peak, target Peak) (uint32, bool) {
	anchorFreqVal := uint32(anchor.FreqIdx)
	targetFreqVal := uint32(target.FreqIdx)

	deltaMs := uint32(math.Round((target.Time - anchor.Time) * 1000.0))

	if deltaMs < MinDeltaMs || deltaMs > MaxDeltaMs {
		return 0, false
	}

	maxFreqMask := uint32((1 << MaxFreqBits) - 1)
	maxDeltaMask := uint32((1 << MaxDeltaBits) - 1)

	if anchorFreqVal > maxFreqMask || targetFreqVal > maxFreqMask {
		return 0, false
	}
	if deltaMs > maxDeltaMask {
		return 0, false
	}

	shiftTarget := MaxDeltaBits
	shiftAnchor := MaxDeltaBits + MaxFreqBits

	address := (anchorFreqVal << shiftAnchor) | (targetFreqVal << shiftTarget) | (deltaMs & maxDeltaMask)
	return address, true
}

// Landmarks pairs every peak with up to FanOut later peaks inside the
// allowed delta window and returns hash -> anchor times in milliseconds.
// peaks must already be sorted by time.
func Landmarks(peaks []Peak) map[uint32][]uint32 {
	out := make(map[uint32][]uint32)
	for i := 0; i < len(peaks); i++ {
		anchor := peaks[i]
		anchorMs := uint32(math.Round(anchor.Time * 1000.0))
		paired := 0
		for j := i + 1; j < len(peaks) && paired < FanOut; j++ {
			addr, ok := createAddress(anchor, peaks[j])
			if !ok {
				continue
			}
			out[addr] = append(out[addr], anchorMs)
			paired++
		}
	}
	return out
}
