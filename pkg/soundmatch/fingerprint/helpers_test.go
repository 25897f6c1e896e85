package fingerprint

import (
	"math"
	"math/rand"
)

// synthTrack renders a deterministic melody of two simultaneous tones that
// change every quarter second, over a faint noise floor.
func synthTrack(seed int64, seconds float64, rate int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * float64(rate))
	out := make([]float64, n)
	step := rate / 4

	var f1, f2 float64
	for i := 0; i < n; i++ {
		if i%step == 0 {
			f1 = 300 + rng.Float64()*900
			f2 = 1400 + rng.Float64()*1800
		}
		ts := float64(i) / float64(rate)
		out[i] = 0.5*math.Sin(2*math.Pi*f1*ts) + 0.3*math.Sin(2*math.Pi*f2*ts) + 0.01*(rng.Float64()*2-1)
	}
	return out
}
