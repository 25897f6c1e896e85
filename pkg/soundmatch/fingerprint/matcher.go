package fingerprint

import (
	"math"
	"sort"
	"sync"
)

// DefaultMinScore is the smallest number of time-aligned landmarks accepted
// as a candidate. Below this, hash collisions dominate.
const DefaultMinScore = 5

// Hit is one reference that aligned with a query.
type Hit struct {
	RefID      string
	Score      int
	OffsetMs   int32
	Confidence float64
}

type posting struct {
	ref      int32
	anchorMs uint32
}

// Index is an in-memory inverted index from landmark hash to reference
// anchors. References can be inserted but not removed; rebuild the index to
// drop one. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	minScore int
	buckets  map[uint32][]posting
	refs     []string
	refSize  []int
	refByID  map[string]int32
}

func NewIndex(minScore int) *Index {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Index{
		minScore: minScore,
		buckets:  make(map[uint32][]posting),
		refByID:  make(map[string]int32),
	}
}

// Insert adds every landmark of sig under refID. Inserting the same refID
// twice merges the landmarks.
func (x *Index) Insert(refID string, sig *Signature) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ref, ok := x.refByID[refID]
	if !ok {
		ref = int32(len(x.refs))
		x.refs = append(x.refs, refID)
		x.refSize = append(x.refSize, 0)
		x.refByID[refID] = ref
	}
	for h, anchors := range sig.hashes {
		for _, a := range anchors {
			x.buckets[h] = append(x.buckets[h], posting{ref: ref, anchorMs: a})
		}
	}
	x.refSize[ref] += sig.landmarks
}

// Len returns the number of references in the index.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.refs)
}

// Match votes every query landmark against the index and returns the
// references whose best time alignment reaches the minimum score, ranked by
// score (ties by reference id).
func (x *Index) Match(query *Signature) []Hit {
	if query == nil || query.landmarks == 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	bin := frameMs(query.sampleRate)
	votes := make(map[int32]map[int32]int)
	for h, qAnchors := range query.hashes {
		bucket := x.buckets[h]
		if len(bucket) == 0 {
			continue
		}
		for _, qa := range qAnchors {
			for _, p := range bucket {
				off := alignBin(int64(p.anchorMs)-int64(qa), bin)
				m := votes[p.ref]
				if m == nil {
					m = make(map[int32]int)
					votes[p.ref] = m
				}
				m[off]++
			}
		}
	}

	hits := make([]Hit, 0, len(votes))
	for ref, offsets := range votes {
		bestOff, bestCount := bestAlignment(offsets)
		if bestCount < x.minScore {
			continue
		}
		hits = append(hits, Hit{
			RefID:      x.refs[ref],
			Score:      bestCount,
			OffsetMs:   int32(math.Round(float64(bestOff) * bin)),
			Confidence: Confidence(bestCount, query.landmarks, x.refSize[ref]),
		})
	}
	RankHits(hits)
	return hits
}

// RankHits orders hits by score descending, then by reference id.
func RankHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].RefID < hits[j].RefID
	})
}

// VoteOffsets performs the same alignment voting as Index.Match against a
// set of reference anchors fetched elsewhere (e.g. from a database).
// refs maps hash -> reference anchors keyed by reference id.
func VoteOffsets(query *Signature, refs map[uint32][]RefAnchor) map[string]Hit {
	bin := frameMs(query.sampleRate)
	votes := make(map[string]map[int32]int)
	for h, qAnchors := range query.hashes {
		for _, qa := range qAnchors {
			for _, r := range refs[h] {
				off := alignBin(int64(r.AnchorMs)-int64(qa), bin)
				m := votes[r.RefID]
				if m == nil {
					m = make(map[int32]int)
					votes[r.RefID] = m
				}
				m[off]++
			}
		}
	}
	out := make(map[string]Hit, len(votes))
	for id, offsets := range votes {
		bestOff, bestCount := bestAlignment(offsets)
		out[id] = Hit{RefID: id, Score: bestCount, OffsetMs: int32(math.Round(float64(bestOff) * bin))}
	}
	return out
}

// RefAnchor is one stored occurrence of a hash in a reference.
type RefAnchor struct {
	RefID    string
	AnchorMs uint32
}

// frameMs is the STFT hop length in milliseconds. Offsets are voted in whole
// hops so millisecond rounding of anchor times does not split votes.
func frameMs(sampleRate int) float64 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return float64(HopSize) * 1000.0 / float64(sampleRate)
}

func bestAlignment(offsets map[int32]int) (int32, int) {
	bestOff, bestCount := int32(0), 0
	for off, cnt := range offsets {
		if cnt > bestCount || (cnt == bestCount && off < bestOff) {
			bestCount = cnt
			bestOff = off
		}
	}
	return bestOff, bestCount
}

func alignBin(offsetMs int64, bin float64) int32 {
	return int32(math.Round(float64(offsetMs) / bin))
}

// Confidence maps an aligned landmark count to a 0-100 score, relative to
// the smaller of the query and reference landmark counts.
func Confidence(matchCount, queryCount, refCount int) float64 {
	if matchCount == 0 || queryCount == 0 || refCount == 0 {
		return 0.0
	}

	minCount := queryCount
	if refCount < minCount {
		minCount = refCount
	}

	ratio := float64(matchCount) / float64(minCount)

	// Logistic curve: 15% aligned gives 50% confidence.
	const (
		steepness = 20.0
		midpoint  = 0.15
	)

	exponent := -steepness * (ratio - midpoint)
	confidence := 100.0 / (1.0 + math.Exp(exponent))

	if ratio > 0.30 {
		boost := (ratio - 0.30) * 50
		confidence = math.Min(100.0, confidence+boost)
	}

	// Very low match counts are unreliable
	if matchCount < 5 {
		confidence *= float64(matchCount) / 5.0
	}

	return confidence
}
