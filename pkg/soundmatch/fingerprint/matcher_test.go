package fingerprint

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shiftedSignature builds a signature whose n landmarks all sit shiftMs
// after base, so a query at base aligns with it at offset shiftMs.
func shiftedSignature(n int, hashBase uint32, shiftMs uint32) *Signature {
	hashes := make(map[uint32][]uint32, n)
	for i := 0; i < n; i++ {
		hashes[hashBase+uint32(i)] = []uint32{uint32(i)*100 + shiftMs}
	}
	return NewSignature(hashes, 10*time.Second, DefaultSampleRate, n)
}

func TestIndexMatchRanksByScore(t *testing.T) {
	idx := NewIndex(0)
	idx.Insert("strong", shiftedSignature(40, 1000, 0))
	idx.Insert("weak", shiftedSignature(10, 1000, 0))
	idx.Insert("other", shiftedSignature(40, 9000, 0))
	require.Equal(t, 3, idx.Len())

	hits := idx.Match(shiftedSignature(40, 1000, 0))
	require.Len(t, hits, 2)
	assert.Equal(t, "strong", hits[0].RefID)
	assert.Equal(t, 40, hits[0].Score)
	assert.Equal(t, "weak", hits[1].RefID)
	assert.Equal(t, 10, hits[1].Score)
	assert.Equal(t, 100.0, hits[0].Confidence)
}

func TestIndexMatchTiesBrokenByRefID(t *testing.T) {
	idx := NewIndex(0)
	idx.Insert("b", shiftedSignature(20, 1, 0))
	idx.Insert("a", shiftedSignature(20, 1, 0))

	hits := idx.Match(shiftedSignature(20, 1, 0))
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].RefID)
	assert.Equal(t, "b", hits[1].RefID)
}

func TestIndexMatchRequiresMinimumScore(t *testing.T) {
	idx := NewIndex(0)
	idx.Insert("tiny", shiftedSignature(DefaultMinScore-1, 1, 0))
	assert.Empty(t, idx.Match(shiftedSignature(DefaultMinScore-1, 1, 0)))

	strict := NewIndex(50)
	strict.Insert("ref", shiftedSignature(40, 1, 0))
	assert.Empty(t, strict.Match(shiftedSignature(40, 1, 0)))
}

func TestIndexMatchReportsOffset(t *testing.T) {
	idx := NewIndex(0)
	idx.Insert("ref", shiftedSignature(30, 1, 4992))

	hits := idx.Match(shiftedSignature(30, 1, 0))
	require.Len(t, hits, 1)
	assert.InDelta(t, 4992, hits[0].OffsetMs, frameMs(DefaultSampleRate))
}

func TestIndexMatchEmptyQuery(t *testing.T) {
	idx := NewIndex(0)
	idx.Insert("ref", shiftedSignature(30, 1, 0))
	assert.Nil(t, idx.Match(nil))
	assert.Nil(t, idx.Match(NewSignature(nil, 0, DefaultSampleRate, 0)))
}

func TestIndexRecognizesExcerpt(t *testing.T) {
	track := synthTrack(1, 20, testRate)
	decoy := synthTrack(2, 20, testRate)

	refGen := NewGenerator()
	require.NoError(t, refGen.Append(monoBuf(track), 0))
	decoyGen := NewGenerator()
	require.NoError(t, decoyGen.Append(monoBuf(decoy), 0))

	idx := NewIndex(0)
	idx.Insert("track", refGen.Current())
	idx.Insert("decoy", decoyGen.Current())

	// Start on a hop boundary so the excerpt's frames line up with the reference.
	const startFrame = 215
	start := startFrame * HopSize
	excerpt := track[start : start+7*testRate]

	q := NewGenerator()
	require.NoError(t, q.Append(monoBuf(excerpt), 0))

	hits := idx.Match(q.Current())
	require.NotEmpty(t, hits)
	assert.Equal(t, "track", hits[0].RefID)
	if len(hits) > 1 {
		assert.Greater(t, hits[0].Score, 5*hits[1].Score)
	}

	wantOffset := math.Round(float64(startFrame) * frameMs(testRate))
	assert.InDelta(t, wantOffset, hits[0].OffsetMs, frameMs(testRate))
	assert.Greater(t, hits[0].Confidence, 50.0)
}

func TestVoteOffsets(t *testing.T) {
	query := shiftedSignature(10, 1, 0)
	refs := make(map[uint32][]RefAnchor)
	for i := 0; i < 10; i++ {
		refs[uint32(1+i)] = []RefAnchor{{RefID: "song", AnchorMs: uint32(i)*100 + 2000}}
	}
	refs[1] = append(refs[1], RefAnchor{RefID: "noise", AnchorMs: 7})

	votes := VoteOffsets(query, refs)
	require.Contains(t, votes, "song")
	assert.Equal(t, 10, votes["song"].Score)
	assert.InDelta(t, 2000, votes["song"].OffsetMs, frameMs(DefaultSampleRate))
	assert.Equal(t, 1, votes["noise"].Score)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(0, 100, 100))
	assert.Equal(t, 0.0, Confidence(10, 0, 100))
	assert.Equal(t, 0.0, Confidence(10, 100, 0))

	assert.InDelta(t, 50.0, Confidence(15, 100, 1000), 0.001)
	assert.Equal(t, 100.0, Confidence(100, 100, 100))

	low := Confidence(2, 10, 10)
	assert.Less(t, low, Confidence(5, 10, 10))

	for _, c := range []float64{Confidence(1, 1000, 1000), Confidence(50, 100, 100), Confidence(300, 400, 300)} {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 100.0)
	}
}
