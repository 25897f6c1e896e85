package models

import "time"

// Candidate is one ranked entry returned by a recognition provider.
type Candidate struct {
	ID          string   // Reference ID (catalog entry or library song)
	ExternalKey string   // Provider-stable key used for history dedup
	Title       string   // Song title
	Artist      string   // Artist name
	Genres      []string // Genre list, may be empty
	ArtworkURL  string   // Artwork reference, may be empty
	Score       int      // Number of aligned fingerprint hashes
	OffsetMs    int32    // Reference time minus query time, in milliseconds
	Confidence  float64  // Match confidence as a percentage (0-100)
	CatalogID   string   // Set when the candidate came from a local catalog
}

// MatchResult is the outcome of one successful match dispatch. It is not
// persisted directly; it is the input to a history write.
type MatchResult struct {
	Best        Candidate
	Candidates  []Candidate
	MatchedAt   time.Time
	Source      string // "catalog" or "library"
	CatalogName string
}

// Matched reports whether any candidate was found.
func (r MatchResult) Matched() bool { return len(r.Candidates) > 0 }

// Source tags reported by the dispatcher.
const (
	SourceCatalog = "catalog"
	SourceLibrary = "library"
)

// Song represents a song entry in the reference library.
type Song struct {
	ID         string // Database ID (UUID)
	Title      string // Song title
	Artist     string // Artist name
	YouTubeID  string // YouTube video ID (if available)
	DurationMs int    // Duration in milliseconds
}
