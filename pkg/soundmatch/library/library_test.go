//go:build !js && !wasm
// +build !js,!wasm

package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

func setupTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_library.sqlite3")
	lib, err := Open(dbPath, WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Failed to open test library: %v", err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib, dbPath
}

// buildSignature gives hash base+i an anchor at i*100ms + shiftMs.
func buildSignature(base uint32, from, to int, shiftMs int) *fingerprint.Signature {
	hashes := make(map[uint32][]uint32)
	for i := from; i < to; i++ {
		hashes[base+uint32(i)] = []uint32{uint32(i*100 + shiftMs)}
	}
	return fingerprint.NewSignature(hashes, time.Duration(to*100)*time.Millisecond, fingerprint.DefaultSampleRate, to-from)
}

func TestOpenCreatesDatabase(t *testing.T) {
	lib, dbPath := setupTestLibrary(t)

	if lib.DB == nil {
		t.Fatal("Expected non-nil GORM DB handle")
	}
	if lib.db == nil {
		t.Fatal("Expected non-nil sql.DB handle")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", dbPath)
	}
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	customPath := filepath.Join(t.TempDir(), "subdir", "custom.db")

	lib, err := Open(customPath, WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Failed to open library with nested path: %v", err)
	}
	defer lib.Close()

	if _, err := os.Stat(customPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", customPath)
	}
}

func TestIsPostgresDSN(t *testing.T) {
	cases := map[string]bool{
		"postgres://user:pw@localhost:5432/music":  true,
		"postgresql://localhost/music?sslmode=off": true,
		"data/library.sqlite3":                     false,
		"/var/lib/soundmatch/postgres.sqlite3":     false,
		"":                                         false,
	}
	for dsn, want := range cases {
		if got := IsPostgresDSN(dsn); got != want {
			t.Errorf("IsPostgresDSN(%q) = %v, want %v", dsn, got, want)
		}
	}
}

func TestRegisterSongIsIdempotent(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	id1, err := lib.RegisterSong("Test Song", "Test Artist", "", 180000)
	if err != nil {
		t.Fatalf("Failed to register song: %v", err)
	}
	if id1 == "" {
		t.Fatal("Expected non-empty song ID")
	}

	id2, err := lib.RegisterSong("Test Song", "Test Artist", "yt123", 180000)
	if err != nil {
		t.Fatalf("Failed to register duplicate song: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Expected same ID for duplicate song, got %s and %s", id1, id2)
	}

	song, err := lib.GetSong(id1)
	if err != nil {
		t.Fatalf("Failed to get song: %v", err)
	}
	if song.YouTubeID != "yt123" {
		t.Errorf("Expected YouTube ID to be filled in, got %q", song.YouTubeID)
	}

	id3, err := lib.RegisterSong("Test Song", "Other Artist", "", 0)
	if err != nil {
		t.Fatalf("Failed to register second song: %v", err)
	}
	if id3 == id1 {
		t.Error("Expected different ID for different artist")
	}
}

func TestGetSongNotFound(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	_, err := lib.GetSong("missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreSignatureAndCount(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	id, err := lib.RegisterSong("Counted", "Artist", "", 0)
	if err != nil {
		t.Fatalf("Failed to register song: %v", err)
	}

	// Large enough to cross the flush threshold.
	sig := buildSignature(1, 0, 2500, 0)
	if err := lib.StoreSignature(id, sig); err != nil {
		t.Fatalf("Failed to store signature: %v", err)
	}

	count, err := lib.FingerprintCount(id)
	if err != nil {
		t.Fatalf("Failed to count fingerprints: %v", err)
	}
	if count != 2500 {
		t.Errorf("Expected 2500 fingerprints, got %d", count)
	}
}

func TestAnchorsByHashesChunksLookups(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	id, _ := lib.RegisterSong("Chunked", "Artist", "", 0)
	if err := lib.StoreSignature(id, buildSignature(10, 0, 1200, 0)); err != nil {
		t.Fatalf("Failed to store signature: %v", err)
	}

	hashes := make([]uint32, 0, 1200)
	for i := 0; i < 1200; i++ {
		hashes = append(hashes, uint32(10+i))
	}
	refs, err := lib.AnchorsByHashes(context.Background(), hashes)
	if err != nil {
		t.Fatalf("Failed to fetch anchors: %v", err)
	}
	if len(refs) != 1200 {
		t.Fatalf("Expected 1200 hashes, got %d", len(refs))
	}
	got := refs[10+700]
	if len(got) != 1 || got[0].RefID != id || got[0].AnchorMs != 70000 {
		t.Errorf("Unexpected anchors for hash %d: %+v", 10+700, got)
	}
}

func TestDeleteSongRemovesFingerprints(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	id, _ := lib.RegisterSong("Doomed", "Artist", "", 0)
	if err := lib.StoreSignature(id, buildSignature(1, 0, 50, 0)); err != nil {
		t.Fatalf("Failed to store signature: %v", err)
	}

	if err := lib.DeleteSong(id); err != nil {
		t.Fatalf("Failed to delete song: %v", err)
	}

	count, _ := lib.FingerprintCount(id)
	if count != 0 {
		t.Errorf("Expected 0 fingerprints after delete, got %d", count)
	}
	songs, _ := lib.ListSongs()
	if len(songs) != 0 {
		t.Errorf("Expected empty library, got %d songs", len(songs))
	}
}

func TestListSongsOrdered(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	lib.RegisterSong("Zebra", "A", "", 0)
	lib.RegisterSong("Alpha", "B", "", 0)

	songs, err := lib.ListSongs()
	if err != nil {
		t.Fatalf("Failed to list songs: %v", err)
	}
	if len(songs) != 2 {
		t.Fatalf("Expected 2 songs, got %d", len(songs))
	}
	if songs[0].Title != "Alpha" || songs[1].Title != "Zebra" {
		t.Errorf("Expected songs ordered by title, got %s, %s", songs[0].Title, songs[1].Title)
	}
}

func TestMatchFindsExcerpt(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	target, _ := lib.RegisterSong("Target", "Artist", "", 0)
	other, _ := lib.RegisterSong("Other", "Artist", "", 0)
	if err := lib.StoreSignature(target, buildSignature(1000, 0, 100, 0)); err != nil {
		t.Fatal(err)
	}
	if err := lib.StoreSignature(other, buildSignature(5000, 0, 100, 0)); err != nil {
		t.Fatal(err)
	}

	// An excerpt starting two seconds into the target.
	hashes := make(map[uint32][]uint32)
	for i := 20; i < 50; i++ {
		hashes[1000+uint32(i)] = []uint32{uint32((i - 20) * 100)}
	}
	query := fingerprint.NewSignature(hashes, 3*time.Second, fingerprint.DefaultSampleRate, 30)

	cands, err := lib.Match(context.Background(), query)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.ID != target || c.ExternalKey != target {
		t.Errorf("Expected target %s, got %s", target, c.ID)
	}
	if c.Score != 30 {
		t.Errorf("Expected score 30, got %d", c.Score)
	}
	if c.OffsetMs < 1980 || c.OffsetMs > 2020 {
		t.Errorf("Expected offset near 2000ms, got %d", c.OffsetMs)
	}
	if c.Confidence <= 50 {
		t.Errorf("Expected high confidence, got %.2f", c.Confidence)
	}
}

func TestMatchBelowMinScore(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	id, _ := lib.RegisterSong("Sparse", "Artist", "", 0)
	lib.StoreSignature(id, buildSignature(1, 0, 100, 0))

	query := buildSignature(1, 0, fingerprint.DefaultMinScore-1, 0)
	cands, err := lib.Match(context.Background(), query)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("Expected no candidates below min score, got %d", len(cands))
	}
}

func TestMatchEmptySignature(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	cands, err := lib.Match(context.Background(), fingerprint.NewSignature(nil, 0, fingerprint.DefaultSampleRate, 0))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if cands != nil {
		t.Errorf("Expected nil candidates, got %v", cands)
	}
}

func TestNilLibrary(t *testing.T) {
	var lib *Library
	if _, err := lib.RegisterSong("a", "b", "", 0); err == nil {
		t.Error("Expected error from nil library")
	}
	if err := lib.DeleteSong("x"); err == nil {
		t.Error("Expected error from nil library")
	}
	if _, err := lib.AddSong("a", "b", "", buildSignature(1, 0, 5, 0)); err == nil {
		t.Error("Expected error from nil library")
	}
	if err := lib.Close(); err != nil {
		t.Errorf("Expected nil error closing nil library, got %v", err)
	}
}

func TestAddSongAgainReplacesFingerprints(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	id1, err := lib.AddSong("Repeat", "Artist", "", buildSignature(1, 0, 40, 0))
	if err != nil {
		t.Fatalf("AddSong failed: %v", err)
	}
	id2, err := lib.AddSong("Repeat", "Artist", "", buildSignature(1, 0, 40, 0))
	if err != nil {
		t.Fatalf("Second AddSong failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Expected same song ID, got %s and %s", id1, id2)
	}
	if count, _ := lib.FingerprintCount(id1); count != 40 {
		t.Errorf("Expected 40 fingerprints after re-add, got %d", count)
	}

	if _, err := lib.AddSong("Repeat", "Artist", "", buildSignature(7, 0, 25, 0)); err != nil {
		t.Fatalf("Third AddSong failed: %v", err)
	}
	if count, _ := lib.FingerprintCount(id1); count != 25 {
		t.Errorf("Expected fingerprints replaced by the new signature (25), got %d", count)
	}

	// Scores reflect one copy of each landmark.
	cands, err := lib.Match(context.Background(), buildSignature(7, 0, 25, 0))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(cands) != 1 || cands[0].Score != 25 {
		t.Errorf("Expected a single candidate scoring 25, got %+v", cands)
	}
}

func TestAddSongFailureLeavesSongsAlone(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	existing, err := lib.AddSong("Kept", "Artist", "", buildSignature(1, 0, 30, 0))
	if err != nil {
		t.Fatalf("AddSong failed: %v", err)
	}

	if err := lib.DB.Migrator().DropTable(&Fingerprint{}); err != nil {
		t.Fatalf("Failed to drop fingerprints table: %v", err)
	}

	if _, err := lib.AddSong("Kept", "Artist", "", buildSignature(2, 0, 30, 0)); err == nil {
		t.Fatal("Expected AddSong to fail without a fingerprints table")
	}
	if _, err := lib.GetSong(existing); err != nil {
		t.Errorf("Existing song should survive a failed re-add: %v", err)
	}

	if _, err := lib.AddSong("Fresh", "Artist", "", buildSignature(3, 0, 30, 0)); err == nil {
		t.Fatal("Expected AddSong to fail without a fingerprints table")
	}
	songs, err := lib.ListSongs()
	if err != nil {
		t.Fatalf("ListSongs failed: %v", err)
	}
	if len(songs) != 1 || songs[0].Title != "Kept" {
		t.Errorf("Expected only the pre-existing song, got %+v", songs)
	}
}
