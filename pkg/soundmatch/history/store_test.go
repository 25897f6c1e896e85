package history

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
)

var epoch = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.sqlite3"),
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return epoch }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func key(s string) *string { return &s }

func record(title, artist string, at time.Time, genres ...string) models.HistoryRecord {
	return models.HistoryRecord{Title: title, Artist: artist, MatchedAt: at, Genres: genres}
}

func TestAddDeduplicatesByExternalKey(t *testing.T) {
	s := setupTestStore(t)

	a := record("Song A", "Artist A", epoch)
	a.ExternalKey = key("X")
	first, err := s.Add(a)
	require.NoError(t, err)
	assert.Equal(t, 1, first.PlayCount)

	b := record("Song A (live)", "Artist A", epoch.Add(time.Hour))
	b.ExternalKey = key("X")
	second, err := s.Add(b)
	require.NoError(t, err)

	n, err := s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.PlayCount)
	assert.True(t, second.MatchedAt.Equal(epoch.Add(time.Hour)))
	assert.Equal(t, "Song A", second.Title, "dedup keeps the original metadata")

	found, err := s.FindByExternalKey("X")
	require.NoError(t, err)
	assert.Equal(t, 2, found.PlayCount)
}

func TestAddWithoutKeyAlwaysInserts(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Add(record("Song", "Artist", epoch))
	require.NoError(t, err)
	r := record("Song", "Artist", epoch)
	r.ExternalKey = key("")
	_, err = s.Add(r)
	require.NoError(t, err)

	n, err := s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestAddDefaultsMatchedAt(t *testing.T) {
	s := setupTestStore(t)
	rec, err := s.Add(models.HistoryRecord{Title: "Now"})
	require.NoError(t, err)
	assert.True(t, rec.MatchedAt.Equal(epoch))
	assert.NotEmpty(t, rec.ID)
}

func TestRecordMatch(t *testing.T) {
	s := setupTestStore(t)

	res := models.MatchResult{
		Best: models.Candidate{
			ID: "entry-1", ExternalKey: "entry-1", Title: "Song A", Artist: "Artist A",
			Genres: []string{"Jazz"}, OffsetMs: 1200, Confidence: 87.5,
		},
		MatchedAt:   epoch,
		Source:      models.SourceCatalog,
		CatalogName: "Road Trip",
	}
	rec, err := s.RecordMatch(res)
	require.NoError(t, err)
	assert.True(t, rec.FromCatalog)
	assert.Equal(t, "Road Trip", rec.CatalogName)
	assert.Equal(t, int32(1200), rec.MatchOffsetMs)

	rec, err = s.RecordMatch(res)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PlayCount)

	got, err := s.FindByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Jazz"}, got.Genres)
	require.NotNil(t, got.ExternalKey)
	assert.Equal(t, "entry-1", *got.ExternalKey)
}

func TestFindMissing(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.FindByID("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.FindByExternalKey("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFetchOrdering(t *testing.T) {
	s := setupTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Add(record("Song", "Artist", epoch.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	recent, err := s.FetchRecent(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i-1].MatchedAt.After(recent[i].MatchedAt))
	}
	assert.True(t, recent[0].MatchedAt.Equal(epoch.Add(4*time.Hour)))

	all, err := s.FetchAll()
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := s.FetchRecent(0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestToggleFavoriteAndFetchFavorites(t *testing.T) {
	s := setupTestStore(t)
	a, err := s.Add(record("A", "X", epoch))
	require.NoError(t, err)
	_, err = s.Add(record("B", "Y", epoch))
	require.NoError(t, err)

	a, err = s.ToggleFavorite(a.ID)
	require.NoError(t, err)
	assert.True(t, a.IsFavorite)

	favs, err := s.FetchFavorites()
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, a.ID, favs[0].ID)

	a, err = s.ToggleFavorite(a.ID)
	require.NoError(t, err)
	assert.False(t, a.IsFavorite)

	_, err = s.ToggleFavorite("ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateNoteAndPlayCount(t *testing.T) {
	s := setupTestStore(t)
	rec, err := s.Add(record("A", "X", epoch))
	require.NoError(t, err)

	rec, err = s.UpdateNote(rec.ID, "heard at the cafe")
	require.NoError(t, err)
	require.NotNil(t, rec.UserNote)
	assert.Equal(t, "heard at the cafe", *rec.UserNote)

	rec, err = s.UpdateNote(rec.ID, "")
	require.NoError(t, err)
	assert.Nil(t, rec.UserNote)

	rec, err = s.IncrementPlayCount(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PlayCount)
	require.NotNil(t, rec.LastPlayedAt)
	assert.True(t, rec.LastPlayedAt.Equal(epoch))
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	s := setupTestStore(t)
	rec, err := s.Add(record("A", "X", epoch))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementPlayCount(rec.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.FindByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 21, got.PlayCount)
}

func TestDeleteVariants(t *testing.T) {
	s := setupTestStore(t)
	var ids []string
	for i := 0; i < 4; i++ {
		r, err := s.Add(record("Song", "Artist", epoch))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	require.NoError(t, s.Delete(ids[0]))
	require.NoError(t, s.DeleteBatch(ids[1:3]))
	n, err := s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.DeleteAll())
	n, err = s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestSearch(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Add(record("Hyperballad", "Björk", epoch, "Electronic"))
	require.NoError(t, err)
	_, err = s.Add(record("Die Straße", "Kraftwerk", epoch, "Krautrock"))
	require.NoError(t, err)
	_, err = s.Add(record("So What", "Miles Davis", epoch, "Jazz", "Modal"))
	require.NoError(t, err)

	cases := map[string]int{
		"BJÖRK":   1,
		"strasse": 1,
		"modal":   1,
		"o":       3,
		"  ":      3,
		"polka":   0,
	}
	for q, want := range cases {
		got, err := s.Search(q)
		require.NoError(t, err)
		assert.Len(t, got, want, "query %q", q)
	}
}

func TestGroupedByDate(t *testing.T) {
	s := setupTestStore(t)
	loc := time.FixedZone("UTC+2", 2*3600)

	// 23:30 UTC is already the next day in UTC+2
	times := []time.Time{
		time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
	}
	for _, at := range times {
		_, err := s.Add(record("Song", "Artist", at))
		require.NoError(t, err)
	}

	groups, err := s.GroupedByDate(loc)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, 10, groups[0].Day.Day())
	assert.Len(t, groups[0].Records, 2)
	assert.Equal(t, 9, groups[1].Day.Day())
	assert.Len(t, groups[1].Records, 1)
}

func TestStatistics(t *testing.T) {
	s := setupTestStore(t)
	add := func(artist string, at time.Time, genres ...string) {
		_, err := s.Add(record("Song", artist, at, genres...))
		require.NoError(t, err)
	}
	add("Miles Davis", epoch, "Jazz")
	add("Miles Davis", epoch.AddDate(0, 0, -10), "Jazz", "Modal")
	add("Björk", epoch.AddDate(0, 0, -40), "Electronic")

	genres, err := s.GenreStatistics()
	require.NoError(t, err)
	require.Len(t, genres, 3)
	assert.Equal(t, Stat{Name: "Jazz", Count: 2}, genres[0])
	assert.Equal(t, "Electronic", genres[1].Name)

	artists, err := s.ArtistStatistics()
	require.NoError(t, err)
	require.Len(t, artists, 2)
	assert.Equal(t, Stat{Name: "Miles Davis", Count: 2}, artists[0])

	period, err := s.PeriodStatistics(epoch)
	require.NoError(t, err)
	assert.Equal(t, PeriodStats{Last7Days: 1, Last30Days: 2, AllTime: 3}, period)
}

func TestExportJSON(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Add(record("A", "X", epoch, "Jazz"))
	require.NoError(t, err)
	_, err = s.Add(record("B", "Y", epoch))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.ExportJSON(&buf))

	var out []models.HistoryRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Len(t, out, 2)
}

func TestSubscribersSeeOnlyCommittedWrites(t *testing.T) {
	s := setupTestStore(t)

	var events []Event
	cancel := s.Subscribe(func(ev Event) { events = append(events, ev) })

	a := record("A", "X", epoch)
	a.ExternalKey = key("k")
	_, err := s.Add(a)
	require.NoError(t, err)
	_, err = s.Add(a)
	require.NoError(t, err)

	_, err = s.ToggleFavorite("ghost")
	require.Error(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventAdded, events[0].Kind)
	assert.Equal(t, EventUpdated, events[1].Kind)
	assert.Equal(t, 2, events[1].Records[0].PlayCount)

	cancel()
	require.NoError(t, s.DeleteAll())
	assert.Len(t, events, 2)
}

func TestFailedWriteSurfacesPersistenceError(t *testing.T) {
	s := setupTestStore(t)

	notified := false
	s.Subscribe(func(Event) { notified = true })

	require.NoError(t, s.Close())
	_, err := s.Add(record("A", "X", epoch))
	assert.ErrorIs(t, err, models.ErrHistoryPersistence)
	assert.False(t, notified)
}
