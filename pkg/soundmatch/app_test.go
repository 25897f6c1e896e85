//go:build !js && !wasm
// +build !js,!wasm

package soundmatch

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/catalog"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/session"
)

func writeMelody(t *testing.T, path string, seed int64, seconds float64) {
	t.Helper()
	const rate = fingerprint.DefaultSampleRate

	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * rate)
	ints := make([]int, n)
	var f1, f2 float64
	for i := 0; i < n; i++ {
		if i%(rate/4) == 0 {
			f1 = 300 + rng.Float64()*900
			f2 = 1400 + rng.Float64()*1800
		}
		ts := float64(i) / rate
		v := 0.5*math.Sin(2*math.Pi*f1*ts) + 0.3*math.Sin(2*math.Pi*f2*ts) + 0.01*(rng.Float64()*2-1)
		ints[i] = int(v * 32767)
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           ints,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func newTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	base := []Option{
		WithDataDir(t.TempDir()),
		WithTempDir(t.TempDir()),
		WithLogger(logger.Discard()),
	}
	app, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func recognize(t *testing.T, app *App, path string) session.Status {
	t.Helper()
	s := app.NewSession()
	defer s.Close()

	_, err := s.RecognizeFromFile(context.Background(), path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := s.Await(ctx)
	require.NoError(t, err)
	return st
}

func TestNewCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp(t, WithDataDir(dir))

	assert.FileExists(t, filepath.Join(dir, historyFile))
	assert.DirExists(t, filepath.Join(dir, catalogsDir))
	assert.Equal(t, filepath.Join(dir, "library.sqlite3"), app.Config().LibraryDSN)
	assert.False(t, app.Dispatcher().UsingCatalog())
}

func TestAddReferenceAndRecognize(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "target.wav")
	other := filepath.Join(dir, "other.wav")
	writeMelody(t, target, 1, 6)
	writeMelody(t, other, 2, 6)

	id, err := app.AddReference(context.Background(), target, "Target", "Band", "")
	require.NoError(t, err)
	_, err = app.AddReference(context.Background(), other, "Other", "Band", "")
	require.NoError(t, err)

	songs, err := app.Library().ListSongs()
	require.NoError(t, err)
	assert.Len(t, songs, 2)

	st := recognize(t, app, target)
	require.Equal(t, session.Matched, st.State, "err: %v", st.Err)
	assert.Equal(t, id, st.Result.Best.ID)
	assert.Equal(t, models.SourceLibrary, st.Result.Source)

	recs, err := app.History().FetchAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Target", recs[0].Title)
	assert.False(t, recs[0].FromCatalog)

	// A second recognition of the same song updates the existing record.
	recognize(t, app, target)
	recs, err = app.History().FetchAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].PlayCount)
}

func TestRecognizeUnknownIsNoMatch(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	known := filepath.Join(dir, "known.wav")
	unknown := filepath.Join(dir, "unknown.wav")
	writeMelody(t, known, 3, 5)
	writeMelody(t, unknown, 4, 5)

	_, err := app.AddReference(context.Background(), known, "Known", "Band", "")
	require.NoError(t, err)

	st := recognize(t, app, unknown)
	assert.Equal(t, session.NoMatch, st.State)

	n, err := app.History().Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCatalogRouting(t *testing.T) {
	app := newTestApp(t, WithPreferCatalog(true))
	clip := filepath.Join(t.TempDir(), "clip.wav")
	writeMelody(t, clip, 5, 6)

	meta, err := app.Catalogs().Create("Road trip", "songs from the car")
	require.NoError(t, err)
	entry, err := app.AddCatalogItem(context.Background(), meta.ID, clip, catalog.ItemInput{
		Title:  "Highway",
		Artist: "Drivers",
		Genres: []string{"rock"},
	})
	require.NoError(t, err)

	// Not loaded yet: the library answers and knows nothing.
	assert.False(t, app.Dispatcher().UsingCatalog())
	assert.Equal(t, session.NoMatch, recognize(t, app, clip).State)

	report, err := app.UseCatalog(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	assert.True(t, app.Dispatcher().UsingCatalog())

	st := recognize(t, app, clip)
	require.Equal(t, session.Matched, st.State, "err: %v", st.Err)
	assert.Equal(t, entry.ID, st.Result.Best.ID)
	assert.Equal(t, models.SourceCatalog, st.Result.Source)
	assert.Equal(t, "Road trip", st.Result.CatalogName)

	recs, err := app.History().FetchAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].FromCatalog)
	assert.Equal(t, []string{"rock"}, recs[0].Genres)

	_, err = app.UseCatalog("")
	require.NoError(t, err)
	assert.False(t, app.Dispatcher().UsingCatalog())
}

func TestDeletedCatalogRoutesToLibrary(t *testing.T) {
	app := newTestApp(t, WithPreferCatalog(true))
	clip := filepath.Join(t.TempDir(), "clip.wav")
	writeMelody(t, clip, 8, 6)

	_, err := app.AddReference(context.Background(), clip, "Library Song", "Library Artist", "")
	require.NoError(t, err)

	meta, err := app.Catalogs().Create("Gone soon", "")
	require.NoError(t, err)
	_, err = app.UseCatalog(meta.ID)
	require.NoError(t, err)
	require.True(t, app.Dispatcher().UsingCatalog())

	require.NoError(t, app.Catalogs().Delete(meta.ID))
	assert.False(t, app.Dispatcher().UsingCatalog())

	st := recognize(t, app, clip)
	require.Equal(t, session.Matched, st.State, "err: %v", st.Err)
	assert.Equal(t, models.SourceLibrary, st.Result.Source)
	assert.Equal(t, "Library Song", st.Result.Best.Title)
}

func TestUseCatalogMissing(t *testing.T) {
	app := newTestApp(t)
	_, err := app.UseCatalog("nope")
	assert.ErrorIs(t, err, models.ErrCatalogNotFound)
	assert.False(t, app.Dispatcher().UsingCatalog())
}

func TestAddCatalogItemFillsTitleFromFilename(t *testing.T) {
	app := newTestApp(t)
	clip := filepath.Join(t.TempDir(), "Morning Song.wav")
	writeMelody(t, clip, 6, 3)

	meta, err := app.Catalogs().Create("Tags", "")
	require.NoError(t, err)
	entry, err := app.AddCatalogItem(context.Background(), meta.ID, clip, catalog.ItemInput{})
	require.NoError(t, err)
	assert.Equal(t, "Morning Song", entry.Title)
}

func TestAddReferenceBadFile(t *testing.T) {
	app := newTestApp(t)
	bad := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(bad, []byte("not audio"), 0o644))

	_, err := app.AddReference(context.Background(), bad, "Bad", "File", "")
	assert.ErrorIs(t, err, models.ErrGenerationFailure)

	songs, err := app.Library().ListSongs()
	require.NoError(t, err)
	assert.Empty(t, songs)
}
