//go:build !js && !wasm
// +build !js,!wasm

// Package soundmatch wires the recognition components together behind one
// explicit context object.
package soundmatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/audio"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/catalog"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/dispatch"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/history"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/library"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/session"
	"github.com/himanishpuri/soundmatch/pkg/utils"
)

const (
	catalogsDir = "catalogs"
	historyFile = "history.sqlite3"
)

// App owns the stores, the reference library and the dispatcher.
type App struct {
	cfg        *Config
	log        Logger
	catalogs   *catalog.Store
	history    *history.Store
	library    *library.Library
	dispatcher *dispatch.Dispatcher
}

func New(opts ...Option) (*App, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if err := utils.MakeDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if cfg.LibraryDSN == "" {
		cfg.LibraryDSN = filepath.Join(cfg.DataDir, library.DefaultDBFile)
	}

	a := &App{cfg: cfg, log: cfg.Logger}

	var err error
	a.catalogs, err = catalog.Open(filepath.Join(cfg.DataDir, catalogsDir),
		catalog.WithLogger(cfg.Logger), catalog.WithMinScore(cfg.MinScore))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogs: %w", err)
	}

	a.history, err = history.Open(filepath.Join(cfg.DataDir, historyFile), history.WithLogger(cfg.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	a.library, err = library.Open(cfg.LibraryDSN, library.WithLogger(cfg.Logger), library.WithMinScore(cfg.MinScore))
	if err != nil {
		a.history.Close()
		return nil, fmt.Errorf("failed to open library: %w", err)
	}

	a.dispatcher = dispatch.New(a.library,
		dispatch.WithLogger(cfg.Logger),
		dispatch.WithOfflineMode(cfg.OfflineMode),
		dispatch.WithPreferCatalog(cfg.PreferCatalog))

	return a, nil
}

func (a *App) Config() Config                   { return *a.cfg }
func (a *App) Catalogs() *catalog.Store         { return a.catalogs }
func (a *App) History() *history.Store          { return a.history }
func (a *App) Library() *library.Library        { return a.library }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

func (a *App) openOptions() audio.OpenOptions {
	return audio.OpenOptions{TempDir: a.cfg.TempDir, SampleRate: a.cfg.SampleRate}
}

// GenerateSignature fingerprints a whole audio file.
func (a *App) GenerateSignature(ctx context.Context, path string) (*fingerprint.Signature, error) {
	return fingerprint.GenerateFromFile(ctx, path, a.openOptions(), fingerprint.WithTargetRate(a.cfg.SampleRate))
}

// NewSession returns a session matching through the app's dispatcher and
// recording matches in history. opts are applied last.
func (a *App) NewSession(opts ...session.Option) *session.Session {
	rate := a.cfg.SampleRate
	base := []session.Option{
		session.WithLogger(a.cfg.Logger),
		session.WithRecorder(a.history),
		session.WithFileGenerator(a.GenerateSignature),
		session.WithGeneratorFactory(func() session.SignatureGenerator {
			return fingerprint.NewGenerator(fingerprint.WithTargetRate(rate))
		}),
	}
	return session.New(a.dispatcher, append(base, opts...)...)
}

// UseCatalog loads catalog id and points the dispatcher at it. An empty id
// unloads the active catalog.
func (a *App) UseCatalog(id string) (catalog.LoadReport, error) {
	if id == "" {
		a.catalogs.Unload()
		a.dispatcher.Configure(nil)
		return catalog.LoadReport{}, nil
	}
	report, err := a.catalogs.Load(id)
	if err != nil {
		return report, err
	}
	a.dispatcher.Configure(a.catalogs)
	if report.Skipped > 0 {
		a.log.Warnf("Catalog %q loaded with %d unreadable signatures skipped", report.Meta.Name, report.Skipped)
	}
	return report, nil
}

// AddReference fingerprints audioPath and stores it in the reference library.
func (a *App) AddReference(ctx context.Context, audioPath, title, artist, youtubeID string) (string, error) {
	a.log.Infof("Processing song: %s by %s", title, artist)

	sig, err := a.GenerateSignature(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("signature generation failed: %w", err)
	}
	a.log.Infof("Generated %d landmarks from %d peaks", sig.Len(), sig.PeakCount())

	songID, err := a.library.AddSong(title, artist, youtubeID, sig)
	if err != nil {
		return "", fmt.Errorf("failed to store song: %w", err)
	}

	a.log.Infof("Successfully added song ID=%s", songID)
	return songID, nil
}

// AddCatalogItem fingerprints audioPath into catalog id. Missing title,
// artist and genres are filled from the file's tags.
func (a *App) AddCatalogItem(ctx context.Context, id, audioPath string, in catalog.ItemInput) (models.CatalogEntry, error) {
	sig, err := a.GenerateSignature(ctx, audioPath)
	if err != nil {
		return models.CatalogEntry{}, err
	}

	if in.Title == "" || in.Artist == "" || len(in.Genres) == 0 {
		md := audio.DescribeFile(ctx, audioPath)
		if in.Title == "" {
			in.Title = md.Title
		}
		if in.Artist == "" {
			in.Artist = md.Artist
		}
		if len(in.Genres) == 0 {
			in.Genres = md.Genres
		}
	}

	return a.catalogs.AddItem(id, sig, in)
}

func (a *App) Close() error {
	a.catalogs.Unload()
	a.dispatcher.Configure(nil)
	return errors.Join(a.history.Close(), a.library.Close())
}
