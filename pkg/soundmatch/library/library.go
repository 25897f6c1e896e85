//go:build !js && !wasm
// +build !js,!wasm

// Package library is the default recognition provider: a reference
// database of songs and their landmark hashes.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
	"github.com/himanishpuri/soundmatch/pkg/utils"
)

const DefaultDBFile = "library.sqlite3"
const errDBClientNil = "db client is nil"

// lookupChunk keeps IN (...) lists under SQLite's bound-variable limit.
const lookupChunk = 500

type Song struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Title      string `gorm:"uniqueIndex:idx_song_unique,priority:1;index:idx_song_meta,priority:1" json:"title"`
	Artist     string `gorm:"uniqueIndex:idx_song_unique,priority:2;index:idx_song_meta,priority:2" json:"artist"`
	YouTubeID  string `gorm:"index:idx_youtube_id" json:"youtube_id"`
	DurationMs int    `json:"duration_ms"`
	CreatedAt  time.Time
}

type Fingerprint struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Hash         uint32 `gorm:"index:idx_hash" json:"hash"`
	SongID       string `gorm:"type:varchar(36);index:idx_song" json:"song_id"`
	AnchorTimeMs uint32 `json:"anchor_time_ms"`
}

type Option func(*Library)

func WithLogger(l logger.Leveled) Option {
	return func(lib *Library) { lib.log = l }
}

// WithMinScore sets the aligned-landmark threshold for candidates.
func WithMinScore(n int) Option {
	return func(lib *Library) { lib.minScore = n }
}

type Library struct {
	DB       *gorm.DB
	db       *sql.DB
	log      logger.Leveled
	minScore int
}

// IsPostgresDSN reports whether dsn names a PostgreSQL server rather than a
// SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to PostgreSQL when dsn is a postgres URL and otherwise
// opens (or creates) a SQLite file at dsn.
func Open(dsn string, opts ...Option) (*Library, error) {
	lib := &Library{minScore: fingerprint.DefaultMinScore}
	for _, opt := range opts {
		opt(lib)
	}
	if lib.log == nil {
		lib.log = logger.GetLogger().With("library")
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var dialector gorm.Dialector
	if IsPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating db dir: %w", err)
			}
		}
		dialector = sqlite.Open(dsn + "?_pragma=busy_timeout(5000)")
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening library db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Song{}, &Fingerprint{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	lib.DB = db
	lib.db = sqlDB
	return lib, nil
}

func (l *Library) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RegisterSong returns the id of the song with this title and artist,
// creating it if needed. An existing song without a YouTube id adopts the
// one given.
func (l *Library) RegisterSong(title, artist, youtubeID string, durationMs int) (string, error) {
	if l == nil || l.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	return registerSong(l.DB, title, artist, youtubeID, durationMs)
}

func registerSong(db *gorm.DB, title, artist, youtubeID string, durationMs int) (string, error) {
	var song Song

	err := db.Where("title = ? AND artist = ?", title, artist).First(&song).Error
	if err == nil {
		updates := map[string]any{}
		if song.YouTubeID == "" && youtubeID != "" {
			updates["YouTubeID"] = youtubeID
		}
		if durationMs > 0 && song.DurationMs != durationMs {
			updates["DurationMs"] = durationMs
		}
		if len(updates) > 0 {
			if err := db.Model(&song).Updates(updates).Error; err != nil {
				return "", fmt.Errorf("updating song: %w", err)
			}
		}
		return song.ID, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("querying existing song: %w", err)
	}

	song = Song{ID: utils.GenerateUUID(), Title: title, Artist: artist, YouTubeID: youtubeID, DurationMs: durationMs}
	if err := db.Create(&song).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "constraint failed") {
			if fetchErr := db.Where("title = ? AND artist = ?", title, artist).First(&song).Error; fetchErr != nil {
				return "", fmt.Errorf("fetching song after constraint violation: %w", fetchErr)
			}
			return song.ID, nil
		}
		return "", fmt.Errorf("creating song: %w", err)
	}

	return song.ID, nil
}

// StoreSignature makes sig the song's only fingerprint set. Rows from an
// earlier signature are replaced in the same transaction.
func (l *Library) StoreSignature(songID string, sig *fingerprint.Signature) error {
	if l == nil || l.DB == nil {
		return errors.New(errDBClientNil)
	}
	if sig == nil {
		return errors.New("nil signature")
	}
	return l.DB.Transaction(func(tx *gorm.DB) error {
		return replaceFingerprints(tx, songID, sig)
	})
}

// AddSong registers the song and stores sig as its fingerprints in one
// transaction. Adding a known title and artist again replaces its
// fingerprints; on failure nothing changes, including a song that existed
// before the call.
func (l *Library) AddSong(title, artist, youtubeID string, sig *fingerprint.Signature) (string, error) {
	if l == nil || l.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	if sig == nil {
		return "", errors.New("nil signature")
	}
	var songID string
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		id, err := registerSong(tx, title, artist, youtubeID, int(sig.Duration().Milliseconds()))
		if err != nil {
			return err
		}
		songID = id
		return replaceFingerprints(tx, id, sig)
	})
	if err != nil {
		return "", err
	}
	return songID, nil
}

func replaceFingerprints(tx *gorm.DB, songID string, sig *fingerprint.Signature) error {
	if err := tx.Where("song_id = ?", songID).Delete(&Fingerprint{}).Error; err != nil {
		return fmt.Errorf("clearing old fingerprints: %w", err)
	}

	entries := make([]Fingerprint, 0, 1024)
	var flushErr error
	sig.Each(func(hash uint32, anchors []uint32) {
		if flushErr != nil {
			return
		}
		for _, a := range anchors {
			entries = append(entries, Fingerprint{Hash: hash, SongID: songID, AnchorTimeMs: a})
		}
		if len(entries) >= 1000 {
			if err := tx.CreateInBatches(entries, 500).Error; err != nil {
				flushErr = fmt.Errorf("batch insert fingerprints: %w", err)
				return
			}
			entries = entries[:0]
		}
	})
	if flushErr != nil {
		return flushErr
	}
	if len(entries) > 0 {
		if err := tx.CreateInBatches(entries, 500).Error; err != nil {
			return fmt.Errorf("batch insert last fingerprints: %w", err)
		}
	}
	return nil
}

func (l *Library) DeleteSong(songID string) error {
	if l == nil || l.DB == nil {
		return errors.New(errDBClientNil)
	}
	return l.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id = ?", songID).Delete(&Fingerprint{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", songID).Delete(&Song{}).Error
	})
}

func toModel(s Song) models.Song {
	return models.Song{
		ID:         s.ID,
		Title:      s.Title,
		Artist:     s.Artist,
		YouTubeID:  s.YouTubeID,
		DurationMs: s.DurationMs,
	}
}

func (l *Library) GetSong(songID string) (*models.Song, error) {
	if l == nil || l.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var s Song
	if err := l.DB.Where("id = ?", songID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: song %s", models.ErrNotFound, songID)
		}
		return nil, err
	}
	m := toModel(s)
	return &m, nil
}

func (l *Library) ListSongs() ([]models.Song, error) {
	if l == nil || l.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Song
	if err := l.DB.Order("title").Order("artist").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Song, len(rows))
	for i, r := range rows {
		out[i] = toModel(r)
	}
	return out, nil
}

func (l *Library) FingerprintCount(songID string) (int, error) {
	if l == nil || l.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var count int64
	if err := l.DB.Model(&Fingerprint{}).Where("song_id = ?", songID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// AnchorsByHashes fetches every stored occurrence of the given hashes.
func (l *Library) AnchorsByHashes(ctx context.Context, hashes []uint32) (map[uint32][]fingerprint.RefAnchor, error) {
	if l == nil || l.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	result := make(map[uint32][]fingerprint.RefAnchor)
	for start := 0; start < len(hashes); start += lookupChunk {
		end := min(start+lookupChunk, len(hashes))
		var rows []Fingerprint
		if err := l.DB.WithContext(ctx).Where("hash IN ?", hashes[start:end]).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("batch querying fingerprints: %w", err)
		}
		for _, r := range rows {
			result[r.Hash] = append(result[r.Hash], fingerprint.RefAnchor{RefID: r.SongID, AnchorMs: r.AnchorTimeMs})
		}
	}
	return result, nil
}

// Match ranks library songs against sig.
func (l *Library) Match(ctx context.Context, sig *fingerprint.Signature) ([]models.Candidate, error) {
	if sig == nil || sig.Len() == 0 {
		return nil, nil
	}

	hashes := make([]uint32, 0, sig.UniqueHashes())
	sig.Each(func(h uint32, _ []uint32) { hashes = append(hashes, h) })

	refs, err := l.AnchorsByHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	l.log.Debugf("Retrieved anchors for %d/%d hashes", len(refs), len(hashes))

	votes := fingerprint.VoteOffsets(sig, refs)
	hits := make([]fingerprint.Hit, 0, len(votes))
	for _, h := range votes {
		if h.Score < l.minScore {
			continue
		}
		refCount, err := l.FingerprintCount(h.RefID)
		if err != nil {
			l.log.Warnf("Failed to get fingerprint count for song %s: %v", h.RefID, err)
			refCount = sig.Len()
		}
		h.Confidence = fingerprint.Confidence(h.Score, sig.Len(), refCount)
		hits = append(hits, h)
	}
	fingerprint.RankHits(hits)

	out := make([]models.Candidate, 0, len(hits))
	for _, h := range hits {
		song, err := l.GetSong(h.RefID)
		if err != nil {
			l.log.Warnf("Failed to get song %s: %v", h.RefID, err)
			continue
		}
		out = append(out, models.Candidate{
			ID:          song.ID,
			ExternalKey: song.ID,
			Title:       song.Title,
			Artist:      song.Artist,
			Score:       h.Score,
			OffsetMs:    h.OffsetMs,
			Confidence:  h.Confidence,
		})
	}
	l.log.Infof("Library returned %d candidates", len(out))
	return out, nil
}
