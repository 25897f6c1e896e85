//go:build !js && !wasm
// +build !js,!wasm

// Package history remembers recognized songs in an embedded SQLite database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/utils"
)

const DefaultDBFile = "history.sqlite3"

type EventKind int

const (
	EventAdded EventKind = iota
	EventUpdated
	EventDeleted
	EventCleared
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event describes a committed change. Records holds the new state for
// added/updated events; IDs lists removed records for deleted events.
type Event struct {
	Kind    EventKind
	Records []models.HistoryRecord
	IDs     []string
}

type Option func(*Store)

func WithLogger(l logger.Leveled) Option {
	return func(s *Store) { s.log = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the history database. Reads may run concurrently; writes are
// serialized and each runs in its own transaction. Observers only ever see
// committed state: nothing is cached or notified ahead of a successful
// commit, and a failed write leaves no trace for the caller to reconcile.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
	log   logger.Leveled
	now   func() time.Time

	wmu sync.Mutex

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

func Open(dbPath string, opts ...Option) (*Store, error) {
	s := &Store{now: time.Now, subs: make(map[int]func(Event))}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.GetLogger().With("history")
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.HistoryRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	s.db = db
	s.sqlDB = sqlDB
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Subscribe registers fn for committed changes and returns a function that
// removes it. fn runs on the writer's goroutine after the write returns its
// lock, so it may call back into the store.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(ev Event) {
	s.subMu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// write runs fn in a serialized transaction and notifies observers with the
// event it returns once the transaction has committed.
func (s *Store) write(op string, fn func(tx *gorm.DB) (Event, error)) error {
	s.wmu.Lock()
	var ev Event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		ev, err = fn(tx)
		return err
	})
	s.wmu.Unlock()

	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		s.log.Errorf("History %s failed: %v", op, err)
		return fmt.Errorf("%w: %s: %v", models.ErrHistoryPersistence, op, err)
	}
	s.notify(ev)
	return nil
}

// Add inserts rec, or, when a record with the same external key exists,
// bumps that record's MatchedAt and PlayCount instead.
func (s *Store) Add(rec models.HistoryRecord) (models.HistoryRecord, error) {
	if rec.MatchedAt.IsZero() {
		rec.MatchedAt = s.now()
	}
	if rec.ExternalKey != nil && *rec.ExternalKey == "" {
		rec.ExternalKey = nil
	}
	if rec.Genres == nil {
		rec.Genres = []string{}
	}

	var out models.HistoryRecord
	err := s.write("add", func(tx *gorm.DB) (Event, error) {
		if rec.ExternalKey != nil {
			var existing models.HistoryRecord
			err := tx.Where("external_key = ?", *rec.ExternalKey).First(&existing).Error
			if err == nil {
				existing.MatchedAt = rec.MatchedAt
				existing.PlayCount++
				if err := tx.Save(&existing).Error; err != nil {
					return Event{}, err
				}
				out = existing
				return Event{Kind: EventUpdated, Records: []models.HistoryRecord{existing}}, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return Event{}, err
			}
		}

		if rec.ID == "" {
			rec.ID = utils.GenerateUUID()
		}
		if rec.PlayCount < 1 {
			rec.PlayCount = 1
		}
		if err := tx.Create(&rec).Error; err != nil {
			return Event{}, err
		}
		out = rec
		return Event{Kind: EventAdded, Records: []models.HistoryRecord{rec}}, nil
	})
	return out, err
}

// RecordMatch turns a match result into a history write.
func (s *Store) RecordMatch(res models.MatchResult) (models.HistoryRecord, error) {
	best := res.Best
	rec := models.HistoryRecord{
		Title:         best.Title,
		Artist:        best.Artist,
		Genres:        best.Genres,
		ArtworkURL:    best.ArtworkURL,
		MatchedAt:     res.MatchedAt,
		MatchOffsetMs: best.OffsetMs,
		Confidence:    best.Confidence,
		FromCatalog:   res.Source == models.SourceCatalog,
		CatalogName:   res.CatalogName,
	}
	if best.ExternalKey != "" {
		key := best.ExternalKey
		rec.ExternalKey = &key
	}
	return s.Add(rec)
}

// update loads record id, applies mutate and saves it.
func (s *Store) update(op, id string, mutate func(*models.HistoryRecord)) (models.HistoryRecord, error) {
	var out models.HistoryRecord
	err := s.write(op, func(tx *gorm.DB) (Event, error) {
		var rec models.HistoryRecord
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Event{}, fmt.Errorf("%w: history record %s", models.ErrNotFound, id)
			}
			return Event{}, err
		}
		mutate(&rec)
		if err := tx.Save(&rec).Error; err != nil {
			return Event{}, err
		}
		out = rec
		return Event{Kind: EventUpdated, Records: []models.HistoryRecord{rec}}, nil
	})
	return out, err
}

func (s *Store) ToggleFavorite(id string) (models.HistoryRecord, error) {
	return s.update("toggle favorite", id, func(r *models.HistoryRecord) {
		r.IsFavorite = !r.IsFavorite
	})
}

// UpdateNote sets the user note; an empty note clears it.
func (s *Store) UpdateNote(id, note string) (models.HistoryRecord, error) {
	return s.update("update note", id, func(r *models.HistoryRecord) {
		if note == "" {
			r.UserNote = nil
			return
		}
		r.UserNote = &note
	})
}

func (s *Store) IncrementPlayCount(id string) (models.HistoryRecord, error) {
	now := s.now()
	return s.update("increment play count", id, func(r *models.HistoryRecord) {
		r.PlayCount++
		r.LastPlayedAt = &now
	})
}

func (s *Store) Delete(id string) error {
	return s.DeleteBatch([]string{id})
}

// DeleteBatch removes every listed record. Unknown ids are ignored.
func (s *Store) DeleteBatch(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.write("delete", func(tx *gorm.DB) (Event, error) {
		res := tx.Where("id IN ?", ids).Delete(&models.HistoryRecord{})
		if res.Error != nil {
			return Event{}, res.Error
		}
		return Event{Kind: EventDeleted, IDs: ids}, nil
	})
}

func (s *Store) DeleteAll() error {
	return s.write("delete all", func(tx *gorm.DB) (Event, error) {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.HistoryRecord{}).Error; err != nil {
			return Event{}, err
		}
		return Event{Kind: EventCleared}, nil
	})
}
