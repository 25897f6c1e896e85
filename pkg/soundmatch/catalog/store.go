// Package catalog persists named reference catalogs of (signature, metadata)
// pairs on disk and matches against the one currently loaded.
//
// Layout per catalog:
//
//	<root>/<id>/metadata.json
//	<root>/<id>/items.json
//	<root>/<id>/signatures/<entryID>.sig
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
	"github.com/himanishpuri/soundmatch/pkg/utils"
)

const (
	metadataFile  = "metadata.json"
	itemsFile     = "items.json"
	signaturesDir = "signatures"
	signatureExt  = ".sig"

	// LayoutVersion is written to every catalog's metadata.
	LayoutVersion = 1
)

type Option func(*Store)

func WithLogger(l logger.Leveled) Option {
	return func(s *Store) { s.log = l }
}

// WithMinScore sets the aligned-landmark threshold used when matching.
func WithMinScore(n int) Option {
	return func(s *Store) { s.minScore = n }
}

// WithLoadWorkers bounds how many signature blobs are decoded in parallel.
func WithLoadWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Store owns every catalog under one root directory. Mutations are
// serialized by an internal mutex.
type Store struct {
	root     string
	log      logger.Leveled
	minScore int
	workers  int
	now      func() time.Time

	mu     sync.Mutex
	active *loaded
}

// loaded is the in-memory form of the active catalog.
type loaded struct {
	meta    models.CatalogMetadata
	entries map[string]models.CatalogEntry
	index   *fingerprint.Index
	skipped int
}

func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:    root,
		workers: 8,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.GetLogger().With("catalog")
	}
	if err := utils.MakeDir(root); err != nil {
		return nil, fmt.Errorf("creating catalog root %s: %w", root, err)
	}
	return s, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) dir(id string) string { return filepath.Join(s.root, id) }

// blobName is the file an entry's signature lives in. Entries written
// before SignatureFile existed fall back to <entryID>.sig.
func blobName(e models.CatalogEntry) string {
	if e.SignatureFile == "" {
		return e.ID + signatureExt
	}
	return filepath.Base(e.SignatureFile)
}

func (s *Store) blobPath(id string, e models.CatalogEntry) string {
	return filepath.Join(s.root, id, signaturesDir, blobName(e))
}

// Create allocates a new empty catalog and returns its metadata.
func (s *Store) Create(name, description string) (models.CatalogMetadata, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.CatalogMetadata{}, fmt.Errorf("%w: name is required", models.ErrCatalogCreationFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	meta := models.CatalogMetadata{
		ID:          utils.GenerateUUID(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		ModifiedAt:  now,
		Version:     LayoutVersion,
	}

	dir := s.dir(meta.ID)
	if err := utils.MakeDir(filepath.Join(dir, signaturesDir)); err != nil {
		return models.CatalogMetadata{}, fmt.Errorf("%w: %v", models.ErrCatalogCreationFailed, err)
	}
	if err := writeJSON(filepath.Join(dir, itemsFile), []models.CatalogEntry{}); err != nil {
		utils.DeleteDir(dir)
		return models.CatalogMetadata{}, fmt.Errorf("%w: %v", models.ErrCatalogCreationFailed, err)
	}
	if err := writeJSON(filepath.Join(dir, metadataFile), meta); err != nil {
		utils.DeleteDir(dir)
		return models.CatalogMetadata{}, fmt.Errorf("%w: %v", models.ErrCatalogCreationFailed, err)
	}

	s.log.Infof("Created catalog %q (%s)", meta.Name, meta.ID)
	return meta, nil
}

// List returns every readable catalog, most recently modified first.
func (s *Store) List() ([]models.CatalogMetadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading catalog root: %w", err)
	}

	out := make([]models.CatalogMetadata, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		meta, err := s.readMeta(e.Name())
		if err != nil {
			s.log.Warnf("Skipping catalog %s: %v", e.Name(), err)
			continue
		}
		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Get reads one catalog's metadata. ItemCount and TotalDuration come from
// the item index, not from the stored metadata.
func (s *Store) Get(id string) (models.CatalogMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMeta(id)
}

// Items returns the persisted item index of a catalog.
func (s *Store) Items(id string) ([]models.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !utils.DirExists(s.dir(id)) {
		return nil, fmt.Errorf("%w: %s", models.ErrCatalogNotFound, id)
	}
	return s.readItems(id)
}

// Delete removes a catalog directory. If it was active, the in-memory
// index is dropped too.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" || !utils.DirExists(s.dir(id)) {
		return fmt.Errorf("%w: %s", models.ErrCatalogNotFound, id)
	}
	if err := utils.DeleteDir(s.dir(id)); err != nil {
		return fmt.Errorf("deleting catalog %s: %w", id, err)
	}
	if s.active != nil && s.active.meta.ID == id {
		s.active = nil
	}
	s.log.Infof("Deleted catalog %s", id)
	return nil
}

func (s *Store) readMeta(id string) (models.CatalogMetadata, error) {
	var meta models.CatalogMetadata
	if id == "" || !utils.DirExists(s.dir(id)) {
		return meta, fmt.Errorf("%w: %s", models.ErrCatalogNotFound, id)
	}
	if err := readJSON(filepath.Join(s.dir(id), metadataFile), &meta); err != nil {
		return meta, fmt.Errorf("%w: reading metadata for %s: %v", models.ErrCatalogNotFound, id, err)
	}
	items, err := s.readItems(id)
	if err != nil {
		return meta, err
	}
	return withCounts(meta, items), nil
}

func (s *Store) readItems(id string) ([]models.CatalogEntry, error) {
	var items []models.CatalogEntry
	err := readJSON(filepath.Join(s.dir(id), itemsFile), &items)
	if errors.Is(err, os.ErrNotExist) {
		return []models.CatalogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading item index for %s: %w", id, err)
	}
	return items, nil
}

// writeIndex persists items and refreshes the derived metadata fields from
// that same slice.
func (s *Store) writeIndex(meta models.CatalogMetadata, items []models.CatalogEntry) (models.CatalogMetadata, error) {
	if items == nil {
		items = []models.CatalogEntry{}
	}
	if err := writeJSON(filepath.Join(s.dir(meta.ID), itemsFile), items); err != nil {
		return meta, err
	}
	meta = withCounts(meta, items)
	meta.ModifiedAt = s.now()
	if err := writeJSON(filepath.Join(s.dir(meta.ID), metadataFile), meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func withCounts(meta models.CatalogMetadata, items []models.CatalogEntry) models.CatalogMetadata {
	meta.ItemCount = len(items)
	meta.TotalDuration = 0
	for _, it := range items {
		meta.TotalDuration += it.Duration
	}
	return meta
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data)
}
