package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
	"github.com/himanishpuri/soundmatch/pkg/utils"
)

// ItemInput is the caller-supplied metadata for a new catalog entry.
type ItemInput struct {
	Title            string
	Artist           string
	Genres           []string
	ArtworkURL       string
	CustomProperties map[string]string
}

// AddItem persists sig with its metadata in catalog id. The blob is written
// first; if the index write then fails the blob is left behind as garbage
// for CollectGarbage and the item count is unaffected.
func (s *Store) AddItem(id string, sig *fingerprint.Signature, in ItemInput) (models.CatalogEntry, error) {
	if sig == nil {
		return models.CatalogEntry{}, fmt.Errorf("%w: nil signature", models.ErrItemPersistenceFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	items, err := s.readItems(id)
	if err != nil {
		return models.CatalogEntry{}, fmt.Errorf("%w: %v", models.ErrItemPersistenceFailed, err)
	}

	entry := models.CatalogEntry{
		ID:               utils.GenerateUUID(),
		Title:            strings.TrimSpace(in.Title),
		Artist:           strings.TrimSpace(in.Artist),
		Genres:           in.Genres,
		ArtworkURL:       in.ArtworkURL,
		CustomProperties: in.CustomProperties,
		Duration:         sig.Duration().Seconds(),
		CreatedAt:        s.now(),
	}
	entry.SignatureFile = entry.ID + signatureExt
	if entry.Genres == nil {
		entry.Genres = []string{}
	}

	blob, err := sig.Marshal()
	if err != nil {
		return models.CatalogEntry{}, fmt.Errorf("%w: %v", models.ErrItemPersistenceFailed, err)
	}
	if err := utils.MakeDir(filepath.Join(s.dir(id), signaturesDir)); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("%w: %v", models.ErrItemPersistenceFailed, err)
	}
	if err := utils.WriteFileAtomic(s.blobPath(id, entry), blob); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("%w: writing signature: %v", models.ErrItemPersistenceFailed, err)
	}

	meta, err = s.writeIndex(meta, append(items, entry))
	if err != nil {
		return models.CatalogEntry{}, fmt.Errorf("%w: writing item index: %v", models.ErrItemPersistenceFailed, err)
	}

	if s.active != nil && s.active.meta.ID == id {
		s.active.index.Insert(entry.ID, sig)
		s.active.entries[entry.ID] = entry
		s.active.meta = meta
	}

	s.log.Infof("Added %q by %q to catalog %s (%d items)", entry.Title, entry.Artist, meta.Name, meta.ItemCount)
	return entry, nil
}

// RemoveItem deletes one entry. The matching index has no delete, so an
// active catalog is reloaded from disk afterwards.
func (s *Store) RemoveItem(id, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}
	items, err := s.readItems(id)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrItemPersistenceFailed, err)
	}

	kept := make([]models.CatalogEntry, 0, len(items))
	var removed *models.CatalogEntry
	for _, it := range items {
		if it.ID == entryID {
			removed = &it
			continue
		}
		kept = append(kept, it)
	}
	if removed == nil {
		return fmt.Errorf("%w: entry %s in catalog %s", models.ErrNotFound, entryID, id)
	}

	if err := utils.DeleteFile(s.blobPath(id, *removed)); err != nil {
		return fmt.Errorf("%w: deleting signature: %v", models.ErrItemPersistenceFailed, err)
	}
	if _, err := s.writeIndex(meta, kept); err != nil {
		return fmt.Errorf("%w: writing item index: %v", models.ErrItemPersistenceFailed, err)
	}

	if s.active != nil && s.active.meta.ID == id {
		reloaded, err := s.load(id)
		if err != nil {
			s.active = nil
			return fmt.Errorf("reloading catalog after removal: %w", err)
		}
		s.active = reloaded
	}

	s.log.Infof("Removed entry %s from catalog %s", entryID, meta.Name)
	return nil
}

// CollectGarbage deletes signature blobs that no index entry references and
// returns how many were removed.
func (s *Store) CollectGarbage(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readMeta(id); err != nil {
		return 0, err
	}
	items, err := s.readItems(id)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]bool, len(items))
	for _, it := range items {
		referenced[blobName(it)] = true
	}

	files, err := os.ReadDir(filepath.Join(s.dir(id), signaturesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if f.IsDir() || referenced[f.Name()] {
			continue
		}
		if err := utils.DeleteFile(filepath.Join(s.dir(id), signaturesDir, f.Name())); err != nil {
			return removed, fmt.Errorf("removing orphan %s: %w", f.Name(), err)
		}
		removed++
	}
	if removed > 0 {
		s.log.Infof("Removed %d orphaned signatures from catalog %s", removed, id)
	}
	return removed, nil
}
