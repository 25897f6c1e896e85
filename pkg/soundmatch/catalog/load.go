package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/sourcegraph/conc/pool"

	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

// LoadReport summarizes a catalog load.
type LoadReport struct {
	Meta    models.CatalogMetadata
	Loaded  int
	Skipped int
}

// Load makes catalog id the active catalog, rebuilding its matching index
// from every readable signature blob. Unreadable blobs are logged and skipped.
func (s *Store) Load(id string) (LoadReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load(id)
	if err != nil {
		return LoadReport{}, err
	}
	s.active = l
	return LoadReport{Meta: l.meta, Loaded: len(l.entries), Skipped: l.skipped}, nil
}

func (s *Store) load(id string) (*loaded, error) {
	meta, err := s.readMeta(id)
	if err != nil {
		return nil, err
	}
	items, err := s.readItems(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCatalogNotFound, err)
	}

	sigs := make([]*fingerprint.Signature, len(items))
	p := pool.New().WithMaxGoroutines(s.workers)
	for i, it := range items {
		p.Go(func() {
			data, err := os.ReadFile(s.blobPath(id, it))
			if err != nil {
				s.log.Warnf("Skipping %q in catalog %s: %v", it.Title, meta.Name, err)
				return
			}
			sig, err := fingerprint.UnmarshalSignature(data)
			if err != nil {
				s.log.Warnf("Skipping %q in catalog %s: %v", it.Title, meta.Name, err)
				return
			}
			sigs[i] = sig
		})
	}
	p.Wait()

	l := &loaded{
		meta:    withCounts(meta, items),
		entries: make(map[string]models.CatalogEntry, len(items)),
		index:   fingerprint.NewIndex(s.minScore),
	}
	for i, it := range items {
		if sigs[i] == nil {
			l.skipped++
			continue
		}
		l.index.Insert(it.ID, sigs[i])
		l.entries[it.ID] = it
	}

	s.log.Infof("Loaded catalog %q: %d entries, %d skipped", meta.Name, len(l.entries), l.skipped)
	return l, nil
}

// Active returns the metadata of the loaded catalog, if any.
func (s *Store) Active() (models.CatalogMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return models.CatalogMetadata{}, false
	}
	return s.active.meta, true
}

// Loaded reports whether a catalog is active.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Unload drops the active catalog.
func (s *Store) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}

// Name returns the active catalog's name, or "" when none is loaded.
func (s *Store) Name() string {
	meta, _ := s.Active()
	return meta.Name
}

// Match looks sig up in the active catalog's index.
func (s *Store) Match(ctx context.Context, sig *fingerprint.Signature) ([]models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, fmt.Errorf("%w: no catalog loaded", models.ErrCatalogNotFound)
	}

	hits := s.active.index.Match(sig)
	out := make([]models.Candidate, 0, len(hits))
	for _, h := range hits {
		e, ok := s.active.entries[h.RefID]
		if !ok {
			continue
		}
		out = append(out, models.Candidate{
			ID:          e.ID,
			ExternalKey: e.ID,
			Title:       e.Title,
			Artist:      e.Artist,
			Genres:      e.Genres,
			ArtworkURL:  e.ArtworkURL,
			Score:       h.Score,
			OffsetMs:    h.OffsetMs,
			Confidence:  h.Confidence,
			CatalogID:   s.active.meta.ID,
		})
	}
	return out, nil
}
