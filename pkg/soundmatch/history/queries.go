//go:build !js && !wasm
// +build !js,!wasm

package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/himanishpuri/soundmatch/pkg/models"
)

func (s *Store) findOne(query string, arg any) (*models.HistoryRecord, error) {
	var rec models.HistoryRecord
	if err := s.db.Where(query, arg).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrHistoryPersistence, err)
	}
	return &rec, nil
}

func (s *Store) FindByExternalKey(key string) (*models.HistoryRecord, error) {
	return s.findOne("external_key = ?", key)
}

func (s *Store) FindByID(id string) (*models.HistoryRecord, error) {
	return s.findOne("id = ?", id)
}

func (s *Store) fetch(scope func(*gorm.DB) *gorm.DB) ([]models.HistoryRecord, error) {
	var recs []models.HistoryRecord
	q := s.db.Order("matched_at DESC").Order("id")
	if scope != nil {
		q = scope(q)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrHistoryPersistence, err)
	}
	return recs, nil
}

// FetchRecent returns at most limit records, newest first.
func (s *Store) FetchRecent(limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		return []models.HistoryRecord{}, nil
	}
	return s.fetch(func(q *gorm.DB) *gorm.DB { return q.Limit(limit) })
}

func (s *Store) FetchFavorites() ([]models.HistoryRecord, error) {
	return s.fetch(func(q *gorm.DB) *gorm.DB { return q.Where("is_favorite = ?", true) })
}

func (s *Store) FetchAll() ([]models.HistoryRecord, error) {
	return s.fetch(nil)
}

func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.Model(&models.HistoryRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrHistoryPersistence, err)
	}
	return n, nil
}

// Search returns records whose title, artist or any genre contains query,
// compared under Unicode case folding. A blank query returns everything.
func (s *Store) Search(query string) ([]models.HistoryRecord, error) {
	all, err := s.FetchAll()
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return all, nil
	}

	fold := cases.Fold()
	needle := fold.String(query)
	contains := func(s string) bool { return strings.Contains(fold.String(s), needle) }

	out := make([]models.HistoryRecord, 0)
	for _, r := range all {
		if contains(r.Title) || contains(r.Artist) {
			out = append(out, r)
			continue
		}
		for _, g := range r.Genres {
			if contains(g) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// DayGroup is every record matched on one local calendar day.
type DayGroup struct {
	Day     time.Time
	Records []models.HistoryRecord
}

// GroupedByDate buckets records by calendar day in loc, newest day first.
func (s *Store) GroupedByDate(loc *time.Location) ([]DayGroup, error) {
	if loc == nil {
		loc = time.Local
	}
	all, err := s.FetchAll()
	if err != nil {
		return nil, err
	}

	var groups []DayGroup
	for _, r := range all {
		t := r.MatchedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Records = append(groups[n-1].Records, r)
			continue
		}
		groups = append(groups, DayGroup{Day: day, Records: []models.HistoryRecord{r}})
	}
	return groups, nil
}

// Stat is one bar of a histogram.
type Stat struct {
	Name  string
	Count int
}

func rank(counts map[string]int) []Stat {
	out := make([]Stat, 0, len(counts))
	for name, n := range counts {
		out = append(out, Stat{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// GenreStatistics counts records per genre, most common first.
func (s *Store) GenreStatistics() ([]Stat, error) {
	all, err := s.FetchAll()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range all {
		for _, g := range r.Genres {
			if g = strings.TrimSpace(g); g != "" {
				counts[g]++
			}
		}
	}
	return rank(counts), nil
}

// ArtistStatistics counts records per artist, most common first.
func (s *Store) ArtistStatistics() ([]Stat, error) {
	all, err := s.FetchAll()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range all {
		if a := strings.TrimSpace(r.Artist); a != "" {
			counts[a]++
		}
	}
	return rank(counts), nil
}

type PeriodStats struct {
	Last7Days  int
	Last30Days int
	AllTime    int
}

// PeriodStatistics counts records matched within 7 and 30 days of now.
func (s *Store) PeriodStatistics(now time.Time) (PeriodStats, error) {
	all, err := s.FetchAll()
	if err != nil {
		return PeriodStats{}, err
	}
	week := now.AddDate(0, 0, -7)
	month := now.AddDate(0, 0, -30)

	st := PeriodStats{AllTime: len(all)}
	for _, r := range all {
		if !r.MatchedAt.Before(week) {
			st.Last7Days++
		}
		if !r.MatchedAt.Before(month) {
			st.Last30Days++
		}
	}
	return st, nil
}

// ExportJSON writes every record to w as an indented JSON array.
func (s *Store) ExportJSON(w io.Writer) error {
	all, err := s.FetchAll()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}
