package models

import "time"

// HistoryRecord is one remembered match. At most one record exists per
// ExternalKey; repeat matches update MatchedAt and PlayCount in place.
type HistoryRecord struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalKey   *string    `gorm:"uniqueIndex:idx_history_external_key" json:"externalKey,omitempty"`
	Title         string     `gorm:"index:idx_history_title" json:"title"`
	Artist        string     `gorm:"index:idx_history_artist" json:"artist"`
	Genres        []string   `gorm:"serializer:json" json:"genres"`
	ArtworkURL    string     `json:"artworkURL,omitempty"`
	MatchedAt     time.Time  `gorm:"index:idx_history_matched_at" json:"matchedAt"`
	IsFavorite    bool       `gorm:"index:idx_history_favorite" json:"isFavorite"`
	PlayCount     int        `json:"playCount"`
	UserNote      *string    `json:"userNote,omitempty"`
	LastPlayedAt  *time.Time `json:"lastPlayedAt,omitempty"`
	MatchOffsetMs int32      `json:"matchOffsetMs"`
	Confidence    float64    `json:"confidence"`
	FromCatalog   bool       `json:"fromCatalog"`
	CatalogName   string     `json:"catalogName,omitempty"`
}

// TableName pins the table name so renames of the Go type never migrate data.
func (HistoryRecord) TableName() string { return "history_records" }
