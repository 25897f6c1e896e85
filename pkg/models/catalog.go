package models

import "time"

// CatalogEntry is one (fingerprint, metadata) pair owned by a catalog. The
// fingerprint itself lives in signatures/<SignatureFile>.
type CatalogEntry struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Artist           string            `json:"artist"`
	Genres           []string          `json:"genres"`
	ArtworkURL       string            `json:"artworkURL,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
	SignatureFile    string            `json:"signatureFile"`
	Duration         float64           `json:"duration"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// CatalogMetadata describes a catalog. ItemCount and TotalDuration are always
// derived from the persisted item index.
type CatalogMetadata struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	CreatedAt     time.Time  `json:"createdAt"`
	ModifiedAt    time.Time  `json:"modifiedAt"`
	ItemCount     int        `json:"itemCount"`
	TotalDuration float64    `json:"totalDuration"`
	Version       int        `json:"version"`
	Imported      bool       `json:"imported"`
	ImportedAt    *time.Time `json:"importedAt,omitempty"`
}
