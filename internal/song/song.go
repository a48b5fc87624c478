package song

import (
	"time"

	"github.com/google/uuid"
)

// Unknown is used for match fields the recognizer left empty.
const Unknown = "Unknown"

// Song is a recognized song as kept in the history.
type Song struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	ArtworkURL   *string   `json:"albumArtworkURL,omitempty"`
	RecognizedAt time.Time `json:"recognizedDate"`

	// Artwork is attached after creation and never persisted.
	Artwork *Artwork `json:"-"`
}

// Artwork is an album cover fetched for a song.
type Artwork struct {
	Data   []byte
	Format string // jpeg, png, gif, webp
	Width  int
	Height int
}

// MediaItem is a candidate returned by the recognizer for a match.
type MediaItem struct {
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	ArtworkURL string `json:"artworkURL,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
	ShazamKey  string `json:"shazamKey,omitempty"`
	WebURL     string `json:"webURL,omitempty"`
}

// FromMediaItem builds a new record for a match at the given time.
func FromMediaItem(item MediaItem, at time.Time) Song {
	s := Song{
		ID:           uuid.New(),
		Title:        orUnknown(item.Title),
		Artist:       orUnknown(item.Artist),
		RecognizedAt: at,
	}
	if item.ArtworkURL != "" {
		u := item.ArtworkURL
		s.ArtworkURL = &u
	}
	return s
}

// WithArtwork returns a copy of s carrying the given artwork.
func (s Song) WithArtwork(a *Artwork) Song {
	s.Artwork = a
	return s
}

// HasArtwork reports whether artwork was attached.
func (s Song) HasArtwork() bool {
	return s.Artwork != nil && len(s.Artwork.Data) > 0
}

func orUnknown(v string) string {
	if v == "" {
		return Unknown
	}
	return v
}
