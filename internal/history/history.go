// Package history persists the list of recognized songs, newest first, as
// one JSON blob under a fixed key of a key-value store.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"enseek/internal/kv"
	"enseek/internal/song"
)

// Key is the key the history list is stored under.
const Key = "recognizedSongs"

// ErrCorrupt is returned by Load when the stored list cannot be decoded.
var ErrCorrupt = errors.New("history: stored list is corrupt")

// Store is the process-wide song history. Writers in this process are
// serialized; the backend provides whatever atomicity a single Set has.
type Store struct {
	mu  sync.Mutex
	kv  kv.Store
	log *slog.Logger
}

func New(store kv.Store, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: store, log: log}
}

// Save inserts s at the head of the list and rewrites it.
func (h *Store) Save(s song.Song) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	songs := h.all()
	songs = append([]song.Song{s}, songs...)

	data, err := json.Marshal(songs)
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	if err := h.kv.Set(Key, data); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}

// All returns the list, newest first. Missing, unreadable or corrupt data
// yields an empty list.
func (h *Store) All() []song.Song {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.all()
}

func (h *Store) all() []song.Song {
	songs, err := h.load()
	if err != nil {
		h.log.Warn("history unreadable, treating as empty", "err", err)
		return []song.Song{}
	}
	return songs
}

// Load is All with errors: backend failures are returned as is and
// undecodable data as ErrCorrupt.
func (h *Store) Load() ([]song.Song, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

func (h *Store) load() ([]song.Song, error) {
	data, err := h.kv.Get(Key)
	if errors.Is(err, kv.ErrNotFound) {
		return []song.Song{}, nil
	}
	if errors.Is(err, kv.ErrCorrupt) {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err != nil {
		return nil, err
	}

	var songs []song.Song
	if err := json.Unmarshal(data, &songs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if songs == nil {
		songs = []song.Song{}
	}
	return songs, nil
}

// Len returns the number of stored songs.
func (h *Store) Len() int {
	return len(h.All())
}

// Clear removes the stored list.
func (h *Store) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.kv.Remove(Key); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}
