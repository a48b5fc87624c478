// Package signature builds and serializes audio signatures in the format
// accepted by the Shazam tag endpoint.
package signature

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"enseek/internal/audiostream"
	"enseek/internal/song"
)

// SampleRateHz is the rate signatures are generated at.
const SampleRateHz = int(SampleRate16000)

// ReferenceArtist is the artist of media items built from local files.
const ReferenceArtist = "Local Reference"

// ErrNoAudio is returned when there is nothing to sign.
var ErrNoAudio = errors.New("signature: no audio samples")

// Generate signs mono samples recorded at SampleRateHz.
func Generate(samples []float32) (*DecodedMessage, error) {
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}
	return &DecodedMessage{
		SampleRateHz:              SampleRateHz,
		NumberSamples:             len(samples),
		FrequencyBandToSoundPeaks: extractPeaks(samples, SampleRateHz),
	}, nil
}

// GenerateFile signs a local WAV file and describes it as a reference item
// named after the file.
func GenerateFile(path string) ([]byte, song.MediaItem, error) {
	clip, err := audiostream.ReadWAV(path)
	if err != nil {
		return nil, song.MediaItem{}, err
	}

	msg, err := Generate(clip.MonoAt(SampleRateHz))
	if err != nil {
		return nil, song.MediaItem{}, fmt.Errorf("%s: %w", path, err)
	}

	data, err := msg.EncodeToBinary()
	if err != nil {
		return nil, song.MediaItem{}, err
	}

	item := song.MediaItem{
		Title:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Artist: ReferenceArtist,
	}
	return data, item, nil
}

// SaveFile signs src and writes the binary signature to dst.
func SaveFile(src, dst string) error {
	data, _, err := GenerateFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
