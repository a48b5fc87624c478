package signature

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"enseek/internal/audiostream"
	"enseek/internal/audiostream/wavtest"
)

func TestGenerateFile(t *testing.T) {
	dir := t.TempDir()
	path := wavtest.Sine(t, dir, "Night Drive.wav", 440, 2, 44100, 2)

	data, item, err := GenerateFile(path)
	if err != nil {
		t.Fatalf("GenerateFile() error = %v", err)
	}

	if item.Title != "Night Drive" {
		t.Errorf("Title = %q, want %q", item.Title, "Night Drive")
	}
	if item.Artist != ReferenceArtist {
		t.Errorf("Artist = %q, want %q", item.Artist, ReferenceArtist)
	}

	msg, err := DecodeFromBinary(data)
	if err != nil {
		t.Fatalf("DecodeFromBinary() error = %v", err)
	}
	if msg.SampleRateHz != SampleRateHz {
		t.Errorf("SampleRateHz = %d, want %d", msg.SampleRateHz, SampleRateHz)
	}
	if ms := msg.DurationMillis(); ms < 1900 || ms > 2100 {
		t.Errorf("DurationMillis() = %d, want about 2000", ms)
	}

	peaks, ok := msg.FrequencyBandToSoundPeaks[Band250To520]
	if !ok || len(peaks) == 0 {
		t.Fatalf("expected peaks in the 250-520 Hz band for a 440 Hz tone")
	}
	strongest := peaks[0]
	for _, p := range peaks {
		if p.PeakMagnitude > strongest.PeakMagnitude {
			strongest = p
		}
	}
	if hz := strongest.GetFrequencyHz(); hz < 420 || hz > 460 {
		t.Errorf("peak frequency = %v, want about 440", hz)
	}
}

func TestSaveFile(t *testing.T) {
	dir := t.TempDir()
	src := wavtest.Sine(t, dir, "tone.wav", 1000, 1, 16000, 1)
	dst := filepath.Join(dir, "tone.sig")

	if err := SaveFile(src, dst); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if _, err := DecodeFromBinary(data); err != nil {
		t.Errorf("saved signature does not decode: %v", err)
	}
}

func TestGenerateFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, _, err := GenerateFile(filepath.Join(dir, "missing.wav"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("GenerateFile() error = %v, want ErrNotExist", err)
		}
	})

	t.Run("not a wav", func(t *testing.T) {
		path := filepath.Join(dir, "notes.txt")
		if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, _, err := GenerateFile(path)
		if !errors.Is(err, audiostream.ErrInvalidWAV) {
			t.Errorf("GenerateFile() error = %v, want ErrInvalidWAV", err)
		}
	})
}

func TestGenerateEmpty(t *testing.T) {
	if _, err := Generate(nil); !errors.Is(err, ErrNoAudio) {
		t.Errorf("Generate(nil) error = %v, want ErrNoAudio", err)
	}
}
