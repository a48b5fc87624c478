package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"enseek/internal/audiostream/wavtest"
)

func TestRunErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENSEEK_STORAGE_BACKEND", "memory")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "missing command"},
		{"unknown", []string{"dance"}, `unknown command "dance"`},
		{"signature usage", []string{"signature", "only-one.wav"}, "usage: enseek signature"},
		{"bad log level", []string{"history"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want == "" {
				t.Setenv("ENSEEK_LOG_LEVEL", "chatty")
			}
			err := run(tt.args)
			if err == nil {
				t.Fatal("run succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want %q", err, tt.want)
			}
		})
	}
}

func TestHistoryAndClear(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ENSEEK_STORAGE_PATH", filepath.Join(dir, "prefs.json"))

	for _, cmd := range []string{"history", "clear", "history"} {
		if err := run([]string{cmd}); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
}

func TestSignatureCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ENSEEK_STORAGE_BACKEND", "memory")

	in := wavtest.Sine(t, dir, "tone.wav", 440, 3, 16000, 1)
	out := filepath.Join(dir, "tone.sig")
	if err := run([]string{"signature", in, out}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("empty signature file")
	}
}
