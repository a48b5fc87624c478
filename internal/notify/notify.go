// Package notify shows desktop notifications for recognition results.
package notify

import (
	"log/slog"
	"unicode/utf8"

	"github.com/gen2brain/beeep"

	"enseek/internal/recognition"
)

const appName = "EnSeek"

// Notifier sends desktop notifications.
type Notifier struct {
	enabled bool
	send    func(title, message, icon string) error
	log     *slog.Logger
}

func New(enabled bool, log *slog.Logger) *Notifier {
	send := func(title, message, icon string) error {
		return beeep.Notify(title, message, icon)
	}
	return &Notifier{enabled: enabled, send: send, log: log}
}

// Listening announces that the microphone is open.
func (n *Notifier) Listening() {
	n.notify("Listening", "Hold your device near the music")
}

// Found announces a recognized song.
func (n *Notifier) Found(title, artist string) {
	n.notify("Song found", truncate(title+" by "+artist))
}

func (n *Notifier) Error(msg string) {
	n.notify("", truncate(msg))
}

// Watch notifies on every state transition read from snapshots until the
// channel is closed.
func (n *Notifier) Watch(snapshots <-chan recognition.Snapshot) {
	last := recognition.StateIdle
	var lastErr string
	for s := range snapshots {
		st := s.State()
		if st == last && s.Error == lastErr {
			continue
		}
		last, lastErr = st, s.Error

		switch st {
		case recognition.StateListening:
			n.Listening()
		case recognition.StateResult:
			n.Found(s.Song.Title, s.Song.Artist)
		case recognition.StateError:
			n.Error(s.Error)
		}
	}
}

func (n *Notifier) notify(title, message string) {
	if !n.enabled {
		return
	}
	if title != "" {
		title = appName + ": " + title
	} else {
		title = appName
	}
	// notification failures are not fatal
	if err := n.send(title, message, ""); err != nil && n.log != nil {
		n.log.Debug("notification failed", "err", err)
	}
}

const maxMessage = 100

// truncate cuts s to at most maxMessage bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxMessage {
		return s
	}
	cut := maxMessage
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
