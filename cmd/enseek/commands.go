package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"enseek/internal/api"
	"enseek/internal/audiostream"
	"enseek/internal/config"
	"enseek/internal/notify"
	"enseek/internal/recognition"
	"enseek/internal/signature"
)

// endOfFileGrace is how long listen -file waits for a pending query after
// the file has been replayed.
const endOfFileGrace = 15 * time.Second

func listen(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	file := fs.String("file", "", "recognize a WAV file instead of the microphone")
	timeout := fs.Duration("timeout", 0, "give up after this long (0 waits for a result)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		replay      *audiostream.FilePipeline
		newPipeline = a.microphone
	)
	if *file != "" {
		replay, err = audiostream.OpenFile(*file, true)
		if err != nil {
			return err
		}
		newPipeline = func() (audiostream.Pipeline, error) { return replay, nil }
	}

	c := a.controller(newPipeline)
	defer c.Close()
	if err := c.Setup(); err != nil {
		return err
	}

	snapshots, cancel := c.Subscribe()
	defer cancel()
	if cfg.Notify.Enabled {
		watched, cancelWatch := c.Subscribe()
		defer cancelWatch()
		go notify.New(true, log).Watch(watched)
	}

	if *timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, *timeout)
		defer stop()
	}

	c.Start()
	var (
		replayDone <-chan struct{}
		grace      <-chan time.Time
	)
	if replay != nil {
		replayDone = replay.Done()
	}

	fmt.Println("Listening... press Ctrl+C to stop.")
	for {
		select {
		case s, ok := <-snapshots:
			if !ok {
				return nil
			}
			switch s.State() {
			case recognition.StateResult:
				printSong(s)
				return nil
			case recognition.StateError:
				return errors.New(s.Error)
			}
		case <-replayDone:
			replayDone = nil
			grace = time.After(endOfFileGrace)
		case <-grace:
			c.Stop()
			return errors.New("no match before the end of the file")
		case <-ctx.Done():
			c.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("no match within %v", *timeout)
			}
			return nil
		}
	}
}

func printSong(s recognition.Snapshot) {
	fmt.Printf("%s\n  by %s\n", s.Song.Title, s.Song.Artist)
	if s.Song.ArtworkURL != nil {
		fmt.Printf("  artwork: %s", *s.Song.ArtworkURL)
		if s.Song.HasArtwork() {
			fmt.Printf(" (%s %dx%d)", s.Song.Artwork.Format, s.Song.Artwork.Width, s.Song.Artwork.Height)
		}
		fmt.Println()
	}
}

func showHistory(cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	songs, err := a.history.Load()
	if err != nil {
		return err
	}
	if len(songs) == 0 {
		fmt.Println("No songs recognized yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECOGNIZED\tTITLE\tARTIST")
	for _, s := range songs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.RecognizedAt.Local().Format("2006-01-02 15:04"), s.Title, s.Artist)
	}
	return w.Flush()
}

func clearHistory(cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.history.Clear(); err != nil {
		return err
	}
	fmt.Println("History cleared.")
	return nil
}

func writeSignature(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: enseek signature <in.wav> <out.sig>")
	}
	if err := signature.SaveFile(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Signature of %s written to %s\n", args[0], args[1])
	return nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	c := a.controller(a.microphone)
	defer c.Close()
	if err := c.Setup(); err != nil {
		// the API still serves history and reports the failure in /state
		log.Error("audio unavailable", "err", err)
	}

	snapshots, cancel := c.Subscribe()
	defer cancel()
	go notify.New(cfg.Notify.Enabled, log).Watch(snapshots)

	return api.New(c, a.history, a.metrics, log).Run(ctx, cfg.Server.Addr)
}
