// EnSeek listens to the music around you and tells you what song it is.
//
// Usage:
//
//	enseek [-config file] listen [-file song.wav] [-timeout 30s]
//	enseek [-config file] history
//	enseek [-config file] clear
//	enseek [-config file] signature <in.wav> <out.sig>
//	enseek [-config file] serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"enseek/internal/config"
	"enseek/internal/logging"
)

// Version is set at build time with -ldflags.
var Version = "dev"

const usage = `usage: enseek [-config file] <command> [arguments]

commands:
  listen      recognize the song playing now (or in -file)
  history     list recognized songs, newest first
  clear       delete the history
  signature   write the fingerprint of a WAV file
  serve       run the HTTP API
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "enseek:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("enseek", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configFile := fs.String("config", "", "config file (default ./config.yaml or ~/.enseek/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	log.Debug("starting", "version", Version, "storage", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "listen":
		return listen(ctx, cfg, log, rest)
	case "history":
		return showHistory(cfg, log)
	case "clear":
		return clearHistory(cfg, log)
	case "signature":
		return writeSignature(rest)
	case "serve":
		return serve(ctx, cfg, log)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}
