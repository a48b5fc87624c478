package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"enseek/internal/artwork"
	"enseek/internal/audiostream"
	"enseek/internal/config"
	"enseek/internal/history"
	"enseek/internal/kv"
	"enseek/internal/metrics"
	"enseek/internal/recognition"
	"enseek/internal/shazam"
)

// app holds the long-lived components shared by the commands.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   kv.Store
	history *history.Store
	metrics *metrics.Metrics
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	store, err := kv.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		history: history.New(store, log),
		metrics: metrics.New(reg),
	}
	if fs, ok := store.(*kv.FileStore); ok {
		log.Debug("preferences file", "path", fs.Path())
	}
	a.metrics.HistorySize.Set(float64(a.history.Len()))
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// controller builds a recognition controller capturing from newPipeline.
func (a *app) controller(newPipeline func() (audiostream.Pipeline, error)) *recognition.Controller {
	client := shazam.New(shazam.Options{
		Endpoint: a.cfg.Recognizer.Endpoint,
		Language: a.cfg.Recognizer.Language,
		Country:  a.cfg.Recognizer.Country,
	}, a.log)

	return recognition.New(recognition.Config{
		Pipeline: newPipeline,
		Session: func(ctx context.Context) (shazam.Session, error) {
			return client.NewSession(ctx, a.cfg.Window(), a.cfg.MaxWindow()), nil
		},
		Artwork:      artwork.NewFetcher(&http.Client{Timeout: a.cfg.Artwork.Timeout}),
		History:      a.history,
		Metrics:      a.metrics,
		Logger:       a.log,
		BufferFrames: a.cfg.Capture.BufferFrames,
	})
}

func (a *app) microphone() (audiostream.Pipeline, error) {
	return audiostream.NewMic(a.cfg.Capture.SampleRate, a.log)
}
