package recognition

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"enseek/internal/audiostream"
	"enseek/internal/history"
	"enseek/internal/kv"
	"enseek/internal/shazam"
	"enseek/internal/song"
)

type fakePipeline struct {
	mu       sync.Mutex
	tap      audiostream.Tap
	frames   int
	running  bool
	starts   int
	stops    int
	closed   bool
	startErr error
}

func (p *fakePipeline) InstallTap(frames int, tap audiostream.Tap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = frames
	p.tap = tap
}

func (p *fakePipeline) RemoveTap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tap = nil
}

func (p *fakePipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.starts++
	p.running = true
	return nil
}

func (p *fakePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.running = false
}

func (p *fakePipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePipeline) emit(buf audiostream.Buffer) bool {
	p.mu.Lock()
	tap := p.tap
	p.mu.Unlock()
	if tap == nil {
		return false
	}
	tap(buf)
	return true
}

func (p *fakePipeline) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

type fakeSession struct {
	mu       sync.Mutex
	outcomes chan shazam.Outcome
	buffers  int
	resets   int
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{outcomes: make(chan shazam.Outcome, 4)}
}

func (s *fakeSession) MatchStreamingBuffer(audiostream.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers++
}

func (s *fakeSession) Outcomes() <-chan shazam.Outcome { return s.outcomes }

func (s *fakeSession) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return s.resets
}

// deliver reports out as an outcome of the latest attempt.
func (s *fakeSession) deliver(out shazam.Outcome) {
	s.mu.Lock()
	out.Attempt = s.resets
	s.mu.Unlock()
	s.outcomes <- out
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.outcomes)
	}
	return nil
}

func (s *fakeSession) counts() (buffers, resets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffers, s.resets
}

type fakeFetcher struct {
	art     *song.Artwork
	err     error
	called  chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*song.Artwork, error) {
	if f.called != nil {
		f.called <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.art, f.err
}

type harness struct {
	c        *Controller
	pipeline *fakePipeline
	session  *fakeSession
	history  *history.Store
}

func newHarness(t *testing.T, fetcher ArtworkFetcher) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		pipeline: &fakePipeline{},
		session:  newFakeSession(),
		history:  history.New(kv.NewMemoryStore(), log),
	}
	h.c = New(Config{
		Pipeline: func() (audiostream.Pipeline, error) { return h.pipeline, nil },
		Session:  func(context.Context) (shazam.Session, error) { return h.session, nil },
		Artwork:  fetcher,
		History:  h.history,
		Logger:   log,
	})
	t.Cleanup(func() { h.c.Close() })
	return h
}

func (h *harness) setup(t *testing.T) {
	t.Helper()
	if err := h.c.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
}

func waitFor(t *testing.T, c *Controller, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last snapshot %+v", what, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func isState(st State) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.State() == st }
}

func match(item song.MediaItem) shazam.Outcome {
	return shazam.Outcome{Match: &shazam.Match{Items: []song.MediaItem{item}}}
}

func TestSnapshotState(t *testing.T) {
	s := &song.Song{Title: "x"}
	tests := []struct {
		name string
		snap Snapshot
		want State
	}{
		{"zero", Snapshot{}, StateIdle},
		{"listening", Snapshot{Listening: true, Song: s, Error: "e"}, StateListening},
		{"error", Snapshot{Song: s, Error: "e"}, StateError},
		{"result", Snapshot{Song: s}, StateResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.State(); got != tt.want {
				t.Errorf("State() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Stop()
	h.c.Stop()
	if st := h.c.Snapshot().State(); st != StateIdle {
		t.Fatalf("state before setup = %s, want idle", st)
	}

	h.setup(t)
	h.c.Stop()
	h.c.Stop()
	if st := h.c.Snapshot().State(); st != StateIdle {
		t.Fatalf("state after setup = %s, want idle", st)
	}
}

func TestStartWithoutSetup(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Start()
	s := h.c.Snapshot()
	if s.Error != "Audio engine not initialized" {
		t.Errorf("Error = %q", s.Error)
	}
	if s.Listening {
		t.Error("listening without a pipeline")
	}
}

func TestSetupFailure(t *testing.T) {
	boom := errors.New("no microphone")
	c := New(Config{
		Pipeline: func() (audiostream.Pipeline, error) { return nil, boom },
		Session:  func(context.Context) (shazam.Session, error) { return newFakeSession(), nil },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer c.Close()

	err := c.Setup()
	if !errors.Is(err, ErrSetup) || !errors.Is(err, boom) {
		t.Fatalf("Setup() = %v, want ErrSetup wrapping the cause", err)
	}
	if got := c.Snapshot().Error; got != "Setup failed: no microphone" {
		t.Errorf("Error = %q", got)
	}

	c.Start()
	if got := c.Snapshot().Error; got != "Audio engine not initialized" {
		t.Errorf("Error after Start = %q", got)
	}
}

func TestSessionSetupFailureClosesPipeline(t *testing.T) {
	p := &fakePipeline{}
	c := New(Config{
		Pipeline: func() (audiostream.Pipeline, error) { return p, nil },
		Session: func(context.Context) (shazam.Session, error) {
			return nil, errors.New("no network")
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer c.Close()

	if err := c.Setup(); !errors.Is(err, ErrSetup) {
		t.Fatalf("Setup() = %v", err)
	}
	if !p.closed {
		t.Error("pipeline left open")
	}
}

func TestStartStreamsAudio(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	h.c.Start()
	s := h.c.Snapshot()
	if s.State() != StateListening {
		t.Fatalf("state = %s, want listening", s.State())
	}
	if !h.pipeline.isRunning() {
		t.Fatal("pipeline not started")
	}
	if h.pipeline.frames != audiostream.DefaultBufferFrames {
		t.Errorf("tap frames = %d, want %d", h.pipeline.frames, audiostream.DefaultBufferFrames)
	}

	for i := 0; i < 3; i++ {
		if !h.pipeline.emit(audiostream.Buffer{Samples: make([]float32, 16), SampleRate: 16000, Channels: 1}) {
			t.Fatal("no tap installed")
		}
	}
	buffers, resets := h.session.counts()
	if buffers != 3 {
		t.Errorf("session got %d buffers, want 3", buffers)
	}
	if resets != 1 {
		t.Errorf("session reset %d times, want 1", resets)
	}

	h.c.Stop()
	if h.pipeline.isRunning() {
		t.Error("pipeline still running after Stop")
	}
	if h.pipeline.emit(audiostream.Buffer{}) {
		t.Error("tap still installed after Stop")
	}
	if st := h.c.Snapshot().State(); st != StateIdle {
		t.Errorf("state after Stop = %s, want idle", st)
	}
}

func TestMatchWithoutArtwork(t *testing.T) {
	h := newHarness(t, &fakeFetcher{err: errors.New("must not be called")})
	h.setup(t)
	h.c.Start()

	h.session.deliver(match(song.MediaItem{Title: "Song", Artist: "Band"}))

	s := waitFor(t, h.c, "result", isState(StateResult))
	if s.Song.Title != "Song" || s.Song.Artist != "Band" {
		t.Errorf("song = %+v", s.Song)
	}
	if h.pipeline.isRunning() {
		t.Error("capture still running after a match")
	}

	songs, err := h.history.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(songs) != 1 {
		t.Fatalf("history has %d songs, want 1", len(songs))
	}
	if songs[0].ArtworkURL != nil {
		t.Errorf("ArtworkURL = %q, want none", *songs[0].ArtworkURL)
	}
	if songs[0].ID != s.Song.ID {
		t.Error("stored record differs from published one")
	}
}

func TestMatchMissingFields(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)
	h.c.Start()

	h.session.deliver(match(song.MediaItem{}))

	s := waitFor(t, h.c, "result", isState(StateResult))
	if s.Song.Title != "Unknown" || s.Song.Artist != "Unknown" {
		t.Errorf("song = %+v, want Unknown fields", s.Song)
	}
}

func TestArtwork(t *testing.T) {
	art := &song.Artwork{Data: []byte{1, 2, 3}, Format: "png", Width: 1, Height: 1}
	tests := []struct {
		name    string
		fetcher *fakeFetcher
		want    *song.Artwork
	}{
		{"attached", &fakeFetcher{art: art}, art},
		{"fetch failure", &fakeFetcher{err: errors.New("404")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.fetcher)
			h.setup(t)
			h.c.Start()

			h.session.deliver(match(song.MediaItem{Title: "T", Artist: "A", ArtworkURL: "https://img.example/a.jpg"}))

			s := waitFor(t, h.c, "result", isState(StateResult))
			if s.Song.Artwork != tt.want {
				t.Errorf("Artwork = %v, want %v", s.Song.Artwork, tt.want)
			}
			if s.Error != "" {
				t.Errorf("Error = %q, want none", s.Error)
			}

			songs := h.history.All()
			if len(songs) != 1 {
				t.Fatalf("history has %d songs, want 1", len(songs))
			}
			if songs[0].ArtworkURL == nil || *songs[0].ArtworkURL != "https://img.example/a.jpg" {
				t.Errorf("stored ArtworkURL = %v", songs[0].ArtworkURL)
			}
		})
	}
}

func TestLateArtworkAfterStop(t *testing.T) {
	f := &fakeFetcher{release: make(chan struct{})}
	h := newHarness(t, f)
	h.setup(t)
	h.c.Start()

	h.session.deliver(match(song.MediaItem{Title: "Late", ArtworkURL: "https://img.example/late.jpg"}))
	h.c.Stop()
	if st := h.c.Snapshot().State(); st != StateIdle {
		t.Fatalf("state after Stop = %s, want idle", st)
	}

	close(f.release)
	s := waitFor(t, h.c, "result", isState(StateResult))
	if s.Song.Title != "Late" {
		t.Errorf("song = %+v", s.Song)
	}
	if n := h.history.Len(); n != 1 {
		t.Errorf("history has %d songs, want 1", n)
	}
}

func TestFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		prefix string
	}{
		{"no match", nil, "No matching song found. Please try again."},
		{"recognizer", &shazam.Error{Op: "tag", StatusCode: 500}, "Recognition error: "},
		{"capture", &audiostream.Error{Op: "read", Err: errors.New("overflow")}, "Audio error: "},
		{"other", errors.New("strange"), "An error occurred: strange"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.setup(t)
			h.c.Start()

			h.session.deliver(shazam.Outcome{Err: tt.err})

			s := waitFor(t, h.c, "error", isState(StateError))
			if !strings.HasPrefix(s.Error, tt.prefix) {
				t.Errorf("Error = %q, want prefix %q", s.Error, tt.prefix)
			}
			if s.Listening {
				t.Error("still listening")
			}
			if h.history.Len() != 0 {
				t.Error("failure stored a song")
			}
		})
	}
}

func TestPipelineStartFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.startErr = &audiostream.Error{Op: "open stream", Err: errors.New("device busy")}
	h.setup(t)

	h.c.Start()
	s := h.c.Snapshot()
	if s.Listening {
		t.Error("listening after start failure")
	}
	if s.Error != "Audio error: audio open stream: device busy" {
		t.Errorf("Error = %q", s.Error)
	}
}

func TestStartClearsPreviousOutcome(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)
	h.c.Start()
	h.session.deliver(match(song.MediaItem{Title: "First"}))
	waitFor(t, h.c, "result", isState(StateResult))

	h.c.Start()
	s := h.c.Snapshot()
	if s.Song != nil || s.Error != "" || !s.Listening {
		t.Fatalf("snapshot after restart = %+v", s)
	}
	if _, resets := h.session.counts(); resets != 2 {
		t.Errorf("session reset %d times, want 2", resets)
	}

	h.session.deliver(shazam.Outcome{})
	waitFor(t, h.c, "no match", isState(StateError))

	h.c.Start()
	if s := h.c.Snapshot(); s.Error != "" || !s.Listening {
		t.Fatalf("snapshot after restart = %+v", s)
	}
}

func TestStaleOutcomeDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)
	h.c.Start()
	h.c.Stop()
	h.c.Start()

	// an outcome of the first attempt arriving after the restart
	h.session.outcomes <- shazam.Outcome{Match: &shazam.Match{Items: []song.MediaItem{{Title: "Old"}}}, Attempt: 1}
	h.session.outcomes <- shazam.Outcome{Err: errors.New("late failure"), Attempt: 1}
	h.session.deliver(match(song.MediaItem{Title: "New"}))

	s := waitFor(t, h.c, "result", func(s Snapshot) bool { return s.Song != nil || s.Error != "" })
	if s.Song == nil || s.Song.Title != "New" {
		t.Fatalf("snapshot = %+v, want result New", s)
	}
	if titles := h.history.All(); len(titles) != 1 || titles[0].Title != "New" {
		t.Errorf("history = %v, want only New", titles)
	}
}

func TestArtworkAfterRestart(t *testing.T) {
	f := &fakeFetcher{called: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, f)
	h.setup(t)
	h.c.Start()

	h.session.deliver(match(song.MediaItem{Title: "Slow", ArtworkURL: "https://img.example/slow.jpg"}))
	select {
	case <-f.called:
	case <-time.After(2 * time.Second):
		t.Fatal("artwork was not fetched")
	}
	h.c.Start()
	close(f.release)

	deadline := time.Now().Add(2 * time.Second)
	for h.history.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("record of the earlier attempt was not saved")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s := h.c.Snapshot(); !s.Listening || s.Song != nil {
		t.Errorf("snapshot = %+v, want the new attempt still listening", s)
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	ch, cancel := h.c.Subscribe()
	defer cancel()

	next := func() Snapshot {
		t.Helper()
		select {
		case s := <-ch:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot")
			return Snapshot{}
		}
	}

	if st := next().State(); st != StateIdle {
		t.Fatalf("first snapshot = %s, want idle", st)
	}
	h.c.Start()
	if st := next().State(); st != StateListening {
		t.Fatalf("snapshot = %s, want listening", st)
	}
	h.session.deliver(match(song.MediaItem{Title: "Pushed"}))
	s := next()
	if s.State() != StateResult || s.Song.Title != "Pushed" {
		t.Fatalf("snapshot = %+v, want result", s)
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)
	ch, _ := h.c.Subscribe()
	<-ch
	h.c.Start()

	if err := h.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !h.pipeline.closed {
		t.Error("pipeline not closed")
	}
	if h.pipeline.isRunning() {
		t.Error("pipeline still running")
	}
	for range ch {
	}
	if st := h.c.Snapshot().State(); st != StateIdle {
		t.Errorf("state after Close = %s, want idle", st)
	}
	if err := h.c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
