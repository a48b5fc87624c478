// Package recognition drives a listening session: it streams captured audio
// into a recognizer session, turns matches into history records and
// publishes the resulting state to subscribers.
//
// Every change to the published state happens on a single dispatch queue,
// so subscribers observe snapshots in the order they were produced.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"enseek/internal/audiostream"
	"enseek/internal/dispatch"
	"enseek/internal/metrics"
	"enseek/internal/shazam"
	"enseek/internal/song"
)

// ErrSetup wraps failures to open the capture pipeline or the recognizer.
var ErrSetup = errors.New("recognition: setup failed")

const (
	msgNotInitialized = "Audio engine not initialized"
	msgNoMatch        = "No matching song found. Please try again."
)

type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateResult    State = "result"
	StateError     State = "error"
)

// Snapshot is the observable state of a Controller.
type Snapshot struct {
	Listening bool       `json:"listening"`
	Song      *song.Song `json:"song,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (s Snapshot) State() State {
	switch {
	case s.Listening:
		return StateListening
	case s.Error != "":
		return StateError
	case s.Song != nil:
		return StateResult
	default:
		return StateIdle
	}
}

// ArtworkFetcher downloads album art.
type ArtworkFetcher interface {
	Fetch(ctx context.Context, url string) (*song.Artwork, error)
}

// HistoryStore receives every recognized song.
type HistoryStore interface {
	Save(s song.Song) error
	Len() int
}

type Config struct {
	// Pipeline opens the capture pipeline during Setup.
	Pipeline func() (audiostream.Pipeline, error)
	// Session opens the recognizer session during Setup.
	Session func(ctx context.Context) (shazam.Session, error)

	Artwork      ArtworkFetcher
	History      HistoryStore
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	BufferFrames int
	Now          func() time.Time
}

type Controller struct {
	cfg    Config
	log    *slog.Logger
	main   *dispatch.Queue
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Owned by the main queue.
	pipeline audiostream.Pipeline
	session  shazam.Session
	snap     Snapshot
	subs     map[chan Snapshot]struct{}
	started  time.Time
	attempt  int
}

func New(cfg Config) *Controller {
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = audiostream.DefaultBufferFrames
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:    cfg,
		log:    log.With("component", "recognition"),
		main:   dispatch.NewQueue(),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[chan Snapshot]struct{}),
	}
}

// Setup opens the capture pipeline and the recognizer session. On failure
// the pipeline stays uninitialized and the error is published.
func (c *Controller) Setup() error {
	var setupErr error
	err := c.main.Sync(func() {
		if c.pipeline != nil {
			return
		}

		pipeline, err := c.cfg.Pipeline()
		if err != nil {
			setupErr = c.setupFailed(err)
			return
		}
		session, err := c.cfg.Session(c.ctx)
		if err != nil {
			_ = pipeline.Close()
			setupErr = c.setupFailed(err)
			return
		}

		c.pipeline = pipeline
		c.session = session
		c.wg.Add(1)
		go c.receive(session.Outcomes())
		c.log.Debug("capture pipeline ready")
	})
	if err != nil {
		return err
	}
	return setupErr
}

// setupFailed runs on the main queue.
func (c *Controller) setupFailed(err error) error {
	c.log.Error("setup failed", "err", err)
	c.cfg.Metrics.Recognitions.WithLabelValues(metrics.OutcomeSetupError).Inc()
	c.snap.Error = "Setup failed: " + err.Error()
	c.publish()
	return fmt.Errorf("%w: %w", ErrSetup, err)
}

// Start clears the previous result and begins streaming audio to the
// recognizer.
func (c *Controller) Start() {
	_ = c.main.Sync(func() {
		if c.pipeline == nil {
			c.cfg.Metrics.Recognitions.WithLabelValues(metrics.OutcomeSetupError).Inc()
			c.snap.Error = msgNotInitialized
			c.publish()
			return
		}

		c.snap.Song = nil
		c.snap.Error = ""
		c.snap.Listening = true
		c.started = c.cfg.Now()

		session := c.session
		c.pipeline.RemoveTap()
		c.attempt = session.Reset()
		c.pipeline.InstallTap(c.cfg.BufferFrames, func(buf audiostream.Buffer) {
			session.MatchStreamingBuffer(buf)
		})

		if err := c.pipeline.Start(); err != nil {
			c.fail(err)
			return
		}
		c.cfg.Metrics.Listening.Set(1)
		c.log.Info("listening")
		c.publish()
	})
}

// Stop ends capture. It is a no-op when not listening.
func (c *Controller) Stop() {
	_ = c.main.Sync(c.stop)
}

func (c *Controller) stop() {
	if c.pipeline != nil {
		c.pipeline.Stop()
		c.pipeline.RemoveTap()
	}
	c.cfg.Metrics.Listening.Set(0)
	if !c.snap.Listening {
		return
	}
	c.snap.Listening = false
	c.log.Info("stopped listening")
	c.publish()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	var s Snapshot
	if err := c.main.Sync(func() { s = c.snap }); err != nil {
		return c.snap
	}
	return s
}

// Subscribe returns a channel receiving a snapshot after every state change,
// starting with the current one. Slow readers only miss intermediate states.
// The channel is closed by cancel or Close.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	err := c.main.Sync(func() {
		c.subs[ch] = struct{}{}
		ch <- c.snap
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = c.main.Sync(func() {
				if _, ok := c.subs[ch]; ok {
					delete(c.subs, ch)
					close(ch)
				}
			})
		})
	}
}

// publish runs on the main queue.
func (c *Controller) publish() {
	s := c.snap
	for ch := range c.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (c *Controller) receive(outcomes <-chan shazam.Outcome) {
	defer c.wg.Done()
	for out := range outcomes {
		c.main.Post(func() { c.handle(out) })
	}
}

// handle runs on the main queue. Outcomes of an earlier Start are dropped.
func (c *Controller) handle(out shazam.Outcome) {
	if out.Attempt != c.attempt {
		c.log.Debug("dropping outcome of an earlier attempt", "attempt", out.Attempt, "current", c.attempt)
		return
	}

	switch {
	case out.Err != nil:
		c.fail(out.Err)
	case out.Match == nil:
		c.noMatch()
	case len(out.Match.Items) == 0:
		c.log.Warn("match without media items")
	default:
		c.matched(song.FromMediaItem(out.Match.Items[0], c.cfg.Now()), out.Attempt)
	}
}

// matched runs on the main queue. The artwork fetch is skipped once Close
// has cancelled the context.
func (c *Controller) matched(rec song.Song, attempt int) {
	if rec.ArtworkURL == nil || c.cfg.Artwork == nil || c.ctx.Err() != nil {
		c.cfg.Metrics.ArtworkFetches.WithLabelValues(metrics.ArtworkNone).Inc()
		c.found(rec, attempt)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		art, err := c.cfg.Artwork.Fetch(c.ctx, *rec.ArtworkURL)
		if err != nil {
			c.cfg.Metrics.ArtworkFetches.WithLabelValues(metrics.ArtworkFailed).Inc()
			c.log.Debug("artwork fetch failed", "url", *rec.ArtworkURL, "err", err)
		} else {
			c.cfg.Metrics.ArtworkFetches.WithLabelValues(metrics.ArtworkOK).Inc()
			rec = rec.WithArtwork(art)
		}
		c.main.Post(func() { c.found(rec, attempt) })
	}()
}

// found runs on the main queue. A record whose artwork arrives after the
// next Start is still saved but no longer published.
func (c *Controller) found(rec song.Song, attempt int) {
	current := attempt == c.attempt
	if current {
		c.observe()
		c.stopCapture()
		c.snap.Song = &rec
		c.snap.Listening = false
		c.snap.Error = ""
	}

	if c.cfg.History != nil {
		if err := c.cfg.History.Save(rec); err != nil {
			c.log.Error("saving song", "title", rec.Title, "err", err)
		} else {
			c.cfg.Metrics.HistorySize.Set(float64(c.cfg.History.Len()))
		}
	}
	c.cfg.Metrics.Recognitions.WithLabelValues(metrics.OutcomeMatch).Inc()
	c.log.Info("song recognized", "title", rec.Title, "artist", rec.Artist)
	if current {
		c.publish()
	}
}

// noMatch runs on the main queue.
func (c *Controller) noMatch() {
	c.observe()
	c.stopCapture()
	c.snap.Listening = false
	c.snap.Error = msgNoMatch
	c.cfg.Metrics.Recognitions.WithLabelValues(metrics.OutcomeNoMatch).Inc()
	c.log.Info("no match")
	c.publish()
}

// fail runs on the main queue.
func (c *Controller) fail(err error) {
	c.stopCapture()
	c.snap.Listening = false

	var (
		serr *shazam.Error
		aerr *audiostream.Error
	)
	switch {
	case errors.As(err, &serr):
		c.snap.Error = "Recognition error: " + err.Error()
		c.cfg.Metrics.Recognitions.WithLabelValues(metrics.OutcomeRecognitionError).Inc()
	case errors.As(err, &aerr):
		c.snap.Error = "Audio error: " + err.Error()
		c.cfg.Metrics.Recognitions.WithLabelValues(metrics.OutcomeAudioError).Inc()
	default:
		c.snap.Error = "An error occurred: " + err.Error()
		c.cfg.Metrics.Recognitions.WithLabelValues(metrics.OutcomeOtherError).Inc()
	}
	c.log.Warn("recognition failed", "err", err)
	c.publish()
}

// stopCapture ends capture once an outcome is final. Runs on the main queue.
func (c *Controller) stopCapture() {
	if c.pipeline == nil || !c.snap.Listening {
		return
	}
	c.pipeline.Stop()
	c.pipeline.RemoveTap()
	c.cfg.Metrics.Listening.Set(0)
}

func (c *Controller) observe() {
	if c.started.IsZero() {
		return
	}
	c.cfg.Metrics.TimeToResult.Observe(c.cfg.Now().Sub(c.started).Seconds())
	c.started = time.Time{}
}

// Close stops capture, closes the recognizer session and the pipeline and
// waits for pending results to be delivered. Subscriber channels are closed.
func (c *Controller) Close() error {
	var (
		pipeline audiostream.Pipeline
		session  shazam.Session
	)
	err := c.main.Sync(func() {
		c.stop()
		c.cancel()
		pipeline, session = c.pipeline, c.session
	})
	if err != nil {
		return nil
	}

	var errs []error
	if session != nil {
		errs = append(errs, session.Close())
	}
	c.wg.Wait()
	c.main.Close()

	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	if pipeline != nil {
		errs = append(errs, pipeline.Close())
	}
	return errors.Join(errs...)
}
