package shazam

import (
	"context"
	"sync"
	"time"

	"enseek/internal/audiostream"
	"enseek/internal/signature"
)

const (
	DefaultWindow    = 4 * time.Second
	DefaultMaxWindow = 12 * time.Second
)

// Outcome is one result of a streaming session. A nil Match with a nil Err
// means the audio heard so far matched nothing.
type Outcome struct {
	Match *Match
	Err   error
	// Attempt is the value Reset returned before the audio was captured.
	Attempt int
}

// Session is a stateful recognition session fed with streamed audio.
type Session interface {
	// MatchStreamingBuffer queues captured audio. It never blocks on the
	// network.
	MatchStreamingBuffer(buf audiostream.Buffer)
	// Outcomes delivers results one at a time.
	Outcomes() <-chan Outcome
	// Reset drops accumulated audio, rearms a finished session and returns
	// the attempt number carried by the outcomes that follow.
	Reset() int
	Close() error
}

// recognizer is the part of Client a StreamSession needs.
type recognizer interface {
	Recognize(ctx context.Context, sig *signature.DecodedMessage) (*Match, error)
}

// StreamSession signs a sliding window of streamed audio every window of
// new audio and asks the service about it. Intermediate misses are retried
// until the window reaches maxWindow; the first reported outcome finishes
// the session until Reset.
type StreamSession struct {
	rec       recognizer
	window    int
	maxWindow int
	ctx       context.Context
	cancel    context.CancelFunc
	outcomes  chan Outcome
	wg        sync.WaitGroup

	mu         sync.Mutex
	samples    []float32
	pending    int
	inFlight   bool
	finished   bool
	closed     bool
	generation int
}

// NewSession starts a streaming session using the client's endpoint.
func (c *Client) NewSession(ctx context.Context, window, maxWindow time.Duration) *StreamSession {
	return newStreamSession(ctx, c, window, maxWindow)
}

func newStreamSession(ctx context.Context, rec recognizer, window, maxWindow time.Duration) *StreamSession {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxWindow < window {
		maxWindow = DefaultMaxWindow
		if maxWindow < window {
			maxWindow = window
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	return &StreamSession{
		rec:       rec,
		window:    samplesFor(window),
		maxWindow: samplesFor(maxWindow),
		ctx:       ctx,
		cancel:    cancel,
		outcomes:  make(chan Outcome, 1),
	}
}

func samplesFor(d time.Duration) int {
	return int(d * time.Duration(signature.SampleRateHz) / time.Second)
}

func (s *StreamSession) Outcomes() <-chan Outcome {
	return s.outcomes
}

func (s *StreamSession) MatchStreamingBuffer(buf audiostream.Buffer) {
	mono := audiostream.Resample(audiostream.Mono(buf.Samples, buf.Channels), buf.SampleRate, signature.SampleRateHz)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.finished {
		return
	}

	s.samples = append(s.samples, mono...)
	if extra := len(s.samples) - s.maxWindow; extra > 0 {
		s.samples = append(s.samples[:0], s.samples[extra:]...)
	}
	s.pending += len(mono)

	if s.inFlight || s.pending < s.window {
		return
	}

	snapshot := make([]float32, len(s.samples))
	copy(snapshot, s.samples)
	final := len(snapshot) >= s.maxWindow
	s.pending = 0
	s.inFlight = true
	s.wg.Add(1)
	go s.query(snapshot, final, s.generation)
}

func (s *StreamSession) query(samples []float32, final bool, generation int) {
	defer s.wg.Done()

	out := Outcome{Attempt: generation}
	msg, err := signature.Generate(samples)
	if err != nil {
		out.Err = &Error{Op: "sign audio", Err: err}
	} else {
		out.Match, out.Err = s.rec.Recognize(s.ctx, msg)
	}

	report := out.Err != nil || out.Match != nil || final
	if s.ctx.Err() != nil {
		report = false
	}

	s.mu.Lock()
	if generation != s.generation {
		report = false
	}
	if report {
		s.finished = true
	}
	s.mu.Unlock()

	if report {
		select {
		case s.outcomes <- out:
		case <-s.ctx.Done():
		}
	}

	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Reset drops accumulated audio. A query already in flight is not
// reported; one that finished just before may still be delivered with the
// previous attempt number.
func (s *StreamSession) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
	s.pending = 0
	s.finished = false
	s.generation++
	return s.generation
}

// Close cancels any request in flight and closes Outcomes.
func (s *StreamSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	close(s.outcomes)
	return nil
}
