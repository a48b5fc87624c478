package audiostream

import (
	"sync"
	"time"
)

// FilePipeline replays a decoded clip as if it were captured live.
type FilePipeline struct {
	mu      sync.Mutex
	clip    *Clip
	paced   bool
	frames  int
	tap     Tap
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// OpenFile decodes a WAV file for replay. When paced is set buffers are
// delivered in real time, otherwise as fast as the tap consumes them.
func OpenFile(path string, paced bool) (*FilePipeline, error) {
	clip, err := ReadWAV(path)
	if err != nil {
		return nil, wrap("open file", err)
	}
	return NewClipPipeline(clip, paced), nil
}

// NewClipPipeline replays an already decoded clip.
func NewClipPipeline(clip *Clip, paced bool) *FilePipeline {
	return &FilePipeline{clip: clip, paced: paced, frames: DefaultBufferFrames}
}

func (p *FilePipeline) InstallTap(frames int, tap Tap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if frames > 0 {
		p.frames = frames
	}
	p.tap = tap
}

func (p *FilePipeline) RemoveTap() {
	p.mu.Lock()
	p.tap = nil
	p.mu.Unlock()
}

func (p *FilePipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.replay(p.frames, p.stop, p.done)
	return nil
}

func (p *FilePipeline) replay(frames int, stop, done chan struct{}) {
	defer close(done)

	channels := p.clip.Channels
	if channels < 1 {
		channels = 1
	}
	step := frames * channels
	bufDur := time.Duration(frames) * time.Second / time.Duration(p.clip.SampleRate)

	for off := 0; off < len(p.clip.Samples); off += step {
		select {
		case <-stop:
			return
		default:
		}

		end := off + step
		if end > len(p.clip.Samples) {
			end = len(p.clip.Samples)
		}
		samples := make([]float32, end-off)
		copy(samples, p.clip.Samples[off:end])

		p.mu.Lock()
		tap := p.tap
		p.mu.Unlock()
		if tap != nil {
			tap(Buffer{
				Samples:    samples,
				SampleRate: p.clip.SampleRate,
				Channels:   channels,
				Time:       time.Duration(off/channels) * time.Second / time.Duration(p.clip.SampleRate),
			})
		}

		if p.paced {
			select {
			case <-stop:
				return
			case <-time.After(bufDur):
			}
		}
	}
}

// Done is closed when the current replay reaches the end of the clip or is
// stopped. It returns nil before the first Start.
func (p *FilePipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *FilePipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()
	<-done
}

func (p *FilePipeline) Close() error {
	p.Stop()
	return nil
}
