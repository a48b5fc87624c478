package audiostream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// MicPipeline captures mono audio from the default input device.
type MicPipeline struct {
	mu         sync.Mutex
	log        *slog.Logger
	sampleRate int
	frames     int
	tap        Tap
	stream     *portaudio.Stream
	buffer     []float32
	running    bool
	position   int64
	done       chan struct{}
}

// NewMic initializes PortAudio and checks that an input device exists.
func NewMic(sampleRate int, log *slog.Logger) (*MicPipeline, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, wrap("initialize", err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		portaudio.Terminate()
		if err == nil {
			err = ErrNoInputDevice
		}
		return nil, wrap("input device", err)
	}
	log.Debug("audio input", "device", dev.Name, "default_rate", dev.DefaultSampleRate)

	return &MicPipeline{
		log:        log,
		sampleRate: sampleRate,
		frames:     DefaultBufferFrames,
	}, nil
}

func (m *MicPipeline) InstallTap(frames int, tap Tap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frames > 0 {
		m.frames = frames
	}
	m.tap = tap
}

func (m *MicPipeline) RemoveTap() {
	m.mu.Lock()
	m.tap = nil
	m.mu.Unlock()
}

func (m *MicPipeline) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.buffer = make([]float32, m.frames)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), m.frames, m.buffer)
	if err != nil {
		return wrap("open stream", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return wrap("start", err)
	}

	m.stream = stream
	m.running = true
	m.position = 0
	m.done = make(chan struct{})

	go m.readLoop(stream, m.frames, m.done)
	return nil
}

func (m *MicPipeline) readLoop(stream *portaudio.Stream, frames int, done chan struct{}) {
	defer close(done)

	for {
		if !m.isRunning() {
			return
		}

		available, err := stream.AvailableToRead()
		if err != nil || available < frames {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := stream.Read(); err != nil {
			m.log.Debug("audio read failed", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			return
		}
		samples := make([]float32, len(m.buffer))
		copy(samples, m.buffer)
		at := time.Duration(m.position) * time.Second / time.Duration(m.sampleRate)
		m.position += int64(len(samples))
		tap := m.tap
		m.mu.Unlock()

		if tap != nil {
			tap(Buffer{Samples: samples, SampleRate: m.sampleRate, Channels: 1, Time: at})
		}
	}
}

func (m *MicPipeline) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *MicPipeline) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stream := m.stream
	m.stream = nil
	done := m.done
	m.mu.Unlock()

	// the read loop polls running every 10ms
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}

	stream.Stop()
	stream.Close()
}

// Close stops capture and terminates PortAudio.
func (m *MicPipeline) Close() error {
	m.Stop()
	return wrap("terminate", portaudio.Terminate())
}
