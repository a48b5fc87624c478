package audiostream

import (
	"time"
)

// DefaultBufferFrames is the tap size used when none is configured.
const DefaultBufferFrames = 2048

// Buffer is a block of captured audio and its position in the stream.
type Buffer struct {
	// Samples are interleaved when Channels > 1, normalized to [-1, 1].
	Samples    []float32
	SampleRate int
	Channels   int
	// Time is the stream position of the first frame.
	Time time.Duration
}

// Frames returns the number of frames in the buffer.
func (b Buffer) Frames() int {
	if b.Channels <= 1 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Channels
}

// Duration returns how much audio the buffer holds.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Tap receives every buffer the pipeline captures. It is called from the
// pipeline's capture goroutine and must not block for long.
type Tap func(Buffer)

// Pipeline is a continuous capture source with a single streaming tap.
type Pipeline interface {
	// InstallTap replaces the current tap. frames is the buffer size the
	// tap wants to receive.
	InstallTap(frames int, tap Tap)
	// RemoveTap detaches the tap; captured audio is dropped afterwards.
	RemoveTap()
	// Start begins capture. Starting a running pipeline is a no-op.
	Start() error
	// Stop halts capture. Stopping an idle pipeline is a no-op.
	Stop()
	// Close releases the underlying device or file.
	Close() error
}

// Mono mixes interleaved samples down to a single channel.
func Mono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j+1 >= len(samples) {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
