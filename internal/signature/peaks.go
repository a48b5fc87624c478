package signature

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	fftSize       = 2048
	hopSize       = 128
	peaksPerBand  = 2
	minMagnitude  = 4.0
	passesPerScan = 4 // only every 4th hop is analysed
)

type spectralPeak struct {
	bin       int
	magnitude float64
}

// extractPeaks runs a sliding FFT over mono samples and returns the
// strongest local maxima per band for every analysed pass.
func extractPeaks(samples []float32, sampleRate int) map[FrequencyBand][]FrequencyPeak {
	out := make(map[FrequencyBand][]FrequencyPeak)
	if len(samples) < fftSize {
		return out
	}

	hann := window.Hann(fftSize)
	frame := make([]float64, fftSize)
	binHz := float64(sampleRate) / fftSize

	for pass := 0; pass*hopSize+fftSize <= len(samples); pass += passesPerScan {
		start := pass * hopSize
		for i := range frame {
			frame[i] = float64(samples[start+i]) * hann[i]
		}

		spectrum := fft.FFTReal(frame)
		mags := make([]float64, fftSize/2)
		for i := range mags {
			mags[i] = cmplx.Abs(spectrum[i])
		}

		byBand := make(map[FrequencyBand][]spectralPeak)
		for i := 1; i < len(mags)-1; i++ {
			if mags[i] < minMagnitude || mags[i] <= mags[i-1] || mags[i] < mags[i+1] {
				continue
			}
			band, ok := bandForFrequency(float64(i) * binHz)
			if !ok {
				continue
			}
			byBand[band] = append(byBand[band], spectralPeak{bin: i, magnitude: mags[i]})
		}

		for band, peaks := range byBand {
			sort.Slice(peaks, func(a, b int) bool { return peaks[a].magnitude > peaks[b].magnitude })
			if len(peaks) > peaksPerBand {
				peaks = peaks[:peaksPerBand]
			}
			sort.Slice(peaks, func(a, b int) bool { return peaks[a].bin < peaks[b].bin })
			for _, p := range peaks {
				out[band] = append(out[band], FrequencyPeak{
					FFTPassNumber:             pass,
					PeakMagnitude:             encodeMagnitude(p.magnitude / fftSize * 2),
					CorrectedPeakFrequencyBin: p.bin * 64,
					SampleRateHz:              sampleRate,
				})
			}
		}
	}

	return out
}

// encodeMagnitude is the inverse of FrequencyPeak.GetAmplitudePCM, clamped
// to the uint16 range of the wire format.
func encodeMagnitude(amplitude float64) int {
	if amplitude <= 0 {
		return 0
	}
	x := amplitude * 1024
	v := math.Log(x*x*2/(1<<17))*1477.3 + 6144
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint16:
		return math.MaxUint16
	default:
		return int(math.Round(v))
	}
}
