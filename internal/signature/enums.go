package signature

import "fmt"

// FrequencyBand is one of the bands peaks are grouped into.
type FrequencyBand int

const (
	Band250To520   FrequencyBand = 0
	Band520To1450  FrequencyBand = 1
	Band1450To3500 FrequencyBand = 2
	Band3500To5500 FrequencyBand = 3
)

// bandForFrequency returns the band a peak at hz belongs to, or false when
// the frequency falls outside every band.
func bandForFrequency(hz float64) (FrequencyBand, bool) {
	switch {
	case hz < 250:
		return 0, false
	case hz < 520:
		return Band250To520, true
	case hz < 1450:
		return Band520To1450, true
	case hz < 3500:
		return Band1450To3500, true
	case hz <= 5500:
		return Band3500To5500, true
	default:
		return 0, false
	}
}

// SampleRate is a sample rate the signature header can describe.
type SampleRate int

const (
	SampleRate8000  SampleRate = 8000
	SampleRate11025 SampleRate = 11025
	SampleRate16000 SampleRate = 16000
	SampleRate32000 SampleRate = 32000
	SampleRate44100 SampleRate = 44100
	SampleRate48000 SampleRate = 48000
)

var sampleRateIDs = map[SampleRate]uint32{
	SampleRate8000:  1,
	SampleRate11025: 2,
	SampleRate16000: 3,
	SampleRate32000: 4,
	SampleRate44100: 5,
	SampleRate48000: 6,
}

func sampleRateID(hz int) (uint32, error) {
	id, ok := sampleRateIDs[SampleRate(hz)]
	if !ok {
		return 0, fmt.Errorf("unsupported sample rate: %d", hz)
	}
	return id, nil
}

func sampleRateFromID(id uint32) (int, error) {
	for rate, rid := range sampleRateIDs {
		if rid == id {
			return int(rate), nil
		}
	}
	return 0, fmt.Errorf("unknown sample rate id: %d", id)
}
