package signature

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"sort"
)

const (
	DataURIPrefix = "data:audio/vnd.shazam.sig;base64,"
	Magic1        = 0xCAFE2580
	Magic2        = 0x94119C00

	headerSize      = 48
	contentsMarker  = 0x40000000
	bandTagBase     = 0x60030040
	fixedValue      = (15 << 19) + 0x40000
	peakPassEscape  = 0xFF
	samplesRateMult = 0.24
)

var (
	// ErrTooShort is returned for blobs smaller than a signature header.
	ErrTooShort = errors.New("signature: data too short")
	// ErrChecksum is returned when the CRC32 does not match the contents.
	ErrChecksum = errors.New("signature: checksum mismatch")
	// ErrBandLength is returned when a band claims more bytes than remain.
	ErrBandLength = errors.New("signature: band length exceeds data")
)

// RawSignatureHeader is the fixed 48 byte header of a binary signature.
type RawSignatureHeader struct {
	Magic1                       uint32
	CRC32                        uint32
	SizeMinusHeader              uint32
	Magic2                       uint32
	Void1                        [3]uint32
	ShiftedSampleRateID          uint32
	Void2                        [2]uint32
	NumberSamplesPlusDividedRate uint32
	FixedValue                   uint32
}

// FrequencyPeak is a single spectral peak of the signature.
type FrequencyPeak struct {
	FFTPassNumber             int
	PeakMagnitude             int
	CorrectedPeakFrequencyBin int
	SampleRateHz              int
}

// GetFrequencyHz converts the corrected bin to Hz.
func (fp *FrequencyPeak) GetFrequencyHz() float64 {
	return float64(fp.CorrectedPeakFrequencyBin) * (float64(fp.SampleRateHz) / 2 / 1024 / 64)
}

// GetAmplitudePCM converts the stored magnitude back to a PCM amplitude.
func (fp *FrequencyPeak) GetAmplitudePCM() float64 {
	return math.Sqrt(math.Exp(float64(fp.PeakMagnitude-6144)/1477.3)*(1<<17)/2) / 1024
}

// GetSeconds returns the position of the peak in the signed audio.
func (fp *FrequencyPeak) GetSeconds() float64 {
	return float64(fp.FFTPassNumber*128) / float64(fp.SampleRateHz)
}

// DecodedMessage is the in-memory form of a signature.
type DecodedMessage struct {
	SampleRateHz              int
	NumberSamples             int
	FrequencyBandToSoundPeaks map[FrequencyBand][]FrequencyPeak
}

// DurationMillis returns the length of the signed audio in milliseconds.
func (msg *DecodedMessage) DurationMillis() int {
	if msg.SampleRateHz == 0 {
		return 0
	}
	return msg.NumberSamples * 1000 / msg.SampleRateHz
}

// PeakCount returns the total number of peaks across all bands.
func (msg *DecodedMessage) PeakCount() int {
	n := 0
	for _, peaks := range msg.FrequencyBandToSoundPeaks {
		n += len(peaks)
	}
	return n
}

// DecodeFromBinary parses a binary signature.
func DecodeFromBinary(data []byte) (*DecodedMessage, error) {
	if len(data) < headerSize+8 {
		return nil, ErrTooShort
	}

	buf := bytes.NewReader(data)
	header := &RawSignatureHeader{}
	if err := binary.Read(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if header.Magic1 != Magic1 {
		return nil, fmt.Errorf("invalid magic1: %x", header.Magic1)
	}
	if header.SizeMinusHeader != uint32(len(data)-headerSize) {
		return nil, fmt.Errorf("invalid size: %d", header.SizeMinusHeader)
	}
	if crc32.ChecksumIEEE(data[8:]) != header.CRC32 {
		return nil, ErrChecksum
	}
	if header.Magic2 != Magic2 {
		return nil, fmt.Errorf("invalid magic2: %x", header.Magic2)
	}

	sampleRate, err := sampleRateFromID(header.ShiftedSampleRateID >> 27)
	if err != nil {
		return nil, err
	}

	msg := &DecodedMessage{
		SampleRateHz:              sampleRate,
		NumberSamples:             int(float64(header.NumberSamplesPlusDividedRate) - float64(sampleRate)*samplesRateMult),
		FrequencyBandToSoundPeaks: make(map[FrequencyBand][]FrequencyPeak),
	}

	var marker [2]uint32
	if err := binary.Read(buf, binary.LittleEndian, &marker); err != nil {
		return nil, fmt.Errorf("read contents marker: %w", err)
	}
	if marker[0] != contentsMarker {
		return nil, fmt.Errorf("invalid contents marker: %x", marker[0])
	}

	var tlv [2]uint32
	for {
		if err := binary.Read(buf, binary.LittleEndian, &tlv); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read band header: %w", err)
		}

		band := FrequencyBand(tlv[0] - bandTagBase)
		if int64(tlv[1]) > int64(buf.Len()) {
			return nil, fmt.Errorf("%w: band %d wants %d bytes, %d left", ErrBandLength, band, tlv[1], buf.Len())
		}
		peaksBuf := make([]byte, tlv[1])
		if _, err := io.ReadFull(buf, peaksBuf); err != nil {
			return nil, fmt.Errorf("read band %d: %w", band, err)
		}
		if _, err := buf.Seek(int64(padding(len(peaksBuf))), io.SeekCurrent); err != nil {
			return nil, err
		}

		peaks, err := decodePeaks(peaksBuf, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("decode band %d: %w", band, err)
		}
		msg.FrequencyBandToSoundPeaks[band] = append(msg.FrequencyBandToSoundPeaks[band], peaks...)
	}

	return msg, nil
}

func decodePeaks(data []byte, sampleRate int) ([]FrequencyPeak, error) {
	var peaks []FrequencyPeak
	r := bytes.NewReader(data)
	fftPassNumber := 0

	for {
		offset, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return peaks, nil
			}
			return nil, err
		}

		if offset == peakPassEscape {
			var pass uint32
			if err := binary.Read(r, binary.LittleEndian, &pass); err != nil {
				return nil, err
			}
			fftPassNumber = int(pass)
			continue
		}

		fftPassNumber += int(offset)
		var fields [2]uint16
		if err := binary.Read(r, binary.LittleEndian, &fields); err != nil {
			return nil, err
		}

		peaks = append(peaks, FrequencyPeak{
			FFTPassNumber:             fftPassNumber,
			PeakMagnitude:             int(fields[0]),
			CorrectedPeakFrequencyBin: int(fields[1]),
			SampleRateHz:              sampleRate,
		})
	}
}

// EncodeToBinary serializes the message. Bands are written in ascending
// order so equal messages produce equal bytes.
func (msg *DecodedMessage) EncodeToBinary() ([]byte, error) {
	rateID, err := sampleRateID(msg.SampleRateHz)
	if err != nil {
		return nil, err
	}

	bands := make([]FrequencyBand, 0, len(msg.FrequencyBandToSoundPeaks))
	for band := range msg.FrequencyBandToSoundPeaks {
		bands = append(bands, band)
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i] < bands[j] })

	contents := new(bytes.Buffer)
	for _, band := range bands {
		peaksBuf := new(bytes.Buffer)
		fftPassNumber := 0

		for _, peak := range msg.FrequencyBandToSoundPeaks[band] {
			if peak.FFTPassNumber < fftPassNumber {
				return nil, fmt.Errorf("band %d: peaks out of order at pass %d", band, peak.FFTPassNumber)
			}
			if peak.FFTPassNumber-fftPassNumber >= peakPassEscape {
				peaksBuf.WriteByte(peakPassEscape)
				binary.Write(peaksBuf, binary.LittleEndian, uint32(peak.FFTPassNumber))
				fftPassNumber = peak.FFTPassNumber
			}

			peaksBuf.WriteByte(byte(peak.FFTPassNumber - fftPassNumber))
			binary.Write(peaksBuf, binary.LittleEndian, uint16(peak.PeakMagnitude))
			binary.Write(peaksBuf, binary.LittleEndian, uint16(peak.CorrectedPeakFrequencyBin))
			fftPassNumber = peak.FFTPassNumber
		}

		binary.Write(contents, binary.LittleEndian, uint32(bandTagBase+int(band)))
		binary.Write(contents, binary.LittleEndian, uint32(peaksBuf.Len()))
		contents.Write(peaksBuf.Bytes())
		contents.Write(make([]byte, padding(peaksBuf.Len())))
	}

	header := &RawSignatureHeader{
		Magic1:                       Magic1,
		Magic2:                       Magic2,
		SizeMinusHeader:              uint32(contents.Len() + 8),
		ShiftedSampleRateID:          rateID << 27,
		FixedValue:                   fixedValue,
		NumberSamplesPlusDividedRate: uint32(float64(msg.NumberSamples) + float64(msg.SampleRateHz)*samplesRateMult),
	}

	out := new(bytes.Buffer)
	binary.Write(out, binary.LittleEndian, header)
	binary.Write(out, binary.LittleEndian, uint32(contentsMarker))
	binary.Write(out, binary.LittleEndian, uint32(contents.Len()+8))
	out.Write(contents.Bytes())

	data := out.Bytes()
	binary.LittleEndian.PutUint32(data[4:8], crc32.ChecksumIEEE(data[8:]))
	return data, nil
}

// EncodeToURI encodes the signature as a data URI.
func (msg *DecodedMessage) EncodeToURI() (string, error) {
	data, err := msg.EncodeToBinary()
	if err != nil {
		return "", err
	}
	return DataURIPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeFromURI parses a data URI produced by EncodeToURI.
func DecodeFromURI(uri string) (*DecodedMessage, error) {
	if len(uri) < len(DataURIPrefix) || uri[:len(DataURIPrefix)] != DataURIPrefix {
		return nil, fmt.Errorf("signature: missing %q prefix", DataURIPrefix)
	}
	data, err := base64.StdEncoding.DecodeString(uri[len(DataURIPrefix):])
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	return DecodeFromBinary(data)
}

func padding(n int) int {
	return (4 - n%4) % 4
}
