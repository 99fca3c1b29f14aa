package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gopxl/beep"
)

// DefaultResampleQuality is the beep resampler quality used when none is
// configured. Valid values are 1 to 64; higher is slower and more accurate.
const DefaultResampleQuality = 4

// FormatConverter reduces decoded audio to a target format: downmix first,
// then resample. It logs a warning the first time it sees more than two
// channels, which usually means a surround export was uploaded by mistake.
// A zero Quality uses [DefaultResampleQuality].
type FormatConverter struct {
	Target  Format
	Quality int

	warnedSurround sync.Once
}

// Convert returns buf reduced to the target format. If buf already matches,
// it is returned unchanged (zero allocation).
func (c *FormatConverter) Convert(buf PCMBuffer) (PCMBuffer, error) {
	if buf.SampleRate == c.Target.SampleRate && buf.Channels == c.Target.Channels {
		return buf, nil
	}
	if c.Target.Channels != 1 {
		return PCMBuffer{}, fmt.Errorf("audio: convert to %s: only mono targets are supported", c.Target)
	}
	if buf.Channels > 2 {
		c.warnedSurround.Do(func() {
			slog.Warn("audio converter: downmixing multi-channel input",
				"from", buf.Format().String(),
				"to", c.Target.String(),
			)
		})
	}

	mono := Downmix(buf.Samples, buf.Channels)
	quality := c.Quality
	if quality == 0 {
		quality = DefaultResampleQuality
	}
	out, err := Resample(mono, buf.SampleRate, c.Target.SampleRate, quality)
	if err != nil {
		return PCMBuffer{}, err
	}
	return PCMBuffer{
		Samples:    out,
		SampleRate: c.Target.SampleRate,
		Channels:   1,
	}, nil
}

// Downmix averages interleaved multi-channel samples into mono. With
// channels <= 1 a copy of the input is returned. A trailing partial frame is
// dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	inv := 1 / float32(channels)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum * inv
	}
	return out
}

// Int16ToFloat32 converts signed 16-bit samples to float32 normalised to
// [-1.0, 1.0).
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// IntToFloat32 converts integer samples of the given bit depth to float32
// normalised to [-1.0, 1.0). 8-bit input is treated as unsigned, as stored
// in WAV files.
func IntToFloat32(data []int, bitDepth int) ([]float32, error) {
	out := make([]float32, len(data))
	switch bitDepth {
	case 8:
		for i, v := range data {
			out[i] = float32(v-128) / 128.0
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (bitDepth - 1))
		for i, v := range data {
			out[i] = float32(v) / scale
		}
	default:
		return nil, fmt.Errorf("audio: unsupported bit depth %d", bitDepth)
	}
	return out, nil
}

// Resample converts mono samples from srcRate to dstRate using beep's
// windowed-sinc resampler at the given quality. If the rates match, a copy
// is returned. Output is clamped to [-1.0, 1.0] and trimmed to the expected
// length.
func Resample(samples []float32, srcRate, dstRate, quality int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample %d Hz -> %d Hz: rates must be positive", srcRate, dstRate)
	}
	if quality < 1 || quality > 64 {
		return nil, fmt.Errorf("audio: resample quality %d out of range [1, 64]", quality)
	}
	if srcRate == dstRate || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	want := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	r := beep.Resample(quality, beep.SampleRate(srcRate), beep.SampleRate(dstRate), &monoStreamer{samples: samples})

	out := make([]float32, 0, want+1)
	chunk := make([][2]float64, 1024)
	for len(out) < want {
		n, ok := r.Stream(chunk)
		for i := range n {
			out = append(out, clamp(float32(chunk[i][0])))
		}
		if !ok || n == 0 {
			break
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	// The interpolation window can stop a few samples short of the end.
	for len(out) < want {
		out = append(out, 0)
	}
	return out[:want], nil
}

// monoStreamer feeds a mono float32 slice into beep, duplicating each sample
// onto both beep channels.
type monoStreamer struct {
	samples []float32
	pos     int
}

var _ beep.Streamer = (*monoStreamer)(nil)

func (s *monoStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := min(len(buf), len(s.samples)-s.pos)
	for i := range n {
		v := float64(s.samples[s.pos+i])
		buf[i][0], buf[i][1] = v, v
	}
	s.pos += n
	return n, true
}

func (s *monoStreamer) Err() error { return nil }

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
