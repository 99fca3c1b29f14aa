package audio

import (
	"fmt"
	"time"
)

// PCMBuffer is a block of decoded audio. Samples are interleaved float32
// values normalised to [-1.0, 1.0]. SampleRate and Channels never change after
// decode; every pipeline stage that needs a different shape produces a new
// buffer.
//
// Buffers leaving [Decoder.Decode] are always mono at the decoder's target
// rate, so [PCMBuffer.Len] equals len(Samples) for everything downstream.
type PCMBuffer struct {
	// Samples holds interleaved PCM samples in the range [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (16000 for everything the decoder emits by default).
	SampleRate int

	// Channels: 1 after decode; >1 only for raw codec output before downmix.
	Channels int
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Format returns the buffer's sample rate and channel count.
func (b PCMBuffer) Format() Format {
	return Format{SampleRate: b.SampleRate, Channels: b.Channels}
}

// Len returns the number of sample frames (samples per channel).
func (b PCMBuffer) Len() int {
	if b.Channels <= 1 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b PCMBuffer) Duration() time.Duration {
	return FramesToDuration(b.Len(), b.SampleRate)
}

// SamplesFor converts d into a frame count at the buffer's sample rate,
// rounding down.
func (b PCMBuffer) SamplesFor(d time.Duration) int {
	return DurationToFrames(d, b.SampleRate)
}

// Slice returns the frames in the half-open range [start, end). The returned
// buffer shares the backing array; callers must not write to it. Bounds are
// clamped to the buffer.
func (b PCMBuffer) Slice(start, end int) PCMBuffer {
	n := b.Len()
	start = max(0, min(start, n))
	end = max(start, min(end, n))
	ch := max(1, b.Channels)
	return PCMBuffer{
		Samples:    b.Samples[start*ch : end*ch : end*ch],
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}
}

// Clone returns a deep copy of b.
func (b PCMBuffer) Clone() PCMBuffer {
	out := b
	out.Samples = make([]float32, len(b.Samples))
	copy(out.Samples, b.Samples)
	return out
}

// FramesToDuration converts a frame count at rate into a duration.
func FramesToDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// DurationToFrames converts d into a frame count at rate, rounding down.
func DurationToFrames(d time.Duration, rate int) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d) * int64(rate) / int64(time.Second))
}

// MillisToFrames converts a millisecond count into frames at rate, rounding
// down. Negative inputs yield 0.
func MillisToFrames(ms, rate int) int {
	if ms <= 0 || rate <= 0 {
		return 0
	}
	return int(int64(ms) * int64(rate) / 1000)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
