// Package trim removes leading and trailing silence from a PCM buffer using
// VAD classifications, keeping a configurable padding around the speech.
package trim

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/types"
	"github.com/MrWong99/shadowalign/pkg/vad"
)

// DefaultPaddingMs keeps word onsets and decays intact.
const DefaultPaddingMs = 100

// MaxPaddingMs bounds [Config.PaddingMs].
const MaxPaddingMs = 2000

// Config holds trimming parameters.
type Config struct {
	// PaddingMs is how much audio to keep on each side of the speech.
	PaddingMs int `yaml:"padding_ms" json:"padding_ms"`
}

// DefaultConfig returns a Config with [DefaultPaddingMs].
func DefaultConfig() Config { return Config{PaddingMs: DefaultPaddingMs} }

// Validate returns a [types.ConfigurationError] if PaddingMs is out of range.
func (c Config) Validate() error {
	if c.PaddingMs < 0 || c.PaddingMs > MaxPaddingMs {
		return types.NewConfigurationError("trim.padding_ms", c.PaddingMs, "must be in [0, %d]", MaxPaddingMs)
	}
	return nil
}

// Result is a trimmed buffer together with its position in the original.
type Result struct {
	// Buffer is the trimmed audio. It shares the original's backing array.
	Buffer audio.PCMBuffer

	// Offset is the index in the original buffer of Buffer's first frame.
	Offset int

	// OriginalLen is the length of the untrimmed buffer in frames.
	OriginalLen int

	// OriginalDuration is the playback length of the untrimmed buffer.
	OriginalDuration time.Duration

	// Segments are the speech segments in original-buffer coordinates.
	Segments []vad.Segment
}

// Trimmed reports whether any audio was removed.
func (r Result) Trimmed() bool { return r.Buffer.Len() < r.OriginalLen }

// HasSpeech reports whether the classification contained any speech.
func (r Result) HasSpeech() bool { return len(r.Segments) > 0 }

// ToOriginal converts a frame index in Buffer to one in the original buffer.
func (r Result) ToOriginal(i int) int { return i + r.Offset }

// ToTrimmed converts an original frame index to one in Buffer. The second
// return value is false if the index falls outside the trimmed range.
func (r Result) ToTrimmed(i int) (int, bool) {
	j := i - r.Offset
	return j, j >= 0 && j < r.Buffer.Len()
}

// TrimmedSegments returns Segments in Buffer coordinates.
func (r Result) TrimmedSegments() []vad.Segment {
	out := make([]vad.Segment, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = s.Shift(-r.Offset)
	}
	return out
}

// Trim cuts buf to [firstSpeechStart-pad, lastSpeechEnd+pad], clamped to the
// buffer. The start is rounded down to the frame grid so that detection on
// the trimmed buffer sees exactly the frames it saw before. If frames contain
// no speech, buf is returned unchanged with offset 0. frames must come from
// detection run on buf.
func Trim(buf audio.PCMBuffer, frames []vad.FrameClassification, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	n := buf.Len()
	res := Result{
		Buffer:           buf,
		OriginalLen:      n,
		OriginalDuration: buf.Duration(),
	}
	if len(frames) > 0 && frames[len(frames)-1].End > n {
		return Result{}, fmt.Errorf("trim: classification covers %d frames, buffer has %d", frames[len(frames)-1].End, n)
	}

	res.Segments = vad.Segments(frames)
	if len(res.Segments) == 0 {
		return res, nil
	}

	pad := audio.MillisToFrames(cfg.PaddingMs, buf.SampleRate)
	grid := max(1, frames[0].End-frames[0].Start)
	start := max(0, res.Segments[0].Start-pad)
	start -= start % grid
	end := min(n, res.Segments[len(res.Segments)-1].End+pad)
	res.Buffer = buf.Slice(start, end)
	res.Offset = start
	return res, nil
}

// ErrNotTrimResult is returned by [Retrim] when prev is inconsistent.
var ErrNotTrimResult = errors.New("trim: offset outside original buffer")

// Retrim trims an already-trimmed result again, using frames detected on
// prev.Buffer. Offsets and segments compose so that the new result is still
// expressed against the original buffer. Because trimming only removes
// silence that is already gone, retrimming with the same parameters returns
// a result equal to prev.
func Retrim(prev Result, frames []vad.FrameClassification, cfg Config) (Result, error) {
	if prev.Offset < 0 || prev.Offset+prev.Buffer.Len() > prev.OriginalLen {
		return Result{}, ErrNotTrimResult
	}
	inner, err := Trim(prev.Buffer, frames, cfg)
	if err != nil {
		return Result{}, err
	}
	out := Result{
		Buffer:           inner.Buffer,
		Offset:           prev.Offset + inner.Offset,
		OriginalLen:      prev.OriginalLen,
		OriginalDuration: prev.OriginalDuration,
		Segments:         make([]vad.Segment, len(inner.Segments)),
	}
	for i, s := range inner.Segments {
		out.Segments[i] = s.Shift(prev.Offset)
	}
	return out, nil
}
