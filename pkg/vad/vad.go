// Package vad classifies PCM audio into speech and silence frames.
//
// Detection runs in three passes over fixed, non-overlapping frames:
//
//  1. Each frame is scored by a [Scorer] obtained from an [Engine]. The
//     built-in [EnergyEngine] scores by RMS; the silero subpackage scores by
//     model probability.
//  2. Frames scoring at or above [Config.Threshold] are raw speech. Silence
//     gaps between two speech frames that are no longer than the hangover
//     window are bridged, so a single utterance is not split at short dips.
//  3. Speech runs shorter than [Config.MinSpeechDurationMs] are absorbed into
//     the surrounding silence.
//
// Detection is deterministic: identical buffers and configuration always
// produce identical classifications.
package vad

import (
	"errors"
	"math"
	"time"

	"github.com/MrWong99/shadowalign/pkg/types"
)

// Defaults for [Config].
const (
	DefaultFrameDurationMs     = 30
	DefaultThreshold           = 0.015
	DefaultMinSpeechDurationMs = 90
	DefaultHangoverMs          = 240
)

// Config holds the parameters for one detection run.
type Config struct {
	// FrameDurationMs is both the hop and the window size of a frame.
	// Range: [5, 100].
	FrameDurationMs int `yaml:"frame_duration_ms" json:"frame_duration_ms"`

	// Threshold is the score at or above which a frame counts as speech. For
	// the energy engine it is an RMS level on samples normalised to [-1, 1];
	// for model engines it is a probability. Range: (0, 1].
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// MinSpeechDurationMs is the shortest speech run that survives smoothing.
	// Range: [0, 5000].
	MinSpeechDurationMs int `yaml:"min_speech_duration_ms" json:"min_speech_duration_ms"`

	// HangoverMs is the longest silence gap inside speech that is still
	// classified as speech. Range: [0, 5000].
	HangoverMs int `yaml:"hangover_ms" json:"hangover_ms"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		FrameDurationMs:     DefaultFrameDurationMs,
		Threshold:           DefaultThreshold,
		MinSpeechDurationMs: DefaultMinSpeechDurationMs,
		HangoverMs:          DefaultHangoverMs,
	}
}

// Validate reports every out-of-range field as a [types.ConfigurationError],
// joined with [errors.Join].
func (c Config) Validate() error {
	var errs []error
	if c.FrameDurationMs < 5 || c.FrameDurationMs > 100 {
		errs = append(errs, types.NewConfigurationError("vad.frame_duration_ms", c.FrameDurationMs, "must be in [5, 100]"))
	}
	if math.IsNaN(c.Threshold) || c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, types.NewConfigurationError("vad.threshold", c.Threshold, "must be in (0, 1]"))
	}
	if c.MinSpeechDurationMs < 0 || c.MinSpeechDurationMs > 5000 {
		errs = append(errs, types.NewConfigurationError("vad.min_speech_duration_ms", c.MinSpeechDurationMs, "must be in [0, 5000]"))
	}
	if c.HangoverMs < 0 || c.HangoverMs > 5000 {
		errs = append(errs, types.NewConfigurationError("vad.hangover_ms", c.HangoverMs, "must be in [0, 5000]"))
	}
	return errors.Join(errs...)
}

// FrameSamples returns the number of samples per frame at rate.
func (c Config) FrameSamples(rate int) int {
	return max(1, rate*c.FrameDurationMs/1000)
}

// HangoverFrames returns the hangover window in whole frames, rounded up.
func (c Config) HangoverFrames() int {
	return ceilDiv(c.HangoverMs, c.FrameDurationMs)
}

// MinSpeechFrames returns the minimum speech run in whole frames, rounded up.
func (c Config) MinSpeechFrames() int {
	return ceilDiv(c.MinSpeechDurationMs, c.FrameDurationMs)
}

func ceilDiv(a, b int) int {
	if b <= 0 || a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// FrameClassification is the verdict for one frame.
type FrameClassification struct {
	// Index is the frame's position in the sequence, starting at 0.
	Index int `json:"index"`

	// Start and End bound the frame's samples as a half-open range.
	Start int `json:"start"`
	End   int `json:"end"`

	// Speech reports the smoothed verdict.
	Speech bool `json:"speech"`

	// Score is the engine's raw score for the frame, before smoothing.
	Score float64 `json:"score"`
}

// Segment is a maximal run of speech frames as a half-open sample range.
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the segment length in samples.
func (s Segment) Len() int { return s.End - s.Start }

// Duration returns the segment length at rate.
func (s Segment) Duration(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(s.Len()) * time.Second / time.Duration(rate)
}

// Shift returns the segment moved by delta samples.
func (s Segment) Shift(delta int) Segment {
	return Segment{Start: s.Start + delta, End: s.End + delta}
}

// Segments groups consecutive speech frames into segments, in order.
func Segments(frames []FrameClassification) []Segment {
	var (
		out  []Segment
		open bool
		cur  Segment
	)
	for _, f := range frames {
		switch {
		case f.Speech && !open:
			cur = Segment{Start: f.Start, End: f.End}
			open = true
		case f.Speech:
			cur.End = f.End
		case open:
			out = append(out, cur)
			open = false
		}
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// SpeechFrames counts frames classified as speech.
func SpeechFrames(frames []FrameClassification) int {
	var n int
	for _, f := range frames {
		if f.Speech {
			n++
		}
	}
	return n
}

// smooth applies hangover bridging and then the minimum-duration filter to
// raw per-frame verdicts.
func smooth(raw []bool, hangover, minRun int) []bool {
	out := make([]bool, len(raw))
	copy(out, raw)

	last := -1
	for i, speech := range raw {
		if !speech {
			continue
		}
		if last >= 0 && i-last-1 <= hangover {
			for j := last + 1; j < i; j++ {
				out[j] = true
			}
		}
		last = i
	}

	if minRun <= 1 {
		return out
	}
	for i := 0; i < len(out); {
		if !out[i] {
			i++
			continue
		}
		j := i
		for j < len(out) && out[j] {
			j++
		}
		if j-i < minRun {
			for k := i; k < j; k++ {
				out[k] = false
			}
		}
		i = j
	}
	return out
}
