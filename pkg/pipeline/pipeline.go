// Package pipeline bundles the per-call configuration of the
// decode, detect, trim and align stages.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/MrWong99/shadowalign/pkg/align"
	"github.com/MrWong99/shadowalign/pkg/trim"
	"github.com/MrWong99/shadowalign/pkg/vad"
)

// Config is the full set of parameters for one alignment run. There is no
// package-level default instance; callers pass a Config explicitly.
type Config struct {
	VAD   vad.Config   `yaml:"vad" json:"vad"`
	Trim  trim.Config  `yaml:"trim" json:"trim"`
	Align align.Config `yaml:"align" json:"align"`
}

// Default returns the stage defaults.
func Default() Config {
	return Config{
		VAD:   vad.DefaultConfig(),
		Trim:  trim.DefaultConfig(),
		Align: align.DefaultConfig(),
	}
}

// Validate validates every stage and joins the errors.
func (c Config) Validate() error {
	return errors.Join(c.VAD.Validate(), c.Trim.Validate(), c.Align.Validate())
}

// Overrides carries optional per-request changes to a Config. Nil fields
// leave the base value alone.
type Overrides struct {
	FrameDurationMs     *int     `json:"frame_duration_ms,omitempty"`
	Threshold           *float64 `json:"threshold,omitempty"`
	MinSpeechDurationMs *int     `json:"min_speech_duration_ms,omitempty"`
	HangoverMs          *int     `json:"hangover_ms,omitempty"`
	PaddingMs           *int     `json:"padding_ms,omitempty"`
	Strategy            *string  `json:"strategy,omitempty"`
	UnmatchedPenalty    *float64 `json:"unmatched_penalty,omitempty"`
	TimingWeight        *float64 `json:"timing_weight,omitempty"`
}

// Empty reports whether no override is set.
func (o Overrides) Empty() bool {
	return o == Overrides{}
}

// Merge returns base with every set override applied. The result is not
// validated.
func (c Config) Merge(o Overrides) Config {
	out := c
	setIf(&out.VAD.FrameDurationMs, o.FrameDurationMs)
	setIf(&out.VAD.Threshold, o.Threshold)
	setIf(&out.VAD.MinSpeechDurationMs, o.MinSpeechDurationMs)
	setIf(&out.VAD.HangoverMs, o.HangoverMs)
	setIf(&out.Trim.PaddingMs, o.PaddingMs)
	if o.Strategy != nil {
		out.Align.Strategy = align.Strategy(*o.Strategy)
	}
	setIf(&out.Align.UnmatchedPenalty, o.UnmatchedPenalty)
	setIf(&out.Align.TimingWeight, o.TimingWeight)
	return out
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// SideKey identifies the parameters that affect a single side's
// decode/detect/trim output. Alignment settings are excluded: changing them
// never invalidates a prepared side.
func SideKey(c Config, engine string, sampleRate int) string {
	v := c.VAD
	return fmt.Sprintf("%s|%d|%d|%g|%d|%d|%d",
		engine, sampleRate, v.FrameDurationMs, v.Threshold, v.MinSpeechDurationMs, v.HangoverMs, c.Trim.PaddingMs)
}

// BlobKey returns the cache key of a recording under a side key.
func BlobKey(blob []byte, sideKey string) string {
	h := sha256.New()
	h.Write(blob)
	h.Write([]byte{0})
	h.Write([]byte(sideKey))
	return hex.EncodeToString(h.Sum(nil))
}
