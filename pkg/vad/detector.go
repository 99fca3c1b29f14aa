package vad

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/shadowalign/pkg/audio"
)

// ctxCheckInterval is how many frames are scored between context checks.
const ctxCheckInterval = 128

// Detector runs detection with a fixed [Engine]. It is safe for concurrent
// use if its engine is.
type Detector struct {
	engine Engine
}

// NewDetector returns a Detector backed by engine. A nil engine selects
// [EnergyEngine].
func NewDetector(engine Engine) *Detector {
	if engine == nil {
		engine = EnergyEngine{}
	}
	return &Detector{engine: engine}
}

// Engine returns the engine the detector scores with.
func (d *Detector) Engine() Engine { return d.engine }

// Name returns the engine's name.
func (d *Detector) Name() string { return d.engine.Name() }

// Detect classifies buf frame by frame. Multi-channel input is downmixed
// first. An empty buffer yields no frames and no error; an all-silent buffer
// yields only silent frames.
func (d *Detector) Detect(ctx context.Context, buf audio.PCMBuffer, cfg Config) ([]FrameClassification, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: invalid sample rate %d", buf.SampleRate)
	}
	samples := buf.Samples
	if buf.Channels > 1 {
		samples = audio.Downmix(samples, buf.Channels)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	size := cfg.FrameSamples(buf.SampleRate)
	scorer, err := d.engine.NewScorer(buf.SampleRate, size)
	if err != nil {
		return nil, fmt.Errorf("vad: %s: new scorer: %w", d.engine.Name(), err)
	}

	n := (len(samples) + size - 1) / size
	frames := make([]FrameClassification, n)
	raw := make([]bool, n)
	for i := range n {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Join(err, scorer.Close())
			}
		}
		start := i * size
		end := min(start+size, len(samples))
		score, err := scorer.Score(samples[start:end])
		if err != nil {
			return nil, errors.Join(fmt.Errorf("vad: %s: frame %d: %w", d.engine.Name(), i, err), scorer.Close())
		}
		frames[i] = FrameClassification{Index: i, Start: start, End: end, Score: score}
		raw[i] = score >= cfg.Threshold
	}
	if err := scorer.Close(); err != nil {
		return nil, fmt.Errorf("vad: %s: close scorer: %w", d.engine.Name(), err)
	}

	for i, speech := range smooth(raw, cfg.HangoverFrames(), cfg.MinSpeechFrames()) {
		frames[i].Speech = speech
	}
	return frames, nil
}

var defaultDetector = NewDetector(nil)

// Detect classifies buf with the energy engine.
func Detect(buf audio.PCMBuffer, cfg Config) ([]FrameClassification, error) {
	return defaultDetector.Detect(context.Background(), buf, cfg)
}
