package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/shadowalign/internal/observe"
	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/types"
	"github.com/MrWong99/shadowalign/pkg/vad"
)

// VADFallback runs voice activity detection on the first healthy engine.
// Each engine sits behind its own circuit breaker. Invalid parameters and
// cancelled contexts are returned without trying the next engine.
type VADFallback struct {
	group   *FallbackGroup[*vad.Detector]
	metrics *observe.Metrics
}

// NewVADFallback creates a [VADFallback] with primary as the preferred engine.
func NewVADFallback(primary vad.Engine, cfg FallbackConfig) *VADFallback {
	if cfg.CircuitBreaker.Neutral == nil {
		cfg.CircuitBreaker.Neutral = isNeutralVADError
	}
	return &VADFallback{
		group:   NewFallbackGroup(vad.NewDetector(primary), primary.Name(), cfg),
		metrics: observe.DefaultMetrics(),
	}
}

func isNeutralVADError(err error) bool {
	return IsCallerError(err) || types.IsConfigurationError(err)
}

// AddFallback registers an additional engine.
func (f *VADFallback) AddFallback(engine vad.Engine) {
	f.group.AddFallback(engine.Name(), vad.NewDetector(engine))
}

// Name returns the primary engine's name.
func (f *VADFallback) Name() string { return f.group.Names()[0] }

// Engines returns the engine names in the order they are tried.
func (f *VADFallback) Engines() []string { return f.group.Names() }

// Breaker returns the circuit breaker guarding the named engine, or nil.
func (f *VADFallback) Breaker(engine string) *CircuitBreaker { return f.group.Breaker(engine) }

// Detect classifies buf with the first engine that succeeds.
func (f *VADFallback) Detect(ctx context.Context, buf audio.PCMBuffer, cfg vad.Config) ([]vad.FrameClassification, error) {
	frames, _, err := f.DetectServed(ctx, buf, cfg)
	return frames, err
}

// DetectServed is [VADFallback.Detect] that also returns the name of the
// engine that produced the frames. When a fallback serves the call it is
// logged and counted.
func (f *VADFallback) DetectServed(ctx context.Context, buf audio.PCMBuffer, cfg vad.Config) ([]vad.FrameClassification, string, error) {
	frames, served, err := ExecuteWithResult(f.group, func(d *vad.Detector) ([]vad.FrameClassification, error) {
		return d.Detect(ctx, buf, cfg)
	})
	if err != nil {
		if errors.Is(err, ErrAllFailed) {
			observe.Logger(ctx).Error("vad: every engine failed", "engines", f.group.Names(), "err", err)
		}
		return nil, "", err
	}
	if primary := f.Name(); served != primary {
		observe.Logger(ctx).Warn("vad: fallback engine served detection", "primary", primary, "engine", served)
		f.metrics.RecordVADFallback(ctx, served)
	}
	return frames, served, nil
}
