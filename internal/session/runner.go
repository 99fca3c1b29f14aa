package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/shadowalign/internal/observe"
	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/pipeline"
	"github.com/MrWong99/shadowalign/pkg/trim"
	"github.com/MrWong99/shadowalign/pkg/types"
	"github.com/MrWong99/shadowalign/pkg/vad"
)

// Stage names used for spans, metrics and logs.
const (
	StageDecode = "decode"
	StageDetect = "detect"
	StageTrim   = "trim"
	StageAlign  = "align"
)

// Decoder turns a recording into a mono buffer at TargetRate.
// [*audio.Decoder] is the production implementation.
type Decoder interface {
	Decode(ctx context.Context, blob []byte) (audio.PCMBuffer, error)
	TargetRate() int
}

// FrameDetector classifies decoded audio into speech and silence frames.
// [*vad.Detector] and the circuit-breaking fallback both satisfy it.
type FrameDetector interface {
	Detect(ctx context.Context, buf audio.PCMBuffer, cfg vad.Config) ([]vad.FrameClassification, error)
	Name() string
}

// ServingDetector is a [FrameDetector] that may hand a call to another
// engine and reports which one served it.
type ServingDetector interface {
	FrameDetector
	DetectServed(ctx context.Context, buf audio.PCMBuffer, cfg vad.Config) ([]vad.FrameClassification, string, error)
}

// SideOutput is the product of one side's decode, detect and trim stages.
type SideOutput struct {
	Trim   trim.Result
	Frames []vad.FrameClassification

	// Engine is the VAD engine that produced Frames.
	Engine string

	// Codec is the container the recording was decoded from.
	Codec audio.Codec

	// Elapsed is the wall time of the whole run.
	Elapsed time.Duration
}

// Runner executes the single-recording pipeline. It holds no per-run state
// and is safe for concurrent use.
type Runner struct {
	decoder  Decoder
	detector FrameDetector
	metrics  *observe.Metrics
}

// NewRunner returns a Runner. A nil detector selects the energy engine.
func NewRunner(dec Decoder, det FrameDetector, m *observe.Metrics) *Runner {
	if det == nil {
		det = vad.NewDetector(nil)
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Runner{decoder: dec, detector: det, metrics: m}
}

// SideKey returns the cache key prefix for cfg under this runner's decoder
// and engine.
func (r *Runner) SideKey(cfg pipeline.Config) string {
	return pipeline.SideKey(cfg, r.detector.Name(), r.decoder.TargetRate())
}

// Engine returns the name of the configured VAD engine.
func (r *Runner) Engine() string { return r.detector.Name() }

// RunSide decodes, detects and trims blob. Before each stage it calls check,
// which reports cancellation or supersession; a non-nil result stops the run
// with that error.
func (r *Runner) RunSide(ctx context.Context, side types.Side, blob []byte, cfg pipeline.Config, check func() error) (SideOutput, error) {
	start := time.Now()
	if check == nil {
		check = ctx.Err
	}

	var out SideOutput
	out.Codec = audio.Sniff(blob)

	var buf audio.PCMBuffer
	err := r.stage(ctx, StageDecode, side, check, func(ctx context.Context) error {
		var err error
		buf, err = r.decoder.Decode(ctx, blob)
		var de *audio.DecodeError
		if errors.As(err, &de) {
			r.metrics.RecordDecodeError(ctx, de.Kind.String(), string(de.Codec))
		}
		return err
	})
	if err != nil {
		return out, err
	}

	err = r.stage(ctx, StageDetect, side, check, func(ctx context.Context) error {
		var err error
		if sd, ok := r.detector.(ServingDetector); ok {
			out.Frames, out.Engine, err = sd.DetectServed(ctx, buf, cfg.VAD)
			return err
		}
		out.Frames, err = r.detector.Detect(ctx, buf, cfg.VAD)
		out.Engine = r.detector.Name()
		return err
	})
	if err != nil {
		return out, err
	}

	err = r.stage(ctx, StageTrim, side, check, func(context.Context) error {
		var err error
		out.Trim, err = trim.Trim(buf, out.Frames, cfg.Trim)
		return err
	})
	if err != nil {
		return out, err
	}

	// The result is only handed out if it is still wanted.
	if err := check(); err != nil {
		return out, err
	}
	out.Elapsed = time.Since(start)
	return out, nil
}

func (r *Runner) stage(ctx context.Context, name string, side types.Side, check func() error, fn func(context.Context) error) error {
	if err := check(); err != nil {
		return err
	}
	ctx, span := observe.StartStage(ctx, name, string(side))
	start := time.Now()
	err := fn(ctx)
	r.metrics.RecordStage(ctx, name, string(side), time.Since(start))
	observe.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("session: %s %s: %w", side, name, err)
	}
	return nil
}
