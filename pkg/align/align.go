// Package align computes a correspondence between the speech of a target
// recording and an attempt at imitating it.
//
// Two strategies exist. [StrategyUniform] maps the attempt's whole speech
// span onto the target's with one scale factor and shift. [StrategyCorrespondence]
// pairs speech segments one to one, falling back to an edit-distance
// alignment over segments when the two sides have different segment counts.
package align

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/shadowalign/pkg/trim"
	"github.com/MrWong99/shadowalign/pkg/types"
	"github.com/MrWong99/shadowalign/pkg/vad"
)

// Strategy selects the alignment algorithm.
type Strategy string

const (
	// StrategyUniform maps attempt time onto target time linearly.
	StrategyUniform Strategy = "uniform"

	// StrategyCorrespondence pairs individual speech segments.
	StrategyCorrespondence Strategy = "correspondence"
)

// Strategies lists every valid strategy.
var Strategies = []Strategy{StrategyUniform, StrategyCorrespondence}

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyUniform || s == StrategyCorrespondence
}

// ParseStrategy converts a case-insensitive name into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	if !s.IsValid() {
		return "", types.NewConfigurationError("align.strategy", name, "must be one of %v", Strategies)
	}
	return s, nil
}

// Defaults for [Config].
const (
	DefaultStrategy         = StrategyCorrespondence
	DefaultUnmatchedPenalty = 1.0
	DefaultTimingWeight     = 1.0
)

// Config holds alignment parameters.
type Config struct {
	Strategy Strategy `yaml:"strategy" json:"strategy"`

	// UnmatchedPenalty is the cost of leaving one segment unpaired.
	UnmatchedPenalty float64 `yaml:"unmatched_penalty" json:"unmatched_penalty"`

	// TimingWeight scales the timing distance of a matched pair.
	TimingWeight float64 `yaml:"timing_weight" json:"timing_weight"`
}

// DefaultConfig returns the default alignment configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:         DefaultStrategy,
		UnmatchedPenalty: DefaultUnmatchedPenalty,
		TimingWeight:     DefaultTimingWeight,
	}
}

// Validate reports invalid fields as joined [types.ConfigurationError] values.
func (c Config) Validate() error {
	var errs []error
	if !c.Strategy.IsValid() {
		errs = append(errs, types.NewConfigurationError("align.strategy", c.Strategy, "must be one of %v", Strategies))
	}
	if !finiteNonNegative(c.UnmatchedPenalty) {
		errs = append(errs, types.NewConfigurationError("align.unmatched_penalty", c.UnmatchedPenalty, "must be finite and >= 0"))
	}
	if !finiteNonNegative(c.TimingWeight) {
		errs = append(errs, types.NewConfigurationError("align.timing_weight", c.TimingWeight, "must be finite and >= 0"))
	}
	return errors.Join(errs...)
}

func finiteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

// ErrNothingToAlign matches every [AlignmentError] with errors.Is.
var ErrNothingToAlign = errors.New("align: nothing to align")

// ErrRateMismatch is returned when the two sides were decoded at different
// sample rates.
var ErrRateMismatch = errors.New("align: sample rates differ")

// AlignmentError reports that at least one side has no speech segments.
type AlignmentError struct {
	TargetEmpty  bool
	AttemptEmpty bool
}

// Error implements error.
func (e *AlignmentError) Error() string {
	switch {
	case e.TargetEmpty && e.AttemptEmpty:
		return "align: nothing to align: neither recording contains speech"
	case e.TargetEmpty:
		return "align: nothing to align: target contains no speech"
	default:
		return "align: nothing to align: attempt contains no speech"
	}
}

// Is reports whether target is [ErrNothingToAlign].
func (e *AlignmentError) Is(target error) bool { return target == ErrNothingToAlign }

// Uniform maps an attempt sample index a to target index Scale*a + Shift.
type Uniform struct {
	Scale float64 `json:"scale"`
	Shift float64 `json:"shift"`
}

// Map applies the mapping to an attempt sample index.
func (u Uniform) Map(a float64) float64 { return u.Scale*a + u.Shift }

// Unmatched marks the missing side of a [Pair].
const Unmatched = -1

// Pair links a target segment to an attempt segment by index. One of the two
// indices is [Unmatched] when a segment has no partner.
type Pair struct {
	TargetIndex  int `json:"target"`
	AttemptIndex int `json:"attempt"`
}

// Matched reports whether both sides are present.
func (p Pair) Matched() bool { return p.TargetIndex != Unmatched && p.AttemptIndex != Unmatched }

// Mapping is the outcome of [Align]. Uniform is set for [StrategyUniform];
// Pairs and Cost for [StrategyCorrespondence].
type Mapping struct {
	Strategy Strategy `json:"strategy"`
	Uniform  *Uniform `json:"uniform,omitempty"`
	Pairs    []Pair   `json:"pairs,omitempty"`
	Cost     float64  `json:"cost"`
}

// Matched returns the pairs that link two segments.
func (m Mapping) Matched() []Pair {
	var out []Pair
	for _, p := range m.Pairs {
		if p.Matched() {
			out = append(out, p)
		}
	}
	return out
}

// AttemptToTarget maps an attempt sample index into target coordinates. It
// is only defined for uniform mappings.
func (m Mapping) AttemptToTarget(sample int) (float64, bool) {
	if m.Uniform == nil {
		return 0, false
	}
	return m.Uniform.Map(float64(sample)), true
}

// Align computes the mapping from attempt to target. Segments are sample
// ranges in each side's original buffer, normally the Segments of the trim
// results. It fails with *[AlignmentError] iff either side has no segments.
func Align(target, attempt trim.Result, targetSegs, attemptSegs []vad.Segment, cfg Config) (Mapping, error) {
	if err := cfg.Validate(); err != nil {
		return Mapping{}, err
	}
	if len(targetSegs) == 0 || len(attemptSegs) == 0 {
		return Mapping{}, &AlignmentError{
			TargetEmpty:  len(targetSegs) == 0,
			AttemptEmpty: len(attemptSegs) == 0,
		}
	}
	if tr, ar := target.Buffer.SampleRate, attempt.Buffer.SampleRate; tr != ar {
		return Mapping{}, fmt.Errorf("%w: target %d Hz, attempt %d Hz", ErrRateMismatch, tr, ar)
	}

	switch cfg.Strategy {
	case StrategyUniform:
		return alignUniform(targetSegs, attemptSegs), nil
	case StrategyCorrespondence:
		return alignCorrespondence(targetSegs, attemptSegs, cfg), nil
	}
	return Mapping{}, fmt.Errorf("align: unknown strategy %q", cfg.Strategy)
}

// AlignResults aligns two trim results using their own segments.
func AlignResults(target, attempt trim.Result, cfg Config) (Mapping, error) {
	return Align(target, attempt, target.Segments, attempt.Segments, cfg)
}

// span returns the first onset and last offset of segs.
func span(segs []vad.Segment) (onset, end int) {
	return segs[0].Start, segs[len(segs)-1].End
}

func alignUniform(target, attempt []vad.Segment) Mapping {
	tOn, tEnd := span(target)
	aOn, aEnd := span(attempt)
	scale := 1.0
	if aSpan := aEnd - aOn; aSpan > 0 {
		scale = float64(tEnd-tOn) / float64(aSpan)
	}
	return Mapping{
		Strategy: StrategyUniform,
		Uniform:  &Uniform{Scale: scale, Shift: float64(tOn) - scale*float64(aOn)},
	}
}
