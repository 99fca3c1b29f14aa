// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to script per-frame scores and to verify how many scorers were
// created and for which sample rate. Scores are consumed in order; frames past
// the end of Scores score 0.
//
// Example:
//
//	eng := &mock.Engine{Scores: []float64{0, 0.9, 0.9, 0}}
//	det := vad.NewDetector(eng)
package mock

import (
	"sync"

	"github.com/MrWong99/shadowalign/pkg/vad"
)

// NewScorerCall records a single invocation of Engine.NewScorer.
type NewScorerCall struct {
	SampleRate   int
	FrameSamples int
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// Scores is the score sequence each new Scorer replays.
	Scores []float64

	// ScoreErr, if non-nil, is returned by Score once ScoreErrAt frames have
	// been scored.
	ScoreErr   error
	ScoreErrAt int

	// NewScorerErr, if non-nil, is returned as the error from NewScorer.
	NewScorerErr error

	// NewScorerCalls records every call to NewScorer in order.
	NewScorerCalls []NewScorerCall

	// Scorers holds every scorer handed out, in order.
	Scorers []*Scorer
}

// Name implements vad.Engine.
func (e *Engine) Name() string {
	if e.EngineName == "" {
		return "mock"
	}
	return e.EngineName
}

// NewScorer records the call and returns a Scorer replaying Scores.
func (e *Engine) NewScorer(sampleRate, frameSamples int) (vad.Scorer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewScorerCalls = append(e.NewScorerCalls, NewScorerCall{SampleRate: sampleRate, FrameSamples: frameSamples})
	if e.NewScorerErr != nil {
		return nil, e.NewScorerErr
	}
	s := &Scorer{scores: e.Scores, err: e.ScoreErr, errAt: e.ScoreErrAt}
	e.Scorers = append(e.Scorers, s)
	return s, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewScorerCalls = nil
	e.Scorers = nil
}

// Scorer is a mock implementation of vad.Scorer.
type Scorer struct {
	mu     sync.Mutex
	scores []float64
	err    error
	errAt  int

	// FrameLens records the length of every frame passed to Score.
	FrameLens []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Score returns the next scripted score.
func (s *Scorer) Score(frame []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.FrameLens)
	s.FrameLens = append(s.FrameLens, len(frame))
	if s.err != nil && i >= s.errAt {
		return 0, s.err
	}
	if i < len(s.scores) {
		return s.scores[i], nil
	}
	return 0, nil
}

// Close records the call.
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

var (
	_ vad.Engine = (*Engine)(nil)
	_ vad.Scorer = (*Scorer)(nil)
)
