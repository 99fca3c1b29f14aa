package vad

import "math"

// Scorer scores consecutive frames of one buffer. A Scorer may keep state
// between frames and must not be shared between goroutines.
type Scorer interface {
	// Score returns the speech score of frame. The final frame of a buffer
	// may be shorter than the configured frame size.
	Score(frame []float32) (float64, error)

	// Close releases the scorer's resources. Calling Close more than once is
	// safe.
	Close() error
}

// Engine creates per-run scorers. Implementations must be safe for concurrent
// use: both sides of a session detect at the same time.
type Engine interface {
	// Name identifies the engine in configuration, logs and metrics.
	Name() string

	// NewScorer returns a scorer for mono audio at sampleRate with frames of
	// frameSamples samples.
	NewScorer(sampleRate, frameSamples int) (Scorer, error)
}

// EngineEnergy is the name of the built-in [EnergyEngine].
const EngineEnergy = "energy"

// EnergyEngine scores frames by their RMS level. It is stateless and always
// available.
type EnergyEngine struct{}

// Name implements [Engine].
func (EnergyEngine) Name() string { return EngineEnergy }

// NewScorer implements [Engine].
func (EnergyEngine) NewScorer(int, int) (Scorer, error) { return energyScorer{}, nil }

type energyScorer struct{}

func (energyScorer) Score(frame []float32) (float64, error) { return RMS(frame), nil }
func (energyScorer) Close() error                           { return nil }

// RMS returns the root mean square of samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

var (
	_ Engine = EnergyEngine{}
	_ Scorer = energyScorer{}
)
