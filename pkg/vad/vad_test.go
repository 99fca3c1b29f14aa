package vad_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/audio/audiotest"
	"github.com/MrWong99/shadowalign/pkg/types"
	"github.com/MrWong99/shadowalign/pkg/vad"
	"github.com/MrWong99/shadowalign/pkg/vad/mock"
)

func TestDetect_AllSilence(t *testing.T) {
	t.Parallel()
	frames, err := vad.Detect(audiotest.Mono(audiotest.Silence(time.Second, audiotest.Rate)), vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(frames) != 34 {
		t.Fatalf("frames = %d, want 34", len(frames))
	}
	if n := vad.SpeechFrames(frames); n != 0 {
		t.Errorf("speech frames = %d, want 0", n)
	}
	if segs := vad.Segments(frames); len(segs) != 0 {
		t.Errorf("segments = %v, want none", segs)
	}
}

func TestDetect_FramesCoverBuffer(t *testing.T) {
	t.Parallel()
	frames, err := vad.Detect(audiotest.Mono(make([]float32, 1000)), vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	want := [][2]int{{0, 480}, {480, 960}, {960, 1000}}
	if len(frames) != len(want) {
		t.Fatalf("frames = %d, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		if f.Index != i || f.Start != want[i][0] || f.End != want[i][1] {
			t.Errorf("frame %d = [%d, %d) index %d, want [%d, %d)", i, f.Start, f.End, f.Index, want[i][0], want[i][1])
		}
	}
}

func TestDetect_EmptyBuffer(t *testing.T) {
	t.Parallel()
	frames, err := vad.Detect(audiotest.Mono(nil), vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("frames = %d, want 0", len(frames))
	}
}

func TestDetect_SingleBurst(t *testing.T) {
	t.Parallel()
	buf := audiotest.Utterance(300*time.Millisecond, []time.Duration{500 * time.Millisecond}, 300*time.Millisecond)
	frames, err := vad.Detect(buf, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	segs := vad.Segments(frames)
	if len(segs) != 1 {
		t.Fatalf("segments = %v, want exactly one", segs)
	}
	if segs[0].Start != 4800 {
		t.Errorf("segment start = %d, want 4800", segs[0].Start)
	}
	if segs[0].End < 12800 || segs[0].End > 12960 {
		t.Errorf("segment end = %d, want within one frame after 12800", segs[0].End)
	}
	if d := segs[0].Duration(audiotest.Rate); d < 500*time.Millisecond || d > 530*time.Millisecond {
		t.Errorf("segment duration = %v, want ~500ms", d)
	}
}

func TestDetect_HangoverBridgesShortGaps(t *testing.T) {
	t.Parallel()
	bursts := []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}

	short := audiotest.Utterance(300*time.Millisecond, bursts, 150*time.Millisecond)
	frames, err := vad.Detect(short, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segs := vad.Segments(frames); len(segs) != 1 {
		t.Errorf("150ms gap: segments = %v, want one bridged segment", segs)
	}

	long := audiotest.Utterance(300*time.Millisecond, bursts, 600*time.Millisecond)
	frames, err = vad.Detect(long, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segs := vad.Segments(frames); len(segs) != 2 {
		t.Errorf("600ms gap: segments = %v, want two", segs)
	}
}

func TestDetect_HangoverDoesNotExtendTrailingSilence(t *testing.T) {
	t.Parallel()
	buf := audiotest.Utterance(0, []time.Duration{300 * time.Millisecond}, time.Second)
	frames, err := vad.Detect(buf, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if n := vad.SpeechFrames(frames); n != 10 {
		t.Errorf("speech frames = %d, want 10", n)
	}
}

func TestDetect_MinimumDurationDropsBlips(t *testing.T) {
	t.Parallel()
	buf := audiotest.Utterance(300*time.Millisecond, []time.Duration{60 * time.Millisecond}, 600*time.Millisecond)
	frames, err := vad.Detect(buf, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segs := vad.Segments(frames); len(segs) != 0 {
		t.Errorf("segments = %v, want the 60ms blip absorbed", segs)
	}

	cfg := vad.DefaultConfig()
	cfg.MinSpeechDurationMs = 0
	frames, err = vad.Detect(buf, cfg)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segs := vad.Segments(frames); len(segs) != 1 {
		t.Errorf("min duration 0: segments = %v, want the blip kept", segs)
	}
}

func TestDetect_Deterministic(t *testing.T) {
	t.Parallel()
	buf := audiotest.Utterance(100*time.Millisecond,
		[]time.Duration{250 * time.Millisecond, 400 * time.Millisecond, 120 * time.Millisecond},
		350*time.Millisecond)
	first, err := vad.Detect(buf, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for range 5 {
		again, err := vad.Detect(buf, vad.DefaultConfig())
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("classification changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestDetect_StereoIsDownmixed(t *testing.T) {
	t.Parallel()
	tone := audiotest.Tone(300*time.Millisecond, audiotest.Rate, 220, 0.5)
	stereo := make([]float32, 2*len(tone))
	for i, s := range tone {
		stereo[2*i], stereo[2*i+1] = s, s
	}
	frames, err := vad.Detect(audio.PCMBuffer{Samples: stereo, SampleRate: audiotest.Rate, Channels: 2}, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(frames) != 10 || vad.SpeechFrames(frames) != 10 {
		t.Errorf("got %d frames with %d speech, want 10 and 10", len(frames), vad.SpeechFrames(frames))
	}
}

func TestDetector_ScriptedSmoothing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		scores []float64
		cfg    vad.Config
		want   []bool
	}{
		{
			name:   "no smoothing",
			scores: []float64{1, 0, 1, 0, 0, 0, 0, 1},
			cfg:    vad.Config{FrameDurationMs: 30, Threshold: 0.5},
			want:   []bool{true, false, true, false, false, false, false, true},
		},
		{
			name:   "one frame hangover",
			scores: []float64{1, 0, 1, 0, 0, 0, 0, 1},
			cfg:    vad.Config{FrameDurationMs: 30, Threshold: 0.5, HangoverMs: 30},
			want:   []bool{true, true, true, false, false, false, false, true},
		},
		{
			name:   "hangover then minimum duration",
			scores: []float64{1, 0, 1, 0, 0, 0, 0, 1},
			cfg:    vad.Config{FrameDurationMs: 30, Threshold: 0.5, HangoverMs: 30, MinSpeechDurationMs: 60},
			want:   []bool{true, true, true, false, false, false, false, false},
		},
		{
			name:   "threshold is inclusive",
			scores: []float64{0.5, 0.49, 0.5, 0, 0, 0, 0, 0},
			cfg:    vad.Config{FrameDurationMs: 30, Threshold: 0.5},
			want:   []bool{true, false, true, false, false, false, false, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng := &mock.Engine{Scores: tt.scores}
			det := vad.NewDetector(eng)
			frames, err := det.Detect(context.Background(), audiotest.Mono(make([]float32, 8*480)), tt.cfg)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			got := make([]bool, len(frames))
			for i, f := range frames {
				got[i] = f.Speech
				if f.Score != tt.scores[i] {
					t.Errorf("frame %d score = %v, want raw score %v", i, f.Score, tt.scores[i])
				}
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("speech verdicts mismatch (-want +got):\n%s", diff)
			}
			if len(eng.Scorers) != 1 || eng.Scorers[0].CloseCallCount != 1 {
				t.Error("expected exactly one scorer, closed once")
			}
			if c := eng.NewScorerCalls[0]; c.SampleRate != 16000 || c.FrameSamples != 480 {
				t.Errorf("NewScorer(%d, %d), want (16000, 480)", c.SampleRate, c.FrameSamples)
			}
		})
	}
}

func TestDetector_ScoreErrorClosesScorer(t *testing.T) {
	t.Parallel()
	boom := errors.New("inference failed")
	eng := &mock.Engine{ScoreErr: boom, ScoreErrAt: 2}
	_, err := vad.NewDetector(eng).Detect(context.Background(), audiotest.Mono(make([]float32, 4800)), vad.DefaultConfig())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if eng.Scorers[0].CloseCallCount != 1 {
		t.Error("scorer was not closed after a scoring error")
	}
}

func TestDetector_NewScorerError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no model")
	_, err := vad.NewDetector(&mock.Engine{NewScorerErr: boom}).Detect(context.Background(), audiotest.Mono(make([]float32, 480)), vad.DefaultConfig())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestDetector_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := vad.NewDetector(nil).Detect(ctx, audiotest.Mono(make([]float32, 4800)), vad.DefaultConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	if err := vad.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := vad.Config{FrameDurationMs: 1, Threshold: 0, MinSpeechDurationMs: -1, HangoverMs: 6000}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *types.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want a ConfigurationError", err)
	}
	for _, field := range []string{"vad.frame_duration_ms", "vad.threshold", "vad.min_speech_duration_ms", "vad.hangover_ms"} {
		if !containsField(err, field) {
			t.Errorf("missing error for %s in %v", field, err)
		}
	}

	if _, err := vad.Detect(audiotest.Mono(make([]float32, 10)), bad); !types.IsConfigurationError(err) {
		t.Errorf("Detect with bad config: err = %v, want a ConfigurationError", err)
	}
}

func containsField(err error, field string) bool {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return false
	}
	for _, e := range joined.Unwrap() {
		var ce *types.ConfigurationError
		if errors.As(e, &ce) && ce.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_FrameArithmetic(t *testing.T) {
	t.Parallel()
	cfg := vad.DefaultConfig()
	if got := cfg.FrameSamples(16000); got != 480 {
		t.Errorf("FrameSamples = %d, want 480", got)
	}
	if got := cfg.HangoverFrames(); got != 8 {
		t.Errorf("HangoverFrames = %d, want 8", got)
	}
	if got := cfg.MinSpeechFrames(); got != 3 {
		t.Errorf("MinSpeechFrames = %d, want 3", got)
	}
	cfg.HangoverMs = 100
	if got := cfg.HangoverFrames(); got != 4 {
		t.Errorf("HangoverFrames(100ms) = %d, want 4", got)
	}
}

func TestSegments(t *testing.T) {
	t.Parallel()
	frames := []vad.FrameClassification{
		{Start: 0, End: 10, Speech: true},
		{Start: 10, End: 20, Speech: true},
		{Start: 20, End: 30},
		{Start: 30, End: 40, Speech: true},
	}
	want := []vad.Segment{{Start: 0, End: 20}, {Start: 30, End: 40}}
	if diff := cmp.Diff(want, vad.Segments(frames)); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := vad.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := vad.RMS([]float32{0.5, -0.5, 0.5, -0.5}); got != 0.5 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}
