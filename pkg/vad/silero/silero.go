//go:build silero

package silero

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/shadowalign/pkg/vad"
)

const (
	stateLen   = 2 * 1 * 128
	contextLen = 64
)

var (
	runtimeMu          sync.Mutex
	runtimeInitialized bool
)

// InitRuntime initialises the ONNX runtime. libraryPath may be empty to search
// the usual install locations. Safe to call more than once.
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if runtimeInitialized {
		return nil
	}
	if libraryPath == "" {
		libraryPath = findLibrary()
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("silero: initialise onnx runtime: %w", err)
	}
	runtimeInitialized = true
	return nil
}

// DestroyRuntime tears the ONNX runtime down.
func DestroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if !runtimeInitialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("silero: destroy onnx runtime: %w", err)
	}
	runtimeInitialized = false
	return nil
}

func findLibrary() string {
	paths := []string{
		os.Getenv("ONNXRUNTIME_LIB"),
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/onnxruntime/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, dir := range filepath.SplitList(os.Getenv("LD_LIBRARY_PATH")) {
		paths = append(paths, filepath.Join(dir, "libonnxruntime.so"))
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Config configures the Silero engine.
type Config struct {
	// ModelPath is the path to silero_vad.onnx.
	ModelPath string

	// LibraryPath optionally points at the ONNX Runtime shared library.
	LibraryPath string
}

// Engine implements [vad.Engine] on top of the Silero model. Each scorer owns
// its own ONNX session and recurrent state.
type Engine struct {
	cfg Config
}

// New initialises the runtime and checks that the model file exists.
func New(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("silero: model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("silero: model: %w", err)
	}
	if err := InitRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Name implements [vad.Engine].
func (e *Engine) Name() string { return EngineName }

// NewScorer implements [vad.Engine]. Only 8 kHz and 16 kHz are supported.
func (e *Engine) NewScorer(sampleRate, _ int) (vad.Scorer, error) {
	var window int
	switch sampleRate {
	case 16000:
		window = 512
	case 8000:
		window = 256
	default:
		return nil, fmt.Errorf("silero: unsupported sample rate %d", sampleRate)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("silero: session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: inter-op threads: %w", err)
	}

	sess, err := ort.NewDynamicAdvancedSession(e.cfg.ModelPath,
		[]string{"input", "state", "sr"}, []string{"output", "stateN"}, opts)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return &scorer{session: sess, rate: sampleRate, window: window}, nil
}

type scorer struct {
	session *ort.DynamicAdvancedSession
	rate    int
	window  int

	state   [stateLen]float32
	context [contextLen]float32
	primed  bool

	// pending holds samples not yet consumed by a full window; last is the
	// most recent window probability.
	pending []float32
	last    float64
}

// Score feeds frame through the model window by window. When a frame does
// not complete a window the previous probability is carried over.
func (s *scorer) Score(frame []float32) (float64, error) {
	s.pending = append(s.pending, frame...)
	best, ran := 0.0, false
	for len(s.pending) >= s.window {
		p, err := s.infer(s.pending[:s.window])
		if err != nil {
			return 0, err
		}
		s.pending = s.pending[s.window:]
		s.last = p
		best, ran = max(best, p), true
	}
	if !ran {
		return s.last, nil
	}
	return best, nil
}

func (s *scorer) infer(window []float32) (float64, error) {
	pcm := window
	if s.primed {
		pcm = append(append(make([]float32, 0, contextLen+len(window)), s.context[:]...), window...)
	}
	copy(s.context[:], window[len(window)-contextLen:])
	s.primed = true

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(pcm))), pcm)
	if err != nil {
		return 0, fmt.Errorf("silero: input tensor: %w", err)
	}
	defer input.Destroy()
	state, err := ort.NewTensor(ort.NewShape(2, 1, 128), s.state[:])
	if err != nil {
		return 0, fmt.Errorf("silero: state tensor: %w", err)
	}
	defer state.Destroy()
	sr, err := ort.NewTensor(ort.NewShape(1), []int64{int64(s.rate)})
	if err != nil {
		return 0, fmt.Errorf("silero: sr tensor: %w", err)
	}
	defer sr.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("silero: output tensor: %w", err)
	}
	defer out.Destroy()
	stateN, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		return 0, fmt.Errorf("silero: stateN tensor: %w", err)
	}
	defer stateN.Destroy()

	if err := s.session.Run([]ort.Value{input, state, sr}, []ort.Value{out, stateN}); err != nil {
		return 0, fmt.Errorf("silero: run: %w", err)
	}
	copy(s.state[:], stateN.GetData())
	data := out.GetData()
	if len(data) == 0 {
		return 0, errors.New("silero: empty output")
	}
	return float64(data[0]), nil
}

func (s *scorer) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return fmt.Errorf("silero: destroy session: %w", err)
	}
	return nil
}

var _ vad.Engine = (*Engine)(nil)
