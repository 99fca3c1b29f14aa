// Package session orchestrates the alignment pipeline for one practice pair.
//
// A [Session] holds the latest recording of each side (target and attempt)
// together with its prepared result. [Session.Prepare] runs decode, detect
// and trim for both sides concurrently, reuses a side's cached result when
// neither its recording nor its side-affecting parameters changed, and aligns
// the two once both are ready.
//
// Every side run carries a generation number. Starting a new run for a side
// cancels the one in flight; the old run notices at its next stage boundary
// and its result is discarded with [ErrSuperseded]. At most one current
// result per side is ever cached or returned as ok.
//
// Calls asking for the same recording share one run. A caller that gives up
// leaves the run to the others; the run is cancelled only once nobody waits
// for it, or by supersession or [Session.Close].
//
// A [Manager] keeps sessions in memory, keyed by UUID, and evicts idle ones.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/shadowalign/internal/observe"
	"github.com/MrWong99/shadowalign/pkg/align"
	"github.com/MrWong99/shadowalign/pkg/pipeline"
	"github.com/MrWong99/shadowalign/pkg/types"
)

var (
	// ErrSuperseded marks a side run discarded because a newer recording for
	// the same side arrived while it was in flight.
	ErrSuperseded = errors.New("session: superseded by a newer recording")

	// ErrNoRecording is reported for a side that has never received a
	// recording.
	ErrNoRecording = errors.New("session: no recording for side")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")
)

// Status is the outcome of one side.
type Status string

const (
	StatusOK         Status = "ok"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
	StatusMissing    Status = "missing"
)

// AlignStatus is the outcome of the alignment step.
type AlignStatus string

const (
	AlignOK AlignStatus = "ok"

	// AlignNothingToAlign means at least one side has no speech.
	AlignNothingToAlign AlignStatus = "nothing_to_align"

	// AlignFailed covers every other alignment error, such as mismatched
	// sample rates.
	AlignFailed AlignStatus = "failed"

	// AlignSkipped means a side was not ok, so alignment did not run.
	AlignSkipped AlignStatus = "skipped"
)

// SideResult describes the state of one side after a call.
type SideResult struct {
	Side   types.Side
	Status Status

	// Err is set for every status other than ok. Decode failures are
	// *audio.DecodeError.
	Err error

	// Cached is true when the result was reused without running the pipeline.
	Cached bool

	// Generation is the run that produced the result.
	Generation uint64

	// Engine names the VAD engine that classified the frames. It differs
	// from the configured engine when a fallback served the run.
	Engine string

	Output SideOutput
}

// Result is the outcome of [Session.Prepare].
type Result struct {
	Target  SideResult
	Attempt SideResult

	AlignStatus AlignStatus
	Mapping     *align.Mapping
	AlignErr    error

	// Config is the validated configuration the call ran with.
	Config pipeline.Config
}

// Side returns the result for side.
func (r *Result) Side(side types.Side) SideResult {
	if side == types.SideAttempt {
		return r.Attempt
	}
	return r.Target
}

// run is one in-flight execution for a side.
type run struct {
	gen    uint64
	key    string
	cancel context.CancelFunc
	done   chan struct{}
	res    SideResult

	// waiters counts callers still waiting for res. Guarded by Session.mu.
	waiters int
}

type sideState struct {
	gen        uint64
	blob       []byte
	current    *SideResult
	currentKey string
	run        *run
}

// Session is one practice pair. All methods are safe for concurrent use.
type Session struct {
	id      string
	runner  *Runner
	metrics *observe.Metrics
	now     func() time.Time
	created time.Time

	mu       sync.Mutex
	closed   bool
	lastUsed time.Time
	attached int
	sides    map[types.Side]*sideState
}

// New returns an empty session.
func New(id string, runner *Runner) *Session {
	return newSession(id, runner, observe.DefaultMetrics(), time.Now)
}

func newSession(id string, runner *Runner, m *observe.Metrics, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:       id,
		runner:   runner,
		metrics:  m,
		now:      now,
		created:  t,
		lastUsed: t,
		sides: map[types.Side]*sideState{
			types.SideTarget:  {},
			types.SideAttempt: {},
		},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.created }

// LastUsed returns when the session last started an operation.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
}

// Attach marks the session as held by a long-lived client, such as a live
// socket, until the returned func is called. A held session is busy.
func (s *Session) Attach() (detach func()) {
	s.mu.Lock()
	s.attached++
	s.lastUsed = s.now()
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.attached--
			s.lastUsed = s.now()
			s.mu.Unlock()
		})
	}
}

// Busy reports whether a side run is in flight or a client is attached.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached > 0 {
		return true
	}
	for _, st := range s.sides {
		if st.run != nil {
			return true
		}
	}
	return false
}

// Prepare brings both sides up to date and aligns them. A nil blob keeps
// that side's previous recording. cfg is validated first; a
// [types.ConfigurationError] is returned before any work starts.
//
// Per-side failures never abort the other side and are reported in the
// result, not as the returned error. The error is non-nil only for invalid
// configuration, a closed session, or a cancelled ctx.
func (s *Session) Prepare(ctx context.Context, target, attempt []byte, cfg pipeline.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "session.prepare")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id))

	sideKey := s.runner.SideKey(cfg)
	blobs := map[types.Side][]byte{types.SideTarget: target, types.SideAttempt: attempt}

	waits := make([]func() SideResult, len(types.Sides))
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.lastUsed = s.now()
	for i, side := range types.Sides {
		waits[i] = s.begin(ctx, side, blobs[side], cfg, sideKey)
	}
	s.mu.Unlock()

	results := make([]SideResult, len(types.Sides))
	var g errgroup.Group
	for i := range waits {
		g.Go(func() error {
			results[i] = waits[i]()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("session: prepare: %w", err)
	}

	res := &Result{Target: results[0], Attempt: results[1], Config: cfg}
	s.align(ctx, res)
	s.metrics.PrepareDuration.Record(ctx, time.Since(start).Seconds())
	return res, nil
}

// Submit replaces one side's recording and aligns against the other side's
// current recording, if any.
func (s *Session) Submit(ctx context.Context, side types.Side, blob []byte, cfg pipeline.Config) (*Result, error) {
	if !side.IsValid() {
		return nil, fmt.Errorf("session: submit: invalid side %q", side)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("session: submit %s: %w", side, ErrNoRecording)
	}
	if side == types.SideTarget {
		return s.Prepare(ctx, blob, nil, cfg)
	}
	return s.Prepare(ctx, nil, blob, cfg)
}

// Current returns side's latest ok result, if any.
func (s *Session) Current(side types.Side) (SideResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sides[side]
	if !ok || st.current == nil {
		return SideResult{}, false
	}
	return *st.current, true
}

// Close cancels in-flight runs and drops every recording. Further calls to
// Prepare fail with [ErrClosed].
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, st := range s.sides {
		st.gen++
		if st.run != nil {
			st.run.cancel()
		}
		st.blob = nil
		st.current = nil
	}
}

// begin decides how side is served and returns a function that blocks until
// its result is available. Must be called with s.mu held.
func (s *Session) begin(ctx context.Context, side types.Side, blob []byte, cfg pipeline.Config, sideKey string) func() SideResult {
	st := s.sides[side]
	if blob == nil {
		blob = st.blob
	}
	if blob == nil {
		res := SideResult{Side: side, Status: StatusMissing, Err: ErrNoRecording}
		return func() SideResult { return res }
	}
	key := pipeline.BlobKey(blob, sideKey)

	// Same recording already in flight: wait for it.
	if r := st.run; r != nil && r.key == key {
		s.metrics.RecordCacheLookup(ctx, string(side), true)
		r.waiters++
		return func() SideResult { return s.wait(ctx, side, r) }
	}

	if st.run != nil {
		st.run.cancel()
		st.run = nil
	}
	st.gen++
	st.blob = blob

	if st.current != nil && st.currentKey == key {
		s.metrics.RecordCacheLookup(ctx, string(side), true)
		res := *st.current
		res.Cached = true
		return func() SideResult { return res }
	}
	s.metrics.RecordCacheLookup(ctx, string(side), false)

	// The run keeps the caller's trace but not its deadline: other callers
	// may join it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{gen: st.gen, key: key, cancel: cancel, done: make(chan struct{}), waiters: 1}
	st.run = r
	go s.execute(runCtx, side, r, blob, cfg)
	return func() SideResult { return s.wait(ctx, side, r) }
}

// wait blocks until r finishes or ctx ends. The last caller to give up
// cancels the run.
func (s *Session) wait(ctx context.Context, side types.Side, r *run) SideResult {
	select {
	case <-r.done:
		return r.res
	case <-ctx.Done():
	}

	s.mu.Lock()
	r.waiters--
	last := r.waiters == 0
	s.mu.Unlock()
	if last {
		r.cancel()
	}
	return SideResult{Side: side, Status: StatusFailed, Err: ctx.Err(), Generation: r.gen}
}

func (s *Session) execute(ctx context.Context, side types.Side, r *run, blob []byte, cfg pipeline.Config) {
	defer close(r.done)
	defer r.cancel()

	s.metrics.ActiveRuns.Add(ctx, 1)
	defer s.metrics.ActiveRuns.Add(context.WithoutCancel(ctx), -1)

	log := observe.Logger(ctx).With("session_id", s.id, "side", string(side), "generation", r.gen)
	log.Debug("side run started", "bytes", len(blob))

	out, err := s.runner.RunSide(ctx, side, blob, cfg, func() error {
		if s.generation(side) != r.gen {
			return ErrSuperseded
		}
		return ctx.Err()
	})

	res := SideResult{Side: side, Generation: r.gen, Engine: out.Engine, Output: out}
	if res.Engine == "" {
		res.Engine = s.runner.Engine()
	}

	s.mu.Lock()
	st := s.sides[side]
	switch {
	case st.gen != r.gen || errors.Is(err, ErrSuperseded):
		res.Status = StatusSuperseded
		res.Err = ErrSuperseded
	case err != nil:
		res.Status = StatusFailed
		res.Err = err
		st.current = nil
		st.currentKey = ""
	default:
		res.Status = StatusOK
		st.current = &res
		st.currentKey = r.key
		// A fallback's result stays current but is never reused: the
		// configured engine may serve the next run.
		if res.Engine != s.runner.Engine() {
			st.currentKey = ""
		}
	}
	if st.run == r {
		st.run = nil
	}
	r.res = res
	s.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	s.metrics.RecordSideRun(bg, string(side), string(res.Status))
	switch res.Status {
	case StatusSuperseded:
		s.metrics.RecordSupersession(bg, string(side))
		log.Debug("side run superseded")
	case StatusFailed:
		log.Warn("side run failed", "err", res.Err)
	default:
		log.Debug("side run finished",
			"elapsed", out.Elapsed,
			"segments", len(out.Trim.Segments),
			"offset", out.Trim.Offset,
		)
	}
}

func (s *Session) generation(side types.Side) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sides[side].gen
}

func (s *Session) align(ctx context.Context, res *Result) {
	strategy := string(res.Config.Align.Strategy)
	if res.Target.Status != StatusOK || res.Attempt.Status != StatusOK {
		res.AlignStatus = AlignSkipped
		s.metrics.RecordAlignment(ctx, strategy, string(res.AlignStatus))
		return
	}

	ctx, span := observe.StartStage(ctx, StageAlign, "both", attribute.String("strategy", strategy))
	start := time.Now()
	m, err := align.AlignResults(res.Target.Output.Trim, res.Attempt.Output.Trim, res.Config.Align)
	s.metrics.RecordStage(ctx, StageAlign, "both", time.Since(start))

	switch {
	case err == nil:
		res.AlignStatus = AlignOK
		res.Mapping = &m
		observe.EndSpan(span, nil)
	case errors.Is(err, align.ErrNothingToAlign):
		res.AlignStatus = AlignNothingToAlign
		res.AlignErr = err
		observe.EndSpan(span, nil)
	default:
		res.AlignStatus = AlignFailed
		res.AlignErr = err
		observe.EndSpan(span, err)
		observe.Logger(ctx).Warn("alignment failed", "session_id", s.id, "err", err)
	}
	s.metrics.RecordAlignment(ctx, strategy, string(res.AlignStatus))
}
