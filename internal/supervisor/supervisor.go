// Package supervisor owns the live encode/egress subprocess chain for a
// session. It launches the chain described by a pipeline plan, watches
// its health, and reports a single classified result the engine acts on.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheDoctorTTV/247-steam/internal/events"
	"github.com/TheDoctorTTV/247-steam/internal/metrics"
	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
	"github.com/TheDoctorTTV/247-steam/internal/process"
	"github.com/TheDoctorTTV/247-steam/internal/tools"
)

// Outcome classifies how a chain run ended.
type Outcome string

// Chain outcomes.
const (
	// OutcomeCompleted is a clean end-of-item exit; the engine advances
	// the queue.
	OutcomeCompleted Outcome = "completed"

	// OutcomeEncoderFailure is an abnormal exit while a hardware
	// encoder was selected; the engine demotes it and retries the same
	// item with the next candidate.
	OutcomeEncoderFailure Outcome = "encoder_failure"

	// OutcomeFatal is an abnormal exit with the software encoder (or
	// after hardware fallbacks are exhausted); the engine enters its
	// error state.
	OutcomeFatal Outcome = "fatal_pipeline_failure"

	// OutcomeStopped and OutcomeSkipped are operator-driven exits.
	OutcomeStopped Outcome = "stopped"
	OutcomeSkipped Outcome = "skipped"
)

// Result is the terminal report for one chain run.
type Result struct {
	Outcome Outcome
	Detail  string
	Stalled bool
	Stages  []process.StageResult
}

// Handle tracks one launched chain until its result is delivered.
type Handle struct {
	done chan Result
}

// Done yields exactly one Result when the chain finishes for any reason.
func (h *Handle) Done() <-chan Result {
	return h.done
}

// chainRunner is the slice of process.Chain the supervisor drives.
// Tests substitute chains built over plain shell commands.
type chainRunner interface {
	Start() error
	Done() <-chan struct{}
	Results() []process.StageResult
	Stop()
	PIDs() []int
}

// ChainFactory builds the runner for a set of stages.
type ChainFactory func(logger *slog.Logger, stages []process.Stage, opts ...process.ChainOption) chainRunner

func defaultChainFactory(logger *slog.Logger, stages []process.Stage, opts ...process.ChainOption) chainRunner {
	return process.NewChain(logger, stages, opts...)
}

type run struct {
	handle  *Handle
	chain   chainRunner
	collect *metrics.ProgressCollector

	mu           sync.Mutex
	lastActivity time.Time
	stalled      bool
	stopped      bool
	skipped      bool

	watchStop chan struct{}
}

// Supervisor launches and monitors at most one subprocess chain at a
// time. The engine is its only caller; mutual exclusion over the chain
// is enforced here rather than trusted to callers.
type Supervisor struct {
	toolset      tools.Status
	bus          *events.Bus
	logger       *slog.Logger
	dlLogger     *slog.Logger
	encLogger    *slog.Logger
	makeChain    ChainFactory
	stallTimeout time.Duration
	graceTimeout time.Duration
	socketDir    string

	mu      sync.Mutex
	current *run
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithStallTimeout sets the no-progress window after which a chain is
// treated as hung and killed. Default is 45s.
func WithStallTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stallTimeout = d
		}
	}
}

// WithGracefulTimeout sets how long Stop waits before force-killing.
func WithGracefulTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.graceTimeout = d
		}
	}
}

// WithChainFactory substitutes the chain constructor. Used by tests.
func WithChainFactory(f ChainFactory) Option {
	return func(s *Supervisor) {
		s.makeChain = f
	}
}

// WithStageLoggers overrides the per-stage output loggers.
func WithStageLoggers(downloader, encoder *slog.Logger) Option {
	return func(s *Supervisor) {
		s.dlLogger = downloader
		s.encLogger = encoder
	}
}

// New creates a supervisor over the resolved tool pair.
func New(toolset tools.Status, bus *events.Bus, logger *slog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		toolset:      toolset,
		bus:          bus,
		logger:       logger,
		dlLogger:     logger,
		encLogger:    logger,
		makeChain:    defaultChainFactory,
		stallTimeout: 45 * time.Second,
		graceTimeout: 5 * time.Second,
		socketDir:    os.TempDir(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Running reports whether a chain is currently live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// PIDs returns the live chain's process IDs, empty when idle.
func (s *Supervisor) PIDs() []int {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.chain.PIDs()
}

// Launch starts the subprocess chain for a plan and returns a handle
// the engine awaits. Exactly one chain may be live; launching over a
// live chain is an error, the engine must stop or await it first.
func (s *Supervisor) Launch(sessionID string, plan pipeline.Plan) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, fmt.Errorf("chain already running")
	}

	r := &run{
		handle:       &Handle{done: make(chan Result, 1)},
		lastActivity: time.Now(),
		watchStop:    make(chan struct{}),
	}

	// Progress socket before argv construction so the encoder reports
	// into it.
	socket := filepath.Join(s.socketDir, fmt.Sprintf("stream247-%s.sock", shortID(sessionID)))
	plan.ProgressSocket = socket
	r.collect = metrics.NewProgressCollector(s.logger, socket, sessionID,
		metrics.WithObserver(func(p metrics.Progress) {
			r.touch()
			s.bus.Publish(events.ProgressEvent{
				SessionID:  sessionID,
				FPS:        p.FPS,
				BitrateKbs: p.BitrateKbps,
				Speed:      p.Speed,
				Dropped:    int64(p.DroppedFrames),
				Duplicate:  int64(p.DuplicateFrames),
				OutTime:    formatOutTime(p.OutTimeSeconds),
				Timestamp:  time.Now().Format(time.RFC3339),
			})
		}))

	stages := s.stagesFor(plan, r)
	chain := s.makeChain(s.logger, stages, process.WithGracefulTimeout(s.graceTimeout))
	r.chain = chain

	if err := r.collect.Start(context.Background()); err != nil {
		s.logger.Warn("Progress collector unavailable, stall detection degrades to output activity", "error", err)
		r.collect = nil
	}

	if err := chain.Start(); err != nil {
		if r.collect != nil {
			r.collect.Stop()
		}
		return nil, err
	}

	s.current = r
	go s.watch(r)
	go s.await(sessionID, plan, r)
	return r.handle, nil
}

// Stop terminates the live chain gracefully and waits for it to go
// down. Calling it with no live chain is a no-op.
func (s *Supervisor) Stop() {
	s.interrupt(false)
}

// Skip terminates the live chain and marks the result as a skip so the
// engine advances the queue instead of treating it as a failure.
func (s *Supervisor) Skip() {
	s.interrupt(true)
}

func (s *Supervisor) interrupt(skip bool) {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	r.stopped = true
	r.skipped = skip
	r.mu.Unlock()

	// Blocks until the processes are down; the classified result is
	// delivered on the handle by the await goroutine.
	r.chain.Stop()
}

func (s *Supervisor) stagesFor(plan pipeline.Plan, r *run) []process.Stage {
	var stages []process.Stage
	if plan.PipeInput {
		stages = append(stages, process.Stage{
			Name:   "downloader",
			Path:   s.toolset.Downloader.Path,
			Args:   append(append([]string{}, s.toolset.Downloader.BaseArgs...), plan.DownloaderArgv()...),
			Logger: s.dlLogger,
			Parser: pipeline.ParseDownloaderLogLevel,
			Output: activityFunc(r.touch),
		})
	}
	stages = append(stages, process.Stage{
		Name:   "encoder",
		Path:   s.toolset.Encoder.Path,
		Args:   append(append([]string{}, s.toolset.Encoder.BaseArgs...), plan.EncoderArgv()...),
		Logger: s.encLogger,
		Parser: pipeline.ParseEncoderLogLevel,
		Output: activityFunc(r.touch),
	})
	return stages
}

// watch kills the chain when neither output nor progress has advanced
// within the stall window. A hung push never exits on its own; killing
// it converts the hang into an abnormal exit the engine can recover.
func (s *Supervisor) watch(r *run) {
	interval := s.stallTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.watchStop:
			return
		case <-ticker.C:
			r.mu.Lock()
			idle := time.Since(r.lastActivity)
			stopped := r.stopped
			r.mu.Unlock()
			if stopped {
				return
			}
			if idle > s.stallTimeout {
				s.logger.Error("Pipeline stalled, killing chain", "idle", idle.Round(time.Second))
				r.mu.Lock()
				r.stalled = true
				r.mu.Unlock()
				r.chain.Stop()
				return
			}
		}
	}
}

func (s *Supervisor) await(sessionID string, plan pipeline.Plan, r *run) {
	<-r.chain.Done()
	close(r.watchStop)
	if r.collect != nil {
		r.collect.Stop()
	}

	results := r.chain.Results()

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	res := classify(plan, r, results)
	s.logger.Info("Chain finished",
		"outcome", res.Outcome, "detail", res.Detail, "stalled", res.Stalled)
	r.handle.done <- res
}

// classify turns stage exit codes into the engine-facing outcome. The
// encoder stage is decisive: the downloader exits non-zero whenever the
// encoder closes the pipe first, which is normal at end of item.
func classify(plan pipeline.Plan, r *run, results []process.StageResult) Result {
	r.mu.Lock()
	stopped, skipped, stalled := r.stopped, r.skipped, r.stalled
	r.mu.Unlock()

	res := Result{Stages: results, Stalled: stalled}

	switch {
	case skipped:
		res.Outcome = OutcomeSkipped
		return res
	case stopped:
		res.Outcome = OutcomeStopped
		return res
	}

	enc := results[len(results)-1]
	if enc.ExitCode == 0 && !stalled {
		res.Outcome = OutcomeCompleted
		return res
	}

	if stalled {
		res.Detail = "pipeline produced no output or progress within the stall window"
	} else {
		res.Detail = fmt.Sprintf("encoder exited with code %d", enc.ExitCode)
	}

	if plan.Encoder.Hardware {
		res.Outcome = OutcomeEncoderFailure
	} else {
		res.Outcome = OutcomeFatal
	}
	return res
}

type activityFunc func()

func (f activityFunc) HandleLine(_, _ string) { f() }

func (r *run) touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatOutTime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, sec)
}
