// Package engine is the orchestration state machine. It serializes
// commands from the service surface onto a single control loop, drives
// resolver, detector, builder, preflight and supervisor, and publishes
// every transition as a bus event.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/encoders"
	"github.com/TheDoctorTTV/247-steam/internal/events"
	"github.com/TheDoctorTTV/247-steam/internal/metrics"
	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
	"github.com/TheDoctorTTV/247-steam/internal/preflight"
	"github.com/TheDoctorTTV/247-steam/internal/source"
	"github.com/TheDoctorTTV/247-steam/internal/supervisor"
)

// Resolver enumerates a source URL into playable items.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (*source.Resolution, error)
	Enrich(ctx context.Context, item source.Item) (source.Item, error)
	ManifestURL(ctx context.Context, pageURL string) (string, error)
}

// Detector maintains the ranked encoder candidate list.
type Detector interface {
	Detect(ctx context.Context) ([]encoders.Candidate, error)
	Ranked() []encoders.Candidate
	Demote(name, reason string)
}

// Handle yields the result of one launched chain.
type Handle interface {
	Done() <-chan supervisor.Result
}

// Launcher owns the subprocess chain. Implemented by the supervisor
// through NewSupervisorLauncher; faked in tests.
type Launcher interface {
	Launch(sessionID string, plan pipeline.Plan) (Handle, error)
	Stop()
	Skip()
}

// Preflighter validates the egress target with a synthetic push.
type Preflighter interface {
	Test(ctx context.Context, target pipeline.EgressTarget) error
}

type supervisorLauncher struct {
	*supervisor.Supervisor
}

func (l supervisorLauncher) Launch(sessionID string, plan pipeline.Plan) (Handle, error) {
	h, err := l.Supervisor.Launch(sessionID, plan)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// NewSupervisorLauncher wraps the supervisor as an engine Launcher.
func NewSupervisorLauncher(s *supervisor.Supervisor) Launcher {
	return supervisorLauncher{s}
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdSkip
)

type command struct {
	kind   cmdKind
	url    string
	cfg    config.Settings
	target pipeline.EgressTarget
	reply  chan cmdReply
}

type cmdReply struct {
	sessionID string
	err       error
}

type opKind int

const (
	opResolve opKind = iota
	opDetect
	opPreflight
	opEnrich
	opManifest
)

type opResult struct {
	gen        uint64
	kind       opKind
	resolution *source.Resolution
	item       source.Item
	manifest   string
	err        error
}

// session is the loop-private state of one streaming run.
type session struct {
	id     string
	url    string
	cfg    config.Settings
	target pipeline.EgressTarget

	queue       *source.Queue
	kind        source.Kind
	maxAttempts int
	attempt     int
	plan        pipeline.Plan
	preflighted bool
	enrichedIdx int

	gen      uint64
	cancelOp context.CancelFunc

	stopping      bool
	startedAt     time.Time
	itemsStreamed int
}

// Engine is the top-level controller. One instance per process.
type Engine struct {
	resolver  Resolver
	detector  Detector
	launcher  Launcher
	preflight Preflighter
	bus       *events.Bus
	logger    *slog.Logger

	toolsErr error

	cmds chan command
	ops  chan opResult
	quit chan struct{}
	done chan struct{}

	// loop-owned; never touched outside the control goroutine.
	sess     *session
	resultCh <-chan supervisor.Result
	gapCh    <-chan time.Time

	snapMu   sync.RWMutex
	snap     Snapshot
	stateMsg string
	queue    *source.Queue
}

// Option configures an Engine.
type Option func(*Engine)

// WithToolsError marks the external tools unavailable. Start is
// rejected with this error until the engine is rebuilt.
func WithToolsError(err error) Option {
	return func(e *Engine) {
		e.toolsErr = err
	}
}

// New creates the engine and starts its control loop.
func New(resolver Resolver, detector Detector, launcher Launcher, preflight Preflighter,
	bus *events.Bus, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		resolver:  resolver,
		detector:  detector,
		launcher:  launcher,
		preflight: preflight,
		bus:       bus,
		logger:    logger,
		cmds:      make(chan command),
		ops:       make(chan opResult, 4),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		snap:      Snapshot{State: StateIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.loop()
	return e
}

// ToolsAvailable reports whether both external tools resolved at startup.
func (e *Engine) ToolsAvailable() bool {
	return e.toolsErr == nil
}

// Snapshot returns the current session state.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// Start begins a new session. The configuration is snapshotted; later
// settings changes never affect a running session.
func (e *Engine) Start(url string, cfg config.Settings, target pipeline.EgressTarget) (string, error) {
	return e.send(command{kind: cmdStart, url: url, cfg: cfg, target: target})
}

// Stop ends the active session. It cancels in-flight resolver,
// detector or preflight calls rather than waiting them out, and is a
// no-op when nothing is running.
func (e *Engine) Stop() error {
	_, err := e.send(command{kind: cmdStop})
	return err
}

// Skip abandons the current item and moves to the next one. Valid
// while streaming, and from the error state to step past a poisoned
// item.
func (e *Engine) Skip() error {
	_, err := e.send(command{kind: cmdSkip})
	return err
}

// TestEgress pushes a short synthetic stream at the target. It runs
// outside the control loop and never touches session state.
func (e *Engine) TestEgress(ctx context.Context, target pipeline.EgressTarget) error {
	err := e.preflight.Test(ctx, target)
	ev := events.PreflightResultEvent{
		OK:        err == nil,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Reason = string(preflight.ReasonOf(err))
		ev.Detail = err.Error()
	}
	e.bus.Publish(ev)
	return err
}

// Shutdown terminates the control loop, stopping any live chain.
func (e *Engine) Shutdown() {
	close(e.quit)
	<-e.done
}

func (e *Engine) send(cmd command) (string, error) {
	cmd.reply = make(chan cmdReply, 1)
	select {
	case e.cmds <- cmd:
	case <-e.quit:
		return "", fmt.Errorf("engine is shut down")
	}
	r := <-cmd.reply
	return r.sessionID, r.err
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			if e.sess != nil {
				if e.sess.cancelOp != nil {
					e.sess.cancelOp()
				}
				e.launcher.Stop()
			}
			return
		case cmd := <-e.cmds:
			e.handleCommand(cmd)
		case op := <-e.ops:
			e.handleOp(op)
		case res := <-e.resultCh:
			e.handleResult(res)
		case <-e.gapCh:
			e.gapCh = nil
			e.buildPlan()
		}
	}
}

func (e *Engine) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStart:
		id, err := e.startSession(cmd)
		cmd.reply <- cmdReply{sessionID: id, err: err}
	case cmdStop:
		e.stopSession()
		cmd.reply <- cmdReply{}
	case cmdSkip:
		cmd.reply <- cmdReply{err: e.skipItem()}
	}
}

func (e *Engine) startSession(cmd command) (string, error) {
	if e.toolsErr != nil {
		return "", fmt.Errorf("external tools unavailable: %w", e.toolsErr)
	}
	if e.sess != nil && e.state().active() {
		return "", fmt.Errorf("a session is already active (state %s)", e.state())
	}
	if err := cmd.cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid settings: %w", err)
	}
	if cmd.target.URL == "" {
		return "", fmt.Errorf("egress url is not configured")
	}

	sess := &session{
		id:          uuid.NewString(),
		url:         cmd.url,
		cfg:         cmd.cfg,
		target:      cmd.target,
		enrichedIdx: -1,
		startedAt:   time.Now(),
	}
	e.sess = sess
	e.resultCh = nil
	e.gapCh = nil

	e.snapMu.Lock()
	e.snap = Snapshot{SessionID: sess.id, State: StateIdle, SourceURL: cmd.url, StartedAt: sess.startedAt}
	e.queue = nil
	e.snapMu.Unlock()

	metrics.RecordSessionStart(sess.id, float64(sess.startedAt.Unix()))
	e.setState(StateResolving, "resolving "+cmd.url)

	ctx, cancel := context.WithTimeout(context.Background(), sess.cfg.ResolveTimeout())
	sess.cancelOp = cancel
	gen := sess.gen
	go func() {
		defer cancel()
		res, err := e.resolver.Resolve(ctx, cmd.url)
		e.postOp(opResult{gen: gen, kind: opResolve, resolution: res, err: err})
	}()
	return sess.id, nil
}

// postOp delivers a worker result to the loop unless the engine is
// shutting down.
func (e *Engine) postOp(op opResult) {
	select {
	case e.ops <- op:
	case <-e.quit:
	}
}

func (e *Engine) handleOp(op opResult) {
	sess := e.sess
	if sess == nil || op.gen != sess.gen {
		// Stale result from a cancelled call; the session moved on.
		return
	}

	switch op.kind {
	case opResolve:
		if op.err != nil {
			e.enterError(fmt.Sprintf("resolve failed: %v", op.err))
			return
		}
		sess.kind = op.resolution.Kind
		sess.queue = source.NewQueue(op.resolution.Items, sess.cfg.Stream.Shuffle)
		e.snapMu.Lock()
		e.queue = sess.queue
		e.snapMu.Unlock()
		e.logger.Info("Source resolved",
			"kind", sess.kind, "items", sess.queue.Len(), "shuffled", sess.queue.Shuffled())
		e.startDetection()

	case opDetect:
		if op.err != nil {
			e.enterError(fmt.Sprintf("encoder detection failed: %v", op.err))
			return
		}
		e.beginStreaming()

	case opPreflight:
		if op.err != nil {
			e.enterError(fmt.Sprintf("egress preflight failed: %v", op.err))
			return
		}
		sess.preflighted = true
		e.buildPlan()

	case opEnrich:
		item, ok := sess.queue.Current()
		if !ok {
			e.enterError("queue is empty")
			return
		}
		if op.err != nil {
			e.logger.Warn("Item metadata fetch failed, keeping flat entry",
				"title", item.Title, "error", op.err)
		} else {
			sess.queue.UpdateCurrent(op.item)
			item = op.item
		}
		ranked := e.detector.Ranked()
		if len(ranked) == 0 {
			e.enterError("no encoders left to try")
			return
		}
		e.assemblePlan(item, ranked[0])

	case opManifest:
		if op.err != nil {
			e.enterError(fmt.Sprintf("live manifest fetch failed: %v", op.err))
			return
		}
		sess.plan.InputURL = op.manifest
		e.launchPlan()
	}
}

// startDetection moves to detecting, reusing the cached ranking when
// one exists for this engine run.
func (e *Engine) startDetection() {
	sess := e.sess
	if len(e.detector.Ranked()) > 0 {
		e.beginStreaming()
		return
	}

	e.setState(StateDetecting, "probing encoder capabilities")
	ctx, cancel := context.WithCancel(context.Background())
	sess.cancelOp = cancel
	gen := sess.gen
	go func() {
		defer cancel()
		_, err := e.detector.Detect(ctx)
		e.postOp(opResult{gen: gen, kind: opDetect, err: err})
	}()
}

// beginStreaming runs the optional preflight, then builds the first plan.
func (e *Engine) beginStreaming() {
	sess := e.sess
	sess.maxAttempts = len(e.detector.Ranked())
	if sess.maxAttempts == 0 {
		e.enterError("no usable encoders detected")
		return
	}
	sess.attempt = 0

	if sess.cfg.Egress.Preflight && !sess.preflighted {
		e.setState(StatePreflighting, "testing egress endpoint")
		ctx, cancel := context.WithCancel(context.Background())
		sess.cancelOp = cancel
		gen := sess.gen
		go func() {
			defer cancel()
			err := e.preflight.Test(ctx, sess.target)
			e.postOp(opResult{gen: gen, kind: opPreflight, err: err})
		}()
		return
	}
	e.buildPlan()
}

// buildPlan selects the item at the cursor and the best remaining
// encoder, enriches flat playlist metadata when needed, and hands off
// to assemblePlan.
func (e *Engine) buildPlan() {
	sess := e.sess
	item, ok := sess.queue.Current()
	if !ok {
		e.enterError("queue is empty")
		return
	}

	ranked := e.detector.Ranked()
	if len(ranked) == 0 {
		e.enterError("no encoders left to try")
		return
	}
	cand := ranked[0]
	sess.attempt++
	if sess.attempt > sess.maxAttempts {
		e.enterError(fmt.Sprintf("exhausted %d encoder attempts for %q", sess.maxAttempts, item.Title))
		return
	}

	e.setState(StateBuildingPlan, fmt.Sprintf("item %q with %s", item.Title, cand.Name))

	// Flat playlist entries carry no upload date, which the overlay
	// wants. Fetch the full record once per item before the plan is
	// assembled; a failure keeps the flat metadata.
	index, _ := sess.queue.Position()
	if !item.Live && !item.Direct && item.UploadDate.IsZero() && index != sess.enrichedIdx {
		sess.enrichedIdx = index
		ctx, cancel := context.WithTimeout(context.Background(), sess.cfg.ResolveTimeout())
		sess.cancelOp = cancel
		gen := sess.gen
		go func() {
			defer cancel()
			enriched, err := e.resolver.Enrich(ctx, item)
			e.postOp(opResult{gen: gen, kind: opEnrich, item: enriched, err: err})
		}()
		return
	}
	e.assemblePlan(item, cand)
}

// assemblePlan bakes the chain plan for item and launches it, fetching
// a fresh live manifest first when the item needs one.
func (e *Engine) assemblePlan(item source.Item, cand encoders.Candidate) {
	sess := e.sess
	sess.plan = pipeline.Build(item, cand, sess.cfg, sess.target)

	// Live channel manifests expire; fetch a fresh one per attempt.
	if item.Live && !item.Direct {
		ctx, cancel := context.WithTimeout(context.Background(), sess.cfg.ResolveTimeout())
		sess.cancelOp = cancel
		gen := sess.gen
		go func() {
			defer cancel()
			manifest, err := e.resolver.ManifestURL(ctx, item.URL)
			e.postOp(opResult{gen: gen, kind: opManifest, manifest: manifest, err: err})
		}()
		return
	}
	e.launchPlan()
}

func (e *Engine) launchPlan() {
	sess := e.sess
	handle, err := e.launcher.Launch(sess.id, sess.plan)
	if err != nil {
		if sess.plan.Encoder.Hardware {
			e.demoteAndRetry(fmt.Sprintf("launch failed: %v", err))
			return
		}
		e.enterError(fmt.Sprintf("launch failed: %v", err))
		return
	}

	e.resultCh = handle.Done()
	index, total := sess.queue.Position()

	e.snapMu.Lock()
	e.snap.QueueIndex = index
	e.snap.QueueLength = total
	e.snap.ItemTitle = sess.plan.Item.Title
	e.snap.Encoder = sess.plan.Encoder.Name
	e.snap.Attempt = sess.attempt
	e.snapMu.Unlock()

	e.setState(StateStreaming, fmt.Sprintf("item %d/%d: %s", index+1, total, sess.plan.Item.Title))
	e.bus.Publish(events.ItemStartedEvent{
		SessionID: sess.id,
		Index:     index,
		Total:     total,
		Title:     sess.plan.Item.Title,
		Encoder:   sess.plan.Encoder.Name,
		Attempt:   sess.attempt,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (e *Engine) handleResult(res supervisor.Result) {
	e.resultCh = nil
	sess := e.sess
	if sess == nil {
		return
	}

	switch res.Outcome {
	case supervisor.OutcomeCompleted:
		sess.itemsStreamed++
		metrics.CountItemStreamed(sess.id)
		e.snapMu.Lock()
		e.snap.ItemsStreamed = sess.itemsStreamed
		e.snapMu.Unlock()
		if sess.stopping {
			e.finishSession(StateStopped, "stopped")
			return
		}
		e.advance(false)

	case supervisor.OutcomeSkipped:
		e.advance(true)

	case supervisor.OutcomeStopped:
		e.finishSession(StateStopped, "stopped")

	case supervisor.OutcomeEncoderFailure:
		if sess.stopping {
			e.finishSession(StateStopped, "stopped")
			return
		}
		e.demoteAndRetry(res.Detail)

	case supervisor.OutcomeFatal:
		if sess.stopping {
			e.finishSession(StateStopped, "stopped")
			return
		}
		e.enterError("pipeline failed with the software encoder: " + res.Detail)
	}
}

// advance moves the cursor and schedules the next item, honoring the
// configured inter-item gap. Skips relaunch immediately.
func (e *Engine) advance(skipped bool) {
	sess := e.sess
	wrapped := sess.queue.Advance()
	sess.attempt = 0

	index, total := sess.queue.Position()
	title := ""
	if item, ok := sess.queue.Current(); ok {
		title = item.Title
	}
	e.bus.Publish(events.QueueAdvancedEvent{
		SessionID: sess.id,
		Index:     index,
		Total:     total,
		Title:     title,
		Wrapped:   wrapped,
		Skipped:   skipped,
		Timestamp: time.Now().Format(time.RFC3339),
	})

	gap := sess.cfg.ItemGap()
	if skipped || gap <= 0 {
		e.buildPlan()
		return
	}
	e.setState(StateBuildingPlan, fmt.Sprintf("next item in %s", gap))
	e.gapCh = time.After(gap)
}

// demoteAndRetry removes the failed hardware encoder for the session
// and retries the same item with the next candidate.
func (e *Engine) demoteAndRetry(reason string) {
	sess := e.sess
	failed := sess.plan.Encoder.Name
	e.detector.Demote(failed, reason)
	metrics.CountDemotion(sess.id)
	metrics.CountRestart(sess.id)

	next := ""
	if ranked := e.detector.Ranked(); len(ranked) > 0 {
		next = ranked[0].Name
	}
	e.bus.Publish(events.EncoderDemotedEvent{
		SessionID: sess.id,
		Encoder:   failed,
		Next:      next,
		Reason:    reason,
		Timestamp: time.Now().Format(time.RFC3339),
	})

	e.setState(StateRecovering, fmt.Sprintf("%s failed, retrying with %s", failed, next))
	e.buildPlan()
}

func (e *Engine) stopSession() {
	sess := e.sess
	if sess == nil || !e.state().active() {
		if e.state() == StateError {
			e.finishSession(StateStopped, "stopped from error state")
		}
		return
	}

	sess.stopping = true
	sess.gen++ // in-flight worker results become stale

	if sess.cancelOp != nil {
		sess.cancelOp()
		sess.cancelOp = nil
	}

	if e.resultCh != nil {
		// Streaming: bring the chain down; the Stopped result closes
		// out the session.
		e.launcher.Stop()
		return
	}

	e.gapCh = nil
	e.finishSession(StateStopped, "stopped")
}

func (e *Engine) skipItem() error {
	switch e.state() {
	case StateStreaming:
		e.launcher.Skip()
		return nil
	case StateError:
		// Step past the item that killed the pipeline and resume.
		if e.sess == nil || e.sess.queue == nil {
			return fmt.Errorf("no session to resume")
		}
		e.advance(true)
		return nil
	default:
		return fmt.Errorf("skip is only valid while streaming (state %s)", e.state())
	}
}

func (e *Engine) enterError(msg string) {
	sess := e.sess
	if sess != nil {
		sess.gen++
		if sess.cancelOp != nil {
			sess.cancelOp()
			sess.cancelOp = nil
		}
	}
	e.gapCh = nil

	e.snapMu.Lock()
	e.snap.LastError = msg
	e.snapMu.Unlock()
	e.logger.Error("Session failed", "error", msg)
	e.setState(StateError, msg)
}

func (e *Engine) finishSession(state State, msg string) {
	sess := e.sess
	if sess != nil {
		sess.gen++
		if sess.cancelOp != nil {
			sess.cancelOp()
			sess.cancelOp = nil
		}
		metrics.DeleteSession(sess.id)
	}
	e.gapCh = nil
	e.resultCh = nil
	e.setState(state, msg)
}

// QueueItems returns the active queue in play order plus the cursor.
func (e *Engine) QueueItems() ([]source.Item, int) {
	e.snapMu.RLock()
	q := e.queue
	e.snapMu.RUnlock()
	if q == nil {
		return nil, 0
	}
	index, _ := q.Position()
	return q.Items(), index
}

func (e *Engine) state() State {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap.State
}

func (e *Engine) setState(to State, msg string) {
	e.snapMu.Lock()
	from := e.snap.State
	e.snap.State = to
	sessionID := e.snap.SessionID
	last := e.stateMsg
	e.stateMsg = msg
	e.snapMu.Unlock()

	// A state can re-enter itself with a new detail, for example
	// BuildingPlan after the inter-item gap. Only exact repeats are
	// suppressed.
	if from == to && msg == last {
		return
	}
	e.logger.Info("State changed", "from", from, "to", to, "detail", msg)
	e.bus.Publish(events.StateChangedEvent{
		SessionID: sessionID,
		From:      string(from),
		To:        string(to),
		Message:   msg,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
