package supervisor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheDoctorTTV/247-steam/internal/encoders"
	"github.com/TheDoctorTTV/247-steam/internal/events"
	"github.com/TheDoctorTTV/247-steam/internal/metrics"
	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
	"github.com/TheDoctorTTV/247-steam/internal/process"
	"github.com/TheDoctorTTV/247-steam/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// shellFactory swaps every stage for a shell script keyed by stage name
// so tests run real processes without the external tools.
func shellFactory(scripts map[string]string) ChainFactory {
	return func(logger *slog.Logger, stages []process.Stage, opts ...process.ChainOption) chainRunner {
		replaced := make([]process.Stage, len(stages))
		for i, st := range stages {
			replaced[i] = process.Stage{
				Name:   st.Name,
				Path:   "sh",
				Args:   []string{"-c", scripts[st.Name]},
				Output: st.Output,
			}
		}
		return process.NewChain(logger, replaced, opts...)
	}
}

func newTestSupervisor(t *testing.T, scripts map[string]string, opts ...Option) *Supervisor {
	t.Helper()
	base := []Option{
		WithChainFactory(shellFactory(scripts)),
		WithGracefulTimeout(100 * time.Millisecond),
	}
	return New(tools.Status{}, events.New(), testLogger(), append(base, opts...)...)
}

func hwPlan() pipeline.Plan {
	return pipeline.Plan{
		Encoder:  encoders.Candidate{Name: "h264_nvenc", Family: encoders.FamilyNVENC, Hardware: true},
		InputURL: "https://example.test/stream.m3u8",
	}
}

func swPlan() pipeline.Plan {
	return pipeline.Plan{
		Encoder:  encoders.Candidate{Name: "libx264", Family: encoders.FamilySoftware},
		InputURL: "https://example.test/stream.m3u8",
	}
}

func awaitResult(t *testing.T, h *Handle, timeout time.Duration) Result {
	t.Helper()
	select {
	case res := <-h.Done():
		return res
	case <-time.After(timeout):
		t.Fatal("timeout waiting for chain result")
		return Result{}
	}
}

func TestCleanExitReportsCompleted(t *testing.T) {
	s := newTestSupervisor(t, map[string]string{"encoder": "exit 0"})
	h, err := s.Launch("sess-complete", hwPlan())
	if err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, h, 2*time.Second)
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
	if s.Running() {
		t.Error("supervisor still reports a running chain")
	}
}

func TestSessionMetricsSurviveItemCompletion(t *testing.T) {
	sessionID := "sess-metrics-survive"
	metrics.DeleteSession(sessionID)
	defer metrics.DeleteSession(sessionID)
	metrics.RecordSessionStart(sessionID, 1700000000)

	s := newTestSupervisor(t, map[string]string{"encoder": "exit 0"})
	h, err := s.Launch(sessionID, hwPlan())
	if err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, h, 2*time.Second)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}

	// The collector is torn down after every item. Session-scoped
	// metrics belong to the session and must still be exported here.
	if !sessionStartGaugeExists(t, sessionID) {
		t.Error("session start gauge missing after item completed")
	}
}

func sessionStartGaugeExists(t *testing.T, sessionID string) bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "stream247_session_started_timestamp_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "session_id" && l.GetValue() == sessionID {
					return true
				}
			}
		}
	}
	return false
}

func TestHardwareFailureReportsEncoderFailure(t *testing.T) {
	s := newTestSupervisor(t, map[string]string{"encoder": "exit 1"})
	h, err := s.Launch("sess-hwfail", hwPlan())
	if err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, h, 2*time.Second)
	if res.Outcome != OutcomeEncoderFailure {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeEncoderFailure)
	}
	if res.Detail == "" {
		t.Error("expected a failure detail")
	}
}

func TestSoftwareFailureReportsFatal(t *testing.T) {
	s := newTestSupervisor(t, map[string]string{"encoder": "exit 1"})
	h, err := s.Launch("sess-swfail", swPlan())
	if err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, h, 2*time.Second)
	if res.Outcome != OutcomeFatal {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeFatal)
	}
}

func TestStopReportsStopped(t *testing.T) {
	s := newTestSupervisor(t, map[string]string{
		"encoder": "trap 'exit 0' INT; while true; do sleep 0.05; done",
	})
	h, err := s.Launch("sess-stop", hwPlan())
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	s.Stop()

	res := awaitResult(t, h, 2*time.Second)
	if res.Outcome != OutcomeStopped {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeStopped)
	}
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	s := newTestSupervisor(t, nil)
	s.Stop()
	s.Stop()
}

func TestSkipReportsSkipped(t *testing.T) {
	s := newTestSupervisor(t, map[string]string{
		"encoder": "trap 'exit 0' INT; while true; do sleep 0.05; done",
	})
	h, err := s.Launch("sess-skip", hwPlan())
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	s.Skip()

	res := awaitResult(t, h, 2*time.Second)
	if res.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeSkipped)
	}
}

func TestStallKillsChain(t *testing.T) {
	// The stage produces nothing, so the watchdog must kill it well
	// before its own sleep finishes.
	s := newTestSupervisor(t,
		map[string]string{"encoder": "sleep 30"},
		WithStallTimeout(300*time.Millisecond),
	)
	h, err := s.Launch("sess-stall", hwPlan())
	if err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, h, 5*time.Second)
	if !res.Stalled {
		t.Error("result not marked stalled")
	}
	if res.Outcome != OutcomeEncoderFailure {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeEncoderFailure)
	}
}

func TestOutputActivityDefersStall(t *testing.T) {
	// Steady stderr output keeps the chain alive past the stall window.
	s := newTestSupervisor(t,
		map[string]string{"encoder": "for i in $(seq 1 8); do echo tick >&2; sleep 0.1; done"},
		WithStallTimeout(400*time.Millisecond),
	)
	h, err := s.Launch("sess-active", hwPlan())
	if err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, h, 5*time.Second)
	if res.Stalled {
		t.Error("active chain was treated as stalled")
	}
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
}

func TestSecondLaunchWhileLiveFails(t *testing.T) {
	s := newTestSupervisor(t, map[string]string{
		"encoder": "trap 'exit 0' INT; while true; do sleep 0.05; done",
	})
	h, err := s.Launch("sess-one", hwPlan())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Launch("sess-two", hwPlan()); err == nil {
		t.Error("expected second launch to fail while a chain is live")
	}

	s.Stop()
	awaitResult(t, h, 2*time.Second)
}

func TestPipeInputRunsTwoStages(t *testing.T) {
	plan := hwPlan()
	plan.PipeInput = true
	plan.InputURL = ""
	plan.Item.URL = "https://example.test/watch?v=abc"

	s := newTestSupervisor(t, map[string]string{
		"downloader": "printf 'frame\\nframe\\n'",
		"encoder":    "cat >/dev/null",
	})
	h, err := s.Launch("sess-pipe", plan)
	if err != nil {
		t.Fatal(err)
	}

	res := awaitResult(t, h, 2*time.Second)
	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
	if len(res.Stages) != 2 {
		t.Fatalf("expected 2 stage results, got %d", len(res.Stages))
	}
}
