// Package preflight verifies an ingest endpoint accepts a push before a
// session commits to it. It sends about one second of synthetic black
// video and classifies the failure so callers can tell an unreachable
// host from a rejected stream key.
package preflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
	"github.com/TheDoctorTTV/247-steam/internal/tools"
)

const defaultTimeout = 15 * time.Second

// Reason classifies why an egress test failed.
type Reason string

const (
	ConnectionRefused Reason = "connection_refused"
	AuthRejected      Reason = "auth_rejected"
	Timeout           Reason = "timeout"
	Unknown           Reason = "unknown"
)

// Error is a classified egress test failure.
type Error struct {
	Reason Reason
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	switch e.Reason {
	case ConnectionRefused:
		return fmt.Sprintf("ingest endpoint unreachable: %s", e.Detail)
	case AuthRejected:
		return fmt.Sprintf("ingest rejected the stream key: %s", e.Detail)
	case Timeout:
		return fmt.Sprintf("egress test timed out: %s", e.Detail)
	default:
		return fmt.Sprintf("egress test failed: %s", e.Detail)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ReasonOf extracts the classification from an egress test error.
func ReasonOf(err error) Reason {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return Unknown
}

// Stderr fragments that mean the endpoint could not be reached at all.
var refusedPatterns = []string{
	"connection refused",
	"no route to host",
	"network is unreachable",
	"name or service not known",
	"failed to resolve",
	"host is down",
}

// Stderr fragments that mean the endpoint answered and said no.
var authPatterns = []string{
	"authmod",
	"publish rejected",
	"needauth",
	"403",
	"bad name",
	"badname",
	"invalid stream key",
	"access denied",
}

var timeoutPatterns = []string{
	"timed out",
	"timeout",
}

// Tester pushes a short synthetic stream at an ingest endpoint using
// the software encoder only; hardware availability must not change the
// verdict on the endpoint.
type Tester struct {
	encoder tools.Tool
	logger  *slog.Logger
	timeout time.Duration
}

// TesterOption configures a Tester.
type TesterOption func(*Tester)

// WithTimeout bounds the whole egress test.
func WithTimeout(d time.Duration) TesterOption {
	return func(t *Tester) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTester creates a tester backed by the given encoder tool.
func NewTester(encoder tools.Tool, logger *slog.Logger, opts ...TesterOption) *Tester {
	t := &Tester{
		encoder: encoder,
		logger:  logger,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Test pushes ~1s of black frames and silence to the target. A nil
// return means the endpoint accepted the publish. Failures come back as
// *Error; session state is never touched.
func (t *Tester) Test(ctx context.Context, target pipeline.EgressTarget) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := append([]string{}, t.encoder.BaseArgs...)
	args = append(args,
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=black:s=320x180:rate=30",
		"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", "1",
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac",
		"-f", "flv",
	)
	if target.LiveMode {
		args = append(args, "-flvflags", "no_duration_filesize")
	}
	args = append(args, target.Address())

	cmd := exec.CommandContext(ctx, t.encoder.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.logger.Debug("testing egress", "url", target.URL)
	err := cmd.Run()
	if err == nil {
		t.logger.Info("egress test passed", "url", target.URL)
		return nil
	}
	return t.classify(err, ctx.Err(), stderr.String())
}

func (t *Tester) classify(err, ctxErr error, stderr string) error {
	detail := stderrTail(stderr)
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return &Error{
			Reason: Timeout,
			Detail: fmt.Sprintf("no response within %s", t.timeout),
			Cause:  err,
		}
	}

	lowered := strings.ToLower(stderr)
	for _, pattern := range authPatterns {
		if strings.Contains(lowered, pattern) {
			return &Error{Reason: AuthRejected, Detail: detail, Cause: err}
		}
	}
	for _, pattern := range refusedPatterns {
		if strings.Contains(lowered, pattern) {
			return &Error{Reason: ConnectionRefused, Detail: detail, Cause: err}
		}
	}
	for _, pattern := range timeoutPatterns {
		if strings.Contains(lowered, pattern) {
			return &Error{Reason: Timeout, Detail: detail, Cause: err}
		}
	}

	if detail == "" {
		detail = err.Error()
	}
	return &Error{Reason: Unknown, Detail: detail, Cause: err}
}

// stderrTail returns the last few non-empty stderr lines; the encoder
// prints the decisive error last.
func stderrTail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var kept []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > 3 {
		kept = kept[len(kept)-3:]
	}
	return strings.Join(kept, "; ")
}
