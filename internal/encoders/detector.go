package encoders

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Prober runs encoder availability checks against the encoder binary.
type Prober interface {
	// Compiled returns the raw encoder listing used to skip candidates
	// the binary was built without.
	Compiled(ctx context.Context) (string, error)

	// Probe runs a tiny synthetic encode with the candidate. A nil
	// error means the encoder produced output on this machine.
	Probe(ctx context.Context, c Candidate) error

	// DeviceNode returns the device node a family needs, when it
	// exists. Families without device requirements return ok with an
	// empty node.
	DeviceNode(f Family) (node string, ok bool)
}

// Detector probes encoder candidates and keeps a ranked list of the
// ones that work. Hardware encoders that fail their probe are excluded;
// the software encoder is always ranked last so the list is never empty.
type Detector struct {
	prober       Prober
	logger       *slog.Logger
	goos         string
	probeTimeout time.Duration

	mu         sync.RWMutex
	ranked     []Candidate
	demoted    map[string]string
	detectedAt time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithPlatform overrides the platform priority list. Default is
// runtime.GOOS.
func WithPlatform(goos string) DetectorOption {
	return func(d *Detector) {
		d.goos = goos
	}
}

// WithProbeTimeout sets the per-candidate probe timeout. Default is 10s.
func WithProbeTimeout(t time.Duration) DetectorOption {
	return func(d *Detector) {
		d.probeTimeout = t
	}
}

// NewDetector creates a detector using the given prober.
func NewDetector(prober Prober, logger *slog.Logger, opts ...DetectorOption) *Detector {
	d := &Detector{
		prober:       prober,
		logger:       logger,
		goos:         runtime.GOOS,
		probeTimeout: 10 * time.Second,
		demoted:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect probes every candidate for the platform concurrently and
// replaces the cached ranking. The returned slice is ordered by
// platform priority and always ends with the software encoder.
func (d *Detector) Detect(ctx context.Context) ([]Candidate, error) {
	families := PriorityFor(d.goos)

	compiled, err := d.prober.Compiled(ctx)
	if err != nil {
		// The probe step will surface real failures; a broken listing
		// only disables the skip optimization.
		d.logger.Warn("Failed to list compiled encoders", "error", err)
		compiled = ""
	}

	type outcome struct {
		candidate Candidate
		working   bool
	}
	outcomes := make([]outcome, len(families))

	g, gctx := errgroup.WithContext(ctx)
	for i, fam := range families {
		cand, ok := CandidateFor(fam)
		if !ok {
			continue
		}
		outcomes[i] = outcome{candidate: cand}

		if cand.Family == FamilySoftware {
			// Always ranked; probed only to warn early.
			outcomes[i].working = true
			g.Go(func() error {
				probeCtx, cancel := context.WithTimeout(gctx, d.probeTimeout)
				defer cancel()
				if probeErr := d.prober.Probe(probeCtx, cand); probeErr != nil {
					d.logger.Warn("Software encoder probe failed", "encoder", cand.Name, "error", probeErr)
				}
				return nil
			})
			continue
		}

		if compiled != "" && !strings.Contains(compiled, cand.Name) {
			d.logger.Debug("Encoder not compiled in, skipping", "encoder", cand.Name)
			continue
		}
		node, ok := d.prober.DeviceNode(cand.Family)
		if !ok {
			d.logger.Debug("Device node missing, skipping", "family", cand.Family)
			continue
		}
		outcomes[i].candidate.Device = node
		cand.Device = node

		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, d.probeTimeout)
			defer cancel()

			if probeErr := d.prober.Probe(probeCtx, cand); probeErr != nil {
				d.logger.Info("Encoder probe failed", "encoder", cand.Name, "error", probeErr)
				return nil
			}
			d.logger.Info("Encoder probe passed", "encoder", cand.Name)
			outcomes[i].working = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	ranked := make([]Candidate, 0, len(families))
	for _, o := range outcomes {
		if o.working {
			ranked = append(ranked, o.candidate)
		}
	}

	d.mu.Lock()
	d.ranked = ranked
	d.detectedAt = time.Now()
	d.mu.Unlock()

	return d.Ranked(), nil
}

// Ranked returns the cached ranking minus demoted candidates. The
// software encoder cannot be demoted, so the result is never empty
// once Detect has run.
func (d *Detector) Ranked() []Candidate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Candidate, 0, len(d.ranked))
	for _, c := range d.ranked {
		if _, gone := d.demoted[c.Name]; gone && c.Hardware {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Demote marks a hardware candidate unusable for the rest of the
// session after a runtime failure. Demoting the software encoder is
// refused; it is the guaranteed fallback.
func (d *Detector) Demote(name, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.ranked {
		if c.Name == name && !c.Hardware {
			d.logger.Warn("Refusing to demote software encoder", "encoder", name)
			return
		}
	}
	d.demoted[name] = reason
	d.logger.Info("Encoder demoted for this session", "encoder", name, "reason", reason)
}

// Demoted returns the demoted encoder names with their failure reasons.
func (d *Detector) Demoted() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.demoted))
	for k, v := range d.demoted {
		out[k] = v
	}
	return out
}

// Redetect clears session demotions and probes every candidate again.
func (d *Detector) Redetect(ctx context.Context) ([]Candidate, error) {
	d.mu.Lock()
	d.demoted = make(map[string]string)
	d.mu.Unlock()
	return d.Detect(ctx)
}

// DetectedAt returns when the cached ranking was produced.
func (d *Detector) DetectedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.detectedAt
}

// ExecProber probes encoders by running the encoder binary.
type ExecProber struct {
	encoderPath string
	baseArgs    []string
}

// NewExecProber creates a prober for the given encoder binary. baseArgs
// come from a tool override and are prepended to every invocation.
func NewExecProber(encoderPath string, baseArgs []string) *ExecProber {
	return &ExecProber{encoderPath: encoderPath, baseArgs: baseArgs}
}

// Compiled lists the encoders the binary was built with.
func (p *ExecProber) Compiled(ctx context.Context) (string, error) {
	args := append(append([]string{}, p.baseArgs...), "-hide_banner", "-encoders")
	out, err := exec.CommandContext(ctx, p.encoderPath, args...).Output()
	if err != nil {
		return "", fmt.Errorf("list encoders: %w", err)
	}
	return string(out), nil
}

// Probe runs a 0.2s black-frame encode discarded to the null muxer.
func (p *ExecProber) Probe(ctx context.Context, c Candidate) error {
	args := append([]string{}, p.baseArgs...)
	args = append(args, "-hide_banner", "-loglevel", "error")

	if c.Family == FamilyVAAPI {
		node := c.Device
		if node == "" {
			found, ok := findRenderNode()
			if !ok {
				return fmt.Errorf("no render node for vaapi")
			}
			node = found
		}
		args = append(args, "-vaapi_device", node)
	}

	args = append(args,
		"-f", "lavfi",
		"-i", "color=black:s=320x180:rate=30",
		"-t", "0.2",
		"-c:v", c.Name,
	)
	if c.Family == FamilyVAAPI {
		args = append(args, "-vf", "format=nv12,hwupload")
	}
	args = append(args, "-f", "null", "-")

	cmd := exec.CommandContext(ctx, p.encoderPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := firstLine(stderr.String())
		if detail != "" {
			return fmt.Errorf("%s: %w (%s)", c.Name, err, detail)
		}
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

// DeviceNode checks family device requirements. Only VAAPI needs a
// DRM render node; vendor runtimes surface their own probe failures.
func (p *ExecProber) DeviceNode(f Family) (string, bool) {
	if f == FamilyVAAPI {
		return findRenderNode()
	}
	return "", true
}

// findRenderNode returns the first DRM render node.
func findRenderNode() (string, bool) {
	matches, err := filepath.Glob("/dev/dri/renderD*")
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
