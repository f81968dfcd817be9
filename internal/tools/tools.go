package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/process"
)

// Default binary names looked up on PATH when no override is configured.
const (
	DefaultDownloader = "yt-dlp"
	DefaultEncoder    = "ffmpeg"
)

// ErrNotFound marks a tool that could not be located.
var ErrNotFound = errors.New("tool not found")

// Tool describes a resolved external binary.
type Tool struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	BaseArgs []string `json:"base_args,omitempty"`
	Version  string   `json:"version,omitempty"`
}

// Status reports the resolved tool pair. Both tools must resolve before
// a session can start.
type Status struct {
	Downloader Tool `json:"downloader"`
	Encoder    Tool `json:"encoder"`
}

// versionFlag returns the flag a tool prints its version with.
func versionFlag(name string) string {
	if name == DefaultEncoder || strings.Contains(name, "ffmpeg") {
		return "-version"
	}
	return "--version"
}

// Check resolves both external tools, honoring configured overrides.
// Overrides may carry extra arguments ("yt-dlp --socket-timeout 10");
// those are kept as BaseArgs and prepended when the tool is launched.
// Returns a joined error naming every tool that failed.
func Check(ctx context.Context, cfg config.ToolSettings) (*Status, error) {
	status := &Status{}

	dl, dlErr := resolve(ctx, DefaultDownloader, cfg.Downloader)
	if dlErr == nil {
		status.Downloader = *dl
	}

	enc, encErr := resolve(ctx, DefaultEncoder, cfg.Encoder)
	if encErr == nil {
		status.Encoder = *enc
	}

	return status, errors.Join(dlErr, encErr)
}

// resolve locates one tool and probes its version.
func resolve(ctx context.Context, name, override string) (*Tool, error) {
	bin := name
	var baseArgs []string

	if override != "" {
		var err error
		bin, baseArgs, err = process.SplitCommand(override)
		if err != nil {
			return nil, fmt.Errorf("%s override %q: %w", name, override, err)
		}
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", name, bin, ErrNotFound)
	}

	tool := &Tool{Name: name, Path: path, BaseArgs: baseArgs}
	tool.Version = probeVersion(ctx, path, versionFlag(name))
	return tool, nil
}

// probeVersion runs the binary with its version flag and returns the
// first output line. Best effort: a tool that resolves but fails the
// version probe is still usable, so errors yield an empty version.
func probeVersion(ctx context.Context, path, flag string) string {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, path, flag)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return ""
	}

	line, _, _ := strings.Cut(out.String(), "\n")
	return strings.TrimSpace(line)
}
