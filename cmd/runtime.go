package cmd

import (
	"context"
	"time"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/encoders"
	"github.com/TheDoctorTTV/247-steam/internal/engine"
	"github.com/TheDoctorTTV/247-steam/internal/events"
	"github.com/TheDoctorTTV/247-steam/internal/logging"
	"github.com/TheDoctorTTV/247-steam/internal/preflight"
	"github.com/TheDoctorTTV/247-steam/internal/source"
	"github.com/TheDoctorTTV/247-steam/internal/supervisor"
	"github.com/TheDoctorTTV/247-steam/internal/tools"
)

// Runtime bundles the orchestration stack a command needs.
type Runtime struct {
	Engine     *engine.Engine
	Supervisor *supervisor.Supervisor
	Detector   *encoders.Detector
	Tools      *tools.Status
	ToolsError error
}

// BuildRuntime resolves the external tools and assembles the
// orchestration stack. A tool resolution failure is not fatal: the
// engine comes up anyway and rejects session starts until the tools
// appear, so the HTTP surface stays reachable for diagnostics.
func BuildRuntime(ctx context.Context, settings config.Settings, bus *events.Bus) *Runtime {
	logger := logging.GetLogger("main")

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	status, toolsErr := tools.Check(checkCtx, settings.Tools)
	if toolsErr != nil {
		logger.Error("External tool check failed", "error", toolsErr)
		status = &tools.Status{}
	} else {
		logger.Info("External tools resolved",
			"downloader", status.Downloader.Path, "downloader_version", status.Downloader.Version,
			"encoder", status.Encoder.Path, "encoder_version", status.Encoder.Version)
	}

	resolver := source.NewResolver(status.Downloader, logging.GetLogger("source"),
		source.WithResolveTimeout(settings.ResolveTimeout()))

	detector := encoders.NewDetector(
		encoders.NewExecProber(status.Encoder.Path, status.Encoder.BaseArgs),
		logging.GetLogger("encoders"))

	tester := preflight.NewTester(status.Encoder, logging.GetLogger("preflight"))

	sup := supervisor.New(*status, bus, logging.GetLogger("supervisor"),
		supervisor.WithStallTimeout(settings.StallTimeout()),
		supervisor.WithStageLoggers(logging.GetLogger("downloader"), logging.GetLogger("encoder")))

	var engineOpts []engine.Option
	if toolsErr != nil {
		engineOpts = append(engineOpts, engine.WithToolsError(toolsErr))
	}
	eng := engine.New(resolver, detector, engine.NewSupervisorLauncher(sup), tester,
		bus, logging.GetLogger("engine"), engineOpts...)

	return &Runtime{
		Engine:     eng,
		Supervisor: sup,
		Detector:   detector,
		Tools:      status,
		ToolsError: toolsErr,
	}
}
