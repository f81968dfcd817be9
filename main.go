package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/TheDoctorTTV/247-steam/cmd"
	"github.com/TheDoctorTTV/247-steam/internal/api"
	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/events"
	"github.com/TheDoctorTTV/247-steam/internal/logging"
	"github.com/TheDoctorTTV/247-steam/internal/metrics"
	"github.com/TheDoctorTTV/247-steam/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Settings file with stream/egress/engine sections
	Settings string `help:"Path to settings file" short:"s" default:"stream247.toml" toml:"settings.path" env:"SETTINGS_PATH"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingFile       string `help:"Log file path (empty disables file logging)" default:"" toml:"logging.file" env:"LOGGING_FILE"`
	LoggingEngine     string `help:"Engine logging level" default:"info" toml:"logging.engine" env:"LOGGING_ENGINE"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingSource     string `help:"Source resolver logging level" default:"info" toml:"logging.source" env:"LOGGING_SOURCE"`
	LoggingEncoders   string `help:"Encoder detection logging level" default:"info" toml:"logging.encoders" env:"LOGGING_ENCODERS"`
	LoggingDownloader string `help:"Downloader stage logging level" default:"warn" toml:"logging.downloader" env:"LOGGING_DOWNLOADER"`
	LoggingEncoder    string `help:"Encoder stage logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			File:   opts.LoggingFile,
			Modules: map[string]string{
				"engine":     opts.LoggingEngine,
				"supervisor": opts.LoggingSupervisor,
				"source":     opts.LoggingSource,
				"encoders":   opts.LoggingEncoders,
				"downloader": opts.LoggingDownloader,
				"encoder":    opts.LoggingEncoder,
				"api":        opts.LoggingAPI,
			},
		})

		logger := logging.GetLogger("main")

		store := config.NewStore(opts.Settings)
		if loadErr := store.Load(); loadErr != nil {
			logger.Warn("Failed to load settings, using defaults", "error", loadErr, "path", store.Path())
		}

		eventBus := events.New()

		// Feed every log line to SSE subscribers.
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		rt := cmd.BuildRuntime(context.Background(), store.Get(), eventBus)

		// Watch the settings file so edits apply to future sessions
		// without a restart. Running sessions keep their snapshot.
		watcher := config.NewConfigWatcher(
			store.Path(),
			config.LoadSettings,
			logger,
			config.WithDebounce[config.Settings](1500*time.Millisecond),
		)
		watcher.OnReload(func(fresh config.Settings) {
			store.Reload(fresh)
			logger.Info("Settings reloaded", "path", store.Path())
			eventBus.Publish(events.ConfigReloadedEvent{
				Path:      store.Path(),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		})

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Engine:            rt.Engine,
			Encoders:          rt.Detector,
			Settings:          store,
			EventBus:          eventBus,
			Tools:             rt.Tools,
			ToolsError:        rt.ToolsError,
			Usage:             rt.Supervisor,
			PrometheusHandler: metrics.Handler(),
		})

		// Mirror engine state into systemctl status output.
		eventBus.Subscribe(func(ev events.StateChangedEvent) {
			systemd.NotifySessionState(ev.To, rt.Engine.Snapshot().ItemsStreamed)
		})

		var stopWatchdog func()
		hooks.OnStart(func() {
			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Failed to start settings watcher, hot-reload disabled", "error", watchErr)
			}

			systemd.NotifyReady(logger)
			stopWatchdog = systemd.StartWatchdog(logger)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			systemd.NotifyStopping(logger)
			if stopWatchdog != nil {
				stopWatchdog()
			}
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping settings watcher", "error", stopErr)
			}

			// Ends any live subprocess chain before the process exits.
			rt.Engine.Shutdown()
		})
	})

	cli.Root().Use = "stream247"
	cli.Root().AddCommand(cmd.CreateStreamCmd())
	cli.Root().AddCommand(cmd.CreateDetectEncodersCmd())
	cli.Root().AddCommand(cmd.CreateResolveCmd())
	cli.Root().AddCommand(cmd.CreatePreflightCmd())

	cli.Run()
}
