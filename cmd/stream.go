package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/engine"
	"github.com/TheDoctorTTV/247-steam/internal/events"
	"github.com/TheDoctorTTV/247-steam/internal/logging"
	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
)

// CreateStreamCmd creates the headless stream command. It runs one
// session in the foreground without the HTTP server and exits when the
// session ends or a signal arrives.
func CreateStreamCmd() *cobra.Command {
	var (
		settingsFile string
		egressURL    string
		streamKey    string
		quality      string
		fps          int
		shuffle      bool
		noPreflight  bool
		logJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "stream <source-url>",
		Short: "Stream a source in the foreground",
		Long: `Resolves the source URL into a queue and loops it to the configured ` +
			`ingest endpoint until interrupted. Runs without the HTTP API; progress ` +
			`and state changes go to the log.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			sourceURL := args[0]

			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("stream")

			store := config.NewStore(settingsFile)
			if err := store.Load(); err != nil {
				logger.Error("Failed to load settings", "error", err, "path", settingsFile)
				os.Exit(1)
			}

			settings := store.Get()
			if quality != "" {
				settings.Stream.Quality = quality
			}
			if fps != 0 {
				settings.Stream.FPS = fps
			}
			if shuffle {
				settings.Stream.Shuffle = true
			}
			if noPreflight {
				settings.Egress.Preflight = false
			}
			if egressURL != "" {
				settings.Egress.URL = egressURL
			}
			if streamKey != "" {
				settings.Egress.StreamKey = streamKey
			}

			bus := events.New()
			rt := BuildRuntime(context.Background(), settings, bus)
			if rt.ToolsError != nil {
				os.Exit(1)
			}

			// Terminal states end the run.
			finished := make(chan string, 1)
			unsub := bus.Subscribe(func(ev events.StateChangedEvent) {
				switch engine.State(ev.To) {
				case engine.StateStopped, engine.StateError:
					select {
					case finished <- ev.To:
					default:
					}
				}
			})
			defer unsub()

			target := pipeline.EgressTarget{
				URL:       settings.Egress.URL,
				StreamKey: settings.Egress.StreamKey,
				LiveMode:  settings.Egress.LiveMode,
			}
			sessionID, err := rt.Engine.Start(sourceURL, settings, target)
			if err != nil {
				logger.Error("Failed to start session", "error", err)
				os.Exit(1)
			}
			logger.Info("Session started", "session_id", sessionID, "source", sourceURL)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			exitCode := 0
			select {
			case sig := <-sigCh:
				logger.Info("Signal received, stopping session", "signal", sig.String())
				if stopErr := rt.Engine.Stop(); stopErr != nil {
					logger.Warn("Stop failed", "error", stopErr)
				}
				<-finished
			case state := <-finished:
				if state == string(engine.StateError) {
					logger.Error("Session failed", "error", rt.Engine.Snapshot().LastError)
					exitCode = 1
				}
			}

			rt.Engine.Shutdown()
			logger.Info("Stream command exiting", "exit_code", exitCode)
			os.Exit(exitCode)
		},
	}

	cmd.Flags().StringVar(&settingsFile, "settings", "stream247.toml", "Path to settings file")
	cmd.Flags().StringVar(&egressURL, "egress-url", "", "Override ingest base URL")
	cmd.Flags().StringVar(&streamKey, "stream-key", "", "Override stream key")
	cmd.Flags().StringVar(&quality, "quality", "", "Override quality preset (480p, 720p, 1080p, 1440p, 4K)")
	cmd.Flags().IntVar(&fps, "fps", 0, "Override frame rate (30 or 60)")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "Shuffle the resolved queue")
	cmd.Flags().BoolVar(&noPreflight, "no-preflight", false, "Skip the egress preflight test")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}
