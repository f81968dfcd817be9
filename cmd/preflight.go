package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/logging"
	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
	"github.com/TheDoctorTTV/247-steam/internal/preflight"
	"github.com/TheDoctorTTV/247-steam/internal/tools"
)

// CreatePreflightCmd creates the preflight command. It pushes a short
// synthetic stream at the ingest endpoint and reports whether the
// endpoint accepted it, so credentials can be checked before going live.
func CreatePreflightCmd() *cobra.Command {
	var (
		settingsFile string
		egressURL    string
		streamKey    string
		liveMode     bool
	)

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Test the egress endpoint",
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})
			logger := logging.GetLogger("preflight")

			settings, err := config.LoadSettings(settingsFile)
			if err != nil {
				logger.Error("Failed to load settings", "error", err)
				os.Exit(1)
			}

			target := pipeline.EgressTarget{
				URL:       settings.Egress.URL,
				StreamKey: settings.Egress.StreamKey,
				LiveMode:  settings.Egress.LiveMode || liveMode,
			}
			if egressURL != "" {
				target.URL = egressURL
			}
			if streamKey != "" {
				target.StreamKey = streamKey
			}
			if target.URL == "" {
				logger.Error("No egress URL configured")
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			status, err := tools.Check(ctx, settings.Tools)
			if err != nil {
				logger.Error("External tool check failed", "error", err)
				os.Exit(1)
			}

			tester := preflight.NewTester(status.Encoder, logger)
			if err := tester.Test(ctx, target); err != nil {
				fmt.Printf("FAIL (%s): %s\n", preflight.ReasonOf(err), err)
				os.Exit(1)
			}
			fmt.Println("OK: endpoint accepted the test stream")
		},
	}

	cmd.Flags().StringVar(&settingsFile, "settings", "stream247.toml", "Path to settings file")
	cmd.Flags().StringVar(&egressURL, "egress-url", "", "Override ingest base URL")
	cmd.Flags().StringVar(&streamKey, "stream-key", "", "Override stream key")
	cmd.Flags().BoolVar(&liveMode, "live-mode", false, "Use endless-stream muxer flags")

	return cmd
}
