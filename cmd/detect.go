package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/encoders"
	"github.com/TheDoctorTTV/247-steam/internal/logging"
	"github.com/TheDoctorTTV/247-steam/internal/tools"
)

// CreateDetectEncodersCmd creates the detect command. It
// probes every hardware encoder family with a short test encode and
// prints the resulting priority order.
func CreateDetectEncodersCmd() *cobra.Command {
	var (
		settingsFile string
		asJSON       bool
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Probe hardware encoder availability",
		Long: `Runs a short test encode against each hardware encoder family ` +
			`(NVENC, QSV, AMF, VAAPI, VideoToolbox) and prints the ones that work, ` +
			`in the order sessions will try them. The software fallback is always last.`,
		Run: func(_ *cobra.Command, _ []string) {
			level := "info"
			if quiet {
				level = "warn"
			}
			logging.Initialize(logging.Config{Level: level, Format: "text"})
			logger := logging.GetLogger("encoders")

			settings, err := config.LoadSettings(settingsFile)
			if err != nil {
				logger.Error("Failed to load settings", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			status, err := tools.Check(ctx, settings.Tools)
			if err != nil {
				logger.Error("External tool check failed", "error", err)
				os.Exit(1)
			}

			detector := encoders.NewDetector(
				encoders.NewExecProber(status.Encoder.Path, status.Encoder.BaseArgs), logger)

			candidates, err := detector.Detect(ctx)
			if err != nil {
				logger.Error("Detection failed", "error", err)
				os.Exit(1)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(candidates); err != nil {
					logger.Error("Failed to encode results", "error", err)
					os.Exit(1)
				}
				return
			}

			for i, c := range candidates {
				kind := "software"
				if c.Hardware {
					kind = "hardware"
				}
				fmt.Printf("%d. %s (%s, %s)", i+1, c.Name, c.Family, kind)
				if c.Device != "" {
					fmt.Printf(" device=%s", c.Device)
				}
				fmt.Println()
			}
		},
	}

	cmd.Flags().StringVar(&settingsFile, "settings", "stream247.toml", "Path to settings file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress probe progress output")

	return cmd
}
