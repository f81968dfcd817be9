package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/logging"
	"github.com/TheDoctorTTV/247-steam/internal/source"
	"github.com/TheDoctorTTV/247-steam/internal/tools"
)

// CreateResolveCmd creates the resolve command, a dry run of queue
// building: it classifies the source URL and prints the items a
// session would play, without touching the encoder or the egress.
func CreateResolveCmd() *cobra.Command {
	var (
		settingsFile string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <source-url>",
		Short: "Resolve a source URL into a queue",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})
			logger := logging.GetLogger("source")

			settings, err := config.LoadSettings(settingsFile)
			if err != nil {
				logger.Error("Failed to load settings", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), settings.ResolveTimeout())
			defer cancel()

			status, err := tools.Check(ctx, settings.Tools)
			if err != nil {
				logger.Error("External tool check failed", "error", err)
				os.Exit(1)
			}

			resolver := source.NewResolver(status.Downloader, logger,
				source.WithResolveTimeout(settings.ResolveTimeout()))

			res, err := resolver.Resolve(ctx, args[0])
			if err != nil {
				logger.Error("Resolve failed", "error", err)
				os.Exit(1)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					logger.Error("Failed to encode result", "error", err)
					os.Exit(1)
				}
				return
			}

			fmt.Printf("%s: %d item(s)\n", res.Kind, len(res.Items))
			for i, it := range res.Items {
				line := fmt.Sprintf("%3d. %s", i+1, it.Title)
				switch {
				case it.Live:
					line += " [live]"
				case it.DurationSec > 0:
					line += fmt.Sprintf(" [%s]", time.Duration(it.DurationSec*float64(time.Second)).Round(time.Second))
				}
				fmt.Println(line)
			}
		},
	}

	cmd.Flags().StringVar(&settingsFile, "settings", "stream247.toml", "Path to settings file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the resolution as JSON")

	return cmd
}
