package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/encoders"
	"github.com/TheDoctorTTV/247-steam/internal/source"
)

const defaultAudioBitrateKbps = 128

// Build computes the plan for streaming one item with one encoder
// candidate under the given settings.
func Build(item source.Item, cand encoders.Candidate, cfg config.Settings, target EgressTarget) Plan {
	dim, ok := dimensions[cfg.Stream.Quality]
	if !ok {
		dim = dimensions[config.Quality720p]
	}
	fps := cfg.Stream.FPS
	if fps != 30 && fps != 60 {
		fps = 30
	}

	bitrate := cfg.Stream.BitrateKbps
	if bitrate <= 0 {
		bitrate = BitrateFor(cfg.Stream.Quality, fps)
	}
	buffer := cfg.Stream.BufferKbps
	if buffer <= 0 {
		buffer = BufferFor(cfg.Stream.BufferPreset, bitrate)
	}

	var overlay string
	if cfg.Stream.Overlay {
		overlay = OverlayText(item)
	}

	pipe := !item.Live && !item.Direct
	plan := Plan{
		Item:             item,
		Encoder:          cand,
		Width:            dim.Width,
		Height:           dim.Height,
		FPS:              fps,
		VideoBitrateKbps: bitrate,
		BufferKbps:       buffer,
		AudioBitrateKbps: defaultAudioBitrateKbps,
		Overlay:          overlay,
		PipeInput:        pipe,
		Target:           target,
	}
	if !pipe {
		plan.InputURL = item.URL
	}
	return plan
}

// DownloaderArgv returns the downloader arguments for pipe-input plans,
// excluding the binary and any configured base arguments. The retry
// counts are effectively infinite so transient network failures never
// end an item early.
func (p Plan) DownloaderArgv() []string {
	if !p.PipeInput {
		return nil
	}
	return []string{
		"-o", "-",
		"-f", "bv*+ba/best",
		"--retries", "9999999",
		"--fragment-retries", "9999999",
		"--concurrent-fragments", "5",
		"--no-warnings",
		"--quiet",
		p.Item.URL,
	}
}

// EncoderArgv returns the encoder arguments, excluding the binary and
// any configured base arguments.
func (p Plan) EncoderArgv() []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	// Hardware device (before any input)
	if p.Encoder.Family == encoders.FamilyVAAPI && p.Encoder.Device != "" {
		args = append(args, "-vaapi_device", p.Encoder.Device)
	}

	// Input configuration
	if p.PipeInput {
		// -re paces the pipe read at native speed; the downloader
		// fills it far faster than realtime.
		args = append(args,
			"-re",
			"-thread_queue_size", "1024",
			"-fflags", "+genpts",
			"-i", "pipe:0")
	} else {
		args = append(args,
			"-thread_queue_size", "1024",
			"-fflags", "+genpts",
			"-i", p.InputURL)
	}

	// Video
	args = append(args, "-vf", p.filterChain())
	args = append(args, "-c:v", p.Encoder.Name)
	args = append(args, familyArgs(p.Encoder.Family)...)
	args = append(args,
		"-b:v", kbps(p.VideoBitrateKbps),
		"-maxrate", kbps(p.VideoBitrateKbps),
		"-bufsize", kbps(p.BufferKbps),
		"-r", strconv.Itoa(p.FPS),
		"-g", strconv.Itoa(2*p.FPS),
		"-keyint_min", strconv.Itoa(2*p.FPS),
	)

	// Audio
	args = append(args,
		"-c:a", "aac",
		"-b:a", kbps(p.AudioBitrateKbps),
		"-ar", "44100",
		"-ac", "2",
	)

	// Progress monitoring
	if p.ProgressSocket != "" {
		args = append(args, "-progress", "unix://"+p.ProgressSocket, "-nostats")
	}

	// Output
	args = append(args, "-f", "flv")
	if p.Target.LiveMode {
		args = append(args, "-flvflags", "no_duration_filesize")
	}
	return append(args, p.Target.Address())
}

// filterChain scales to the target height, burns in the overlay and
// pins the pixel format the encoder expects. VAAPI uploads frames to
// the device as the last step so the overlay is drawn in software.
func (p Plan) filterChain() string {
	parts := []string{fmt.Sprintf("scale=-2:%d:flags=bicubic", p.Height)}
	if p.Overlay != "" {
		parts = append(parts, drawtextFilter(p.Overlay))
	}
	if p.Encoder.Family == encoders.FamilyVAAPI {
		parts = append(parts, "format=nv12,hwupload")
	} else {
		parts = append(parts, "format="+pixelFormatFor(p.Encoder.Family))
	}
	return strings.Join(parts, ",")
}

func familyArgs(f encoders.Family) []string {
	switch f {
	case encoders.FamilyNVENC:
		return []string{
			"-preset", "p4",
			"-rc", "cbr_hq",
			"-tune", "hq",
			"-spatial_aq", "1",
			"-temporal_aq", "1",
			"-aq-strength", "8",
		}
	case encoders.FamilyQSV:
		return []string{"-look_ahead", "1"}
	case encoders.FamilyAMF:
		return []string{"-rc", "cbr", "-quality", "quality", "-usage", "transcoding"}
	case encoders.FamilyVAAPI:
		return []string{"-rc_mode", "CBR"}
	case encoders.FamilyVideoToolbox:
		return []string{"-realtime", "true"}
	default:
		return []string{"-preset", "veryfast"}
	}
}

func pixelFormatFor(f encoders.Family) string {
	if f == encoders.FamilyQSV {
		return "nv12"
	}
	return "yuv420p"
}

func kbps(n int) string {
	return strconv.Itoa(n) + "k"
}
