// Package pipeline turns a queue item, an encoder candidate and the
// stream settings into the argument vectors for the subprocess chain.
// Plan construction is pure; nothing here touches the system.
package pipeline

import (
	"strings"

	"github.com/TheDoctorTTV/247-steam/internal/encoders"
	"github.com/TheDoctorTTV/247-steam/internal/source"
)

// EgressTarget is the ingest endpoint the encoder pushes to.
type EgressTarget struct {
	// URL is the ingest base, e.g. rtmp://a.rtmp.youtube.com/live2.
	URL string `json:"url"`

	StreamKey string `json:"stream_key,omitempty"`

	// LiveMode tells the muxer not to write duration metadata, which
	// ingest servers reject on endless streams.
	LiveMode bool `json:"live_mode"`
}

// Address joins the ingest base and the stream key into the publish URL.
func (t EgressTarget) Address() string {
	base := strings.TrimRight(t.URL, "/")
	if t.StreamKey == "" {
		return base
	}
	return base + "/" + t.StreamKey
}

// Plan describes one streaming attempt for one queue item. A failed
// attempt never reuses a plan; the engine builds a fresh one with the
// next encoder candidate.
type Plan struct {
	Item    source.Item        `json:"item"`
	Encoder encoders.Candidate `json:"encoder"`

	Width  int `json:"width"`
	Height int `json:"height"`
	FPS    int `json:"fps"`

	VideoBitrateKbps int `json:"video_bitrate_kbps"`
	BufferKbps       int `json:"buffer_kbps"`
	AudioBitrateKbps int `json:"audio_bitrate_kbps"`

	// Overlay is the burned-in caption. Empty disables the filter.
	Overlay string `json:"overlay,omitempty"`

	// PipeInput selects the two-stage chain: downloader writing the
	// media to stdout, encoder reading pipe:0. Live and direct items
	// run a single encoder stage reading InputURL.
	PipeInput bool `json:"pipe_input"`

	// InputURL is the encoder's input when PipeInput is false. It
	// defaults to the item URL; for live channels the engine replaces
	// it with a freshly resolved manifest before each attempt.
	InputURL string `json:"input_url,omitempty"`

	// ProgressSocket, when set by the supervisor, adds progress
	// reporting on a unix socket.
	ProgressSocket string `json:"-"`

	Target EgressTarget `json:"target"`
}
