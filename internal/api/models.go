package api

import (
	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/encoders"
	"github.com/TheDoctorTTV/247-steam/internal/engine"
	"github.com/TheDoctorTTV/247-steam/internal/version"
)

// HealthData reports liveness, tool availability and resource usage.
type HealthData struct {
	Status         string  `json:"status" example:"ok" doc:"API health status"`
	State          string  `json:"state" example:"streaming" doc:"Engine state"`
	ToolsAvailable bool    `json:"tools_available" doc:"Both external tools resolved on PATH"`
	ToolsError     string  `json:"tools_error,omitempty" doc:"Tool resolution failure detail"`
	Downloader     string  `json:"downloader,omitempty" example:"yt-dlp 2025.01.15" doc:"Resolved downloader version"`
	Encoder        string  `json:"encoder,omitempty" example:"ffmpeg version 7.1" doc:"Resolved encoder version"`
	HostLoad1      float64 `json:"host_load1" doc:"Host 1-minute load average"`
	HostMemUsedPct float64 `json:"host_mem_used_pct" doc:"Host memory usage percent"`
	ChainCPUPct    float64 `json:"chain_cpu_pct" doc:"CPU usage of the live subprocess chain"`
	ChainRSSBytes  uint64  `json:"chain_rss_bytes" doc:"Resident memory of the live subprocess chain"`
}

// HealthResponse wraps HealthData.
type HealthResponse struct {
	Body HealthData
}

// VersionResponse wraps build information.
type VersionResponse struct {
	Body version.Info
}

// SessionResponse wraps the engine state snapshot.
type SessionResponse struct {
	Body engine.Snapshot
}

// StartRequest begins a new streaming session. Absent override fields
// fall back to the stored settings.
type StartRequest struct {
	Body struct {
		SourceURL   string `json:"source_url" minLength:"1" doc:"Playlist, video, channel or direct stream URL"`
		Quality     string `json:"quality,omitempty" enum:"480p,720p,1080p,1440p,4K" doc:"Quality preset override"`
		FPS         int    `json:"fps,omitempty" enum:"30,60" doc:"Frame rate override"`
		BitrateKbps int    `json:"bitrate_kbps,omitempty" minimum:"0" doc:"Explicit video bitrate; 0 derives from quality"`
		Shuffle     *bool  `json:"shuffle,omitempty" doc:"Shuffle override"`
		Overlay     *bool  `json:"overlay,omitempty" doc:"Overlay override"`
		Preflight   *bool  `json:"preflight,omitempty" doc:"Egress preflight override"`
	}
}

// StartResponse reports the accepted session.
type StartResponse struct {
	Status int
	Body   struct {
		SessionID string `json:"session_id" doc:"New session identifier"`
		Message   string `json:"message" example:"session started" doc:"Human-readable status"`
	}
}

// CommandResponse is the generic acknowledgement for stop/skip commands.
type CommandResponse struct {
	Body struct {
		Status  string `json:"status" example:"ok" doc:"Command status"`
		Message string `json:"message,omitempty" doc:"Detail"`
	}
}

// QueueEntry is one queue item in API form.
type QueueEntry struct {
	Index       int     `json:"index" doc:"Zero-based play-order position"`
	Title       string  `json:"title" doc:"Display title"`
	URL         string  `json:"url" doc:"Item page or media URL"`
	DurationSec float64 `json:"duration_sec,omitempty" doc:"Duration in seconds, 0 when unknown or live"`
	Live        bool    `json:"live" doc:"Item is a live feed"`
}

// QueueResponse wraps the active queue.
type QueueResponse struct {
	Body struct {
		Items  []QueueEntry `json:"items" doc:"Items in play order"`
		Cursor int          `json:"cursor" doc:"Index of the current item"`
		Length int          `json:"length" doc:"Queue length"`
	}
}

// EncodersResponse wraps the ranked encoder candidates.
type EncodersResponse struct {
	Body struct {
		Encoders   []encoders.Candidate `json:"encoders" doc:"Usable encoders, best first, software last"`
		Demoted    map[string]string    `json:"demoted,omitempty" doc:"Encoders demoted this session with failure reasons"`
		DetectedAt string               `json:"detected_at,omitempty" doc:"When the cached ranking was produced"`
	}
}

// SettingsData is the persisted configuration with the stream key
// replaced by a presence flag. The key itself never leaves the server.
type SettingsData struct {
	config.Settings
	StreamKeySet bool `json:"stream_key_set" doc:"A stream key is configured"`
}

// SettingsResponse wraps SettingsData.
type SettingsResponse struct {
	Body SettingsData
}

// SettingsRequest replaces the stored settings wholesale.
type SettingsRequest struct {
	Body config.Settings
}

// CredentialsRequest updates the egress destination. The key is
// persisted to disk only when save is true.
type CredentialsRequest struct {
	Body struct {
		URL       string `json:"url,omitempty" doc:"Ingest base URL; empty keeps the current one"`
		StreamKey string `json:"stream_key" doc:"Stream key"`
		Save      bool   `json:"save" doc:"Persist the key to the settings file"`
	}
}

// EgressTestRequest runs a synthetic push against a target.
type EgressTestRequest struct {
	Body struct {
		URL       string `json:"url,omitempty" doc:"Ingest base URL; empty uses the stored one"`
		StreamKey string `json:"stream_key,omitempty" doc:"Stream key; empty uses the stored one"`
		LiveMode  bool   `json:"live_mode" doc:"Endless-stream muxer flags"`
	}
}

// EgressTestResponse reports the classified outcome of an egress test.
type EgressTestResponse struct {
	Body struct {
		OK     bool   `json:"ok" doc:"The endpoint accepted the publish"`
		Reason string `json:"reason,omitempty" example:"auth_rejected" doc:"Failure classification"`
		Detail string `json:"detail,omitempty" doc:"Human-actionable diagnostic"`
	}
}
