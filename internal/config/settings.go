package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Quality presets accepted by StreamSettings.Quality.
const (
	Quality480p  = "480p"
	Quality720p  = "720p"
	Quality1080p = "1080p"
	Quality1440p = "1440p"
	Quality4K    = "4K"
)

// Buffer presets accepted by StreamSettings.BufferPreset.
const (
	BufferLow    = "low"
	BufferMedium = "medium"
	BufferHigh   = "high"
	BufferUltra  = "ultra"
)

var ValidQualities = []string{Quality480p, Quality720p, Quality1080p, Quality1440p, Quality4K}

var ValidBufferPresets = []string{BufferLow, BufferMedium, BufferHigh, BufferUltra}

// StreamSettings controls how queue items are encoded.
type StreamSettings struct {
	Quality        string `toml:"quality" json:"quality"`
	FPS            int    `toml:"fps" json:"fps"`
	BitrateKbps    int    `toml:"bitrate_kbps" json:"bitrate_kbps"`
	BufferPreset   string `toml:"buffer_preset" json:"buffer_preset"`
	BufferKbps     int    `toml:"buffer_kbps" json:"buffer_kbps"`
	Overlay        bool   `toml:"overlay" json:"overlay"`
	Shuffle        bool   `toml:"shuffle" json:"shuffle"`
	ItemGapSeconds int    `toml:"item_gap_seconds" json:"item_gap_seconds"`
}

// EgressSettings describe the ingest endpoint the chain pushes to.
type EgressSettings struct {
	URL       string `toml:"url" json:"url"`
	StreamKey string `toml:"stream_key,omitempty" json:"stream_key,omitempty"`
	LiveMode  bool   `toml:"live_mode" json:"live_mode"`
	Preflight bool   `toml:"preflight" json:"preflight"`
}

// EngineSettings tune orchestration behavior.
type EngineSettings struct {
	ResolveTimeoutSeconds int  `toml:"resolve_timeout_seconds" json:"resolve_timeout_seconds"`
	StallTimeoutSeconds   int  `toml:"stall_timeout_seconds" json:"stall_timeout_seconds"`
	SaveCredentials       bool `toml:"save_credentials" json:"save_credentials"`
	LogToFile             bool `toml:"log_to_file" json:"log_to_file"`
}

// ToolSettings optionally pin external tool binaries instead of PATH lookup.
type ToolSettings struct {
	Downloader string `toml:"downloader,omitempty" json:"downloader,omitempty"`
	Encoder    string `toml:"encoder,omitempty" json:"encoder,omitempty"`
}

// Settings is the persisted application configuration. A running session
// keeps the snapshot it started with; Replace swaps the stored value
// wholesale for future sessions.
type Settings struct {
	Version int            `toml:"version" json:"version"`
	Stream  StreamSettings `toml:"stream" json:"stream"`
	Egress  EgressSettings `toml:"egress" json:"egress"`
	Engine  EngineSettings `toml:"engine" json:"engine"`
	Tools   ToolSettings   `toml:"tools" json:"tools"`
}

// DefaultSettings returns the settings used when no file exists yet.
func DefaultSettings() Settings {
	return Settings{
		Version: 1,
		Stream: StreamSettings{
			Quality:        "720p",
			FPS:            30,
			BufferPreset:   "medium",
			Overlay:        true,
			ItemGapSeconds: 3,
		},
		Egress: EgressSettings{
			URL:       "rtmp://a.rtmp.youtube.com/live2",
			Preflight: true,
		},
		Engine: EngineSettings{
			ResolveTimeoutSeconds: 60,
			StallTimeoutSeconds:   45,
		},
	}
}

// ResolveTimeout returns the resolver deadline as a duration.
func (s Settings) ResolveTimeout() time.Duration {
	if s.Engine.ResolveTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.Engine.ResolveTimeoutSeconds) * time.Second
}

// StallTimeout returns the supervisor stall window as a duration.
func (s Settings) StallTimeout() time.Duration {
	if s.Engine.StallTimeoutSeconds <= 0 {
		return 45 * time.Second
	}
	return time.Duration(s.Engine.StallTimeoutSeconds) * time.Second
}

// ItemGap returns the pause between queue items as a duration.
func (s Settings) ItemGap() time.Duration {
	if s.Stream.ItemGapSeconds < 0 {
		return 0
	}
	return time.Duration(s.Stream.ItemGapSeconds) * time.Second
}

// Validate checks enum fields and value ranges.
func (s Settings) Validate() error {
	if !slices.Contains(ValidQualities, s.Stream.Quality) {
		return fmt.Errorf("invalid quality %q (valid: %v)", s.Stream.Quality, ValidQualities)
	}
	if s.Stream.FPS != 30 && s.Stream.FPS != 60 {
		return fmt.Errorf("invalid fps %d (valid: 30, 60)", s.Stream.FPS)
	}
	if !slices.Contains(ValidBufferPresets, s.Stream.BufferPreset) {
		return fmt.Errorf("invalid buffer preset %q (valid: %v)", s.Stream.BufferPreset, ValidBufferPresets)
	}
	if s.Stream.BitrateKbps < 0 {
		return fmt.Errorf("bitrate_kbps must be >= 0, got %d", s.Stream.BitrateKbps)
	}
	if s.Stream.BufferKbps < 0 {
		return fmt.Errorf("buffer_kbps must be >= 0, got %d", s.Stream.BufferKbps)
	}
	if s.Egress.URL == "" {
		return fmt.Errorf("egress url cannot be empty")
	}
	return nil
}

// Store owns the settings file. Reads return copies; writes happen only on
// explicit Replace/SetCredentials calls, never as a side effect.
type Store struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

// NewStore creates a settings store backed by the given TOML file.
func NewStore(path string) *Store {
	if path == "" {
		path = "stream247.toml"
	}
	return &Store{
		path:     path,
		settings: DefaultSettings(),
	}
}

// Path returns the backing file path.
func (st *Store) Path() string {
	return st.path
}

// Load reads settings from disk. A missing file keeps the defaults.
func (st *Store) Load() error {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	loaded := DefaultSettings()
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}
	if loaded.Version == 0 {
		loaded.Version = 1
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("settings file invalid: %w", err)
	}

	st.mu.Lock()
	st.settings = loaded
	st.mu.Unlock()
	return nil
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings
}

// Replace validates and persists new settings wholesale. The stream key is
// written to disk only when save_credentials is set.
func (st *Store) Replace(s Settings) error {
	if s.Version == 0 {
		s.Version = 1
	}
	if err := s.Validate(); err != nil {
		return err
	}

	st.mu.Lock()
	st.settings = s
	st.mu.Unlock()
	return st.save()
}

// Reload swaps the in-memory settings without writing the file back.
// Used by the file watcher, where the disk copy is already current.
func (st *Store) Reload(s Settings) {
	st.mu.Lock()
	st.settings = s
	st.mu.Unlock()
}

// SetCredentials updates the egress destination. The key is persisted only
// when save is true; otherwise it stays in memory for the current run.
func (st *Store) SetCredentials(url, streamKey string, save bool) error {
	st.mu.Lock()
	if url != "" {
		st.settings.Egress.URL = url
	}
	st.settings.Egress.StreamKey = streamKey
	st.settings.Engine.SaveCredentials = save
	st.mu.Unlock()

	if !save {
		return nil
	}
	return st.save()
}

// save writes the settings file, masking the stream key unless the user
// opted into credential persistence.
func (st *Store) save() error {
	st.mu.RLock()
	out := st.settings
	st.mu.RUnlock()

	if !out.Engine.SaveCredentials {
		out.Egress.StreamKey = ""
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := toml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(st.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// LoadSettings reads and validates a settings file without a Store.
// A missing file yields the defaults, same as Store.Load, so commands
// work on a fresh install before anything has been saved.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	s := DefaultSettings()
	if err := toml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
