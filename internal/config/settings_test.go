package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSettingsValid(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings should validate: %v", err)
	}

	if s.Stream.Quality != "720p" {
		t.Errorf("default quality = %q, want 720p", s.Stream.Quality)
	}
	if s.Stream.FPS != 30 {
		t.Errorf("default fps = %d, want 30", s.Stream.FPS)
	}
	if s.Stream.BufferPreset != "medium" {
		t.Errorf("default buffer preset = %q, want medium", s.Stream.BufferPreset)
	}
	if !s.Stream.Overlay {
		t.Error("overlay should default to on")
	}
	if !s.Egress.Preflight {
		t.Error("preflight should default to on")
	}
	if s.Egress.URL == "" {
		t.Error("default egress URL should not be empty")
	}
}

func TestSettingsDurationHelpers(t *testing.T) {
	s := DefaultSettings()

	if got := s.ResolveTimeout(); got != 60*time.Second {
		t.Errorf("ResolveTimeout = %v, want 60s", got)
	}
	if got := s.StallTimeout(); got != 45*time.Second {
		t.Errorf("StallTimeout = %v, want 45s", got)
	}
	if got := s.ItemGap(); got != 3*time.Second {
		t.Errorf("ItemGap = %v, want 3s", got)
	}

	// Zero or negative values fall back to safe defaults
	s.Engine.ResolveTimeoutSeconds = 0
	s.Engine.StallTimeoutSeconds = -1
	s.Stream.ItemGapSeconds = -5
	if got := s.ResolveTimeout(); got != 60*time.Second {
		t.Errorf("ResolveTimeout fallback = %v, want 60s", got)
	}
	if got := s.StallTimeout(); got != 45*time.Second {
		t.Errorf("StallTimeout fallback = %v, want 45s", got)
	}
	if got := s.ItemGap(); got != 0 {
		t.Errorf("negative ItemGap = %v, want 0", got)
	}
}

func TestSettingsValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"bad quality", func(s *Settings) { s.Stream.Quality = "540p" }},
		{"bad fps", func(s *Settings) { s.Stream.FPS = 24 }},
		{"bad buffer preset", func(s *Settings) { s.Stream.BufferPreset = "max" }},
		{"negative bitrate", func(s *Settings) { s.Stream.BitrateKbps = -100 }},
		{"negative buffer", func(s *Settings) { s.Stream.BufferKbps = -1 }},
		{"empty egress url", func(s *Settings) { s.Egress.URL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Errorf("Validate should reject %s", tt.name)
			}
		})
	}
}

func TestStoreLoadMissingFileKeepsDefaults(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.toml"))
	if err := store.Load(); err != nil {
		t.Fatalf("Load with missing file should not fail: %v", err)
	}

	got := store.Get()
	want := DefaultSettings()
	if got.Stream.Quality != want.Stream.Quality || got.Egress.URL != want.Egress.URL {
		t.Errorf("missing file should keep defaults, got %+v", got)
	}
}

func TestStoreReplaceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream247.toml")
	store := NewStore(path)

	s := DefaultSettings()
	s.Stream.Quality = "1080p"
	s.Stream.FPS = 60
	s.Stream.Shuffle = true
	s.Engine.StallTimeoutSeconds = 90

	if err := store.Replace(s); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	// Read back through a fresh store
	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got := reloaded.Get()
	if got.Stream.Quality != "1080p" {
		t.Errorf("quality = %q, want 1080p", got.Stream.Quality)
	}
	if got.Stream.FPS != 60 {
		t.Errorf("fps = %d, want 60", got.Stream.FPS)
	}
	if !got.Stream.Shuffle {
		t.Error("shuffle should persist")
	}
	if got.Engine.StallTimeoutSeconds != 90 {
		t.Errorf("stall timeout = %d, want 90", got.Engine.StallTimeoutSeconds)
	}
}

func TestStoreReplaceRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream247.toml")
	store := NewStore(path)

	s := DefaultSettings()
	s.Stream.FPS = 25
	if err := store.Replace(s); err == nil {
		t.Fatal("Replace should reject invalid fps")
	}

	// Nothing should have been written
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid Replace should not create the settings file")
	}
}

func TestStoreCredentialsNotPersistedByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream247.toml")
	store := NewStore(path)

	if err := store.SetCredentials("rtmp://live.twitch.tv/app", "live_secret123", false); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	// Key is available in memory for the current run
	got := store.Get()
	if got.Egress.StreamKey != "live_secret123" {
		t.Errorf("in-memory stream key = %q, want live_secret123", got.Egress.StreamKey)
	}
	if got.Egress.URL != "rtmp://live.twitch.tv/app" {
		t.Errorf("in-memory url = %q", got.Egress.URL)
	}

	// But nothing was written to disk
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("SetCredentials(save=false) should not write the settings file")
	}
}

func TestStoreCredentialsPersistedWhenSaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream247.toml")
	store := NewStore(path)

	if err := store.SetCredentials("rtmp://live.twitch.tv/app", "live_secret123", true); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("settings file should exist: %v", err)
	}
	if !strings.Contains(string(data), "live_secret123") {
		t.Error("stream key should be persisted when save=true")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("settings file mode = %o, want 600", perm)
	}
}

func TestStoreSaveMasksKeyWithoutOptIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream247.toml")
	store := NewStore(path)

	// Key set in memory without persistence opt-in
	if err := store.SetCredentials("", "live_secret123", false); err != nil {
		t.Fatal(err)
	}

	// A later settings write must not leak the key
	s := store.Get()
	s.Stream.Quality = "480p"
	if err := store.Replace(s); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "live_secret123") {
		t.Error("stream key leaked to disk without save_credentials")
	}

	// The in-memory copy still has it
	if store.Get().Egress.StreamKey != "live_secret123" {
		t.Error("in-memory key should survive a masked save")
	}
}

func TestLoadSettingsValidatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream247.toml")
	content := `
version = 1

[stream]
quality = "8K"
fps = 30
buffer_preset = "medium"

[egress]
url = "rtmp://a.rtmp.youtube.com/live2"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadSettings(path); err == nil {
		t.Fatal("LoadSettings should reject unknown quality")
	}
}

func TestLoadSettingsMissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream247.toml")

	// A fresh install has no settings file yet; subcommands still run
	// with the defaults rather than failing.
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings on a missing file failed: %v", err)
	}
	if s.Stream.Quality != DefaultSettings().Stream.Quality {
		t.Errorf("quality = %q, want default %q", s.Stream.Quality, DefaultSettings().Stream.Quality)
	}
}

func TestLoadSettingsFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream247.toml")
	// Partial file: only overrides quality
	content := `
[stream]
quality = "1080p"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Stream.Quality != "1080p" {
		t.Errorf("quality = %q, want 1080p", s.Stream.Quality)
	}
	if s.Stream.FPS != 30 {
		t.Errorf("unset fps should default to 30, got %d", s.Stream.FPS)
	}
	if s.Egress.URL == "" {
		t.Error("unset egress URL should keep default")
	}
}
