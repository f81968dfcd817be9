package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheDoctorTTV/247-steam/internal/config"
	"github.com/TheDoctorTTV/247-steam/internal/encoders"
	"github.com/TheDoctorTTV/247-steam/internal/engine"
	"github.com/TheDoctorTTV/247-steam/internal/events"
	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
	"github.com/TheDoctorTTV/247-steam/internal/source"
)

// mockEngine is a test implementation of EngineService.
type mockEngine struct {
	snap       engine.Snapshot
	items      []source.Item
	cursor     int
	tools      bool
	startErr   error
	startedCfg *config.Settings
	startedURL string
	egressErr  error
}

func (m *mockEngine) Start(url string, cfg config.Settings, _ pipeline.EgressTarget) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}
	m.startedURL = url
	m.startedCfg = &cfg
	return "sess-1", nil
}

func (m *mockEngine) Stop() error { return nil }
func (m *mockEngine) Skip() error { return nil }

func (m *mockEngine) TestEgress(_ context.Context, _ pipeline.EgressTarget) error {
	return m.egressErr
}

func (m *mockEngine) Snapshot() engine.Snapshot { return m.snap }

func (m *mockEngine) QueueItems() ([]source.Item, int) { return m.items, m.cursor }

func (m *mockEngine) ToolsAvailable() bool { return m.tools }

// mockEncoders is a test implementation of EncoderService.
type mockEncoders struct {
	ranked []encoders.Candidate
}

func (m *mockEncoders) Ranked() []encoders.Candidate    { return m.ranked }
func (m *mockEncoders) Demoted() map[string]string      { return nil }
func (m *mockEncoders) DetectedAt() time.Time           { return time.Time{} }
func (m *mockEncoders) Redetect(_ context.Context) ([]encoders.Candidate, error) {
	return m.ranked, nil
}

func newTestServer(t *testing.T, eng *mockEngine) (*Server, *httptest.Server, *events.Bus) {
	t.Helper()

	store := config.NewStore(filepath.Join(t.TempDir(), "stream247.toml"))
	bus := events.New()
	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "test",
		Engine:       eng,
		Encoders:     &mockEncoders{ranked: []encoders.Candidate{{Family: "software", Name: "libx264"}}},
		Settings:     store,
		EventBus:     bus,
	})

	ts := httptest.NewServer(server.GetMux())
	t.Cleanup(ts.Close)
	return server, ts, bus
}

func authedRequest(t *testing.T, method, url string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.SetBasicAuth("test", "test")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestHealthNeedsNoAuth(t *testing.T) {
	eng := &mockEngine{snap: engine.Snapshot{State: engine.StateIdle}, tools: true}
	_, ts, _ := newTestServer(t, eng)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var data HealthData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if data.Status != "ok" || !data.ToolsAvailable {
		t.Errorf("unexpected health data: %+v", data)
	}
}

func TestSessionRequiresAuth(t *testing.T) {
	eng := &mockEngine{tools: true}
	_, ts, _ := newTestServer(t, eng)

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
		t.Errorf("missing WWW-Authenticate challenge, got %q", got)
	}
}

func TestStartSessionAppliesOverrides(t *testing.T) {
	eng := &mockEngine{tools: true}
	_, ts, _ := newTestServer(t, eng)

	body := []byte(`{"source_url":"https://youtube.com/playlist?list=PL1","quality":"1080p","fps":60,"shuffle":true}`)
	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodPost, ts.URL+"/api/session/start", body))
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if eng.startedURL != "https://youtube.com/playlist?list=PL1" {
		t.Errorf("engine got url %q", eng.startedURL)
	}
	if eng.startedCfg == nil {
		t.Fatal("engine never received settings")
	}
	if eng.startedCfg.Stream.Quality != "1080p" || eng.startedCfg.Stream.FPS != 60 {
		t.Errorf("quality override not applied: %+v", eng.startedCfg.Stream)
	}
	if !eng.startedCfg.Stream.Shuffle {
		t.Error("shuffle override not applied")
	}
	// Untouched fields keep stored defaults.
	if eng.startedCfg.Stream.BufferPreset != "medium" {
		t.Errorf("buffer preset changed unexpectedly: %q", eng.startedCfg.Stream.BufferPreset)
	}
}

func TestStartSessionConflict(t *testing.T) {
	eng := &mockEngine{tools: true, startErr: fmt.Errorf("a session is already active (state streaming)")}
	_, ts, _ := newTestServer(t, eng)

	body := []byte(`{"source_url":"https://youtube.com/watch?v=abc"}`)
	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodPost, ts.URL+"/api/session/start", body))
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for active session, got %d", resp.StatusCode)
	}
}

func TestQueueView(t *testing.T) {
	eng := &mockEngine{
		tools: true,
		items: []source.Item{
			{URL: "https://youtube.com/watch?v=a", Title: "First"},
			{URL: "https://youtube.com/watch?v=b", Title: "Second", Live: true},
		},
		cursor: 1,
	}
	_, ts, _ := newTestServer(t, eng)

	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodGet, ts.URL+"/api/queue", nil))
	if err != nil {
		t.Fatalf("queue request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Items  []QueueEntry `json:"items"`
		Cursor int          `json:"cursor"`
		Length int          `json:"length"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode queue: %v", err)
	}
	if body.Length != 2 || body.Cursor != 1 {
		t.Errorf("unexpected queue shape: %+v", body)
	}
	if body.Items[1].Title != "Second" || !body.Items[1].Live {
		t.Errorf("unexpected item: %+v", body.Items[1])
	}
}

func TestConfigMasksStreamKey(t *testing.T) {
	eng := &mockEngine{tools: true}
	server, ts, _ := newTestServer(t, eng)

	if err := server.settings.SetCredentials("", "sekrit-key", false); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}

	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodGet, ts.URL+"/api/config", nil))
	if err != nil {
		t.Fatalf("config request failed: %v", err)
	}
	defer resp.Body.Close()

	raw := new(bytes.Buffer)
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if strings.Contains(raw.String(), "sekrit-key") {
		t.Fatal("stream key leaked through GET /api/config")
	}

	var data SettingsData
	if err := json.Unmarshal(raw.Bytes(), &data); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	if !data.StreamKeySet {
		t.Error("stream_key_set should be true")
	}
}

func TestPutConfigKeepsStoredKey(t *testing.T) {
	eng := &mockEngine{tools: true}
	server, ts, _ := newTestServer(t, eng)

	if err := server.settings.SetCredentials("", "sekrit-key", false); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}

	next := server.settings.Get()
	next.Stream.Quality = "1080p"
	next.Egress.StreamKey = ""
	payload, _ := json.Marshal(next)

	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodPut, ts.URL+"/api/config", payload))
	if err != nil {
		t.Fatalf("put config failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := server.settings.Get()
	if got.Stream.Quality != "1080p" {
		t.Errorf("quality not updated: %q", got.Stream.Quality)
	}
	if got.Egress.StreamKey != "sekrit-key" {
		t.Error("empty incoming key should keep the stored one")
	}
}

func TestEgressTestReportsClassification(t *testing.T) {
	eng := &mockEngine{tools: true}
	server, ts, _ := newTestServer(t, eng)

	if err := server.settings.SetCredentials("rtmp://ingest.example/live", "key", false); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}

	resp, err := http.DefaultClient.Do(authedRequest(t, http.MethodPost, ts.URL+"/api/egress/test", []byte(`{}`)))
	if err != nil {
		t.Fatalf("egress test failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !body.OK {
		t.Error("expected ok result from mock engine")
	}
}

func TestSSEConnectionAndEvents(t *testing.T) {
	eng := &mockEngine{snap: engine.Snapshot{State: engine.StateIdle}, tools: true}
	_, ts, bus := newTestServer(t, eng)

	credentials := base64.StdEncoding.EncodeToString([]byte("test:test"))
	resp, err := http.Get(fmt.Sprintf("%s/api/events?auth=%s", ts.URL, credentials))
	if err != nil {
		t.Fatalf("failed to connect to SSE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("expected SSE content type, got %s", resp.Header.Get("Content-Type"))
	}

	// Publish after the subscription is live; retry while it settles.
	go func() {
		for range 20 {
			bus.Publish(events.StateChangedEvent{
				SessionID: "sess-1",
				From:      "resolving",
				To:        "streaming",
				Timestamp: time.Now().Format(time.RFC3339),
			})
			time.Sleep(50 * time.Millisecond)
		}
	}()

	deadline := time.After(5 * time.Second)
	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for state-changed event")
		case line := <-lines:
			if strings.Contains(line, `"to":"streaming"`) {
				return
			}
		}
	}
}
