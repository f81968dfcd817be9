package metrics

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func skipOnMacOS(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("Unix socket path too long on macOS")
	}
}

func startCollector(t *testing.T, sessionID string, opts ...CollectorOption) (*ProgressCollector, net.Conn) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "progress.sock")

	c := NewProgressCollector(testLogger(), socketPath, sessionID, opts...)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("failed to start collector: %v", err)
	}
	t.Cleanup(c.Stop)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to connect to socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return c, conn
}

func TestProgressCollectorParsesBlocks(t *testing.T) {
	skipOnMacOS(t)
	sessionID := "test-session-parse"
	DeleteSession(sessionID)

	blocks := make(chan Progress, 4)
	_, conn := startCollector(t, sessionID, WithObserver(func(p Progress) {
		blocks <- p
	}))

	data := `fps=29.97
bitrate=2301.4kbits/s
drop_frames=3
dup_frames=1
speed=1.25x
out_time_us=5500000
progress=continue
`
	if _, err := conn.Write([]byte(data)); err != nil {
		t.Fatalf("failed to write progress data: %v", err)
	}

	var p Progress
	select {
	case p = <-blocks:
	case <-time.After(2 * time.Second):
		t.Fatal("observer never saw the block")
	}

	if p.FPS != 29.97 {
		t.Errorf("FPS = %v, want 29.97", p.FPS)
	}
	if p.BitrateKbps != 2301.4 {
		t.Errorf("BitrateKbps = %v, want 2301.4", p.BitrateKbps)
	}
	if p.DroppedFrames != 3 || p.DuplicateFrames != 1 {
		t.Errorf("frames = %v/%v, want 3/1", p.DroppedFrames, p.DuplicateFrames)
	}
	if p.Speed != 1.25 {
		t.Errorf("Speed = %v, want 1.25", p.Speed)
	}
	if p.OutTimeSeconds != 5.5 {
		t.Errorf("OutTimeSeconds = %v, want 5.5", p.OutTimeSeconds)
	}

	cached := GetProgress(sessionID)
	if cached == nil {
		t.Fatal("expected cached progress")
	}
	if *cached != p {
		t.Errorf("cache %+v does not match observed block %+v", *cached, p)
	}
}

func TestProgressCollectorMultipleBlocks(t *testing.T) {
	skipOnMacOS(t)
	sessionID := "test-session-multi"
	DeleteSession(sessionID)

	blocks := make(chan Progress, 4)
	_, conn := startCollector(t, sessionID, WithObserver(func(p Progress) {
		blocks <- p
	}))

	if _, err := conn.Write([]byte("fps=30\nprogress=continue\n")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := conn.Write([]byte("fps=60\nprogress=continue\n")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var last Progress
	for i := 0; i < 2; i++ {
		select {
		case last = <-blocks:
		case <-time.After(2 * time.Second):
			t.Fatalf("saw %d blocks, want 2", i)
		}
	}
	if last.FPS != 60 {
		t.Errorf("last block FPS = %v, want 60", last.FPS)
	}
}

func TestProgressCollectorStopCleansUp(t *testing.T) {
	skipOnMacOS(t)
	sessionID := "test-session-stop"
	DeleteSession(sessionID)

	socketPath := filepath.Join(t.TempDir(), "progress.sock")
	c := NewProgressCollector(testLogger(), socketPath, sessionID)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("failed to start collector: %v", err)
	}

	RecordProgress(sessionID, Progress{FPS: 30})
	RecordSessionStart(sessionID, 1700000000)
	c.Stop()

	// Stopping the collector ends one item, not the session. Metrics
	// recorded for the session must survive until DeleteSession.
	if got := GetProgress(sessionID); got == nil || got.FPS != 30 {
		t.Errorf("expected progress to survive collector stop, got %+v", got)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("expected socket file removed after stop")
	}

	// Stop is idempotent.
	c.Stop()
	DeleteSession(sessionID)
}

func TestProgressCollectorReplacesStaleSocket(t *testing.T) {
	skipOnMacOS(t)
	socketPath := filepath.Join(t.TempDir(), "progress.sock")

	f, err := os.Create(socketPath)
	if err != nil {
		t.Fatalf("failed to create stale socket: %v", err)
	}
	f.Close()

	c := NewProgressCollector(testLogger(), socketPath, "test-session-stale")
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start did not replace stale socket: %v", err)
	}
	defer c.Stop()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to connect after cleanup: %v", err)
	}
	conn.Close()
}

func TestDecodeProgress(t *testing.T) {
	tests := []struct {
		name  string
		block map[string]string
		want  Progress
	}{
		{
			"not available markers",
			map[string]string{"fps": "0.0", "bitrate": "N/A", "speed": "N/A", "progress": "continue"},
			Progress{},
		},
		{
			"out_time fallback",
			map[string]string{"out_time": "00:01:05.500000", "progress": "continue"},
			Progress{OutTimeSeconds: 65.5},
		},
		{
			"whitespace in speed",
			map[string]string{"speed": " 1.01x", "progress": "continue"},
			Progress{Speed: 1.01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeProgress(tt.block); got != tt.want {
				t.Errorf("decodeProgress = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRecordAndDeleteSessionCounters(t *testing.T) {
	sessionID := "test-session-counters"
	DeleteSession(sessionID)

	CountItemStreamed(sessionID)
	CountDemotion(sessionID)
	CountRestart(sessionID)
	RecordSessionStart(sessionID, 1700000000)

	RecordProgress(sessionID, Progress{FPS: 24})
	if got := GetProgress(sessionID); got == nil || got.FPS != 24 {
		t.Errorf("GetProgress = %+v, want FPS 24", got)
	}

	DeleteSession(sessionID)
	if GetProgress(sessionID) != nil {
		t.Error("expected nil progress after DeleteSession")
	}
}
