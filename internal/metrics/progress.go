package metrics

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProgressCollector receives encoder progress reports over a unix
// socket (-progress unix://path) and republishes each block to the
// Prometheus gauges and an optional observer.
type ProgressCollector struct {
	logger     *slog.Logger
	socketPath string
	sessionID  string

	// onProgress, when set, is called for every decoded block. The
	// supervisor uses it for stall detection.
	onProgress func(Progress)

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// CollectorOption configures a ProgressCollector.
type CollectorOption func(*ProgressCollector)

// WithObserver registers a callback invoked for every progress block.
func WithObserver(fn func(Progress)) CollectorOption {
	return func(c *ProgressCollector) {
		c.onProgress = fn
	}
}

// NewProgressCollector creates a collector for one session's encoder.
func NewProgressCollector(logger *slog.Logger, socketPath, sessionID string, opts ...CollectorOption) *ProgressCollector {
	c := &ProgressCollector{
		logger:     logger.With("session_id", sessionID),
		socketPath: socketPath,
		sessionID:  sessionID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SocketPath returns the unix socket the encoder should write to.
func (c *ProgressCollector) SocketPath() string {
	return c.socketPath
}

// Start creates the socket and begins accepting encoder connections.
func (c *ProgressCollector) Start(ctx context.Context) error {
	if err := os.Remove(c.socketPath); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("Failed to clean up old progress socket", "error", err)
	}

	listener, err := net.Listen("unix", c.socketPath)
	if err != nil {
		return err
	}
	c.listener = listener
	c.ctx, c.cancel = context.WithCancel(ctx)

	go c.acceptLoop()
	return nil
}

// Stop tears down the socket. Session metrics are left in place so they
// survive across items; the engine removes them when the session ends.
func (c *ProgressCollector) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.listener != nil {
			c.listener.Close()
		}
		os.Remove(c.socketPath)
	})
}

func (c *ProgressCollector) acceptLoop() {
	defer func() {
		c.listener.Close()
		os.Remove(c.socketPath)
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if ul, ok := c.listener.(*net.UnixListener); ok {
			ul.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := c.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-c.ctx.Done():
				return
			default:
				if strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				c.logger.Warn("Error accepting progress connection", "error", err)
				continue
			}
		}

		go c.handleConnection(conn)
	}
}

// handleConnection reads key=value lines; a progress= line terminates
// each block.
func (c *ProgressCollector) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	block := make(map[string]string)

	for scanner.Scan() {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		block[key] = strings.TrimSpace(value)

		if key == "progress" {
			c.publish(block)
			block = make(map[string]string)
		}
	}
}

func (c *ProgressCollector) publish(block map[string]string) {
	p := decodeProgress(block)
	RecordProgress(c.sessionID, p)
	if c.onProgress != nil {
		c.onProgress(p)
	}
}

func decodeProgress(block map[string]string) Progress {
	var p Progress
	if fps, err := strconv.ParseFloat(block["fps"], 64); err == nil {
		p.FPS = fps
	}
	if dropped, err := strconv.ParseFloat(block["drop_frames"], 64); err == nil {
		p.DroppedFrames = dropped
	}
	if dup, err := strconv.ParseFloat(block["dup_frames"], 64); err == nil {
		p.DuplicateFrames = dup
	}

	speedStr := strings.TrimSuffix(block["speed"], "x")
	if speed, err := strconv.ParseFloat(strings.TrimSpace(speedStr), 64); err == nil {
		p.Speed = speed
	}

	bitrateStr := strings.TrimSuffix(block["bitrate"], "kbits/s")
	if bitrate, err := strconv.ParseFloat(strings.TrimSpace(bitrateStr), 64); err == nil {
		p.BitrateKbps = bitrate
	}

	if us, err := strconv.ParseFloat(block["out_time_us"], 64); err == nil {
		p.OutTimeSeconds = us / 1e6
	} else if t, err := parseOutTime(block["out_time"]); err == nil {
		p.OutTimeSeconds = t
	}
	return p
}

// parseOutTime parses the HH:MM:SS.micros form.
func parseOutTime(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, errors.New("not a timestamp")
	}
	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}
	return hours*3600 + minutes*60 + seconds, nil
}
