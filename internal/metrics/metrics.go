// Package metrics exposes Prometheus metrics for the streaming session
// and collects encoder progress reports over a unix socket.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	encoderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stream247",
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Current encoder output FPS",
	}, []string{"session_id"})

	encoderBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stream247",
		Subsystem: "encoder",
		Name:      "bitrate_kbps",
		Help:      "Current encoder output bitrate in kbps",
	}, []string{"session_id"})

	encoderDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stream247",
		Subsystem: "encoder",
		Name:      "dropped_frames_total",
		Help:      "Total dropped frames",
	}, []string{"session_id"})

	encoderDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stream247",
		Subsystem: "encoder",
		Name:      "duplicate_frames_total",
		Help:      "Total duplicate frames",
	}, []string{"session_id"})

	encoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stream247",
		Subsystem: "encoder",
		Name:      "processing_speed",
		Help:      "Encoder processing speed multiplier (1.0 = realtime)",
	}, []string{"session_id"})

	encoderOutTime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stream247",
		Subsystem: "encoder",
		Name:      "out_time_seconds",
		Help:      "Encoded output duration of the current item in seconds",
	}, []string{"session_id"})

	itemsStreamed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stream247",
		Subsystem: "session",
		Name:      "items_streamed_total",
		Help:      "Queue items streamed to completion",
	}, []string{"session_id"})

	encoderDemotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stream247",
		Subsystem: "session",
		Name:      "encoder_demotions_total",
		Help:      "Hardware encoder failures that forced a fallback",
	}, []string{"session_id"})

	chainRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stream247",
		Subsystem: "session",
		Name:      "chain_restarts_total",
		Help:      "Subprocess chain restarts within a session",
	}, []string{"session_id"})

	sessionStarted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stream247",
		Subsystem: "session",
		Name:      "started_timestamp_seconds",
		Help:      "Unix time the session started",
	}, []string{"session_id"})

	// Cache of the latest progress block per session for the health
	// and SSE surfaces.
	progressCache   = make(map[string]*Progress)
	progressCacheMu sync.RWMutex
)

// Progress is one decoded progress block from the encoder.
type Progress struct {
	FPS             float64 `json:"fps"`
	BitrateKbps     float64 `json:"bitrate_kbps"`
	DroppedFrames   float64 `json:"dropped_frames"`
	DuplicateFrames float64 `json:"duplicate_frames"`
	Speed           float64 `json:"speed"`
	OutTimeSeconds  float64 `json:"out_time_seconds"`
}

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordProgress publishes a progress block for a session.
func RecordProgress(sessionID string, p Progress) {
	encoderFPS.WithLabelValues(sessionID).Set(p.FPS)
	encoderBitrate.WithLabelValues(sessionID).Set(p.BitrateKbps)
	encoderDroppedFrames.WithLabelValues(sessionID).Set(p.DroppedFrames)
	encoderDuplicateFrames.WithLabelValues(sessionID).Set(p.DuplicateFrames)
	encoderSpeed.WithLabelValues(sessionID).Set(p.Speed)
	encoderOutTime.WithLabelValues(sessionID).Set(p.OutTimeSeconds)

	progressCacheMu.Lock()
	cached := p
	progressCache[sessionID] = &cached
	progressCacheMu.Unlock()
}

// GetProgress returns the latest progress block for a session, or nil.
func GetProgress(sessionID string) *Progress {
	progressCacheMu.RLock()
	defer progressCacheMu.RUnlock()
	if p, ok := progressCache[sessionID]; ok {
		dup := *p
		return &dup
	}
	return nil
}

// RecordSessionStart marks a session's start time.
func RecordSessionStart(sessionID string, unixSeconds float64) {
	sessionStarted.WithLabelValues(sessionID).Set(unixSeconds)
}

// CountItemStreamed increments the completed-items counter.
func CountItemStreamed(sessionID string) {
	itemsStreamed.WithLabelValues(sessionID).Inc()
}

// CountDemotion increments the encoder-demotion counter.
func CountDemotion(sessionID string) {
	encoderDemotions.WithLabelValues(sessionID).Inc()
}

// CountRestart increments the chain-restart counter.
func CountRestart(sessionID string) {
	chainRestarts.WithLabelValues(sessionID).Inc()
}

// DeleteSession removes all metrics for a finished session.
func DeleteSession(sessionID string) {
	encoderFPS.DeleteLabelValues(sessionID)
	encoderBitrate.DeleteLabelValues(sessionID)
	encoderDroppedFrames.DeleteLabelValues(sessionID)
	encoderDuplicateFrames.DeleteLabelValues(sessionID)
	encoderSpeed.DeleteLabelValues(sessionID)
	encoderOutTime.DeleteLabelValues(sessionID)
	sessionStarted.DeleteLabelValues(sessionID)

	progressCacheMu.Lock()
	delete(progressCache, sessionID)
	progressCacheMu.Unlock()
}
