package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/TheDoctorTTV/247-steam/internal/events"
)

// registerEventRoutes registers the native Huma SSE endpoint.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of session, queue, encoder and progress events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"state-changed":    events.StateChangedEvent{},
		"item-started":     events.ItemStartedEvent{},
		"queue-advanced":   events.QueueAdvancedEvent{},
		"encoder-demoted":  events.EncoderDemotedEvent{},
		"progress":         events.ProgressEvent{},
		"preflight-result": events.PreflightResultEvent{},
		"config-reloaded":  events.ConfigReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StateChangedEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.ItemStartedEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.QueueAdvancedEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.EncoderDemotedEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.ProgressEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.PreflightResultEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.ConfigReloadedEvent](s.bus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Initial snapshot so a reconnecting client knows the current
		// state without waiting for the next transition.
		snap := s.engine.Snapshot()
		if err := send.Data(events.StateChangedEvent{
			SessionID: snap.SessionID,
			From:      string(snap.State),
			To:        string(snap.State),
			Message:   "connected",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
