package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
)

// registerSessionRoutes wires the session lifecycle endpoints.
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session state",
		Description: "Get the current session snapshot",
		Tags:        []string{"session"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*SessionResponse, error) {
		return &SessionResponse{Body: s.engine.Snapshot()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/api/session/start",
		Summary:       "Start session",
		Description:   "Resolve a source URL and begin streaming it",
		Tags:          []string{"session"},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *StartRequest) (*StartResponse, error) {
		cfg := s.settings.Get()
		if input.Body.Quality != "" {
			cfg.Stream.Quality = input.Body.Quality
		}
		if input.Body.FPS != 0 {
			cfg.Stream.FPS = input.Body.FPS
		}
		if input.Body.BitrateKbps != 0 {
			cfg.Stream.BitrateKbps = input.Body.BitrateKbps
		}
		if input.Body.Shuffle != nil {
			cfg.Stream.Shuffle = *input.Body.Shuffle
		}
		if input.Body.Overlay != nil {
			cfg.Stream.Overlay = *input.Body.Overlay
		}
		if input.Body.Preflight != nil {
			cfg.Egress.Preflight = *input.Body.Preflight
		}

		target := pipeline.EgressTarget{
			URL:       cfg.Egress.URL,
			StreamKey: cfg.Egress.StreamKey,
			LiveMode:  cfg.Egress.LiveMode,
		}

		id, err := s.engine.Start(input.Body.SourceURL, cfg, target)
		if err != nil {
			s.logger.Warn("Session start rejected", "error", err)
			switch {
			case strings.Contains(err.Error(), "tools unavailable"):
				return nil, huma.Error503ServiceUnavailable("External tools unavailable", err)
			case strings.Contains(err.Error(), "already active"):
				return nil, huma.Error409Conflict("A session is already active", err)
			default:
				return nil, huma.Error422UnprocessableEntity("Cannot start session", err)
			}
		}

		resp := &StartResponse{Status: http.StatusAccepted}
		resp.Body.SessionID = id
		resp.Body.Message = "session started"
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/api/session/stop",
		Summary:     "Stop session",
		Description: "Stop the active session, terminating the subprocess chain",
		Tags:        []string{"session"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*CommandResponse, error) {
		if err := s.engine.Stop(); err != nil {
			return nil, huma.Error500InternalServerError("Failed to stop session", err)
		}
		resp := &CommandResponse{}
		resp.Body.Status = "ok"
		resp.Body.Message = "session stopping"
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "skip-item",
		Method:      http.MethodPost,
		Path:        "/api/session/skip",
		Summary:     "Skip item",
		Description: "Abandon the current queue item and move to the next one",
		Tags:        []string{"session"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*CommandResponse, error) {
		if err := s.engine.Skip(); err != nil {
			return nil, huma.Error409Conflict("Cannot skip", err)
		}
		resp := &CommandResponse{}
		resp.Body.Status = "ok"
		resp.Body.Message = "skipping to next item"
		return resp, nil
	})
}
