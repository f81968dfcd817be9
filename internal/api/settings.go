package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// registerSettingsRoutes wires the persisted configuration endpoints.
func (s *Server) registerSettingsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/api/config",
		Summary:     "Get config",
		Description: "Read the stored settings. The stream key is reported as a presence flag only",
		Tags:        []string{"config"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*SettingsResponse, error) {
		cfg := s.settings.Get()
		set := cfg.Egress.StreamKey != ""
		cfg.Egress.StreamKey = ""
		return &SettingsResponse{Body: SettingsData{Settings: cfg, StreamKeySet: set}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "put-config",
		Method:      http.MethodPut,
		Path:        "/api/config",
		Summary:     "Replace config",
		Description: "Validate and persist new settings. A running session keeps its snapshot",
		Tags:        []string{"config"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *SettingsRequest) (*SettingsResponse, error) {
		next := input.Body
		if err := next.Validate(); err != nil {
			return nil, huma.Error422UnprocessableEntity("Invalid settings", err)
		}

		// An empty incoming key keeps the stored one; the GET view
		// never returns it, so clients cannot round-trip it.
		if next.Egress.StreamKey == "" {
			next.Egress.StreamKey = s.settings.Get().Egress.StreamKey
		}

		if err := s.settings.Replace(next); err != nil {
			return nil, huma.Error500InternalServerError("Failed to persist settings", err)
		}
		s.logger.Info("Settings replaced", "path", s.settings.Path())

		cfg := s.settings.Get()
		set := cfg.Egress.StreamKey != ""
		cfg.Egress.StreamKey = ""
		return &SettingsResponse{Body: SettingsData{Settings: cfg, StreamKeySet: set}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "put-credentials",
		Method:      http.MethodPut,
		Path:        "/api/credentials",
		Summary:     "Set credentials",
		Description: "Update the egress URL and stream key, optionally persisting the key to disk",
		Tags:        []string{"config"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *CredentialsRequest) (*CommandResponse, error) {
		if err := s.settings.SetCredentials(input.Body.URL, input.Body.StreamKey, input.Body.Save); err != nil {
			return nil, huma.Error500InternalServerError("Failed to store credentials", err)
		}

		resp := &CommandResponse{}
		resp.Body.Status = "ok"
		if input.Body.Save {
			resp.Body.Message = "credentials saved"
		} else {
			resp.Body.Message = "credentials set for this run"
		}
		return resp, nil
	})
}
