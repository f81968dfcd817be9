package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/TheDoctorTTV/247-steam/internal/pipeline"
	"github.com/TheDoctorTTV/247-steam/internal/preflight"
)

// registerEgressRoutes wires the egress test endpoint.
func (s *Server) registerEgressRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "test-egress",
		Method:      http.MethodPost,
		Path:        "/api/egress/test",
		Summary:     "Test egress",
		Description: "Push a short synthetic stream at the ingest endpoint without touching the session",
		Tags:        []string{"egress"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *EgressTestRequest) (*EgressTestResponse, error) {
		stored := s.settings.Get().Egress
		target := pipeline.EgressTarget{
			URL:       input.Body.URL,
			StreamKey: input.Body.StreamKey,
			LiveMode:  input.Body.LiveMode,
		}
		if target.URL == "" {
			target.URL = stored.URL
		}
		if target.StreamKey == "" {
			target.StreamKey = stored.StreamKey
		}
		if target.URL == "" {
			return nil, huma.Error422UnprocessableEntity("No egress URL configured")
		}

		resp := &EgressTestResponse{}
		if err := s.engine.TestEgress(ctx, target); err != nil {
			resp.Body.OK = false
			resp.Body.Reason = string(preflight.ReasonOf(err))
			resp.Body.Detail = err.Error()
			return resp, nil
		}
		resp.Body.OK = true
		return resp, nil
	})
}
