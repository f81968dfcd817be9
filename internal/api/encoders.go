package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// registerEncoderRoutes wires the encoder ranking endpoints.
func (s *Server) registerEncoderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-encoders",
		Method:      http.MethodGet,
		Path:        "/api/encoders",
		Summary:     "Encoders",
		Description: "List usable encoders in priority order, software fallback last",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*EncodersResponse, error) {
		resp := &EncodersResponse{}
		resp.Body.Encoders = s.encoders.Ranked()
		resp.Body.Demoted = s.encoders.Demoted()
		if at := s.encoders.DetectedAt(); !at.IsZero() {
			resp.Body.DetectedAt = at.Format(time.RFC3339)
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "redetect-encoders",
		Method:      http.MethodPost,
		Path:        "/api/encoders/redetect",
		Summary:     "Re-detect encoders",
		Description: "Clear session demotions and probe hardware encoders again",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*EncodersResponse, error) {
		ranked, err := s.encoders.Redetect(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("Encoder detection failed", err)
		}
		s.logger.Info("Encoder detection refreshed", "count", len(ranked))

		resp := &EncodersResponse{}
		resp.Body.Encoders = ranked
		resp.Body.DetectedAt = time.Now().Format(time.RFC3339)
		return resp, nil
	})
}
