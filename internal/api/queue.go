package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// registerQueueRoutes wires the read-only queue view.
func (s *Server) registerQueueRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-queue",
		Method:      http.MethodGet,
		Path:        "/api/queue",
		Summary:     "Queue",
		Description: "Get the resolved item queue in play order",
		Tags:        []string{"session"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*QueueResponse, error) {
		items, cursor := s.engine.QueueItems()

		resp := &QueueResponse{}
		resp.Body.Items = make([]QueueEntry, len(items))
		for i, it := range items {
			resp.Body.Items[i] = QueueEntry{
				Index:       i,
				Title:       it.Title,
				URL:         it.URL,
				DurationSec: it.DurationSec,
				Live:        it.Live,
			}
		}
		resp.Body.Cursor = cursor
		resp.Body.Length = len(items)
		return resp, nil
	})
}
