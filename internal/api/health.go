package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/TheDoctorTTV/247-steam/internal/version"
)

// registerHealthRoutes wires the unauthenticated health and version
// endpoints.
func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check daemon health, tool availability and resource usage",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // no auth
	}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
		data := HealthData{
			Status: "ok",
			State:  string(s.engine.Snapshot().State),
		}

		data.ToolsAvailable = s.engine.ToolsAvailable()
		if s.options.ToolsError != nil {
			data.ToolsError = s.options.ToolsError.Error()
		}
		if s.options.Tools != nil {
			data.Downloader = s.options.Tools.Downloader.Version
			data.Encoder = s.options.Tools.Encoder.Version
		}

		if avg, err := load.Avg(); err == nil {
			data.HostLoad1 = avg.Load1
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			data.HostMemUsedPct = vm.UsedPercent
		}
		if s.options.Usage != nil {
			data.ChainCPUPct, data.ChainRSSBytes = s.options.Usage.Usage()
		}

		return &HealthResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{}, // no auth
	}, func(ctx context.Context, input *struct{}) (*VersionResponse, error) {
		return &VersionResponse{Body: version.Get()}, nil
	})
}
