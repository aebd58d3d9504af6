package handlers

import (
	"context"

	"github.com/almostout/almostout/backend/internal/server/dto"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	version string
	backend string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(cfg *Config) *HealthHandler {
	return &HealthHandler{version: cfg.Version, backend: cfg.Backend}
}

// Health handles health check requests.
func (h *HealthHandler) Health(ctx context.Context, _ *dto.HealthRequest) (*dto.HealthResponse, error) {
	return &dto.HealthResponse{Status: "ok", Version: h.version, Backend: h.backend}, nil
}
