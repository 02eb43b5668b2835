package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/storage"
)

type HealthService interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

type healthService struct {
	store  storage.SnapshotStorage
	logger *slog.Logger
}

func NewHealthService(store storage.SnapshotStorage, logger *slog.Logger) HealthService {
	l := logger.With("layer", "service", "component", "healthService")
	return &healthService{store: store, logger: l}
}

func (s *healthService) Liveness(ctx context.Context) error {
	return nil
}

func (s *healthService) Readiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("Readiness check failed", slog.Any("error", err))
		return err
	}
	return nil
}
