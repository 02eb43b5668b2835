package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcpwatch/mcpwatch/services/notifier/internal/store"
)

type HealthService interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

type healthService struct {
	storage store.Storage
	logger  *slog.Logger
}

func NewHealthService(storage store.Storage, logger *slog.Logger) HealthService {
	l := logger.With("layer", "service", "component", "healthService")
	return &healthService{storage: storage, logger: l}
}

func (s *healthService) Liveness(ctx context.Context) error {
	return nil
}

func (s *healthService) Readiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.storage.Ping(ctx); err != nil {
		s.logger.Error("Readiness check failed", slog.Any("error", err))
		return err
	}
	return nil
}
