package srv

import (
	"context"

	"github.com/sandevgo/percept/pkg/log"
)

type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// StartServices launches every service in its own goroutine.
// A service failing to start is logged and cancels the whole process via stop.
func StartServices(ctx context.Context, services []Service, stop context.CancelFunc) {
	logger := log.FromCtx(ctx)
	for _, service := range services {
		go func(service Service) {
			if err := service.Start(ctx); err != nil {
				logger.Error().Err(err).Msgf("%T failed", service)
				stop()
			}
		}(service)
	}
}

// ShutdownServices waits for ctx and stops services in reverse start order,
// so storage cleanup registered first is closed last.
func ShutdownServices(ctx context.Context, shutdownCtx context.Context, services []Service) {
	<-ctx.Done()
	for i := len(services) - 1; i >= 0; i-- {
		service := services[i]
		if err := service.Shutdown(shutdownCtx); err != nil {
			log.FromCtx(ctx).Error().Err(err).Msgf("%T failed to shutdown", service)
		}
	}
}
