//go:build wireinject
// +build wireinject

package di

import (
	"FluxDash/pkg/config"
	"FluxDash/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideCache,
		ProvideFluxSource,

		// Repositories
		ProvideStorage,
		ProvidePublisher,
		ProvideKafkaConsumer,

		// Use cases
		ProvideFluxProcessor,
		ProvidePipeline,
		ProvideFluxExplorer,
		ProvideFluxCollector,
		ProvideKafkaFluxHandler,

		// Transport
		ProvideStreamHub,
		ProvideRateLimiter,
		ProvideFluxHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
