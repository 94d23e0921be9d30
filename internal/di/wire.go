//go:build wireinject
// +build wireinject

package di

import (
	"OhlcvAPI/pkg/config"
	applogger "OhlcvAPI/pkg/logger"
	"OhlcvAPI/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, log *applogger.Logger) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideMetrics,
		ProvideLogPublisher,

		// Infrastructure clients
		ProvideStore,
		ProvideRedisClient,
		ProvideCache,

		// Realtime
		ProvideHub,
		ProvideLivePipeline,
		ProvideLiveUpdatesHandler,
		ProvideLiveConsumer,
		ProvideRedisSource,

		// Use cases
		ProvideCandlesUseCase,
		ProvideTradesUseCase,

		// Transport
		ProvideMarketHandler,
		ProvideWSHandler,
		ProvideGateway,
		ProvideLimiter,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
