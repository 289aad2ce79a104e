//go:build wireinject
// +build wireinject

package di

import (
	"RSIndex/pkg/config"
	"RSIndex/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideStore,
		ProvideRedisClient,
		ProvideCache,
		ProvideLocker,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideQueue,

		// Domain services
		ProvideScorer,
		ProvideSelector,
		ProvideCompounder,

		// Use cases
		ProvideQueries,
		ProvideEvents,
		ProvideMomentumRanking,
		ProvideConstituentBuilder,
		ProvideIndexBuilder,
		ProvideLiquidityRanker,
		ProvideJobs,
		ProvidePricesUpdatedHandler,

		// HTTP
		ProvideRateLimiter,
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
