//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"RunGuard/pkg/config"
	"RunGuard/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application and
// a cleanup that releases the infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure
		ProvideSnapshotCache,
		ProvideSnapshotStore,
		ProvideRecorder,
		ProvideStreamHub,

		// Use cases
		ProvideSessionRegistry,
		ProvideBlockPipeline,
		ProvideKafkaBlocksHandler,
		ProvideReplayer,

		// Transports
		ProvideSessionsHandler,
		ProvideHTTPServer,
		ProvideKafkaConsumer,

		ProvideApp,
	)
	return nil, nil, nil
}
