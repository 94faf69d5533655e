//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/config"
)

var infrastructureSet = wire.NewSet(
	newDatabaseConfig,
	newGormDB,
	newRedisStore,
	newInferenceClient,
	newDispatcher,
	newBroker,
	newAuthValidator,
)

var domainSet = wire.NewSet(
	newConversationService,
	newTracker,
	newLimiter,
	newRunner,
	newRecoveryManager,
	newChatService,
)

// BuildApplication is the wire graph behind buildApplication.
func BuildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, func(), error) {
	wire.Build(
		infrastructureSet,
		domainSet,
		newWorkerPool,
		newSweep,
		newHTTPServer,
		NewApplication,
	)
	return nil, nil, nil
}
