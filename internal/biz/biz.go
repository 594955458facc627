// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"ToolSync/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewMessageValidator,
	NewFailureTracker,
	NewHealthMetrics,
	NewRegistryUsecase,
	NewUpdateQueueConsumer,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(QueueRepo), new(*data.UpdateQueueRepo)),
	wire.Bind(new(RegistryRepo), new(*data.ToolRegistryRepo)),
	wire.Bind(new(SyncAuditor), new(*data.SyncAuditorImpl)),
	wire.Bind(new(EventNotifier), new(*data.EventNotifierImpl)),
	wire.Bind(new(StoreMonitor), new(*data.ResilientStore)),
)
