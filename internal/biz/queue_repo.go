package biz

import (
	"context"
	"time"

	"ToolSync/internal/model"
)

// QueueRepo defines queue and inventory access over the shared store.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementation is in data layer (data.UpdateQueueRepo).
type QueueRepo interface {
	// PopUpdate pops the oldest raw message off the queue, blocking up to
	// timeout. An empty queue yields ("", nil); errors surface raw so the
	// poll loop can drive its own backoff.
	PopUpdate(ctx context.Context, queueKey string, timeout time.Duration) (string, error)

	// PushUpdate pushes a raw message payload and returns the new length.
	PushUpdate(ctx context.Context, queueKey, payload string) (int64, error)

	// QueueDepth reports the queue length, -1 when the store is unavailable.
	QueueDepth(ctx context.Context, queueKey string) int64

	// ReadInventory reads the agent's full inventory snapshot.
	ReadInventory(ctx context.Context, inventoryKey string) ([]model.InventoryEntry, error)
}

// StoreMonitor exposes the circuit breaker state of the shared store for
// health reporting. Implementation is data.ResilientStore.
type StoreMonitor interface {
	BreakerSnapshot() model.BreakerSnapshot
}
