package biz

import (
	"context"
	"time"

	"ToolSync/internal/model"
)

// SyncAuditor records registry mutations and consumer lifecycle events to
// the append-only audit trail. All methods are fire-and-forget: the write
// happens asynchronously and failures never propagate to the caller.
// Implementation is in data layer (data.SyncAuditorImpl).
type SyncAuditor interface {
	LogToolAdded(ctx context.Context, toolName, providerName, source, messageID string)
	LogToolRemoved(ctx context.Context, toolName, source, messageID string)
	LogMessageRejected(ctx context.Context, messageID, source, reason string)
	LogRecoveryStarted(ctx context.Context, trigger model.FailureKind, reason string)
	LogRecoveryFinished(ctx context.Context, runID string, success bool, inventorySize int, duration time.Duration)
	LogBreakerOpened(ctx context.Context, operation string, consecutiveFailures int32, lastFailureAt time.Time)
	LogBreakerRecovered(ctx context.Context, operation string, openFor time.Duration)
}

// EventNotifier fans significant state transitions out to the log and the
// audit trail. Methods never block and never fail.
// Implementation is in data layer (data.EventNotifierImpl).
type EventNotifier interface {
	BreakerOpened(ev model.BreakerOpenedEvent)
	BreakerRecovered(ev model.BreakerRecoveredEvent)
	RecoveryStarted(ev model.RecoveryStartedEvent)
	RecoveryFinished(ev model.RecoveryFinishedEvent)
}
