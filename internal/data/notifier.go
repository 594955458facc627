package data

import (
	"context"
	"time"

	"ToolSync/internal/model"
	pkglog "ToolSync/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// EventNotifierImpl implements biz.EventNotifier. Store breaker and
// recovery lifecycle events fan out to the structured log and to the
// durable audit trail. Methods never block and never return errors;
// a lost notification must not affect the path that emitted it.
type EventNotifierImpl struct {
	auditor *SyncAuditorImpl
	logger  *pkglog.LogHelper
}

// NewEventNotifier creates a new event notifier. The auditor may be nil
// in tests; events then only reach the log.
func NewEventNotifier(auditor *SyncAuditorImpl, logger log.Logger) *EventNotifierImpl {
	return &EventNotifierImpl{
		auditor: auditor,
		logger:  pkglog.NewLogHelper(logger),
	}
}

// BreakerOpened reports the store circuit breaker tripping open.
func (n *EventNotifierImpl) BreakerOpened(ev model.BreakerOpenedEvent) {
	n.logger.Breaker("store circuit breaker opened",
		"operation", ev.Operation,
		"consecutive_failures", ev.ConsecutiveFailures,
		"last_failure_at", ev.LastFailureAt.Format(time.RFC3339))

	if n.auditor != nil {
		n.auditor.LogBreakerOpened(context.Background(), ev.Operation, ev.ConsecutiveFailures, ev.LastFailureAt)
	}
}

// BreakerRecovered reports the breaker closing after a successful probe.
func (n *EventNotifierImpl) BreakerRecovered(ev model.BreakerRecoveredEvent) {
	n.logger.Breaker("store circuit breaker closed",
		"operation", ev.Operation,
		"open_for_ms", ev.OpenFor.Milliseconds())

	if n.auditor != nil {
		n.auditor.LogBreakerRecovered(context.Background(), ev.Operation, ev.OpenFor)
	}
}

// RecoveryStarted reports the consumer pausing for a full resync.
func (n *EventNotifierImpl) RecoveryStarted(ev model.RecoveryStartedEvent) {
	n.logger.Recovery("recovery started, consumer paused",
		"trigger", string(ev.Trigger),
		"reason", ev.Reason)

	if n.auditor != nil {
		n.auditor.LogRecoveryStarted(context.Background(), ev.Trigger, ev.Reason)
	}
}

// RecoveryFinished reports a completed recovery, successful or not.
func (n *EventNotifierImpl) RecoveryFinished(ev model.RecoveryFinishedEvent) {
	n.logger.Recovery("recovery finished, consumer resuming",
		"run_id", ev.RunID,
		"success", ev.Success,
		"inventory_size", ev.InventorySize,
		"duration_ms", ev.Duration.Milliseconds())

	if n.auditor != nil {
		n.auditor.LogRecoveryFinished(context.Background(), ev.RunID, ev.Success, ev.InventorySize, ev.Duration)
	}
}
