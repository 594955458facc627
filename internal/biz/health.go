package biz

import (
	"sync"
	"sync/atomic"
	"time"

	"ToolSync/internal/model"
)

// Thresholds for the derived health status.
const (
	// staleFailureWindow is how long a processing failure keeps the
	// status degraded when no success follows it.
	staleFailureWindow = 5 * time.Minute
	// recoverySpikeWindow and recoverySpikeThreshold flag churn: more
	// than three recoveries within the last hour reads as degraded.
	recoverySpikeWindow    = time.Hour
	recoverySpikeThreshold = 3
	// unhealthyErrorRate is the message error rate above which the
	// subsystem reports unhealthy.
	unhealthyErrorRate = 0.5
	// unhealthyRecoveryRate is the recovery success rate below which the
	// subsystem reports unhealthy.
	unhealthyRecoveryRate = 0.5
)

// HealthMetrics aggregates counters and timers for the sync subsystem.
// All hot-path updates are single atomic operations; the derived status
// is recomputed from the live counters on every Snapshot call and never
// cached.
type HealthMetrics struct {
	messagesReceived       atomic.Int64
	messagesSucceeded      atomic.Int64
	messagesFailed         atomic.Int64
	deserializationRejects atomic.Int64
	validationRejects      atomic.Int64
	duplicatesDropped      atomic.Int64
	storeErrors            atomic.Int64

	recoveriesTriggered atomic.Int64
	recoveriesSucceeded atomic.Int64
	recoveriesFailed    atomic.Int64

	processingTotalNanos atomic.Int64
	processingSamples    atomic.Int64
	recoveryTotalNanos   atomic.Int64
	recoverySamples      atomic.Int64

	lastSuccessNano atomic.Int64
	lastFailureNano atomic.Int64

	// Recovery completion times for the recoveries-in-last-hour rule.
	// Recoveries are rare, so a small lock is fine off the hot path.
	mu            sync.Mutex
	recoveryTimes []time.Time
}

// NewHealthMetrics creates an empty metrics aggregate.
func NewHealthMetrics() *HealthMetrics {
	return &HealthMetrics{}
}

// RecordMessageReceived counts one message popped off the queue.
func (h *HealthMetrics) RecordMessageReceived() {
	h.messagesReceived.Add(1)
}

// RecordMessageSucceeded counts one fully applied message.
func (h *HealthMetrics) RecordMessageSucceeded(elapsed time.Duration) {
	h.messagesSucceeded.Add(1)
	h.processingTotalNanos.Add(int64(elapsed))
	h.processingSamples.Add(1)
	h.lastSuccessNano.Store(time.Now().UnixNano())
}

// RecordMessageFailed counts one message whose apply phase failed at
// least partially.
func (h *HealthMetrics) RecordMessageFailed(elapsed time.Duration) {
	h.messagesFailed.Add(1)
	h.processingTotalNanos.Add(int64(elapsed))
	h.processingSamples.Add(1)
	h.lastFailureNano.Store(time.Now().UnixNano())
}

// RecordDeserializationReject counts one malformed payload.
func (h *HealthMetrics) RecordDeserializationReject() {
	h.deserializationRejects.Add(1)
}

// RecordValidationReject counts one message rejected by validation.
func (h *HealthMetrics) RecordValidationReject() {
	h.validationRejects.Add(1)
}

// RecordDuplicateDropped counts one message dropped by the dedupe cache.
func (h *HealthMetrics) RecordDuplicateDropped() {
	h.duplicatesDropped.Add(1)
}

// RecordStoreError counts one failed queue poll.
func (h *HealthMetrics) RecordStoreError() {
	h.storeErrors.Add(1)
}

// RecordRecoveryTriggered counts one recovery entering the pipeline.
func (h *HealthMetrics) RecordRecoveryTriggered() {
	h.recoveriesTriggered.Add(1)
}

// RecordRecoveryFinished counts one completed recovery and remembers
// when it finished for the churn rule.
func (h *HealthMetrics) RecordRecoveryFinished(success bool, elapsed time.Duration) {
	if success {
		h.recoveriesSucceeded.Add(1)
	} else {
		h.recoveriesFailed.Add(1)
	}
	h.recoveryTotalNanos.Add(int64(elapsed))
	h.recoverySamples.Add(1)

	now := time.Now()
	h.mu.Lock()
	h.recoveryTimes = append(h.recoveryTimes, now)
	h.pruneRecoveryTimesLocked(now)
	h.mu.Unlock()
}

// pruneRecoveryTimesLocked drops entries older than the spike window.
// Callers must hold mu.
func (h *HealthMetrics) pruneRecoveryTimesLocked(now time.Time) {
	cutoff := now.Add(-recoverySpikeWindow)
	kept := h.recoveryTimes[:0]
	for _, ts := range h.recoveryTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	h.recoveryTimes = kept
}

func (h *HealthMetrics) recoveriesWithin(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ts := range h.recoveryTimes {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Snapshot assembles the full health view at time now. The consumer and
// breaker states plus the queue depth come from the caller because this
// aggregate only owns the counters.
func (h *HealthMetrics) Snapshot(now time.Time, consumer model.ConsumerState, breaker model.BreakerSnapshot, queueDepth int64) model.HealthSnapshot {
	snap := model.HealthSnapshot{
		ConsumerState:          consumer.String(),
		BreakerState:           breaker.State.String(),
		MessagesReceived:       h.messagesReceived.Load(),
		MessagesSucceeded:      h.messagesSucceeded.Load(),
		MessagesFailed:         h.messagesFailed.Load(),
		DeserializationRejects: h.deserializationRejects.Load(),
		ValidationRejects:      h.validationRejects.Load(),
		DuplicatesDropped:      h.duplicatesDropped.Load(),
		StoreErrors:            h.storeErrors.Load(),
		RecoveriesTriggered:    h.recoveriesTriggered.Load(),
		RecoveriesSucceeded:    h.recoveriesSucceeded.Load(),
		RecoveriesFailed:       h.recoveriesFailed.Load(),
		RecoveriesLastHour:     h.recoveriesWithin(now, recoverySpikeWindow),
		QueueDepth:             queueDepth,
		CheckedAt:              now,
	}

	if samples := h.processingSamples.Load(); samples > 0 {
		snap.MeanProcessingMs = float64(h.processingTotalNanos.Load()) / float64(samples) / float64(time.Millisecond)
	}
	if samples := h.recoverySamples.Load(); samples > 0 {
		snap.MeanRecoveryMs = float64(h.recoveryTotalNanos.Load()) / float64(samples) / float64(time.Millisecond)
	}
	if nano := h.lastSuccessNano.Load(); nano != 0 {
		ts := time.Unix(0, nano)
		snap.LastSuccessAt = &ts
	}
	if nano := h.lastFailureNano.Load(); nano != 0 {
		ts := time.Unix(0, nano)
		snap.LastFailureAt = &ts
	}

	snap.Status = h.deriveStatus(&snap, now)
	return snap
}

// deriveStatus applies the status rules in order of severity.
func (h *HealthMetrics) deriveStatus(snap *model.HealthSnapshot, now time.Time) string {
	// Nothing has happened yet
	if snap.MessagesReceived == 0 && snap.RecoveriesTriggered == 0 {
		return model.HealthIdle
	}

	// Recoveries mostly failing
	if finished := snap.RecoveriesSucceeded + snap.RecoveriesFailed; finished > 0 {
		if float64(snap.RecoveriesSucceeded)/float64(finished) < unhealthyRecoveryRate {
			return model.HealthUnhealthy
		}
	}

	// Most messages erroring out. Duplicates are intentional drops and
	// count on neither side of the rate.
	if considered := snap.MessagesReceived - snap.DuplicatesDropped; considered > 0 {
		errored := snap.MessagesFailed + snap.DeserializationRejects + snap.ValidationRejects
		if float64(errored)/float64(considered) > unhealthyErrorRate {
			return model.HealthUnhealthy
		}
	}

	// Recovery churn
	if snap.RecoveriesLastHour > recoverySpikeThreshold {
		return model.HealthDegraded
	}

	// Recent failure with no success since
	if snap.LastFailureAt != nil && now.Sub(*snap.LastFailureAt) <= staleFailureWindow {
		if snap.LastSuccessAt == nil || snap.LastSuccessAt.Before(*snap.LastFailureAt) {
			return model.HealthDegraded
		}
	}

	return model.HealthHealthy
}
