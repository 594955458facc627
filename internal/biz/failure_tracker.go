package biz

import (
	"sync/atomic"
	"time"

	"ToolSync/internal/conf"
	"ToolSync/internal/model"
)

// Default recovery trigger thresholds.
const (
	defaultDeserializationThreshold = 5
	defaultProcessingThreshold      = 5
	defaultValidationThreshold      = 10
	defaultValidationWindow         = time.Minute
)

// FailureTracker counts the failure signals that can escalate into a full
// resync. Only the consumer worker records failures, so the record paths
// need no compare-and-swap; the atomics make the counts visible to health
// readers on other goroutines.
//
// Validation failures are counted in a rolling window that restarts
// lazily: once the window duration has elapsed since the window opened,
// the next recorded failure opens a fresh window. There is no clock tick.
type FailureTracker struct {
	deserializationThreshold int32
	processingThreshold      int32
	validationThreshold      int32
	validationWindow         time.Duration

	consecutiveDeserialization atomic.Int32
	consecutiveProcessing      atomic.Int32
	validationCount            atomic.Int32
	windowStartNano            atomic.Int64
	criticalStoreFailures      atomic.Int64
}

// NewFailureTracker creates a tracker from the sync configuration,
// falling back to the documented defaults for unset fields.
func NewFailureTracker(c *conf.Sync) *FailureTracker {
	t := &FailureTracker{
		deserializationThreshold: defaultDeserializationThreshold,
		processingThreshold:      defaultProcessingThreshold,
		validationThreshold:      defaultValidationThreshold,
		validationWindow:         defaultValidationWindow,
	}
	if c != nil && c.Failure != nil {
		if c.Failure.DeserializationThreshold > 0 {
			t.deserializationThreshold = c.Failure.DeserializationThreshold
		}
		if c.Failure.ProcessingThreshold > 0 {
			t.processingThreshold = c.Failure.ProcessingThreshold
		}
		if c.Failure.ValidationThreshold > 0 {
			t.validationThreshold = c.Failure.ValidationThreshold
		}
		if d := c.Failure.ValidationWindow.AsDuration(); d > 0 {
			t.validationWindow = d
		}
	}
	return t
}

// RecordDeserializationFailure notes one malformed payload.
func (t *FailureTracker) RecordDeserializationFailure() {
	t.consecutiveDeserialization.Add(1)
}

// RecordDeserializationSuccess resets the consecutive malformed count.
func (t *FailureTracker) RecordDeserializationSuccess() {
	t.consecutiveDeserialization.Store(0)
}

// RecordProcessingFailure notes one message whose apply phase failed.
func (t *FailureTracker) RecordProcessingFailure() {
	t.consecutiveProcessing.Add(1)
}

// RecordProcessingSuccess resets the consecutive processing count.
func (t *FailureTracker) RecordProcessingSuccess() {
	t.consecutiveProcessing.Store(0)
}

// RecordValidationFailure notes one rejected message at time now. When
// the current window has expired the failure opens a fresh window with a
// count of one.
func (t *FailureTracker) RecordValidationFailure(now time.Time) {
	start := t.windowStartNano.Load()
	if start == 0 || now.Sub(time.Unix(0, start)) > t.validationWindow {
		// Single writer: plain stores are safe here.
		t.windowStartNano.Store(now.UnixNano())
		t.validationCount.Store(1)
		return
	}
	t.validationCount.Add(1)
}

// RecordCriticalStoreFailure notes a fatal condition reported by the
// apply layer. A single occurrence is enough to trigger recovery.
func (t *FailureTracker) RecordCriticalStoreFailure() {
	t.criticalStoreFailures.Add(1)
}

// ShouldTriggerRecovery reports whether the signal of the given kind has
// crossed its threshold. Critical store failures always trigger.
func (t *FailureTracker) ShouldTriggerRecovery(kind model.FailureKind) bool {
	switch kind {
	case model.FailureCritical:
		return true
	case model.FailureDeserialization:
		return t.consecutiveDeserialization.Load() >= t.deserializationThreshold
	case model.FailureProcessing:
		return t.consecutiveProcessing.Load() >= t.processingThreshold
	case model.FailureValidation:
		return t.validationCount.Load() >= t.validationThreshold
	default:
		return false
	}
}

// ResetAll zeroes every counter. Called when a recovery completes,
// successful or not, so stale counts cannot re-trigger immediately.
func (t *FailureTracker) ResetAll() {
	t.consecutiveDeserialization.Store(0)
	t.consecutiveProcessing.Store(0)
	t.validationCount.Store(0)
	t.windowStartNano.Store(0)
	t.criticalStoreFailures.Store(0)
}

// Snapshot returns a point-in-time view of the counters. A validation
// window that has expired relative to now reads as zero; the stored
// count is left for the next record to overwrite.
func (t *FailureTracker) Snapshot(now time.Time) model.FailureCounts {
	counts := model.FailureCounts{
		ConsecutiveDeserialization: t.consecutiveDeserialization.Load(),
		ConsecutiveProcessing:      t.consecutiveProcessing.Load(),
		CriticalStoreFailures:      t.criticalStoreFailures.Load(),
	}
	if start := t.windowStartNano.Load(); start != 0 {
		startedAt := time.Unix(0, start)
		if now.Sub(startedAt) <= t.validationWindow {
			counts.ValidationInWindow = t.validationCount.Load()
			counts.WindowStartedAt = startedAt
		}
	}
	return counts
}
