package biz

import (
	"testing"
	"time"

	"ToolSync/internal/model"

	"github.com/stretchr/testify/assert"
)

func snapshotNow(h *HealthMetrics) model.HealthSnapshot {
	return h.Snapshot(time.Now(), model.ConsumerRunning, model.BreakerSnapshot{State: model.BreakerClosed}, 0)
}

func TestHealthMetrics_IdleBeforeAnyActivity(t *testing.T) {
	h := NewHealthMetrics()

	snap := snapshotNow(h)
	assert.Equal(t, model.HealthIdle, snap.Status)
	assert.Zero(t, snap.MessagesReceived)
	assert.Nil(t, snap.LastSuccessAt)
	assert.Nil(t, snap.LastFailureAt)
}

func TestHealthMetrics_CountersLandInSnapshot(t *testing.T) {
	h := NewHealthMetrics()

	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageSucceeded(10 * time.Millisecond)
	h.RecordMessageSucceeded(30 * time.Millisecond)
	h.RecordMessageFailed(20 * time.Millisecond)
	h.RecordDeserializationReject()
	h.RecordValidationReject()
	h.RecordDuplicateDropped()
	h.RecordStoreError()
	h.RecordRecoveryTriggered()
	h.RecordRecoveryFinished(true, 100*time.Millisecond)

	snap := h.Snapshot(time.Now(), model.ConsumerPaused, model.BreakerSnapshot{State: model.BreakerOpen}, 7)

	assert.Equal(t, int64(3), snap.MessagesReceived)
	assert.Equal(t, int64(2), snap.MessagesSucceeded)
	assert.Equal(t, int64(1), snap.MessagesFailed)
	assert.Equal(t, int64(1), snap.DeserializationRejects)
	assert.Equal(t, int64(1), snap.ValidationRejects)
	assert.Equal(t, int64(1), snap.DuplicatesDropped)
	assert.Equal(t, int64(1), snap.StoreErrors)
	assert.Equal(t, int64(1), snap.RecoveriesTriggered)
	assert.Equal(t, int64(1), snap.RecoveriesSucceeded)
	assert.Equal(t, 1, snap.RecoveriesLastHour)
	assert.Equal(t, "paused", snap.ConsumerState)
	assert.Equal(t, "open", snap.BreakerState)
	assert.Equal(t, int64(7), snap.QueueDepth)
	assert.NotNil(t, snap.LastSuccessAt)
	assert.NotNil(t, snap.LastFailureAt)

	// Mean of 10, 30 and 20 ms across three processed messages
	assert.InDelta(t, 20.0, snap.MeanProcessingMs, 0.01)
	assert.InDelta(t, 100.0, snap.MeanRecoveryMs, 0.01)
}

func TestHealthMetrics_HealthyAfterSuccesses(t *testing.T) {
	h := NewHealthMetrics()

	h.RecordMessageReceived()
	h.RecordMessageSucceeded(5 * time.Millisecond)

	assert.Equal(t, model.HealthHealthy, snapshotNow(h).Status)
}

func TestHealthMetrics_UnhealthyOnRecoveryFailures(t *testing.T) {
	h := NewHealthMetrics()

	h.RecordRecoveryTriggered()
	h.RecordRecoveryFinished(false, 50*time.Millisecond)

	// Zero successes out of one recovery
	assert.Equal(t, model.HealthUnhealthy, snapshotNow(h).Status)
}

func TestHealthMetrics_RecoveryRateBoundary(t *testing.T) {
	h := NewHealthMetrics()

	// Exactly 50% success is not below the bar
	h.RecordRecoveryTriggered()
	h.RecordRecoveryFinished(true, time.Millisecond)
	h.RecordRecoveryTriggered()
	h.RecordRecoveryFinished(false, time.Millisecond)

	snap := snapshotNow(h)
	assert.NotEqual(t, model.HealthUnhealthy, snap.Status)
}

func TestHealthMetrics_UnhealthyOnErrorRate(t *testing.T) {
	h := NewHealthMetrics()

	// Two of three messages errored: 66% > 50%
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageSucceeded(time.Millisecond)
	h.RecordMessageFailed(time.Millisecond)
	h.RecordDeserializationReject()

	assert.Equal(t, model.HealthUnhealthy, snapshotNow(h).Status)
}

func TestHealthMetrics_ErrorRateBoundary(t *testing.T) {
	h := NewHealthMetrics()

	// Exactly 50% is not above the bar; the failure happened before the
	// success so the recent-failure rule stays quiet too
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageFailed(time.Millisecond)
	h.RecordMessageSucceeded(time.Millisecond)

	assert.Equal(t, model.HealthHealthy, snapshotNow(h).Status)
}

func TestHealthMetrics_DuplicatesAreNotErrors(t *testing.T) {
	h := NewHealthMetrics()

	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageSucceeded(time.Millisecond)
	h.RecordDuplicateDropped()
	h.RecordDuplicateDropped()

	assert.Equal(t, model.HealthHealthy, snapshotNow(h).Status)
}

func TestHealthMetrics_DegradedOnRecoveryChurn(t *testing.T) {
	h := NewHealthMetrics()

	// Four successful recoveries within the hour: not unhealthy, but
	// churning hard enough to flag
	for i := 0; i < 4; i++ {
		h.RecordRecoveryTriggered()
		h.RecordRecoveryFinished(true, time.Millisecond)
	}

	snap := snapshotNow(h)
	assert.Equal(t, model.HealthDegraded, snap.Status)
	assert.Equal(t, 4, snap.RecoveriesLastHour)
}

func TestHealthMetrics_OldRecoveriesAgeOut(t *testing.T) {
	h := NewHealthMetrics()

	for i := 0; i < 4; i++ {
		h.RecordRecoveryTriggered()
		h.RecordRecoveryFinished(true, time.Millisecond)
	}

	// Re-date all completions to two hours ago; the churn rule must
	// stop seeing them
	h.mu.Lock()
	for i := range h.recoveryTimes {
		h.recoveryTimes[i] = time.Now().Add(-2 * time.Hour)
	}
	h.mu.Unlock()

	snap := snapshotNow(h)
	assert.Zero(t, snap.RecoveriesLastHour)
	assert.NotEqual(t, model.HealthDegraded, snap.Status)
}

func TestHealthMetrics_DegradedOnRecentFailureWithoutSuccess(t *testing.T) {
	h := NewHealthMetrics()

	// Error rate stays at 33% so only the recency rule can fire
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageSucceeded(time.Millisecond)
	h.RecordMessageSucceeded(time.Millisecond)
	h.RecordMessageFailed(time.Millisecond)

	assert.Equal(t, model.HealthDegraded, snapshotNow(h).Status)
}

func TestHealthMetrics_StaleFailureStopsDegrading(t *testing.T) {
	h := NewHealthMetrics()

	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageSucceeded(time.Millisecond)
	h.RecordMessageSucceeded(time.Millisecond)
	h.RecordMessageFailed(time.Millisecond)

	// Re-date the failure beyond the staleness window
	h.lastFailureNano.Store(time.Now().Add(-6 * time.Minute).UnixNano())

	assert.Equal(t, model.HealthHealthy, snapshotNow(h).Status)
}

func TestHealthMetrics_SuccessClearsRecentFailure(t *testing.T) {
	h := NewHealthMetrics()

	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageReceived()
	h.RecordMessageFailed(time.Millisecond)
	h.RecordMessageSucceeded(time.Millisecond)
	h.RecordMessageSucceeded(time.Millisecond)

	// A success after the failure clears the recency rule
	assert.Equal(t, model.HealthHealthy, snapshotNow(h).Status)
}

func TestHealthMetrics_UnhealthyBeatsDegraded(t *testing.T) {
	h := NewHealthMetrics()

	// Recovery churn and failing recoveries at once: the rate rule is
	// more severe and must win
	for i := 0; i < 4; i++ {
		h.RecordRecoveryTriggered()
		h.RecordRecoveryFinished(false, time.Millisecond)
	}

	assert.Equal(t, model.HealthUnhealthy, snapshotNow(h).Status)
}
