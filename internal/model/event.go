package model

import "time"

// BreakerOpenedEvent represents the store circuit breaker tripping open
type BreakerOpenedEvent struct {
	Operation           string
	ConsecutiveFailures int32
	LastFailureAt       time.Time
}

// BreakerRecoveredEvent represents the breaker closing after a successful probe
type BreakerRecoveredEvent struct {
	Operation string
	OpenFor   time.Duration
}

// RecoveryStartedEvent represents the consumer pausing for a full resync
type RecoveryStartedEvent struct {
	Trigger FailureKind
	Reason  string
}

// RecoveryFinishedEvent represents a completed recovery, successful or not
type RecoveryFinishedEvent struct {
	RunID         string
	Success       bool
	InventorySize int
	Duration      time.Duration
}
