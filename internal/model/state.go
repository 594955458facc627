package model

import "time"

// BreakerState is the circuit breaker state guarding store access.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ConsumerState is the update queue consumer lifecycle state. Paused is
// a sub-state of Running entered only while a recovery is in flight.
type ConsumerState int32

const (
	ConsumerStopped ConsumerState = iota
	ConsumerRunning
	ConsumerPaused
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerStopped:
		return "stopped"
	case ConsumerRunning:
		return "running"
	case ConsumerPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// FailureKind labels the failure signals that can trigger a recovery.
type FailureKind string

const (
	FailureCritical        FailureKind = "critical_store_failure"
	FailureDeserialization FailureKind = "deserialization"
	FailureValidation      FailureKind = "validation"
	FailureProcessing      FailureKind = "processing"
	// FailureManual marks operator-requested resyncs, which run through
	// the same recovery path as automatic triggers.
	FailureManual FailureKind = "manual"
)

// BreakerSnapshot is a point-in-time view of the circuit breaker.
type BreakerSnapshot struct {
	State               BreakerState
	ConsecutiveFailures int32
	LastFailureAt       time.Time
	OpenedCount         int64
	RetryCount          int64
	FallbackCount       int64
	FailFastCount       int64
}

// FailureCounts is a point-in-time view of the failure tracker.
type FailureCounts struct {
	ConsecutiveDeserialization int32
	ConsecutiveProcessing      int32
	ValidationInWindow         int32
	WindowStartedAt            time.Time
	CriticalStoreFailures      int64
}

// ResyncResult summarizes one full inventory resync run.
type ResyncResult struct {
	RunID         string
	Reason        string
	InventorySize int
	Added         int
	Updated       int
	Removed       int
	StartedAt     time.Time
	Duration      time.Duration
}

// Health status values derived from the metrics on every query.
const (
	HealthIdle      = "idle"
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthSnapshot is the derived, read-only health view served over
// HTTP. It is recomputed from the live counters on every request and
// never cached.
type HealthSnapshot struct {
	Status                 string     `json:"status"`
	ConsumerState          string     `json:"consumerState"`
	BreakerState           string     `json:"breakerState"`
	MessagesReceived       int64      `json:"messagesReceived"`
	MessagesSucceeded      int64      `json:"messagesSucceeded"`
	MessagesFailed         int64      `json:"messagesFailed"`
	DeserializationRejects int64      `json:"deserializationRejects"`
	ValidationRejects      int64      `json:"validationRejects"`
	DuplicatesDropped      int64      `json:"duplicatesDropped"`
	StoreErrors            int64      `json:"storeErrors"`
	RecoveriesTriggered    int64      `json:"recoveriesTriggered"`
	RecoveriesSucceeded    int64      `json:"recoveriesSucceeded"`
	RecoveriesFailed       int64      `json:"recoveriesFailed"`
	RecoveriesLastHour     int        `json:"recoveriesLastHour"`
	MeanProcessingMs       float64    `json:"meanProcessingMs"`
	MeanRecoveryMs         float64    `json:"meanRecoveryMs"`
	LastSuccessAt          *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt          *time.Time `json:"lastFailureAt,omitempty"`
	QueueDepth             int64      `json:"queueDepth"`
	CheckedAt              time.Time  `json:"checkedAt"`
}
