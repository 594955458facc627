package model

// Audit event type constants
const (
	AuditEventToolAdded        = "TOOL_ADDED"
	AuditEventToolRemoved      = "TOOL_REMOVED"
	AuditEventMessageRejected  = "MESSAGE_REJECTED"
	AuditEventRecoveryStarted  = "RECOVERY_STARTED"
	AuditEventRecoveryFinished = "RECOVERY_FINISHED"
	AuditEventBreakerOpened    = "BREAKER_OPENED"
	AuditEventBreakerClosed    = "BREAKER_CLOSED"
)
