package data

import (
	"context"
	"encoding/json"
	"time"

	"ToolSync/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// SyncAuditLog is the GORM model for tool_sync_audit_logs table
type SyncAuditLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null"`
	ToolName  string    `gorm:"column:tool_name;type:varchar(255);index"` // empty for non-tool events
	Source    string    `gorm:"column:source;type:varchar(100)"`          // empty for system events
	Details   string    `gorm:"column:details;type:json"`                 // JSON string
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (SyncAuditLog) TableName() string {
	return "tool_sync_audit_logs"
}

// SyncAuditorImpl implements biz.SyncAuditor interface
type SyncAuditorImpl struct {
	db      *gorm.DB
	logChan chan *SyncAuditLog
	logger  *log.Helper
}

// NewSyncAuditor creates a new sync auditor with async channel
func NewSyncAuditor(db *gorm.DB, logger log.Logger) *SyncAuditorImpl {
	sa := &SyncAuditorImpl{
		db:      db,
		logChan: make(chan *SyncAuditLog, 1000), // Buffer size 1000 to prevent blocking
		logger:  log.NewHelper(logger),
	}

	// Start background goroutine for async logging
	go sa.start()

	return sa
}

// start processes audit events from channel
func (a *SyncAuditorImpl) start() {
	for event := range a.logChan {
		ctx := context.Background()
		if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
			a.logger.Errorw("msg", "failed to write sync audit log",
				"event_type", event.EventType,
				"tool", event.ToolName,
				"error", err)
		} else {
			a.logger.Debugw("msg", "sync audit log written",
				"event_type", event.EventType,
				"tool", event.ToolName)
		}
	}
}

// enqueue sends an event to the writer goroutine without blocking the
// consumer loop. When the buffer is full the event is dropped; the audit
// trail is best effort and must never stall message processing.
func (a *SyncAuditorImpl) enqueue(event *SyncAuditLog) {
	select {
	case a.logChan <- event:
		// Successfully queued
	default:
		a.logger.Warnw("msg", "sync audit channel full, dropping event",
			"event_type", event.EventType,
			"tool", event.ToolName)
	}
}

// LogToolAdded records a tool registration applied from a change message
func (a *SyncAuditorImpl) LogToolAdded(ctx context.Context, toolName, providerName, source, messageID string) {
	details := map[string]interface{}{
		"provider_name": providerName,
		"message_id":    messageID,
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit details", "error", err)
		return
	}

	a.enqueue(&SyncAuditLog{
		EventType: model.AuditEventToolAdded,
		ToolName:  toolName,
		Source:    source,
		Details:   string(detailsJSON),
	})
}

// LogToolRemoved records a tool removal applied from a change message
func (a *SyncAuditorImpl) LogToolRemoved(ctx context.Context, toolName, source, messageID string) {
	details := map[string]interface{}{
		"message_id": messageID,
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit details", "error", err)
		return
	}

	a.enqueue(&SyncAuditLog{
		EventType: model.AuditEventToolRemoved,
		ToolName:  toolName,
		Source:    source,
		Details:   string(detailsJSON),
	})
}

// LogMessageRejected records a change message dropped by validation
func (a *SyncAuditorImpl) LogMessageRejected(ctx context.Context, messageID, source, reason string) {
	details := map[string]interface{}{
		"message_id": messageID,
		"reason":     reason,
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit details", "error", err)
		return
	}

	a.enqueue(&SyncAuditLog{
		EventType: model.AuditEventMessageRejected,
		Source:    source,
		Details:   string(detailsJSON),
	})
}

// LogRecoveryStarted records the consumer pausing for a full resync
func (a *SyncAuditorImpl) LogRecoveryStarted(ctx context.Context, trigger model.FailureKind, reason string) {
	details := map[string]interface{}{
		"trigger": string(trigger),
		"reason":  reason,
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit details", "error", err)
		return
	}

	a.enqueue(&SyncAuditLog{
		EventType: model.AuditEventRecoveryStarted,
		Details:   string(detailsJSON),
	})
}

// LogRecoveryFinished records the outcome of a full resync
func (a *SyncAuditorImpl) LogRecoveryFinished(ctx context.Context, runID string, success bool, inventorySize int, duration time.Duration) {
	details := map[string]interface{}{
		"run_id":           runID,
		"success":          success,
		"inventory_size":   inventorySize,
		"duration_seconds": duration.Seconds(),
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit details", "error", err)
		return
	}

	a.enqueue(&SyncAuditLog{
		EventType: model.AuditEventRecoveryFinished,
		Details:   string(detailsJSON),
	})
}

// LogBreakerOpened records the store circuit breaker tripping open
func (a *SyncAuditorImpl) LogBreakerOpened(ctx context.Context, operation string, consecutiveFailures int32, lastFailureAt time.Time) {
	details := map[string]interface{}{
		"operation":            operation,
		"consecutive_failures": consecutiveFailures,
		"last_failure_at":      lastFailureAt.Format(time.RFC3339),
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit details", "error", err)
		return
	}

	a.enqueue(&SyncAuditLog{
		EventType: model.AuditEventBreakerOpened,
		Details:   string(detailsJSON),
	})
}

// LogBreakerRecovered records the breaker closing after a successful probe
func (a *SyncAuditorImpl) LogBreakerRecovered(ctx context.Context, operation string, openFor time.Duration) {
	details := map[string]interface{}{
		"operation":        operation,
		"open_for_seconds": openFor.Seconds(),
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit details", "error", err)
		return
	}

	a.enqueue(&SyncAuditLog{
		EventType: model.AuditEventBreakerClosed,
		Details:   string(detailsJSON),
	})
}
