package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ToolSync/internal/biz"
	"ToolSync/internal/data"
	"ToolSync/internal/model"
	pkgerrors "ToolSync/pkg/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewSyncService)

// maxResyncReason bounds the operator-supplied reason persisted to the
// audit table.
const maxResyncReason = 200

// StatusResponse describes the consumer, breaker and failure tracker
// state at one point in time.
type StatusResponse struct {
	ConsumerState string        `json:"consumerState"`
	QueueDepth    int64         `json:"queueDepth"`
	Breaker       BreakerStatus `json:"breaker"`
	Failures      FailureStatus `json:"failures"`
	CheckedAt     time.Time     `json:"checkedAt"`
}

// BreakerStatus is the wire view of the circuit breaker.
type BreakerStatus struct {
	State               string     `json:"state"`
	ConsecutiveFailures int32      `json:"consecutiveFailures"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	OpenedCount         int64      `json:"openedCount"`
	RetryCount          int64      `json:"retryCount"`
	FallbackCount       int64      `json:"fallbackCount"`
	FailFastCount       int64      `json:"failFastCount"`
}

// FailureStatus is the wire view of the failure tracker counters.
type FailureStatus struct {
	ConsecutiveDeserialization int32      `json:"consecutiveDeserialization"`
	ConsecutiveProcessing      int32      `json:"consecutiveProcessing"`
	ValidationInWindow         int32      `json:"validationInWindow"`
	WindowStartedAt            *time.Time `json:"windowStartedAt,omitempty"`
	CriticalStoreFailures      int64      `json:"criticalStoreFailures"`
}

// ResyncRequest asks for a full inventory resync.
type ResyncRequest struct {
	Reason string `json:"reason"`
}

// ResyncResponse acknowledges an accepted resync request. The resync
// itself runs asynchronously in the consumer worker.
type ResyncResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// ToolView is the wire view of one registered tool.
type ToolView struct {
	Name         string          `json:"name"`
	ProviderName string          `json:"providerName"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ListToolsResponse lists every registered tool.
type ListToolsResponse struct {
	Tools []ToolView `json:"tools"`
	Total int64      `json:"total"`
}

// SyncService exposes the tool registry and its synchronization
// pipeline over HTTP.
type SyncService struct {
	consumer *biz.UpdateQueueConsumer
	registry *biz.RegistryUsecase
	logger   *log.Helper
}

// NewSyncService creates a new SyncService instance.
func NewSyncService(consumer *biz.UpdateQueueConsumer, registry *biz.RegistryUsecase, logger log.Logger) *SyncService {
	return &SyncService{
		consumer: consumer,
		registry: registry,
		logger:   log.NewHelper(logger),
	}
}

// GetHealth returns the derived health snapshot. The status is
// recomputed from the live counters on every call.
func (s *SyncService) GetHealth(ctx context.Context) (*model.HealthSnapshot, error) {
	snap := s.consumer.Health(ctx)
	return &snap, nil
}

// GetStatus returns the raw consumer, breaker and failure tracker
// state for operators who need more than the health verdict.
func (s *SyncService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	s.logger.Debugw("msg", "GetStatus called")

	breaker := s.consumer.BreakerSnapshot()
	failures := s.consumer.FailureCounts()

	resp := &StatusResponse{
		ConsumerState: s.consumer.State().String(),
		QueueDepth:    s.consumer.QueueDepth(ctx),
		Breaker: BreakerStatus{
			State:               breaker.State.String(),
			ConsecutiveFailures: breaker.ConsecutiveFailures,
			OpenedCount:         breaker.OpenedCount,
			RetryCount:          breaker.RetryCount,
			FallbackCount:       breaker.FallbackCount,
			FailFastCount:       breaker.FailFastCount,
		},
		Failures: FailureStatus{
			ConsecutiveDeserialization: failures.ConsecutiveDeserialization,
			ConsecutiveProcessing:      failures.ConsecutiveProcessing,
			ValidationInWindow:         failures.ValidationInWindow,
			CriticalStoreFailures:      failures.CriticalStoreFailures,
		},
		CheckedAt: time.Now(),
	}
	if !breaker.LastFailureAt.IsZero() {
		t := breaker.LastFailureAt
		resp.Breaker.LastFailureAt = &t
	}
	if !failures.WindowStartedAt.IsZero() {
		t := failures.WindowStartedAt
		resp.Failures.WindowStartedAt = &t
	}
	return resp, nil
}

// TriggerResync queues a full inventory resync on the consumer worker.
// Returns 409 when a recovery is already running or queued.
func (s *SyncService) TriggerResync(ctx context.Context, req *ResyncRequest) (*ResyncResponse, error) {
	reason := "manual resync via API"
	if req != nil && strings.TrimSpace(req.Reason) != "" {
		reason = strings.TrimSpace(req.Reason)
		if len(reason) > maxResyncReason {
			reason = reason[:maxResyncReason]
		}
	}

	s.logger.Infow("msg", "TriggerResync called", "reason", reason)

	if err := s.consumer.RequestResync(reason); err != nil {
		s.logger.Warnw("msg", "resync request refused", "reason", reason, "error", err)
		switch {
		case errors.Is(err, biz.ErrRecoveryInFlight):
			return nil, kerrors.New(409, "RECOVERY_IN_FLIGHT", "a recovery is already in progress")
		case errors.Is(err, biz.ErrResyncPending):
			return nil, kerrors.New(409, "RESYNC_PENDING", "a resync request is already queued")
		case errors.Is(err, biz.ErrConsumerStopped):
			return nil, kerrors.New(409, "CONSUMER_STOPPED", "the update consumer is not running")
		default:
			return nil, kerrors.New(500, "RESYNC_FAILED", err.Error())
		}
	}

	return &ResyncResponse{Accepted: true, Reason: reason}, nil
}

// ListTools returns every registered tool.
func (s *SyncService) ListTools(ctx context.Context) (*ListToolsResponse, error) {
	s.logger.Debugw("msg", "ListTools called")

	tools, err := s.registry.ListTools(ctx)
	if err != nil {
		s.logger.Errorw("msg", "failed to list tools", "error", err)
		return nil, kerrors.New(500, "LIST_TOOLS_FAILED", "failed to list tools")
	}

	total, err := s.registry.CountTools(ctx)
	if err != nil {
		// The list itself succeeded, fall back to its length
		total = int64(len(tools))
	}

	resp := &ListToolsResponse{
		Tools: make([]ToolView, 0, len(tools)),
		Total: total,
	}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, toToolView(t))
	}
	return resp, nil
}

// GetTool returns one registered tool by name.
func (s *SyncService) GetTool(ctx context.Context, name string) (*ToolView, error) {
	s.logger.Debugw("msg", "GetTool called", "name", name)

	if !model.ToolNamePattern.MatchString(name) {
		return nil, kerrors.New(400, "INVALID_TOOL_NAME", "tool name must match "+model.ToolNamePattern.String())
	}

	tool, err := s.registry.GetTool(ctx, name)
	if err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return nil, kerrors.New(404, "TOOL_NOT_FOUND", "tool not found: "+name)
		}
		s.logger.Errorw("msg", "failed to get tool", "name", name, "error", err)
		return nil, kerrors.New(500, "GET_TOOL_FAILED", "failed to get tool")
	}

	view := toToolView(tool)
	return &view, nil
}

// toToolView converts the storage entity to its wire view.
func toToolView(t *data.Tool) ToolView {
	view := ToolView{
		Name:         t.Name,
		ProviderName: t.ProviderName,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.Metadata != nil && *t.Metadata != "" {
		view.Metadata = json.RawMessage(*t.Metadata)
	}
	return view
}
