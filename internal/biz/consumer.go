package biz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ToolSync/internal/conf"
	"ToolSync/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Consumer defaults, applied when the configuration leaves a field unset.
const (
	defaultQueueKey         = "toolsync:updates"
	defaultPollTimeout      = 2 * time.Second
	defaultStopGrace        = 10 * time.Second
	defaultIdleLogEvery     = 100
	defaultPollErrorInitial = time.Second
	defaultPollErrorMax     = 30 * time.Second
	defaultDedupeSize       = 2048
	defaultDedupeTTL        = time.Hour

	// pauseRecheckInterval is how often the loop re-checks the state
	// while paused. Recoveries are expected to be short-lived.
	pauseRecheckInterval = 100 * time.Millisecond

	// maxLoggedPayload bounds how much of a malformed payload lands in
	// the log.
	maxLoggedPayload = 200
)

// Lifecycle errors surfaced to the operator endpoints.
var (
	ErrConsumerStopped  = errors.New("consumer is not running")
	ErrRecoveryInFlight = errors.New("a recovery is already in flight")
	ErrResyncPending    = errors.New("a resync request is already pending")
)

// recoveryRequest carries an operator-requested resync into the worker
// loop so it serializes with automatic triggers.
type recoveryRequest struct {
	trigger model.FailureKind
	reason  string
}

// UpdateQueueConsumer owns the background worker that drains the shared
// update queue and applies change messages to the tool registry. It
// implements kratos transport.Server so the application manages its
// lifecycle alongside the HTTP server.
//
// Lifecycle: Stopped -> Running via Start (idempotent), Running ->
// Paused only while a recovery is in flight, any -> Stopped via Stop
// with a bounded grace period. Exactly one worker goroutine runs per
// consumer; it is the only writer of the failure counters.
type UpdateQueueConsumer struct {
	queue     QueueRepo
	registry  *RegistryUsecase
	validator *MessageValidator
	tracker   *FailureTracker
	health    *HealthMetrics
	notifier  EventNotifier
	auditor   SyncAuditor
	store     StoreMonitor
	logger    *log.Helper

	enabled      bool
	queueKey     string
	pollTimeout  time.Duration
	stopGrace    time.Duration
	idleLogEvery int32

	backoffInitial time.Duration
	backoffMax     time.Duration

	// dedupe remembers recently applied message IDs; nil disables it.
	dedupe *expirable.LRU[string, struct{}]

	state      atomic.Int32
	stopping   atomic.Bool
	recoveryCh chan recoveryRequest

	// lifecycleMu serializes Start and Stop against each other.
	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

var _ transport.Server = (*UpdateQueueConsumer)(nil)

// NewUpdateQueueConsumer creates the consumer. It does not start the
// worker; the application calls Start.
func NewUpdateQueueConsumer(
	queue QueueRepo,
	registry *RegistryUsecase,
	validator *MessageValidator,
	tracker *FailureTracker,
	health *HealthMetrics,
	notifier EventNotifier,
	auditor SyncAuditor,
	store StoreMonitor,
	c *conf.Sync,
	logger log.Logger,
) *UpdateQueueConsumer {
	uc := &UpdateQueueConsumer{
		queue:          queue,
		registry:       registry,
		validator:      validator,
		tracker:        tracker,
		health:         health,
		notifier:       notifier,
		auditor:        auditor,
		store:          store,
		logger:         log.NewHelper(logger),
		enabled:        true,
		queueKey:       defaultQueueKey,
		pollTimeout:    defaultPollTimeout,
		stopGrace:      defaultStopGrace,
		idleLogEvery:   defaultIdleLogEvery,
		backoffInitial: defaultPollErrorInitial,
		backoffMax:     defaultPollErrorMax,
		recoveryCh:     make(chan recoveryRequest, 1),
	}
	uc.state.Store(int32(model.ConsumerStopped))

	dedupeSize := defaultDedupeSize
	dedupeTTL := defaultDedupeTTL
	if c != nil {
		uc.enabled = c.Enabled
		if c.QueueKey != "" {
			uc.queueKey = c.QueueKey
		}
		if d := c.PollTimeout.AsDuration(); d > 0 {
			uc.pollTimeout = d
		}
		if d := c.StopGrace.AsDuration(); d > 0 {
			uc.stopGrace = d
		}
		if c.IdleLogEvery > 0 {
			uc.idleLogEvery = c.IdleLogEvery
		}
		if c.Backoff != nil {
			if d := c.Backoff.PollErrorInitial.AsDuration(); d > 0 {
				uc.backoffInitial = d
			}
			if d := c.Backoff.PollErrorMax.AsDuration(); d > 0 {
				uc.backoffMax = d
			}
		}
		if c.Dedupe != nil {
			// A negative size disables the dedupe cache entirely.
			if c.Dedupe.Size > 0 {
				dedupeSize = int(c.Dedupe.Size)
			} else if c.Dedupe.Size < 0 {
				dedupeSize = 0
			}
			if d := c.Dedupe.Ttl.AsDuration(); d > 0 {
				dedupeTTL = d
			}
		}
	}
	if dedupeSize > 0 {
		uc.dedupe = expirable.NewLRU[string, struct{}](dedupeSize, nil, dedupeTTL)
	}

	return uc
}

// State returns the current lifecycle state.
func (c *UpdateQueueConsumer) State() model.ConsumerState {
	return model.ConsumerState(c.state.Load())
}

// Start launches the worker goroutine. Calling Start on a consumer that
// is already running is a no-op.
func (c *UpdateQueueConsumer) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.enabled {
		c.logger.Infow("msg", "update queue consumer disabled by configuration")
		return nil
	}
	if !c.state.CompareAndSwap(int32(model.ConsumerStopped), int32(model.ConsumerRunning)) {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.stopping.Store(false)
	c.done = make(chan struct{})

	c.logger.Infow("msg", "update queue consumer starting",
		"queue_key", c.queueKey,
		"poll_timeout", c.pollTimeout,
		"idle_log_every", c.idleLogEvery)
	go c.run(runCtx)
	return nil
}

// Stop signals the worker and waits up to the grace period for the
// current iteration to finish, then force-cancels it. The in-flight
// message, if any, is abandoned.
func (c *UpdateQueueConsumer) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.State() == model.ConsumerStopped {
		return nil
	}

	c.stopping.Store(true)
	defer func() {
		c.cancel()
		c.state.Store(int32(model.ConsumerStopped))
		c.logger.Infow("msg", "update queue consumer stopped")
	}()

	select {
	case <-c.done:
		return nil
	case <-time.After(c.stopGrace):
	}

	c.logger.Warnw("msg", "stop grace expired, cancelling in-flight work", "grace", c.stopGrace)
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestResync queues an operator-requested full resync. The request is
// picked up at the top of the next loop iteration so it serializes with
// automatic recovery triggers.
func (c *UpdateQueueConsumer) RequestResync(reason string) error {
	switch c.State() {
	case model.ConsumerStopped:
		return ErrConsumerStopped
	case model.ConsumerPaused:
		return ErrRecoveryInFlight
	}
	select {
	case c.recoveryCh <- recoveryRequest{trigger: model.FailureManual, reason: reason}:
		return nil
	default:
		return ErrResyncPending
	}
}

// Health assembles the full health snapshot, pulling the queue depth and
// breaker state live.
func (c *UpdateQueueConsumer) Health(ctx context.Context) model.HealthSnapshot {
	depth := c.queue.QueueDepth(ctx, c.queueKey)
	return c.health.Snapshot(time.Now(), c.State(), c.store.BreakerSnapshot(), depth)
}

// BreakerSnapshot exposes the store breaker state for the status endpoint.
func (c *UpdateQueueConsumer) BreakerSnapshot() model.BreakerSnapshot {
	return c.store.BreakerSnapshot()
}

// FailureCounts exposes the failure tracker state for the status endpoint.
func (c *UpdateQueueConsumer) FailureCounts() model.FailureCounts {
	return c.tracker.Snapshot(time.Now())
}

// QueueDepth reports the current queue length, -1 when unavailable.
func (c *UpdateQueueConsumer) QueueDepth(ctx context.Context) int64 {
	return c.queue.QueueDepth(ctx, c.queueKey)
}

// run is the worker loop. It exits only when Stop signals it or its
// context is cancelled.
func (c *UpdateQueueConsumer) run(ctx context.Context) {
	defer close(c.done)
	defer c.logger.Infow("msg", "update queue consumer worker exited")

	var idlePolls int32
	pollFailures := 0

	for {
		if c.stopping.Load() || ctx.Err() != nil {
			return
		}

		// Nothing new is read while a recovery is in flight
		if c.State() == model.ConsumerPaused {
			c.sleep(ctx, pauseRecheckInterval)
			continue
		}

		// Operator-requested resyncs enter the same path as automatic ones
		select {
		case req := <-c.recoveryCh:
			c.runRecovery(ctx, req.trigger, req.reason)
			continue
		default:
		}

		payload, err := c.queue.PopUpdate(ctx, c.queueKey, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.health.RecordStoreError()
			pollFailures++
			delay := c.pollErrorDelay(pollFailures)
			c.logger.Warnw("msg", "queue poll failed, backing off",
				"queue_key", c.queueKey,
				"consecutive_errors", pollFailures,
				"delay", delay,
				"error", err)
			c.sleep(ctx, delay)
			continue
		}
		// Any successful poll resets the loop backoff, empty polls included
		pollFailures = 0

		if payload == "" {
			idlePolls++
			if c.idleLogEvery > 0 && idlePolls%c.idleLogEvery == 0 {
				c.logger.Debugw("msg", "queue idle", "queue_key", c.queueKey, "empty_polls", idlePolls)
			}
			continue
		}
		idlePolls = 0

		c.processMessage(ctx, payload)
	}
}

// processMessage runs one popped payload through the decode, validate,
// dedupe and apply stages. Every outcome lands in HealthMetrics.
func (c *UpdateQueueConsumer) processMessage(ctx context.Context, payload string) {
	c.health.RecordMessageReceived()

	msg, err := DecodeChangeMessage(payload)
	if err != nil {
		c.health.RecordDeserializationReject()
		c.tracker.RecordDeserializationFailure()
		c.auditor.LogMessageRejected(ctx, "", "", err.Error())
		c.logger.Warnw("msg", "dropping malformed message",
			"error", err,
			"payload_prefix", truncatePayload(payload))
		if c.tracker.ShouldTriggerRecovery(model.FailureDeserialization) {
			c.runRecovery(ctx, model.FailureDeserialization, "consecutive malformed messages crossed threshold")
		}
		return
	}
	c.tracker.RecordDeserializationSuccess()

	// Only IDs that reached the apply stage are ever cached, so a hit
	// means this exact message was already applied within the TTL.
	if c.dedupe != nil {
		if _, seen := c.dedupe.Get(msg.ID); seen {
			c.health.RecordDuplicateDropped()
			c.logger.Debugw("msg", "dropping duplicate message",
				"message_id", msg.ID,
				"source", msg.Source)
			return
		}
	}

	now := time.Now()
	if ok, reason := c.validator.Validate(msg, now); !ok {
		c.health.RecordValidationReject()
		c.tracker.RecordValidationFailure(now)
		c.auditor.LogMessageRejected(ctx, msg.ID, msg.Source, reason)
		c.logger.Warnw("msg", "dropping invalid message",
			"message_id", msg.ID,
			"source", msg.Source,
			"reason", reason)
		if c.tracker.ShouldTriggerRecovery(model.FailureValidation) {
			c.runRecovery(ctx, model.FailureValidation, "validation failures crossed threshold within window")
		}
		return
	}

	if c.dedupe != nil {
		c.dedupe.Add(msg.ID, struct{}{})
	}

	start := time.Now()
	result := c.registry.ApplyChanges(ctx, msg)
	elapsed := time.Since(start)

	if result.Failed == 0 {
		c.health.RecordMessageSucceeded(elapsed)
		c.tracker.RecordProcessingSuccess()
		c.logger.Infow("msg", "applied change message",
			"message_id", msg.ID,
			"source", msg.Source,
			"added", len(msg.AddedTools),
			"removed", len(msg.RemovedTools),
			"elapsed", elapsed)
		return
	}

	c.health.RecordMessageFailed(elapsed)
	c.tracker.RecordProcessingFailure()
	c.logger.Errorw("msg", "change message failed",
		"message_id", msg.ID,
		"source", msg.Source,
		"attempted", result.Attempted,
		"failed", result.Failed,
		"critical", result.Critical,
		"elapsed", elapsed)

	kind := model.FailureProcessing
	reason := "consecutive processing failures crossed threshold"
	if result.Critical {
		c.tracker.RecordCriticalStoreFailure()
		kind = model.FailureCritical
		reason = "registry connection lost while applying " + msg.ID
	}
	if c.tracker.ShouldTriggerRecovery(kind) {
		c.runRecovery(ctx, kind, reason)
	}
}

// runRecovery pauses the loop, runs a full resync synchronously and
// resumes. Blocking the worker is intentional: no new messages are
// consumed while the registry is being rebuilt. A trigger that arrives
// while a recovery is already in flight is dropped.
func (c *UpdateQueueConsumer) runRecovery(ctx context.Context, trigger model.FailureKind, reason string) {
	if !c.state.CompareAndSwap(int32(model.ConsumerRunning), int32(model.ConsumerPaused)) {
		c.logger.Warnw("msg", "recovery trigger ignored",
			"trigger", string(trigger),
			"state", c.State().String())
		return
	}
	defer c.state.CompareAndSwap(int32(model.ConsumerPaused), int32(model.ConsumerRunning))

	c.health.RecordRecoveryTriggered()
	c.notifier.RecoveryStarted(model.RecoveryStartedEvent{Trigger: trigger, Reason: reason})

	runID := uuid.NewString()
	c.logger.Warnw("msg", "recovery started",
		"run_id", runID,
		"trigger", string(trigger),
		"reason", reason)

	start := time.Now()
	result, err := c.registry.TriggerFullResync(ctx, runID, reason)
	elapsed := time.Since(start)
	success := err == nil

	c.health.RecordRecoveryFinished(success, elapsed)
	c.notifier.RecoveryFinished(model.RecoveryFinishedEvent{
		RunID:         runID,
		Success:       success,
		InventorySize: result.InventorySize,
		Duration:      elapsed,
	})
	// Counters reset regardless of outcome so a failed resync cannot
	// immediately re-trigger itself from stale counts
	c.tracker.ResetAll()

	if err != nil {
		c.logger.Errorw("msg", "recovery failed",
			"run_id", runID,
			"trigger", string(trigger),
			"elapsed", elapsed,
			"error", err)
		return
	}
	c.logger.Infow("msg", "recovery succeeded",
		"run_id", runID,
		"inventory_size", result.InventorySize,
		"added", result.Added,
		"updated", result.Updated,
		"removed", result.Removed,
		"elapsed", elapsed)
}

// pollErrorDelay computes the loop-level backoff after consecutive poll
// failures: initial * 2^(n-1), capped.
func (c *UpdateQueueConsumer) pollErrorDelay(consecutive int) time.Duration {
	delay := c.backoffInitial
	for i := 1; i < consecutive; i++ {
		delay *= 2
		if delay >= c.backoffMax {
			return c.backoffMax
		}
	}
	if delay > c.backoffMax {
		return c.backoffMax
	}
	return delay
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func (c *UpdateQueueConsumer) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func truncatePayload(payload string) string {
	if len(payload) <= maxLoggedPayload {
		return payload
	}
	return payload[:maxLoggedPayload] + "..."
}
