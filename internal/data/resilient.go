package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ToolSync/internal/conf"
	"ToolSync/internal/model"
	pkgerrors "ToolSync/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Default retry and breaker parameters, applied when the configuration
// leaves a field unset.
const (
	defaultMaxRetryAttempts = 3
	defaultRetryInitial     = 200 * time.Millisecond
	defaultRetryMax         = 5 * time.Second
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 30 * time.Second
	defaultOpTimeout        = 3 * time.Second
)

var errRedisClientNil = errors.New("redis client is nil")

// ResilientStore is the sole path to the shared store. Every operation runs
// through bounded retry with exponential backoff and a circuit breaker, so a
// store outage degrades into fast failures and fallbacks instead of a stall.
//
// Breaker rules:
//   - Closed: operations proceed normally.
//   - Open: operations fail fast (no network attempt) until recoveryTimeout
//     has elapsed since the last failure, then a single trial is allowed.
//   - HalfOpen: exactly one in-flight probe; its success closes the breaker,
//     its failure reopens it.
//
// Only connection and timeout failures are retried and counted against the
// breaker. Errors the store itself answers with (wrong type, bad command)
// are returned immediately as data-access errors.
type ResilientStore struct {
	rdb      *redis.Client
	notifier *EventNotifierImpl
	logger   *log.Helper

	maxAttempts      int
	initialDelay     time.Duration
	maxDelay         time.Duration
	failureThreshold int32
	recoveryTimeout  time.Duration
	opTimeout        time.Duration

	// Breaker state, guarded by mu. The worker loop and HTTP status reads
	// both touch it.
	mu                  sync.Mutex
	state               model.BreakerState
	consecutiveFailures int32
	lastFailureAt       time.Time
	openedAt            time.Time
	probing             bool

	// Event counters for the status endpoint.
	openedCount   atomic.Int64
	retryCount    atomic.Int64
	fallbackCount atomic.Int64
	failFastCount atomic.Int64
}

// NewResilientStore creates the circuit-breaker-protected store wrapper.
func NewResilientStore(rdb *redis.Client, c *conf.Sync, notifier *EventNotifierImpl, logger log.Logger) *ResilientStore {
	s := &ResilientStore{
		rdb:              rdb,
		notifier:         notifier,
		logger:           log.NewHelper(logger),
		maxAttempts:      defaultMaxRetryAttempts,
		initialDelay:     defaultRetryInitial,
		maxDelay:         defaultRetryMax,
		failureThreshold: defaultFailureThreshold,
		recoveryTimeout:  defaultRecoveryTimeout,
		opTimeout:        defaultOpTimeout,
		state:            model.BreakerClosed,
	}

	if c != nil && c.Store != nil {
		if c.Store.MaxRetryAttempts > 0 {
			s.maxAttempts = int(c.Store.MaxRetryAttempts)
		}
		if d := c.Store.RetryInitialDelay.AsDuration(); d > 0 {
			s.initialDelay = d
		}
		if d := c.Store.RetryMaxDelay.AsDuration(); d > 0 {
			s.maxDelay = d
		}
		if c.Store.FailureThreshold > 0 {
			s.failureThreshold = c.Store.FailureThreshold
		}
		if d := c.Store.RecoveryTimeout.AsDuration(); d > 0 {
			s.recoveryTimeout = d
		}
		if d := c.Store.OpTimeout.AsDuration(); d > 0 {
			s.opTimeout = d
		}
	}

	return s
}

// Get retrieves the value at key. A missing key yields ("", nil); stored
// payloads are JSON and never legitimately empty.
func (s *ResilientStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.execute(ctx, "get", s.opTimeout, func(ctx context.Context) error {
		val, err := s.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			value = ""
			return nil
		}
		if err != nil {
			return err
		}
		value = val
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores value at key with the given TTL (0 = no expiry).
func (s *ResilientStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.execute(ctx, "set", s.opTimeout, func(ctx context.Context) error {
		return s.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// PushLeft pushes value onto the head of the list and returns the new length.
func (s *ResilientStore) PushLeft(ctx context.Context, key, value string) (int64, error) {
	var length int64
	err := s.execute(ctx, "push_left", s.opTimeout, func(ctx context.Context) error {
		n, err := s.rdb.LPush(ctx, key, value).Result()
		if err != nil {
			return err
		}
		length = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return length, nil
}

// PopRight pops the tail of the list. With timeout > 0 it blocks up to that
// long (BRPOP); otherwise it returns immediately (RPOP). An empty queue
// yields ("", nil). The per-attempt operation timeout is skipped for the
// blocking form because BRPOP carries its own bound.
func (s *ResilientStore) PopRight(ctx context.Context, key string, timeout time.Duration) (string, error) {
	var value string
	err := s.execute(ctx, "pop_right", 0, func(ctx context.Context) error {
		if timeout > 0 {
			res, err := s.rdb.BRPop(ctx, timeout, key).Result()
			if errors.Is(err, redis.Nil) {
				value = ""
				return nil
			}
			if err != nil {
				return err
			}
			// BRPOP returns [key, value]
			if len(res) == 2 {
				value = res[1]
			}
			return nil
		}

		val, err := s.rdb.RPop(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			value = ""
			return nil
		}
		if err != nil {
			return err
		}
		value = val
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// ListLen returns the length of the list at key.
func (s *ResilientStore) ListLen(ctx context.Context, key string) (int64, error) {
	var length int64
	err := s.execute(ctx, "list_len", s.opTimeout, func(ctx context.Context) error {
		n, err := s.rdb.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		length = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return length, nil
}

// runFallback invokes a fallback producer, converting a panic into an
// error so a bad fallback cannot take down the caller with the store
// already unavailable.
func runFallback(fb func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fallback panicked: %v", r)
		}
	}()
	return fb()
}

// GetWithFallback is Get with a substitute producer invoked when the store
// is unavailable (breaker open or retries exhausted). Fallback panics and
// errors are swallowed and logged; the original store error is returned in
// that case.
func (s *ResilientStore) GetWithFallback(ctx context.Context, key string, fallback func(context.Context) (string, error)) (string, error) {
	value, err := s.Get(ctx, key)
	if err == nil || fallback == nil || !pkgerrors.IsStoreUnavailableError(err) {
		return value, err
	}

	s.fallbackCount.Add(1)
	var fbValue string
	fbErr := runFallback(func() (e error) {
		fbValue, e = fallback(ctx)
		return e
	})
	if fbErr != nil {
		s.logger.Warnw("msg", "fallback failed after store error", "operation", "get", "key", key, "error", fbErr)
		return "", err
	}
	return fbValue, nil
}

// SetWithFallback is Set with a substitute action invoked when the store is
// unavailable.
func (s *ResilientStore) SetWithFallback(ctx context.Context, key, value string, ttl time.Duration, fallback func(context.Context) error) error {
	err := s.Set(ctx, key, value, ttl)
	if err == nil || fallback == nil || !pkgerrors.IsStoreUnavailableError(err) {
		return err
	}

	s.fallbackCount.Add(1)
	if fbErr := runFallback(func() error { return fallback(ctx) }); fbErr != nil {
		s.logger.Warnw("msg", "fallback failed after store error", "operation", "set", "key", key, "error", fbErr)
		return err
	}
	return nil
}

// PushLeftWithFallback is PushLeft with a substitute producer for the new
// queue length.
func (s *ResilientStore) PushLeftWithFallback(ctx context.Context, key, value string, fallback func(context.Context) (int64, error)) (int64, error) {
	length, err := s.PushLeft(ctx, key, value)
	if err == nil || fallback == nil || !pkgerrors.IsStoreUnavailableError(err) {
		return length, err
	}

	s.fallbackCount.Add(1)
	var fbLength int64
	fbErr := runFallback(func() (e error) {
		fbLength, e = fallback(ctx)
		return e
	})
	if fbErr != nil {
		s.logger.Warnw("msg", "fallback failed after store error", "operation", "push_left", "key", key, "error", fbErr)
		return 0, err
	}
	return fbLength, nil
}

// PopRightWithFallback is PopRight with a substitute producer invoked when
// the store is unavailable.
func (s *ResilientStore) PopRightWithFallback(ctx context.Context, key string, timeout time.Duration, fallback func(context.Context) (string, error)) (string, error) {
	value, err := s.PopRight(ctx, key, timeout)
	if err == nil || fallback == nil || !pkgerrors.IsStoreUnavailableError(err) {
		return value, err
	}

	s.fallbackCount.Add(1)
	var fbValue string
	fbErr := runFallback(func() (e error) {
		fbValue, e = fallback(ctx)
		return e
	})
	if fbErr != nil {
		s.logger.Warnw("msg", "fallback failed after store error", "operation", "pop_right", "key", key, "error", fbErr)
		return "", err
	}
	return fbValue, nil
}

// ListLenWithFallback is ListLen with a substitute producer, used by status
// reads that prefer a degraded answer over an error.
func (s *ResilientStore) ListLenWithFallback(ctx context.Context, key string, fallback func(context.Context) (int64, error)) (int64, error) {
	length, err := s.ListLen(ctx, key)
	if err == nil || fallback == nil || !pkgerrors.IsStoreUnavailableError(err) {
		return length, err
	}

	s.fallbackCount.Add(1)
	var fbLength int64
	fbErr := runFallback(func() (e error) {
		fbLength, e = fallback(ctx)
		return e
	})
	if fbErr != nil {
		s.logger.Warnw("msg", "fallback failed after store error", "operation", "list_len", "key", key, "error", fbErr)
		return 0, err
	}
	return fbLength, nil
}

// BreakerSnapshot returns a copy of the current breaker state and counters.
func (s *ResilientStore) BreakerSnapshot() model.BreakerSnapshot {
	s.mu.Lock()
	snap := model.BreakerSnapshot{
		State:               s.state,
		ConsecutiveFailures: s.consecutiveFailures,
		LastFailureAt:       s.lastFailureAt,
	}
	s.mu.Unlock()

	snap.OpenedCount = s.openedCount.Load()
	snap.RetryCount = s.retryCount.Load()
	snap.FallbackCount = s.fallbackCount.Load()
	snap.FailFastCount = s.failFastCount.Load()
	return snap
}

// execute runs fn through the breaker and the retry loop. attemptTimeout
// bounds each individual attempt; pass 0 for operations that carry their own
// bound (blocking pop).
func (s *ResilientStore) execute(ctx context.Context, op string, attemptTimeout time.Duration, fn func(context.Context) error) error {
	if s.rdb == nil {
		return pkgerrors.NewStoreUnavailableError(op, 0, errRedisClientNil)
	}

	if !s.admit(op) {
		s.failFastCount.Add(1)
		return pkgerrors.NewCircuitOpenError(op)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, attemptTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			s.onSuccess(op)
			return nil
		}

		if errors.Is(err, context.Canceled) {
			// The caller gave up mid-operation. The store never answered,
			// so neither success nor failure is recorded.
			s.releaseProbe()
			return pkgerrors.NewStoreUnavailableError(op, attempt, err)
		}

		if !pkgerrors.IsTransientStoreError(err) {
			// The store answered; only the request itself was bad. Data
			// errors are not retried and do not count against the breaker,
			// and a responding store closes a probing breaker.
			s.onSuccess(op)
			return pkgerrors.NewDataAccessError(op, err)
		}

		lastErr = err
		if attempt == s.maxAttempts {
			break
		}

		delay := s.backoffDelay(attempt)
		s.retryCount.Add(1)
		s.logger.Debugw("msg", "retrying store operation",
			"operation", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			// Interrupted mid-retry: the operation never exhausted its
			// budget, so it does not count against the breaker.
			s.releaseProbe()
			return pkgerrors.NewStoreUnavailableError(op, attempt, lastErr)
		case <-timer.C:
		}
	}

	s.onFailure(op)
	return pkgerrors.NewStoreUnavailableError(op, s.maxAttempts, lastErr)
}

// backoffDelay returns initialDelay * 2^(attempt-1), capped at maxDelay.
func (s *ResilientStore) backoffDelay(attempt int) time.Duration {
	delay := s.initialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

// admit decides whether an operation may reach the store under the current
// breaker state. It flips Open to HalfOpen once the recovery timeout has
// elapsed, and admits exactly one probe while HalfOpen.
func (s *ResilientStore) admit(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case model.BreakerClosed:
		return true
	case model.BreakerOpen:
		if time.Since(s.lastFailureAt) < s.recoveryTimeout {
			return false
		}
		s.state = model.BreakerHalfOpen
		s.probing = true
		s.logger.Infow("msg", "circuit breaker entering half-open, probing store",
			"operation", op,
			"open_for", time.Since(s.openedAt).String())
		return true
	case model.BreakerHalfOpen:
		if s.probing {
			return false
		}
		s.probing = true
		return true
	}
	return true
}

// onSuccess resets the breaker after a store round trip completed.
func (s *ResilientStore) onSuccess(op string) {
	s.mu.Lock()
	prev := s.state
	var openFor time.Duration
	if prev != model.BreakerClosed && !s.openedAt.IsZero() {
		openFor = time.Since(s.openedAt)
	}
	s.state = model.BreakerClosed
	s.consecutiveFailures = 0
	s.probing = false
	s.mu.Unlock()

	if prev != model.BreakerClosed && s.notifier != nil {
		s.notifier.BreakerRecovered(model.BreakerRecoveredEvent{
			Operation: op,
			OpenFor:   openFor,
		})
	}
}

// onFailure counts an exhausted operation and opens the breaker when the
// threshold is reached or a half-open probe fails.
func (s *ResilientStore) onFailure(op string) {
	s.mu.Lock()
	s.consecutiveFailures++
	s.lastFailureAt = time.Now()
	s.probing = false

	opened := false
	switch s.state {
	case model.BreakerHalfOpen:
		s.state = model.BreakerOpen
		s.openedAt = time.Now()
		opened = true
	case model.BreakerClosed:
		if s.consecutiveFailures >= s.failureThreshold {
			s.state = model.BreakerOpen
			s.openedAt = time.Now()
			opened = true
		}
	case model.BreakerOpen:
		// A call admitted before the breaker opened finished late; the
		// failure timestamp refresh above is enough.
	}
	failures := s.consecutiveFailures
	lastAt := s.lastFailureAt
	s.mu.Unlock()

	if opened {
		s.openedCount.Add(1)
		if s.notifier != nil {
			s.notifier.BreakerOpened(model.BreakerOpenedEvent{
				Operation:           op,
				ConsecutiveFailures: failures,
				LastFailureAt:       lastAt,
			})
		}
	}
}

// releaseProbe clears the half-open probe claim without recording an
// outcome, used when a probe is interrupted by context cancellation.
func (s *ResilientStore) releaseProbe() {
	s.mu.Lock()
	s.probing = false
	s.mu.Unlock()
}
