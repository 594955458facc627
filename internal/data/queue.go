package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ToolSync/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// UpdateQueueRepo reads and writes the shared update queue and the agent's
// inventory snapshot. All access goes through the resilient store; this repo
// never touches the Redis client directly.
type UpdateQueueRepo struct {
	store  *ResilientStore
	logger *log.Helper
}

// NewUpdateQueueRepo creates a new update queue repository.
func NewUpdateQueueRepo(store *ResilientStore, logger log.Logger) *UpdateQueueRepo {
	return &UpdateQueueRepo{
		store:  store,
		logger: log.NewHelper(logger),
	}
}

// PopUpdate pops the oldest message off the tail of the queue, blocking up
// to timeout. An empty queue yields ("", nil). Errors surface to the caller
// so the poll loop can apply its own backoff.
func (r *UpdateQueueRepo) PopUpdate(ctx context.Context, queueKey string, timeout time.Duration) (string, error) {
	return r.store.PopRight(ctx, queueKey, timeout)
}

// PushUpdate pushes a raw message payload onto the head of the queue and
// returns the new queue length. The external agent is the normal producer;
// this side only pushes from test tooling.
func (r *UpdateQueueRepo) PushUpdate(ctx context.Context, queueKey, payload string) (int64, error) {
	length, err := r.store.PushLeft(ctx, queueKey, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to push update: %w", err)
	}
	return length, nil
}

// QueueDepth reports the current queue length, falling back to -1 when the
// store is unavailable. Status reads prefer a degraded answer over an error.
func (r *UpdateQueueRepo) QueueDepth(ctx context.Context, queueKey string) int64 {
	depth, err := r.store.ListLenWithFallback(ctx, queueKey, func(context.Context) (int64, error) {
		return -1, nil
	})
	if err != nil {
		r.logger.Warnw("msg", "failed to read queue depth", "queue_key", queueKey, "error", err)
		return -1
	}
	return depth
}

// ReadInventory reads and parses the agent-maintained tool inventory
// snapshot. A missing key yields an empty inventory. No fallback: a resync
// must see the real snapshot or fail.
func (r *UpdateQueueRepo) ReadInventory(ctx context.Context, inventoryKey string) ([]model.InventoryEntry, error) {
	raw, err := r.store.Get(ctx, inventoryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	if raw == "" {
		return []model.InventoryEntry{}, nil
	}

	var entries []model.InventoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	return entries, nil
}
