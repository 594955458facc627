package biz

import (
	"context"
	"fmt"
	"time"

	"ToolSync/internal/conf"
	"ToolSync/internal/data"
	"ToolSync/internal/model"
	pkgerrors "ToolSync/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// defaultInventoryKey is the store key holding the agent's full
// inventory snapshot.
const defaultInventoryKey = "toolsync:inventory"

// ApplyResult summarizes applying one change message to the registry.
// Each add and remove is attempted independently; a failure never aborts
// the rest of the batch.
type ApplyResult struct {
	// Attempted is the number of registry calls made.
	Attempted int
	// Failed is how many of those calls errored.
	Failed int
	// Critical is set when at least one failure was a lost registry
	// connection, which warrants an immediate recovery.
	Critical bool
	// Errors holds the individual failures for logging.
	Errors []error
}

// RegistryUsecase applies change messages and inventory snapshots to the
// tool registry. It is the only component that mutates the registry.
type RegistryUsecase struct {
	repo         RegistryRepo
	queue        QueueRepo
	auditor      SyncAuditor
	logger       *log.Helper
	inventoryKey string
}

// NewRegistryUsecase creates the registry usecase.
func NewRegistryUsecase(repo RegistryRepo, queue QueueRepo, auditor SyncAuditor, c *conf.Sync, logger log.Logger) *RegistryUsecase {
	uc := &RegistryUsecase{
		repo:         repo,
		queue:        queue,
		auditor:      auditor,
		logger:       log.NewHelper(logger),
		inventoryKey: defaultInventoryKey,
	}
	if c != nil && c.InventoryKey != "" {
		uc.inventoryKey = c.InventoryKey
	}
	return uc
}

// ApplyChanges applies one validated change message: one registry call
// per added tool and one per removed tool. Failures are collected, never
// retried here, and never abort the remaining calls.
func (uc *RegistryUsecase) ApplyChanges(ctx context.Context, msg *model.ChangeMessage) ApplyResult {
	var result ApplyResult

	for _, ref := range msg.AddedTools {
		result.Attempted++
		if err := uc.repo.ApplyAdd(ctx, ref.Name, ref.ProviderName); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("add %s: %w", ref.Name, err))
			if pkgerrors.IsConnectionDBError(err) {
				result.Critical = true
			}
			uc.logger.Errorw("msg", "failed to add tool",
				"tool_name", ref.Name,
				"provider_name", ref.ProviderName,
				"message_id", msg.ID,
				"error", err)
			continue
		}
		uc.auditor.LogToolAdded(ctx, ref.Name, ref.ProviderName, msg.Source, msg.ID)
	}

	for _, ref := range msg.RemovedTools {
		result.Attempted++
		if err := uc.repo.ApplyRemove(ctx, ref.Name); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("remove %s: %w", ref.Name, err))
			if pkgerrors.IsConnectionDBError(err) {
				result.Critical = true
			}
			uc.logger.Errorw("msg", "failed to remove tool",
				"tool_name", ref.Name,
				"message_id", msg.ID,
				"error", err)
			continue
		}
		uc.auditor.LogToolRemoved(ctx, ref.Name, msg.Source, msg.ID)
	}

	return result
}

// TriggerFullResync reads the agent's inventory snapshot and reconciles
// the registry against it. An unreadable or empty snapshot fails the
// resync: wiping the registry because the snapshot key is missing would
// turn a store hiccup into data loss.
func (uc *RegistryUsecase) TriggerFullResync(ctx context.Context, runID, reason string) (res model.ResyncResult, err error) {
	res = model.ResyncResult{
		RunID:     runID,
		Reason:    reason,
		StartedAt: time.Now(),
	}
	defer func() {
		res.Duration = time.Since(res.StartedAt)
	}()

	entries, err := uc.queue.ReadInventory(ctx, uc.inventoryKey)
	if err != nil {
		return res, fmt.Errorf("resync %s: %w", runID, err)
	}
	res.InventorySize = len(entries)
	if len(entries) == 0 {
		return res, fmt.Errorf("resync %s: inventory snapshot at %s is empty, refusing to clear the registry", runID, uc.inventoryKey)
	}

	added, updated, removed, err := uc.repo.ReplaceInventory(ctx, entries)
	if err != nil {
		return res, fmt.Errorf("resync %s: %w", runID, err)
	}
	res.Added = added
	res.Updated = updated
	res.Removed = removed

	uc.logger.Infow("msg", "full resync reconciled registry",
		"run_id", runID,
		"reason", reason,
		"inventory_size", res.InventorySize,
		"added", added,
		"updated", updated,
		"removed", removed,
		"elapsed", time.Since(res.StartedAt))
	return res, nil
}

// ListTools returns all registered tools.
func (uc *RegistryUsecase) ListTools(ctx context.Context) ([]*data.Tool, error) {
	return uc.repo.ListTools(ctx)
}

// CountTools returns the registry size.
func (uc *RegistryUsecase) CountTools(ctx context.Context) (int64, error) {
	return uc.repo.CountTools(ctx)
}

// GetTool returns one tool by name.
func (uc *RegistryUsecase) GetTool(ctx context.Context, toolName string) (*data.Tool, error) {
	return uc.repo.GetTool(ctx, toolName)
}
