package biz

import (
	"context"

	"ToolSync/internal/data"
	"ToolSync/internal/model"
)

// RegistryRepo defines persistence for the tool registry itself.
// Implementation is in data layer (data.ToolRegistryRepo).
//
// ApplyAdd and ApplyRemove are idempotent: replaying an add updates the
// existing row, removing an absent tool is a no-op.
type RegistryRepo interface {
	// ApplyAdd registers a tool or re-binds an existing one to a provider.
	ApplyAdd(ctx context.Context, toolName, providerName string) error

	// ApplyRemove deregisters a tool by name.
	ApplyRemove(ctx context.Context, toolName string) error

	// ReplaceInventory reconciles the registry against a full inventory
	// snapshot and reports how many rows were added, updated and removed.
	ReplaceInventory(ctx context.Context, entries []model.InventoryEntry) (added, updated, removed int, err error)

	// ListTools returns all registered tools ordered by name.
	ListTools(ctx context.Context) ([]*data.Tool, error)

	// CountTools returns the registry size.
	CountTools(ctx context.Context) (int64, error)

	// GetTool returns one tool by name, a not-found error when absent.
	GetTool(ctx context.Context, toolName string) (*data.Tool, error)
}
