package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ToolSync/internal/model"
	pkgerrors "ToolSync/pkg/errors"
	"ToolSync/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tool is the GORM model for the tools table, the registry's system of
// record. Rows are keyed by tool name; replaying an add for an existing
// name refreshes the provider instead of creating a second row.
type Tool struct {
	ID           int64     `gorm:"primaryKey;column:id"`
	Name         string    `gorm:"column:name;size:255;not null;uniqueIndex:uk_tools_name"`
	ProviderName string    `gorm:"column:provider_name;size:255;not null"`
	Metadata     *string   `gorm:"column:metadata;type:json"` // JSON string (pointer for NULL support)
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Tool) TableName() string {
	return "tools"
}

// ToolRegistryRepo implements biz.ToolRegistryRepo interface.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
type ToolRegistryRepo struct {
	data   *Data
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewToolRegistryRepo creates a new tool registry repository.
func NewToolRegistryRepo(data *Data, db *gorm.DB, logger log.Logger) *ToolRegistryRepo {
	return &ToolRegistryRepo{
		data:   data,
		db:     db,
		cache:  data.GetCache(),
		logger: log.NewHelper(logger),
	}
}

// ApplyAdd registers a tool or refreshes its provider if the name is
// already present. Replays of the same message are safe: the unique name
// index plus the ON CONFLICT update make the write idempotent. Metadata
// attached by a previous inventory sync is left untouched.
func (r *ToolRegistryRepo) ApplyAdd(ctx context.Context, toolName, providerName string) error {
	tool := &Tool{
		Name:         toolName,
		ProviderName: providerName,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"provider_name": providerName,
			"updated_at":    time.Now(),
		}),
	}).Create(tool).Error
	if err != nil {
		// Classify the database error for better error handling
		dbErr := pkgerrors.ClassifyDBError(err)

		switch dbErr.Type {
		case pkgerrors.ErrorTypeConnectionError:
			r.logger.Errorw("msg", "database connection error",
				"operation", "apply_add",
				"tool", toolName,
				"error", dbErr.Error())
		default:
			r.logger.Errorw("msg", "failed to register tool",
				"tool", toolName,
				"provider", providerName,
				"error", dbErr.Error())
		}

		return dbErr
	}

	r.invalidateToolCaches(ctx, toolName)
	r.logger.Infow("msg", "tool registered", "tool", toolName, "provider", providerName)
	return nil
}

// ApplyRemove deletes a tool by name. Removing a name that is not
// registered is a no-op, so replayed removals succeed.
func (r *ToolRegistryRepo) ApplyRemove(ctx context.Context, toolName string) error {
	res := r.db.WithContext(ctx).Where("name = ?", toolName).Delete(&Tool{})
	if res.Error != nil {
		dbErr := pkgerrors.ClassifyDBError(res.Error)

		switch dbErr.Type {
		case pkgerrors.ErrorTypeConnectionError:
			r.logger.Errorw("msg", "database connection error",
				"operation", "apply_remove",
				"tool", toolName,
				"error", dbErr.Error())
		default:
			r.logger.Errorw("msg", "failed to remove tool",
				"tool", toolName,
				"error", dbErr.Error())
		}

		return dbErr
	}

	r.invalidateToolCaches(ctx, toolName)

	if res.RowsAffected == 0 {
		r.logger.Debugw("msg", "tool already absent", "tool", toolName)
		return nil
	}

	r.logger.Infow("msg", "tool removed", "tool", toolName)
	return nil
}

// ReplaceInventory reconciles the tools table against a full inventory
// snapshot in one transaction. Snapshot entries win: missing tools are
// created, drifted providers and metadata are rewritten, and tools the
// snapshot no longer mentions are deleted. Entries with malformed names
// or a blank provider are skipped with a warning rather than failing
// the whole resync.
func (r *ToolRegistryRepo) ReplaceInventory(ctx context.Context, entries []model.InventoryEntry) (added, updated, removed int, err error) {
	type normalizedEntry struct {
		name     string
		provider string
		metadata *string
	}

	valid := make([]normalizedEntry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !model.ToolNamePattern.MatchString(entry.Name) || entry.ProviderName == "" {
			r.logger.Warnw("msg", "skipping invalid inventory entry",
				"tool", entry.Name,
				"provider", entry.ProviderName)
			continue
		}
		if seen[entry.Name] {
			r.logger.Warnw("msg", "skipping duplicate inventory entry", "tool", entry.Name)
			continue
		}
		seen[entry.Name] = true
		valid = append(valid, normalizedEntry{
			name:     entry.Name,
			provider: entry.ProviderName,
			metadata: r.normalizeMetadata(entry.Name, entry.Metadata),
		})
	}

	var touched []string

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Tool
		if err := tx.Find(&existing).Error; err != nil {
			r.logger.Errorf("failed to load current tools: %v", err)
			return pkgerrors.ClassifyDBError(err)
		}

		current := make(map[string]*Tool, len(existing))
		for i := range existing {
			current[existing[i].Name] = &existing[i]
		}

		for _, entry := range valid {
			cur, ok := current[entry.name]
			if !ok {
				tool := &Tool{
					Name:         entry.name,
					ProviderName: entry.provider,
					Metadata:     entry.metadata,
				}
				if err := tx.Create(tool).Error; err != nil {
					r.logger.Errorf("failed to create tool %s: %v", entry.name, err)
					return pkgerrors.ClassifyDBError(err)
				}
				added++
				touched = append(touched, entry.name)
				continue
			}

			if cur.ProviderName == entry.provider && metadataEqual(cur.Metadata, entry.metadata) {
				continue
			}

			updates := map[string]interface{}{
				"provider_name": entry.provider,
				"metadata":      entry.metadata,
				"updated_at":    time.Now(),
			}
			if err := tx.Model(&Tool{}).Where("name = ?", entry.name).Updates(updates).Error; err != nil {
				r.logger.Errorf("failed to update tool %s: %v", entry.name, err)
				return pkgerrors.ClassifyDBError(err)
			}
			updated++
			touched = append(touched, entry.name)
		}

		var stale []string
		for name := range current {
			if !seen[name] {
				stale = append(stale, name)
			}
		}
		if len(stale) > 0 {
			if err := tx.Where("name IN ?", stale).Delete(&Tool{}).Error; err != nil {
				r.logger.Errorf("failed to delete stale tools: %v", err)
				return pkgerrors.ClassifyDBError(err)
			}
			removed = len(stale)
			touched = append(touched, stale...)
		}

		return nil
	})
	if txErr != nil {
		return 0, 0, 0, txErr
	}

	for _, name := range touched {
		r.invalidateToolCaches(ctx, name)
	}
	if len(touched) == 0 {
		// Listing caches still expire on their own; nothing changed.
		r.logger.Debugw("msg", "inventory already in sync", "tools", len(valid))
	}

	r.logger.Infow("msg", "inventory reconciled",
		"tools", len(valid),
		"added", added,
		"updated", updated,
		"removed", removed)
	return added, updated, removed, nil
}

// normalizeMetadata parses and validates an inventory entry's metadata
// blob. Malformed or invalid metadata degrades to NULL so one bad blob
// cannot block a resync.
func (r *ToolRegistryRepo) normalizeMetadata(toolName string, raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}

	meta, err := metadata.Parse(string(raw))
	if err != nil {
		r.logger.Warnw("msg", "dropping malformed tool metadata", "tool", toolName, "error", err)
		return nil
	}
	if err := meta.Validate(); err != nil {
		r.logger.Warnw("msg", "dropping invalid tool metadata", "tool", toolName, "error", err)
		return nil
	}
	if meta.IsEmpty() {
		return nil
	}

	normalized := meta.String()
	return &normalized
}

// metadataEqual compares two nullable metadata strings.
func metadataEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ListTools retrieves all registered tools ordered by name, with caching.
// Cache key: "tools:list", TTL: 30 seconds
func (r *ToolRegistryRepo) ListTools(ctx context.Context) ([]*Tool, error) {
	// Try to get from cache first
	var cached []*Tool
	if err := r.cache.Get(ctx, CacheKeyToolList, &cached); err == nil {
		r.logger.Debugw("msg", "tool list cache hit", "count", len(cached))
		return cached, nil
	}

	// Cache miss, query from database
	var tools []*Tool
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&tools).Error; err != nil {
		r.logger.Errorf("failed to list tools: %v", err)
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	if err := r.cache.Set(ctx, CacheKeyToolList, tools, TTLToolList); err != nil {
		r.logger.Warnw("msg", "failed to cache tool list", "error", err)
		// Cache failure doesn't affect the operation
	}

	return tools, nil
}

// CountTools returns the number of registered tools, with caching.
// Cache key: "tools:count", TTL: 30 seconds
func (r *ToolRegistryRepo) CountTools(ctx context.Context) (int64, error) {
	var cached int64
	if err := r.cache.Get(ctx, CacheKeyToolCount, &cached); err == nil {
		return cached, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&Tool{}).Count(&count).Error; err != nil {
		r.logger.Errorf("failed to count tools: %v", err)
		return 0, fmt.Errorf("failed to count tools: %w", err)
	}

	if err := r.cache.Set(ctx, CacheKeyToolCount, count, TTLToolCount); err != nil {
		r.logger.Warnw("msg", "failed to cache tool count", "error", err)
	}

	return count, nil
}

// GetTool retrieves a single tool by name, with caching.
// Cache key: "tool:{name}", TTL: 5 minutes
func (r *ToolRegistryRepo) GetTool(ctx context.Context, toolName string) (*Tool, error) {
	cacheKey := BuildCacheKey(CacheKeyTool, toolName)

	var cachedTool Tool
	if err := r.cache.Get(ctx, cacheKey, &cachedTool); err == nil {
		r.logger.Debugw("msg", "tool cache hit", "tool", toolName)
		return &cachedTool, nil
	}

	var tool Tool
	if err := r.db.WithContext(ctx).Where("name = ?", toolName).First(&tool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ClassifyDBError(err)
		}
		r.logger.Errorf("failed to get tool: %v", err)
		return nil, fmt.Errorf("failed to get tool: %w", err)
	}

	if err := r.cache.Set(ctx, cacheKey, &tool, TTLTool); err != nil {
		r.logger.Warnw("msg", "failed to cache tool", "tool", toolName, "error", err)
	}

	return &tool, nil
}

// invalidateToolCaches drops the caches a registry write makes stale.
// Invalidation failures are logged and swallowed: the TTLs bound how
// long a stale read can live.
func (r *ToolRegistryRepo) invalidateToolCaches(ctx context.Context, toolName string) {
	keys := []string{
		BuildCacheKey(CacheKeyTool, toolName),
		CacheKeyToolList,
		CacheKeyToolCount,
	}
	for _, key := range keys {
		if err := r.cache.Delete(ctx, key); err != nil {
			r.logger.Warnw("msg", "failed to invalidate cache", "key", key, "error", err)
		}
	}
}
