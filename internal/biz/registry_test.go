package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ToolSync/internal/data"
	"ToolSync/internal/model"
	pkgerrors "ToolSync/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toolBinding records one ApplyAdd call.
type toolBinding struct {
	name     string
	provider string
}

// fakeRegistryRepo is an in-memory RegistryRepo that records every call.
// The consumer worker mutates it from its own goroutine, so all access
// is locked.
type fakeRegistryRepo struct {
	mu           sync.Mutex
	adds         []toolBinding
	removes      []string
	replaceCalls int
	lastReplace  []model.InventoryEntry

	addErr        error
	removeErr     error
	replaceErr    error
	replaceResult [3]int

	// blockReplace makes ReplaceInventory hang until ctx is cancelled,
	// for shutdown tests.
	blockReplace bool
}

func (f *fakeRegistryRepo) ApplyAdd(ctx context.Context, toolName, providerName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.adds = append(f.adds, toolBinding{name: toolName, provider: providerName})
	return nil
}

func (f *fakeRegistryRepo) ApplyRemove(ctx context.Context, toolName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removes = append(f.removes, toolName)
	return nil
}

func (f *fakeRegistryRepo) ReplaceInventory(ctx context.Context, entries []model.InventoryEntry) (int, int, int, error) {
	if f.blockReplace {
		<-ctx.Done()
		return 0, 0, 0, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	f.lastReplace = entries
	if f.replaceErr != nil {
		return 0, 0, 0, f.replaceErr
	}
	return f.replaceResult[0], f.replaceResult[1], f.replaceResult[2], nil
}

func (f *fakeRegistryRepo) ListTools(ctx context.Context) ([]*data.Tool, error) {
	return []*data.Tool{{Name: "search", ProviderName: "agent-x"}}, nil
}

func (f *fakeRegistryRepo) CountTools(ctx context.Context) (int64, error) {
	return 1, nil
}

func (f *fakeRegistryRepo) GetTool(ctx context.Context, toolName string) (*data.Tool, error) {
	return &data.Tool{Name: toolName, ProviderName: "agent-x"}, nil
}

func (f *fakeRegistryRepo) addCalls() []toolBinding {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolBinding(nil), f.adds...)
}

func (f *fakeRegistryRepo) removeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removes...)
}

func (f *fakeRegistryRepo) replaceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaceCalls
}

// auditRecord is one recorded audit call.
type auditRecord struct {
	event     string
	toolName  string
	source    string
	messageID string
	reason    string
}

// recordingAuditor is an in-memory SyncAuditor.
type recordingAuditor struct {
	mu      sync.Mutex
	records []auditRecord
}

func (r *recordingAuditor) LogToolAdded(ctx context.Context, toolName, providerName, source, messageID string) {
	r.add(auditRecord{event: model.AuditEventToolAdded, toolName: toolName, source: source, messageID: messageID})
}

func (r *recordingAuditor) LogToolRemoved(ctx context.Context, toolName, source, messageID string) {
	r.add(auditRecord{event: model.AuditEventToolRemoved, toolName: toolName, source: source, messageID: messageID})
}

func (r *recordingAuditor) LogMessageRejected(ctx context.Context, messageID, source, reason string) {
	r.add(auditRecord{event: model.AuditEventMessageRejected, messageID: messageID, source: source, reason: reason})
}

func (r *recordingAuditor) LogRecoveryStarted(ctx context.Context, trigger model.FailureKind, reason string) {
	r.add(auditRecord{event: model.AuditEventRecoveryStarted, reason: reason})
}

func (r *recordingAuditor) LogRecoveryFinished(ctx context.Context, runID string, success bool, inventorySize int, duration time.Duration) {
	r.add(auditRecord{event: model.AuditEventRecoveryFinished, messageID: runID})
}

func (r *recordingAuditor) LogBreakerOpened(ctx context.Context, operation string, consecutiveFailures int32, lastFailureAt time.Time) {
	r.add(auditRecord{event: model.AuditEventBreakerOpened})
}

func (r *recordingAuditor) LogBreakerRecovered(ctx context.Context, operation string, openFor time.Duration) {
	r.add(auditRecord{event: model.AuditEventBreakerClosed})
}

func (r *recordingAuditor) add(rec auditRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingAuditor) byEvent(event string) []auditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auditRecord
	for _, rec := range r.records {
		if rec.event == event {
			out = append(out, rec)
		}
	}
	return out
}

// fakeQueueRepo serves a canned inventory for resync unit tests.
type fakeQueueRepo struct {
	inventory    []model.InventoryEntry
	inventoryErr error
}

func (f *fakeQueueRepo) PopUpdate(ctx context.Context, queueKey string, timeout time.Duration) (string, error) {
	return "", nil
}

func (f *fakeQueueRepo) PushUpdate(ctx context.Context, queueKey, payload string) (int64, error) {
	return 0, nil
}

func (f *fakeQueueRepo) QueueDepth(ctx context.Context, queueKey string) int64 {
	return 0
}

func (f *fakeQueueRepo) ReadInventory(ctx context.Context, inventoryKey string) ([]model.InventoryEntry, error) {
	if f.inventoryErr != nil {
		return nil, f.inventoryErr
	}
	return f.inventory, nil
}

func newTestRegistryUsecase(repo RegistryRepo, queue QueueRepo, auditor SyncAuditor) *RegistryUsecase {
	return NewRegistryUsecase(repo, queue, auditor, nil, log.DefaultLogger)
}

func TestApplyChanges_AppliesEveryTool(t *testing.T) {
	repo := &fakeRegistryRepo{}
	auditor := &recordingAuditor{}
	uc := newTestRegistryUsecase(repo, &fakeQueueRepo{}, auditor)

	msg := &model.ChangeMessage{
		ID:     "m1",
		Source: "agent",
		AddedTools: []model.ToolRef{
			{Name: "search", ProviderName: "agent-x"},
			{Name: "translate", ProviderName: "agent-y"},
		},
		RemovedTools: []model.ToolRef{
			{Name: "old-tool", ProviderName: "agent-x"},
		},
	}

	result := uc.ApplyChanges(context.Background(), msg)

	assert.Equal(t, 3, result.Attempted)
	assert.Zero(t, result.Failed)
	assert.False(t, result.Critical)
	assert.Empty(t, result.Errors)

	assert.Equal(t, []toolBinding{
		{name: "search", provider: "agent-x"},
		{name: "translate", provider: "agent-y"},
	}, repo.addCalls())
	assert.Equal(t, []string{"old-tool"}, repo.removeCalls())

	added := auditor.byEvent(model.AuditEventToolAdded)
	require.Len(t, added, 2)
	assert.Equal(t, "search", added[0].toolName)
	assert.Equal(t, "m1", added[0].messageID)
	assert.Equal(t, "agent", added[0].source)

	removed := auditor.byEvent(model.AuditEventToolRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, "old-tool", removed[0].toolName)
}

func TestApplyChanges_FailuresDoNotAbortBatch(t *testing.T) {
	repo := &fakeRegistryRepo{addErr: errors.New("boom")}
	auditor := &recordingAuditor{}
	uc := newTestRegistryUsecase(repo, &fakeQueueRepo{}, auditor)

	msg := &model.ChangeMessage{
		ID:     "m2",
		Source: "agent",
		AddedTools: []model.ToolRef{
			{Name: "search", ProviderName: "agent-x"},
			{Name: "translate", ProviderName: "agent-y"},
		},
		RemovedTools: []model.ToolRef{
			{Name: "old-tool", ProviderName: "agent-x"},
		},
	}

	result := uc.ApplyChanges(context.Background(), msg)

	// Both adds fail, the remove still runs
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Failed)
	assert.False(t, result.Critical)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, []string{"old-tool"}, repo.removeCalls())

	// Only successes are audited
	assert.Empty(t, auditor.byEvent(model.AuditEventToolAdded))
	assert.Len(t, auditor.byEvent(model.AuditEventToolRemoved), 1)
}

func TestApplyChanges_LostConnectionIsCritical(t *testing.T) {
	connErr := pkgerrors.ClassifyDBError(errors.New("dial tcp 127.0.0.1:3306: connect: connection refused"))
	repo := &fakeRegistryRepo{removeErr: connErr}
	uc := newTestRegistryUsecase(repo, &fakeQueueRepo{}, &recordingAuditor{})

	msg := &model.ChangeMessage{
		ID:           "m3",
		Source:       "agent",
		AddedTools:   []model.ToolRef{},
		RemovedTools: []model.ToolRef{{Name: "search", ProviderName: "agent-x"}},
	}

	result := uc.ApplyChanges(context.Background(), msg)

	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.Critical)
}

func TestTriggerFullResync_ReconcilesInventory(t *testing.T) {
	repo := &fakeRegistryRepo{replaceResult: [3]int{2, 1, 3}}
	queue := &fakeQueueRepo{inventory: []model.InventoryEntry{
		{Name: "search", ProviderName: "agent-x"},
		{Name: "translate", ProviderName: "agent-y"},
	}}
	uc := newTestRegistryUsecase(repo, queue, &recordingAuditor{})

	res, err := uc.TriggerFullResync(context.Background(), "run-1", "test trigger")
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "test trigger", res.Reason)
	assert.Equal(t, 2, res.InventorySize)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 3, res.Removed)
	assert.False(t, res.StartedAt.IsZero())
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))

	assert.Equal(t, 1, repo.replaceCount())
	assert.Equal(t, queue.inventory, repo.lastReplace)
}

func TestTriggerFullResync_EmptyInventoryRefused(t *testing.T) {
	repo := &fakeRegistryRepo{}
	uc := newTestRegistryUsecase(repo, &fakeQueueRepo{}, &recordingAuditor{})

	res, err := uc.TriggerFullResync(context.Background(), "run-2", "test trigger")

	// A missing snapshot must never wipe the registry
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to clear the registry")
	assert.Zero(t, res.InventorySize)
	assert.Zero(t, repo.replaceCount())
}

func TestTriggerFullResync_UnreadableInventoryFails(t *testing.T) {
	repo := &fakeRegistryRepo{}
	queue := &fakeQueueRepo{inventoryErr: errors.New("store unavailable")}
	uc := newTestRegistryUsecase(repo, queue, &recordingAuditor{})

	_, err := uc.TriggerFullResync(context.Background(), "run-3", "test trigger")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
	assert.Zero(t, repo.replaceCount())
}

func TestTriggerFullResync_ReplaceFailureSurfaces(t *testing.T) {
	repo := &fakeRegistryRepo{replaceErr: errors.New("write failed")}
	queue := &fakeQueueRepo{inventory: []model.InventoryEntry{
		{Name: "search", ProviderName: "agent-x"},
	}}
	uc := newTestRegistryUsecase(repo, queue, &recordingAuditor{})

	res, err := uc.TriggerFullResync(context.Background(), "run-4", "test trigger")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "write failed")
	assert.Equal(t, 1, res.InventorySize)
}

func TestRegistryUsecase_ReadProxies(t *testing.T) {
	uc := newTestRegistryUsecase(&fakeRegistryRepo{}, &fakeQueueRepo{}, &recordingAuditor{})
	ctx := context.Background()

	tools, err := uc.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)

	count, err := uc.CountTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	tool, err := uc.GetTool(ctx, "translate")
	require.NoError(t, err)
	assert.Equal(t, "translate", tool.Name)
}
