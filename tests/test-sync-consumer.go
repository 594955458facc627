// Package main provides a manual integration test utility for the
// update queue consumer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"ToolSync/internal/biz"
	"ToolSync/internal/conf"
	"ToolSync/internal/data"
	"ToolSync/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Manual integration test for the sync consumer pipeline.
// This drives a real UpdateQueueConsumer against a real Redis instance,
// with an in-memory registry standing in for MySQL.

const (
	testQueueKey     = "toolsync:test:updates"
	testInventoryKey = "toolsync:test:inventory"
)

// memRegistry is an in-memory biz.RegistryRepo for this script.
type memRegistry struct {
	mu    sync.Mutex
	tools map[string]string
}

func newMemRegistry() *memRegistry {
	return &memRegistry{tools: make(map[string]string)}
}

func (m *memRegistry) ApplyAdd(_ context.Context, toolName, providerName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[toolName] = providerName
	return nil
}

func (m *memRegistry) ApplyRemove(_ context.Context, toolName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tools, toolName)
	return nil
}

func (m *memRegistry) ReplaceInventory(_ context.Context, entries []model.InventoryEntry) (int, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := len(m.tools)
	m.tools = make(map[string]string, len(entries))
	for _, e := range entries {
		m.tools[e.Name] = e.ProviderName
	}
	return len(entries), 0, removed, nil
}

func (m *memRegistry) ListTools(context.Context) ([]*data.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]*data.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, &data.Tool{Name: name, ProviderName: m.tools[name]})
	}
	return tools, nil
}

func (m *memRegistry) CountTools(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.tools)), nil
}

func (m *memRegistry) GetTool(_ context.Context, toolName string) (*data.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	provider, ok := m.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", toolName)
	}
	return &data.Tool{Name: toolName, ProviderName: provider}, nil
}

func (m *memRegistry) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.tools))
	for k, v := range m.tools {
		out[k] = v
	}
	return out
}

// consoleAuditor prints audit events instead of writing MySQL rows.
type consoleAuditor struct{}

func (consoleAuditor) LogToolAdded(_ context.Context, toolName, providerName, source, messageID string) {
	fmt.Printf("  [audit] TOOL_ADDED %s (provider=%s, source=%s, message=%s)\n", toolName, providerName, source, messageID)
}

func (consoleAuditor) LogToolRemoved(_ context.Context, toolName, source, messageID string) {
	fmt.Printf("  [audit] TOOL_REMOVED %s (source=%s, message=%s)\n", toolName, source, messageID)
}

func (consoleAuditor) LogMessageRejected(_ context.Context, messageID, source, reason string) {
	fmt.Printf("  [audit] MESSAGE_REJECTED %s: %s\n", messageID, reason)
}

func (consoleAuditor) LogRecoveryStarted(_ context.Context, trigger model.FailureKind, reason string) {
	fmt.Printf("  [audit] RECOVERY_STARTED trigger=%s reason=%q\n", trigger, reason)
}

func (consoleAuditor) LogRecoveryFinished(_ context.Context, runID string, success bool, inventorySize int, duration time.Duration) {
	fmt.Printf("  [audit] RECOVERY_FINISHED run=%s success=%v inventory=%d in %s\n", runID, success, inventorySize, duration)
}

func (consoleAuditor) LogBreakerOpened(_ context.Context, operation string, consecutiveFailures int32, _ time.Time) {
	fmt.Printf("  [audit] BREAKER_OPENED op=%s failures=%d\n", operation, consecutiveFailures)
}

func (consoleAuditor) LogBreakerRecovered(_ context.Context, operation string, openFor time.Duration) {
	fmt.Printf("  [audit] BREAKER_CLOSED op=%s after %s\n", operation, openFor)
}

type consoleNotifier struct{}

func (consoleNotifier) BreakerOpened(ev model.BreakerOpenedEvent) {
	fmt.Printf("  [event] breaker opened: %s\n", ev.Operation)
}

func (consoleNotifier) BreakerRecovered(ev model.BreakerRecoveredEvent) {
	fmt.Printf("  [event] breaker recovered: %s\n", ev.Operation)
}

func (consoleNotifier) RecoveryStarted(ev model.RecoveryStartedEvent) {
	fmt.Printf("  [event] recovery started: trigger=%s\n", ev.Trigger)
}

func (consoleNotifier) RecoveryFinished(ev model.RecoveryFinishedEvent) {
	fmt.Printf("  [event] recovery finished: success=%v size=%d\n", ev.Success, ev.InventorySize)
}

func testSyncConf() *conf.Sync {
	return &conf.Sync{
		Enabled:      true,
		QueueKey:     testQueueKey,
		InventoryKey: testInventoryKey,
		PollTimeout:  durationpb.New(500 * time.Millisecond),
		StopGrace:    durationpb.New(3 * time.Second),
		IdleLogEvery: 50,
		Store: &conf.Sync_Store{
			MaxRetryAttempts:  3,
			RetryInitialDelay: durationpb.New(100 * time.Millisecond),
			RetryMaxDelay:     durationpb.New(time.Second),
			FailureThreshold:  5,
			RecoveryTimeout:   durationpb.New(2 * time.Second),
			OpTimeout:         durationpb.New(2 * time.Second),
		},
		Failure: &conf.Sync_Failure{
			DeserializationThreshold: 5,
			ProcessingThreshold:      5,
			ValidationThreshold:      10,
			ValidationWindow:         durationpb.New(time.Minute),
		},
		Backoff: &conf.Sync_Backoff{
			PollErrorInitial: durationpb.New(500 * time.Millisecond),
			PollErrorMax:     durationpb.New(5 * time.Second),
		},
		Dedupe: &conf.Sync_Dedupe{
			Size: 128,
			Ttl:  durationpb.New(time.Minute),
		},
	}
}

func pushMessage(ctx context.Context, queue *data.UpdateQueueRepo, msg *model.ChangeMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = queue.PushUpdate(ctx, testQueueKey, string(raw))
	return err
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}

func main() {
	logger := log.NewStdLogger(os.Stdout)

	fmt.Println("==========================================")
	fmt.Println("ToolSync Consumer Integration Test")
	fmt.Println("==========================================")
	fmt.Println()

	fmt.Println("Step 1: Connect to Redis")
	fmt.Println("------------------------------------------")

	rdb := redis.NewClient(&redis.Options{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Printf("✗ Failed to connect to Redis: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Connected to Redis successfully")
	fmt.Println()

	// Clean up test data
	defer func() {
		fmt.Println()
		fmt.Println("==========================================")
		fmt.Println("Cleanup")
		fmt.Println("==========================================")
		rdb.Del(ctx, testQueueKey)
		rdb.Del(ctx, testInventoryKey)
		fmt.Println("✓ Cleaned up test data")
	}()
	rdb.Del(ctx, testQueueKey)
	rdb.Del(ctx, testInventoryKey)

	// Build the pipeline with an in-memory registry
	cfg := testSyncConf()
	store := data.NewResilientStore(rdb, cfg, nil, logger)
	queue := data.NewUpdateQueueRepo(store, logger)
	registryRepo := newMemRegistry()
	registry := biz.NewRegistryUsecase(registryRepo, queue, consoleAuditor{}, cfg, logger)
	tracker := biz.NewFailureTracker(cfg)
	health := biz.NewHealthMetrics()
	consumer := biz.NewUpdateQueueConsumer(
		queue, registry,
		biz.NewMessageValidator(cfg), tracker, health,
		consoleNotifier{}, consoleAuditor{}, store, cfg, logger)

	if err := consumer.Start(ctx); err != nil {
		fmt.Printf("✗ Failed to start consumer: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = consumer.Stop(stopCtx)
	}()

	totalPassed := 0
	totalTests := 0

	// Test valid message application
	fmt.Println("Step 2: Apply a valid change message")
	fmt.Println("------------------------------------------")

	err := pushMessage(ctx, queue, &model.ChangeMessage{
		ID:           "it-m1",
		CreatedAt:    time.Now(),
		AddedTools:   []model.ToolRef{{Name: "search", ProviderName: "agent-x"}},
		RemovedTools: []model.ToolRef{},
		Source:       "integration-test",
	})
	if err != nil {
		fmt.Printf("✗ Failed to push message: %v\n", err)
		os.Exit(1)
	}

	totalTests++
	if waitFor(func() bool { return registryRepo.snapshot()["search"] == "agent-x" }, 5*time.Second) {
		fmt.Println("✓ Tool applied to registry")
		totalPassed++
	} else {
		fmt.Println("✗ Tool was not applied")
	}
	fmt.Println()

	// Test validation rejection
	fmt.Println("Step 3: Reject an invalid message")
	fmt.Println("------------------------------------------")

	err = pushMessage(ctx, queue, &model.ChangeMessage{
		ID:           "it-m2",
		CreatedAt:    time.Now().Add(-2 * time.Hour), // stale
		AddedTools:   []model.ToolRef{{Name: "late", ProviderName: "agent-x"}},
		RemovedTools: []model.ToolRef{},
		Source:       "integration-test",
	})
	if err != nil {
		fmt.Printf("✗ Failed to push message: %v\n", err)
		os.Exit(1)
	}

	totalTests++
	if waitFor(func() bool { return consumer.Health(ctx).ValidationRejects == 1 }, 5*time.Second) {
		fmt.Println("✓ Stale message rejected (expected)")
		totalPassed++
	} else {
		fmt.Println("✗ Stale message was not rejected")
	}
	fmt.Println()

	// Test duplicate suppression
	fmt.Println("Step 4: Drop a duplicate message")
	fmt.Println("------------------------------------------")

	for i := 0; i < 2; i++ {
		err = pushMessage(ctx, queue, &model.ChangeMessage{
			ID:           "it-m3",
			CreatedAt:    time.Now(),
			AddedTools:   []model.ToolRef{{Name: "fetch", ProviderName: "agent-y"}},
			RemovedTools: []model.ToolRef{},
			Source:       "integration-test",
		})
		if err != nil {
			fmt.Printf("✗ Failed to push message: %v\n", err)
			os.Exit(1)
		}
	}

	totalTests++
	if waitFor(func() bool { return consumer.Health(ctx).DuplicatesDropped == 1 }, 5*time.Second) {
		fmt.Println("✓ Duplicate message dropped (expected)")
		totalPassed++
	} else {
		fmt.Println("✗ Duplicate was not dropped")
	}
	fmt.Println()

	// Test recovery after repeated deserialization failures
	fmt.Println("Step 5: Recover after malformed payloads")
	fmt.Println("------------------------------------------")

	inventory := `[{"name":"search","providerName":"agent-x"},{"name":"fetch","providerName":"agent-y"}]`
	if err := rdb.Set(ctx, testInventoryKey, inventory, 0).Err(); err != nil {
		fmt.Printf("✗ Failed to seed inventory: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < 5; i++ {
		if _, err := queue.PushUpdate(ctx, testQueueKey, "{not json"); err != nil {
			fmt.Printf("✗ Failed to push payload: %v\n", err)
			os.Exit(1)
		}
	}

	totalTests++
	if waitFor(func() bool { return consumer.Health(ctx).RecoveriesSucceeded == 1 }, 10*time.Second) {
		fmt.Println("✓ Recovery ran after 5 malformed payloads")
		totalPassed++
	} else {
		fmt.Println("✗ Recovery did not run")
	}

	totalTests++
	counts := consumer.FailureCounts()
	if counts.ConsecutiveDeserialization == 0 {
		fmt.Println("✓ Failure counters reset after recovery")
		totalPassed++
	} else {
		fmt.Printf("✗ Deserialization counter is %d, expected 0\n", counts.ConsecutiveDeserialization)
	}

	totalTests++
	snap := registryRepo.snapshot()
	if snap["search"] == "agent-x" && snap["fetch"] == "agent-y" && len(snap) == 2 {
		fmt.Println("✓ Registry matches the inventory snapshot")
		totalPassed++
	} else {
		fmt.Printf("✗ Registry does not match inventory: %v\n", snap)
	}
	fmt.Println()

	// Final health report
	fmt.Println("Step 6: Health snapshot")
	fmt.Println("------------------------------------------")
	hs := consumer.Health(ctx)
	fmt.Printf("  status=%s consumer=%s breaker=%s\n", hs.Status, hs.ConsumerState, hs.BreakerState)
	fmt.Printf("  received=%d succeeded=%d failed=%d rejects(deser=%d valid=%d) dupes=%d\n",
		hs.MessagesReceived, hs.MessagesSucceeded, hs.MessagesFailed,
		hs.DeserializationRejects, hs.ValidationRejects, hs.DuplicatesDropped)
	fmt.Printf("  recoveries: triggered=%d succeeded=%d failed=%d\n",
		hs.RecoveriesTriggered, hs.RecoveriesSucceeded, hs.RecoveriesFailed)
	fmt.Println()

	// Summary
	fmt.Println("==========================================")
	fmt.Println("Test Summary")
	fmt.Println("==========================================")
	fmt.Printf("Total Tests: %d\n", totalTests)
	fmt.Printf("Tests Passed: %d\n", totalPassed)
	fmt.Printf("Tests Failed: %d\n", totalTests-totalPassed)
	fmt.Println()

	if totalPassed == totalTests {
		fmt.Println("✓ All consumer integration tests completed successfully!")
	} else {
		fmt.Println("✗ Some tests failed. Please review the output above.")
		os.Exit(1)
	}
}
