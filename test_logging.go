//go:build ignore
// +build ignore

package main

import (
	"context"

	"ToolSync/internal/conf"
	pkglog "ToolSync/pkg/log"
)

func main() {
	// 创建日志配置
	logConf := &conf.Log{
		Level:  "debug",
		Format: "console", // 使用 console 格式以启用 Emoji Encoder
		Env:    "development",
	}

	// 创建 Zap logger
	zapLogger, err := pkglog.NewZapLogger(logConf)
	if err != nil {
		panic(err)
	}

	// 创建 Kratos adapter
	kratosLogger := pkglog.NewKratosAdapter(zapLogger)

	// 创建 LogHelper
	helper := pkglog.NewLogHelper(kratosLogger)

	// 测试各种日志类型
	println("=== 测试日志输出格式 ===\n")

	helper.Startup("ToolSync service starting", "version", "1.0.0", "port", 8080)
	helper.Queue("Polled update queue", "queue", "toolsync:updates", "depth", 3)
	helper.Sync("Applied change message", "message_id", "m1", "added", 2, "removed", 1)
	helper.Validation("Rejected stale message", "message_id", "m2", "reason", "message is stale: age 45m0s exceeds 30m0s")
	helper.Registry("Tool registered", "tool", "search", "provider", "agent-x")
	helper.Breaker("Circuit breaker opened", "operation", "brpop", "consecutive_failures", 5)
	helper.Recovery("Recovery started", "trigger", "deserialization", "run_id", "run-123")
	helper.Health("Health snapshot computed", "status", "healthy", "queue_depth", 0)
	helper.Scheduler("Reconcile job fired", "schedule", "0 0 * * * *")
	helper.Database("Query executed successfully", "table", "tools", "duration_ms", 5)
	helper.Redis("Cache hit", "key", "tool:search", "ttl", 300)
	helper.Audit("Admin action", "admin", "root", "action", "trigger_resync")
	helper.Security("Rejected admin request with bad token", "path", "/v1/sync/resync")
	helper.Success("Resync completed", "run_id", "run-123", "inventory_size", 42)
	helper.Request("GET", "/v1/sync/health", 200, 3, "ip", "192.168.1.100", "user_agent", "curl/8.5.0")

	// 测试 Context-aware 方法
	ctx := pkglog.WithRequestContext(context.Background(), pkglog.GenerateRequestID())
	helper.RequestWithContext(ctx, "POST", "/v1/sync/resync", 202, 12, "ip", "192.168.1.100")
	helper.SyncWithContext(ctx, "manual resync accepted", "reason", "operator asked")

	println("\n=== 日志输出完成 ===")
}
