package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBootstrap_Defaults(t *testing.T) {
	// Create a minimal valid config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  http:
    addr: :8080
data:
  database:
    driver: mysql
  redis:
    addr: 127.0.0.1:6379
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set required environment variables
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/testdb")

	// Load configuration
	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Verify server defaults
	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, 10*time.Minute, bc.Server.Http.Timeout.AsDuration())

	// Verify data defaults
	assert.Equal(t, "mysql", bc.Data.Database.Driver)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/testdb", bc.Data.Database.Source)

	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, "tcp", bc.Data.Redis.Network)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout.AsDuration())
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.WriteTimeout.AsDuration())

	// Verify sync consumer defaults
	assert.True(t, bc.Sync.Enabled)
	assert.Equal(t, "toolsync:updates", bc.Sync.QueueKey)
	assert.Equal(t, "toolsync:inventory", bc.Sync.InventoryKey)
	assert.Equal(t, 2*time.Second, bc.Sync.PollTimeout.AsDuration())
	assert.Equal(t, 10*time.Second, bc.Sync.StopGrace.AsDuration())
	assert.Equal(t, int32(100), bc.Sync.IdleLogEvery)

	assert.Equal(t, int32(3), bc.Sync.Store.MaxRetryAttempts)
	assert.Equal(t, 200*time.Millisecond, bc.Sync.Store.RetryInitialDelay.AsDuration())
	assert.Equal(t, 5*time.Second, bc.Sync.Store.RetryMaxDelay.AsDuration())
	assert.Equal(t, int32(5), bc.Sync.Store.FailureThreshold)
	assert.Equal(t, 30*time.Second, bc.Sync.Store.RecoveryTimeout.AsDuration())

	assert.Equal(t, int32(5), bc.Sync.Failure.DeserializationThreshold)
	assert.Equal(t, int32(5), bc.Sync.Failure.ProcessingThreshold)
	assert.Equal(t, int32(10), bc.Sync.Failure.ValidationThreshold)
	assert.Equal(t, time.Minute, bc.Sync.Failure.ValidationWindow.AsDuration())

	assert.Equal(t, 30*time.Minute, bc.Sync.Validation.FreshnessWindow.AsDuration())

	assert.Equal(t, time.Second, bc.Sync.Backoff.PollErrorInitial.AsDuration())
	assert.Equal(t, 30*time.Second, bc.Sync.Backoff.PollErrorMax.AsDuration())

	assert.Equal(t, int32(4096), bc.Sync.Dedupe.Size)
	assert.Equal(t, 30*time.Minute, bc.Sync.Dedupe.Ttl.AsDuration())

	assert.True(t, bc.Sync.Reconcile.Enabled)
	assert.Equal(t, "0 0 * * * *", bc.Sync.Reconcile.Schedule)

	// Admin token is optional and empty by default
	assert.Equal(t, "", bc.Admin.Token)

	// Verify log defaults
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectedVal func(*Bootstrap) bool
		description string
	}{
		{
			name: "override_http_addr",
			envVars: map[string]string{
				"TOOLSYNC_SERVER_HTTP_ADDR": ":9999",
				"MYSQL_DSN":                 "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Server.Http.Addr == ":9999"
			},
			description: "TOOLSYNC_SERVER_HTTP_ADDR should override default :8080",
		},
		{
			name: "override_redis_addr_compat",
			envVars: map[string]string{
				"REDIS_ADDR": "redis.example.com:6379",
				"MYSQL_DSN":  "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Data.Redis.Addr == "redis.example.com:6379"
			},
			description: "REDIS_ADDR compatibility binding should override default",
		},
		{
			name: "override_queue_key",
			envVars: map[string]string{
				"TOOLSYNC_SYNC_QUEUE_KEY": "custom:updates",
				"MYSQL_DSN":               "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Sync.QueueKey == "custom:updates"
			},
			description: "TOOLSYNC_SYNC_QUEUE_KEY should override default queue key",
		},
		{
			name: "override_poll_timeout",
			envVars: map[string]string{
				"TOOLSYNC_SYNC_POLL_TIMEOUT": "5s",
				"MYSQL_DSN":                  "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Sync.PollTimeout.AsDuration() == 5*time.Second
			},
			description: "TOOLSYNC_SYNC_POLL_TIMEOUT should parse as a duration",
		},
		{
			name: "override_admin_token_compat",
			envVars: map[string]string{
				"ADMIN_TOKEN": "super-secret-token",
				"MYSQL_DSN":   "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Admin.Token == "super-secret-token"
			},
			description: "ADMIN_TOKEN compatibility binding should populate admin.token",
		},
		{
			name: "override_log_level",
			envVars: map[string]string{
				"TOOLSYNC_LOG_LEVEL": "debug",
				"MYSQL_DSN":          "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Log.Level == "debug"
			},
			description: "TOOLSYNC_LOG_LEVEL should override default info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create minimal config file
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			configContent := `server:
  http:
    addr: :8080
data:
  redis:
    addr: 127.0.0.1:6379
`
			err := os.WriteFile(configPath, []byte(configContent), 0644)
			require.NoError(t, err)

			// Set environment variables
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			// Load configuration
			bc, err := NewBootstrap(configPath)
			require.NoError(t, err, tt.description)
			require.NotNil(t, bc)

			// Verify expected override
			assert.True(t, tt.expectedVal(bc), tt.description)
		})
	}
}

func TestNewBootstrap_MissingRequired(t *testing.T) {
	// Create minimal config file without a database source
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  http:
    addr: :8080
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Clear all relevant environment variables first to ensure isolation
	os.Unsetenv("MYSQL_DSN")
	os.Unsetenv("TOOLSYNC_DATA_DATABASE_SOURCE")

	// Load configuration - should fail
	bc, err := NewBootstrap(configPath)
	assert.Error(t, err, "Expected error for missing required fields")
	assert.Nil(t, bc, "Bootstrap should be nil when validation fails")
	assert.Contains(t, err.Error(), "data.database.source (MYSQL_DSN)")
}

func TestNewBootstrap_ConfigFileNotFound(t *testing.T) {
	// Set required environment variables
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/testdb")

	// Try to load non-existent config file
	bc, err := NewBootstrap("/non/existent/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, bc)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewBootstrap_EmptyConfigPath(t *testing.T) {
	// Set required environment variables
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/testdb")

	// Load with empty config path (should use defaults + env vars)
	bc, err := NewBootstrap("")
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Verify defaults were applied
	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/testdb", bc.Data.Database.Source)
	assert.Equal(t, "toolsync:updates", bc.Sync.QueueKey)
	assert.True(t, bc.Sync.Enabled)
}

func TestNewBootstrap_PriorityOrder(t *testing.T) {
	// Create config file with one value
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `server:
  http:
    addr: :7777
data:
  redis:
    addr: 127.0.0.1:6379
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set environment variable that should override file value
	t.Setenv("TOOLSYNC_SERVER_HTTP_ADDR", ":8888")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/testdb")

	// Load configuration
	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Environment variable should win over file value
	assert.Equal(t, ":8888", bc.Server.Http.Addr, "Environment variable should override config file")
}

func TestNewBootstrap_ConsumerDisabled(t *testing.T) {
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/testdb")
	t.Setenv("TOOLSYNC_SYNC_ENABLED", "false")

	bc, err := NewBootstrap("")
	require.NoError(t, err)
	require.NotNil(t, bc)

	assert.False(t, bc.Sync.Enabled)
}

func TestValidate_AllFieldsPresent(t *testing.T) {
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{Addr: ":8080"},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: "mysql",
				Source: "user:pass@tcp(localhost:3306)/testdb",
			},
			Redis: &Data_Redis{Addr: "127.0.0.1:6379"},
		},
		Sync: &Sync{
			QueueKey: "toolsync:updates",
		},
		Log: &Log{
			Level:  "info",
			Format: "json",
		},
	}

	err := Validate(bc)
	assert.NoError(t, err)
}

func TestValidate_NilBootstrap(t *testing.T) {
	err := Validate(&Bootstrap{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing required configuration fields")
}
