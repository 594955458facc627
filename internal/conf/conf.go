package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration tree loaded by NewBootstrap.
type Bootstrap struct {
	Server *Server
	Data   *Data
	Sync   *Sync
	Admin  *Admin
	Log    *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP configures the HTTP listener.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage backend configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database configures the MySQL connection.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis configures the Redis connection.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Sync configures the update queue consumer and the resilient store
// layer it reads the shared queue through.
type Sync struct {
	// Enabled turns the background consumer on or off. When false the
	// service still serves HTTP but never touches the queue.
	Enabled      bool
	QueueKey     string
	InventoryKey string
	// PollTimeout bounds a single blocking pop on the queue.
	PollTimeout *durationpb.Duration
	// StopGrace bounds how long Stop waits for the in-flight iteration.
	StopGrace    *durationpb.Duration
	IdleLogEvery int32
	Store        *Sync_Store
	Failure      *Sync_Failure
	Validation   *Sync_Validation
	Backoff      *Sync_Backoff
	Dedupe       *Sync_Dedupe
	Reconcile    *Sync_Reconcile
}

// Sync_Store configures retries and the circuit breaker guarding
// every store operation.
type Sync_Store struct {
	MaxRetryAttempts  int32
	RetryInitialDelay *durationpb.Duration
	RetryMaxDelay     *durationpb.Duration
	FailureThreshold  int32
	RecoveryTimeout   *durationpb.Duration
	OpTimeout         *durationpb.Duration
}

// Sync_Failure configures the recovery trigger thresholds.
type Sync_Failure struct {
	DeserializationThreshold int32
	ProcessingThreshold      int32
	ValidationThreshold      int32
	ValidationWindow         *durationpb.Duration
}

// Sync_Validation configures message validation.
type Sync_Validation struct {
	// FreshnessWindow is the maximum accepted message age. Messages
	// older than this, or dated in the future, are rejected.
	FreshnessWindow *durationpb.Duration
}

// Sync_Backoff configures the poll-loop error backoff, applied when
// the queue itself cannot be read.
type Sync_Backoff struct {
	PollErrorInitial *durationpb.Duration
	PollErrorMax     *durationpb.Duration
}

// Sync_Dedupe configures the recently-seen message ID cache.
type Sync_Dedupe struct {
	Size int32
	Ttl  *durationpb.Duration
}

// Sync_Reconcile configures the scheduled full reconciliation job.
type Sync_Reconcile struct {
	Enabled  bool
	Schedule string
}

// Admin holds credentials for operator-only endpoints. An empty token
// disables those endpoints entirely.
type Admin struct {
	Token string
}

// Log configures logging output.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
