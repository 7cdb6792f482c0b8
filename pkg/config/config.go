package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/evmindex/evmindex/internal/common"
	"github.com/evmindex/evmindex/internal/logger"
)

// Config represents the complete configuration for the indexing engine.
type Config struct {
	// Chains lists every EVM-compatible chain this instance ingests from.
	Chains []ChainConfig `yaml:"chains" json:"chains" toml:"chains"`

	// Sources lists the log filters / factories contributing events.
	Sources []SourceConfig `yaml:"sources" json:"sources" toml:"sources"`

	// DB contains database configuration shared by the sync store,
	// scheduler and entity store.
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Retry contains RPC retry configuration with exponential backoff.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// RetentionPolicy contains optional database retention policy settings.
	RetentionPolicy *RetentionPolicyConfig `yaml:"retention_policy,omitempty"`

	// Maintenance contains optional database maintenance settings.
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty"`

	// Scheduler contains indexing scheduler tuning parameters.
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler" toml:"scheduler"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration.
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the read-only query API server configuration.
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// ChainConfig describes one EVM-compatible chain this instance syncs.
type ChainConfig struct {
	// ChainID is the EVM chain id.
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`

	// Name is a human-readable network name, used by the user context's
	// network() accessor.
	Name string `yaml:"name" json:"name" toml:"name"`

	// RPCURL is the chain's JSON-RPC endpoint.
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// ChunkSize is the block range per eth_getLogs call during backfill.
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// Finality specifies the finality mode: "finalized", "safe", or "latest".
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalizedLag is the number of blocks behind head to consider
	// finalized; only used when Finality is "latest".
	FinalizedLag uint64 `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`

	// StartBlock is the block at which setup functions for this chain are
	// enqueued and historical backfill begins.
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 5000
	}
	if c.Finality == "" {
		c.Finality = "finalized"
	}
}

// SourceConfig describes a contract source: either a direct log filter or a
// factory whose logs announce child-contract addresses.
type SourceConfig struct {
	// Name is the contract name, the first half of the (contract, event)
	// indexing function key.
	Name string `yaml:"name" json:"name" toml:"name"`

	// ChainID is the chain this source is read from.
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`

	// Address is one or more contract addresses; more than one value
	// expands to a cross product of filter fragments.
	Address []string `yaml:"address" json:"address" toml:"address"`

	// Events lists the ABI event signatures this source contributes,
	// e.g. "Transfer(address,address,uint256)".
	Events []string `yaml:"events" json:"events" toml:"events"`

	// Factory configures this source as factory-derived: addresses are
	// discovered from child-deployment logs instead of configured
	// directly.
	Factory *FactorySourceConfig `yaml:"factory,omitempty" json:"factory,omitempty" toml:"factory,omitempty"`
}

// FactorySourceConfig describes how to extract child-contract addresses from
// a factory contract's deployment logs.
type FactorySourceConfig struct {
	// Address is the factory contract's address.
	Address string `yaml:"address" json:"address" toml:"address"`

	// Event is the factory's deployment event signature.
	Event string `yaml:"event" json:"event" toml:"event"`

	// ChildAddressLocation is "topic1"|"topic2"|"topic3" or "offsetN",
	// topicN or offsetN, see Factory.ExtractChildAddress.
	ChildAddressLocation string `yaml:"child_address_location" json:"child_address_location" toml:"child_address_location"` //nolint:lll
}

// SchedulerConfig tunes the indexing scheduler.
type SchedulerConfig struct {
	// MaxBatchSize bounds the total number of tasks loaded across all
	// unfinished function keys in one loadIndexingFunctionTasks pass.
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size" toml:"max_batch_size"`

	// Workers is the bounded worker pool size for dispatched tasks.
	Workers int `yaml:"workers" json:"workers" toml:"workers"`

	// FlushInterval is how often function progress is persisted.
	FlushInterval common.Duration `yaml:"flush_interval" json:"flush_interval" toml:"flush_interval"`

	// MaxTaskAttempts bounds per-task retries before the scheduler halts.
	MaxTaskAttempts int `yaml:"max_task_attempts" json:"max_task_attempts" toml:"max_task_attempts"`
}

// ApplyDefaults sets default values for optional scheduler configuration fields.
func (s *SchedulerConfig) ApplyDefaults() {
	if s.MaxBatchSize == 0 {
		s.MaxBatchSize = 10000 //nolint:mnd
	}
	if s.Workers == 0 {
		s.Workers = 10
	}
	if s.FlushInterval.Duration == 0 {
		s.FlushInterval = common.NewDuration(120 * time.Second) //nolint:mnd
	}
	if s.MaxTaskAttempts == 0 {
		s.MaxTaskAttempts = 4
	}
}

// APIConfig configures the read-only query API server.
type APIConfig struct {
	// Enabled controls whether the API HTTP server is started.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API HTTP server to.
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	ReadTimeout  common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout  common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig controls cross-origin access to the API server.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(5 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
}

// RetryConfig represents retry configuration with exponential backoff, used
// both by the RPC client pool and the sync store's operation-level retry
// envelope.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request).
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry.
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 4 //nolint:mnd
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(100 * time.Millisecond) //nolint:mnd
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(400 * time.Millisecond) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database.
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE").
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF").
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked.
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages).
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections.
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool.
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement.
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000 //nolint:mnd
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000 //nolint:mnd
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25 //nolint:mnd
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// RetentionPolicyConfig represents database retention policy settings.
type RetentionPolicyConfig struct {
	// MaxDBSizeMB is the maximum database size in megabytes (0 = unlimited).
	MaxDBSizeMB uint64 `yaml:"max_db_size_mb"`

	// MaxBlocks is the maximum number of blocks to retain (0 = unlimited).
	MaxBlocks uint64 `yaml:"max_blocks"`
}

// IsEnabled returns true if retention policy should be applied.
func (r *RetentionPolicyConfig) IsEnabled() bool {
	return r != nil && (r.MaxDBSizeMB > 0 || r.MaxBlocks > 0)
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h").
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup.
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness.
	// Options: PASSIVE, FULL, RESTART, TRUNCATE.
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components.
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder).
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components.
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component, falling
// back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to.
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed.
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	for i := range c.Chains {
		c.Chains[i].ApplyDefaults()
	}

	c.DB.ApplyDefaults()
	c.Scheduler.ApplyDefaults()

	if c.Retry != nil {
		c.Retry.ApplyDefaults()
	}
	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	chainIDs := make(map[uint64]bool)
	for i, chain := range c.Chains {
		if chain.RPCURL == "" {
			return fmt.Errorf("chains[%d]: rpc_url is required", i)
		}
		if chainIDs[chain.ChainID] {
			return fmt.Errorf("chains[%d]: duplicate chain_id %d", i, chain.ChainID)
		}
		chainIDs[chain.ChainID] = true

		if chain.Finality != "finalized" && chain.Finality != "safe" && chain.Finality != "latest" {
			return fmt.Errorf("chains[%d]: finality must be one of: 'finalized', 'safe', or 'latest'", i)
		}
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" &&
		c.DB.JournalMode != "DELETE" && c.DB.JournalMode != "TRUNCATE" &&
		c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" &&
		c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	sourceNames := make(map[string]bool)
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if sourceNames[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name '%s'", i, src.Name)
		}
		sourceNames[src.Name] = true

		if !chainIDs[src.ChainID] {
			return fmt.Errorf("sources[%d] (%s): chain_id %d is not configured", i, src.Name, src.ChainID)
		}

		if src.Factory == nil && len(src.Address) == 0 {
			return fmt.Errorf("sources[%d] (%s): address or factory is required", i, src.Name)
		}

		if len(src.Events) == 0 {
			return fmt.Errorf("sources[%d] (%s): at least one event must be configured", i, src.Name)
		}

		if src.Factory != nil {
			if src.Factory.Address == "" || src.Factory.Event == "" || src.Factory.ChildAddressLocation == "" {
				return fmt.Errorf("sources[%d] (%s): factory requires address, event and child_address_location", i, src.Name) //nolint:lll
			}
		}
	}

	return nil
}
