// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// ChunkConfig holds settings for the ChunkSource and tabular extractors.
type ChunkConfig struct {
	// BatchSizeBytes is the maximum payload of one content chunk (default 64 KiB).
	BatchSizeBytes int `json:"batch_size_bytes" yaml:"batch_size_bytes" mapstructure:"batch_size_bytes"`

	// MaxMemoryUsageBytes caps buffered-but-unconsumed bytes (default 50 MiB).
	// BatchSizeBytes is clamped so a chunk plus the lookahead byte fits.
	MaxMemoryUsageBytes int64 `json:"max_memory_usage_bytes" yaml:"max_memory_usage_bytes" mapstructure:"max_memory_usage_bytes"`

	// RowBatchSize is the number of rows per batch for tabular formats
	// (default 100, clamped to 50-200).
	RowBatchSize int `json:"row_batch_size" yaml:"row_batch_size" mapstructure:"row_batch_size"`

	// PressureRatio is the fraction of MaxMemoryUsageBytes above which the
	// source reclaims transient buffers between batches (default 0.8).
	PressureRatio float64 `json:"pressure_ratio" yaml:"pressure_ratio" mapstructure:"pressure_ratio"`
}

// MatchConfig holds settings for the SimilarityMatcher.
type MatchConfig struct {
	// FuzzyMatchThreshold is the acceptance threshold on a 0-100 scale (default 80).
	FuzzyMatchThreshold float64 `json:"fuzzy_match_threshold" yaml:"fuzzy_match_threshold" mapstructure:"fuzzy_match_threshold"`

	// EscalationThreshold is the 0-100 score below which committed matches
	// are escalated to a provider (default 90, never below FuzzyMatchThreshold).
	EscalationThreshold float64 `json:"escalation_threshold" yaml:"escalation_threshold" mapstructure:"escalation_threshold"`
}

// InferConfig holds settings for the TypeInferencer.
type InferConfig struct {
	// SampleSize is the number of values per field used for inference (default 10).
	SampleSize int `json:"sample_size" yaml:"sample_size" mapstructure:"sample_size"`
}

// ProviderConfig holds settings shared by all AI providers.
type ProviderConfig struct {
	// Profiles lists the configured providers.
	Profiles []ProviderProfile `json:"profiles" yaml:"profiles" mapstructure:"profiles"`

	// Default names the profile used when smart mapping is requested
	// without an explicit provider.
	Default string `json:"default" yaml:"default" mapstructure:"default"`

	// Timeout bounds a single provider call (default 2m).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// MaxRetries is the number of retries for transient failures. Nil takes
	// the default of 2; zero disables retries.
	MaxRetries *int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// MaxWait caps how long a call blocks waiting for a rate window reset
	// before failing with RateLimitExceeded (default 30s).
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait" mapstructure:"max_wait"`
}

// MappingConfig holds settings for the MappingOrchestrator.
type MappingConfig struct {
	// SmartMapping enables AI escalation of low-confidence fields.
	SmartMapping bool `json:"smart_mapping" yaml:"smart_mapping" mapstructure:"smart_mapping"`

	// Provider selects the profile used for escalation.
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`

	// SessionCostCeiling caps provider spend per session; 0 disables the check.
	SessionCostCeiling float64 `json:"session_cost_ceiling" yaml:"session_cost_ceiling" mapstructure:"session_cost_ceiling"`

	// SessionTimeout bounds the wall-clock of a whole session (default 30m).
	SessionTimeout time.Duration `json:"session_timeout" yaml:"session_timeout" mapstructure:"session_timeout"`

	// ProgressBuffer is the capacity of the progress channel (default 16).
	ProgressBuffer int `json:"progress_buffer" yaml:"progress_buffer" mapstructure:"progress_buffer"`
}

// LedgerConfig holds settings for the SQLite session ledger.
type LedgerConfig struct {
	// DataDir is the directory containing msmapper.db.
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// Disabled skips recording sessions.
	Disabled bool `json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

// Config groups all stage configurations.
type Config struct {
	Chunk    ChunkConfig    `json:"chunk" yaml:"chunk" mapstructure:"chunk"`
	Match    MatchConfig    `json:"match" yaml:"match" mapstructure:"match"`
	Infer    InferConfig    `json:"infer" yaml:"infer" mapstructure:"infer"`
	Provider ProviderConfig `json:"provider" yaml:"provider" mapstructure:"provider"`
	Mapping  MappingConfig  `json:"mapping" yaml:"mapping" mapstructure:"mapping"`
	Ledger   LedgerConfig   `json:"ledger" yaml:"ledger" mapstructure:"ledger"`
}

// Defaults.
const (
	DefaultBatchSizeBytes      = 64 * 1024
	DefaultMaxMemoryUsageBytes = 50 * 1024 * 1024
	DefaultRowBatchSize        = 100
	MinRowBatchSize            = 50
	MaxRowBatchSize            = 200
	DefaultPressureRatio       = 0.8
	ChunkLookaheadBytes        = 1
	DefaultFuzzyThreshold      = 80
	DefaultEscalationThreshold = 90
	DefaultSampleSize          = 10
	DefaultProviderTimeout     = 2 * time.Minute
	DefaultMaxRetries          = 2
	DefaultMaxWait             = 30 * time.Second
	DefaultSessionTimeout      = 30 * time.Minute
	DefaultProgressBuffer      = 16
	DefaultProviderWindow      = time.Minute
)

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero-valued settings with their defaults and clamps
// out-of-range values.
func (c *Config) ApplyDefaults() {
	if c.Chunk.BatchSizeBytes <= 0 {
		c.Chunk.BatchSizeBytes = DefaultBatchSizeBytes
	}
	switch {
	case c.Chunk.MaxMemoryUsageBytes <= 0:
		c.Chunk.MaxMemoryUsageBytes = DefaultMaxMemoryUsageBytes
	case c.Chunk.MaxMemoryUsageBytes <= ChunkLookaheadBytes:
		c.Chunk.MaxMemoryUsageBytes = ChunkLookaheadBytes + 1
	}
	if int64(c.Chunk.BatchSizeBytes)+ChunkLookaheadBytes > c.Chunk.MaxMemoryUsageBytes {
		c.Chunk.BatchSizeBytes = int(c.Chunk.MaxMemoryUsageBytes - ChunkLookaheadBytes)
	}
	switch {
	case c.Chunk.RowBatchSize <= 0:
		c.Chunk.RowBatchSize = DefaultRowBatchSize
	case c.Chunk.RowBatchSize < MinRowBatchSize:
		c.Chunk.RowBatchSize = MinRowBatchSize
	case c.Chunk.RowBatchSize > MaxRowBatchSize:
		c.Chunk.RowBatchSize = MaxRowBatchSize
	}
	if c.Chunk.PressureRatio <= 0 || c.Chunk.PressureRatio > 1 {
		c.Chunk.PressureRatio = DefaultPressureRatio
	}

	if c.Match.FuzzyMatchThreshold <= 0 || c.Match.FuzzyMatchThreshold > 100 {
		c.Match.FuzzyMatchThreshold = DefaultFuzzyThreshold
	}
	if c.Match.EscalationThreshold <= 0 || c.Match.EscalationThreshold > 100 {
		c.Match.EscalationThreshold = DefaultEscalationThreshold
	}
	if c.Match.EscalationThreshold < c.Match.FuzzyMatchThreshold {
		c.Match.EscalationThreshold = c.Match.FuzzyMatchThreshold
	}

	if c.Infer.SampleSize <= 0 {
		c.Infer.SampleSize = DefaultSampleSize
	}

	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = DefaultProviderTimeout
	}
	switch {
	case c.Provider.MaxRetries == nil:
		c.Provider.MaxRetries = Retries(DefaultMaxRetries)
	case *c.Provider.MaxRetries < 0:
		c.Provider.MaxRetries = Retries(0)
	}
	if c.Provider.MaxWait <= 0 {
		c.Provider.MaxWait = DefaultMaxWait
	}
	for i := range c.Provider.Profiles {
		if c.Provider.Profiles[i].Limits.Window <= 0 {
			c.Provider.Profiles[i].Limits.Window = DefaultProviderWindow
		}
	}

	if c.Mapping.SessionTimeout <= 0 {
		c.Mapping.SessionTimeout = DefaultSessionTimeout
	}
	if c.Mapping.ProgressBuffer <= 0 {
		c.Mapping.ProgressBuffer = DefaultProgressBuffer
	}
	if c.Mapping.Provider == "" {
		c.Mapping.Provider = c.Provider.Default
	}

	if c.Ledger.DataDir == "" {
		c.Ledger.DataDir = ".msmapper"
	}
}

// Retries returns a MaxRetries value for n retries.
func Retries(n int) *int { return &n }
