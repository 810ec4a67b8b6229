// Package config loads the sectioned JSON configuration document. A missing
// file yields defaults, unknown keys are ignored, and a file that exists but
// does not parse is a hard error.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// SecurityConfig controls the security gate.
type SecurityConfig struct {
	Enabled           bool     `mapstructure:"enabled" json:"enabled"`
	SensitivePatterns []string `mapstructure:"sensitive_patterns" json:"sensitive_patterns"`
	EncryptionEnabled bool     `mapstructure:"encryption_enabled" json:"encryption_enabled"`
	EncryptionKey     string   `mapstructure:"encryption_key" json:"encryption_key,omitempty"`
	AuditLog          bool     `mapstructure:"audit_log" json:"audit_log"`
	AccessControl     bool     `mapstructure:"access_control" json:"access_control"`
	RateLimitPerSec   int      `mapstructure:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// PerformanceConfig controls the cache layer.
type PerformanceConfig struct {
	CacheEnabled     bool `mapstructure:"cache_enabled" json:"cache_enabled"`
	CacheMaxSize     int  `mapstructure:"cache_max_size" json:"cache_max_size"`
	CacheTTLMS       int  `mapstructure:"cache_ttl_ms" json:"cache_ttl_ms"`
	LazyLoad         bool `mapstructure:"lazy_load" json:"lazy_load"`
	PreloadHot       bool `mapstructure:"preload_hot" json:"preload_hot"`
	PreloadThreshold int  `mapstructure:"preload_threshold" json:"preload_threshold"`
	MetricsEnabled   bool `mapstructure:"metrics_enabled" json:"metrics_enabled"`
}

// QualityConfig controls the quality evaluator.
type QualityConfig struct {
	ImportanceThreshold float64 `mapstructure:"importance_threshold" json:"importance_threshold"`
	ConfidenceTracking  bool    `mapstructure:"confidence_tracking" json:"confidence_tracking"`
	Deduplication       bool    `mapstructure:"deduplication" json:"deduplication"`
	DedupThreshold      float64 `mapstructure:"dedup_threshold" json:"dedup_threshold"`
	VerificationEnabled bool    `mapstructure:"verification_enabled" json:"verification_enabled"`
}

// IndexerConfig controls the multi-level indexer.
type IndexerConfig struct {
	MultiLevel       bool     `mapstructure:"multi_level" json:"multi_level"`
	AutoUpdate       bool     `mapstructure:"auto_update" json:"auto_update"`
	UpdateIntervalMS int      `mapstructure:"update_interval_ms" json:"update_interval_ms"`
	Categories       []string `mapstructure:"categories" json:"categories"`
}

// RetrievalConfig controls the hybrid ranker.
type RetrievalConfig struct {
	HybridSearch          bool    `mapstructure:"hybrid_search" json:"hybrid_search"`
	VectorWeight          float64 `mapstructure:"vector_weight" json:"vector_weight"`
	TextWeight            float64 `mapstructure:"text_weight" json:"text_weight"`
	MMRLambda             float64 `mapstructure:"mmr_lambda" json:"mmr_lambda"`
	TemporalDecayHalfLife int     `mapstructure:"temporal_decay_half_life" json:"temporal_decay_half_life"`
	QueryExpansion        bool    `mapstructure:"query_expansion" json:"query_expansion"`
	IntentRecognition     bool    `mapstructure:"intent_recognition" json:"intent_recognition"`
	MaxResults            int     `mapstructure:"max_results" json:"max_results"`
}

// LifecycleConfig controls retention and archival.
type LifecycleConfig struct {
	P0Retention     string `mapstructure:"p0_retention" json:"p0_retention"`
	P1RetentionDays int    `mapstructure:"p1_retention_days" json:"p1_retention_days"`
	P2RetentionDays int    `mapstructure:"p2_retention_days" json:"p2_retention_days"`
	AutoArchive     bool   `mapstructure:"auto_archive" json:"auto_archive"`
}

// AutomationConfig controls the enricher.
type AutomationConfig struct {
	AutoWrite        bool `mapstructure:"auto_write" json:"auto_write"`
	AutoUpdate       bool `mapstructure:"auto_update" json:"auto_update"`
	AutoLink         bool `mapstructure:"auto_link" json:"auto_link"`
	AutoClassify     bool `mapstructure:"auto_classify" json:"auto_classify"`
	AutoSummarize    bool `mapstructure:"auto_summarize" json:"auto_summarize"`
	SummaryThreshold int  `mapstructure:"summary_threshold" json:"summary_threshold"`
}

// IntegrationConfig controls external store syncing.
type IntegrationConfig struct {
	FoundrySync bool   `mapstructure:"foundry_sync" json:"foundry_sync"`
	SessionSync bool   `mapstructure:"session_sync" json:"session_sync"`
	FoundryDir  string `mapstructure:"foundry_dir" json:"foundry_dir"`
	SessionsDir string `mapstructure:"sessions_dir" json:"sessions_dir"`
}

// Config is the full configuration document.
type Config struct {
	Security    SecurityConfig    `mapstructure:"security" json:"security"`
	Performance PerformanceConfig `mapstructure:"performance" json:"performance"`
	Quality     QualityConfig     `mapstructure:"quality" json:"quality"`
	Indexer     IndexerConfig     `mapstructure:"indexer" json:"indexer"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval" json:"retrieval"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle" json:"lifecycle"`
	Automation  AutomationConfig  `mapstructure:"automation" json:"automation"`
	Integration IntegrationConfig `mapstructure:"integration" json:"integration"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Security: SecurityConfig{
			Enabled:           true,
			SensitivePatterns: []string{"token", "password", "secret", "key", "api", "credential", "auth"},
			EncryptionEnabled: false,
			AuditLog:          true,
			AccessControl:     true,
			RateLimitPerSec:   10,
		},
		Performance: PerformanceConfig{
			CacheEnabled:     true,
			CacheMaxSize:     1000,
			CacheTTLMS:       3600000,
			LazyLoad:         true,
			PreloadHot:       true,
			PreloadThreshold: 3,
			MetricsEnabled:   true,
		},
		Quality: QualityConfig{
			ImportanceThreshold: 0.3,
			ConfidenceTracking:  true,
			Deduplication:       true,
			DedupThreshold:      0.85,
			VerificationEnabled: true,
		},
		Indexer: IndexerConfig{
			MultiLevel:       true,
			AutoUpdate:       true,
			UpdateIntervalMS: 300000,
			Categories:       []string{"daily", "learning", "company", "skills", "config", "project"},
		},
		Retrieval: RetrievalConfig{
			HybridSearch:          true,
			VectorWeight:          0.6,
			TextWeight:            0.4,
			MMRLambda:             0.7,
			TemporalDecayHalfLife: 60,
			QueryExpansion:        true,
			IntentRecognition:     true,
			MaxResults:            10,
		},
		Lifecycle: LifecycleConfig{
			P0Retention:     "permanent",
			P1RetentionDays: 90,
			P2RetentionDays: 30,
			AutoArchive:     true,
		},
		Automation: AutomationConfig{
			AutoWrite:        true,
			AutoUpdate:       true,
			AutoLink:         true,
			AutoClassify:     true,
			AutoSummarize:    true,
			SummaryThreshold: 500,
		},
		Integration: IntegrationConfig{
			FoundrySync: true,
			SessionSync: true,
		},
	}
}

// Load reads the configuration file at path, falling back to Default when
// path is empty or the file does not exist. Unknown keys are ignored;
// missing sections keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}
