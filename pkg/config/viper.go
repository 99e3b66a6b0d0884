package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/engram/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (ENGRAM_API_LISTEN, ENGRAM_STORAGE_PROVIDER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_API_LISTEN, ENGRAM_MEMORY_TOKEN_BUDGET, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// UnmarshalConfig decodes the viper state into a Config and validates it.
func UnmarshalConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Version = v.GetInt("version")

	cfg.Storage.Provider = v.GetString("storage.provider")
	cfg.Storage.SQLitePath = v.GetString("storage.sqlite_path")
	cfg.Storage.PostgresDSN = v.GetString("storage.postgres_dsn")

	cfg.API.Listen = v.GetString("api.listen")

	cfg.Memory.HotMaxTurns = v.GetInt("memory.hot_max_turns")
	cfg.Memory.HotMaxTokens = v.GetInt("memory.hot_max_tokens")
	cfg.Memory.WarmMaxResults = v.GetInt("memory.warm_max_results")
	cfg.Memory.TokenBudget = v.GetInt("memory.token_budget")

	cfg.Significance.RecencyWeight = v.GetFloat64("significance.recency_weight")
	cfg.Significance.RelevanceWeight = v.GetFloat64("significance.relevance_weight")
	cfg.Significance.CriticalityWeight = v.GetFloat64("significance.criticality_weight")
	cfg.Significance.DecayLambda = v.GetFloat64("significance.decay_lambda")

	cfg.Index.K1 = v.GetFloat64("index.k1")
	cfg.Index.B = v.GetFloat64("index.b")

	cfg.Recognition.Provider = v.GetString("recognition.provider")
	cfg.Recognition.Target = v.GetString("recognition.target")
	cfg.Recognition.Model = v.GetString("recognition.model")
	cfg.Recognition.RetryCount = v.GetInt("recognition.retry_count")
	cfg.Recognition.RetryBackoff = v.GetString("recognition.retry_backoff")
	cfg.Recognition.CallTimeout = v.GetString("recognition.call_timeout")
	cfg.Recognition.MaxResults = v.GetInt("recognition.max_results")

	cfg.Generation.Provider = v.GetString("generation.provider")
	cfg.Generation.Target = v.GetString("generation.target")
	cfg.Generation.Model = v.GetString("generation.model")

	cfg.Events.Brokers = v.GetStringSlice("events.brokers")
	cfg.Events.Topic = v.GetString("events.topic")

	cfg.Client.APITarget = v.GetString("client.api_target")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.provider", d.Storage.Provider)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Memory
	v.SetDefault("memory.hot_max_turns", d.Memory.HotMaxTurns)
	v.SetDefault("memory.hot_max_tokens", d.Memory.HotMaxTokens)
	v.SetDefault("memory.warm_max_results", d.Memory.WarmMaxResults)
	v.SetDefault("memory.token_budget", d.Memory.TokenBudget)

	// Significance
	v.SetDefault("significance.recency_weight", d.Significance.RecencyWeight)
	v.SetDefault("significance.relevance_weight", d.Significance.RelevanceWeight)
	v.SetDefault("significance.criticality_weight", d.Significance.CriticalityWeight)
	v.SetDefault("significance.decay_lambda", d.Significance.DecayLambda)

	// Index
	v.SetDefault("index.k1", d.Index.K1)
	v.SetDefault("index.b", d.Index.B)

	// Recognition
	v.SetDefault("recognition.provider", d.Recognition.Provider)
	v.SetDefault("recognition.target", d.Recognition.Target)
	v.SetDefault("recognition.model", d.Recognition.Model)
	v.SetDefault("recognition.retry_count", d.Recognition.RetryCount)
	v.SetDefault("recognition.retry_backoff", d.Recognition.RetryBackoff)
	v.SetDefault("recognition.call_timeout", d.Recognition.CallTimeout)
	v.SetDefault("recognition.max_results", d.Recognition.MaxResults)

	// Generation
	v.SetDefault("generation.provider", d.Generation.Provider)
	v.SetDefault("generation.target", d.Generation.Target)
	v.SetDefault("generation.model", d.Generation.Model)

	// Events
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)

	// Client
	v.SetDefault("client.api_target", d.Client.APITarget)
}
