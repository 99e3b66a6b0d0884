package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as
// config.toml in the .engram/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version      int                `toml:"version"`
	Storage      StorageConfig      `toml:"storage"`
	API          APIConfig          `toml:"api"`
	Memory       MemoryConfig       `toml:"memory"`
	Significance SignificanceConfig `toml:"significance"`
	Index        IndexConfig        `toml:"index"`
	Recognition  RecognitionConfig  `toml:"recognition"`
	Generation   GenerationConfig   `toml:"generation"`
	Events       EventsConfig       `toml:"events"`
	Client       ClientConfig       `toml:"client"`
}

// StorageConfig holds turn store settings.
type StorageConfig struct {
	// Provider selects the backend: "sqlite", "postgres", or "memory".
	Provider    string `toml:"provider,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// MemoryConfig holds the tier bounds and the bundle token budget.
type MemoryConfig struct {
	HotMaxTurns    int `toml:"hot_max_turns,omitempty"`
	HotMaxTokens   int `toml:"hot_max_tokens,omitempty"`
	WarmMaxResults int `toml:"warm_max_results,omitempty"`
	TokenBudget    int `toml:"token_budget,omitempty"`
}

// SignificanceConfig holds the composite scoring weights.
type SignificanceConfig struct {
	RecencyWeight     float64 `toml:"recency_weight,omitempty"`
	RelevanceWeight   float64 `toml:"relevance_weight,omitempty"`
	CriticalityWeight float64 `toml:"criticality_weight,omitempty"`
	DecayLambda       float64 `toml:"decay_lambda,omitempty"`
}

// IndexConfig holds the ranked index's scoring constants.
type IndexConfig struct {
	K1 float64 `toml:"k1,omitempty"`
	B  float64 `toml:"b,omitempty"`
}

// RecognitionConfig holds recognition capability settings.
type RecognitionConfig struct {
	Provider     string `toml:"provider,omitempty"`
	Target       string `toml:"target,omitempty"`
	Model        string `toml:"model,omitempty"`
	RetryCount   int    `toml:"retry_count,omitempty"`
	RetryBackoff string `toml:"retry_backoff,omitempty"`
	CallTimeout  string `toml:"call_timeout,omitempty"`
	MaxResults   int    `toml:"max_results,omitempty"`
}

// GenerationConfig holds generation capability settings.
type GenerationConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// EventsConfig holds event stream settings. An empty broker list disables
// publishing.
type EventsConfig struct {
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running
// engram server.
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider": {
		get: func(c *Config) string { return c.Storage.Provider },
		set: func(c *Config, v string) error { c.Storage.Provider = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"memory.hot_max_turns": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.HotMaxTurns) },
		set: func(c *Config, v string) error { return setInt(&c.Memory.HotMaxTurns, "memory.hot_max_turns", v) },
	},
	"memory.hot_max_tokens": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.HotMaxTokens) },
		set: func(c *Config, v string) error { return setInt(&c.Memory.HotMaxTokens, "memory.hot_max_tokens", v) },
	},
	"memory.warm_max_results": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.WarmMaxResults) },
		set: func(c *Config, v string) error { return setInt(&c.Memory.WarmMaxResults, "memory.warm_max_results", v) },
	},
	"memory.token_budget": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.TokenBudget) },
		set: func(c *Config, v string) error { return setInt(&c.Memory.TokenBudget, "memory.token_budget", v) },
	},
	"significance.recency_weight": {
		get: func(c *Config) string { return formatFloat(c.Significance.RecencyWeight) },
		set: func(c *Config, v string) error {
			return setFloat(&c.Significance.RecencyWeight, "significance.recency_weight", v)
		},
	},
	"significance.relevance_weight": {
		get: func(c *Config) string { return formatFloat(c.Significance.RelevanceWeight) },
		set: func(c *Config, v string) error {
			return setFloat(&c.Significance.RelevanceWeight, "significance.relevance_weight", v)
		},
	},
	"significance.criticality_weight": {
		get: func(c *Config) string { return formatFloat(c.Significance.CriticalityWeight) },
		set: func(c *Config, v string) error {
			return setFloat(&c.Significance.CriticalityWeight, "significance.criticality_weight", v)
		},
	},
	"significance.decay_lambda": {
		get: func(c *Config) string { return formatFloat(c.Significance.DecayLambda) },
		set: func(c *Config, v string) error {
			return setFloat(&c.Significance.DecayLambda, "significance.decay_lambda", v)
		},
	},
	"index.k1": {
		get: func(c *Config) string { return formatFloat(c.Index.K1) },
		set: func(c *Config, v string) error { return setFloat(&c.Index.K1, "index.k1", v) },
	},
	"index.b": {
		get: func(c *Config) string { return formatFloat(c.Index.B) },
		set: func(c *Config, v string) error { return setFloat(&c.Index.B, "index.b", v) },
	},
	"recognition.provider": {
		get: func(c *Config) string { return c.Recognition.Provider },
		set: func(c *Config, v string) error { c.Recognition.Provider = v; return nil },
	},
	"recognition.target": {
		get: func(c *Config) string { return c.Recognition.Target },
		set: func(c *Config, v string) error { c.Recognition.Target = v; return nil },
	},
	"recognition.model": {
		get: func(c *Config) string { return c.Recognition.Model },
		set: func(c *Config, v string) error { c.Recognition.Model = v; return nil },
	},
	"generation.provider": {
		get: func(c *Config) string { return c.Generation.Provider },
		set: func(c *Config, v string) error { c.Generation.Provider = v; return nil },
	},
	"generation.target": {
		get: func(c *Config) string { return c.Generation.Target },
		set: func(c *Config, v string) error { c.Generation.Target = v; return nil },
	},
	"generation.model": {
		get: func(c *Config) string { return c.Generation.Model },
		set: func(c *Config, v string) error { c.Generation.Model = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
}

func setInt(target *int, key, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*target = n
	return nil
}

func setFloat(target *float64, key, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*target = f
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
