package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/engram/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .engram/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the sorted list of all supported configuration key names.
func ValidConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target
// .engram/ directory. If the file does not exist, returns
// NewDefaultConfig() so callers always receive a fully-populated Config.
// Fields explicitly set in the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = defaults.Storage.Provider
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Memory.HotMaxTurns == 0 {
		cfg.Memory.HotMaxTurns = defaults.Memory.HotMaxTurns
	}
	if cfg.Memory.HotMaxTokens == 0 {
		cfg.Memory.HotMaxTokens = defaults.Memory.HotMaxTokens
	}
	if cfg.Memory.WarmMaxResults == 0 {
		cfg.Memory.WarmMaxResults = defaults.Memory.WarmMaxResults
	}
	if cfg.Memory.TokenBudget == 0 {
		cfg.Memory.TokenBudget = defaults.Memory.TokenBudget
	}

	// Weights default together. A file that sets any weight must set all
	// of them; patching a partial override with defaults would change the
	// sum behind the user's back.
	if cfg.Significance.RecencyWeight == 0 &&
		cfg.Significance.RelevanceWeight == 0 &&
		cfg.Significance.CriticalityWeight == 0 {
		cfg.Significance.RecencyWeight = defaults.Significance.RecencyWeight
		cfg.Significance.RelevanceWeight = defaults.Significance.RelevanceWeight
		cfg.Significance.CriticalityWeight = defaults.Significance.CriticalityWeight
	}
	if cfg.Significance.DecayLambda == 0 {
		cfg.Significance.DecayLambda = defaults.Significance.DecayLambda
	}

	if cfg.Index.K1 == 0 {
		cfg.Index.K1 = defaults.Index.K1
	}
	if cfg.Index.B == 0 {
		cfg.Index.B = defaults.Index.B
	}

	if cfg.Recognition.Provider == "" {
		cfg.Recognition.Provider = defaults.Recognition.Provider
	}
	if cfg.Recognition.Target == "" {
		cfg.Recognition.Target = defaults.Recognition.Target
	}
	if cfg.Recognition.Model == "" {
		cfg.Recognition.Model = defaults.Recognition.Model
	}
	if cfg.Recognition.RetryCount == 0 {
		cfg.Recognition.RetryCount = defaults.Recognition.RetryCount
	}
	if cfg.Recognition.RetryBackoff == "" {
		cfg.Recognition.RetryBackoff = defaults.Recognition.RetryBackoff
	}
	if cfg.Recognition.CallTimeout == "" {
		cfg.Recognition.CallTimeout = defaults.Recognition.CallTimeout
	}
	if cfg.Recognition.MaxResults == 0 {
		cfg.Recognition.MaxResults = defaults.Recognition.MaxResults
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = defaults.Generation.Provider
	}
	if cfg.Generation.Target == "" {
		cfg.Generation.Target = defaults.Generation.Target
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = defaults.Generation.Model
	}

	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaults.Events.Topic
	}

	if cfg.Client.APITarget == "" {
		cfg.Client.APITarget = defaults.Client.APITarget
	}
}

// SaveConfig persists the configuration to config.toml in the target .engram/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
