package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands.
type Flag struct {
	// Name is the long flag name (e.g. "listen").
	Name string

	// Shorthand is the one-letter short flag (e.g. "l"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "api.listen").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag registry keys to Flag structs.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddIntFlag, and
// BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen           = "listen"
	FlagStorageProvider  = "storage-provider"
	FlagSQLite           = "sqlite"
	FlagPostgresDSN      = "postgres-dsn"
	FlagHotMaxTurns      = "hot-max-turns"
	FlagHotMaxTokens     = "hot-max-tokens"
	FlagTokenBudget      = "token-budget"
	FlagRecognitionModel = "recognition-model"
	FlagGenerationModel  = "generation-model"
	FlagModelTarget      = "model-target"
	FlagEventsTopic      = "events-topic"
)

// Flags is the default registry used by the engram commands.
var Flags = FlagSet{
	FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "address the API server listens on",
	},
	FlagStorageProvider: {
		Name:        "storage-provider",
		ViperKey:    "storage.provider",
		Description: "turn store backend (sqlite, postgres, memory)",
	},
	FlagSQLite: {
		Name:        "sqlite",
		ViperKey:    "storage.sqlite_path",
		Description: "path to the sqlite database file",
	},
	FlagPostgresDSN: {
		Name:        "postgres-dsn",
		ViperKey:    "storage.postgres_dsn",
		Description: "postgres connection string",
	},
	FlagHotMaxTurns: {
		Name:        "hot-max-turns",
		ViperKey:    "memory.hot_max_turns",
		Description: "maximum turns held in the hot tier",
	},
	FlagHotMaxTokens: {
		Name:        "hot-max-tokens",
		ViperKey:    "memory.hot_max_tokens",
		Description: "maximum tokens held in the hot tier",
	},
	FlagTokenBudget: {
		Name:        "token-budget",
		ViperKey:    "memory.token_budget",
		Description: "token budget for the assembled memory bundle",
	},
	FlagRecognitionModel: {
		Name:        "recognition-model",
		ViperKey:    "recognition.model",
		Description: "model used for the recognition passes",
	},
	FlagGenerationModel: {
		Name:        "generation-model",
		ViperKey:    "generation.model",
		Description: "model used for response generation",
	},
	FlagModelTarget: {
		Name:        "model-target",
		ViperKey:    "generation.target",
		Description: "base URL of the model provider",
	},
	FlagEventsTopic: {
		Name:        "events-topic",
		ViperKey:    "events.topic",
		Description: "topic lifecycle events are published to",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddIntFlag registers an int flag on cmd from the given FlagSet.
func AddIntFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *int) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultInt(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().IntVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultInt returns the default int value for a viper key from NewDefaultConfig.
func defaultInt(viperKey string) int {
	v := viper.New()
	setViperDefaults(v)
	return v.GetInt(viperKey)
}
