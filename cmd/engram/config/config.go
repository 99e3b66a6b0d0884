// Package configcmder provides the config command for managing persistent
// engram configuration stored in the .engram/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent engram configuration.

Configuration is stored as config.toml in the .engram/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  storage.provider, storage.sqlite_path, storage.postgres_dsn,
  api.listen,
  memory.hot_max_turns, memory.hot_max_tokens, memory.token_budget,
  significance.recency_weight, significance.relevance_weight,
  recognition.model, recognition.target, generation.model,
  events.topic, client.api_target

Use subcommands to get, set, or list configuration values:
  engram config set <key> <value>    Set a configuration value
  engram config get <key>            Get a configuration value
  engram config list                 List all configuration values

Examples:
  engram config set storage.provider postgres
  engram config set recognition.model llama3.2:1b
  engram config get memory.token_budget
  engram config list`

const configShortDesc string = "Manage persistent engram configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
