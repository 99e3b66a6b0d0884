// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	admincmder "github.com/papercomputeco/engram/cmd/engram/admin"
	attachcmder "github.com/papercomputeco/engram/cmd/engram/attach"
	chatcmder "github.com/papercomputeco/engram/cmd/engram/chat"
	configcmder "github.com/papercomputeco/engram/cmd/engram/config"
	servecmder "github.com/papercomputeco/engram/cmd/engram/serve"
	statuscmder "github.com/papercomputeco/engram/cmd/engram/status"
	versioncmder "github.com/papercomputeco/engram/cmd/version"
)

const engramLongDesc string = `Engram is tiered conversational memory for LLM assistants.

Turns flow through hot, warm, and cold memory tiers. Each user message
runs a two-pass recognition cycle that plans retrieval, assembles a
memory bundle under a token budget, and annotates the stored turn.

Run the server using:
  engram serve         Run the memory API and MCP servers

Talk to a running server using:
  engram chat          Interactive chat with memory
  engram attach        Attach the CLI to a session
  engram status        Show the attached session`

const engramShortDesc string = "Engram - Tiered Conversational Memory"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory containing the .engram/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(attachcmder.NewAttachCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(admincmder.NewAdminCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
