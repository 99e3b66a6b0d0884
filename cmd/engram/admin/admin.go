// Package admincmder provides administrative verbs against a running
// engram server: rebuilding the ranked index, pinning turns to tiers,
// and ending sessions.
package admincmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/config"
)

const adminLongDesc string = `Administer a running engram server.

Use subcommands to operate on the memory system directly:
  engram admin reindex               Rebuild the ranked index from the turn log
  engram admin tier <turn-id> <tier> Pin a turn to a tier
  engram admin end <session-id>      End a session, demoting its memory to cold

Examples:
  engram admin reindex
  engram admin tier 01JF8K3V9T cold --reason "user requested forget"
  engram admin end 7b6f1c2e`

const adminShortDesc string = "Administer a running engram server"

func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: adminShortDesc,
		Long:  adminLongDesc,
	}

	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newTierCmd())
	cmd.AddCommand(newEndCmd())

	return cmd
}

// resolveAPITarget applies config file and flag precedence for the
// api-target flag shared by the admin subcommands.
func resolveAPITarget(cmd *cobra.Command, apiTarget *string) error {
	if cmd.Flags().Changed("api-target") {
		return nil
	}

	configDir, _ := cmd.Flags().GetString("config-dir")
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	*apiTarget = cfg.Client.APITarget
	return nil
}

func addAPITargetFlag(cmd *cobra.Command, apiTarget *string) {
	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(apiTarget, "api-target", "a", defaults.Client.APITarget, "Engram API server URL")
}

// doJSON issues a request with an optional JSON body and decodes the
// JSON response into out when out is non-nil.
func doJSON(method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contacting engram server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
