// Package statuscmder provides the status command for displaying the
// session the local .engram directory is attached to.
package statuscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/dotdir"
)

// statsResponse mirrors the API's session stats JSON.
type statsResponse struct {
	SessionID   string `json:"session_id"`
	TurnCount   int64  `json:"turn_count"`
	TotalTokens int64  `json:"total_tokens"`
	HotTurns    int64  `json:"hot_turns"`
	WarmTurns   int64  `json:"warm_turns"`
	ColdTurns   int64  `json:"cold_turns"`
}

const statusLongDesc string = `Show the current session attachment.

Reads the local .engram/ directory (or ~/.engram/) to display the attached
session, and queries the engram server for its tier occupancy.

If no attachment exists, indicates that the next chat will prompt for a
new session.

Examples:
  engram status`

const statusShortDesc string = "Show current session attachment"

func NewStatusCmd() *cobra.Command {
	var apiTarget string

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("api-target") {
				apiTarget = cfg.Client.APITarget
			}
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStatus(apiTarget)
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&apiTarget, "api-target", "a", defaults.Client.APITarget, "Engram API server URL")

	return cmd
}

func runStatus(apiTarget string) error {
	manager := dotdir.NewManager()

	state, err := manager.LoadSessionState("")
	if err != nil {
		return fmt.Errorf("loading session state: %w", err)
	}

	if state == nil {
		fmt.Printf("  %s No session attached. Use \"engram attach --user <name>\" first.\n", cliui.DimStyle.Render("●"))
		return nil
	}

	fmt.Printf("\n  %s  %s\n", cliui.KeyStyle.Render("Session:"), cliui.NameStyle.Render(state.SessionID))
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("User:   "), cliui.ValueStyle.Render(state.UserID))
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("Since:  "), cliui.DimStyle.Render(state.AttachedAt.Format(time.RFC3339)))

	stats, err := fetchStats(apiTarget, state.SessionID)
	if err != nil {
		fmt.Printf("\n  %s %v\n\n", cliui.FailMark, err)
		return nil
	}

	fmt.Printf("\n  %s %s turns, %s tokens\n",
		cliui.DimStyle.Render("Memory:"),
		cliui.ValueStyle.Render(strconv.FormatInt(stats.TurnCount, 10)),
		cliui.ValueStyle.Render(strconv.FormatInt(stats.TotalTokens, 10)),
	)
	fmt.Printf("  %s %d hot / %d warm / %d cold\n\n",
		cliui.DimStyle.Render("Tiers: "),
		stats.HotTurns, stats.WarmTurns, stats.ColdTurns,
	)
	return nil
}

func fetchStats(apiTarget, sessionID string) (*statsResponse, error) {
	url := fmt.Sprintf("%s/sessions/%s/stats", apiTarget, sessionID)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting engram server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return &stats, nil
}
