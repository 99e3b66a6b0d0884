// Package attachcmder provides the attach subcommand for binding the CLI
// to a memory session.
package attachcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/logger"
)

type attachCommander struct {
	user      string
	sessionID string
	apiTarget string
	debug     bool

	logger *slog.Logger
}

// sessionResponse mirrors the API's session JSON for deserialization.
type sessionResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	TurnCount   int64     `json:"turn_count"`
	TotalTokens int64     `json:"total_tokens"`
}

const attachLongDesc string = `Attach the CLI to a memory session.

Creates (or resumes) a session for the given user on the engram server
and records it in the local .engram/ directory. Subsequent "engram chat"
and "engram status" invocations use the attached session.

Running attach with no --user clears the attachment so the next chat
prompts for a fresh session.

Examples:
  engram attach --user alice
  engram attach                 Clear the current attachment`

const attachShortDesc string = "Attach the CLI to a memory session"

func NewAttachCmd() *cobra.Command {
	cmder := &attachCommander{}

	cmd := &cobra.Command{
		Use:   "attach",
		Short: attachShortDesc,
		Long:  attachLongDesc,
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
				cmder.apiTarget = cfg.Client.APITarget
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&cmder.user, "user", "u", "", "User to open the session for")
	cmd.Flags().StringVarP(&cmder.apiTarget, "api-target", "a", defaults.Client.APITarget, "Engram API server URL")

	return cmd
}

func (c *attachCommander) run() error {
	c.logger = logger.New(logger.WithDebug(c.debug))

	manager := dotdir.NewManager()

	if c.user == "" {
		if err := manager.ClearSessionState(""); err != nil {
			return fmt.Errorf("clearing session state: %w", err)
		}
		fmt.Printf("  %s Cleared session attachment\n", cliui.SuccessMark)
		return nil
	}

	sess, err := c.startSession()
	if err != nil {
		return err
	}

	state := &dotdir.SessionState{
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		AttachedAt: time.Now().UTC(),
	}
	if err := manager.SaveSessionState(state, ""); err != nil {
		return fmt.Errorf("saving session state: %w", err)
	}

	fmt.Printf("\n  %s Attached to session %s %s\n\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(sess.ID),
		cliui.DimStyle.Render(fmt.Sprintf("(%d turns)", sess.TurnCount)),
	)
	return nil
}

func (c *attachCommander) startSession() (*sessionResponse, error) {
	body, err := json.Marshal(map[string]string{"user_id": c.user})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.apiTarget + "/sessions"
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting engram server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var sess sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}
