// Package chatcmder provides the chat command for interactive conversation
// backed by engram's tiered memory.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/utils"
)

var userPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")

type chatCommander struct {
	apiTarget string
	user      string
	plain     bool
	debug     bool

	logger *slog.Logger
}

// turnRequest is the API's turn submission body.
type turnRequest struct {
	Text string `json:"text"`
}

// turnResponse carries the fields of the API's turn response the chat
// loop displays.
type turnResponse struct {
	Text        string `json:"text"`
	Recognition *struct {
		PlanFromFallback bool `json:"plan_from_fallback"`
		Bundle           *struct {
			TokenCount int `json:"token_count"`
		} `json:"bundle"`
	} `json:"recognition"`
	Transitions []struct {
		TurnID string `json:"turn_id"`
		ToTier string `json:"to_tier"`
		Reason string `json:"reason"`
	} `json:"transitions"`
}

// sessionResponse mirrors the API's session JSON.
type sessionResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TurnCount int64  `json:"turn_count"`
}

const chatLongDesc string = `Start an interactive chat session with memory.

Each message runs through the engram server's full memory cycle:
recognition plans what to retrieve, a bundle of hot, warm, and cold
memory is assembled, and the response is generated with that context.

If a session attachment exists (from "engram attach"), the conversation
continues in that session. Otherwise pass --user to open a new one.

Examples:
  engram chat
  engram chat --user alice
  engram chat --api-target http://localhost:8080`

const chatShortDesc string = "Interactive chat with memory"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
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
	cmd.Flags().StringVarP(&cmder.apiTarget, "api-target", "a", defaults.Client.APITarget, "Engram API server URL")
	cmd.Flags().StringVarP(&cmder.user, "user", "u", "", "User to open a session for when none is attached")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Print responses without markdown rendering")

	return cmd
}

func (c *chatCommander) run() error {
	c.logger = logger.New(logger.WithDebug(c.debug))

	sessionID, err := c.resolveSession()
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s %s\n", cliui.KeyStyle.Render("Session:"), cliui.NameStyle.Render(sessionID))
	fmt.Printf("  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(userPrompt)
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		resp, err := c.sendTurn(sessionID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s %v\n", cliui.FailMark, err)
			continue
		}

		c.printResponse(resp)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Println()
	return nil
}

// resolveSession returns the attached session, or opens a new one for
// --user when no attachment exists.
func (c *chatCommander) resolveSession() (string, error) {
	manager := dotdir.NewManager()
	state, err := manager.LoadSessionState("")
	if err != nil {
		return "", fmt.Errorf("loading session state: %w", err)
	}

	if state != nil {
		return state.SessionID, nil
	}

	if c.user == "" {
		return "", fmt.Errorf("no session attached; run \"engram attach --user <name>\" or pass --user")
	}

	sess, err := c.startSession()
	if err != nil {
		return "", err
	}

	if err := manager.SaveSessionState(&dotdir.SessionState{
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		AttachedAt: time.Now().UTC(),
	}, ""); err != nil {
		return "", fmt.Errorf("saving session state: %w", err)
	}

	return sess.ID, nil
}

func (c *chatCommander) startSession() (*sessionResponse, error) {
	body, err := json.Marshal(map[string]string{"user_id": c.user})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := c.post(c.apiTarget+"/sessions", body, 30*time.Second)
	if err != nil {
		return nil, err
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

// sendTurn submits a message and waits for the full memory cycle.
func (c *chatCommander) sendTurn(sessionID, text string) (*turnResponse, error) {
	body, err := json.Marshal(turnRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending turn",
		"api_target", c.apiTarget,
		"session_id", sessionID,
	)

	url := fmt.Sprintf("%s/sessions/%s/turns", c.apiTarget, sessionID)

	// Generation can be slow
	resp, err := c.post(url, body, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var tr turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &tr, nil
}

func (c *chatCommander) post(url string, body []byte, timeout time.Duration) (*http.Response, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting engram server: %w", err)
	}
	return resp, nil
}

func (c *chatCommander) printResponse(resp *turnResponse) {
	if c.plain {
		fmt.Printf("\n%s\n", resp.Text)
	} else {
		rendered, err := cliui.RenderMarkdown(resp.Text)
		if err != nil {
			rendered = resp.Text
		}
		fmt.Print(rendered)
	}

	if c.debug && resp.Recognition != nil {
		detail := "model plan"
		if resp.Recognition.PlanFromFallback {
			detail = "fallback plan"
		}
		if resp.Recognition.Bundle != nil {
			detail = fmt.Sprintf("%s, %d bundle tokens", detail, resp.Recognition.Bundle.TokenCount)
		}
		fmt.Printf("  %s\n", cliui.DimStyle.Render("("+detail+")"))
	}

	for _, t := range resp.Transitions {
		fmt.Printf("  %s\n", cliui.DimStyle.Render(
			fmt.Sprintf("memory: turn %s moved to %s (%s)", utils.Truncate(t.TurnID, 12), t.ToTier, t.Reason),
		))
	}
	fmt.Println()
}
