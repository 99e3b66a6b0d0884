package admincmder

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
)

const endLongDesc string = `End a session.

Marks the session inactive and demotes all of its remaining hot and warm
turns to cold. Ended sessions stay searchable through the user's cold
tier but accept no further turns.

Examples:
  engram admin end 7b6f1c2e`

func newEndCmd() *cobra.Command {
	var apiTarget string

	cmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a session, demoting its memory to cold",
		Long:  endLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return resolveAPITarget(cmd, &apiTarget)
		},
		RunE: func(_ *cobra.Command, args []string) error {
			return runEnd(apiTarget, args[0])
		},
	}

	addAPITargetFlag(cmd, &apiTarget)

	return cmd
}

func runEnd(apiTarget, sessionID string) error {
	var result struct {
		ID        string `json:"id"`
		TurnCount int64  `json:"turn_count"`
	}

	url := fmt.Sprintf("%s/sessions/%s/end", apiTarget, sessionID)

	if err := doJSON(http.MethodPost, url, nil, &result); err != nil {
		return err
	}

	fmt.Printf("  %s Ended session %s (%d turns moved to cold)\n",
		cliui.SuccessMark, result.ID, result.TurnCount)
	return nil
}
