package admincmder

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
)

const tierLongDesc string = `Pin a turn to a memory tier.

Moves the turn to the given tier (hot, warm, or cold) regardless of the
normal demotion rules, and records the move in the transition log with
the given reason.

Examples:
  engram admin tier 01JF8K3V9T cold --reason "user requested forget"
  engram admin tier 01JF8K3V9T hot --reason "pin for debugging"`

func newTierCmd() *cobra.Command {
	var (
		apiTarget string
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "tier <turn-id> <tier>",
		Short: "Pin a turn to a memory tier",
		Long:  tierLongDesc,
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return resolveAPITarget(cmd, &apiTarget)
		},
		RunE: func(_ *cobra.Command, args []string) error {
			return runTier(apiTarget, args[0], args[1], reason)
		},
	}

	addAPITargetFlag(cmd, &apiTarget)
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason recorded in the transition log (required)")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func runTier(apiTarget, turnID, tier, reason string) error {
	var result struct {
		TurnID   string `json:"turn_id"`
		FromTier string `json:"from_tier"`
		ToTier   string `json:"to_tier"`
	}

	url := fmt.Sprintf("%s/turns/%s/tier", apiTarget, turnID)
	body := map[string]string{"tier": tier, "reason": reason}

	if err := doJSON(http.MethodPut, url, body, &result); err != nil {
		return err
	}

	fmt.Printf("  %s Moved turn %s from %s to %s\n",
		cliui.SuccessMark, result.TurnID, result.FromTier, result.ToTier)
	return nil
}
