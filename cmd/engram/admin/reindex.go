package admincmder

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/cliui"
)

const reindexLongDesc string = `Rebuild the ranked index from the turn log.

Drops the in-memory index and repopulates it from every stored turn.
Useful after restoring a database or when index state is suspect.

Examples:
  engram admin reindex`

func newReindexCmd() *cobra.Command {
	var apiTarget string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the ranked index from the turn log",
		Long:  reindexLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return resolveAPITarget(cmd, &apiTarget)
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return runReindex(apiTarget)
		},
	}

	addAPITargetFlag(cmd, &apiTarget)

	return cmd
}

func runReindex(apiTarget string) error {
	var result struct {
		Documents int `json:"documents"`
	}

	if err := doJSON(http.MethodPost, apiTarget+"/admin/reindex", nil, &result); err != nil {
		return err
	}

	fmt.Printf("  %s Reindexed %d turns\n", cliui.SuccessMark, result.Documents)
	return nil
}
