package cli

import (
	"sort"
	"time"

	"github.com/spf13/cobra"

	"tradeflow/internal/models"
)

func newOperatorCmd(app *App) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Inspect and adjust operator state",
	}
	cmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace id (required)")
	_ = cmd.MarkPersistentFlagRequired("workspace")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the derived operator state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			state, err := engine.OperatorState(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(state)
			}
			showOperator(output, state)
			return nil
		},
	}

	var revoke bool
	optIn := &cobra.Command{
		Use:   "opt-in",
		Short: "Allow system-initiated trade execution for the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			state, err := engine.MergeOperatorContext(cmd.Context(), workspace, map[string]interface{}{
				"execution_opt_in": !revoke,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(state)
			}
			if revoke {
				output.Warning("System execution opt-in revoked for %s", workspace)
			} else {
				output.Success("✓ System execution opt-in recorded for %s", workspace)
			}
			return nil
		},
	}
	optIn.Flags().BoolVar(&revoke, "revoke", false, "withdraw the opt-in")

	cmd.AddCommand(show, optIn)
	return cmd
}

func showOperator(output *Output, s *models.OperatorState) {
	output.Bold("Operator State - %s", s.WorkspaceID)
	focus := s.CurrentFocus
	if focus == "" {
		focus = "-"
	}
	output.Printf("  Focus:            %s\n", focus)
	output.Printf("  Risk environment: %s\n", output.RiskEnvironment(s.RiskEnvironment))
	output.Printf("  Cognitive load:   %.0f\n", s.CognitiveLoad)
	output.Printf("  AI attention:     %.0f\n", s.AIAttentionScore)
	output.Printf("  Execution opt-in: %v\n", s.ExecutionOptIn())
	output.Println()

	if len(s.ActiveCandidates) > 0 {
		now := time.Now()
		table := NewTable(output, "PACKET", "SYMBOL", "STATUS", "RISK", "FIT", "UPDATED")
		for _, c := range s.ActiveCandidates {
			table.AddRow(c.PacketID, c.Symbol, output.Status(c.Status), FormatScore(c.RiskScore), FormatScore(c.OperatorFit), FormatAge(c.UpdatedAt, now))
		}
		table.Render()
		output.Println()
	}

	if len(s.ContextState) > 0 {
		output.Bold("Context")
		keys := make([]string, 0, len(s.ContextState))
		for k := range s.ContextState {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			output.Printf("  %-22s %s\n", k, FormatValue(s.ContextState[k]))
		}
	}
	if !s.UpdatedAt.IsZero() {
		output.Dim("Updated %s", FormatTime(s.UpdatedAt))
	}
}
