package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tradeflow/internal/security"
)

func newIngestCmd(app *App) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "ingest <file.json>",
		Short: "Ingest a batch of workflow events from a file",
		Long: `Ingest a batch of workflow events from a file ('-' reads stdin).

The file holds either {"events": [...]} as posted to /workflow/events, or a
bare JSON array of envelopes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := security.ValidateWorkspaceID(workspace); err != nil {
				return err
			}

			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			events, err := parseBatch(data)
			if err != nil {
				return err
			}

			engine, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := engine.Ingest(cmd.Context(), workspace, events)
			if err != nil {
				output.Error("✗ Ingest failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			output.Success("✓ Ingested %d event(s) into %s", res.SourceEventsLogged, workspace)
			output.Printf("  Events logged:        %s\n", output.Count(res.EventsLogged))
			output.Printf("  Packets upserted:     %s\n", output.Count(res.DecisionPacketsUpserted))
			output.Printf("  Auto alerts:          %s\n", output.Count(res.AutoAlertsCreated))
			output.Printf("  Journal drafts:       %s\n", output.Count(res.AutoJournalDraftsCreated))
			output.Printf("  Coach analyses:       %s\n", output.Count(res.AutoCoachAnalysesGenerated))
			output.Printf("  Coach tasks:          %s\n", output.Count(res.AutoCoachActionTasksCreated))
			output.Printf("  Journal annotations:  %s\n", output.Count(res.AutoCoachJournalUpdates))
			if res.RiskGovernorBlocks > 0 {
				output.Warning("  Governor blocks:      %d", res.RiskGovernorBlocks)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace id (required)")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// parseBatch accepts {"events": [...]} or a bare array.
func parseBatch(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("input is empty")
	}

	var events []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("failed to parse event array: %w", err)
		}
		return events, nil
	}

	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return nil, fmt.Errorf("failed to parse event batch: %w", err)
	}
	if body.Events == nil {
		return nil, fmt.Errorf("batch has no events array")
	}
	return body.Events, nil
}
