package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradeflow/internal/models"
	"tradeflow/internal/workflow"
)

func newPacketsCmd(app *App) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "packets",
		Short: "Inspect decision packets",
	}
	cmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace id (required)")
	_ = cmd.MarkPersistentFlagRequired("workspace")

	var limit int
	var statusFlag string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recently updated packets",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			statuses, err := parseStatuses(statusFlag)
			if err != nil {
				return err
			}
			engine, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			pkts, err := engine.ListPackets(cmd.Context(), workspace, statuses, limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(pkts)
			}
			if len(pkts) == 0 {
				output.Dim("No decision packets")
				return nil
			}

			now := time.Now()
			table := NewTable(output, "PACKET", "SYMBOL", "STATUS", "RISK", "FIT", "EVENTS", "UPDATED")
			for _, p := range pkts {
				table.AddRow(
					p.PacketID,
					p.Symbol,
					output.Status(p.Status),
					FormatScore(p.RiskScore),
					FormatScore(p.OperatorFit),
					fmt.Sprintf("%d", p.SourceEventCount),
					FormatAge(p.UpdatedAt, now),
				)
			}
			table.Render()
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum packets to show (max 200)")
	list.Flags().StringVar(&statusFlag, "status", "", "comma-separated statuses to include")

	show := &cobra.Command{
		Use:   "show <packet-id>",
		Short: "Show one packet, resolving aliases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			view, err := engine.GetPacket(cmd.Context(), workspace, args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(view)
			}
			showPacket(output, view)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func parseStatuses(raw string) ([]models.PacketStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.PacketStatus
	for _, part := range strings.Split(raw, ",") {
		st := models.PacketStatus(strings.TrimSpace(part))
		if !st.Valid() {
			return nil, fmt.Errorf("unknown packet status %q", part)
		}
		out = append(out, st)
	}
	return out, nil
}

func showPacket(output *Output, view *workflow.PacketView) {
	p := view.Packet
	output.Bold("%s  %s", p.Symbol, p.PacketID)
	output.Printf("  Status:       %s\n", output.Status(p.Status))
	output.Printf("  Market:       %s\n", p.Market)
	if p.Bias != "" {
		output.Printf("  Bias:         %s\n", p.Bias)
	}
	if p.SignalSource != "" {
		output.Printf("  Signal:       %s (score %s)\n", p.SignalSource, FormatScore(p.SignalScore))
	}
	output.Printf("  Risk score:   %s\n", FormatScore(p.RiskScore))
	output.Printf("  Operator fit: %s\n", FormatScore(p.OperatorFit))
	if p.EntryZone != nil {
		output.Printf("  Entry zone:   %s\n", FormatValue(p.EntryZone))
	}
	if p.Invalidation != nil {
		output.Printf("  Invalidation: %s\n", FormatValue(p.Invalidation))
	}
	if len(p.Targets) > 0 {
		output.Printf("  Targets:      %s\n", FormatValue(p.Targets))
	}
	output.Println()

	output.Bold("Lifecycle")
	for _, st := range workflow.AllStatuses {
		id := p.StageEventID(st)
		if id == "" {
			id = output.paintFaint("-")
		}
		output.Printf("  %-10s %s\n", st, id)
	}
	output.Println()

	output.Printf("  Events:       %d (last %s)\n", p.SourceEventCount, p.LastEventType)
	output.Printf("  Fingerprint:  %s\n", TruncateString(p.Fingerprint, 24))
	if len(view.Aliases) > 0 {
		output.Printf("  Aliases:      %s\n", strings.Join(view.Aliases, ", "))
	}
	output.Dim("  Created %s, updated %s", FormatTime(p.CreatedAt), FormatTime(p.UpdatedAt))
}
