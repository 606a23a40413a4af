package automation

import (
	"context"
	"fmt"
	"strings"

	"tradeflow/internal/extract"
	"tradeflow/internal/models"
	"tradeflow/internal/store"
)

// Tag prefixes applied to auto-generated journal drafts.
const (
	TagAutoPlanDraft  = "auto_plan_draft"
	TagWorkflowPrefix = "workflow_"
	TagPlanPrefix     = "plan_"
	TagPacketPrefix   = "dp_"
)

const coachAnnotationHeader = "Coach Analysis ID: "

func (o *Orchestrator) planJournalDraft(ctx context.Context, e *models.Envelope) error {
	ref, ok := planRefOf(e)
	if !ok {
		return nil
	}

	planTag := TagPlanPrefix + ref.PlanID
	isOpen := true
	for _, f := range []store.JournalFilter{
		{WorkspaceID: o.workspaceID, IsOpen: &isOpen, Tag: planTag, Limit: 1},
		{WorkspaceID: o.workspaceID, IsOpen: &isOpen, Symbol: ref.Symbol, NotesContain: ref.PlanID, Limit: 1},
	} {
		existing, err := o.store.GetJournal(ctx, f)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
	}

	direction, _ := extract.FirstString(e, extract.Bias)
	side := "long"
	if extract.NormalizeBias(direction) == "bearish" {
		side = "short"
	}
	price, source := TriggerPrice(e)

	var notes strings.Builder
	notes.WriteString("Auto-generated draft from trade plan.\n")
	fmt.Fprintf(&notes, "Workflow: %s\n", ref.WorkflowID)
	fmt.Fprintf(&notes, "Plan: %s\n", ref.PlanID)
	if ref.PacketID != "" {
		fmt.Fprintf(&notes, "Decision Packet: %s\n", ref.PacketID)
	}
	if src, ok := extract.FirstString(e, extract.SignalSource); ok {
		fmt.Fprintf(&notes, "Source: %s\n", src)
	}
	fmt.Fprintf(&notes, "Direction: %s\n", side)
	fmt.Fprintf(&notes, "Entry price source: %s\n", source)
	if ref.RiskScore != nil {
		fmt.Fprintf(&notes, "Risk score: %.0f\n", *ref.RiskScore)
	}

	tags := []string{TagAutoPlanDraft, TagWorkflowPrefix + ref.WorkflowID, planTag}
	if ref.PacketID != "" {
		tags = append(tags, TagPacketPrefix+strings.TrimPrefix(ref.PacketID, TagPacketPrefix))
	}

	now := o.opts.Now()
	entry := &models.JournalEntry{
		ID:          o.opts.NewID(),
		WorkspaceID: o.workspaceID,
		TradeDate:   now,
		Symbol:      ref.Symbol,
		Side:        side,
		TradeType:   "Spot",
		Quantity:    0,
		EntryPrice:  price.Round(4).InexactFloat64(),
		Setup:       ref.PlanID,
		Notes:       strings.TrimSpace(notes.String()),
		Outcome:     "open",
		Tags:        tags,
		IsOpen:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if v, ok := extract.FirstNumber(e, extract.StopLoss); ok {
		entry.StopLoss = &v
	}
	if v, ok := firstTarget(e); ok {
		entry.Target = &v
	}
	if entry.StopLoss != nil && entry.Target != nil && entry.EntryPrice > 0 {
		riskPer := entry.EntryPrice - *entry.StopLoss
		if riskPer < 0 {
			riskPer = -riskPer
		}
		if riskPer > 0 {
			reward := *entry.Target - entry.EntryPrice
			if reward < 0 {
				reward = -reward
			}
			rr := reward / riskPer
			entry.PlannedRR = &rr
		}
	}

	if err := o.store.InsertJournalEntry(ctx, entry); err != nil {
		return err
	}
	o.result.JournalDraftsCreated++
	return nil
}

func firstTarget(e *models.Envelope) (float64, bool) {
	if v, ok := extract.FirstNumber(e, extract.FirstTarget); ok {
		return v, true
	}
	if v, ok := extract.FirstValue(e, extract.Targets); ok {
		if arr, ok := v.([]interface{}); ok && len(arr) > 0 {
			return extract.AsNumber(arr[0])
		}
	}
	return 0, false
}

func (o *Orchestrator) annotateJournal(ctx context.Context, e *models.Envelope) error {
	wf := e.Correlation.WorkflowID
	if wf == "" {
		return nil
	}
	analysisID := analysisIDOf(e)

	isOpen := true
	rows, err := o.store.GetJournal(ctx, store.JournalFilter{
		WorkspaceID: o.workspaceID,
		Tag:         TagWorkflowPrefix + wf,
		IsOpen:      &isOpen,
		Limit:       1,
	})
	if err != nil || len(rows) == 0 {
		return err
	}
	entry := rows[0]
	if strings.Contains(entry.Notes, analysisID) {
		return nil
	}

	var b strings.Builder
	b.WriteString(entry.Notes)
	if entry.Notes != "" {
		b.WriteString("\n\n")
	}
	b.WriteString(coachAnnotationHeader + analysisID)
	for _, r := range recommendationsOf(e) {
		fmt.Fprintf(&b, "\n- [%s] %s", r.Priority, r.Title)
	}

	if err := o.store.UpdateJournalNotes(ctx, o.workspaceID, entry.ID, b.String(), o.opts.Now()); err != nil {
		return err
	}
	o.result.JournalUpdates++
	return nil
}
