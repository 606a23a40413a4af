package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/models"
)

const insertEventSQL = `
	INSERT INTO workflow_events (
		workspace_id, event_id, event_type, event_version, occurred_at,
		actor_type, actor_user_id, workflow_id, trace_id, parent_event_id,
		entity_type, entity_id, symbol, analysis_id, payload, envelope, is_synthetic, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (workspace_id, event_id) DO NOTHING`

// InsertEvents appends events to the log. Replayed event ids are no-ops.
func (r *Repo) InsertEvents(ctx context.Context, workspaceID string, events []models.Envelope) (int, error) {
	inserted := 0
	now := time.Now().UTC()
	for i := range events {
		e := &events[i]
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return inserted, fmt.Errorf("failed to encode payload of %s: %w", e.EventID, err)
		}
		envelope, err := json.Marshal(e)
		if err != nil {
			return inserted, fmt.Errorf("failed to encode envelope of %s: %w", e.EventID, err)
		}

		res, err := r.exec(ctx, "insert event", insertEventSQL,
			workspaceID, e.EventID, string(e.EventType), e.EventVersion, utc(e.OccurredAt),
			string(e.Actor.Type), nullString(e.Actor.UserID), e.Correlation.WorkflowID,
			nullString(e.Correlation.TraceID), nullString(e.Correlation.ParentEventID),
			nullString(e.Entity.Type), nullString(e.Entity.ID), nullString(e.Entity.Symbol),
			nullString(analysisRef(e)), string(payload), string(envelope), e.Synthetic, now,
		)
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// ListChildEvents returns events of eventType whose parent is parentEventID.
func (r *Repo) ListChildEvents(ctx context.Context, workspaceID string, eventType models.EventType, parentEventID string) ([]models.Envelope, error) {
	rows, err := r.query(ctx, "list child events", `
		SELECT envelope FROM workflow_events
		WHERE workspace_id = ? AND event_type = ? AND parent_event_id = ?
		ORDER BY occurred_at ASC
	`, workspaceID, string(eventType), parentEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// ListAnalysisEvents returns events of eventType whose payload references
// analysisID.
func (r *Repo) ListAnalysisEvents(ctx context.Context, workspaceID string, eventType models.EventType, analysisID string) ([]models.Envelope, error) {
	rows, err := r.query(ctx, "list analysis events", `
		SELECT envelope FROM workflow_events
		WHERE workspace_id = ? AND event_type = ? AND analysis_id = ?
		ORDER BY occurred_at ASC
	`, workspaceID, string(eventType), analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func analysisRef(e *models.Envelope) string {
	if id, ok := e.Payload["analysis_id"].(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

// ListEvents returns the most recent events matching filter, newest first.
func (r *Repo) ListEvents(ctx context.Context, filter EventFilter) ([]models.Envelope, error) {
	query := `SELECT envelope FROM workflow_events WHERE workspace_id = ?`
	args := []interface{}{filter.WorkspaceID}

	var conds []string
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, limitOr(filter.Limit, 100))

	rows, err := r.query(ctx, "list events", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows *sql.Rows) ([]models.Envelope, error) {
	var events []models.Envelope
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, apperrors.NewStoreError("scan event", err)
		}
		var e models.Envelope
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode stored envelope: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("scan event", err)
	}
	return events, nil
}
