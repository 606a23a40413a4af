package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/models"
)

// workflowSourceMarker matches the compact JSON encoding of engine-created
// smart alert contexts.
const workflowSourceMarker = `%"source":"` + models.AlertSourceWorkflow + `"%`

// InsertAlert saves a new alert row.
func (r *Repo) InsertAlert(ctx context.Context, a *models.Alert) error {
	var smartContext interface{}
	if a.IsSmartAlert {
		b, err := json.Marshal(a.SmartAlertContext)
		if err != nil {
			return apperrors.NewStoreError("insert alert", err)
		}
		smartContext = string(b)
	}

	_, err := r.exec(ctx, "insert alert", `
		INSERT INTO alerts (
			id, workspace_id, symbol, asset_type, condition_type, condition_value, condition_timeframe,
			name, notes, is_active, is_recurring, notify_email, notify_push, is_smart_alert,
			smart_alert_context, cooldown_minutes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.WorkspaceID, a.Symbol, nullString(a.AssetType), a.ConditionType, a.ConditionValue,
		nullString(a.ConditionTimeframe), nullString(a.Name), nullString(a.Notes), a.IsActive, a.IsRecurring,
		a.NotifyEmail, a.NotifyPush, a.IsSmartAlert, smartContext, a.CooldownMinutes, utc(a.CreatedAt))
	return err
}

// ListActiveSmartAlerts returns active smart alerts, optionally for one symbol.
func (r *Repo) ListActiveSmartAlerts(ctx context.Context, workspaceID, symbol string) ([]models.Alert, error) {
	query := `
		SELECT id, workspace_id, symbol, asset_type, condition_type, condition_value, condition_timeframe,
			name, notes, is_active, is_recurring, notify_email, notify_push, is_smart_alert,
			smart_alert_context, cooldown_minutes, created_at
		FROM alerts
		WHERE workspace_id = ? AND is_active = ? AND is_smart_alert = ?`
	args := []interface{}{workspaceID, true, true}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.query(ctx, "list smart alerts", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var assetType, timeframe, name, notes, smartContext sql.NullString
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.Symbol, &assetType, &a.ConditionType, &a.ConditionValue,
			&timeframe, &name, &notes, &a.IsActive, &a.IsRecurring, &a.NotifyEmail, &a.NotifyPush,
			&a.IsSmartAlert, &smartContext, &a.CooldownMinutes, &a.CreatedAt); err != nil {
			return nil, apperrors.NewStoreError("scan alert", err)
		}
		a.AssetType = assetType.String
		a.ConditionTimeframe = timeframe.String
		a.Name = name.String
		a.Notes = notes.String
		a.CreatedAt = a.CreatedAt.UTC()
		// Alerts created elsewhere may carry free-form context; skip what
		// does not decode.
		_ = decodeJSON(smartContext, &a.SmartAlertContext)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("list smart alerts", err)
	}
	return alerts, nil
}

// CountAutoAlertsSince counts engine-created smart alerts created at or
// after since.
func (r *Repo) CountAutoAlertsSince(ctx context.Context, workspaceID string, since time.Time) (int, error) {
	var n int
	err := r.queryRow(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE workspace_id = ? AND is_smart_alert = ? AND created_at >= ? AND smart_alert_context LIKE ?
	`, workspaceID, true, utc(since), workflowSourceMarker).Scan(&n)
	if err != nil {
		return 0, apperrors.NewStoreError("count auto alerts", err)
	}
	return n, nil
}
