package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/models"
)

const journalColumns = `id, workspace_id, trade_date, symbol, side, trade_type, quantity, entry_price, exit_price,
	strategy, setup, notes, emotions, outcome, pl, pl_percent, tags, is_open, stop_loss, target,
	risk_amount, r_multiple, planned_rr, created_at, updated_at`

// InsertJournalEntry saves a new journal row.
func (r *Repo) InsertJournalEntry(ctx context.Context, e *models.JournalEntry) error {
	tags, err := jsonText(e.Tags)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, "insert journal entry", `
		INSERT INTO journal_entries (`+journalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.WorkspaceID, utc(e.TradeDate), e.Symbol, e.Side, e.TradeType, e.Quantity, e.EntryPrice,
		nullFloat(e.ExitPrice), nullString(e.Strategy), nullString(e.Setup), nullString(e.Notes),
		nullString(e.Emotions), nullString(e.Outcome), nullFloat(e.PL), nullFloat(e.PLPercent), tags,
		e.IsOpen, nullFloat(e.StopLoss), nullFloat(e.Target), nullFloat(e.RiskAmount),
		nullFloat(e.RMultiple), nullFloat(e.PlannedRR), utc(e.CreatedAt), utc(e.UpdatedAt))
	return err
}

// UpdateJournalNotes replaces the notes of one journal row.
func (r *Repo) UpdateJournalNotes(ctx context.Context, workspaceID, id, notes string, updatedAt time.Time) error {
	res, err := r.exec(ctx, "update journal notes", `
		UPDATE journal_entries SET notes = ?, updated_at = ? WHERE workspace_id = ? AND id = ?
	`, notes, utc(updatedAt), workspaceID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewStoreError("update journal notes", sql.ErrNoRows)
	}
	return nil
}

// GetJournal retrieves journal entries, most recent first.
func (r *Repo) GetJournal(ctx context.Context, filter JournalFilter) ([]models.JournalEntry, error) {
	query := `SELECT ` + journalColumns + ` FROM journal_entries WHERE workspace_id = ?`
	args := []interface{}{filter.WorkspaceID}

	var conds []string
	if filter.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.IsOpen != nil {
		conds = append(conds, "is_open = ?")
		args = append(args, *filter.IsOpen)
	}
	if filter.Tag != "" {
		encoded, err := json.Marshal(filter.Tag)
		if err != nil {
			return nil, apperrors.NewStoreError("get journal", err)
		}
		conds = append(conds, `tags LIKE ? ESCAPE '\'`)
		args = append(args, likeContains(string(encoded)))
	}
	if filter.NotesContain != "" {
		conds = append(conds, `notes LIKE ? ESCAPE '\'`)
		args = append(args, likeContains(filter.NotesContain))
	}
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY trade_date DESC, updated_at DESC LIMIT ?"
	args = append(args, limitOr(filter.Limit, 100))

	rows, err := r.query(ctx, "get journal", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var strategy, setup, notes, emotions, outcome, tags sql.NullString
		var exit, pl, plPct, stop, target, riskAmt, rMult, plannedRR sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.TradeDate, &e.Symbol, &e.Side, &e.TradeType,
			&e.Quantity, &e.EntryPrice, &exit, &strategy, &setup, &notes, &emotions, &outcome, &pl, &plPct,
			&tags, &e.IsOpen, &stop, &target, &riskAmt, &rMult, &plannedRR, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, apperrors.NewStoreError("scan journal entry", err)
		}
		e.ExitPrice = floatPtr(exit)
		e.Strategy = strategy.String
		e.Setup = setup.String
		e.Notes = notes.String
		e.Emotions = emotions.String
		e.Outcome = outcome.String
		e.PL = floatPtr(pl)
		e.PLPercent = floatPtr(plPct)
		e.StopLoss = floatPtr(stop)
		e.Target = floatPtr(target)
		e.RiskAmount = floatPtr(riskAmt)
		e.RMultiple = floatPtr(rMult)
		e.PlannedRR = floatPtr(plannedRR)
		e.TradeDate = e.TradeDate.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		if err := decodeJSON(tags, &e.Tags); err != nil {
			return nil, err
		}
		// LIKE is case-insensitive on SQLite
		if filter.Tag != "" && !e.HasTag(filter.Tag) {
			continue
		}
		if filter.NotesContain != "" && !strings.Contains(e.Notes, filter.NotesContain) {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("get journal", err)
	}
	return entries, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likeContains builds a LIKE pattern matching s literally anywhere.
func likeContains(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
