package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/models"
)

const packetColumns = `workspace_id, packet_id, fingerprint, symbol, market, signal_source, signal_score,
	bias, timeframe_bias, entry_zone, invalidation, targets, risk_score, volatility_regime, operator_fit,
	status, candidate_event_id, planned_event_id, alerted_event_id, executed_event_id, closed_event_id,
	last_event_id, last_event_type, source_event_count, metadata, created_at, updated_at`

const upsertPacketSQL = `
	INSERT INTO decision_packets (` + packetColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (workspace_id, packet_id) DO UPDATE SET
		fingerprint = excluded.fingerprint,
		symbol = excluded.symbol,
		market = excluded.market,
		signal_source = excluded.signal_source,
		signal_score = excluded.signal_score,
		bias = excluded.bias,
		timeframe_bias = excluded.timeframe_bias,
		entry_zone = excluded.entry_zone,
		invalidation = excluded.invalidation,
		targets = excluded.targets,
		risk_score = excluded.risk_score,
		volatility_regime = excluded.volatility_regime,
		operator_fit = excluded.operator_fit,
		status = excluded.status,
		candidate_event_id = excluded.candidate_event_id,
		planned_event_id = excluded.planned_event_id,
		alerted_event_id = excluded.alerted_event_id,
		executed_event_id = excluded.executed_event_id,
		closed_event_id = excluded.closed_event_id,
		last_event_id = excluded.last_event_id,
		last_event_type = excluded.last_event_type,
		source_event_count = excluded.source_event_count,
		metadata = excluded.metadata,
		updated_at = excluded.updated_at`

// UpsertPacket writes a fully merged packet row.
func (r *Repo) UpsertPacket(ctx context.Context, p *models.DecisionPacket) error {
	tf, err := jsonText(nilIfEmptyStrings(p.TimeframeBias))
	if err != nil {
		return err
	}
	entry, err := jsonText(p.EntryZone)
	if err != nil {
		return err
	}
	invalidation, err := jsonText(p.Invalidation)
	if err != nil {
		return err
	}
	var targets interface{}
	if len(p.Targets) > 0 {
		if targets, err = jsonText(p.Targets); err != nil {
			return err
		}
	}
	var metadata interface{}
	if len(p.Metadata) > 0 {
		if metadata, err = jsonText(p.Metadata); err != nil {
			return err
		}
	}

	_, err = r.exec(ctx, "upsert packet", upsertPacketSQL,
		p.WorkspaceID, p.PacketID, nullString(p.Fingerprint), nullString(p.Symbol), nullString(string(p.Market)),
		nullString(p.SignalSource), nullFloat(p.SignalScore), nullString(p.Bias), tf, entry, invalidation,
		targets, nullFloat(p.RiskScore), nullString(p.VolatilityRegime), nullFloat(p.OperatorFit),
		string(p.Status), nullString(p.CandidateEventID), nullString(p.PlannedEventID),
		nullString(p.AlertedEventID), nullString(p.ExecutedEventID), nullString(p.ClosedEventID),
		nullString(p.LastEventID), nullString(string(p.LastEventType)), p.SourceEventCount, metadata,
		utc(p.CreatedAt), utc(p.UpdatedAt),
	)
	return err
}

// GetPacket returns the packet with the exact id, or nil.
func (r *Repo) GetPacket(ctx context.Context, workspaceID, packetID string) (*models.DecisionPacket, error) {
	row := r.queryRow(ctx, `SELECT `+packetColumns+` FROM decision_packets WHERE workspace_id = ? AND packet_id = ?`,
		workspaceID, packetID)
	return scanPacketRow(row)
}

// FindPacketByFingerprint returns the most recently updated packet with the
// fingerprint, or nil.
func (r *Repo) FindPacketByFingerprint(ctx context.Context, workspaceID, fingerprint string) (*models.DecisionPacket, error) {
	row := r.queryRow(ctx, `SELECT `+packetColumns+` FROM decision_packets
		WHERE workspace_id = ? AND fingerprint = ?
		ORDER BY updated_at DESC LIMIT 1`, workspaceID, fingerprint)
	return scanPacketRow(row)
}

// ListRecentPackets returns packets ordered by most recent update. A nil
// statuses list matches every status.
func (r *Repo) ListRecentPackets(ctx context.Context, workspaceID string, statuses []models.PacketStatus, limit int) ([]models.DecisionPacket, error) {
	query := `SELECT ` + packetColumns + ` FROM decision_packets WHERE workspace_id = ?`
	args := []interface{}{workspaceID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limitOr(limit, 50))

	rows, err := r.query(ctx, "list packets", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DecisionPacket
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("list packets", err)
	}
	return out, nil
}

// ResolveAlias returns the canonical id an alias points to, or "".
func (r *Repo) ResolveAlias(ctx context.Context, workspaceID, aliasID string) (string, error) {
	var packetID string
	err := r.queryRow(ctx, `SELECT packet_id FROM decision_packet_aliases WHERE workspace_id = ? AND alias_id = ?`,
		workspaceID, aliasID).Scan(&packetID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.NewStoreError("resolve alias", err)
	}
	return packetID, nil
}

// UpsertAlias points aliasID at packetID.
func (r *Repo) UpsertAlias(ctx context.Context, workspaceID, aliasID, packetID string) error {
	_, err := r.exec(ctx, "upsert alias", `
		INSERT INTO decision_packet_aliases (workspace_id, alias_id, packet_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id, alias_id) DO UPDATE SET
			packet_id = excluded.packet_id,
			updated_at = excluded.updated_at
	`, workspaceID, aliasID, packetID, time.Now().UTC())
	return err
}

// ListAliases returns every alias pointing at packetID.
func (r *Repo) ListAliases(ctx context.Context, workspaceID, packetID string) ([]string, error) {
	rows, err := r.query(ctx, "list aliases", `
		SELECT alias_id FROM decision_packet_aliases
		WHERE workspace_id = ? AND packet_id = ?
		ORDER BY alias_id
	`, workspaceID, packetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, apperrors.NewStoreError("list aliases", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPacketRow(row *sql.Row) (*models.DecisionPacket, error) {
	p, err := scanPacket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scanPacket(s rowScanner) (*models.DecisionPacket, error) {
	var p models.DecisionPacket
	var fingerprint, symbol, market, source, bias, regime sql.NullString
	var tf, entry, invalidation, targets, metadata sql.NullString
	var candidate, planned, alerted, executed, closed sql.NullString
	var lastID, lastType sql.NullString
	var signalScore, riskScore, operatorFit sql.NullFloat64
	var status string

	err := s.Scan(
		&p.WorkspaceID, &p.PacketID, &fingerprint, &symbol, &market, &source, &signalScore,
		&bias, &tf, &entry, &invalidation, &targets, &riskScore, &regime, &operatorFit,
		&status, &candidate, &planned, &alerted, &executed, &closed,
		&lastID, &lastType, &p.SourceEventCount, &metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.NewStoreError("scan packet", err)
	}

	p.Fingerprint = fingerprint.String
	p.Symbol = symbol.String
	p.Market = models.Market(market.String)
	p.SignalSource = source.String
	p.SignalScore = floatPtr(signalScore)
	p.Bias = bias.String
	p.RiskScore = floatPtr(riskScore)
	p.VolatilityRegime = regime.String
	p.OperatorFit = floatPtr(operatorFit)
	p.Status = models.PacketStatus(status)
	p.CandidateEventID = candidate.String
	p.PlannedEventID = planned.String
	p.AlertedEventID = alerted.String
	p.ExecutedEventID = executed.String
	p.ClosedEventID = closed.String
	p.LastEventID = lastID.String
	p.LastEventType = models.EventType(lastType.String)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()

	if err := decodeJSON(tf, &p.TimeframeBias); err != nil {
		return nil, err
	}
	if err := decodeJSON(entry, &p.EntryZone); err != nil {
		return nil, err
	}
	if err := decodeJSON(invalidation, &p.Invalidation); err != nil {
		return nil, err
	}
	if err := decodeJSON(targets, &p.Targets); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &p.Metadata); err != nil {
		return nil, err
	}
	return &p, nil
}

func nilIfEmptyStrings(s []string) interface{} {
	if len(s) == 0 {
		return nil
	}
	return s
}
