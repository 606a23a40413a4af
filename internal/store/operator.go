package store

import (
	"context"
	"database/sql"
	"errors"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/models"
)

// GetOperatorState returns the workspace's operator state, or nil.
func (r *Repo) GetOperatorState(ctx context.Context, workspaceID string) (*models.OperatorState, error) {
	var s models.OperatorState
	var focus, active, contextState sql.NullString
	var env string

	err := r.queryRow(ctx, `
		SELECT workspace_id, current_focus, active_candidates, risk_environment, cognitive_load,
			ai_attention_score, context_state, updated_at
		FROM operator_state WHERE workspace_id = ?
	`, workspaceID).Scan(&s.WorkspaceID, &focus, &active, &env, &s.CognitiveLoad, &s.AIAttentionScore,
		&contextState, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError("get operator state", err)
	}

	s.CurrentFocus = focus.String
	s.RiskEnvironment = models.RiskEnvironment(env)
	s.UpdatedAt = s.UpdatedAt.UTC()
	if err := decodeJSON(active, &s.ActiveCandidates); err != nil {
		return nil, err
	}
	if err := decodeJSON(contextState, &s.ContextState); err != nil {
		return nil, err
	}
	if s.ActiveCandidates == nil {
		s.ActiveCandidates = []models.ActiveCandidate{}
	}
	return &s, nil
}

// UpsertOperatorState writes the singleton operator state row.
func (r *Repo) UpsertOperatorState(ctx context.Context, s *models.OperatorState) error {
	candidates := s.ActiveCandidates
	if candidates == nil {
		candidates = []models.ActiveCandidate{}
	}
	active, err := jsonText(candidates)
	if err != nil {
		return err
	}
	contextState, err := jsonText(s.ContextState)
	if err != nil {
		return err
	}
	env := s.RiskEnvironment
	if env == "" {
		env = models.RiskNormal
	}

	_, err = r.exec(ctx, "upsert operator state", `
		INSERT INTO operator_state (
			workspace_id, current_focus, active_candidates, risk_environment, cognitive_load,
			ai_attention_score, context_state, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id) DO UPDATE SET
			current_focus = excluded.current_focus,
			active_candidates = excluded.active_candidates,
			risk_environment = excluded.risk_environment,
			cognitive_load = excluded.cognitive_load,
			ai_attention_score = excluded.ai_attention_score,
			context_state = excluded.context_state,
			updated_at = excluded.updated_at
	`, s.WorkspaceID, nullString(s.CurrentFocus), active, string(env), s.CognitiveLoad,
		s.AIAttentionScore, contextState, utc(s.UpdatedAt))
	return err
}
