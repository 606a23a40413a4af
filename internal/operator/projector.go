// Package operator recomputes the per-workspace operator state summary.
package operator

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradeflow/internal/models"
	"tradeflow/internal/packets"
)

// MaxActiveCandidates caps the active candidate list.
const MaxActiveCandidates = 8

// ActiveStatuses are the packet statuses considered active.
var ActiveStatuses = []models.PacketStatus{
	models.StatusCandidate,
	models.StatusPlanned,
	models.StatusAlerted,
	models.StatusExecuted,
}

// Store is the persistence surface of the projector.
type Store interface {
	ListRecentPackets(ctx context.Context, workspaceID string, statuses []models.PacketStatus, limit int) ([]models.DecisionPacket, error)
	GetOperatorState(ctx context.Context, workspaceID string) (*models.OperatorState, error)
	UpsertOperatorState(ctx context.Context, s *models.OperatorState) error
}

// Summary is the derived view over the active packets.
type Summary struct {
	CurrentFocus     string
	ActiveCandidates []models.ActiveCandidate
	RiskEnvironment  models.RiskEnvironment
	CognitiveLoad    float64
	AIAttentionScore float64
}

// Summarize derives the operator summary from active packets ordered most
// recently updated first.
func Summarize(active []models.DecisionPacket) Summary {
	if len(active) > MaxActiveCandidates {
		active = active[:MaxActiveCandidates]
	}

	var (
		plannedOrHigher int
		alertedOrHigher int
		executed        int
		riskSum         float64
		riskN           int
		focus           *models.DecisionPacket
	)

	candidates := make([]models.ActiveCandidate, 0, len(active))
	for i := range active {
		p := &active[i]
		candidates = append(candidates, models.ActiveCandidate{
			PacketID:    p.PacketID,
			Symbol:      p.Symbol,
			Status:      p.Status,
			RiskScore:   p.RiskScore,
			OperatorFit: p.OperatorFit,
			UpdatedAt:   p.UpdatedAt,
		})
		if packets.ReachedAtLeast(p.Status, models.StatusPlanned) {
			plannedOrHigher++
		}
		if packets.ReachedAtLeast(p.Status, models.StatusAlerted) {
			alertedOrHigher++
		}
		if p.Status == models.StatusExecuted {
			executed++
		}
		if p.RiskScore != nil {
			riskSum += *p.RiskScore
			riskN++
		}
		if focus == nil || (p.Status != focus.Status && packets.ReachedAtLeast(p.Status, focus.Status)) {
			focus = p
		}
	}

	avgRisk := 0.0
	if riskN > 0 {
		avgRisk = riskSum / float64(riskN)
	}

	s := Summary{
		ActiveCandidates: candidates,
		RiskEnvironment:  models.RiskNormal,
		CognitiveLoad:    clamp(18*float64(plannedOrHigher) + 22*float64(alertedOrHigher) + 0.45*avgRisk),
		AIAttentionScore: clamp(10*float64(len(active)) + 15*float64(alertedOrHigher) + 12*float64(executed) + 0.35*avgRisk),
	}
	switch {
	case alertedOrHigher >= 3 || avgRisk >= 75:
		s.RiskEnvironment = models.RiskOverloaded
	case plannedOrHigher >= 2 || avgRisk >= 60:
		s.RiskEnvironment = models.RiskElevated
	}
	if focus != nil {
		s.CurrentFocus = focus.Symbol
	}
	return s
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, math.Round(v*100)/100))
}

// Project recomputes and persists the operator state for a workspace.
func Project(ctx context.Context, store Store, workspaceID string, lastEventType models.EventType, now time.Time) (*models.OperatorState, error) {
	active, err := store.ListRecentPackets(ctx, workspaceID, ActiveStatuses, MaxActiveCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to list active packets: %w", err)
	}
	existing, err := store.GetOperatorState(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load operator state: %w", err)
	}

	sum := Summarize(active)
	contextState := map[string]interface{}{}
	if existing != nil {
		for k, v := range existing.ContextState {
			contextState[k] = v
		}
	}
	contextState["active_candidate_count"] = len(sum.ActiveCandidates)
	contextState["last_projection_at"] = now.UTC().Format(time.RFC3339)
	if lastEventType != "" {
		contextState["last_event_type"] = string(lastEventType)
	}

	state := &models.OperatorState{
		WorkspaceID:      workspaceID,
		CurrentFocus:     sum.CurrentFocus,
		ActiveCandidates: sum.ActiveCandidates,
		RiskEnvironment:  sum.RiskEnvironment,
		CognitiveLoad:    sum.CognitiveLoad,
		AIAttentionScore: sum.AIAttentionScore,
		ContextState:     contextState,
		UpdatedAt:        now.UTC(),
	}
	if err := store.UpsertOperatorState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save operator state: %w", err)
	}
	return state, nil
}

// ContextStore is what MergeContext needs.
type ContextStore interface {
	GetOperatorState(ctx context.Context, workspaceID string) (*models.OperatorState, error)
	UpsertOperatorState(ctx context.Context, s *models.OperatorState) error
}

// MergeContext unions patch into the workspace's context_state without
// recomputing the summary. Patch keys win.
func MergeContext(ctx context.Context, store ContextStore, workspaceID string, patch map[string]interface{}, now time.Time) (*models.OperatorState, error) {
	state, err := store.GetOperatorState(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load operator state: %w", err)
	}
	if state == nil {
		state = &models.OperatorState{
			WorkspaceID:     workspaceID,
			RiskEnvironment: models.RiskNormal,
		}
	}
	if state.ContextState == nil {
		state.ContextState = map[string]interface{}{}
	}
	for k, v := range patch {
		state.ContextState[k] = v
	}
	state.UpdatedAt = now.UTC()
	if err := store.UpsertOperatorState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save operator state: %w", err)
	}
	return state, nil
}
