package workflow

import (
	"context"
	"fmt"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/models"
	"tradeflow/internal/operator"
	"tradeflow/internal/packets"
	"tradeflow/internal/store"
)

// AllStatuses lists every lifecycle stage in lattice order.
var AllStatuses = []models.PacketStatus{
	models.StatusCandidate,
	models.StatusPlanned,
	models.StatusAlerted,
	models.StatusExecuted,
	models.StatusClosed,
}

// PacketView is a packet with the identifiers that resolve to it.
type PacketView struct {
	Packet  models.DecisionPacket
	Aliases []string
}

// ListPackets returns the most recently updated packets, optionally
// restricted to statuses.
func (e *Engine) ListPackets(ctx context.Context, workspaceID string, statuses []models.PacketStatus, limit int) ([]models.DecisionPacket, error) {
	if workspaceID == "" {
		return nil, apperrors.ErrNoWorkspace
	}
	if len(statuses) == 0 {
		statuses = AllStatuses
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.store.ListRecentPackets(ctx, workspaceID, statuses, limit)
}

// GetPacket resolves id through the alias table and returns the canonical
// packet with its aliases.
func (e *Engine) GetPacket(ctx context.Context, workspaceID, id string) (*PacketView, error) {
	if workspaceID == "" {
		return nil, apperrors.ErrNoWorkspace
	}
	pkt, err := packets.NewProjector(e.store, workspaceID, e.opts.Now).Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkt == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPacketNotFound, id)
	}
	aliases, err := e.store.ListAliases(ctx, workspaceID, pkt.PacketID)
	if err != nil {
		return nil, err
	}
	return &PacketView{Packet: *pkt, Aliases: aliases}, nil
}

// OperatorState returns the stored operator state, or the defaults when the
// workspace has none yet.
func (e *Engine) OperatorState(ctx context.Context, workspaceID string) (*models.OperatorState, error) {
	if workspaceID == "" {
		return nil, apperrors.ErrNoWorkspace
	}
	state, err := e.store.GetOperatorState(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &models.OperatorState{
			WorkspaceID:      workspaceID,
			RiskEnvironment:  models.RiskNormal,
			ActiveCandidates: []models.ActiveCandidate{},
			ContextState:     map[string]interface{}{},
		}
	}
	return state, nil
}

// MergeOperatorContext unions patch into the workspace context state.
func (e *Engine) MergeOperatorContext(ctx context.Context, workspaceID string, patch map[string]interface{}) (*models.OperatorState, error) {
	if workspaceID == "" {
		return nil, apperrors.ErrNoWorkspace
	}
	var state *models.OperatorState
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		state, err = operator.MergeContext(ctx, tx, workspaceID, patch, e.opts.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	if err := e.opts.Audit.LogContextChanged(ctx, workspaceID, keys); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to write audit event")
	}
	return state, nil
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
