// Package packets projects workflow events into durable decision packets.
package packets

import (
	"context"
	"fmt"
	"time"

	"tradeflow/internal/models"
)

// Store is the persistence surface the projector needs. Implementations
// return a nil packet and nil error when nothing matches.
type Store interface {
	ResolveAlias(ctx context.Context, workspaceID, aliasID string) (string, error)
	GetPacket(ctx context.Context, workspaceID, packetID string) (*models.DecisionPacket, error)
	FindPacketByFingerprint(ctx context.Context, workspaceID, fingerprint string) (*models.DecisionPacket, error)
	UpsertPacket(ctx context.Context, p *models.DecisionPacket) error
	UpsertAlias(ctx context.Context, workspaceID, aliasID, packetID string) error
}

// Projector applies events to the packets of one workspace.
type Projector struct {
	store       Store
	workspaceID string
	now         func() time.Time
}

// NewProjector creates a projector bound to a workspace.
func NewProjector(store Store, workspaceID string, now func() time.Time) *Projector {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Projector{store: store, workspaceID: workspaceID, now: now}
}

// Apply projects env onto its packet. The boolean reports whether a packet
// row was written.
func (p *Projector) Apply(ctx context.Context, env *models.Envelope) (*models.DecisionPacket, bool, error) {
	m, ok, err := BuildMutation(env)
	if err != nil || !ok {
		return nil, false, err
	}

	existing, err := p.resolve(ctx, m.PacketID, m.Fingerprint)
	if err != nil {
		return nil, false, err
	}

	canonical := m.PacketID
	if existing != nil {
		canonical = existing.PacketID
	}

	merged := Merge(existing, m, p.now())
	merged.WorkspaceID = p.workspaceID
	merged.PacketID = canonical

	if err := p.store.UpsertPacket(ctx, &merged); err != nil {
		return nil, false, fmt.Errorf("failed to upsert packet %s: %w", canonical, err)
	}
	if err := p.store.UpsertAlias(ctx, p.workspaceID, m.PacketID, canonical); err != nil {
		return nil, false, fmt.Errorf("failed to upsert alias %s: %w", m.PacketID, err)
	}
	if canonical != m.PacketID {
		if err := p.store.UpsertAlias(ctx, p.workspaceID, canonical, canonical); err != nil {
			return nil, false, fmt.Errorf("failed to upsert alias %s: %w", canonical, err)
		}
	}

	return &merged, true, nil
}

// Resolve finds a packet by alias or exact id.
func (p *Projector) Resolve(ctx context.Context, id string) (*models.DecisionPacket, error) {
	return p.resolve(ctx, id, "")
}

// resolve looks up the alias table, then the exact id, then the fingerprint.
func (p *Projector) resolve(ctx context.Context, id, fingerprint string) (*models.DecisionPacket, error) {
	if id != "" {
		target, err := p.store.ResolveAlias(ctx, p.workspaceID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve alias %s: %w", id, err)
		}
		if target != "" {
			pkt, err := p.store.GetPacket(ctx, p.workspaceID, target)
			if err != nil {
				return nil, fmt.Errorf("failed to load packet %s: %w", target, err)
			}
			if pkt != nil {
				return pkt, nil
			}
		}

		pkt, err := p.store.GetPacket(ctx, p.workspaceID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load packet %s: %w", id, err)
		}
		if pkt != nil {
			return pkt, nil
		}
	}

	if fingerprint == "" {
		return nil, nil
	}
	pkt, err := p.store.FindPacketByFingerprint(ctx, p.workspaceID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to find packet by fingerprint: %w", err)
	}
	return pkt, nil
}

// MarkAlerted raises a packet to at least alerted and stamps the alerted
// stage with eventID if unset. It reports whether the row changed.
func (p *Projector) MarkAlerted(ctx context.Context, packetID, eventID string) (bool, error) {
	pkt, err := p.Resolve(ctx, packetID)
	if err != nil || pkt == nil {
		return false, err
	}

	status := AtLeast(pkt.Status, models.StatusAlerted)
	if status == pkt.Status && pkt.AlertedEventID != "" {
		return false, nil
	}

	pkt.Status = status
	pkt.SetStageEventID(models.StatusAlerted, eventID)
	pkt.UpdatedAt = p.now()
	if err := p.store.UpsertPacket(ctx, pkt); err != nil {
		return false, fmt.Errorf("failed to mark packet %s alerted: %w", pkt.PacketID, err)
	}
	return true, nil
}

// Merge folds a mutation into an existing packet. Fields are overwritten
// only by non-empty values; status follows the lattice; stage pointers are
// first-write-wins; metadata is unioned. The fingerprint is the packet's
// identity key, so the first non-empty one is kept.
func Merge(existing *models.DecisionPacket, m *Mutation, now time.Time) models.DecisionPacket {
	var out models.DecisionPacket
	if existing != nil {
		out = *existing
		out.Metadata = copyMap(existing.Metadata)
	} else {
		out.PacketID = m.PacketID
		out.CreatedAt = now
	}
	patch := m.Patch

	if out.Fingerprint == "" {
		out.Fingerprint = patch.Fingerprint
	}
	if patch.Symbol != "" {
		out.Symbol = patch.Symbol
	}
	if patch.Market != "" {
		out.Market = patch.Market
	}
	if patch.SignalSource != "" {
		out.SignalSource = patch.SignalSource
	}
	if patch.SignalScore != nil {
		out.SignalScore = patch.SignalScore
	}
	if patch.Bias != "" {
		out.Bias = patch.Bias
	}
	if len(patch.TimeframeBias) > 0 {
		out.TimeframeBias = patch.TimeframeBias
	}
	if patch.EntryZone != nil {
		out.EntryZone = patch.EntryZone
	}
	if patch.Invalidation != nil {
		out.Invalidation = patch.Invalidation
	}
	if len(patch.Targets) > 0 {
		out.Targets = patch.Targets
	}
	if patch.RiskScore != nil {
		out.RiskScore = patch.RiskScore
	}
	if patch.VolatilityRegime != "" {
		out.VolatilityRegime = patch.VolatilityRegime
	}
	if patch.OperatorFit != nil {
		out.OperatorFit = patch.OperatorFit
	}

	out.Status = MergeStatus(out.Status, m.Status)
	if !out.Status.Valid() {
		out.Status = models.StatusCandidate
	}
	if m.Status.Valid() {
		out.SetStageEventID(m.Status, m.EventID)
	}

	if out.Metadata == nil {
		out.Metadata = map[string]interface{}{}
	}
	for k, v := range patch.Metadata {
		out.Metadata[k] = v
	}

	out.LastEventID = m.EventID
	out.LastEventType = m.EventType
	out.SourceEventCount++
	out.UpdatedAt = now
	return out
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
