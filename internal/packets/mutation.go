package packets

import (
	"time"

	"tradeflow/internal/extract"
	"tradeflow/internal/models"
)

// Mutation is the packet change implied by one event.
type Mutation struct {
	PacketID    string
	Status      models.PacketStatus
	Fingerprint string
	Patch       models.DecisionPacket
	EventID     string
	EventType   models.EventType
	OccurredAt  time.Time
}

// PacketIDFor returns the packet id an event refers to, falling back to
// the derived id when the event implies a status but names no packet.
func PacketIDFor(env *models.Envelope) (string, bool) {
	if id, ok := extract.FirstString(env, extract.PacketID); ok {
		return id, true
	}
	override, _ := extract.FirstString(env, extract.StatusOverride)
	if _, ok := StatusFromEventType(env.EventType, override); !ok {
		return "", false
	}
	return FallbackID(env.Correlation.WorkflowID, extract.SymbolOf(env)), true
}

// BuildMutation extracts the packet mutation carried by env. It returns
// false when the event names no packet and implies no status.
func BuildMutation(env *models.Envelope) (*Mutation, bool, error) {
	override, _ := extract.FirstString(env, extract.StatusOverride)
	status, hasStatus := StatusFromEventType(env.EventType, override)
	id, hasID := extract.FirstString(env, extract.PacketID)
	if !hasID && !hasStatus {
		return nil, false, nil
	}

	symbol := extract.SymbolOf(env)
	if !hasID {
		id = FallbackID(env.Correlation.WorkflowID, symbol)
	}

	patch := models.DecisionPacket{
		PacketID: id,
		Symbol:   symbol,
		Status:   status,
	}
	if s, ok := extract.FirstString(env, extract.Market); ok {
		patch.Market = extract.NormalizeMarket(s)
	}
	patch.SignalSource, _ = extract.FirstString(env, extract.SignalSource)
	if v, ok := extract.FirstNumber(env, extract.SignalScore); ok {
		patch.SignalScore = &v
	}
	if s, ok := extract.FirstString(env, extract.Bias); ok {
		patch.Bias = extract.NormalizeBias(s)
	}
	if v, ok := extract.FirstValue(env, extract.TimeframeBias); ok {
		patch.TimeframeBias = extract.StringList(v, false)
	}
	patch.EntryZone, _ = extract.FirstValue(env, extract.EntryZone)
	patch.Invalidation, _ = extract.FirstValue(env, extract.Invalidation)
	if v, ok := extract.FirstValue(env, extract.Targets); ok {
		if arr, ok := v.([]interface{}); ok {
			patch.Targets = arr
		} else {
			patch.Targets = []interface{}{v}
		}
	}
	if v, ok := extract.FirstNumber(env, extract.RiskScore); ok {
		patch.RiskScore = &v
	}
	patch.VolatilityRegime, _ = extract.FirstString(env, extract.VolatilityRegime)
	if v, ok := extract.FirstNumber(env, extract.OperatorFit); ok {
		patch.OperatorFit = &v
	}
	patch.Metadata = mutationMetadata(env)

	fp, err := Fingerprint(FingerprintInput{
		Symbol:        patch.Symbol,
		SignalSource:  patch.SignalSource,
		Bias:          patch.Bias,
		TimeframeBias: patch.TimeframeBias,
		EntryZone:     patch.EntryZone,
		Invalidation:  patch.Invalidation,
		RiskScore:     patch.RiskScore,
	})
	if err != nil {
		return nil, false, err
	}
	patch.Fingerprint = fp

	return &Mutation{
		PacketID:    id,
		Status:      status,
		Fingerprint: fp,
		Patch:       patch,
		EventID:     env.EventID,
		EventType:   env.EventType,
		OccurredAt:  env.OccurredAt,
	}, true, nil
}

func mutationMetadata(env *models.Envelope) map[string]interface{} {
	meta := map[string]interface{}{}
	if m := extract.Object(env.Payload, "decision_packet", "metadata"); m != nil {
		for k, v := range m {
			meta[k] = v
		}
	}
	if m := extract.Object(env.Payload, "metadata"); m != nil {
		for k, v := range m {
			meta[k] = v
		}
	}
	meta["workflow_id"] = env.Correlation.WorkflowID
	if planID, ok := extract.FirstString(env, extract.PlanID); ok {
		meta["plan_id"] = planID
	}
	if env.EventType == models.EventCandidateCreated {
		if r, ok := extract.PayloadString("result")(env); ok {
			meta["candidate_result"] = r
		}
		if c, ok := extract.PayloadNumber("final_confidence")(env); ok {
			meta["final_confidence"] = c
		}
	}
	return meta
}
