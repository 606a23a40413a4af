package api

import (
	"time"

	"tradeflow/internal/models"
	"tradeflow/internal/workflow"
)

type packetView struct {
	PacketID         string                 `json:"decision_packet_id"`
	Fingerprint      string                 `json:"fingerprint"`
	Symbol           string                 `json:"symbol"`
	Market           models.Market          `json:"market"`
	Status           models.PacketStatus    `json:"status"`
	SignalSource     string                 `json:"signal_source,omitempty"`
	SignalScore      *float64               `json:"signal_score"`
	Bias             string                 `json:"bias,omitempty"`
	TimeframeBias    []string               `json:"timeframe_bias,omitempty"`
	EntryZone        interface{}            `json:"entry_zone,omitempty"`
	Invalidation     interface{}            `json:"invalidation,omitempty"`
	Targets          []interface{}          `json:"targets,omitempty"`
	RiskScore        *float64               `json:"risk_score"`
	VolatilityRegime string                 `json:"volatility_regime,omitempty"`
	OperatorFit      *float64               `json:"operator_fit"`
	Stages           map[string]string      `json:"stage_event_ids"`
	LastEventID      string                 `json:"last_event_id"`
	LastEventType    models.EventType       `json:"last_event_type"`
	SourceEventCount int                    `json:"source_event_count"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Aliases          []string               `json:"aliases,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func newPacketView(p *models.DecisionPacket, aliases []string) packetView {
	stages := make(map[string]string)
	for _, st := range workflow.AllStatuses {
		if id := p.StageEventID(st); id != "" {
			stages[string(st)] = id
		}
	}
	return packetView{
		PacketID:         p.PacketID,
		Fingerprint:      p.Fingerprint,
		Symbol:           p.Symbol,
		Market:           p.Market,
		Status:           p.Status,
		SignalSource:     p.SignalSource,
		SignalScore:      p.SignalScore,
		Bias:             p.Bias,
		TimeframeBias:    p.TimeframeBias,
		EntryZone:        p.EntryZone,
		Invalidation:     p.Invalidation,
		Targets:          p.Targets,
		RiskScore:        p.RiskScore,
		VolatilityRegime: p.VolatilityRegime,
		OperatorFit:      p.OperatorFit,
		Stages:           stages,
		LastEventID:      p.LastEventID,
		LastEventType:    p.LastEventType,
		SourceEventCount: p.SourceEventCount,
		Metadata:         p.Metadata,
		Aliases:          aliases,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

type operatorView struct {
	WorkspaceID      string                   `json:"workspace_id"`
	CurrentFocus     string                   `json:"current_focus"`
	ActiveCandidates []models.ActiveCandidate `json:"active_candidates"`
	RiskEnvironment  models.RiskEnvironment   `json:"risk_environment"`
	CognitiveLoad    float64                  `json:"cognitive_load"`
	AIAttentionScore float64                  `json:"ai_attention_score"`
	ContextState     map[string]interface{}   `json:"context_state"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

func newOperatorView(s *models.OperatorState) operatorView {
	candidates := s.ActiveCandidates
	if candidates == nil {
		candidates = []models.ActiveCandidate{}
	}
	ctxState := s.ContextState
	if ctxState == nil {
		ctxState = map[string]interface{}{}
	}
	return operatorView{
		WorkspaceID:      s.WorkspaceID,
		CurrentFocus:     s.CurrentFocus,
		ActiveCandidates: candidates,
		RiskEnvironment:  s.RiskEnvironment,
		CognitiveLoad:    s.CognitiveLoad,
		AIAttentionScore: s.AIAttentionScore,
		ContextState:     ctxState,
		UpdatedAt:        s.UpdatedAt,
	}
}
