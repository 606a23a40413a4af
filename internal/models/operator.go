package models

import "time"

// RiskEnvironment summarizes the workspace's current risk posture.
type RiskEnvironment string

const (
	RiskNormal     RiskEnvironment = "normal"
	RiskElevated   RiskEnvironment = "elevated"
	RiskOverloaded RiskEnvironment = "overloaded"
)

// ActiveCandidate is a compact view of a non-closed packet.
type ActiveCandidate struct {
	PacketID    string       `json:"packet_id"`
	Symbol      string       `json:"symbol"`
	Status      PacketStatus `json:"status"`
	RiskScore   *float64     `json:"risk_score"`
	OperatorFit *float64     `json:"operator_fit"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// OperatorState is the derived per-workspace summary.
type OperatorState struct {
	WorkspaceID      string
	CurrentFocus     string
	ActiveCandidates []ActiveCandidate
	RiskEnvironment  RiskEnvironment
	CognitiveLoad    float64
	AIAttentionScore float64
	ContextState     map[string]interface{}
	UpdatedAt        time.Time
}

// ExecutionOptIn reports whether the operator opted in to system-initiated execution.
func (s *OperatorState) ExecutionOptIn() bool {
	if s == nil || s.ContextState == nil {
		return false
	}
	for _, key := range []string{"execution_opt_in", "system_execution_opt_in"} {
		if v, ok := s.ContextState[key].(bool); ok && v {
			return true
		}
	}
	return false
}
