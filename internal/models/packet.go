package models

import "time"

// PacketStatus is a stage of the decision packet lifecycle.
type PacketStatus string

const (
	StatusCandidate PacketStatus = "candidate"
	StatusPlanned   PacketStatus = "planned"
	StatusAlerted   PacketStatus = "alerted"
	StatusExecuted  PacketStatus = "executed"
	StatusClosed    PacketStatus = "closed"
)

// Valid reports whether s is a known lifecycle stage.
func (s PacketStatus) Valid() bool {
	switch s {
	case StatusCandidate, StatusPlanned, StatusAlerted, StatusExecuted, StatusClosed:
		return true
	}
	return false
}

// Market is the asset market a packet trades in.
type Market string

const (
	MarketStocks  Market = "stocks"
	MarketCrypto  Market = "crypto"
	MarketOptions Market = "options"
	MarketForex   Market = "forex"
)

// DecisionPacket is the durable record of one trading idea.
type DecisionPacket struct {
	WorkspaceID      string
	PacketID         string
	Fingerprint      string
	Symbol           string
	Market           Market
	SignalSource     string
	SignalScore      *float64
	Bias             string
	TimeframeBias    []string
	EntryZone        interface{}
	Invalidation     interface{}
	Targets          []interface{}
	RiskScore        *float64
	VolatilityRegime string
	OperatorFit      *float64
	Status           PacketStatus

	CandidateEventID string
	PlannedEventID   string
	AlertedEventID   string
	ExecutedEventID  string
	ClosedEventID    string

	LastEventID      string
	LastEventType    EventType
	SourceEventCount int
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StageEventID returns the stage pointer for status.
func (p *DecisionPacket) StageEventID(status PacketStatus) string {
	switch status {
	case StatusCandidate:
		return p.CandidateEventID
	case StatusPlanned:
		return p.PlannedEventID
	case StatusAlerted:
		return p.AlertedEventID
	case StatusExecuted:
		return p.ExecutedEventID
	case StatusClosed:
		return p.ClosedEventID
	}
	return ""
}

// SetStageEventID stamps the stage pointer for status if it is unset.
func (p *DecisionPacket) SetStageEventID(status PacketStatus, eventID string) {
	if eventID == "" || p.StageEventID(status) != "" {
		return
	}
	switch status {
	case StatusCandidate:
		p.CandidateEventID = eventID
	case StatusPlanned:
		p.PlannedEventID = eventID
	case StatusAlerted:
		p.AlertedEventID = eventID
	case StatusExecuted:
		p.ExecutedEventID = eventID
	case StatusClosed:
		p.ClosedEventID = eventID
	}
}

// PacketAlias maps any identifier ever seen for a packet to its canonical id.
type PacketAlias struct {
	WorkspaceID string
	AliasID     string
	PacketID    string
	UpdatedAt   time.Time
}
