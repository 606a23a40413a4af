// Package models defines the workflow event, decision packet and side-effect row types.
package models

import "time"

// EventType identifies a workflow event.
type EventType string

const (
	EventSignalCreated          EventType = "signal.created"
	EventSignalUpdated          EventType = "signal.updated"
	EventCandidateCreated       EventType = "candidate.created"
	EventCandidatePromoted      EventType = "candidate.promoted"
	EventTradePlanCreated       EventType = "trade.plan.created"
	EventTradePlanUpdated       EventType = "trade.plan.updated"
	EventAlertCreated           EventType = "alert.created"
	EventAlertTriggered         EventType = "alert.triggered"
	EventTradeExecuted          EventType = "trade.executed"
	EventTradeUpdated           EventType = "trade.updated"
	EventTradeClosed            EventType = "trade.closed"
	EventJournalEntryCreated    EventType = "journal.entry.created"
	EventJournalEntryUpdated    EventType = "journal.entry.updated"
	EventCoachAnalysisGenerated EventType = "coach.analysis.generated"
	EventCoachActionCompleted   EventType = "coach.action.completed"
	EventStrategyRuleSuggested  EventType = "strategy.rule.suggested"
	EventStrategyRuleApplied    EventType = "strategy.rule.applied"
	EventOperatorContextUpdated EventType = "operator.context.updated"
	EventAutoAlertBlocked       EventType = "auto_alert.blocked"
)

var supportedEventTypes = map[EventType]bool{
	EventSignalCreated:          true,
	EventSignalUpdated:          true,
	EventCandidateCreated:       true,
	EventCandidatePromoted:      true,
	EventTradePlanCreated:       true,
	EventTradePlanUpdated:       true,
	EventAlertCreated:           true,
	EventAlertTriggered:         true,
	EventTradeExecuted:          true,
	EventTradeUpdated:           true,
	EventTradeClosed:            true,
	EventJournalEntryCreated:    true,
	EventJournalEntryUpdated:    true,
	EventCoachAnalysisGenerated: true,
	EventCoachActionCompleted:   true,
	EventStrategyRuleSuggested:  true,
	EventStrategyRuleApplied:    true,
	EventOperatorContextUpdated: true,
	EventAutoAlertBlocked:       true,
}

// IsSupported reports whether the event type is accepted by the ingestion engine.
func (t EventType) IsSupported() bool {
	return supportedEventTypes[t]
}

// ActorType distinguishes user-initiated from system-initiated events.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Actor describes who produced an event.
type Actor struct {
	Type        ActorType `json:"type"`
	UserID      string    `json:"user_id,omitempty"`
	AnonymousID string    `json:"anonymous_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
}

// AppInfo names the emitting application.
type AppInfo struct {
	Name string `json:"name"`
	Env  string `json:"env"`
}

// PageInfo names the UI location an event came from.
type PageInfo struct {
	Route  string `json:"route,omitempty"`
	Module string `json:"module,omitempty"`
}

// EventContext carries tenant and client context.
type EventContext struct {
	TenantID string                 `json:"tenant_id"`
	App      AppInfo                `json:"app"`
	Page     PageInfo               `json:"page"`
	Device   map[string]interface{} `json:"device,omitempty"`
	Geo      map[string]interface{} `json:"geo,omitempty"`
}

// Entity is the domain object an event is about.
type Entity struct {
	Type       string `json:"type,omitempty"`
	ID         string `json:"id,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	AssetClass string `json:"asset_class,omitempty"`
}

// Correlation ties an event to its workflow and cause.
type Correlation struct {
	WorkflowID    string `json:"workflow_id"`
	TraceID       string `json:"trace_id,omitempty"`
	ParentEventID string `json:"parent_event_id,omitempty"`
}

// Envelope is a normalized workflow event.
type Envelope struct {
	EventID      string                 `json:"event_id"`
	EventType    EventType              `json:"event_type"`
	EventVersion int                    `json:"event_version"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Actor        Actor                  `json:"actor"`
	Context      EventContext           `json:"context"`
	Entity       Entity                 `json:"entity"`
	Correlation  Correlation            `json:"correlation"`
	Payload      map[string]interface{} `json:"payload"`

	// Synthetic marks events derived by the engine rather than submitted by a client.
	Synthetic bool `json:"-"`
}

// IsSystemActor reports whether the event was produced by an automated actor.
func (e *Envelope) IsSystemActor() bool {
	return e.Actor.Type == ActorSystem
}
