package models

import "time"

// AlertSourceWorkflow tags smart alerts created by the workflow engine.
const AlertSourceWorkflow = "workflow_auto_alert"

// Alert represents a row in the shared alerts table.
type Alert struct {
	ID                 string
	WorkspaceID        string
	Symbol             string
	AssetType          string
	ConditionType      string // price_above, price_below, percent_change
	ConditionValue     float64
	ConditionTimeframe string
	Name               string
	Notes              string
	IsActive           bool
	IsRecurring        bool
	NotifyEmail        bool
	NotifyPush         bool
	IsSmartAlert       bool
	SmartAlertContext  SmartAlertContext
	CooldownMinutes    int
	CreatedAt          time.Time
}

// SmartAlertContext correlates an engine-created alert to its workflow.
type SmartAlertContext struct {
	Source           string  `json:"source"`
	WorkflowID       string  `json:"workflow_id,omitempty"`
	PlanID           string  `json:"plan_id,omitempty"`
	DecisionPacketID string  `json:"decision_packet_id,omitempty"`
	EventID          string  `json:"event_id,omitempty"`
	RiskScore        float64 `json:"risk_score,omitempty"`
	PriceSource      string  `json:"price_source,omitempty"`
}
