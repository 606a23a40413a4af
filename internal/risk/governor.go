// Package risk implements the workspace risk governor that gates automated
// side effects (auto-alerts and system-initiated execution).
package risk

import (
	"context"
	"fmt"
	"time"

	"tradeflow/internal/models"
)

// Reason codes reported when a policy blocks.
const (
	ReasonRiskEnvironmentOverloaded   = "risk_environment_overloaded"
	ReasonCognitiveLoadHigh           = "cognitive_load_high"
	ReasonHourlyLimit                 = "hourly_auto_alert_limit"
	ReasonDailyLimit                  = "daily_auto_alert_limit"
	ReasonPlanRiskTooHigh             = "plan_risk_too_high"
	ReasonElevatedPlanRisk            = "elevated_environment_plan_risk"
	ReasonSystemExecutionDisabled     = "system_execution_disabled"
	ReasonSystemExecutionOptInMissing = "system_execution_opt_in_required"
)

// Thresholds configure both governor policies.
type Thresholds struct {
	MaxCognitiveLoad      float64
	MaxAutoAlertsPerHour  int
	MaxAutoAlertsPerDay   int
	MaxPlanRiskScore      float64
	ElevatedPlanRiskScore float64
	AllowSystemExecution  bool
	RequireExecutionOptIn bool
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxCognitiveLoad:      85,
		MaxAutoAlertsPerHour:  6,
		MaxAutoAlertsPerDay:   20,
		MaxPlanRiskScore:      85,
		ElevatedPlanRiskScore: 70,
		AllowSystemExecution:  true,
		RequireExecutionOptIn: true,
	}
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed    bool
	ReasonCode string
	Reason     string
}

func allow() Decision { return Decision{Allowed: true} }

func block(code, format string, args ...interface{}) Decision {
	return Decision{ReasonCode: code, Reason: fmt.Sprintf(format, args...)}
}

// AutoAlertInput holds everything the auto-alert policy looks at.
type AutoAlertInput struct {
	RiskEnvironment models.RiskEnvironment
	CognitiveLoad   float64
	AlertsLastHour  int
	AlertsToday     int
	PlanRiskScore   *float64
	Thresholds      Thresholds
}

// EvaluateAutoAlert decides whether an automatic alert may be created.
// Checks run in a fixed order and the first failure wins.
func EvaluateAutoAlert(in AutoAlertInput) Decision {
	th := in.Thresholds

	if in.RiskEnvironment == models.RiskOverloaded {
		return block(ReasonRiskEnvironmentOverloaded, "risk environment is overloaded")
	}
	if in.CognitiveLoad >= th.MaxCognitiveLoad {
		return block(ReasonCognitiveLoadHigh, "cognitive load %.0f at or above limit %.0f", in.CognitiveLoad, th.MaxCognitiveLoad)
	}
	if in.AlertsLastHour >= th.MaxAutoAlertsPerHour {
		return block(ReasonHourlyLimit, "%d auto-alerts in the last hour (max: %d)", in.AlertsLastHour, th.MaxAutoAlertsPerHour)
	}
	if in.AlertsToday >= th.MaxAutoAlertsPerDay {
		return block(ReasonDailyLimit, "%d auto-alerts today (max: %d)", in.AlertsToday, th.MaxAutoAlertsPerDay)
	}
	if in.PlanRiskScore != nil {
		score := *in.PlanRiskScore
		if score >= th.MaxPlanRiskScore {
			return block(ReasonPlanRiskTooHigh, "plan risk score %.0f at or above limit %.0f", score, th.MaxPlanRiskScore)
		}
		if in.RiskEnvironment == models.RiskElevated && score >= th.ElevatedPlanRiskScore {
			return block(ReasonElevatedPlanRisk, "plan risk score %.0f too high for elevated environment (max: %.0f)", score, th.ElevatedPlanRiskScore)
		}
	}
	return allow()
}

// EvaluateSystemExecution decides whether a trade execution event may proceed.
func EvaluateSystemExecution(isSystemActor, executionOptIn bool, th Thresholds) Decision {
	if !isSystemActor {
		return allow()
	}
	if !th.AllowSystemExecution {
		return block(ReasonSystemExecutionDisabled, "system-initiated execution is disabled")
	}
	if th.RequireExecutionOptIn && !executionOptIn {
		return block(ReasonSystemExecutionOptInMissing, "operator has not opted in to system-initiated execution")
	}
	return allow()
}

// RuntimeSource provides the data needed to compute a workspace runtime.
type RuntimeSource interface {
	GetOperatorState(ctx context.Context, workspaceID string) (*models.OperatorState, error)
	CountAutoAlertsSince(ctx context.Context, workspaceID string, since time.Time) (int, error)
}

// Runtime is the per-request governor state. It is passed explicitly through
// the orchestration chain and never shared between requests.
type Runtime struct {
	WorkspaceID     string
	RiskEnvironment models.RiskEnvironment
	CognitiveLoad   float64
	ExecutionOptIn  bool
	AlertsLastHour  int
	AlertsToday     int
	Thresholds      Thresholds
}

// LoadRuntime computes the runtime for a workspace at now.
func LoadRuntime(ctx context.Context, src RuntimeSource, workspaceID string, now time.Time, th Thresholds) (*Runtime, error) {
	rt := &Runtime{
		WorkspaceID:     workspaceID,
		RiskEnvironment: models.RiskNormal,
		Thresholds:      th,
	}

	state, err := src.GetOperatorState(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load operator state: %w", err)
	}
	if state != nil {
		if state.RiskEnvironment != "" {
			rt.RiskEnvironment = state.RiskEnvironment
		}
		rt.CognitiveLoad = state.CognitiveLoad
		rt.ExecutionOptIn = state.ExecutionOptIn()
	}

	now = now.UTC()
	rt.AlertsLastHour, err = src.CountAutoAlertsSince(ctx, workspaceID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count hourly auto-alerts: %w", err)
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rt.AlertsToday, err = src.CountAutoAlertsSince(ctx, workspaceID, midnight)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily auto-alerts: %w", err)
	}

	return rt, nil
}

// CheckAutoAlert evaluates the auto-alert policy against the runtime.
func (rt *Runtime) CheckAutoAlert(planRiskScore *float64) Decision {
	return EvaluateAutoAlert(AutoAlertInput{
		RiskEnvironment: rt.RiskEnvironment,
		CognitiveLoad:   rt.CognitiveLoad,
		AlertsLastHour:  rt.AlertsLastHour,
		AlertsToday:     rt.AlertsToday,
		PlanRiskScore:   planRiskScore,
		Thresholds:      rt.Thresholds,
	})
}

// CheckExecution evaluates the system-execution policy for env.
func (rt *Runtime) CheckExecution(env *models.Envelope) Decision {
	return EvaluateSystemExecution(env.IsSystemActor(), rt.ExecutionOptIn, rt.Thresholds)
}

// RecordAutoAlert counts a newly created auto-alert so later events in the
// same batch see the updated limits.
func (rt *Runtime) RecordAutoAlert() {
	rt.AlertsLastHour++
	rt.AlertsToday++
}
