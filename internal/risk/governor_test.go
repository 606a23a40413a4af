package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tradeflow/internal/models"
)

func score(v float64) *float64 { return &v }

func TestEvaluateAutoAlertOrder(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name string
		in   AutoAlertInput
		want string
	}{
		{"allowed", AutoAlertInput{RiskEnvironment: models.RiskNormal, PlanRiskScore: score(40)}, ""},
		{"overloaded beats everything", AutoAlertInput{RiskEnvironment: models.RiskOverloaded, CognitiveLoad: 99, AlertsLastHour: 10}, ReasonRiskEnvironmentOverloaded},
		{"cognitive load at limit", AutoAlertInput{CognitiveLoad: 85, AlertsLastHour: 10}, ReasonCognitiveLoadHigh},
		{"hourly before daily", AutoAlertInput{AlertsLastHour: 6, AlertsToday: 30}, ReasonHourlyLimit},
		{"daily", AutoAlertInput{AlertsLastHour: 1, AlertsToday: 20}, ReasonDailyLimit},
		{"plan risk", AutoAlertInput{PlanRiskScore: score(85)}, ReasonPlanRiskTooHigh},
		{"elevated plan risk", AutoAlertInput{RiskEnvironment: models.RiskElevated, PlanRiskScore: score(70)}, ReasonElevatedPlanRisk},
		{"elevated low risk", AutoAlertInput{RiskEnvironment: models.RiskElevated, PlanRiskScore: score(69)}, ""},
		{"elevated without score", AutoAlertInput{RiskEnvironment: models.RiskElevated}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Thresholds = th
			d := EvaluateAutoAlert(tt.in)
			if tt.want == "" {
				if !d.Allowed {
					t.Fatalf("expected allowed, got %s (%s)", d.ReasonCode, d.Reason)
				}
				return
			}
			if d.Allowed || d.ReasonCode != tt.want {
				t.Fatalf("got %+v, want reason %s", d, tt.want)
			}
			if d.Reason == "" {
				t.Error("blocked decision must carry a reason")
			}
		})
	}
}

func TestEvaluateSystemExecution(t *testing.T) {
	th := DefaultThresholds()

	if d := EvaluateSystemExecution(false, false, th); !d.Allowed {
		t.Fatal("user actors are never gated")
	}
	if d := EvaluateSystemExecution(true, false, th); d.Allowed || d.ReasonCode != ReasonSystemExecutionOptInMissing {
		t.Fatalf("got %+v", d)
	}
	if d := EvaluateSystemExecution(true, true, th); !d.Allowed {
		t.Fatalf("opted-in system execution should pass: %+v", d)
	}

	th.AllowSystemExecution = false
	if d := EvaluateSystemExecution(true, true, th); d.ReasonCode != ReasonSystemExecutionDisabled {
		t.Fatalf("got %+v", d)
	}

	th = DefaultThresholds()
	th.RequireExecutionOptIn = false
	if d := EvaluateSystemExecution(true, false, th); !d.Allowed {
		t.Fatalf("opt-in not required: %+v", d)
	}
}

// Feature: workflow-engine, Property 3: Auto-alert policy is total and consistent
//
// Property: every input yields exactly one decision; a block always names one of
// the known reason codes and an allow never carries one.
func TestProperty_AutoAlertPolicyIsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	known := map[string]bool{
		ReasonRiskEnvironmentOverloaded: true,
		ReasonCognitiveLoadHigh:         true,
		ReasonHourlyLimit:               true,
		ReasonDailyLimit:                true,
		ReasonPlanRiskTooHigh:           true,
		ReasonElevatedPlanRisk:          true,
	}

	properties.Property("decision is allowed xor carries a known reason", prop.ForAll(
		func(env string, load float64, hour, day int, plan float64) bool {
			d := EvaluateAutoAlert(AutoAlertInput{
				RiskEnvironment: models.RiskEnvironment(env),
				CognitiveLoad:   load,
				AlertsLastHour:  hour,
				AlertsToday:     day,
				PlanRiskScore:   &plan,
				Thresholds:      DefaultThresholds(),
			})
			if d.Allowed {
				return d.ReasonCode == ""
			}
			return known[d.ReasonCode]
		},
		gen.OneConstOf("normal", "elevated", "overloaded"),
		gen.Float64Range(0, 100),
		gen.IntRange(0, 10),
		gen.IntRange(0, 30),
		gen.Float64Range(0, 100),
	))

	properties.Property("lowering load and counts never turns allow into block", prop.ForAll(
		func(load float64, hour, day int) bool {
			base := AutoAlertInput{
				RiskEnvironment: models.RiskNormal,
				CognitiveLoad:   load,
				AlertsLastHour:  hour,
				AlertsToday:     day,
				Thresholds:      DefaultThresholds(),
			}
			if !EvaluateAutoAlert(base).Allowed {
				return true
			}
			base.CognitiveLoad = load / 2
			base.AlertsLastHour = hour / 2
			base.AlertsToday = day / 2
			return EvaluateAutoAlert(base).Allowed
		},
		gen.Float64Range(0, 100),
		gen.IntRange(0, 10),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}

type fakeSource struct {
	state  *models.OperatorState
	counts map[int64]int
	err    error
}

func (f *fakeSource) GetOperatorState(ctx context.Context, workspaceID string) (*models.OperatorState, error) {
	return f.state, f.err
}

func (f *fakeSource) CountAutoAlertsSince(ctx context.Context, workspaceID string, since time.Time) (int, error) {
	return f.counts[since.Unix()], nil
}

func TestLoadRuntime(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	src := &fakeSource{
		state: &models.OperatorState{
			RiskEnvironment: models.RiskElevated,
			CognitiveLoad:   42,
			ContextState:    map[string]interface{}{"execution_opt_in": true},
		},
		counts: map[int64]int{
			now.Add(-time.Hour).Unix():                         2,
			time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).Unix(): 7,
		},
	}

	rt, err := LoadRuntime(context.Background(), src, "ws1", now, DefaultThresholds())
	if err != nil {
		t.Fatalf("load runtime: %v", err)
	}
	if rt.RiskEnvironment != models.RiskElevated || rt.CognitiveLoad != 42 || !rt.ExecutionOptIn {
		t.Fatalf("unexpected runtime %+v", rt)
	}
	if rt.AlertsLastHour != 2 || rt.AlertsToday != 7 {
		t.Fatalf("counts = %d/%d", rt.AlertsLastHour, rt.AlertsToday)
	}

	rt.RecordAutoAlert()
	if rt.AlertsLastHour != 3 || rt.AlertsToday != 8 {
		t.Fatalf("RecordAutoAlert did not increment: %d/%d", rt.AlertsLastHour, rt.AlertsToday)
	}
}

func TestLoadRuntimeDefaultsWithoutState(t *testing.T) {
	rt, err := LoadRuntime(context.Background(), &fakeSource{}, "ws1", time.Now(), DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	if rt.RiskEnvironment != models.RiskNormal || rt.CognitiveLoad != 0 || rt.ExecutionOptIn {
		t.Fatalf("unexpected defaults %+v", rt)
	}

	_, err = LoadRuntime(context.Background(), &fakeSource{err: errors.New("boom")}, "ws1", time.Now(), DefaultThresholds())
	if err == nil {
		t.Fatal("expected error from source")
	}
}

func TestRuntimeHitsHourlyLimitAfterRecording(t *testing.T) {
	rt := &Runtime{RiskEnvironment: models.RiskNormal, AlertsLastHour: 5, Thresholds: DefaultThresholds()}
	if !rt.CheckAutoAlert(nil).Allowed {
		t.Fatal("fifth alert should be allowed")
	}
	rt.RecordAutoAlert()
	if d := rt.CheckAutoAlert(nil); d.Allowed || d.ReasonCode != ReasonHourlyLimit {
		t.Fatalf("expected hourly block, got %+v", d)
	}
}
