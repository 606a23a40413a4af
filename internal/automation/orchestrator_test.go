package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/models"
	"tradeflow/internal/packets"
	"tradeflow/internal/risk"
	"tradeflow/internal/store"
)

type memStore struct {
	alerts  []models.Alert
	journal []models.JournalEntry
	events  []models.Envelope
}

func (m *memStore) ListActiveSmartAlerts(ctx context.Context, ws, symbol string) ([]models.Alert, error) {
	var out []models.Alert
	for _, a := range m.alerts {
		if a.WorkspaceID == ws && (symbol == "" || a.Symbol == symbol) && a.IsActive && a.IsSmartAlert {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *memStore) GetJournal(ctx context.Context, f store.JournalFilter) ([]models.JournalEntry, error) {
	var out []models.JournalEntry
	for _, e := range m.journal {
		if e.WorkspaceID != f.WorkspaceID {
			continue
		}
		if f.Symbol != "" && e.Symbol != f.Symbol {
			continue
		}
		if f.Tag != "" && !e.HasTag(f.Tag) {
			continue
		}
		if f.NotesContain != "" && !strings.Contains(e.Notes, f.NotesContain) {
			continue
		}
		if f.IsOpen != nil && e.IsOpen != *f.IsOpen {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TradeDate.Equal(out[j].TradeDate) {
			return out[i].TradeDate.After(out[j].TradeDate)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) InsertJournalEntry(ctx context.Context, e *models.JournalEntry) error {
	m.journal = append(m.journal, *e)
	return nil
}

func (m *memStore) UpdateJournalNotes(ctx context.Context, ws, id, notes string, updatedAt time.Time) error {
	for i := range m.journal {
		if m.journal[i].WorkspaceID == ws && m.journal[i].ID == id {
			m.journal[i].Notes = notes
			m.journal[i].UpdatedAt = updatedAt
			return nil
		}
	}
	return fmt.Errorf("journal entry %s not found", id)
}

func (m *memStore) ListChildEvents(ctx context.Context, ws string, t models.EventType, parent string) ([]models.Envelope, error) {
	var out []models.Envelope
	for _, e := range m.events {
		if e.EventType == t && e.Correlation.ParentEventID == parent {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListAnalysisEvents(ctx context.Context, ws string, t models.EventType, analysisID string) ([]models.Envelope, error) {
	var out []models.Envelope
	for _, e := range m.events {
		if e.EventType == t && e.Payload["analysis_id"] == analysisID {
			out = append(out, e)
		}
	}
	return out, nil
}

func testOptions() Options {
	opts := DefaultOptions()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	opts.Now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	n := 0
	opts.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return opts
}

func normalRuntime() *risk.Runtime {
	return &risk.Runtime{
		WorkspaceID:     "ws1",
		RiskEnvironment: models.RiskNormal,
		Thresholds:      risk.DefaultThresholds(),
	}
}

func event(t *testing.T, eventType models.EventType, eventID, payload string) models.Envelope {
	t.Helper()
	env := models.Envelope{
		EventID:     eventID,
		EventType:   eventType,
		OccurredAt:  time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Actor:       models.Actor{Type: models.ActorUser, UserID: "u1"},
		Correlation: models.Correlation{WorkflowID: "wf1"},
	}
	require.NoError(t, json.Unmarshal([]byte(payload), &env.Payload))
	return env
}

const aaplPlan = `{
	"plan_id": "plan-1",
	"symbol": "AAPL",
	"bias": "long",
	"entry": {"low": 190, "high": 192},
	"stop": 185,
	"target": 200,
	"risk_score": 40
}`

func TestPlanCreatesAlertAndJournalDraft(t *testing.T) {
	s := &memStore{}
	plan := event(t, models.EventTradePlanCreated, "evt-plan", aaplPlan)

	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{plan})
	require.NoError(t, err)

	assert.Equal(t, 1, res.AlertsCreated)
	assert.Equal(t, 1, res.JournalDraftsCreated)
	require.Len(t, s.alerts, 1)
	a := s.alerts[0]
	assert.Equal(t, "AAPL", a.Symbol)
	assert.Equal(t, "price_above", a.ConditionType)
	assert.Equal(t, 191.0, a.ConditionValue)
	assert.True(t, a.IsSmartAlert)
	assert.Equal(t, models.AlertSourceWorkflow, a.SmartAlertContext.Source)
	assert.Equal(t, PriceFromEntryRange, a.SmartAlertContext.PriceSource)
	assert.Equal(t, "plan-1", a.SmartAlertContext.PlanID)

	packetID := packets.FallbackID("wf1", "AAPL")
	assert.Equal(t, []AlertedPacket{{PacketID: packetID, EventID: "evt-plan"}}, res.AlertedPackets)

	require.Len(t, s.journal, 1)
	j := s.journal[0]
	assert.Equal(t, "long", j.Side)
	assert.True(t, j.IsOpen)
	assert.Equal(t, "open", j.Outcome)
	assert.Equal(t, 191.0, j.EntryPrice)
	require.NotNil(t, j.StopLoss)
	require.NotNil(t, j.Target)
	require.NotNil(t, j.PlannedRR)
	assert.Equal(t, 185.0, *j.StopLoss)
	assert.Equal(t, 200.0, *j.Target)
	assert.InDelta(t, 1.5, *j.PlannedRR, 1e-9)
	assert.ElementsMatch(t, []string{TagAutoPlanDraft, "workflow_wf1", "plan_plan-1", packetID}, j.Tags)
}

func TestPlanReplayIsIdempotent(t *testing.T) {
	s := &memStore{}
	plan := event(t, models.EventTradePlanCreated, "evt-plan", aaplPlan)

	_, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{plan})
	require.NoError(t, err)

	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{plan})
	require.NoError(t, err)

	assert.Equal(t, 0, res.AlertsCreated)
	assert.Equal(t, 0, res.JournalDraftsCreated)
	assert.Len(t, s.alerts, 1)
	assert.Len(t, s.journal, 1)
	// the existing alert still confirms the packet as alerted
	assert.Len(t, res.AlertedPackets, 1)
}

func TestPlanReplayWithChangedSymbolKeepsOneAlert(t *testing.T) {
	s := &memStore{}
	plan := event(t, models.EventTradePlanCreated, "evt-plan", aaplPlan)
	_, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{plan})
	require.NoError(t, err)

	renamed := event(t, models.EventTradePlanCreated, "evt-plan-2", `{"plan_id": "plan-1", "symbol": "AAPL.US", "entry": 191}`)
	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{renamed})
	require.NoError(t, err)
	assert.Zero(t, res.AlertsCreated)
	assert.Len(t, s.alerts, 1)
}

func TestJournalDraftDedupFindsOldDraft(t *testing.T) {
	s := &memStore{}
	s.journal = append(s.journal, models.JournalEntry{
		ID:          "old-draft",
		WorkspaceID: "ws1",
		TradeDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Symbol:      "AAPL",
		Tags:        []string{TagAutoPlanDraft, TagPlanPrefix + "plan-1"},
		IsOpen:      true,
	})
	for i := 0; i < 250; i++ {
		s.journal = append(s.journal, models.JournalEntry{
			ID:          fmt.Sprintf("open-%d", i),
			WorkspaceID: "ws1",
			TradeDate:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			Symbol:      "AAPL",
			IsOpen:      true,
		})
	}

	plan := event(t, models.EventTradePlanCreated, "evt-plan", aaplPlan)
	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{plan})
	require.NoError(t, err)
	assert.Zero(t, res.JournalDraftsCreated)
	assert.Len(t, s.journal, 251)
}

func TestDuplicatePlansInOneBatch(t *testing.T) {
	s := &memStore{}
	first := event(t, models.EventTradePlanCreated, "evt-1", aaplPlan)
	second := event(t, models.EventTradePlanCreated, "evt-2", aaplPlan)

	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlertsCreated)
	assert.Equal(t, 1, res.JournalDraftsCreated)
}

func TestGovernorBlockEmitsAuditEvent(t *testing.T) {
	s := &memStore{}
	rt := normalRuntime()
	rt.RiskEnvironment = models.RiskOverloaded
	plan := event(t, models.EventTradePlanCreated, "evt-plan", aaplPlan)

	res, err := New(s, "ws1", rt, testOptions()).Run(context.Background(), []models.Envelope{plan})
	require.NoError(t, err)

	assert.Equal(t, 0, res.AlertsCreated)
	assert.Equal(t, 1, res.GovernorBlocks)
	assert.Empty(t, s.alerts)
	assert.Empty(t, res.AlertedPackets)
	assert.Equal(t, 1, res.JournalDraftsCreated)

	require.Len(t, res.Events, 1)
	blocked := res.Events[0]
	assert.Equal(t, models.EventAutoAlertBlocked, blocked.EventType)
	assert.True(t, blocked.Synthetic)
	assert.Equal(t, models.ActorSystem, blocked.Actor.Type)
	assert.Equal(t, "evt-plan", blocked.Correlation.ParentEventID)
	assert.Equal(t, risk.ReasonRiskEnvironmentOverloaded, blocked.Payload["reason_code"])
}

func TestHourlyLimitAppliesWithinBatch(t *testing.T) {
	s := &memStore{}
	rt := normalRuntime()
	rt.AlertsLastHour = rt.Thresholds.MaxAutoAlertsPerHour - 1

	var batch []models.Envelope
	for i, sym := range []string{"AAPL", "MSFT"} {
		payload := fmt.Sprintf(`{"plan_id":"plan-%d","symbol":"%s","entry":100}`, i, sym)
		batch = append(batch, event(t, models.EventTradePlanCreated, fmt.Sprintf("evt-%d", i), payload))
	}

	res, err := New(s, "ws1", rt, testOptions()).Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlertsCreated)
	assert.Equal(t, 1, res.GovernorBlocks)
	assert.Equal(t, risk.ReasonHourlyLimit, res.Events[0].Payload["reason_code"])
}

func TestTogglesDisableAutomations(t *testing.T) {
	s := &memStore{}
	opts := testOptions()
	opts.AutoAlerts = false
	opts.AutoJournal = false
	plan := event(t, models.EventTradePlanCreated, "evt-plan", aaplPlan)

	res, err := New(s, "ws1", normalRuntime(), opts).Run(context.Background(), []models.Envelope{plan})
	require.NoError(t, err)
	assert.Zero(t, res.AlertsCreated)
	assert.Zero(t, res.JournalDraftsCreated)
	assert.Empty(t, s.alerts)
	assert.Empty(t, s.journal)
}

func closedRow(id string, pl float64, day int) models.JournalEntry {
	return models.JournalEntry{
		ID:          id,
		WorkspaceID: "ws1",
		TradeDate:   time.Date(2026, 2, day, 0, 0, 0, 0, time.UTC),
		Symbol:      "AAPL",
		PL:          &pl,
		Outcome:     "closed",
	}
}

func TestTradeClosedDerivesAnalysisAnnotationAndTasks(t *testing.T) {
	s := &memStore{journal: []models.JournalEntry{
		closedRow("j1", 100, 1),
		closedRow("j2", -50, 2),
		closedRow("j3", -80, 3),
		{
			ID:          "draft",
			WorkspaceID: "ws1",
			TradeDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Symbol:      "AAPL",
			Notes:       "Auto-generated draft from trade plan.",
			Tags:        []string{TagAutoPlanDraft, "workflow_wf1"},
			IsOpen:      true,
		},
	}}
	closed := event(t, models.EventTradeClosed, "evt-close", `{"symbol":"AAPL","pnl":-80}`)

	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{closed})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CoachAnalyses)
	assert.Equal(t, 2, res.CoachTasks)
	assert.Equal(t, 1, res.JournalUpdates)
	require.Len(t, res.Events, 3)

	analysis := res.Events[0]
	assert.Equal(t, models.EventCoachAnalysisGenerated, analysis.EventType)
	assert.Equal(t, "evt-close", analysis.Correlation.ParentEventID)
	assert.Equal(t, analysis.EventID, analysis.Payload["analysis_id"])

	var actions []string
	for _, e := range res.Events[1:] {
		assert.Equal(t, models.EventStrategyRuleSuggested, e.EventType)
		assert.Equal(t, analysis.EventID, e.Correlation.ParentEventID)
		actions = append(actions, e.Payload["action"].(string))
	}
	assert.Equal(t, []string{ActionCollectMoreData, ActionTightenEntryFilter}, actions)

	var draft models.JournalEntry
	for _, j := range s.journal {
		if j.ID == "draft" {
			draft = j
		}
	}
	assert.Contains(t, draft.Notes, coachAnnotationHeader+analysis.EventID)
	assert.Contains(t, draft.Notes, "Tighten entry filter")

	// persist the derived events, then replay the close
	s.events = append(s.events, res.Events...)
	res, err = New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{closed})
	require.NoError(t, err)
	assert.Zero(t, res.CoachAnalyses)
	assert.Zero(t, res.CoachTasks)
	assert.Empty(t, res.Events)
}

func TestCoachAnalysisReplayDoesNotDuplicate(t *testing.T) {
	s := &memStore{}
	closed := event(t, models.EventTradeClosed, "evt-close", `{"symbol":"AAPL"}`)

	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{closed, closed})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CoachAnalyses)
}

func TestSubmittedAnalysisTasksDedupByAction(t *testing.T) {
	s := &memStore{}
	analysis := event(t, models.EventCoachAnalysisGenerated, "evt-analysis", `{
		"analysis_id": "an-1",
		"recommendations": [
			{"action": "improve_reward_risk", "title": "Improve reward:risk", "priority": "high"},
			{"action": "improve_reward_risk", "title": "Improve reward:risk again", "priority": "high"},
			{"action": "tighten_entry_filter", "title": "Tighten entry filter", "priority": "medium"},
			{"action": "keep_position_sizing", "title": "Keep sizing", "priority": "low"}
		]
	}`)
	s.events = append(s.events, models.Envelope{
		EventID:     "prior",
		EventType:   models.EventStrategyRuleSuggested,
		Correlation: models.Correlation{WorkflowID: "wf1", ParentEventID: "evt-analysis"},
		Payload:     map[string]interface{}{"action": "tighten_entry_filter"},
	})

	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{analysis})
	require.NoError(t, err)

	require.Equal(t, 1, res.CoachTasks)
	assert.Equal(t, "improve_reward_risk", res.Events[0].Payload["action"])
	assert.Equal(t, "an-1", res.Events[0].Payload["analysis_id"])
}

func TestResubmittedAnalysisDoesNotRepeatTasks(t *testing.T) {
	s := &memStore{}
	payload := `{
		"analysis_id": "an-1",
		"recommendations": [
			{"action": "improve_reward_risk", "title": "Improve reward:risk", "priority": "high"}
		]
	}`

	first := event(t, models.EventCoachAnalysisGenerated, "ev-1", payload)
	res, err := New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{first})
	require.NoError(t, err)
	require.Equal(t, 1, res.CoachTasks)
	s.events = append(s.events, res.Events...)

	second := event(t, models.EventCoachAnalysisGenerated, "ev-2", payload)
	res, err = New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{second})
	require.NoError(t, err)
	assert.Zero(t, res.CoachTasks)
	assert.Empty(t, res.Events)

	// both copies in one batch
	s = &memStore{}
	res, err = New(s, "ws1", normalRuntime(), testOptions()).Run(context.Background(), []models.Envelope{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CoachTasks)
}

func TestComputeCoachStats(t *testing.T) {
	rows := []models.JournalEntry{
		closedRow("a", 120, 1),
		closedRow("b", 80, 2),
		closedRow("c", -40, 3),
		closedRow("d", -60, 4),
		{ID: "no-pl"},
	}
	st := ComputeCoachStats(rows)

	assert.Equal(t, 4, st.SampleSize)
	assert.Equal(t, 2, st.Wins)
	assert.Equal(t, 2, st.Losses)
	assert.True(t, st.WinRate.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, st.AvgWin.Equal(decimal.NewFromInt(100)))
	assert.True(t, st.AvgLoss.Equal(decimal.NewFromInt(50)))
	assert.True(t, st.Expectancy.Equal(decimal.NewFromInt(25)), st.Expectancy.String())
}

func TestRecommendations(t *testing.T) {
	d := decimal.NewFromFloat
	tests := []struct {
		name string
		st   CoachStats
		want []string
	}{
		{"empty", CoachStats{}, []string{ActionCollectMoreData}},
		{"healthy", CoachStats{SampleSize: 10, WinRate: d(0.6), AvgWin: d(100), AvgLoss: d(50), Expectancy: d(40)},
			[]string{ActionKeepPositionSizing}},
		{"losing", CoachStats{SampleSize: 10, WinRate: d(0.3), AvgWin: d(50), AvgLoss: d(100), Expectancy: d(-55)},
			[]string{ActionImproveRewardRisk, ActionTightenEntryFilter}},
		{"flat", CoachStats{SampleSize: 10, WinRate: d(0.5), AvgWin: d(50), AvgLoss: d(50)},
			[]string{ActionReviewTradeDiscipline}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, r := range Recommendations(tt.st) {
				got = append(got, r.Action)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriggerPrice(t *testing.T) {
	tests := []struct {
		payload string
		price   string
		source  string
	}{
		{`{"entry": 101.5}`, "101.5", PriceFromEntryZone},
		{`{"entry": "99.25"}`, "99.25", PriceFromEntryZone},
		{`{"entry": {"zone": 42}}`, "42", PriceFromEntryZone},
		{`{"trade_plan": {"entry": {"low": 10, "high": 11}}}`, "10.5", PriceFromEntryRange},
		{`{"current_price": 77}`, "77", PriceFromCurrentPrice},
		{`{}`, "0", PriceFromDefault},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			e := event(t, models.EventTradePlanCreated, "e", tt.payload)
			price, source := TriggerPrice(&e)
			assert.True(t, price.Equal(decimal.RequireFromString(tt.price)), price.String())
			assert.Equal(t, tt.source, source)
		})
	}
}
