package store

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tradeflow/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tradeflow_test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Feature: workflow-engine, Property 2: Decision packet round-trip consistency
//
// Property: For any packet, upserting it and reading it back by id produces an
// equivalent packet, including nullable scores and JSON columns.
func TestProperty_PacketRoundTripConsistency(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	statusGen := gen.OneConstOf(models.StatusCandidate, models.StatusPlanned, models.StatusAlerted, models.StatusExecuted, models.StatusClosed)
	symbols := []string{"AAPL", "MSFT", "BTCUSD", "EURUSD", "NVDA"}

	seq := 0
	properties.Property("upsert then get returns the same packet", prop.ForAll(
		func(symbolIdx int, status models.PacketStatus, risk float64, withScore bool, count int) bool {
			ctx := context.Background()
			seq++
			now := time.Date(2026, 3, 2, 12, 0, seq%60, 0, time.UTC)

			p := models.DecisionPacket{
				WorkspaceID:      "ws-prop",
				PacketID:         fmt.Sprintf("dp-%d", seq),
				Fingerprint:      fmt.Sprintf("fp-%d", seq),
				Symbol:           symbols[symbolIdx%len(symbols)],
				Market:           models.MarketStocks,
				Bias:             "bullish",
				TimeframeBias:    []string{"1d", "1h"},
				EntryZone:        map[string]interface{}{"low": 189.5, "high": 191.0},
				Targets:          []interface{}{200.0, 210.0},
				RiskScore:        &risk,
				Status:           status,
				CandidateEventID: "e-1",
				LastEventID:      "e-2",
				LastEventType:    models.EventTradePlanCreated,
				SourceEventCount: count,
				Metadata:         map[string]interface{}{"workflow_id": "wf"},
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if withScore {
				score := risk / 2
				p.SignalScore = &score
			}

			if err := s.UpsertPacket(ctx, &p); err != nil {
				t.Logf("upsert: %v", err)
				return false
			}
			got, err := s.GetPacket(ctx, p.WorkspaceID, p.PacketID)
			if err != nil || got == nil {
				t.Logf("get: %v", err)
				return false
			}
			return reflect.DeepEqual(&p, got)
		},
		gen.IntRange(0, 100),
		statusGen,
		gen.Float64Range(0, 100),
		gen.Bool(),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	states, err := s.MigrationStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != len(Migrations) {
		t.Fatalf("expected %d migrations, got %d", len(Migrations), len(states))
	}
	for _, st := range states {
		if !st.Applied {
			t.Errorf("migration %d not applied", st.Version)
		}
	}
}

func TestInsertEventsIgnoresReplays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []models.Envelope{
		{
			EventID:     "e1",
			EventType:   models.EventTradeClosed,
			OccurredAt:  time.Now().UTC(),
			Actor:       models.Actor{Type: models.ActorUser},
			Correlation: models.Correlation{WorkflowID: "wf1"},
			Payload:     map[string]interface{}{},
		},
		{
			EventID:     "e2",
			EventType:   models.EventCoachAnalysisGenerated,
			OccurredAt:  time.Now().UTC(),
			Actor:       models.Actor{Type: models.ActorSystem},
			Correlation: models.Correlation{WorkflowID: "wf1", ParentEventID: "e1"},
			Payload:     map[string]interface{}{"analysis_id": "e2"},
			Synthetic:   true,
		},
	}

	n, err := s.InsertEvents(ctx, "ws1", events)
	if err != nil || n != 2 {
		t.Fatalf("first insert: n=%d err=%v", n, err)
	}
	n, err = s.InsertEvents(ctx, "ws1", events)
	if err != nil || n != 0 {
		t.Fatalf("replay insert: n=%d err=%v", n, err)
	}

	children, err := s.ListChildEvents(ctx, "ws1", models.EventCoachAnalysisGenerated, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Payload["analysis_id"] != "e2" {
		t.Fatalf("unexpected children %+v", children)
	}

	refs, err := s.ListAnalysisEvents(ctx, "ws1", models.EventCoachAnalysisGenerated, "e2")
	if err != nil || len(refs) != 1 || refs[0].EventID != "e2" {
		t.Fatalf("analysis lookup: %+v %v", refs, err)
	}

	all, err := s.ListEvents(ctx, EventFilter{WorkspaceID: "ws1", WorkflowID: "wf1"})
	if err != nil || len(all) != 2 {
		t.Fatalf("list events: %d %v", len(all), err)
	}
}

func TestAliasesAndFingerprintLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	for _, p := range []models.DecisionPacket{
		{WorkspaceID: "ws1", PacketID: "dp-old", Fingerprint: "fp", Status: models.StatusCandidate, CreatedAt: older, UpdatedAt: older},
		{WorkspaceID: "ws1", PacketID: "dp-new", Fingerprint: "fp", Status: models.StatusPlanned, CreatedAt: newer, UpdatedAt: newer},
	} {
		p := p
		if err := s.UpsertPacket(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindPacketByFingerprint(ctx, "ws1", "fp")
	if err != nil || got == nil || got.PacketID != "dp-new" {
		t.Fatalf("fingerprint lookup = %+v, %v", got, err)
	}
	if got, _ := s.FindPacketByFingerprint(ctx, "ws2", "fp"); got != nil {
		t.Fatal("fingerprint lookup must be workspace scoped")
	}

	if err := s.UpsertAlias(ctx, "ws1", "x", "dp-old"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertAlias(ctx, "ws1", "x", "dp-new"); err != nil {
		t.Fatal(err)
	}
	target, err := s.ResolveAlias(ctx, "ws1", "x")
	if err != nil || target != "dp-new" {
		t.Fatalf("alias = %q, %v", target, err)
	}
	if target, _ := s.ResolveAlias(ctx, "ws1", "unknown"); target != "" {
		t.Fatalf("unknown alias resolved to %q", target)
	}

	recent, err := s.ListRecentPackets(ctx, "ws1", []models.PacketStatus{models.StatusPlanned}, 10)
	if err != nil || len(recent) != 1 || recent[0].PacketID != "dp-new" {
		t.Fatalf("recent = %+v, %v", recent, err)
	}
}

func TestAlertsAndJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alerts := []models.Alert{
		{
			ID: "a1", WorkspaceID: "ws1", Symbol: "AAPL", ConditionType: "price_above", ConditionValue: 190,
			IsActive: true, IsSmartAlert: true, NotifyPush: true, CooldownMinutes: 60, CreatedAt: now,
			SmartAlertContext: models.SmartAlertContext{Source: models.AlertSourceWorkflow, WorkflowID: "wf1", PlanID: "p1"},
		},
		{
			ID: "a2", WorkspaceID: "ws1", Symbol: "AAPL", ConditionType: "price_below", ConditionValue: 150,
			IsActive: true, CreatedAt: now,
		},
		{
			ID: "a3", WorkspaceID: "ws1", Symbol: "MSFT", ConditionType: "price_above", ConditionValue: 400,
			IsActive: true, IsSmartAlert: true, CreatedAt: now.Add(-2 * time.Hour),
			SmartAlertContext: models.SmartAlertContext{Source: models.AlertSourceWorkflow},
		},
	}
	for i := range alerts {
		if err := s.InsertAlert(ctx, &alerts[i]); err != nil {
			t.Fatal(err)
		}
	}

	smart, err := s.ListActiveSmartAlerts(ctx, "ws1", "AAPL")
	if err != nil || len(smart) != 1 {
		t.Fatalf("smart alerts = %d, %v", len(smart), err)
	}
	if smart[0].SmartAlertContext.PlanID != "p1" {
		t.Fatalf("context not decoded: %+v", smart[0].SmartAlertContext)
	}

	n, err := s.CountAutoAlertsSince(ctx, "ws1", now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("hourly count = %d, %v", n, err)
	}

	pl := 25.0
	entries := []models.JournalEntry{
		{ID: "j1", WorkspaceID: "ws1", TradeDate: now, Symbol: "AAPL", Side: "long", TradeType: "Spot", IsOpen: true,
			Tags: []string{"auto_plan_draft", "workflow_wf1"}, CreatedAt: now, UpdatedAt: now},
		{ID: "j2", WorkspaceID: "ws1", TradeDate: now.Add(-time.Hour), Symbol: "MSFT", Side: "short", TradeType: "Spot",
			Outcome: "win", PL: &pl, CreatedAt: now, UpdatedAt: now},
	}
	for i := range entries {
		if err := s.InsertJournalEntry(ctx, &entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	open := true
	tagged, err := s.GetJournal(ctx, JournalFilter{WorkspaceID: "ws1", IsOpen: &open, Tag: "workflow_wf1"})
	if err != nil || len(tagged) != 1 || tagged[0].ID != "j1" {
		t.Fatalf("tagged = %+v, %v", tagged, err)
	}

	closed := false
	done, err := s.GetJournal(ctx, JournalFilter{WorkspaceID: "ws1", IsOpen: &closed, Limit: 20})
	if err != nil || len(done) != 1 || done[0].PL == nil || *done[0].PL != 25 {
		t.Fatalf("closed = %+v, %v", done, err)
	}

	if err := s.UpdateJournalNotes(ctx, "ws1", "j1", "Coach Analysis ID: x", now); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJournalNotes(ctx, "ws1", "missing", "x", now); err == nil {
		t.Fatal("updating a missing row must fail")
	}
}

func TestJournalFiltersMatchLiterally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	entries := []models.JournalEntry{
		{ID: "exact", Tags: []string{"plan_p1", "workflow_a%b"}, Notes: "Plan: p_1"},
		{ID: "underscore", Tags: []string{"planXp1", "workflow_aXYb"}, Notes: "Plan: pX1"},
		{ID: "case", Tags: []string{"PLAN_P1"}, Notes: "Plan: P_1"},
	}
	for i := range entries {
		e := &entries[i]
		e.WorkspaceID, e.TradeDate, e.Symbol, e.Side, e.TradeType = "ws1", now, "AAPL", "long", "Spot"
		e.IsOpen, e.CreatedAt, e.UpdatedAt = true, now, now
		if err := s.InsertJournalEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter JournalFilter
	}{
		{"underscore in tag", JournalFilter{Tag: "plan_p1"}},
		{"percent in tag", JournalFilter{Tag: "workflow_a%b"}},
		{"underscore in notes", JournalFilter{NotesContain: "p_1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.filter
			f.WorkspaceID = "ws1"
			got, err := s.GetJournal(ctx, f)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0].ID != "exact" {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestOperatorStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetOperatorState(ctx, "ws1")
	if err != nil || got != nil {
		t.Fatalf("expected no state, got %+v, %v", got, err)
	}

	state := &models.OperatorState{
		WorkspaceID:      "ws1",
		CurrentFocus:     "AAPL",
		ActiveCandidates: []models.ActiveCandidate{{PacketID: "dp1", Symbol: "AAPL", Status: models.StatusAlerted}},
		RiskEnvironment:  models.RiskElevated,
		CognitiveLoad:    51.5,
		AIAttentionScore: 40,
		ContextState:     map[string]interface{}{"execution_opt_in": true},
		UpdatedAt:        time.Now().UTC(),
	}
	if err := s.UpsertOperatorState(ctx, state); err != nil {
		t.Fatal(err)
	}

	got, err = s.GetOperatorState(ctx, "ws1")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentFocus != "AAPL" || got.RiskEnvironment != models.RiskElevated || !got.ExecutionOptIn() {
		t.Fatalf("unexpected state %+v", got)
	}
	if len(got.ActiveCandidates) != 1 || got.ActiveCandidates[0].PacketID != "dp1" {
		t.Fatalf("active candidates = %+v", got.ActiveCandidates)
	}
}
