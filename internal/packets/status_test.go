package packets

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tradeflow/internal/models"
)

var lattice = []models.PacketStatus{
	models.StatusCandidate,
	models.StatusPlanned,
	models.StatusAlerted,
	models.StatusExecuted,
	models.StatusClosed,
}

func rank(s models.PacketStatus) int {
	for i, l := range lattice {
		if l == s {
			return i
		}
	}
	return -1
}

func TestMergeStatusRules(t *testing.T) {
	tests := []struct {
		current, incoming, want models.PacketStatus
	}{
		{models.StatusCandidate, models.StatusPlanned, models.StatusPlanned},
		{models.StatusPlanned, models.StatusCandidate, models.StatusPlanned},
		{models.StatusAlerted, models.StatusPlanned, models.StatusAlerted},
		{models.StatusAlerted, models.StatusExecuted, models.StatusExecuted},
		{models.StatusExecuted, models.StatusAlerted, models.StatusExecuted},
		{models.StatusExecuted, models.StatusClosed, models.StatusClosed},
		{models.StatusClosed, models.StatusExecuted, models.StatusClosed},
		{models.StatusClosed, models.StatusCandidate, models.StatusClosed},
		{"", models.StatusAlerted, models.StatusAlerted},
		{models.StatusPlanned, "open", models.StatusPlanned},
		{models.StatusPlanned, "", models.StatusPlanned},
	}
	for _, tt := range tests {
		if got := MergeStatus(tt.current, tt.incoming); got != tt.want {
			t.Errorf("MergeStatus(%q, %q) = %q, want %q", tt.current, tt.incoming, got, tt.want)
		}
	}
}

func TestStatusFromEventType(t *testing.T) {
	tests := []struct {
		eventType models.EventType
		override  string
		want      models.PacketStatus
		ok        bool
	}{
		{models.EventSignalCreated, "", models.StatusCandidate, true},
		{models.EventCandidatePromoted, "", models.StatusCandidate, true},
		{models.EventTradePlanUpdated, "", models.StatusPlanned, true},
		{models.EventAlertTriggered, "", models.StatusAlerted, true},
		{models.EventTradeUpdated, "", models.StatusExecuted, true},
		{models.EventTradeClosed, "", models.StatusClosed, true},
		{models.EventJournalEntryCreated, "", "", false},
		{models.EventJournalEntryCreated, "executed", models.StatusExecuted, true},
		{models.EventTradePlanCreated, "open", models.StatusPlanned, true},
	}
	for _, tt := range tests {
		got, ok := StatusFromEventType(tt.eventType, tt.override)
		if got != tt.want || ok != tt.ok {
			t.Errorf("StatusFromEventType(%s, %q) = (%q, %v)", tt.eventType, tt.override, got, ok)
		}
	}
}

func TestReachedAtLeast(t *testing.T) {
	if !ReachedAtLeast(models.StatusAlerted, models.StatusPlanned) {
		t.Error("alerted has reached planned")
	}
	if !ReachedAtLeast(models.StatusPlanned, models.StatusPlanned) {
		t.Error("planned has reached planned")
	}
	if ReachedAtLeast(models.StatusCandidate, models.StatusAlerted) {
		t.Error("candidate has not reached alerted")
	}
	if ReachedAtLeast("", models.StatusCandidate) {
		t.Error("empty status reaches nothing")
	}
}

// Feature: workflow-engine, Property 1: Packet status is monotonic
//
// Property: folding any sequence of statuses (including unknown values) through
// MergeStatus ends at the highest stage seen, and never moves backwards.
func TestProperty_StatusIsMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	statusGen := gen.OneConstOf(
		models.StatusCandidate, models.StatusPlanned, models.StatusAlerted,
		models.StatusExecuted, models.StatusClosed, models.PacketStatus("bogus"),
	)

	properties.Property("final status is the maximum reached", prop.ForAll(
		func(seq []models.PacketStatus) bool {
			var current models.PacketStatus
			best := -1
			for _, s := range seq {
				next := MergeStatus(current, s)
				if rank(next) < rank(current) {
					return false
				}
				current = next
				if r := rank(s); r > best {
					best = r
				}
			}
			return rank(current) == best
		},
		gen.SliceOf(statusGen, reflect.TypeOf(models.PacketStatus(""))),
	))

	properties.Property("closed absorbs everything", prop.ForAll(
		func(seq []models.PacketStatus) bool {
			current := models.StatusClosed
			for _, s := range seq {
				current = MergeStatus(current, s)
			}
			return current == models.StatusClosed
		},
		gen.SliceOf(statusGen, reflect.TypeOf(models.PacketStatus(""))),
	))

	properties.TestingRun(t)
}
