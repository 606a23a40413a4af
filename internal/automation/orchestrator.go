// Package automation derives follow-up events and side-effect rows from
// workflow events: auto-alerts, journal drafts, coach analyses and coach
// action tasks.
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradeflow/internal/models"
	"tradeflow/internal/risk"
	"tradeflow/internal/store"
)

// SystemActorID identifies the engine as the actor of derived events.
const SystemActorID = "workflow-engine"

// Store is the persistence surface the orchestrator needs.
type Store interface {
	ListActiveSmartAlerts(ctx context.Context, workspaceID, symbol string) ([]models.Alert, error)
	InsertAlert(ctx context.Context, a *models.Alert) error
	GetJournal(ctx context.Context, filter store.JournalFilter) ([]models.JournalEntry, error)
	InsertJournalEntry(ctx context.Context, e *models.JournalEntry) error
	UpdateJournalNotes(ctx context.Context, workspaceID, id, notes string, updatedAt time.Time) error
	ListChildEvents(ctx context.Context, workspaceID string, eventType models.EventType, parentEventID string) ([]models.Envelope, error)
	ListAnalysisEvents(ctx context.Context, workspaceID string, eventType models.EventType, analysisID string) ([]models.Envelope, error)
}

// Options toggles individual automations.
type Options struct {
	AutoAlerts  bool
	AutoJournal bool
	AutoCoach   bool
	Now         func() time.Time
	NewID       func() string
}

// DefaultOptions enables every automation.
func DefaultOptions() Options {
	return Options{AutoAlerts: true, AutoJournal: true, AutoCoach: true}
}

// AlertedPacket is a packet confirmed to have an active smart alert.
type AlertedPacket struct {
	PacketID string
	EventID  string
}

// Result collects what a run produced.
type Result struct {
	Events               []models.Envelope
	AlertedPackets       []AlertedPacket
	AlertsCreated        int
	JournalDraftsCreated int
	CoachAnalyses        int
	CoachTasks           int
	JournalUpdates       int
	GovernorBlocks       int
}

// Orchestrator runs the automations for one request.
type Orchestrator struct {
	store       Store
	workspaceID string
	runtime     *risk.Runtime
	opts        Options
	result      Result
}

// New creates an orchestrator for a workspace. The runtime is mutated as
// auto-alerts are created.
func New(s Store, workspaceID string, rt *risk.Runtime, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Orchestrator{store: s, workspaceID: workspaceID, runtime: rt, opts: opts}
}

// Run processes the originals in order, then every event derived along the
// way, so derived coach analyses are annotated and turned into tasks.
func (o *Orchestrator) Run(ctx context.Context, events []models.Envelope) (*Result, error) {
	for i := range events {
		if err := o.handle(ctx, &events[i]); err != nil {
			return nil, err
		}
	}
	for i := 0; i < len(o.result.Events); i++ {
		e := o.result.Events[i]
		if err := o.handle(ctx, &e); err != nil {
			return nil, err
		}
	}
	res := o.result
	return &res, nil
}

func (o *Orchestrator) handle(ctx context.Context, e *models.Envelope) error {
	switch e.EventType {
	case models.EventTradePlanCreated:
		if o.opts.AutoAlerts {
			if err := o.planAlert(ctx, e); err != nil {
				return fmt.Errorf("failed to derive auto-alert for %s: %w", e.EventID, err)
			}
		}
		if o.opts.AutoJournal {
			if err := o.planJournalDraft(ctx, e); err != nil {
				return fmt.Errorf("failed to derive journal draft for %s: %w", e.EventID, err)
			}
		}
	case models.EventTradeClosed:
		if o.opts.AutoCoach {
			if err := o.coachAnalysis(ctx, e); err != nil {
				return fmt.Errorf("failed to derive coach analysis for %s: %w", e.EventID, err)
			}
		}
	case models.EventCoachAnalysisGenerated:
		if o.opts.AutoJournal {
			if err := o.annotateJournal(ctx, e); err != nil {
				return fmt.Errorf("failed to annotate journal for %s: %w", e.EventID, err)
			}
		}
		if o.opts.AutoCoach {
			if err := o.coachTasks(ctx, e); err != nil {
				return fmt.Errorf("failed to derive coach tasks for %s: %w", e.EventID, err)
			}
		}
	}
	return nil
}

// derive builds a synthetic event caused by parent.
func (o *Orchestrator) derive(parent *models.Envelope, t models.EventType, payload map[string]interface{}) models.Envelope {
	return models.Envelope{
		EventID:      o.opts.NewID(),
		EventType:    t,
		EventVersion: 1,
		OccurredAt:   o.opts.Now(),
		Actor:        models.Actor{Type: models.ActorSystem, UserID: SystemActorID},
		Context:      parent.Context,
		Entity:       parent.Entity,
		Correlation: models.Correlation{
			WorkflowID:    parent.Correlation.WorkflowID,
			TraceID:       parent.Correlation.TraceID,
			ParentEventID: parent.EventID,
		},
		Payload:   payload,
		Synthetic: true,
	}
}

func (o *Orchestrator) emit(e models.Envelope) {
	o.result.Events = append(o.result.Events, e)
}

// pendingChildren returns derived events of type t whose parent is parentID.
func (o *Orchestrator) pendingChildren(t models.EventType, parentID string) []models.Envelope {
	var out []models.Envelope
	for _, e := range o.result.Events {
		if e.EventType == t && e.Correlation.ParentEventID == parentID {
			out = append(out, e)
		}
	}
	return out
}
