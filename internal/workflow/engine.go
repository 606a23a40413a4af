// Package workflow runs one ingestion request end to end: normalization,
// the system-execution gate, automations, the event log write, decision
// packet projection and the operator state projection.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tradeflow/internal/automation"
	"tradeflow/internal/envelope"
	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/extract"
	"tradeflow/internal/logging"
	"tradeflow/internal/models"
	"tradeflow/internal/operator"
	"tradeflow/internal/packets"
	"tradeflow/internal/risk"
	"tradeflow/internal/security"
	"tradeflow/internal/store"
	"tradeflow/internal/telemetry"
)

// ExecutionBlockedKind tags the audit event persisted when the governor
// rejects a system execution.
const ExecutionBlockedKind = "risk_governor.execution_blocked"

// Options configures an Engine.
type Options struct {
	Thresholds  risk.Thresholds
	AutoAlerts  bool
	AutoJournal bool
	AutoCoach   bool
	MaxEvents   int

	Logger  zerolog.Logger
	Audit   *security.AuditLogger
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics

	Now   func() time.Time
	NewID func() string
}

// DefaultOptions returns options with production thresholds and every
// automation enabled.
func DefaultOptions() Options {
	return Options{
		Thresholds:  risk.DefaultThresholds(),
		AutoAlerts:  true,
		AutoJournal: true,
		AutoCoach:   true,
		MaxEvents:   envelope.MaxBatchSize,
		Logger:      zerolog.Nop(),
	}
}

// Result reports what one batch produced.
type Result struct {
	OK                          bool `json:"ok"`
	EventsLogged                int  `json:"eventsLogged"`
	SourceEventsLogged          int  `json:"sourceEventsLogged"`
	DecisionPacketsUpserted     int  `json:"decisionPacketsUpserted"`
	AutoAlertsCreated           int  `json:"autoAlertsCreated"`
	AutoJournalDraftsCreated    int  `json:"autoJournalDraftsCreated"`
	AutoCoachAnalysesGenerated  int  `json:"autoCoachAnalysesGenerated"`
	AutoCoachActionTasksCreated int  `json:"autoCoachActionTasksCreated"`
	AutoCoachJournalUpdates     int  `json:"autoCoachJournalUpdates"`
	RiskGovernorBlocks          int  `json:"riskGovernorBlocks"`
}

// Engine processes workflow event batches against a DataStore.
type Engine struct {
	store      store.DataStore
	normalizer *envelope.Normalizer
	opts       Options
	logger     zerolog.Logger
	tracer     trace.Tracer
	metrics    *telemetry.Metrics
}

// NewEngine creates an engine.
func NewEngine(ds store.DataStore, opts Options) (*Engine, error) {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxEvents <= 0 || opts.MaxEvents > envelope.MaxBatchSize {
		opts.MaxEvents = envelope.MaxBatchSize
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}
	if opts.Metrics == nil {
		m, err := telemetry.NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		opts.Metrics = m
	}

	n, err := envelope.New(envelope.WithClock(opts.Now), envelope.WithIDGenerator(opts.NewID))
	if err != nil {
		return nil, fmt.Errorf("failed to create normalizer: %w", err)
	}

	return &Engine{
		store:      ds,
		normalizer: n,
		opts:       opts,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		metrics:    opts.Metrics,
	}, nil
}

// Ingest normalizes and processes raw events for a workspace. Any failure
// aborts the whole batch; nothing is written except the best-effort audit
// event of an execution block.
func (e *Engine) Ingest(ctx context.Context, workspaceID string, raw []json.RawMessage) (*Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow.ingest", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID),
		attribute.Int("batch.size", len(raw)),
	))
	defer span.End()

	res, err := e.ingest(ctx, workspaceID, raw)
	e.metrics.Batches.Add(ctx, 1)
	if err != nil {
		e.metrics.Failures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("workspace.id", workspaceID))
	e.metrics.Events.Add(ctx, int64(res.EventsLogged), attrs)
	e.metrics.PacketUpserts.Add(ctx, int64(res.DecisionPacketsUpserted), attrs)
	e.metrics.AutoAlerts.Add(ctx, int64(res.AutoAlertsCreated), attrs)
	e.metrics.GovernorBlocks.Add(ctx, int64(res.RiskGovernorBlocks), attrs)

	logging.LogIngest(logging.WithWorkspace(e.logger, workspaceID), logging.IngestCounts{
		Events:         res.EventsLogged,
		SourceEvents:   res.SourceEventsLogged,
		PacketsUpdated: res.DecisionPacketsUpserted,
		Alerts:         res.AutoAlertsCreated,
		JournalDrafts:  res.AutoJournalDraftsCreated,
		CoachAnalyses:  res.AutoCoachAnalysesGenerated,
		CoachTasks:     res.AutoCoachActionTasksCreated,
		GovernorBlocks: res.RiskGovernorBlocks,
	}, time.Since(start))
	return res, nil
}

func (e *Engine) ingest(ctx context.Context, workspaceID string, raw []json.RawMessage) (*Result, error) {
	if workspaceID == "" {
		return nil, apperrors.ErrNoWorkspace
	}
	if len(raw) > e.opts.MaxEvents {
		raw = raw[:e.opts.MaxEvents]
	}

	_, span := e.tracer.Start(ctx, "workflow.normalize")
	events, err := e.normalizer.Normalize(workspaceID, raw)
	span.End()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &Result{OK: true}, nil
	}

	now := e.opts.Now()
	res := &Result{OK: true, SourceEventsLogged: len(events)}
	var blocked *executionBlock
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		// governor counters must not be read by two requests at once
		if err := tx.LockWorkspace(ctx, workspaceID); err != nil {
			return err
		}
		rt, err := risk.LoadRuntime(ctx, tx, workspaceID, now, e.opts.Thresholds)
		if err != nil {
			return err
		}

		for i := range events {
			ev := &events[i]
			if ev.EventType != models.EventTradeExecuted {
				continue
			}
			if d := rt.CheckExecution(ev); !d.Allowed {
				blocked = &executionBlock{event: ev, decision: d}
				return errBatchAborted
			}
		}
		return e.process(ctx, tx, workspaceID, rt, events, res)
	})
	if blocked != nil {
		// the audit event outlives the rolled back request
		return nil, e.blockExecution(ctx, workspaceID, blocked.event, blocked.decision)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

var errBatchAborted = errors.New("batch aborted")

type executionBlock struct {
	event    *models.Envelope
	decision risk.Decision
}

// process runs the write path inside the request transaction.
func (e *Engine) process(ctx context.Context, tx store.Tx, workspaceID string, rt *risk.Runtime, events []models.Envelope, res *Result) error {
	logger := logging.WithWorkspace(e.logger, workspaceID)

	ctx, span := e.tracer.Start(ctx, "workflow.automations")
	orch := automation.New(tx, workspaceID, rt, automation.Options{
		AutoAlerts:  e.opts.AutoAlerts,
		AutoJournal: e.opts.AutoJournal,
		AutoCoach:   e.opts.AutoCoach,
		Now:         e.opts.Now,
		NewID:       e.opts.NewID,
	})
	auto, err := orch.Run(ctx, events)
	span.End()
	if err != nil {
		return err
	}
	for _, ev := range auto.Events {
		if ev.EventType == models.EventAutoAlertBlocked {
			code, _ := extract.AsString(ev.Payload["reason_code"])
			reason, _ := extract.AsString(ev.Payload["reason"])
			logging.LogPolicyBlock(logger, "auto_alert", code, reason, ev.Correlation.ParentEventID)
			symbol, _ := extract.AsString(ev.Payload["symbol"])
			if err := e.opts.Audit.LogAutoAlertBlocked(ctx, workspaceID, ev.Correlation.WorkflowID, ev.Correlation.ParentEventID, symbol, code); err != nil {
				logger.Warn().Err(err).Msg("Failed to write audit event")
			}
		}
	}

	all := make([]models.Envelope, 0, len(events)+len(auto.Events))
	all = append(all, events...)
	all = append(all, auto.Events...)
	inserted, err := tx.InsertEvents(ctx, workspaceID, all)
	if err != nil {
		return fmt.Errorf("failed to log events: %w", err)
	}
	logger.Debug().Int("inserted", inserted).Int("batch", len(all)).Msg("Events logged")

	ctx, span = e.tracer.Start(ctx, "workflow.project_packets")
	defer span.End()

	projector := packets.NewProjector(tx, workspaceID, e.opts.Now)
	var lastEventType models.EventType
	for i := range events {
		pkt, wrote, err := projector.Apply(ctx, &events[i])
		if err != nil {
			return err
		}
		if wrote {
			res.DecisionPacketsUpserted++
			lastEventType = events[i].EventType
			logging.LogPacketUpsert(logger, pkt.PacketID, string(pkt.Status), string(events[i].EventType))
		}
	}

	transitions := 0
	for _, ap := range auto.AlertedPackets {
		changed, err := projector.MarkAlerted(ctx, ap.PacketID, ap.EventID)
		if err != nil {
			return err
		}
		if changed {
			transitions++
			lastEventType = models.EventAlertCreated
		}
	}

	if res.DecisionPacketsUpserted > 0 || transitions > 0 {
		if _, err := operator.Project(ctx, tx, workspaceID, lastEventType, e.opts.Now()); err != nil {
			return err
		}
	}

	res.EventsLogged = len(all)
	res.AutoAlertsCreated = auto.AlertsCreated
	res.AutoJournalDraftsCreated = auto.JournalDraftsCreated
	res.AutoCoachAnalysesGenerated = auto.CoachAnalyses
	res.AutoCoachActionTasksCreated = auto.CoachTasks
	res.AutoCoachJournalUpdates = auto.JournalUpdates
	res.RiskGovernorBlocks = auto.GovernorBlocks
	span.SetAttributes(
		attribute.Int("packets.upserted", res.DecisionPacketsUpserted),
		attribute.Int("packets.alerted", transitions),
	)
	return nil
}

// blockExecution records a rejected system execution and returns the
// policy error for the caller. The audit event is written outside the
// request transaction so it survives the abort.
func (e *Engine) blockExecution(ctx context.Context, workspaceID string, ev *models.Envelope, d risk.Decision) error {
	logger := logging.WithWorkflow(logging.WithWorkspace(e.logger, workspaceID), ev.Correlation.WorkflowID)
	symbol := extract.SymbolOf(ev)

	var packetID string
	if id, ok := packets.PacketIDFor(ev); ok {
		pkt, err := packets.NewProjector(e.store, workspaceID, e.opts.Now).Resolve(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Str("packet_id", id).Msg("Failed to resolve packet for blocked execution")
		} else if pkt != nil {
			packetID = pkt.PacketID
		}
	}

	payload := map[string]interface{}{
		"kind":             ExecutionBlockedKind,
		"reason_code":      d.ReasonCode,
		"reason":           d.Reason,
		"blocked_event_id": ev.EventID,
	}
	if symbol != "" {
		payload["symbol"] = symbol
	}
	if packetID != "" {
		payload["decision_packet_id"] = packetID
	}
	audit := models.Envelope{
		EventID:      e.opts.NewID(),
		EventType:    models.EventOperatorContextUpdated,
		EventVersion: 1,
		OccurredAt:   e.opts.Now(),
		Actor:        models.Actor{Type: models.ActorSystem, UserID: automation.SystemActorID},
		Context:      ev.Context,
		Entity:       ev.Entity,
		Correlation: models.Correlation{
			WorkflowID:    ev.Correlation.WorkflowID,
			TraceID:       ev.Correlation.TraceID,
			ParentEventID: ev.EventID,
		},
		Payload:   payload,
		Synthetic: true,
	}
	if _, err := e.store.InsertEvents(ctx, workspaceID, []models.Envelope{audit}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist execution block audit event")
	}
	if err := e.opts.Audit.LogExecutionBlocked(ctx, workspaceID, ev.Correlation.WorkflowID, ev.EventID, symbol, packetID, d.ReasonCode, d.Reason); err != nil {
		logger.Warn().Err(err).Msg("Failed to write audit event")
	}
	logging.LogPolicyBlock(logger, "system_execution", d.ReasonCode, d.Reason, ev.EventID)

	return apperrors.NewPolicyError(d.ReasonCode, d.Reason, packetID, symbol)
}
