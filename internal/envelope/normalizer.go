// Package envelope normalizes and validates raw workflow events.
package envelope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/extract"
	"tradeflow/internal/models"
)

// MaxBatchSize is the largest number of events accepted per request.
const MaxBatchSize = 100

// Defaults applied to envelopes that omit optional sections.
const (
	DefaultAppName = "tradeflow"
	DefaultAppEnv  = "production"
)

// Normalizer fills envelope defaults and validates shape.
type Normalizer struct {
	now       func() time.Time
	newID     func() string
	candidate *jsonschema.Schema
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used for occurred_at defaults.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(newID func() string) Option {
	return func(n *Normalizer) { n.newID = newID }
}

// New creates a Normalizer with the candidate.created schema compiled.
func New(opts ...Option) (*Normalizer, error) {
	schema, err := compileCandidateSchema()
	if err != nil {
		return nil, err
	}
	n := &Normalizer{
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		candidate: schema,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// wireEnvelope mirrors the JSON envelope with every section optional.
type wireEnvelope struct {
	EventID      string                 `json:"event_id"`
	EventType    string                 `json:"event_type"`
	EventVersion interface{}            `json:"event_version"`
	OccurredAt   string                 `json:"occurred_at"`
	Actor        *models.Actor          `json:"actor"`
	Context      *models.EventContext   `json:"context"`
	Entity       *models.Entity         `json:"entity"`
	Correlation  *models.Correlation    `json:"correlation"`
	Payload      map[string]interface{} `json:"payload"`
}

// Normalize decodes, defaults and validates every raw event. Any failure
// rejects the whole batch.
func (n *Normalizer) Normalize(workspaceID string, raw []json.RawMessage) ([]models.Envelope, error) {
	if len(raw) > MaxBatchSize {
		raw = raw[:MaxBatchSize]
	}

	out := make([]models.Envelope, 0, len(raw))
	for i, msg := range raw {
		env, err := n.normalizeOne(i, workspaceID, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (n *Normalizer) normalizeOne(index int, workspaceID string, msg json.RawMessage) (models.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(msg, &w); err != nil {
		field := "envelope"
		if te, ok := err.(*json.UnmarshalTypeError); ok && te.Field != "" {
			field = te.Field
		}
		return models.Envelope{}, apperrors.NewValidationError(index, field, nil, fmt.Sprintf("malformed envelope: %v", err))
	}

	env := models.Envelope{
		EventID:   strings.TrimSpace(w.EventID),
		EventType: models.EventType(strings.TrimSpace(w.EventType)),
		Payload:   w.Payload,
	}

	if !env.EventType.IsSupported() {
		return env, &apperrors.ValidationError{
			Index:   index,
			Field:   "event_type",
			Value:   w.EventType,
			Message: fmt.Sprintf("unsupported event type %q", w.EventType),
			Err:     apperrors.ErrUnsupportedEventType,
		}
	}

	if env.Payload == nil {
		env.Payload = map[string]interface{}{}
	}
	if env.EventID == "" {
		env.EventID = n.newID()
	}

	version, err := parseVersion(w.EventVersion)
	if err != nil {
		return env, apperrors.NewValidationError(index, "event_version", w.EventVersion, err.Error())
	}
	env.EventVersion = version

	env.OccurredAt = n.now()
	if w.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339Nano, w.OccurredAt)
		if err != nil {
			return env, apperrors.NewValidationError(index, "occurred_at", w.OccurredAt, "occurred_at must be RFC3339")
		}
		env.OccurredAt = t.UTC()
	}

	if w.Actor != nil {
		env.Actor = *w.Actor
	}
	switch env.Actor.Type {
	case "":
		env.Actor.Type = models.ActorUser
	case models.ActorUser, models.ActorSystem:
	default:
		return env, apperrors.NewValidationError(index, "actor.type", env.Actor.Type, "actor.type must be user or system")
	}

	if w.Context != nil {
		env.Context = *w.Context
	}
	if env.Context.TenantID == "" {
		env.Context.TenantID = workspaceID
	}
	if env.Context.App.Name == "" {
		env.Context.App.Name = DefaultAppName
	}
	if env.Context.App.Env == "" {
		env.Context.App.Env = DefaultAppEnv
	}

	if w.Entity != nil {
		env.Entity = *w.Entity
	}
	env.Entity.Symbol = strings.ToUpper(strings.TrimSpace(env.Entity.Symbol))

	if w.Correlation != nil {
		env.Correlation = *w.Correlation
	}
	env.Correlation.WorkflowID = strings.TrimSpace(env.Correlation.WorkflowID)
	if env.Correlation.WorkflowID == "" {
		if wf, ok := extract.PayloadString("workflow_id")(&env); ok {
			env.Correlation.WorkflowID = wf
		}
	}
	if env.Correlation.TraceID == "" {
		env.Correlation.TraceID = env.Correlation.WorkflowID
	}

	if env.EventID == "" {
		return env, apperrors.NewValidationError(index, "event_id", "", "event_id is required")
	}
	if env.Correlation.WorkflowID == "" {
		return env, apperrors.NewValidationError(index, "correlation.workflow_id", "", "workflow_id is required")
	}

	if env.EventType == models.EventCandidateCreated {
		if err := n.candidate.Validate(env.Payload); err != nil {
			field, message := leafViolation(err)
			return env, apperrors.NewValidationError(index, field, nil, message)
		}
	}

	return env, nil
}

func parseVersion(v interface{}) (int, error) {
	switch t := v.(type) {
	case nil:
		return 1, nil
	case float64:
		if t < 1 || t != float64(int(t)) {
			return 0, fmt.Errorf("event_version must be a positive integer")
		}
		return int(t), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return 1, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil || n < 1 {
			return 0, fmt.Errorf("event_version must be a positive integer")
		}
		return n, nil
	}
	return 0, fmt.Errorf("event_version must be a positive integer")
}
