package envelope

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const candidateSchemaURL = "https://tradeflow.schemas.local/events/candidate.created.schema.json"

// candidateCreatedSchema is the strict payload contract for candidate.created.
const candidateCreatedSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["candidate_id", "signal_id", "evaluated_at", "result", "final_confidence", "checks", "decision_packet"],
  "properties": {
    "candidate_id": {"type": "string", "minLength": 1},
    "signal_id": {"type": "string", "minLength": 1},
    "evaluated_at": {"type": "string", "minLength": 1},
    "result": {"enum": ["pass", "fail", "watch"]},
    "final_confidence": {"type": "number"},
    "checks": {"type": "array"},
    "decision_packet": {
      "type": "object",
      "required": ["id", "symbol", "createdAt", "signalSource", "signalScore", "bias", "timeframeBias", "riskScore", "status"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "symbol": {"type": "string", "minLength": 1},
        "createdAt": {"type": "string", "minLength": 1},
        "signalSource": {"type": "string"},
        "signalScore": {"type": "number"},
        "bias": {"enum": ["bullish", "bearish", "neutral"]},
        "timeframeBias": {"type": "array"},
        "riskScore": {"type": "number"},
        "status": {"enum": ["candidate", "planned", "alerted", "executed", "closed"]}
      }
    }
  }
}`

func compileCandidateSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(candidateSchemaURL, strings.NewReader(candidateCreatedSchema)); err != nil {
		return nil, fmt.Errorf("candidate schema load failed: %w", err)
	}
	compiled, err := c.Compile(candidateSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("candidate schema compile failed: %w", err)
	}
	return compiled, nil
}

// leafViolation descends to the first concrete cause and returns its
// dotted payload path and message.
func leafViolation(err error) (string, string) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "payload", err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	path := strings.Trim(ve.InstanceLocation, "/")
	field := "payload"
	if path != "" {
		field += "." + strings.ReplaceAll(path, "/", ".")
	}
	return field, ve.Message
}
