// Package extract resolves logical fields from workflow events whose payloads
// arrive in several shapes (flat, trade_plan-wrapped, candidate decision_packet).
//
// Each logical field is an ordered list of extractors; the first one that yields
// a usable value wins.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"tradeflow/internal/models"
)

// String extracts a string field from an event.
type String func(env *models.Envelope) (string, bool)

// Number extracts a numeric field from an event.
type Number func(env *models.Envelope) (float64, bool)

// Value extracts an arbitrary JSON value from an event.
type Value func(env *models.Envelope) (interface{}, bool)

// Lookup walks nested objects in m following keys.
func Lookup(m map[string]interface{}, keys ...string) (interface{}, bool) {
	var cur interface{} = m
	for _, k := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[k]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Object returns the nested object at keys, or nil.
func Object(m map[string]interface{}, keys ...string) map[string]interface{} {
	v, ok := Lookup(m, keys...)
	if !ok {
		return nil
	}
	obj, _ := v.(map[string]interface{})
	return obj
}

// AsString converts scalar JSON values to a trimmed string.
func AsString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	}
	return "", false
}

// AsNumber converts numbers and numeric strings to float64.
func AsNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// PayloadString reads a string at a payload path.
func PayloadString(keys ...string) String {
	return func(env *models.Envelope) (string, bool) {
		v, ok := Lookup(env.Payload, keys...)
		if !ok {
			return "", false
		}
		return AsString(v)
	}
}

// PayloadNumber reads a number (or numeric string) at a payload path.
func PayloadNumber(keys ...string) Number {
	return func(env *models.Envelope) (float64, bool) {
		v, ok := Lookup(env.Payload, keys...)
		if !ok {
			return 0, false
		}
		return AsNumber(v)
	}
}

// PayloadValue reads any non-empty JSON value at a payload path.
func PayloadValue(keys ...string) Value {
	return func(env *models.Envelope) (interface{}, bool) {
		v, ok := Lookup(env.Payload, keys...)
		if !ok || isEmpty(v) {
			return nil, false
		}
		return v, true
	}
}

// EntityID yields the entity id when the entity type is one of types.
func EntityID(types ...string) String {
	return func(env *models.Envelope) (string, bool) {
		if env.Entity.ID == "" {
			return "", false
		}
		for _, t := range types {
			if env.Entity.Type == t {
				return env.Entity.ID, true
			}
		}
		return "", false
	}
}

// EntitySymbol yields the entity symbol.
func EntitySymbol(env *models.Envelope) (string, bool) {
	s := strings.TrimSpace(env.Entity.Symbol)
	return s, s != ""
}

// EntityAssetClass yields the entity asset class.
func EntityAssetClass(env *models.Envelope) (string, bool) {
	s := strings.TrimSpace(env.Entity.AssetClass)
	return s, s != ""
}

// FirstString runs extractors in order.
func FirstString(env *models.Envelope, extractors []String) (string, bool) {
	for _, ex := range extractors {
		if s, ok := ex(env); ok {
			return s, true
		}
	}
	return "", false
}

// FirstNumber runs extractors in order.
func FirstNumber(env *models.Envelope, extractors []Number) (float64, bool) {
	for _, ex := range extractors {
		if n, ok := ex(env); ok {
			return n, true
		}
	}
	return 0, false
}

// FirstValue runs extractors in order.
func FirstValue(env *models.Envelope, extractors []Value) (interface{}, bool) {
	for _, ex := range extractors {
		if v, ok := ex(env); ok {
			return v, true
		}
	}
	return nil, false
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}
