package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation patterns
var (
	// Workspace ids come from sessions and headers; keep them to a safe charset.
	workspacePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

	// Operator context keys are plain identifiers.
	contextKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

	// API key patterns for detection (not validation)
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret|secret[_-]?key|access[_-]?token|auth[_-]?token|bearer)[=:\s]+["']?([A-Za-z0-9_\-\.]{20,})["']?`),
		regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]*`), // JWTs
	}
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// ValidateWorkspaceID validates a workspace identifier.
func ValidateWorkspaceID(id string) error {
	if id == "" {
		return &ValidationError{Field: "workspace_id", Value: id, Message: "workspace id cannot be empty"}
	}
	if !workspacePattern.MatchString(id) {
		return &ValidationError{Field: "workspace_id", Value: MaskSensitive(id), Message: "invalid workspace id format"}
	}
	return nil
}

// ValidateContextPatch checks the keys of an operator context patch.
func ValidateContextPatch(patch map[string]interface{}) error {
	if len(patch) == 0 {
		return &ValidationError{Field: "context", Message: "context patch cannot be empty"}
	}
	for k, v := range patch {
		if !contextKeyPattern.MatchString(k) {
			return &ValidationError{Field: "context." + k, Value: k, Message: "invalid context key"}
		}
		if s, ok := v.(string); ok && ContainsSensitiveData(s) {
			return &ValidationError{Field: "context." + k, Value: MaskSensitive(s), Message: "value looks like a credential"}
		}
	}
	return nil
}

// MaskSensitive masks sensitive data in a string.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if len(match) > 8 {
				return match[:4] + strings.Repeat("*", len(match)-8) + match[len(match)-4:]
			}
			return strings.Repeat("*", len(match))
		})
	}
	return result
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// ContainsSensitiveData checks if a string contains sensitive data patterns.
func ContainsSensitiveData(input string) bool {
	for _, pattern := range apiKeyPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}
