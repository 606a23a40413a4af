package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/logging"
	"tradeflow/internal/security"
)

type errorResponse struct {
	Error      string `json:"error"`
	Field      string `json:"field,omitempty"`
	ReasonCode string `json:"reasonCode,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and response body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	body.RequestID, _ = r.Context().Value(security.RequestIDKey{}).(string)

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		body.Error = "internal error"
	} else {
		logger.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		field := ve.Field
		if ve.Index >= 0 {
			field = fmt.Sprintf("events[%d].%s", ve.Index, ve.Field)
		}
		return http.StatusBadRequest, errorResponse{Error: ve.Message, Field: field}
	}

	var sve *security.ValidationError
	if errors.As(err, &sve) {
		return http.StatusBadRequest, errorResponse{Error: sve.Message, Field: sve.Field}
	}

	var pe *apperrors.PolicyError
	if errors.As(err, &pe) {
		return http.StatusForbidden, errorResponse{Error: pe.Reason, ReasonCode: pe.ReasonCode}
	}

	switch {
	case errors.Is(err, apperrors.ErrInputValidation), errors.Is(err, apperrors.ErrInvalidEnvelope):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, apperrors.ErrNoWorkspace):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized"}
	case errors.Is(err, apperrors.ErrPacketNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests, errorResponse{Error: "rate limited"}
	}
	return http.StatusInternalServerError, errorResponse{Error: err.Error()}
}
