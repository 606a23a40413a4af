package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/models"
	"tradeflow/internal/security"
)

type ingestRequest struct {
	Events []json.RawMessage `json:"events"`
}

type contextRequest struct {
	Context map[string]interface{} `json:"context"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.NewValidationError(-1, "body", nil, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return apperrors.NewValidationError(-1, "body", nil, "invalid JSON body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ok": false, "error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Events == nil {
		s.writeError(w, r, apperrors.NewValidationError(-1, "events", nil, "events must be an array"))
		return
	}

	res, err := s.engine.Ingest(r.Context(), workspaceFrom(r.Context()), req.Events)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListPackets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, apperrors.NewValidationError(-1, "limit", raw, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	var statuses []models.PacketStatus
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := models.PacketStatus(strings.TrimSpace(part))
			if !st.Valid() {
				s.writeError(w, r, apperrors.NewValidationError(-1, "status", part, "unknown packet status"))
				return
			}
			statuses = append(statuses, st)
		}
	}

	pkts, err := s.engine.ListPackets(r.Context(), workspaceFrom(r.Context()), statuses, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]packetView, 0, len(pkts))
	for i := range pkts {
		views = append(views, newPacketView(&pkts[i], nil))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packets": views})
}

func (s *Server) handleGetPacket(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetPacket(r.Context(), workspaceFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packet": newPacketView(&view.Packet, view.Aliases)})
}

func (s *Server) handleOperatorState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.OperatorState(r.Context(), workspaceFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operatorState": newOperatorView(state)})
}

func (s *Server) handleMergeContext(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	var req contextRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := security.ValidateContextPatch(req.Context); err != nil {
		var ve *security.ValidationError
		if errors.As(err, &ve) {
			if aerr := s.opts.Audit.LogInputValidation(r.Context(), ws, ve.Field, ve.Value, ve.Message); aerr != nil {
				s.logger.Warn().Err(aerr).Msg("Failed to write audit event")
			}
		}
		s.writeError(w, r, err)
		return
	}

	state, err := s.engine.MergeOperatorContext(r.Context(), ws, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operatorState": newOperatorView(state)})
}
