package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/codecontext/execengine/sandbox"
)

// ErrorResponse is the error body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ExecutionsResponse lists in-flight environments.
type ExecutionsResponse struct {
	Active []string `json:"active"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, ExecutionsResponse{Active: s.executor.Active()})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req sandbox.ExecutionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.logger.Warn("invalid execution request body", zap.Error(err))
		writeJSON(w, s.logger, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid request body"})
		return
	}

	if req.Code == "" {
		writeJSON(w, s.logger, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "code cannot be empty"})
		return
	}
	if !req.Language.Valid() {
		writeJSON(w, s.logger, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "unsupported language: " + string(req.Language)})
		return
	}

	decision, err := s.gate.CanExecute(r.Context())
	if err != nil {
		s.logger.Error("usage check failed", zap.Error(err))
		writeJSON(w, s.logger, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "An internal error occurred"})
		return
	}
	if !decision.Allowed {
		writeJSON(w, s.logger, http.StatusTooManyRequests, ErrorResponse{Error: "usage_limit", Message: decision.Reason})
		return
	}

	result := s.executor.ExecuteCode(r.Context(), req)

	if err := s.gate.RecordExecution(r.Context()); err != nil {
		s.logger.Warn("failed to record execution", zap.Error(err))
	}

	writeJSON(w, s.logger, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", zap.Error(err))
	}
}
