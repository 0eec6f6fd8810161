// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tidvec-dev/tidvec/internal/search"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Fields  map[string]any `json:"fields,omitempty"`
	} `json:"error"`
}

// requestLogger tags each request with a UUID, echoes it in the
// X-Request-ID response header so callers can correlate log lines, and
// logs the request's outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"request_id", id, "method", r.Method, "path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, tidvecerr.Wrap(err, tidvecerr.CodeServerRequestInvalid, "decoding search request"))
		return
	}

	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSyncTrigger runs one reconciliation cycle synchronously. A
// cycle already in flight yields a conflict; an unhealthy embedding
// service yields service-unavailable.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.syncer.SyncNow(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	health, err := s.syncer.Health(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleSyncHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.syncer.Health(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := tidvecerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}

	var body errorBody
	body.Error.Code = string(tidvecerr.CodeOf(err))
	body.Error.Message = err.Error()
	body.Error.Fields = tidvecerr.FieldsOf(err)
	s.writeJSON(w, status, body)
}
