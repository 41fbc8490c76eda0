package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/entrhq/operator/pkg/agent"
	"github.com/entrhq/operator/pkg/types"
)

const maxBodyBytes = 1 << 20

// Kinds used only by the HTTP layer.
const (
	kindBadRequest types.ErrorKind = "bad_request"
	kindNotFound   types.ErrorKind = "not_found"
	kindConflict   types.ErrorKind = "conflict"
)

type launchRequest struct {
	Goal      string `json:"goal"`
	SessionID string `json:"sessionId"`
	Timezone  string `json:"timezone"`
	ContextID string `json:"contextId"`
}

type resumeRequest struct {
	Note string `json:"note"`
}

type startRequest struct {
	Goal      string `json:"goal"`
	Timezone  string `json:"timezone"`
	ContextID string `json:"contextId"`
}

type nextRequest struct {
	Goal    string        `json:"goal"`
	History types.History `json:"history"`
	Latest  string        `json:"latest"`
}

type applyRequest struct {
	Step types.Step `json:"step"`
}

func (s *Server) handleLaunchRun(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decode(w, r, &req) {
		return
	}
	run, err := s.runner.Launch(r.Context(), agent.LaunchRequest{
		Goal:      req.Goal,
		SessionID: req.SessionID,
		StartOptions: agent.StartOptions{
			Timezone:  req.Timezone,
			ContextID: req.ContextID,
		},
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"runs": s.runner.List()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runner.Get(chi.URLParam(r, "runID"))
	if !ok {
		s.respondError(w, fmt.Errorf("%w: %s", agent.ErrRunNotFound, chi.URLParam(r, "runID")))
		return
	}
	respondJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	runID := chi.URLParam(r, "runID")
	if err := s.runner.Send(r.Context(), runID, types.NewResumeInput(req.Note)); err != nil {
		s.respondError(w, err)
		return
	}
	run, _ := s.runner.Get(runID)
	respondJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.runner.Send(r.Context(), runID, types.NewCancelInput()); err != nil {
		s.respondError(w, err)
		return
	}
	run, _ := s.runner.Get(runID)
	respondJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	applied, err := s.controller.Start(r.Context(), req.Goal, chi.URLParam(r, "sessionID"), agent.StartOptions{
		Timezone:  req.Timezone,
		ContextID: req.ContextID,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"firstStep": applied.Step, "result": applied.Result})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	var req nextRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		s.respondError(w, types.NewRunError(types.KindConfiguration, "goal is required"))
		return
	}
	dec, err := s.controller.Next(r.Context(), req.Goal, chi.URLParam(r, "sessionID"), req.History, req.Latest)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dec)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !decode(w, r, &req) {
		return
	}
	applied, err := s.controller.Apply(r.Context(), chi.URLParam(r, "sessionID"), req.Step)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, applied)
}

func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Release(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		respondJSON(w, http.StatusBadRequest, types.ErrorBody{Kind: kindBadRequest, Detail: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Int("status", status).Msg("Request failed")
	}
	respondJSON(w, status, body)
}

// errorResponse maps a failure to its status code and wire body.
func errorResponse(err error) (int, types.ErrorBody) {
	switch {
	case errors.Is(err, agent.ErrRunNotFound):
		return http.StatusNotFound, types.ErrorBody{Kind: kindNotFound, Detail: err.Error()}
	case errors.Is(err, agent.ErrNotAwaiting), errors.Is(err, agent.ErrSessionBusy):
		return http.StatusConflict, types.ErrorBody{Kind: kindConflict, Detail: err.Error()}
	}

	body := types.ToErrorBody(err)
	switch body.Kind {
	case types.KindConfiguration:
		return http.StatusBadRequest, body
	case types.KindMalformedDecision:
		return http.StatusUnprocessableEntity, body
	case types.KindProvisioning, types.KindOracle:
		return http.StatusBadGateway, body
	case types.KindCanceled:
		return http.StatusConflict, body
	case types.KindExecution:
		return http.StatusInternalServerError, body
	default:
		return http.StatusInternalServerError, types.ErrorBody{Kind: types.KindInternal, Detail: body.Detail}
	}
}
