package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opscoredev/core/internal/controlplane"
	"github.com/opscoredev/core/internal/observability"
	"github.com/opscoredev/core/internal/orchestrator"
)

// controlServer exposes the Orchestrator's control surface over HTTP so a
// second "opscore" invocation (approve/inject/stop/...) can drive a running
// instance, and so /metrics can be scraped by Prometheus.
type controlServer struct {
	orch   *orchestrator.Orchestrator
	cfgSvc *controlplane.ConfigService
	status *controlplane.RuntimeStatus
}

// newControlServer builds the control-plane handler, wrapped in request
// logging when reqLogger is non-nil.
func newControlServer(orch *orchestrator.Orchestrator, cfgSvc *controlplane.ConfigService, status *controlplane.RuntimeStatus, reqLogger *observability.Logger) http.Handler {
	s := &controlServer{orch: orch, cfgSvc: cfgSvc, status: status}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/approve", s.handleApprove)
	mux.HandleFunc("/v1/reject", s.handleReject)
	mux.HandleFunc("/v1/inject", s.handleInject)
	mux.HandleFunc("/v1/followup", s.handleFollowUp)
	mux.HandleFunc("/v1/pause", s.handlePause)
	mux.HandleFunc("/v1/resume", s.handleResume)
	mux.HandleFunc("/v1/interval", s.handleInterval)
	mux.HandleFunc("/v1/pool-size", s.handlePoolSize)
	mux.HandleFunc("/v1/stop", s.handleStop)
	mux.HandleFunc("/v1/reset", s.handleReset)
	mux.HandleFunc("/v1/config", s.handleConfig)
	mux.HandleFunc("/v1/config/schema", s.handleConfigSchema)
	if reqLogger != nil {
		return reqLogger.LogMiddleware(mux)
	}
	return mux
}

type statusResponse struct {
	orchestrator.Status
	Gateway controlplane.GatewayStatus `json:"gateway"`
}

func (s *controlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.orch.Status()}
	if s.status != nil {
		resp.Gateway, _ = s.status.GatewayStatus(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *controlServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	writeErrOrOK(w, s.orch.ApprovePlan())
}

func (s *controlServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feedback string `json:"feedback"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	writeErrOrOK(w, s.orch.RejectPlan(body.Feedback))
}

func (s *controlServer) handleInject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	question, queued, err := s.orch.InjectInstruction(r.Context(), body.Text)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": queued, "clarify_question": question})
}

func (s *controlServer) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Question string `json:"question"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	answer, err := s.orch.FollowUp(r.Context(), body.Question)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *controlServer) handlePause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DurationSeconds int64 `json:"duration_seconds"`
	}
	_ = decodeJSON(w, r, &body)
	s.orch.Pause(time.Duration(body.DurationSeconds) * time.Second)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *controlServer) handleResume(w http.ResponseWriter, r *http.Request) {
	s.orch.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *controlServer) handleInterval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DurationSeconds int64 `json:"duration_seconds"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	writeErrOrOK(w, s.orch.UpdateInterval(time.Duration(body.DurationSeconds)*time.Second))
}

func (s *controlServer) handlePoolSize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Size int `json:"size"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	writeErrOrOK(w, s.orch.UpdatePoolSize(body.Size))
}

func (s *controlServer) handleStop(w http.ResponseWriter, r *http.Request) {
	writeErrOrOK(w, s.orch.Stop())
}

func (s *controlServer) handleReset(w http.ResponseWriter, r *http.Request) {
	writeErrOrOK(w, s.orch.Reset())
}

func (s *controlServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfgSvc == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config service unavailable"})
		return
	}
	switch r.Method {
	case http.MethodGet:
		snap, err := s.cfgSvc.ConfigSnapshot(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case http.MethodPut, http.MethodPost:
		var body struct {
			Raw  string `json:"raw"`
			Hash string `json:"hash"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		result, err := s.cfgSvc.ApplyConfig(r.Context(), body.Raw, body.Hash)
		if err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *controlServer) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	if s.cfgSvc == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config service unavailable"})
		return
	}
	schema, err := s.cfgSvc.ConfigSchema(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(schema)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrOrOK(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err.Error() != "EOF" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}
