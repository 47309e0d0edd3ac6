package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"leadpilot/internal/domain"
)

// instructionRequest is the POST /api/instructions body.
type instructionRequest struct {
	Text      string               `json:"text"`
	History   []domain.HistoryTurn `json:"history,omitempty"`
	ContextID string               `json:"context_id,omitempty"`
}

// handleInstruction runs one instruction through the orchestrator. The
// response is always 200 with the orchestrator's structured answer; only
// malformed requests get a 4xx.
func (s *Server) handleInstruction(w http.ResponseWriter, r *http.Request) {
	var req instructionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	resp := s.orch.HandleInstruction(r.Context(), req.Text, req.History, req.ContextID)
	writeJSON(w, http.StatusOK, resp)
}

// handleInteractions serves the interaction query surface: from, to,
// context_id, contains, since, until (RFC 3339), limit, offset.
func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.InteractionFilter{
		FromAgent:       q.Get("from"),
		ToAgent:         q.Get("to"),
		ContextID:       q.Get("context_id"),
		MessageContains: q.Get("contains"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since: "+err.Error())
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until: "+err.Error())
			return
		}
		filter.Until = t
	}

	limit := intParam(q.Get("limit"), 100)
	offset := intParam(q.Get("offset"), 0)

	records := s.log.Query(r.Context(), filter, limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

type agentView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	agents := make([]agentView, 0, len(names))
	for _, name := range names {
		desc, err := s.registry.Resolve(name)
		if err != nil {
			continue
		}
		agents = append(agents, agentView{Name: desc.Name, Description: desc.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workflows": s.executor.Names()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := map[string]any{
		"agents":       s.registry.Names(),
		"workflows":    s.executor.Names(),
		"interactions": s.log.Stats(r.Context()),
	}
	if s.scheduler != nil {
		tasks, err := s.scheduler.List(r.Context())
		if err == nil {
			state["scheduled_tasks"] = tasks
		}
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []any{}, "enabled": false})
		return
	}
	tasks, err := s.scheduler.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "enabled": true})
}

func intParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
