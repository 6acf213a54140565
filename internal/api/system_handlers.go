package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/voicereach/voicereach/internal/database/models"
)

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statsResponse aggregates runtime counters for the dashboard.
type statsResponse struct {
	ActiveCalls    int              `json:"active_calls"`
	Renders        int64            `json:"renders"`
	CacheHits      int64            `json:"cache_hits"`
	Fallbacks      int64            `json:"fallbacks"`
	RenderFailures int64            `json:"render_failures"`
	CachedRenders  int64            `json:"cached_renders"`
	CacheBytes     int64            `json:"cache_bytes"`
	Outcomes       map[string]int64 `json:"outcomes"`
}

// handleStats returns renderer, cache, and call outcome counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.renderer.Stats()

	count, err := s.artifacts.Count(r.Context())
	if err != nil {
		slog.Error("stats: failed to count artifacts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	size, err := s.artifacts.TotalSize(r.Context())
	if err != nil {
		slog.Error("stats: failed to sum artifact sizes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	outcomes, err := s.archive.CountByOutcome(r.Context())
	if err != nil {
		slog.Error("stats: failed to count outcomes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		ActiveCalls:    s.calls.Count(),
		Renders:        stats.Renders,
		CacheHits:      stats.CacheHits,
		Fallbacks:      stats.Fallbacks,
		RenderFailures: stats.Failures,
		CachedRenders:  count,
		CacheBytes:     size,
		Outcomes:       outcomes,
	})
}

// activeSessionResponse summarizes one in-progress call.
type activeSessionResponse struct {
	CallID     string `json:"call_id"`
	ClientName string `json:"client_name"`
	AgentName  string `json:"agent_name"`
	Stage      string `json:"stage"`
	Turns      int    `json:"turns"`
	StartedAt  string `json:"started_at"`
}

// handleActiveSessions lists in-progress calls.
func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	items := []activeSessionResponse{}
	for _, sess := range s.calls.Active() {
		items = append(items, activeSessionResponse{
			CallID:     sess.CallID,
			ClientName: sess.ClientName,
			AgentName:  sess.AgentName,
			Stage:      string(sess.Stage),
			Turns:      len(sess.Turns),
			StartedAt:  sess.StartedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// archivedSessionResponse is the JSON form of an archived conversation.
type archivedSessionResponse struct {
	ID         int64  `json:"id"`
	CallID     string `json:"call_id"`
	ClientName string `json:"client_name"`
	AgentName  string `json:"agent_name"`
	FinalStage string `json:"final_stage"`
	Outcome    string `json:"outcome"`
	Turns      string `json:"turns"`
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at,omitempty"`
}

func toArchivedSessionResponse(cs *models.CallSession) archivedSessionResponse {
	resp := archivedSessionResponse{
		ID:         cs.ID,
		CallID:     cs.CallID,
		ClientName: cs.ClientName,
		AgentName:  cs.AgentName,
		FinalStage: cs.FinalStage,
		Outcome:    cs.Outcome,
		Turns:      cs.Turns,
		StartedAt:  cs.StartedAt.Format(time.RFC3339),
	}
	if cs.EndedAt != nil {
		resp.EndedAt = cs.EndedAt.Format(time.RFC3339)
	}
	return resp
}

// handleArchivedSessions lists completed calls, newest first. The optional
// "limit" query parameter caps the result count (default 100).
func (s *Server) handleArchivedSessions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	sessions, err := s.archive.List(r.Context(), limit)
	if err != nil {
		slog.Error("archive list: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]archivedSessionResponse, len(sessions))
	for i := range sessions {
		items[i] = toArchivedSessionResponse(&sessions[i])
	}

	writeJSON(w, http.StatusOK, items)
}
