package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voicereach/voicereach/internal/api/middleware"
	"github.com/voicereach/voicereach/internal/audio"
	"github.com/voicereach/voicereach/internal/database/models"
	"github.com/voicereach/voicereach/internal/dialog"
)

// apologyText is spoken verbatim by the telephony platform's built-in TTS
// when every rendering path fails. The call must never go silent.
const apologyText = "We are sorry, but we are unable to continue this call right now. Goodbye."

// answerRequest is the webhook payload sent when a call is answered.
type answerRequest struct {
	CallID     string `json:"call_id"`
	ClientName string `json:"client_name"`
	AgentName  string `json:"agent_name"`
}

// turnRequest carries the transcribed customer utterance for one turn.
type turnRequest struct {
	Utterance string `json:"utterance"`
}

// promptResponse tells the telephony platform what to play next. Exactly one
// of AudioURL and Say is set: AudioURL points at a rendered artifact, Say is
// plain text for the platform's own TTS when rendering failed.
type promptResponse struct {
	CallID   string `json:"call_id"`
	Stage    string `json:"stage"`
	AudioURL string `json:"audio_url,omitempty"`
	Say      string `json:"say,omitempty"`
	Terminal bool   `json:"terminal"`
}

// outcomeFor maps a terminal template to the archived call outcome.
var outcomeFor = map[string]string{
	"schedule_confirmation": "scheduled",
	"no_schedule_followup":  "not_scheduled",
	"dnc_confirmation":      "do_not_call",
	"keep_communications":   "kept_communications",
	"goodbye":               "ended",
}

// handleCallAnswer starts a conversation and returns the greeting prompt.
func (s *Server) handleCallAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.CallID) == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}
	if strings.TrimSpace(req.ClientName) == "" {
		writeError(w, http.StatusBadRequest, "client_name is required")
		return
	}

	sess := dialog.NewSession(req.CallID, req.ClientName, req.AgentName)
	s.calls.Put(sess)

	slog.Info("call answered",
		"call_id", req.CallID,
		"client", req.ClientName,
		"agent", req.AgentName,
	)

	s.respondWithPrompt(w, r, sess, "greeting", false)
}

// handleCallTurn classifies the customer utterance, advances the state
// machine, and returns the next prompt.
func (s *Server) handleCallTurn(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	sess := s.calls.Get(callID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "no active call with this id")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	category := dialog.Classify(req.Utterance)
	decision, err := dialog.Decide(sess.Stage, category)
	if err != nil {
		slog.Error("state machine rejected stage", "call_id", callID, "stage", sess.Stage, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sess.RecordTurn(req.Utterance, category)
	sess.Stage = decision.Next

	slog.Info("call turn",
		"call_id", callID,
		"category", category,
		"stage", decision.Next,
		"template", decision.Template,
		"terminal", decision.Terminal,
	)

	if decision.Terminal {
		outcome := outcomeFor[decision.Template]
		if outcome == "" {
			outcome = "ended"
		}
		sess.Complete(outcome)
		s.archiveSession(r.Context(), sess)
		s.calls.Remove(callID)
	}

	s.respondWithPrompt(w, r, sess, decision.Template, decision.Terminal)
}

// handleCallHangup closes the conversation when the customer hangs up before
// a terminal stage is reached.
func (s *Server) handleCallHangup(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	sess := s.calls.Get(callID)
	if sess == nil {
		// Hangup webhooks can arrive after a terminal turn already
		// archived the session. That is not an error.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if sess.Outcome == "" {
		sess.Complete("hung_up")
	}
	s.archiveSession(r.Context(), sess)
	s.calls.Remove(callID)

	slog.Info("call hung up", "call_id", callID, "turns", len(sess.Turns))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondWithPrompt renders the template for the session and writes the
// prompt response. Rendering failures degrade to the apology text so the
// caller always hears something.
func (s *Server) respondWithPrompt(w http.ResponseWriter, r *http.Request, sess *dialog.Session, template string, terminal bool) {
	artifact, err := s.renderer.Render(r.Context(), template, sess.ClientName, sess.AgentName)
	if err != nil {
		if errors.Is(err, audio.ErrTemplateNotFound) || errors.Is(err, audio.ErrMissingPersonName) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Error("prompt render failed, degrading to platform tts",
			"call_id", sess.CallID, "template", template, "error", err)
		writeJSON(w, http.StatusOK, promptResponse{
			CallID:   sess.CallID,
			Stage:    string(sess.Stage),
			Say:      apologyText,
			Terminal: terminal,
		})
		return
	}

	url, err := s.playbackURL(artifact)
	if err != nil {
		slog.Error("signing playback url failed", "call_id", sess.CallID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, promptResponse{
		CallID:   sess.CallID,
		Stage:    string(sess.Stage),
		AudioURL: url,
		Terminal: terminal,
	})
}

// playbackURL builds the tokenized URL the telephony platform fetches the
// rendered audio from.
func (s *Server) playbackURL(artifact *audio.Artifact) (string, error) {
	name := filepath.Base(artifact.Path)
	token, _, err := middleware.GeneratePlaybackToken(s.jwtSecret, name)
	if err != nil {
		return "", err
	}
	return "/audio/" + name + "?token=" + token, nil
}

// archiveSession persists a finished conversation. Archive failures are
// logged, not surfaced: the call flow must not break over bookkeeping.
func (s *Server) archiveSession(ctx context.Context, sess *dialog.Session) {
	turns, err := json.Marshal(sess.Turns)
	if err != nil {
		slog.Error("marshaling session turns", "call_id", sess.CallID, "error", err)
		turns = []byte("[]")
	}

	ended := sess.EndedAt
	record := &models.CallSession{
		CallID:     sess.CallID,
		ClientName: sess.ClientName,
		AgentName:  sess.AgentName,
		FinalStage: string(sess.Stage),
		Outcome:    sess.Outcome,
		Turns:      string(turns),
		StartedAt:  sess.StartedAt,
		EndedAt:    &ended,
	}

	if err := s.archive.Create(ctx, record); err != nil {
		slog.Error("archiving call session failed", "call_id", sess.CallID, "error", err)
	}
}
