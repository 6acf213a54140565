package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicereach/voicereach/internal/api/middleware"
	"github.com/voicereach/voicereach/internal/audio"
)

// maxFragmentUploadSize is the upper limit for fragment uploads (10 MB).
const maxFragmentUploadSize = 10 << 20

// handleAudioPlayback streams a rendered artifact to the telephony platform.
// Access is granted by a signed token bound to exactly one artifact name.
func (s *Server) handleAudioPlayback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "artifact")
	if name == "" || name != filepath.Base(name) {
		writeError(w, http.StatusBadRequest, "invalid artifact name")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "token is required")
		return
	}

	granted, err := middleware.VerifyPlaybackToken(s.jwtSecret, token)
	if err != nil || granted != name {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	path := filepath.Join(s.cfg.CacheDir, name)
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("playback artifact missing", "artifact", name, "error", err)
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// fragmentKinds maps the URL path segment to the store namespace.
var fragmentKinds = map[string]audio.Kind{
	"segments": audio.KindSegment,
	"clients":  audio.KindClientName,
	"agents":   audio.KindAgentName,
}

// parseFragmentKind extracts and validates the {kind} URL parameter.
func parseFragmentKind(r *http.Request) (audio.Kind, bool) {
	kind, ok := fragmentKinds[chi.URLParam(r, "kind")]
	return kind, ok
}

// handleListFragments returns the keys stored locally under a kind.
func (s *Server) handleListFragments(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseFragmentKind(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown fragment kind; accepted: segments, clients, agents")
		return
	}

	keys, err := s.fragments.List(kind)
	if err != nil {
		slog.Error("list fragments: failed to read store", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if keys == nil {
		keys = []string{}
	}

	writeJSON(w, http.StatusOK, keys)
}

// handleUploadFragment stores a pre-recorded mp3 fragment via multipart form
// data. The "key" form field names the fragment; it defaults to the uploaded
// filename and is normalized for the name namespaces so lookups during
// rendering hit it.
func (s *Server) handleUploadFragment(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseFragmentKind(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown fragment kind; accepted: segments, clients, agents")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFragmentUploadSize)

	if err := r.ParseMultipartForm(maxFragmentUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(header.Filename)) != ".mp3" {
		writeError(w, http.StatusBadRequest, "unsupported audio format; accepted: .mp3")
		return
	}

	key := r.FormValue("key")
	if key == "" {
		key = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	if kind != audio.KindSegment {
		key = audio.NormalizeName(key)
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("upload fragment: failed to read file", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read uploaded file")
		return
	}

	if err := s.fragments.Put(kind, key, data); err != nil {
		slog.Error("upload fragment: failed to store", "kind", kind, "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("fragment uploaded", "kind", kind, "key", key, "bytes", len(data))

	writeJSON(w, http.StatusCreated, map[string]any{
		"kind": string(kind),
		"key":  key,
		"size": len(data),
	})
}

// handleDeleteFragment removes a locally stored fragment.
func (s *Server) handleDeleteFragment(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseFragmentKind(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown fragment kind; accepted: segments, clients, agents")
		return
	}

	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	if !s.fragments.Has(kind, key) {
		writeError(w, http.StatusNotFound, "fragment not found")
		return
	}

	if err := s.fragments.Delete(kind, key); err != nil {
		slog.Error("delete fragment: failed", "kind", kind, "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("fragment deleted", "kind", kind, "key", key)

	w.WriteHeader(http.StatusNoContent)
}

// templateResponse is the JSON listing for one template.
type templateResponse struct {
	Name      string   `json:"name"`
	Fragments []string `json:"fragments"`
}

// handleListTemplates lists the template catalog.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.Names()
	items := make([]templateResponse, 0, len(names))
	for _, name := range names {
		tpl, err := s.catalog.Get(name)
		if err != nil {
			continue
		}
		items = append(items, templateResponse{Name: name, Fragments: tpl.Fragments})
	}
	writeJSON(w, http.StatusOK, items)
}

// renderPreviewRequest asks for an ad-hoc render, used by operators to check
// a template before a campaign goes live.
type renderPreviewRequest struct {
	Template   string `json:"template"`
	ClientName string `json:"client_name"`
	AgentName  string `json:"agent_name"`
}

// renderPreviewResponse describes the rendered artifact.
type renderPreviewResponse struct {
	Key       string `json:"key"`
	AudioURL  string `json:"audio_url"`
	Size      int64  `json:"size"`
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
}

// handleRenderPreview renders a template on demand and returns a playback URL.
func (s *Server) handleRenderPreview(w http.ResponseWriter, r *http.Request) {
	var req renderPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}

	artifact, err := s.renderer.Render(r.Context(), req.Template, req.ClientName, req.AgentName)
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrTemplateNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, audio.ErrMissingPersonName):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			slog.Error("render preview failed", "template", req.Template, "error", err)
			writeError(w, http.StatusBadGateway, "rendering failed")
		}
		return
	}

	url, err := s.playbackURL(artifact)
	if err != nil {
		slog.Error("signing playback url failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, renderPreviewResponse{
		Key:       artifact.Key,
		AudioURL:  url,
		Size:      artifact.Size,
		Source:    artifact.Source,
		CreatedAt: artifact.CreatedAt.Format(time.RFC3339),
	})
}
