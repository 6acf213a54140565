package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicereach/voicereach/internal/api/middleware"
	"github.com/voicereach/voicereach/internal/audio"
	"github.com/voicereach/voicereach/internal/config"
	"github.com/voicereach/voicereach/internal/database"
	"github.com/voicereach/voicereach/internal/dialog"
	"github.com/voicereach/voicereach/internal/tts"
)

// stubSynth returns canned audio for every synthesis request.
type stubSynth struct {
	mu    sync.Mutex
	audio []byte
	err   error
	calls int
}

func (s *stubSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.audio, nil
}

var _ tts.Synthesizer = (*stubSynth)(nil)

// memIndex is an in-memory audio.ArtifactIndex.
type memIndex struct {
	mu      sync.Mutex
	entries map[string]*audio.Artifact
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[string]*audio.Artifact)}
}

func (m *memIndex) Get(ctx context.Context, key string) (*audio.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memIndex) Put(ctx context.Context, a *audio.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.entries[a.Key] = &cp
	return nil
}

func (m *memIndex) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for k, a := range m.entries {
		if a.CreatedAt.Before(cutoff) {
			paths = append(paths, a.Path)
			delete(m.entries, k)
		}
	}
	return paths, nil
}

var _ audio.ArtifactIndex = (*memIndex)(nil)

// testEnv bundles the server with the collaborators tests need to inspect.
type testEnv struct {
	srv       *Server
	db        *database.DB
	archive   database.CallSessionRepository
	fragments *audio.LocalStore
	synth     *stubSynth
	jwtSecret []byte
}

// newTestEnv builds a complete server over temp storage. The ffmpeg binary
// is deliberately broken, so multi-fragment renders degrade to whole-phrase
// synthesis from the stub synthesizer.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	local, err := audio.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	catalog, err := audio.LoadCatalog("")
	if err != nil {
		t.Fatal(err)
	}

	tempDir := t.TempDir()
	ffmpeg, err := audio.NewFFmpeg(filepath.Join(tempDir, "no-such-ffmpeg"), tempDir)
	if err != nil {
		t.Fatal(err)
	}

	synth := &stubSynth{audio: []byte("stub-mp3")}
	resolver := audio.NewResolver(local, nil, synth, audio.ResolverOptions{}, logger)

	cacheDir := t.TempDir()
	renderer, err := audio.NewRenderer(catalog, resolver, synth, newMemIndex(), ffmpeg, cacheDir, tempDir, logger)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{CacheDir: cacheDir}
	secret := bytes.Repeat([]byte{0x42}, 32)

	archive := database.NewCallSessionRepository(db)
	srv := NewServer(Deps{
		Config:     cfg,
		Renderer:   renderer,
		Catalog:    catalog,
		Fragments:  local,
		Calls:      dialog.NewSessionStore(),
		Artifacts:  database.NewRenderArtifactRepository(db),
		Archive:    archive,
		AdminUsers: database.NewAdminUserRepository(db),
		JWTSecret:  secret,
	})

	return &testEnv{
		srv:       srv,
		db:        db,
		archive:   archive,
		fragments: local,
		synth:     synth,
		jwtSecret: secret,
	}
}

// testEnvelope mirrors the response wrapper with a raw data payload.
type testEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// doJSON performs a request with an optional JSON body and decodes the envelope.
func (e *testEnv) doJSON(t *testing.T, method, path string, body any, opts ...func(*http.Request)) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)

	var env testEnvelope
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decoding envelope from %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env testEnvelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decoding data %q: %v", env.Data, err)
	}
	return v
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec, _ := e.doJSON(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestCallFlowScheduled(t *testing.T) {
	e := newTestEnv(t)

	// Answer starts the conversation at the greeting.
	rec, env := e.doJSON(t, http.MethodPost, "/webhook/call/answer", answerRequest{
		CallID:     "call-1",
		ClientName: "John Smith",
		AgentName:  "Sarah Lee",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d, body %s", rec.Code, rec.Body)
	}
	prompt := decodeData[promptResponse](t, env)
	if prompt.Stage != "greeting" {
		t.Errorf("stage = %q, want greeting", prompt.Stage)
	}
	if prompt.AudioURL == "" {
		t.Fatal("answer should return a playback URL")
	}
	if prompt.Terminal {
		t.Error("greeting must not be terminal")
	}

	// The playback URL serves the rendered audio.
	rec = httptest.NewRecorder()
	e.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, prompt.AudioURL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("playback status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("playback Content-Type = %q", got)
	}
	if rec.Body.String() != "stub-mp3" {
		t.Errorf("playback bytes = %q", rec.Body.String())
	}

	// Interested customer moves to scheduling.
	rec, env = e.doJSON(t, http.MethodPost, "/webhook/call/call-1/turn", turnRequest{Utterance: "Yes, I remember."})
	if rec.Code != http.StatusOK {
		t.Fatalf("turn status = %d, body %s", rec.Code, rec.Body)
	}
	prompt = decodeData[promptResponse](t, env)
	if prompt.Stage != "scheduling" {
		t.Errorf("stage = %q, want scheduling", prompt.Stage)
	}
	if prompt.Terminal {
		t.Error("scheduling must not be terminal")
	}

	// Accepting the appointment ends the call.
	rec, env = e.doJSON(t, http.MethodPost, "/webhook/call/call-1/turn", turnRequest{Utterance: "sure, that works"})
	if rec.Code != http.StatusOK {
		t.Fatalf("final turn status = %d, body %s", rec.Code, rec.Body)
	}
	prompt = decodeData[promptResponse](t, env)
	if !prompt.Terminal {
		t.Error("schedule confirmation must be terminal")
	}
	if prompt.Stage != "completed" {
		t.Errorf("stage = %q, want completed", prompt.Stage)
	}

	// The session is archived with the scheduled outcome and both turns.
	archived, err := e.archive.GetByCallID(context.Background(), "call-1")
	if err != nil {
		t.Fatal(err)
	}
	if archived == nil {
		t.Fatal("terminal turn should archive the session")
	}
	if archived.Outcome != "scheduled" {
		t.Errorf("outcome = %q, want scheduled", archived.Outcome)
	}
	var turns []map[string]any
	if err := json.Unmarshal([]byte(archived.Turns), &turns); err != nil {
		t.Fatalf("archived turns %q: %v", archived.Turns, err)
	}
	if len(turns) != 2 {
		t.Errorf("archived %d turns, want 2", len(turns))
	}

	// The live session is gone.
	rec, _ = e.doJSON(t, http.MethodPost, "/webhook/call/call-1/turn", turnRequest{Utterance: "hello?"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("turn after completion status = %d, want 404", rec.Code)
	}
}

func TestCallAnswerValidation(t *testing.T) {
	e := newTestEnv(t)

	rec, env := e.doJSON(t, http.MethodPost, "/webhook/call/answer", answerRequest{ClientName: "John"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing call_id status = %d, want 400", rec.Code)
	}
	if env.Error == "" {
		t.Error("error message expected")
	}

	rec, _ = e.doJSON(t, http.MethodPost, "/webhook/call/answer", answerRequest{CallID: "call-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing client_name status = %d, want 400", rec.Code)
	}
}

func TestCallTurnUnknownCall(t *testing.T) {
	e := newTestEnv(t)
	rec, _ := e.doJSON(t, http.MethodPost, "/webhook/call/nope/turn", turnRequest{Utterance: "yes"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCallHangupArchivesSession(t *testing.T) {
	e := newTestEnv(t)

	rec, _ := e.doJSON(t, http.MethodPost, "/webhook/call/answer", answerRequest{CallID: "call-9", ClientName: "Ann"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d", rec.Code)
	}

	rec, _ = e.doJSON(t, http.MethodPost, "/webhook/call/call-9/hangup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("hangup status = %d", rec.Code)
	}

	archived, err := e.archive.GetByCallID(context.Background(), "call-9")
	if err != nil {
		t.Fatal(err)
	}
	if archived == nil || archived.Outcome != "hung_up" {
		t.Errorf("archived = %+v, want hung_up outcome", archived)
	}

	// Late hangup webhooks after archiving are not errors.
	rec, _ = e.doJSON(t, http.MethodPost, "/webhook/call/call-9/hangup", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("repeated hangup status = %d, want 200", rec.Code)
	}
}

func TestAudioPlaybackTokenRequired(t *testing.T) {
	e := newTestEnv(t)

	// Render something so a real artifact exists in the cache.
	rec, env := e.doJSON(t, http.MethodPost, "/webhook/call/answer", answerRequest{CallID: "c", ClientName: "John"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d", rec.Code)
	}
	prompt := decodeData[promptResponse](t, env)
	name := strings.TrimPrefix(strings.SplitN(prompt.AudioURL, "?", 2)[0], "/audio/")

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"no token", "/audio/" + name, http.StatusUnauthorized},
		{"garbage token", "/audio/" + name + "?token=garbage", http.StatusUnauthorized},
		{"valid", prompt.AudioURL, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// A token for a different artifact does not open this one.
	other, _, err := middleware.GeneratePlaybackToken(e.jwtSecret, "other.mp3")
	if err != nil {
		t.Fatal(err)
	}
	rec2 := httptest.NewRecorder()
	e.srv.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/audio/"+name+"?token="+other, nil))
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("cross-artifact token status = %d, want 401", rec2.Code)
	}
}

// login creates the first admin account, signs in, and returns request options
// that attach the session cookie and CSRF header.
func (e *testEnv) login(t *testing.T) func(*http.Request) {
	t.Helper()

	creds := credentialsRequest{Username: "admin", Password: "str0ng-passw0rd"}
	rec, _ := e.doJSON(t, http.MethodPost, "/api/v1/setup", creds)
	if rec.Code != http.StatusCreated {
		t.Fatalf("setup status = %d, body %s", rec.Code, rec.Body)
	}

	rec, _ = e.doJSON(t, http.MethodPost, "/api/v1/auth/login", creds)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body)
	}

	var session, csrf string
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case "voicereach_session":
			session = c.Value
		case "voicereach_csrf":
			csrf = c.Value
		}
	}
	if session == "" || csrf == "" {
		t.Fatal("login should set session and csrf cookies")
	}

	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "voicereach_session", Value: session})
		r.Header.Set("X-CSRF-Token", csrf)
	}
}

func TestSetupOnlyOnce(t *testing.T) {
	e := newTestEnv(t)

	rec, _ := e.doJSON(t, http.MethodPost, "/api/v1/setup", credentialsRequest{Username: "admin", Password: "short"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("weak password status = %d, want 400", rec.Code)
	}

	e.login(t)

	rec, _ = e.doJSON(t, http.MethodPost, "/api/v1/setup", credentialsRequest{Username: "second", Password: "str0ng-passw0rd"})
	if rec.Code != http.StatusConflict {
		t.Errorf("second setup status = %d, want 409", rec.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)
	auth := e.login(t)

	// Wrong password is rejected.
	rec, _ := e.doJSON(t, http.MethodPost, "/api/v1/auth/login", credentialsRequest{Username: "admin", Password: "wrong-password"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", rec.Code)
	}

	// Authenticated identity.
	rec, env := e.doJSON(t, http.MethodGet, "/api/v1/auth/me", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	me := decodeData[userResponse](t, env)
	if me.Username != "admin" {
		t.Errorf("me username = %q", me.Username)
	}

	// Admin routes without a session are rejected.
	rec, _ = e.doJSON(t, http.MethodGet, "/api/v1/auth/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated me status = %d, want 401", rec.Code)
	}

	// State-changing requests without the CSRF header are rejected.
	rec, _ = e.doJSON(t, http.MethodPost, "/api/v1/auth/logout", nil, func(r *http.Request) {
		auth(r)
		r.Header.Del("X-CSRF-Token")
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("logout without csrf status = %d, want 403", rec.Code)
	}

	rec, _ = e.doJSON(t, http.MethodPost, "/api/v1/auth/logout", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	rec, _ = e.doJSON(t, http.MethodGet, "/api/v1/auth/me", nil, auth)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want 401", rec.Code)
	}
}

func TestFragmentLifecycle(t *testing.T) {
	e := newTestEnv(t)
	auth := e.login(t)

	// Upload a client name fragment; the key is normalized for lookups.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "Hello John.mp3")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("mp3-bytes"))
	mw.WriteField("key", "Hello John")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fragments/clients/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	auth(req)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body)
	}
	if !e.fragments.Has(audio.KindClientName, "hello_john") {
		t.Error("uploaded fragment should be stored under the normalized key")
	}

	// Listing shows the fragment.
	rec2, env := e.doJSON(t, http.MethodGet, "/api/v1/fragments/clients/", nil, auth)
	if rec2.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec2.Code)
	}
	keys := decodeData[[]string](t, env)
	if len(keys) != 1 || keys[0] != "hello_john" {
		t.Errorf("list = %v, want [hello_john]", keys)
	}

	// Wrong extension and unknown kinds are rejected.
	rec2, _ = e.doJSON(t, http.MethodGet, "/api/v1/fragments/ringtones/", nil, auth)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", rec2.Code)
	}

	// Delete, then a second delete misses.
	rec2, _ = e.doJSON(t, http.MethodDelete, "/api/v1/fragments/clients/hello_john", nil, auth)
	if rec2.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec2.Code)
	}
	rec2, _ = e.doJSON(t, http.MethodDelete, "/api/v1/fragments/clients/hello_john", nil, auth)
	if rec2.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec2.Code)
	}
}

func TestRenderPreview(t *testing.T) {
	e := newTestEnv(t)
	auth := e.login(t)

	rec, env := e.doJSON(t, http.MethodPost, "/api/v1/renders/preview", renderPreviewRequest{Template: "goodbye"}, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d, body %s", rec.Code, rec.Body)
	}
	preview := decodeData[renderPreviewResponse](t, env)
	if preview.AudioURL == "" || preview.Source == "" {
		t.Errorf("preview = %+v, want audio url and source", preview)
	}

	rec, _ = e.doJSON(t, http.MethodPost, "/api/v1/renders/preview", renderPreviewRequest{Template: "no_such_template"}, auth)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown template status = %d, want 404", rec.Code)
	}

	// Greeting requires a client name.
	rec, _ = e.doJSON(t, http.MethodPost, "/api/v1/renders/preview", renderPreviewRequest{Template: "greeting"}, auth)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing name status = %d, want 422", rec.Code)
	}
}

func TestTemplatesAndSessions(t *testing.T) {
	e := newTestEnv(t)
	auth := e.login(t)

	rec, env := e.doJSON(t, http.MethodGet, "/api/v1/templates", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("templates status = %d", rec.Code)
	}
	templates := decodeData[[]templateResponse](t, env)
	if len(templates) == 0 {
		t.Fatal("built-in catalog should not be empty")
	}

	// Start a call, then the active listing shows it.
	rec, _ = e.doJSON(t, http.MethodPost, "/webhook/call/answer", answerRequest{CallID: "live-1", ClientName: "John"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d", rec.Code)
	}

	rec, env = e.doJSON(t, http.MethodGet, "/api/v1/sessions/active", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("active sessions status = %d", rec.Code)
	}
	var active []map[string]any
	if err := json.Unmarshal(env.Data, &active); err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("active sessions = %d, want 1", len(active))
	}

	// Finish it and check the archive listing.
	rec, _ = e.doJSON(t, http.MethodPost, "/webhook/call/live-1/hangup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("hangup status = %d", rec.Code)
	}

	rec, env = e.doJSON(t, http.MethodGet, "/api/v1/sessions/archive", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d", rec.Code)
	}
	var archived []map[string]any
	if err := json.Unmarshal(env.Data, &archived); err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 {
		t.Errorf("archived sessions = %d, want 1", len(archived))
	}

	rec, _ = e.doJSON(t, http.MethodGet, "/api/v1/stats", nil, auth)
	if rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}
}

func TestStatsRequiresAuth(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/v1/stats", "/api/v1/templates", "/api/v1/sessions/active"} {
		rec, _ := e.doJSON(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s unauthenticated status = %d, want 401", path, rec.Code)
		}
	}
}

func TestPromptDegradesToSayOnRenderFailure(t *testing.T) {
	e := newTestEnv(t)

	// Synthesis is down and the stores are empty: the renderer cannot produce
	// anything, so the webhook answers with platform TTS text instead of a
	// playback URL.
	e.synth.mu.Lock()
	e.synth.err = fmt.Errorf("voice service down")
	e.synth.mu.Unlock()

	rec, env := e.doJSON(t, http.MethodPost, "/webhook/call/answer", answerRequest{CallID: "c", ClientName: "John"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d, body %s", rec.Code, rec.Body)
	}
	prompt := decodeData[promptResponse](t, env)
	if prompt.Say == "" {
		t.Error("failed render should degrade to say text")
	}
	if prompt.AudioURL != "" {
		t.Errorf("audio_url = %q, want empty on degraded response", prompt.AudioURL)
	}
}
