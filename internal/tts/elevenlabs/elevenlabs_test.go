package elevenlabs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicereach/voicereach/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSynthesize(t *testing.T) {
	var gotPath, gotKey, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "key-123", VoiceID: "voice-abc", BaseURL: srv.URL}, testLogger())

	audio, err := c.Synthesize(context.Background(), "Hello John")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Errorf("audio = %q", audio)
	}
	if gotPath != "/text-to-speech/voice-abc/stream" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "key-123" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotAccept != "audio/mpeg" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Options{APIKey: "key", VoiceID: "voice", BaseURL: srv.URL}, testLogger())

	_, err := c.Synthesize(context.Background(), "Hello")
	var synthErr *tts.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error = %v, want SynthesisError", err)
	}
	if synthErr.Provider != "elevenlabs" {
		t.Errorf("Provider = %q", synthErr.Provider)
	}
}

func TestSynthesizeEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{APIKey: "key", VoiceID: "voice", BaseURL: srv.URL}, testLogger())

	_, err := c.Synthesize(context.Background(), "Hello")
	var synthErr *tts.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error = %v, want SynthesisError", err)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	// Unconfigured client.
	c := New(Options{}, testLogger())
	if _, err := c.Synthesize(context.Background(), "Hello"); err == nil {
		t.Error("Synthesize() without API key should fail")
	}

	// Blank text never reaches the network.
	c = New(Options{APIKey: "key", VoiceID: "voice", BaseURL: "http://127.0.0.1:0"}, testLogger())
	var synthErr *tts.SynthesisError
	if _, err := c.Synthesize(context.Background(), "   "); !errors.As(err, &synthErr) {
		t.Errorf("Synthesize(blank) error = %v, want SynthesisError", err)
	}
}

func TestSynthesizeRateLimiterHonorsContext(t *testing.T) {
	// A tiny rate with burst 1: the second call has to wait, and a cancelled
	// context should abort that wait.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "key", VoiceID: "voice", BaseURL: srv.URL, RequestsPerSecond: 0.001}, testLogger())

	if _, err := c.Synthesize(context.Background(), "first"); err != nil {
		t.Fatalf("first Synthesize() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Synthesize(ctx, "second")
	var synthErr *tts.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error = %v, want SynthesisError from limiter", err)
	}
}
