// Package elevenlabs implements tts.Synthesizer against the ElevenLabs
// streaming text-to-speech endpoint.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/voicereach/voicereach/internal/tts"
)

const defaultBaseURL = "https://api.elevenlabs.io/v1"

// Options configures the ElevenLabs client.
type Options struct {
	APIKey  string
	VoiceID string
	ModelID string // e.g. "eleven_turbo_v2_5"
	BaseURL string // overridable for tests
	Timeout time.Duration
	// RequestsPerSecond caps outgoing synthesis calls. Zero disables limiting.
	RequestsPerSecond float64
}

// Client is an HTTP client for the ElevenLabs TTS API.
type Client struct {
	apiKey  string
	voiceID string
	modelID string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates an ElevenLabs synthesizer client.
func New(opts Options, logger *slog.Logger) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		apiKey:  opts.APIKey,
		voiceID: opts.VoiceID,
		modelID: opts.ModelID,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With("subsystem", "elevenlabs"),
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize renders text as MP3 audio via the streaming endpoint.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !c.Configured() {
		return nil, &tts.SynthesisError{Provider: "elevenlabs", Err: fmt.Errorf("api key not configured")}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &tts.SynthesisError{Provider: "elevenlabs", Err: fmt.Errorf("empty text")}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &tts.SynthesisError{Provider: "elevenlabs", Err: err}
		}
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream", c.baseURL, c.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, &tts.SynthesisError{Provider: "elevenlabs", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		err := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
		if res.StatusCode == http.StatusTooManyRequests {
			err = fmt.Errorf("rate limited: %w", err)
		}
		return nil, &tts.SynthesisError{Provider: "elevenlabs", Err: err}
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &tts.SynthesisError{Provider: "elevenlabs", Err: err}
	}
	if len(audio) == 0 {
		return nil, &tts.SynthesisError{Provider: "elevenlabs", Err: fmt.Errorf("empty audio response")}
	}

	c.logger.Debug("synthesized speech",
		"characters", len(text),
		"bytes", len(audio),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return audio, nil
}

var _ tts.Synthesizer = (*Client)(nil)
