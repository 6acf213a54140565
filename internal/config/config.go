package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the VoiceReach server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	CORSOrigins string

	// Audio fragment storage.
	AudioDir    string // local fragment library root
	CacheDir    string // rendered composite artifacts
	TemplateSet string // optional path to a template catalog JSON overriding the built-in set

	// Remote fragment store (S3-compatible).
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // custom endpoint for S3-compatible stores (MinIO etc.)
	S3AccessKey string // static credentials; default AWS chain when empty
	S3SecretKey string

	// Text-to-speech synthesis.
	TTSAPIKey  string
	TTSVoiceID string
	TTSModelID string
	TTSBaseURL string
	TTSRate    float64 // max synthesis requests per second

	// Rendering.
	FFmpegPath       string
	RemoteTimeout    time.Duration
	SynthesisTimeout time.Duration
	RenderMaxAge     time.Duration // cached composites older than this are swept
	CleanupInterval  time.Duration

	JWTSecret string // hex-encoded 32-byte secret for playback token signing
}

// defaults
const (
	defaultDataDir          = "./data"
	defaultHTTPPort         = 8080
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultTTSVoiceID       = "21m00Tcm4TlvDq8ikWAM"
	defaultTTSModelID       = "eleven_multilingual_v2"
	defaultTTSBaseURL       = "https://api.elevenlabs.io/v1"
	defaultTTSRate          = 2.0
	defaultFFmpegPath       = "ffmpeg"
	defaultRemoteTimeout    = 5 * time.Second
	defaultSynthesisTimeout = 15 * time.Second
	defaultRenderMaxAge     = 7 * 24 * time.Hour
	defaultCleanupInterval  = time.Hour
)

// envPrefix is the prefix for all VoiceReach environment variables.
const envPrefix = "VOICEREACH_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voicereach", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for database and file storage")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.AudioDir, "audio-dir", "", "local audio fragment library root (defaults to <data-dir>/audio)")
	fs.StringVar(&cfg.CacheDir, "cache-dir", "", "directory for rendered composite audio (defaults to <data-dir>/cache)")
	fs.StringVar(&cfg.TemplateSet, "template-set", "", "path to a template catalog JSON file (built-in catalog if empty)")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", "", "S3 bucket for the remote fragment store (remote tier disabled if empty)")
	fs.StringVar(&cfg.S3Region, "s3-region", "us-east-1", "AWS region for the remote fragment store")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", "", "custom S3 endpoint URL for S3-compatible stores")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", "", "static S3 access key (default AWS credential chain if empty)")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", "", "static S3 secret key")
	fs.StringVar(&cfg.TTSAPIKey, "tts-api-key", "", "ElevenLabs API key (synthesis tier disabled if empty)")
	fs.StringVar(&cfg.TTSVoiceID, "tts-voice-id", defaultTTSVoiceID, "ElevenLabs voice ID for synthesized fragments")
	fs.StringVar(&cfg.TTSModelID, "tts-model-id", defaultTTSModelID, "ElevenLabs model ID")
	fs.StringVar(&cfg.TTSBaseURL, "tts-base-url", defaultTTSBaseURL, "ElevenLabs API base URL")
	fs.Float64Var(&cfg.TTSRate, "tts-rate", defaultTTSRate, "maximum synthesis requests per second")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg-path", defaultFFmpegPath, "path to the ffmpeg binary")
	fs.DurationVar(&cfg.RemoteTimeout, "remote-timeout", defaultRemoteTimeout, "per-fragment timeout for remote store downloads")
	fs.DurationVar(&cfg.SynthesisTimeout, "synthesis-timeout", defaultSynthesisTimeout, "per-fragment timeout for TTS synthesis")
	fs.DurationVar(&cfg.RenderMaxAge, "render-max-age", defaultRenderMaxAge, "age after which cached composite renders are deleted")
	fs.DurationVar(&cfg.CleanupInterval, "cleanup-interval", defaultCleanupInterval, "how often the render cache sweep runs")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for playback token signing (auto-generated if empty)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if cfg.AudioDir == "" {
		cfg.AudioDir = cfg.DataDir + "/audio"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cfg.DataDir + "/cache"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":          envPrefix + "DATA_DIR",
		"http-port":         envPrefix + "HTTP_PORT",
		"log-level":         envPrefix + "LOG_LEVEL",
		"log-format":        envPrefix + "LOG_FORMAT",
		"cors-origins":      envPrefix + "CORS_ORIGINS",
		"audio-dir":         envPrefix + "AUDIO_DIR",
		"cache-dir":         envPrefix + "CACHE_DIR",
		"template-set":      envPrefix + "TEMPLATE_SET",
		"s3-bucket":         envPrefix + "S3_BUCKET",
		"s3-region":         envPrefix + "S3_REGION",
		"s3-endpoint":       envPrefix + "S3_ENDPOINT",
		"s3-access-key":     envPrefix + "S3_ACCESS_KEY",
		"s3-secret-key":     envPrefix + "S3_SECRET_KEY",
		"tts-api-key":       envPrefix + "TTS_API_KEY",
		"tts-voice-id":      envPrefix + "TTS_VOICE_ID",
		"tts-model-id":      envPrefix + "TTS_MODEL_ID",
		"tts-base-url":      envPrefix + "TTS_BASE_URL",
		"tts-rate":          envPrefix + "TTS_RATE",
		"ffmpeg-path":       envPrefix + "FFMPEG_PATH",
		"remote-timeout":    envPrefix + "REMOTE_TIMEOUT",
		"synthesis-timeout": envPrefix + "SYNTHESIS_TIMEOUT",
		"render-max-age":    envPrefix + "RENDER_MAX_AGE",
		"cleanup-interval":  envPrefix + "CLEANUP_INTERVAL",
		"jwt-secret":        envPrefix + "JWT_SECRET",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "audio-dir":
			cfg.AudioDir = val
		case "cache-dir":
			cfg.CacheDir = val
		case "template-set":
			cfg.TemplateSet = val
		case "s3-bucket":
			cfg.S3Bucket = val
		case "s3-region":
			cfg.S3Region = val
		case "s3-endpoint":
			cfg.S3Endpoint = val
		case "s3-access-key":
			cfg.S3AccessKey = val
		case "s3-secret-key":
			cfg.S3SecretKey = val
		case "tts-api-key":
			cfg.TTSAPIKey = val
		case "tts-voice-id":
			cfg.TTSVoiceID = val
		case "tts-model-id":
			cfg.TTSModelID = val
		case "tts-base-url":
			cfg.TTSBaseURL = val
		case "tts-rate":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.TTSRate = v
			}
		case "ffmpeg-path":
			cfg.FFmpegPath = val
		case "remote-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.RemoteTimeout = v
			}
		case "synthesis-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.SynthesisTimeout = v
			}
		case "render-max-age":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.RenderMaxAge = v
			}
		case "cleanup-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.CleanupInterval = v
			}
		case "jwt-secret":
			cfg.JWTSecret = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.TTSRate <= 0 {
		return fmt.Errorf("tts-rate must be positive, got %g", c.TTSRate)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote-timeout must be positive, got %s", c.RemoteTimeout)
	}
	if c.SynthesisTimeout <= 0 {
		return fmt.Errorf("synthesis-timeout must be positive, got %s", c.SynthesisTimeout)
	}
	if c.RenderMaxAge <= 0 {
		return fmt.Errorf("render-max-age must be positive, got %s", c.RenderMaxAge)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup-interval must be positive, got %s", c.CleanupInterval)
	}

	return nil
}

// RemoteEnabled reports whether the remote fragment store tier is configured.
func (c *Config) RemoteEnabled() bool {
	return c.S3Bucket != ""
}

// SynthesisEnabled reports whether the TTS synthesis tier is configured.
func (c *Config) SynthesisEnabled() bool {
	return c.TTSAPIKey != ""
}

// JWTSecretBytes returns the decoded 32-byte playback token signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
