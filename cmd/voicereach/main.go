package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicereach/voicereach/internal/api"
	apimw "github.com/voicereach/voicereach/internal/api/middleware"
	"github.com/voicereach/voicereach/internal/audio"
	"github.com/voicereach/voicereach/internal/config"
	"github.com/voicereach/voicereach/internal/database"
	"github.com/voicereach/voicereach/internal/database/models"
	"github.com/voicereach/voicereach/internal/dialog"
	"github.com/voicereach/voicereach/internal/metrics"
	"github.com/voicereach/voicereach/internal/objectstore"
	"github.com/voicereach/voicereach/internal/tts"
	"github.com/voicereach/voicereach/internal/tts/elevenlabs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voicereach",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"remote_store", cfg.RemoteEnabled(),
		"synthesis", cfg.SynthesisEnabled(),
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	artifacts := database.NewRenderArtifactRepository(db)
	archive := database.NewCallSessionRepository(db)
	adminUsers := database.NewAdminUserRepository(db)

	// Local fragment library, tier one of the resolution chain.
	local, err := audio.NewLocalStore(cfg.AudioDir)
	if err != nil {
		slog.Error("failed to create local fragment store", "error", err)
		os.Exit(1)
	}

	// Remote object store, tier two. Optional.
	var remote objectstore.Store
	if cfg.RemoteEnabled() {
		remote, err = objectstore.NewS3Store(appCtx, objectstore.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, logger)
		if err != nil {
			slog.Error("failed to create s3 store", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no s3 bucket configured, remote fragment tier disabled")
	}

	// TTS synthesis, tier three. Optional.
	var synth tts.Synthesizer
	if cfg.SynthesisEnabled() {
		synth = elevenlabs.New(elevenlabs.Options{
			APIKey:            cfg.TTSAPIKey,
			VoiceID:           cfg.TTSVoiceID,
			ModelID:           cfg.TTSModelID,
			BaseURL:           cfg.TTSBaseURL,
			Timeout:           cfg.SynthesisTimeout,
			RequestsPerSecond: cfg.TTSRate,
		}, logger)
	} else {
		slog.Warn("no tts api key configured, synthesis tier disabled")
	}

	catalog, err := audio.LoadCatalog(cfg.TemplateSet)
	if err != nil {
		slog.Error("failed to load template catalog", "error", err)
		os.Exit(1)
	}

	resolver := audio.NewResolver(local, remote, synth, audio.ResolverOptions{
		RemoteTimeout:    cfg.RemoteTimeout,
		SynthesisTimeout: cfg.SynthesisTimeout,
	}, logger)

	tempDir := filepath.Join(cfg.DataDir, "tmp")
	ffmpeg, err := audio.NewFFmpeg(cfg.FFmpegPath, tempDir)
	if err != nil {
		slog.Error("failed to set up ffmpeg", "error", err)
		os.Exit(1)
	}
	if !ffmpeg.Available(appCtx) {
		slog.Warn("ffmpeg binary not executable, multi-fragment renders will fall back to whole-phrase synthesis", "binary", cfg.FFmpegPath)
	}

	index := &artifactIndexAdapter{repo: artifacts}
	renderer, err := audio.NewRenderer(catalog, resolver, synth, index, ffmpeg, cfg.CacheDir, tempDir, logger)
	if err != nil {
		slog.Error("failed to create renderer", "error", err)
		os.Exit(1)
	}

	audio.StartCleanupTicker(appCtx, index, tempDir, cfg.RenderMaxAge, cfg.CleanupInterval)

	calls := dialog.NewSessionStore()

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to decode jwt secret", "error", err)
		os.Exit(1)
	}

	// Prometheus registry with the scrape-time collector.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(calls, renderer, artifacts, archive, time.Now()),
	)

	handler := api.NewServer(api.Deps{
		Config:     cfg,
		Renderer:   renderer,
		Catalog:    catalog,
		Fragments:  local,
		Calls:      calls,
		Artifacts:  artifacts,
		Archive:    archive,
		AdminUsers: adminUsers,
		JWTSecret:  jwtSecret,
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	apimw.StartCleanupTicker(appCtx, handler.AdminSessions(), 15*time.Minute)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voicereach stopped")
}

// artifactIndexAdapter bridges the render artifact repository with the
// renderer's ArtifactIndex interface, converting between the database model
// and the audio package's artifact type.
type artifactIndexAdapter struct {
	repo database.RenderArtifactRepository
}

func (a *artifactIndexAdapter) Get(ctx context.Context, key string) (*audio.Artifact, error) {
	row, err := a.repo.Get(ctx, key)
	if err != nil || row == nil {
		return nil, err
	}
	return &audio.Artifact{
		Key:       row.RenderKey,
		Path:      row.FilePath,
		Size:      row.FileSize,
		CreatedAt: row.CreatedAt,
		Source:    row.Source,
	}, nil
}

func (a *artifactIndexAdapter) Put(ctx context.Context, artifact *audio.Artifact) error {
	return a.repo.Put(ctx, &models.RenderArtifact{
		RenderKey: artifact.Key,
		FilePath:  artifact.Path,
		FileSize:  artifact.Size,
		Source:    artifact.Source,
		CreatedAt: artifact.CreatedAt,
	})
}

func (a *artifactIndexAdapter) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	return a.repo.DeleteOlderThan(ctx, cutoff)
}

var _ audio.ArtifactIndex = (*artifactIndexAdapter)(nil)
