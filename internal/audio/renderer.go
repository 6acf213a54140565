package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/voicereach/voicereach/internal/tts"
)

// RenderKey derives the cache key for a (template, client, agent) triple.
// It is a pure function of its normalized inputs: no time, no randomness,
// stable across process restarts.
func RenderKey(template, clientName, agentName string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", template, NormalizeName(clientName), NormalizeName(agentName))
	return hex.EncodeToString(h.Sum(nil))
}

// Artifact is a cached composite render.
type Artifact struct {
	Key       string
	Path      string
	Size      int64
	CreatedAt time.Time
	// Source records how the artifact was produced: "cache", "static",
	// "concatenated", or "fallback_tts".
	Source string
}

// ArtifactIndex persists render cache metadata so cached artifacts survive
// restarts. Implemented by the database layer.
type ArtifactIndex interface {
	Get(ctx context.Context, key string) (*Artifact, error) // nil, nil on miss
	Put(ctx context.Context, a *Artifact) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// RenderStats is a snapshot of renderer counters.
type RenderStats struct {
	Renders     int64 // completed first-time renders (concat or static)
	CacheHits   int64
	Fallbacks   int64 // whole-phrase TTS fallbacks
	Failures    int64 // renders that failed even after fallback
	ConcatCalls int64
}

// Renderer produces composite audio artifacts from templates. It checks the
// render cache, expands the template, resolves fragments, concatenates, and
// caches the result. First-time renders of the same key are collapsed into
// a single in-flight computation.
type Renderer struct {
	catalog  *Catalog
	resolver *Resolver
	synth    tts.Synthesizer
	index    ArtifactIndex
	ffmpeg   *FFmpeg
	cacheDir string
	tempDir  string
	logger   *slog.Logger

	group singleflight.Group

	renders     atomic.Int64
	cacheHits   atomic.Int64
	fallbacks   atomic.Int64
	failures    atomic.Int64
	concatCalls atomic.Int64
}

// NewRenderer creates the renderer. cacheDir holds the composite artifacts,
// tempDir the per-render scratch files.
func NewRenderer(
	catalog *Catalog,
	resolver *Resolver,
	synth tts.Synthesizer,
	index ArtifactIndex,
	ffmpeg *FFmpeg,
	cacheDir, tempDir string,
	logger *slog.Logger,
) (*Renderer, error) {
	for _, dir := range []string{cacheDir, tempDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating renderer directory %s: %w", dir, err)
		}
	}
	return &Renderer{
		catalog:  catalog,
		resolver: resolver,
		synth:    synth,
		index:    index,
		ffmpeg:   ffmpeg,
		cacheDir: cacheDir,
		tempDir:  tempDir,
		logger:   logger.With("subsystem", "renderer"),
	}, nil
}

// Stats returns a snapshot of the renderer counters.
func (r *Renderer) Stats() RenderStats {
	return RenderStats{
		Renders:     r.renders.Load(),
		CacheHits:   r.cacheHits.Load(),
		Fallbacks:   r.fallbacks.Load(),
		Failures:    r.failures.Load(),
		ConcatCalls: r.concatCalls.Load(),
	}
}

// Render returns the composite artifact for (template, clientName,
// agentName), producing and caching it on first use. Template and name
// validation errors (ErrTemplateNotFound, ErrMissingPersonName) surface
// immediately; resolution and concatenation failures fall back to
// whole-phrase synthesis before giving up.
//
// Concurrent first-time renders of the same key share one computation. A
// caller whose context ends while waiting abandons the wait, but the render
// itself runs to completion and populates the cache for future calls.
func (r *Renderer) Render(ctx context.Context, template, clientName, agentName string) (*Artifact, error) {
	// Expansion is pure and validates caller input before any I/O.
	frags, err := r.catalog.Expand(template, clientName, agentName)
	if err != nil {
		return nil, err
	}

	key := RenderKey(template, clientName, agentName)

	if a := r.cached(ctx, key); a != nil {
		r.cacheHits.Add(1)
		hit := *a
		hit.Source = "cache"
		return &hit, nil
	}

	ch := r.group.DoChan(key, func() (any, error) {
		// Detached from the caller: a hangup mid-render must not abort
		// the work, future calls benefit from the cached result.
		return r.render(context.WithoutCancel(ctx), key, template, clientName, agentName, frags)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Artifact), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cached returns the artifact for key when both the index row and the file
// on disk exist. An evicted file behaves exactly like a first-ever render.
func (r *Renderer) cached(ctx context.Context, key string) *Artifact {
	if r.index == nil {
		return nil
	}
	a, err := r.index.Get(ctx, key)
	if err != nil {
		r.logger.Warn("render cache lookup failed", "key", key, "error", err)
		return nil
	}
	if a == nil {
		return nil
	}
	if _, err := os.Stat(a.Path); err != nil {
		return nil
	}
	return a
}

func (r *Renderer) render(ctx context.Context, key, template, clientName, agentName string, frags []Fragment) (*Artifact, error) {
	// A loser of the single-flight race may have arrived after the winner
	// finished; re-check under the flight.
	if a := r.cached(ctx, key); a != nil {
		r.cacheHits.Add(1)
		return a, nil
	}

	start := time.Now()
	artifact, err := r.renderFragments(ctx, key, template, frags)
	if err != nil {
		r.logger.Warn("fragment render failed, trying whole-phrase fallback",
			"template", template, "key", key, "error", err)
		artifact, err = r.renderFallback(ctx, key, template, clientName, agentName, err)
	}
	if err != nil {
		r.failures.Add(1)
		return nil, err
	}

	if r.index != nil {
		if ierr := r.index.Put(ctx, artifact); ierr != nil {
			r.logger.Warn("render cache index write failed", "key", key, "error", ierr)
		}
	}

	r.renders.Add(1)
	r.logger.Info("rendered template",
		"template", template,
		"key", key,
		"source", artifact.Source,
		"bytes", artifact.Size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return artifact, nil
}

// renderFragments resolves every fragment and produces the composite file.
// Single-fragment templates skip concatenation entirely.
func (r *Renderer) renderFragments(ctx context.Context, key, template string, frags []Fragment) (*Artifact, error) {
	if len(frags) == 1 {
		data, err := r.resolver.Resolve(ctx, frags[0])
		if err != nil {
			return nil, err
		}
		return r.writeArtifact(key, data, "static")
	}

	paths := make([]string, 0, len(frags))
	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()

	for i, frag := range frags {
		data, err := r.resolver.Resolve(ctx, frag)
		if err != nil {
			return nil, err
		}
		p := filepath.Join(r.tempDir, fmt.Sprintf("frag_%d_%s.mp3", i, uuid.NewString()[:8]))
		if err := os.WriteFile(p, data, 0640); err != nil {
			return nil, fmt.Errorf("writing fragment scratch file: %w", err)
		}
		paths = append(paths, p)
	}

	out := r.artifactPath(key)
	r.concatCalls.Add(1)
	if err := r.ffmpeg.Concat(ctx, paths, out); err != nil {
		return nil, err
	}

	info, err := os.Stat(out)
	if err != nil {
		return nil, fmt.Errorf("stat concatenated artifact: %w", err)
	}
	return &Artifact{
		Key:       key,
		Path:      out,
		Size:      info.Size(),
		CreatedAt: time.Now().UTC(),
		Source:    "concatenated",
	}, nil
}

// renderFallback synthesizes the entire phrase in one TTS call from the
// template's fallback script. cause is the fragment/concat error that
// triggered the fallback; it is returned when no fallback is possible.
func (r *Renderer) renderFallback(ctx context.Context, key, template, clientName, agentName string, cause error) (*Artifact, error) {
	if r.synth == nil {
		return nil, cause
	}
	text := r.catalog.FallbackText(template, clientName, agentName)
	if text == "" {
		return nil, cause
	}

	data, err := r.synth.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("whole-phrase fallback after %v: %w", cause, err)
	}

	r.fallbacks.Add(1)
	return r.writeArtifact(key, data, "fallback_tts")
}

func (r *Renderer) artifactPath(key string) string {
	return filepath.Join(r.cacheDir, "render_"+key[:32]+".mp3")
}

// writeArtifact commits bytes to the cache directory atomically.
func (r *Renderer) writeArtifact(key string, data []byte, source string) (*Artifact, error) {
	dest := r.artifactPath(key)
	tmp := dest + "." + uuid.NewString()[:8] + ".tmp"

	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("committing artifact: %w", err)
	}

	return &Artifact{
		Key:       key,
		Path:      dest,
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
		Source:    source,
	}, nil
}
