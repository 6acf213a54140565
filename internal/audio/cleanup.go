package audio

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StartCleanupTicker runs a background goroutine that periodically evicts
// cached render artifacts older than maxAge, along with stale scratch files
// in tempDir. A cache miss after eviction behaves identically to a
// first-ever render, and eviction never touches a file an in-flight render
// just produced (fresh artifacts are younger than maxAge by construction).
// The goroutine stops when ctx is cancelled. maxAge <= 0 disables the sweep.
func StartCleanupTicker(ctx context.Context, index ArtifactIndex, tempDir string, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx, index, tempDir, maxAge)
			}
		}
	}()
}

func sweep(ctx context.Context, index ArtifactIndex, tempDir string, maxAge time.Duration) {
	cutoff := time.Now().UTC().Add(-maxAge)

	if index != nil {
		paths, err := index.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			slog.Error("render cache eviction failed", "error", err)
		} else if len(paths) > 0 {
			slog.Info("render cache eviction", "deleted", len(paths), "max_age", maxAge)
			for _, p := range paths {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					slog.Warn("failed to remove cached artifact", "path", p, "error", err)
				}
			}
		}
	}

	// Scratch files left behind by crashed renders.
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(tempDir, e.Name()))
		}
	}
}
