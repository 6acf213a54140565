package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voicereach/voicereach/internal/database/models"
)

// renderArtifactRepo implements RenderArtifactRepository.
type renderArtifactRepo struct {
	db *DB
}

// NewRenderArtifactRepository creates a new RenderArtifactRepository.
func NewRenderArtifactRepository(db *DB) RenderArtifactRepository {
	return &renderArtifactRepo{db: db}
}

// Get returns the index entry for a render key, or nil when absent.
func (r *renderArtifactRepo) Get(ctx context.Context, renderKey string) (*models.RenderArtifact, error) {
	var a models.RenderArtifact
	err := r.db.QueryRowContext(ctx,
		`SELECT render_key, file_path, file_size, source, created_at
		 FROM render_artifacts WHERE render_key = ?`, renderKey,
	).Scan(&a.RenderKey, &a.FilePath, &a.FileSize, &a.Source, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying render artifact: %w", err)
	}
	return &a, nil
}

// Put inserts or replaces the index entry for a render key.
func (r *renderArtifactRepo) Put(ctx context.Context, artifact *models.RenderArtifact) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO render_artifacts (render_key, file_path, file_size, source, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		artifact.RenderKey, artifact.FilePath, artifact.FileSize, artifact.Source, artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting render artifact: %w", err)
	}
	return nil
}

// Delete removes the index entry for a render key.
func (r *renderArtifactRepo) Delete(ctx context.Context, renderKey string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM render_artifacts WHERE render_key = ?`, renderKey); err != nil {
		return fmt.Errorf("deleting render artifact: %w", err)
	}
	return nil
}

// DeleteOlderThan removes entries created before cutoff, returning the file
// paths of the deleted artifacts.
func (r *renderArtifactRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT file_path FROM render_artifacts WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying expired render artifacts: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning expired artifact path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		return nil, nil
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM render_artifacts WHERE created_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("deleting expired render artifacts: %w", err)
	}
	return paths, nil
}

// Count returns the number of cached artifacts.
func (r *renderArtifactRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM render_artifacts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting render artifacts: %w", err)
	}
	return n, nil
}

// TotalSize returns the combined byte size of all cached artifacts.
func (r *renderArtifactRepo) TotalSize(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size), 0) FROM render_artifacts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("summing render artifact sizes: %w", err)
	}
	return n, nil
}
