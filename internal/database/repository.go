package database

import (
	"context"
	"time"

	"github.com/voicereach/voicereach/internal/database/models"
)

// RenderArtifactRepository manages the render cache index.
type RenderArtifactRepository interface {
	Get(ctx context.Context, renderKey string) (*models.RenderArtifact, error)
	Put(ctx context.Context, artifact *models.RenderArtifact) error
	Delete(ctx context.Context, renderKey string) error
	// DeleteOlderThan removes entries created before cutoff and returns
	// the file paths of the deleted artifacts so callers can unlink them.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	Count(ctx context.Context) (int64, error)
	TotalSize(ctx context.Context) (int64, error)
}

// CallSessionRepository archives completed conversations.
type CallSessionRepository interface {
	Create(ctx context.Context, session *models.CallSession) error
	GetByCallID(ctx context.Context, callID string) (*models.CallSession, error)
	List(ctx context.Context, limit int) ([]models.CallSession, error)
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// AdminUserRepository manages operator accounts.
type AdminUserRepository interface {
	Create(ctx context.Context, user *models.AdminUser) error
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	Count(ctx context.Context) (int64, error)
}
