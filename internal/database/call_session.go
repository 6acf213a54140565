package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voicereach/voicereach/internal/database/models"
)

// callSessionRepo implements CallSessionRepository.
type callSessionRepo struct {
	db *DB
}

// NewCallSessionRepository creates a new CallSessionRepository.
func NewCallSessionRepository(db *DB) CallSessionRepository {
	return &callSessionRepo{db: db}
}

// Create archives a completed conversation.
func (r *callSessionRepo) Create(ctx context.Context, session *models.CallSession) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_sessions (call_id, client_name, agent_name, final_stage, outcome, turns, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.CallID, session.ClientName, session.AgentName,
		session.FinalStage, session.Outcome, session.Turns,
		session.StartedAt, session.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	session.ID = id
	return nil
}

// GetByCallID returns the archived session for a call, or nil.
func (r *callSessionRepo) GetByCallID(ctx context.Context, callID string) (*models.CallSession, error) {
	var s models.CallSession
	err := r.db.QueryRowContext(ctx,
		`SELECT id, call_id, client_name, agent_name, final_stage, outcome, turns, started_at, ended_at
		 FROM call_sessions WHERE call_id = ?`, callID,
	).Scan(&s.ID, &s.CallID, &s.ClientName, &s.AgentName, &s.FinalStage,
		&s.Outcome, &s.Turns, &s.StartedAt, &s.EndedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying call session: %w", err)
	}
	return &s, nil
}

// List returns the most recent sessions, newest first.
func (r *callSessionRepo) List(ctx context.Context, limit int) ([]models.CallSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, client_name, agent_name, final_stage, outcome, turns, started_at, ended_at
		 FROM call_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying call sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.CallSession
	for rows.Next() {
		var s models.CallSession
		if err := rows.Scan(&s.ID, &s.CallID, &s.ClientName, &s.AgentName,
			&s.FinalStage, &s.Outcome, &s.Turns, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning call session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CountByOutcome returns session counts grouped by outcome.
func (r *callSessionRepo) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM call_sessions GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("counting call sessions by outcome: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning outcome count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
