package models

import "time"

// RenderArtifact is the persisted index entry for one cached composite
// render. The audio bytes live on disk at FilePath; rows are only ever
// inserted whole and deleted whole, never updated in place.
type RenderArtifact struct {
	RenderKey string
	FilePath  string
	FileSize  int64
	Source    string // "static" | "concatenated" | "fallback_tts"
	CreatedAt time.Time
}

// CallSession is an archived conversation, written when a call completes.
type CallSession struct {
	ID         int64
	CallID     string
	ClientName string
	AgentName  string
	FinalStage string
	Outcome    string
	Turns      string // JSON array of dialog turns
	StartedAt  time.Time
	EndedAt    *time.Time
}

// AdminUser is an operator account for the management API.
type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
