package domain

import (
	"context"
	"time"
)

// DispatchRecord is one audit-log entry describing a completed dispatch.
type DispatchRecord struct {
	ID        string
	Session   string
	Skill     string
	ArgsJSON  string
	Outcome   string // "success" or a FailureKind
	ResultLen int
	Error     string
	CacheHit  bool
	Duration  time.Duration
	CreatedAt time.Time
}

// HistoryStore persists dispatch records for later inspection. It is an
// optional collaborator of the dispatcher; the dedup session itself never
// persists across sessions.
type HistoryStore interface {
	RecordDispatch(ctx context.Context, rec DispatchRecord) error
	Recent(ctx context.Context, limit int) ([]DispatchRecord, error)
	Close() error
}
