package store

import (
	"context"

	"github.com/pkbops/vaultsync/internal/models"
)

// HistoryFilter specifies filters for listing sync records.
type HistoryFilter struct {
	Repository string
	FailedOnly bool
	Limit      int
}

// Store defines the persistence interface for sync history. History is a
// best-effort record: the orchestrator treats write failures as loggable,
// never as sync failures.
type Store interface {
	RecordSync(ctx context.Context, rec *models.SyncRecord) error
	ListHistory(ctx context.Context, filter HistoryFilter) ([]*models.SyncRecord, error)
	LastOutcome(ctx context.Context, repository string) (*models.SyncRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
