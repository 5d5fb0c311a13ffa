package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ActivityRecord is one persisted activity journal line.
type ActivityRecord struct {
	ID        string
	Account   domain.AccountID
	Severity  string
	Key       string
	Message   string
	CreatedAt time.Time
}

// SnapshotStore keeps the last snapshot seen per account.
type SnapshotStore interface {
	// PutSnapshot stores snapshot unless a snapshot at a newer block is
	// already held for the account.
	PutSnapshot(ctx context.Context, snapshot domain.Snapshot) error
	GetSnapshot(ctx context.Context, account domain.AccountID) (domain.Snapshot, error)
}

// TileStore caches the board of one contract.
type TileStore interface {
	PutTiles(ctx context.Context, contract string, tiles []domain.TileInfo) error
	GetTiles(ctx context.Context, contract string) ([]domain.TileInfo, error)
}

// ActivityStore persists the activity journal.
type ActivityStore interface {
	AppendActivity(ctx context.Context, record ActivityRecord) error
	// ListActivity returns up to limit records for account, oldest first.
	ListActivity(ctx context.Context, account domain.AccountID, limit int) ([]ActivityRecord, error)
}

// Store is the full persistence surface used by the game service.
type Store interface {
	SnapshotStore
	TileStore
	ActivityStore
	Close() error
}
