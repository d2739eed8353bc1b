package storage

import (
	"context"
	"errors"
	"time"

	"unfollowbot/internal/model"
)

// ErrCorrupt wraps any failure to decode stored ledger data.
var ErrCorrupt = errors.New("ledger storage is corrupt")

// Snapshot is the persisted ledger state.
type Snapshot struct {
	Followers     []model.Follower `json:"followers"`
	MessagedUsers []string         `json:"messagedUsers"`
}

// Store persists ledger snapshots.
type Store interface {
	// Load returns the stored snapshot. found is false when nothing has been
	// stored yet.
	Load(ctx context.Context) (snap Snapshot, found bool, err error)
	// Save replaces the stored snapshot with snap.
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON document at Path
//   - "sqlite": SQLite database file at Path
//
// An empty Driver means "file".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
