package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"unfollowbot/internal/model"
	logx "unfollowbot/pkg/logx"
)

// fileStore keeps the ledger as one JSON document:
//
//	{"followers":[{"id":"1","name":"a"}],"messagedUsers":["7"]}
//
// Save truncates and rewrites the file in place. A crash in the middle of a
// write can leave a truncated document behind, which Load then reports as
// ErrCorrupt. Writes happen at most once per poll interval.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &fileStore{log: log, path: cfg.Path}, nil
}

func (s *fileStore) Load(_ context.Context) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, err := decodeSnapshot(b)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return snap, true, nil
}

// decodeSnapshot accepts the object form and the older bare array of
// followers.
func decodeSnapshot(b []byte) (Snapshot, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return Snapshot{}, errors.New("empty document")
	}
	if b[0] == '[' {
		var followers []model.Follower
		if err := json.Unmarshal(b, &followers); err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Followers: followers}, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *fileStore) Save(_ context.Context, snap Snapshot) error {
	if snap.Followers == nil {
		snap.Followers = []model.Follower{}
	}
	if snap.MessagedUsers == nil {
		snap.MessagedUsers = []string{}
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path, b, 0o600)
}

func (s *fileStore) Close() error { return nil }
