// Package ledger keeps the known followers and the users that were already
// messaged, and flushes them to a storage.Store when they changed.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"unfollowbot/internal/model"
	"unfollowbot/internal/storage"
	logx "unfollowbot/pkg/logx"
)

// Ledger is the in-memory view of the durable ledger.
//
// Followers are unique by id and ordered newest-seen first. Messaged users
// are append-only. Any change sets the dirty flag; FlushIfDirty writes the
// complete snapshot and clears it.
type Ledger struct {
	store storage.Store
	log   logx.Logger

	mu        sync.Mutex
	followers []model.Follower
	index     map[string]struct{}
	messaged  []string
	msgIndex  map[string]struct{}
	dirty     bool
	// gen counts mutations so a flush racing a mutation leaves dirty set.
	gen uint64
}

func New(store storage.Store, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{
		store:    store,
		log:      log,
		index:    map[string]struct{}{},
		msgIndex: map[string]struct{}{},
	}
}

// Load replaces the in-memory state with the stored snapshot. When nothing
// is stored yet the ledger starts empty and dirty, so the empty state is
// written by the first flush.
func (l *Ledger) Load(ctx context.Context) error {
	l.log.Debug("reading ledger")
	snap, found, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.followers = nil
	l.index = map[string]struct{}{}
	l.messaged = nil
	l.msgIndex = map[string]struct{}{}

	if !found {
		l.log.Info("ledger does not exist yet; starting empty")
		l.dirty = true
		return nil
	}

	dups := 0
	for _, f := range snap.Followers {
		if _, ok := l.index[f.ID]; ok {
			dups++
			continue
		}
		l.index[f.ID] = struct{}{}
		l.followers = append(l.followers, f)
	}
	for _, id := range snap.MessagedUsers {
		if _, ok := l.msgIndex[id]; ok {
			dups++
			continue
		}
		l.msgIndex[id] = struct{}{}
		l.messaged = append(l.messaged, id)
	}
	// Rewrite a store that held duplicates.
	l.dirty = dups > 0

	l.log.Info("ledger loaded",
		logx.Int("followers", len(l.followers)),
		logx.Int("messaged", len(l.messaged)),
		logx.Int("duplicates_dropped", dups),
	)
	return nil
}

// Add records f as a follower. It is a no-op when the id is already known.
func (l *Ledger) Add(f model.Follower) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[f.ID]; ok {
		return false
	}
	l.index[f.ID] = struct{}{}
	l.followers = append([]model.Follower{f}, l.followers...)
	l.markLocked()
	return true
}

// Remove forgets the follower with the given id.
func (l *Ledger) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[id]; !ok {
		return false
	}
	delete(l.index, id)
	out := l.followers[:0]
	for _, f := range l.followers {
		if f.ID != id {
			out = append(out, f)
		}
	}
	l.followers = out
	l.markLocked()
	return true
}

func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok
}

// Followers returns a copy of the known followers.
func (l *Ledger) Followers() []model.Follower {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Follower(nil), l.followers...)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.followers)
}

// MarkMessaged records that id received an unfollow message.
func (l *Ledger) MarkMessaged(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.msgIndex[id]; ok {
		return false
	}
	l.msgIndex[id] = struct{}{}
	l.messaged = append(l.messaged, id)
	l.markLocked()
	return true
}

func (l *Ledger) WasMessaged(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.msgIndex[id]
	return ok
}

func (l *Ledger) markLocked() {
	l.dirty = true
	l.gen++
}

func (l *Ledger) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

func (l *Ledger) snapshotLocked() storage.Snapshot {
	return storage.Snapshot{
		Followers:     append([]model.Follower{}, l.followers...),
		MessagedUsers: append([]string{}, l.messaged...),
	}
}

// FlushIfDirty writes the complete snapshot when something changed since the
// last flush. It reports whether a write happened. On error the ledger stays
// dirty so the next flush retries.
func (l *Ledger) FlushIfDirty(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		l.log.Debug("ledger unchanged; not saving")
		return false, nil
	}
	snap := l.snapshotLocked()
	gen := l.gen
	l.mu.Unlock()

	l.log.Debug("saving ledger", logx.Int("followers", len(snap.Followers)), logx.Int("messaged", len(snap.MessagedUsers)))
	if err := l.store.Save(ctx, snap); err != nil {
		return false, fmt.Errorf("save ledger: %w", err)
	}

	l.mu.Lock()
	if l.gen == gen {
		l.dirty = false
	}
	l.mu.Unlock()
	l.log.Debug("saved ledger")
	return true, nil
}
