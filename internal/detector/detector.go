// Package detector turns repeated absence from follower snapshots into
// confirmed unfollows.
//
// Each known follower is Tracked while present in the latest snapshot,
// Suspect(n) after n consecutive absent ticks, and Confirmed once n reaches
// the threshold. A confirmed follower leaves the suspect map in the same tick,
// and a reappearing one leaves it immediately, so the map only ever holds
// followers that are currently missing. That bounds its size by the number of
// known followers without any eviction policy.
package detector

import (
	"sync"

	"unfollowbot/internal/model"
)

// Result is the outcome of one Diff.
type Result struct {
	// Unfollowed holds confirmed unfollows, in the order of the known list.
	Unfollowed []model.Follower
	// Followed holds followers not yet known, in snapshot order.
	Followed []model.Follower
}

// Empty reports whether the diff produced no events.
func (r Result) Empty() bool { return len(r.Unfollowed) == 0 && len(r.Followed) == 0 }

// Detector keeps the consecutive-miss counters. It is safe for concurrent
// use, although the scheduler never runs two diffs at once.
type Detector struct {
	mu        sync.Mutex
	threshold int
	misses    map[string]int
}

// New returns a detector confirming an unfollow after threshold consecutive
// misses. A threshold of 0 (or less) confirms on the first miss.
func New(threshold int) *Detector {
	return &Detector{threshold: max(0, threshold), misses: map[string]int{}}
}

// SetThreshold changes the confirmation threshold for subsequent diffs.
// Existing counters are kept and compared against the new value.
func (d *Detector) SetThreshold(n int) {
	d.mu.Lock()
	d.threshold = max(0, n)
	d.mu.Unlock()
}

func (d *Detector) Threshold() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Diff compares the fresh snapshot with the known followers and advances the
// counters. The caller applies the result to its ledger.
func (d *Detector) Diff(current, known []model.Follower) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	present := make(map[string]struct{}, len(current))
	for _, f := range current {
		present[f.ID] = struct{}{}
	}

	var res Result
	for _, f := range known {
		if _, ok := present[f.ID]; ok {
			continue
		}
		n := d.misses[f.ID] + 1
		if n >= d.threshold {
			delete(d.misses, f.ID)
			res.Unfollowed = append(res.Unfollowed, f)
			continue
		}
		d.misses[f.ID] = n
	}

	knownIDs := make(map[string]struct{}, len(known))
	for _, f := range known {
		knownIDs[f.ID] = struct{}{}
	}
	for id := range d.misses {
		if _, ok := knownIDs[id]; !ok {
			delete(d.misses, id)
		}
	}
	seen := make(map[string]struct{}, len(current))
	for _, f := range current {
		delete(d.misses, f.ID)
		if _, ok := knownIDs[f.ID]; ok {
			continue
		}
		// Paginated snapshots can repeat an entry across pages.
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		res.Followed = append(res.Followed, f)
	}
	return res
}

// Suspects returns a copy of the consecutive-miss counters.
func (d *Detector) Suspects() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.misses))
	for k, v := range d.misses {
		out[k] = v
	}
	return out
}
