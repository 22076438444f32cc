// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package accountpool

import "sync"

// lockedSet is the process-wide set of account ids currently leased to an
// orchestrator. It only exposes try-lock semantics; cross-node exclusivity
// relies on the persisted cooldown windows instead.
type lockedSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func newLockedSet() *lockedSet {
	return &lockedSet{ids: make(map[int64]struct{})}
}

// TryLock adds id to the set, returning false when it is already held.
func (set *lockedSet) TryLock(id int64) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, held := set.ids[id]; held {
		return false
	}
	set.ids[id] = struct{}{}
	return true
}

// Unlock removes id from the set.
func (set *lockedSet) Unlock(id int64) {
	set.mu.Lock()
	defer set.mu.Unlock()
	delete(set.ids, id)
}

// Snapshot returns the currently held ids.
func (set *lockedSet) Snapshot() []int64 {
	set.mu.Lock()
	defer set.mu.Unlock()
	ids := make([]int64, 0, len(set.ids))
	for id := range set.ids {
		ids = append(ids, id)
	}
	return ids
}
