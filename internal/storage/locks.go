package storage

import (
	"slices"
	"sync"
)

// Lockable resource names. Shards lock per date via ShardResource.
const (
	ResourceLedger  = "ledger"
	ResourceBudget  = "budget"
	ResourceDeleted = "deleted"
)

// ShardResource names the lock guarding the shard for date (YYYY-MM-DD).
func ShardResource(date string) string {
	return "shard:" + date
}

type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *lockTable) get(name string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	m, ok := t.locks[name]
	if !ok {
		m = &sync.Mutex{}
		t.locks[name] = m
	}
	return m
}

// Lock acquires the named resources and returns the function releasing them.
// Names are locked in sorted order so overlapping callers cannot deadlock.
func (s *Store) Lock(resources ...string) (unlock func()) {
	names := slices.Clone(resources)
	slices.Sort(names)
	names = slices.Compact(names)

	held := make([]*sync.Mutex, 0, len(names))
	for _, name := range names {
		m := s.locks.get(name)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
