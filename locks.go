package strata

import (
	"hash/fnv"
	"sort"
	"sync"
)

const lockStripes = 64

// stripedLocks serializes writers of the same entity without a
// per-entity map that grows forever. Writers hash (type, id) onto a
// fixed set of mutexes; collisions cost contention, not correctness.
type stripedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func stripeFor(entityType, id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(entityType))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return h.Sum32() % lockStripes
}

func (l *stripedLocks) lock(entityType, id string) func() {
	m := &l.stripes[stripeFor(entityType, id)]
	m.Lock()
	return m.Unlock
}

// lockAll locks the stripes covering a set of ids, deduplicated and in
// ascending order so concurrent batches cannot deadlock.
func (l *stripedLocks) lockAll(entityType string, ids []string) func() {
	seen := make(map[uint32]bool, len(ids))
	stripes := make([]int, 0, len(ids))
	for _, id := range ids {
		s := stripeFor(entityType, id)
		if !seen[s] {
			seen[s] = true
			stripes = append(stripes, int(s))
		}
	}
	sort.Ints(stripes)
	for _, s := range stripes {
		l.stripes[s].Lock()
	}
	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			l.stripes[stripes[i]].Unlock()
		}
	}
}
