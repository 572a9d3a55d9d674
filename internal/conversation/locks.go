// ABOUTME: Striped mutexes keyed by conversation name
// ABOUTME: Serializes ingest and broadcast for one conversation without a global lock

package conversation

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

type nameLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newNameLocks() *nameLocks {
	return &nameLocks{}
}

// lock acquires the stripe for name and returns its unlock function.
func (l *nameLocks) lock(name string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
