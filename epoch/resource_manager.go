// Package epoch implements the RCU-style reclamation described in §5 and
// §9 (Epoch/RCU reading): readers pin the current epoch for the lifetime
// of their snapshot, writers publish new immutable lists and defer
// reclamation of the old ones until no pinned reader can still see them.
package epoch

import (
	"sync"
	"sync/atomic"
)

// ResourceManager tracks the oldest epoch any live Guard has pinned and
// runs deferred deletions once they are no longer observable.
type ResourceManager struct {
	epoch int64 // monotonically increasing, bumped on every Acquire

	mu       sync.Mutex
	pending  []pendingDelete
	minAlive int64 // smallest epoch among currently-held guards
	alive    map[int64]int
}

type pendingDelete struct {
	epoch int64
	fn    func()
}

func NewResourceManager() *ResourceManager {
	return &ResourceManager{alive: map[int64]int{}}
}

// Guard pins the resource manager's current epoch; the caller must call
// Done exactly once when the snapshot it backs is dropped.
type Guard struct {
	mgr   *ResourceManager
	epoch int64
	done  int32
}

// Acquire pins the current epoch and returns a Guard. Every table handle
// observed while the guard is held remains valid until Done.
func (m *ResourceManager) Acquire() *Guard {
	e := atomic.AddInt64(&m.epoch, 1)
	m.mu.Lock()
	m.alive[e]++
	m.mu.Unlock()
	return &Guard{mgr: m, epoch: e}
}

// Delete schedules fn to run once every guard that could observe the
// resource being deleted has called Done. In package engine, fn removes
// replaced table blobs from the DFS.
func (g *Guard) Delete(fn func()) {
	g.mgr.mu.Lock()
	g.mgr.pending = append(g.mgr.pending, pendingDelete{epoch: g.epoch, fn: fn})
	g.mgr.mu.Unlock()
}

// Done releases the guard's pin and runs any deferred deletions that are
// now safe, i.e. whose epoch is older than every remaining live guard.
func (g *Guard) Done() {
	if !atomic.CompareAndSwapInt32(&g.done, 0, 1) {
		return
	}
	m := g.mgr
	m.mu.Lock()
	m.alive[g.epoch]--
	if m.alive[g.epoch] == 0 {
		delete(m.alive, g.epoch)
	}
	var runnable []func()
	if len(m.alive) == 0 {
		for _, p := range m.pending {
			runnable = append(runnable, p.fn)
		}
		m.pending = m.pending[:0]
	} else {
		oldest := int64(1<<63 - 1)
		for e := range m.alive {
			if e < oldest {
				oldest = e
			}
		}
		kept := m.pending[:0]
		for _, p := range m.pending {
			if p.epoch < oldest {
				runnable = append(runnable, p.fn)
			} else {
				kept = append(kept, p)
			}
		}
		m.pending = kept
	}
	m.mu.Unlock()
	for _, fn := range runnable {
		fn()
	}
}
