package fdtable

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// reentrantMutex lets the owning OS thread relock while it already holds
// the lock. Intercepted calls arrive on foreign threads that stay locked
// for the duration of the call, so thread identity is the right owner
// key.
type reentrantMutex struct {
	inner sync.Mutex
	owner atomic.Int64 // holder's tid, 0 when unheld
	depth int
}

func (m *reentrantMutex) lock() {
	tid := int64(unix.Gettid())
	if m.owner.Load() == tid {
		m.depth++
		return
	}
	m.inner.Lock()
	m.owner.Store(tid)
	m.depth = 1
}

func (m *reentrantMutex) unlock() {
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.inner.Unlock()
	}
}
