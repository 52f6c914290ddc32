// Package perthread holds the state the core keeps per OS thread: the
// recursion guard implementing the safe-call protocol and the return
// channel carrying handler results back to the trampoline.
//
// Intercepted calls arrive on threads the foreign caller owns, so
// thread id — not goroutine identity — keys every slot.
package perthread

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wraptrace/wraptrace/call"
)

// Guard implements the safe-call protocol: interception is suppressed
// for the calling thread while a handler invokes the real function, so
// nested calls the real implementation makes do not re-trigger the
// machinery.
type Guard struct {
	mu       sync.Mutex
	suppress map[int]int // tid -> nesting depth
}

func NewGuard() *Guard {
	return &Guard{suppress: make(map[int]int)}
}

// SafeCall marks the calling thread as not wrapping, invokes the real
// function, and restores wrapping afterwards. The error code comes back
// from the invocation itself, captured before anything else on the
// thread could overwrite it. This is the only safe way for a handler to
// call back into the wrapped library.
func (g *Guard) SafeCall(real call.RealFunc) (uintptr, unix.Errno) {
	tid := unix.Gettid()
	g.enter(tid)
	defer g.exit(tid)
	return real()
}

// Suppressed reports whether the calling thread is inside a safe call.
// Dispatch entry points treat a suppressed thread as not intercepted.
func (g *Guard) Suppressed() bool {
	tid := unix.Gettid()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppress[tid] > 0
}

func (g *Guard) enter(tid int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppress[tid]++
}

func (g *Guard) exit(tid int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.suppress[tid]; d <= 1 {
		delete(g.suppress, tid)
	} else {
		g.suppress[tid] = d - 1
	}
}

// Drop releases the calling thread's guard state, at thread exit.
func (g *Guard) Drop() {
	tid := unix.Gettid()
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.suppress, tid)
}

// Reinit replaces all guard state, for a freshly forked child.
func (g *Guard) Reinit() {
	g.mu = sync.Mutex{}
	g.suppress = make(map[int]int)
}

// Channel carries one published Result per thread from a full-handle
// handler to the trampoline, overwritten on every substituted call and
// read back immediately after the handler returns.
type Channel struct {
	mu    sync.Mutex
	slots map[int]call.Result
}

func NewChannel() *Channel {
	return &Channel{slots: make(map[int]call.Result)}
}

// Publish stores the calling thread's result.
func (c *Channel) Publish(r call.Result) {
	tid := unix.Gettid()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[tid] = r
}

// Take returns and clears the calling thread's slot. Reading a slot no
// handler published is a contract violation and fatal.
func (c *Channel) Take() call.Result {
	tid := unix.Gettid()
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.slots[tid]
	if !ok {
		call.Bug(0x4311, "no return value published for this thread")
	}
	delete(c.slots, tid)
	return r
}

// Drop discards the calling thread's slot, at thread exit.
func (c *Channel) Drop() {
	tid := unix.Gettid()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, tid)
}

// Reinit replaces all channel state, for a freshly forked child.
func (c *Channel) Reinit() {
	c.mu = sync.Mutex{}
	c.slots = make(map[int]call.Result)
}
