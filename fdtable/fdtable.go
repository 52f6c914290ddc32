// Package fdtable tracks the semantic category of every open file
// descriptor in the process, so generic calls (read, write, ioctl,
// fcntl) can be relabelled by what kind of descriptor they touch.
package fdtable

const minSize = 128

// Category bytes. Zero means untracked.
const (
	Untracked   byte = 0
	Device      byte = 'D' // /dev paths
	Epoll       byte = 'E'
	RegularFile byte = 'F'
	StdStream   byte = 'f' // stdin/stdout/stderr
	ProcFS      byte = 'K' // /proc paths
	SysFS       byte = 'k' // /sys paths
	Pipe        byte = 'P'
	ShellPipe   byte = 'p' // popen pipe
	Socket      byte = 'S'
)

// Unknown is the placeholder consumers see for an untracked descriptor
// in a renamed symbol.
const Unknown byte = '?'

// Table maps descriptor numbers to category bytes. It grows
// monotonically and is guarded by a re-entrant lock so a thread whose
// handler triggers a nested interception does not deadlock against
// itself.
type Table struct {
	mu    reentrantMutex
	cats  []byte
	alloc func(int) []byte
}

func New() *Table {
	return NewWithAllocator(func(n int) []byte { return make([]byte, n) })
}

// NewWithAllocator builds a table whose growth goes through alloc. An
// allocator returning nil signals failure: the table is left unchanged
// and category tracking is silently skipped for the offending
// descriptor.
func NewWithAllocator(alloc func(int) []byte) *Table {
	return &Table{
		cats:  make([]byte, minSize),
		alloc: alloc,
	}
}

// Get returns the category of fd, or Untracked for negative or unknown
// descriptors. The standard streams are lazily categorized on first
// observation.
func (t *Table) Get(fd int) byte {
	if fd < 0 {
		return Untracked
	}
	t.mu.lock()
	defer t.mu.unlock()

	if !t.ensure(fd) {
		return Untracked
	}
	c := t.cats[fd]
	if c == Untracked && fd <= 2 {
		c = StdStream
		t.cats[fd] = c
	}
	return c
}

// Set records the category of fd. Negative descriptors are ignored.
func (t *Table) Set(fd int, category byte) {
	if fd < 0 {
		return
	}
	t.mu.lock()
	defer t.mu.unlock()

	if !t.ensure(fd) {
		return
	}
	t.cats[fd] = category
}

// Clear marks fd untracked, as after close. Descriptors beyond the
// current capacity were never tracked and need no work.
func (t *Table) Clear(fd int) {
	if fd < 0 {
		return
	}
	t.mu.lock()
	defer t.mu.unlock()

	if fd < len(t.cats) {
		t.cats[fd] = Untracked
	}
}

// Capacity reports the current table size.
func (t *Table) Capacity() int {
	t.mu.lock()
	defer t.mu.unlock()
	return len(t.cats)
}

// ReinitLock re-creates the table's lock. Call in a freshly forked
// child, where the parent may have been holding it mid-operation.
func (t *Table) ReinitLock() {
	t.mu = reentrantMutex{}
}

// ensure grows the table so fd is in range. Caller holds the lock.
// Returns false when allocation failed; the table is unchanged.
func (t *Table) ensure(fd int) bool {
	if fd < len(t.cats) {
		return true
	}
	n := len(t.cats) * 2
	if fd*2 > n {
		n = fd * 2
	}
	if n < minSize*2 {
		n = minSize * 2
	}
	grown := t.alloc(n)
	if grown == nil {
		return false
	}
	copy(grown, t.cats)
	t.cats = grown
	return true
}
