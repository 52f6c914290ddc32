// Package dispatch implements the symbol-keyed cache that decides, per
// intercepted call, whether and how a symbol is handled.
package dispatch

import (
	"sync"

	"github.com/wraptrace/wraptrace/call"
)

const (
	tableSize  = 256
	arenaBlock = 64
)

// Handler services one intercepted call. It returns true when it fully
// substituted the call, meaning the trampoline must skip the real
// function and read the return channel instead.
type Handler func(*call.Context) bool

// Entry is one registered symbol. Entries are created once at process
// start and never removed.
type Entry struct {
	Name    string
	Handler Handler

	// FullHandle entries substitute the real call entirely.
	FullHandle bool
	// RenameOnly entries run purely to relabel the symbol before the
	// call proceeds and is logged.
	RenameOnly bool

	next *Entry
}

// Table is the process-wide dispatch cache: a fixed bucket array indexed
// by a hash of the symbol name, with collisions chained through entries
// allocated from a grow-only arena. Registration happens once, under
// Init, before any concurrent lookups; lookups are lock-free thereafter.
type Table struct {
	mu      sync.Mutex
	once    sync.Once
	buckets [tableSize]*Entry

	// block is the current arena block. Entries are never moved or
	// freed; exhausted blocks stay reachable through the buckets.
	block []Entry
}

func New() *Table {
	return &Table{block: make([]Entry, 0, arenaBlock)}
}

// Hash is the order-sensitive byte-rotation hash indexing the bucket
// table. It is non-zero by construction.
func Hash(name string) uint8 {
	var v uint8
	for i := 0; i < len(name); i++ {
		v = v<<1 ^ name[i]
	}
	if v == 0 {
		v = 1
	}
	return v
}

// Init populates the table exactly once. Calling it again has no effect.
func (t *Table) Init(populate func(*Table)) {
	t.once.Do(func() { populate(t) })
}

// Register adds a symbol to the table. Registering an already-known
// symbol is a no-op: there is at most one entry per distinct name.
func (t *Table) Register(name string, h Handler, fullHandle, renameOnly bool) {
	if name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := Hash(name)
	var tail *Entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.Name == name {
			return
		}
		tail = e
	}

	e := t.alloc()
	e.Name = name
	e.Handler = h
	e.FullHandle = fullHandle
	e.RenameOnly = renameOnly
	if tail != nil {
		tail.next = e
	} else {
		t.buckets[idx] = e
	}
}

// Lookup finds the entry for the context's symbol, walking the bucket's
// chain and memoizing a hit on the context.
func (t *Table) Lookup(ctx *call.Context) *Entry {
	if e, ok := ctx.Cached.(*Entry); ok {
		return e
	}
	e := t.find(ctx.Symbol)
	if e != nil {
		ctx.Cached = e
	}
	return e
}

// Find looks up a symbol by name without a call context.
func (t *Table) Find(name string) *Entry { return t.find(name) }

func (t *Table) find(name string) *Entry {
	if name == "" {
		return nil
	}
	for e := t.buckets[Hash(name)]; e != nil; e = e.next {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// alloc hands out the next entry from the arena. Entries live for the
// process lifetime; a full block is simply abandoned to the entries it
// already holds and a fresh block started. Caller holds t.mu.
func (t *Table) alloc() *Entry {
	if len(t.block) == cap(t.block) {
		t.block = make([]Entry, 0, arenaBlock)
	}
	t.block = append(t.block, Entry{})
	return &t.block[len(t.block)-1]
}
