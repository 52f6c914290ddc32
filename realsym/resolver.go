// Package realsym resolves entry points of the real runtime library by
// a precomputed offset table, bypassing the (now-intercepted) standard
// symbol-resolution path.
package realsym

import (
	"fmt"
	"sync"

	"github.com/wraptrace/wraptrace/call"
)

// Offsets maps symbol names to byte offsets from the module's load
// base. The table is produced at build time (see the gen-offsets CLI
// command); the core treats it as opaque input.
type Offsets map[string]uintptr

// Dl abstracts the raw dynamic-loader primitives the resolver needs.
// The production implementation calls the loader through raw function
// pointers; tests inject fakes.
type Dl interface {
	Open(path string) (uintptr, error)
	Sym(handle uintptr, name string) (uintptr, error)
}

// Resolver answers symbol lookups inside one loaded module. The anchor
// symbol is resolved through the standard mechanism exactly once to
// learn the load base; every other symbol is base plus its precomputed
// offset.
type Resolver struct {
	mu      sync.Mutex
	dl      Dl
	anchor  string
	offsets Offsets

	base     uintptr
	haveBase bool
}

func NewResolver(dl Dl, anchor string, offsets Offsets) *Resolver {
	return &Resolver{dl: dl, anchor: anchor, offsets: offsets}
}

// Lookup returns the entry point of sym inside the module behind
// handle, or false when the symbol is absent from the offset table.
// A missing or unresolvable anchor is fatal: it is an init-time
// misconfiguration, not a runtime condition.
func (r *Resolver) Lookup(handle uintptr, sym string) (uintptr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveBase {
		addr, err := r.dl.Sym(handle, r.anchor)
		if err != nil || addr == 0 {
			call.Bug(0x1, fmt.Sprintf("anchor symbol %q not resolvable: %v", r.anchor, err))
		}
		off, ok := r.offsets[r.anchor]
		if !ok {
			call.Bug(0x2, fmt.Sprintf("anchor symbol %q missing from offset table", r.anchor))
		}
		r.base = addr - off
		r.haveBase = true
	}

	off, ok := r.offsets[sym]
	if !ok {
		return 0, false
	}
	return r.base + off, true
}

// Resolve is Lookup with the table miss promoted to a fatal diagnostic,
// for symbols the shim cannot run without.
func (r *Resolver) Resolve(handle uintptr, sym string) uintptr {
	addr, ok := r.Lookup(handle, sym)
	if !ok {
		call.Bug(0x23, fmt.Sprintf("required symbol %q missing from offset table", sym))
	}
	return addr
}

// ResolveAlternates tries each candidate name, and each name's
// underscore-prefixed spelling, returning the first hit. With required
// set, exhausting the candidates is fatal; otherwise zero is returned.
func (r *Resolver) ResolveAlternates(handle uintptr, required bool, names ...string) uintptr {
	for _, n := range names {
		if n == "" {
			continue
		}
		for _, cand := range []string{n, "_" + n} {
			if addr, ok := r.Lookup(handle, cand); ok {
				return addr
			}
		}
	}
	if required {
		call.Bug(0x41, fmt.Sprintf("no candidate of %v present in offset table", names))
	}
	return 0
}
