package realsym

import (
	"fmt"
	"sync"

	"github.com/wraptrace/wraptrace/call"
)

// Library is the process-wide view of the real runtime library: the
// loaded module handle plus lazily resolved entry points. Lifetime is
// the process; there is no unload.
type Library struct {
	mu       sync.Mutex
	dl       Dl
	path     string
	resolver *Resolver
	handle   uintptr
}

func NewLibrary(dl Dl, path, anchor string, offsets Offsets) *Library {
	return &Library{
		dl:       dl,
		path:     path,
		resolver: NewResolver(dl, anchor, offsets),
	}
}

// Handle returns the loaded module handle, opening the module on first
// use. Failure to open is fatal: the shim cannot function without its
// wrapped library.
func (l *Library) Handle() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handleLocked()
}

func (l *Library) handleLocked() uintptr {
	if l.handle != 0 {
		return l.handle
	}
	h, err := l.dl.Open(l.path)
	if err != nil || h == 0 {
		call.Bug(0x22, fmt.Sprintf("cannot open wrapped library %s: %v", l.path, err))
	}
	l.handle = h
	return h
}

// Symbol resolves a required entry point by name.
func (l *Library) Symbol(name string) uintptr {
	return l.resolver.Resolve(l.Handle(), name)
}

// SymbolAlternates resolves the first present spelling of the candidate
// names; zero when none is present and required is false.
func (l *Library) SymbolAlternates(required bool, names ...string) uintptr {
	return l.resolver.ResolveAlternates(l.Handle(), required, names...)
}
