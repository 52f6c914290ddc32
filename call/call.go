// Package call defines the per-call context exchanged between the external
// trampoline and the interception core, and the typed argument payloads the
// trampoline populates for each intercepted symbol family.
package call

import "golang.org/x/sys/unix"

// Kind tags the meaning of a substituted call's return value.
type Kind uint8

const (
	KindNone Kind = iota
	// KindInt is a plain integer return (a descriptor, a status code).
	KindInt
	// KindPtr is a pointer-sized return (a stream handle).
	KindPtr
)

// Result is published by a full-handle handler and read back by the
// trampoline in place of the real call's return value. Value is pointer
// wide so 64-bit returns travel intact.
type Result struct {
	Symbol string
	Kind   Kind
	Value  uintptr
	Errno  unix.Errno
}

// RealFunc invokes the real library implementation with the context's
// current arguments. The error code is captured inside the invocation,
// before anything else on the thread can overwrite it.
type RealFunc func() (uintptr, unix.Errno)

// Context carries one intercepted call through the core. It is owned by
// the trampoline and lives for exactly one call.
type Context struct {
	// Symbol is the intercepted symbol name. Rename-only handlers may
	// rewrite it before the call is logged.
	Symbol string
	Args   ArgSet
	Real   RealFunc

	ShouldHandle bool
	ShouldModSym bool
	ShouldLog    bool

	// Cached memoizes the dispatch lookup for this call so repeated
	// reads of the same interception skip rehashing. Managed by the
	// dispatch table; opaque to everyone else.
	Cached any
}

// ArgSet is the typed argument payload for one symbol family.
type ArgSet interface{ argSet() }

// OpenArgs covers open and its double-underscore variants.
type OpenArgs struct {
	Path  string
	Flags int
	Mode  int
}

// OpenAtArgs covers openat and its variants.
type OpenAtArgs struct {
	DirFD int
	Path  string
	Flags int
}

// StreamOpenArgs covers fopen and freopen. Stream is the existing stream
// handle for freopen, zero otherwise.
type StreamOpenArgs struct {
	Path   string
	Mode   string
	Stream uintptr
}

// DupArgs covers dup and dup2. NewFD is meaningful for dup2 only.
type DupArgs struct {
	OldFD int
	NewFD int
}

// SocketArgs covers socket and socketpair. Pair is non-nil for
// socketpair and receives both descriptors on success.
type SocketArgs struct {
	Domain   int
	Type     int
	Protocol int
	Pair     *[2]int
}

// PipeArgs covers pipe and pipe2.
type PipeArgs struct {
	FDs   *[2]int
	Flags int
}

// ShellOpenArgs covers popen.
type ShellOpenArgs struct {
	Command string
	Mode    string
}

// AcceptArgs covers accept.
type AcceptArgs struct {
	FD      int
	Addr    uintptr
	AddrLen uintptr
}

// CloseArgs covers close.
type CloseArgs struct {
	FD int
}

// StreamCloseArgs covers fclose, pclose and the internal stream close.
type StreamCloseArgs struct {
	Stream uintptr
}

// FDArgs covers the rename-only families (read, write, ioctl, fcntl and
// variants); all take the descriptor as their first argument.
type FDArgs struct {
	FD int
}

// ExecArgs covers the exec family. Env is non-nil for the form that
// passes an explicit environment array; the propagator rewrites the
// slice in place through the pointer.
type ExecArgs struct {
	Path string
	Argv []string
	Env  *[]string
}

// SignalArgs covers the handler-pointer installation APIs and the
// structured descriptor API alike: Handler points at the slot holding
// the application's handler, which the interposer may overwrite.
type SignalArgs struct {
	Sig     int
	Handler *uintptr
}

// LifecycleArgs covers exit, thread exit, fork and thread creation,
// which need no argument payload beyond the symbol itself.
type LifecycleArgs struct{}

func (OpenArgs) argSet()        {}
func (OpenAtArgs) argSet()      {}
func (StreamOpenArgs) argSet()  {}
func (DupArgs) argSet()         {}
func (SocketArgs) argSet()      {}
func (PipeArgs) argSet()        {}
func (ShellOpenArgs) argSet()   {}
func (AcceptArgs) argSet()      {}
func (CloseArgs) argSet()       {}
func (StreamCloseArgs) argSet() {}
func (FDArgs) argSet()          {}
func (ExecArgs) argSet()        {}
func (SignalArgs) argSet()      {}
func (LifecycleArgs) argSet()   {}

// Sink receives trace records and owns per-thread trace buffers.
// Formatting and persistence of records live entirely behind this
// interface; the core never writes trace output itself.
type Sink interface {
	Enabled() bool
	// FD records a descriptor gaining a category.
	FD(symbol string, fd int, path string, category byte)
	// Event records a one-line trace event for the current thread.
	Event(symbol, detail string)
	// Flush writes out the calling thread's buffered trace state.
	Flush()
	// Close flushes and releases the calling thread's trace handle.
	Close()
}
