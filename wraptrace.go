// Package wraptrace is the interception-dispatch core of a preload
// tracing shim: it decides, per call into the wrapped runtime library,
// whether and how the call is intercepted, tracks descriptor categories,
// invokes real entry points without re-triggering itself, and keeps
// tracing alive across signals, forks and execs.
//
// The register-capture trampoline, trace persistence and backtrace
// formatting live outside this module; they talk to the core through
// the entry points on Tracer and the call.Sink interface.
package wraptrace

import (
	"errors"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/wraptrace/wraptrace/call"
	"github.com/wraptrace/wraptrace/dispatch"
	"github.com/wraptrace/wraptrace/fdtable"
	"github.com/wraptrace/wraptrace/handlers"
	"github.com/wraptrace/wraptrace/perthread"
	"github.com/wraptrace/wraptrace/preload"
	"github.com/wraptrace/wraptrace/realsym"
	"github.com/wraptrace/wraptrace/sigtab"
)

// Config assembles a Tracer. LibraryPath, Anchor and Offsets describe
// the wrapped runtime library; everything else has a working default.
type Config struct {
	// LibraryPath is the real runtime library to interpose.
	LibraryPath string
	// Anchor is the symbol resolved once through the standard
	// mechanism to learn the library's load base.
	Anchor string
	// Offsets is the build-time table of symbol offsets from the base.
	Offsets realsym.Offsets

	// Preload names the shim objects re-injected into descendants.
	Preload preload.Config
	// SpecialSignal triggers a trace flush without being forwarded.
	// Zero leaves it uninstalled.
	SpecialSignal int
	// Interposer is the address of the interposing signal handler
	// substituted for application handlers.
	Interposer uintptr

	Sink   call.Sink
	Logger zerolog.Logger

	// Dl overrides the loader bridge; defaults to the system loader.
	Dl realsym.Dl
	// Fileno, Setenv, Getpid and Forward override the real-library
	// primitives the handlers need; tests inject fakes.
	Fileno  func(stream uintptr) int
	Setenv  func(key, value string)
	Getpid  func() int
	Forward sigtab.Forwarder
}

// Tracer is the process-wide interception context. Construct exactly
// one per process with New; all entry points are safe for concurrent
// use by multiple intercepted threads.
type Tracer struct {
	cfg Config
	log zerolog.Logger

	table   *dispatch.Table
	fds     *fdtable.Table
	sigs    *sigtab.Table
	guard   *perthread.Guard
	results *perthread.Channel
	library *realsym.Library
	set     *handlers.Set
	sink    call.Sink

	// forking holds the pid at which a fork began, zero otherwise,
	// letting trace writers detect the identity change.
	forking atomic.Int64
}

// New wires and initializes a Tracer. The dispatch cache is populated
// exactly once; calling Init again later has no further effect.
func New(cfg Config) (*Tracer, error) {
	if cfg.LibraryPath == "" {
		return nil, errors.New("wraptrace: library path is required")
	}
	if cfg.Anchor == "" {
		return nil, errors.New("wraptrace: anchor symbol is required")
	}
	if len(cfg.Offsets) == 0 {
		return nil, errors.New("wraptrace: symbol offset table is required")
	}

	if cfg.Dl == nil {
		dl, err := realsym.SystemDl()
		if err != nil {
			return nil, err
		}
		cfg.Dl = dl
	}
	if cfg.Sink == nil {
		cfg.Sink = NewZerologSink(cfg.Logger)
	}
	if cfg.Setenv == nil {
		cfg.Setenv = func(key, value string) { _ = os.Setenv(key, value) }
	}
	if cfg.Getpid == nil {
		cfg.Getpid = os.Getpid
	}
	if cfg.Forward == nil {
		cfg.Forward = func(handler uintptr, sig int, info, sigctx uintptr) {
			realsym.Call3(handler, uintptr(sig), info, sigctx)
		}
	}

	t := &Tracer{
		cfg:     cfg,
		log:     cfg.Logger,
		table:   dispatch.New(),
		fds:     fdtable.New(),
		guard:   perthread.NewGuard(),
		results: perthread.NewChannel(),
		library: realsym.NewLibrary(cfg.Dl, cfg.LibraryPath, cfg.Anchor, cfg.Offsets),
		sink:    cfg.Sink,
	}
	t.sigs = sigtab.New(func() {
		t.sink.Flush()
		t.sink.Close()
	}, cfg.Forward, cfg.Logger)

	if cfg.Fileno == nil {
		cfg.Fileno = func(stream uintptr) int {
			return int(realsym.Call1(t.library.Symbol("fileno"), stream))
		}
	}

	t.set = handlers.New(handlers.Deps{
		FDs:          t.fds,
		Signals:      t.sigs,
		Preload:      cfg.Preload,
		Sink:         t.sink,
		Guard:        t.guard,
		Results:      t.results,
		Fileno:       cfg.Fileno,
		Setenv:       cfg.Setenv,
		Getpid:       cfg.Getpid,
		Interposer:   cfg.Interposer,
		OnFork:       func(pid int) { t.forking.Store(int64(pid)) },
		OnThreadExit: t.releaseThread,
		Log:          cfg.Logger,
	})

	t.Init()
	return t, nil
}

// Init populates the dispatch cache and installs the special flush
// signal. Idempotent.
func (t *Tracer) Init() {
	t.table.Init(func(tbl *dispatch.Table) {
		t.set.Register(tbl)
		if t.cfg.SpecialSignal > 0 {
			t.sigs.SetSpecial(t.cfg.SpecialSignal)
		}
	})
}

// DispatchFull runs the full-handle path for an intercepted call. It
// returns true when the call was substituted: the trampoline must skip
// the real function and read the result channel instead.
func (t *Tracer) DispatchFull(ctx *call.Context) bool {
	if ctx == nil || ctx.Symbol == "" || t.guard.Suppressed() {
		return false
	}
	e := t.table.Lookup(ctx)
	if e == nil || !e.FullHandle || e.Handler == nil {
		return false
	}
	ctx.ShouldHandle = true
	ctx.ShouldModSym = false
	handled := e.Handler(ctx)
	ctx.ShouldHandle = false
	return handled
}

// DispatchRename runs the rename-only path: a matching handler may
// rewrite the context's symbol before the call proceeds unmodified and
// is logged.
func (t *Tracer) DispatchRename(ctx *call.Context) {
	if ctx == nil || ctx.Symbol == "" || t.guard.Suppressed() {
		return
	}
	e := t.table.Lookup(ctx)
	if e == nil || !e.RenameOnly || e.Handler == nil {
		return
	}
	ctx.ShouldModSym = true
	ctx.ShouldHandle = false
	e.Handler(ctx)
	ctx.ShouldModSym = false
}

// ReadResult returns and clears the calling thread's published result.
// Calling it when no handler published one is a contract violation and
// fatal.
func (t *Tracer) ReadResult() call.Result {
	return t.results.Take()
}

// ResolveRealSymbol returns the real entry point for a required symbol,
// lazily opening the wrapped library on first use.
func (t *Tracer) ResolveRealSymbol(name string) uintptr {
	if name == "" {
		call.Bug(0x21, "empty symbol name")
	}
	return t.library.Symbol(name)
}

// OnSignalInstall registers interposition for an application-installed
// handler and reports whether the caller must substitute the
// interposing handler.
func (t *Tracer) OnSignalInstall(sig int, handler uintptr) bool {
	return t.sigs.Install(sig, handler)
}

// OnSignal is the delivery entry point invoked by the interposing
// handler.
func (t *Tracer) OnSignal(sig int, info, sigctx uintptr) {
	t.sigs.Deliver(sig, info, sigctx)
}

// Forking reports the pid at which an uncompleted fork began.
func (t *Tracer) Forking() (int, bool) {
	pid := t.forking.Load()
	return int(pid), pid != 0
}

// ForkComplete clears the fork marker once the trace writer has
// observed the identity change.
func (t *Tracer) ForkComplete() {
	t.forking.Store(0)
}

// AtForkChild reinitializes shared locks and per-thread state in a
// freshly forked child, which inherits the parent's lock state as held.
func (t *Tracer) AtForkChild() {
	t.fds.ReinitLock()
	t.guard.Reinit()
	t.results.Reinit()
	t.sigs.Reinit()
	t.forking.Store(0)
}

// Close flushes and releases the sink's trace state. The tables
// themselves live for the process.
func (t *Tracer) Close() error {
	t.sink.Flush()
	t.sink.Close()
	return nil
}

func (t *Tracer) releaseThread() {
	t.guard.Drop()
	t.results.Drop()
}
