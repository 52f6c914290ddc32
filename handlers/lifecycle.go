package handlers

import (
	"github.com/wraptrace/wraptrace/call"
	"github.com/wraptrace/wraptrace/preload"
)

// Exit flushes and releases all per-thread trace state before the
// process goes away. The real call proceeds.
func (s *Set) Exit(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	s.flushClose(ctx)
	s.deps.OnThreadExit()
	return false
}

// ThreadExit flushes trace state and releases the exiting thread's
// slots.
func (s *Set) ThreadExit(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	s.flushClose(ctx)
	s.deps.OnThreadExit()
	return false
}

// ThreadCreate flushes trace state around thread creation so the new
// thread starts from a clean buffer.
func (s *Set) ThreadCreate(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	s.flushClose(ctx)
	return false
}

// Fork flushes trace state and records the pre-fork pid so trace
// writers can detect the process identity change in the child.
func (s *Set) Fork(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	s.flushClose(ctx)
	s.deps.OnFork(s.deps.Getpid())
	return false
}

// Exec rewrites the child environment so descendants keep loading the
// shim. The form passing an explicit environment gets it rewritten in
// place; the inheriting forms get the preload variable set directly.
// execle's stack-built environment cannot be rewritten in place; that
// case is logged as degraded and still gets the variable set.
func (s *Set) Exec(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.ExecArgs)
	if !ok {
		return false
	}

	switch {
	case ctx.Symbol == "execle":
		s.deps.Log.Warn().Str("symbol", ctx.Symbol).
			Msg("no support for rewriting execle environment in place")
		s.deps.Setenv(preload.Var, s.deps.Preload.Value())
	case args.Env != nil:
		*args.Env = s.deps.Preload.PropagateEnviron(*args.Env)
	default:
		s.deps.Setenv(preload.Var, s.deps.Preload.Value())
	}

	if ctx.ShouldLog && s.deps.Sink.Enabled() {
		s.deps.Sink.Event(ctx.Symbol, args.Path)
	}
	s.flushClose(ctx)
	return false
}

// SignalInstall interposes on both installation APIs. The trampoline
// hands over a pointer to the slot holding the application's handler
// (the plain handler argument, or the structured descriptor's action
// field); when the target is trackable the slot is rewritten to the
// interposing handler before the real call proceeds.
func (s *Set) SignalInstall(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.SignalArgs)
	if !ok || args.Handler == nil {
		return false
	}

	if s.deps.Signals.Install(args.Sig, *args.Handler) {
		*args.Handler = s.deps.Interposer
	}
	return false
}
