package handlers

import (
	"github.com/wraptrace/wraptrace/call"
	"github.com/wraptrace/wraptrace/fdtable"
)

// Open substitutes open and __open: run the real call through the
// safe-call protocol, categorize the new descriptor by path, publish
// the result.
func (s *Set) Open(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.OpenArgs)
	if !ok {
		return false
	}

	rv, errno := s.deps.Guard.SafeCall(ctx.Real)
	if fd := int(rv); fd >= 0 {
		s.trackPath(ctx, fd, args.Path)
	}
	s.publish(ctx, call.KindInt, rv, errno)
	return true
}

// OpenAt substitutes openat and __openat.
func (s *Set) OpenAt(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.OpenAtArgs)
	if !ok {
		return false
	}

	rv, errno := s.deps.Guard.SafeCall(ctx.Real)
	if fd := int(rv); fd >= 0 {
		s.trackPath(ctx, fd, args.Path)
	}
	s.publish(ctx, call.KindInt, rv, errno)
	return true
}

// StreamOpen substitutes fopen and freopen; the returned stream's
// descriptor gets the path-derived category.
func (s *Set) StreamOpen(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.StreamOpenArgs)
	if !ok {
		return false
	}

	rv, errno := s.deps.Guard.SafeCall(ctx.Real)
	if rv != 0 {
		s.trackPath(ctx, s.deps.Fileno(rv), args.Path)
	}
	s.publish(ctx, call.KindPtr, rv, errno)
	return true
}

// Dup substitutes dup and dup2: the duplicate inherits the old
// descriptor's category.
func (s *Set) Dup(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.DupArgs)
	if !ok {
		return false
	}
	if args.OldFD < 0 {
		// don't mess around with invalid input
		return false
	}

	category := s.deps.FDs.Get(args.OldFD)
	rv, errno := s.deps.Guard.SafeCall(ctx.Real)
	if fd := int(rv); fd >= 0 {
		s.track(ctx, fd, "", category)
	}
	s.publish(ctx, call.KindInt, rv, errno)
	return true
}

// Socket substitutes socket and socketpair: sockets are always socket
// category, both ends for socketpair.
func (s *Set) Socket(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.SocketArgs)
	if !ok {
		return false
	}

	rv, errno := s.deps.Guard.SafeCall(ctx.Real)
	if args.Pair != nil {
		if int(rv) == 0 {
			s.track(ctx, args.Pair[0], "", fdtable.Socket)
			s.track(ctx, args.Pair[1], "", fdtable.Socket)
		}
	} else if fd := int(rv); fd >= 0 {
		s.track(ctx, fd, "", fdtable.Socket)
	}
	s.publish(ctx, call.KindInt, rv, errno)
	return true
}

// Accept substitutes accept; the connection descriptor is a socket.
func (s *Set) Accept(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	if _, ok := ctx.Args.(call.AcceptArgs); !ok {
		return false
	}

	rv, errno := s.deps.Guard.SafeCall(ctx.Real)
	if fd := int(rv); fd >= 0 {
		s.track(ctx, fd, "", fdtable.Socket)
	}
	s.publish(ctx, call.KindInt, rv, errno)
	return true
}

// Pipe substitutes pipe and pipe2; both ends are pipe category.
func (s *Set) Pipe(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.PipeArgs)
	if !ok {
		return false
	}

	rv, errno := s.deps.Guard.SafeCall(ctx.Real)
	if int(rv) == 0 && args.FDs != nil {
		s.track(ctx, args.FDs[0], "", fdtable.Pipe)
		s.track(ctx, args.FDs[1], "", fdtable.Pipe)
	}
	s.publish(ctx, call.KindInt, rv, errno)
	return true
}

// ShellOpen substitutes popen. popen forks, so trace state is flushed
// and the pre-fork pid recorded before the real call; the resulting
// stream's descriptor is a shell pipe.
func (s *Set) ShellOpen(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.ShellOpenArgs)
	if !ok {
		return false
	}

	s.flushClose(ctx)
	s.deps.OnFork(s.deps.Getpid())

	rv, errno := s.deps.Guard.SafeCall(ctx.Real)
	if rv != 0 {
		s.track(ctx, s.deps.Fileno(rv), args.Command, fdtable.ShellPipe)
	}
	s.publish(ctx, call.KindPtr, rv, errno)
	return true
}

// CloseFD clears the closed descriptor's category; the real close
// proceeds normally.
func (s *Set) CloseFD(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.CloseArgs)
	if !ok {
		return false
	}
	s.deps.FDs.Clear(args.FD)
	return false
}

// CloseStream clears the category of the descriptor behind a stream
// being closed (fclose, pclose, __sclose); the real call proceeds.
func (s *Set) CloseStream(ctx *call.Context) bool {
	if !ctx.ShouldHandle {
		return false
	}
	args, ok := ctx.Args.(call.StreamCloseArgs)
	if !ok {
		return false
	}
	s.deps.FDs.Clear(s.deps.Fileno(args.Stream))
	return false
}

// RenameFD relabels a generic descriptor call (read, write, ioctl,
// fcntl families) by appending the descriptor's category to the symbol,
// so downstream consumers can tell a socket read from a file read. The
// real call proceeds unmodified.
func (s *Set) RenameFD(ctx *call.Context) bool {
	if !ctx.ShouldModSym {
		return false
	}
	args, ok := ctx.Args.(call.FDArgs)
	if !ok {
		return false
	}

	category := s.deps.FDs.Get(args.FD)
	if category == fdtable.Untracked {
		category = fdtable.Unknown
	}
	ctx.Symbol = ctx.Symbol + "_" + string(category)
	return false
}

func (s *Set) trackPath(ctx *call.Context, fd int, path string) {
	s.track(ctx, fd, path, pathCategory(path))
}

func (s *Set) track(ctx *call.Context, fd int, path string, category byte) {
	s.deps.FDs.Set(fd, category)
	if ctx.ShouldLog && s.deps.Sink.Enabled() {
		if category == fdtable.Untracked {
			category = fdtable.Unknown
		}
		s.deps.Sink.FD(ctx.Symbol, fd, path, category)
	}
}
