// Package handlers implements the per-symbol-family call handlers: the
// code that runs when the dispatch cache decides a call is intercepted.
package handlers

import (
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/wraptrace/wraptrace/call"
	"github.com/wraptrace/wraptrace/dispatch"
	"github.com/wraptrace/wraptrace/fdtable"
	"github.com/wraptrace/wraptrace/perthread"
	"github.com/wraptrace/wraptrace/preload"
	"github.com/wraptrace/wraptrace/sigtab"
)

// Deps carries the collaborators the handler set works against.
type Deps struct {
	FDs     *fdtable.Table
	Signals *sigtab.Table
	Preload preload.Config
	Sink    call.Sink
	Guard   *perthread.Guard
	Results *perthread.Channel

	// Fileno maps a stream handle to its descriptor, through the real
	// library.
	Fileno func(stream uintptr) int
	// Setenv writes an environment variable in the current process,
	// for the exec forms that inherit the environment.
	Setenv func(key, value string)
	Getpid func() int

	// Interposer is the address of the interposing signal handler the
	// installation handlers substitute for application handlers.
	Interposer uintptr

	// OnFork records the pre-fork pid so trace writers can detect the
	// process identity change.
	OnFork func(pid int)
	// OnThreadExit releases the calling thread's core state.
	OnThreadExit func()

	Log zerolog.Logger
}

// Set is the complete handler collection for the wrapped symbol set.
type Set struct {
	deps Deps
}

func New(deps Deps) *Set {
	return &Set{deps: deps}
}

// Register installs every handled symbol into the dispatch table,
// mirroring the wrapped-symbol inventory of the shim.
func (s *Set) Register(t *dispatch.Table) {
	full := func(names []string, h dispatch.Handler) {
		for _, n := range names {
			t.Register(n, h, true, false)
		}
	}

	full([]string{"fork", "__fork", "vfork", "clone", "__sys_clone",
		"__bionic_clone", "daemon", "system"}, s.Fork)
	full([]string{"exit", "_exit"}, s.Exit)
	full([]string{"pthread_exit", "_exit_thread",
		"_exit_with_stack_teardown"}, s.ThreadExit)
	full([]string{"pthread_create", "__pthread_clone"}, s.ThreadCreate)
	full([]string{"exec", "execl", "execle", "execlp", "execve",
		"execvp"}, s.Exec)
	full([]string{"signal", "bsd_signal", "sysv_signal", "sigaction",
		"sig_action"}, s.SignalInstall)

	full([]string{"open", "__open"}, s.Open)
	full([]string{"openat", "__openat"}, s.OpenAt)
	full([]string{"fopen", "freopen"}, s.StreamOpen)
	full([]string{"dup", "dup2"}, s.Dup)
	full([]string{"socket", "socketpair"}, s.Socket)
	full([]string{"accept"}, s.Accept)
	full([]string{"pipe", "pipe2"}, s.Pipe)
	full([]string{"popen"}, s.ShellOpen)
	full([]string{"close"}, s.CloseFD)
	full([]string{"fclose", "pclose", "__sclose"}, s.CloseStream)

	for _, n := range []string{
		"read", "readv", "pread", "pread64",
		"write", "writev", "pwrite", "pwrite64",
		"ioctl", "__ioctl",
		"fcntl", "__fcntl", "__fcntl64",
	} {
		t.Register(n, s.RenameFD, false, true)
	}
}

// pathCategory derives a descriptor category from the path being
// opened: device and kernel pseudo-filesystem prefixes get their own
// categories, everything else is a regular file.
func pathCategory(path string) byte {
	switch {
	case path == "":
		return fdtable.Untracked
	case strings.HasPrefix(path, "/dev/"):
		return fdtable.Device
	case strings.HasPrefix(path, "/proc/"):
		return fdtable.ProcFS
	case strings.HasPrefix(path, "/sys/"):
		return fdtable.SysFS
	default:
		return fdtable.RegularFile
	}
}

// flushClose flushes and closes the calling thread's trace state,
// logging a closing record first when the call is being traced.
func (s *Set) flushClose(ctx *call.Context) {
	if ctx.ShouldLog && s.deps.Sink.Enabled() {
		s.deps.Sink.Event(ctx.Symbol, "closing trace state")
		s.deps.Sink.Flush()
	}
	s.deps.Sink.Close()
}

func (s *Set) publish(ctx *call.Context, kind call.Kind, value uintptr, errno unix.Errno) {
	s.deps.Results.Publish(call.Result{
		Symbol: ctx.Symbol,
		Kind:   kind,
		Value:  value,
		Errno:  errno,
	})
}
