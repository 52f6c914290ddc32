package handlers

import (
	"io"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/wraptrace/wraptrace/call"
	"github.com/wraptrace/wraptrace/dispatch"
	"github.com/wraptrace/wraptrace/fdtable"
	"github.com/wraptrace/wraptrace/perthread"
	"github.com/wraptrace/wraptrace/preload"
	"github.com/wraptrace/wraptrace/sigtab"
)

type recordingSink struct {
	enabled bool
	fds     []fdRecord
	events  []eventRecord
	flushes int
	closes  int
}

type fdRecord struct {
	symbol   string
	fd       int
	path     string
	category byte
}

type eventRecord struct {
	symbol string
	detail string
}

func (s *recordingSink) Enabled() bool { return s.enabled }
func (s *recordingSink) FD(symbol string, fd int, path string, category byte) {
	s.fds = append(s.fds, fdRecord{symbol, fd, path, category})
}
func (s *recordingSink) Event(symbol, detail string) {
	s.events = append(s.events, eventRecord{symbol, detail})
}
func (s *recordingSink) Flush() { s.flushes++ }
func (s *recordingSink) Close() { s.closes++ }

type fixture struct {
	set     *Set
	fds     *fdtable.Table
	sigs    *sigtab.Table
	results *perthread.Channel
	sink    *recordingSink

	setenvs map[string]string
	forks   []int
	streams map[uintptr]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)

	f := &fixture{
		fds:     fdtable.New(),
		results: perthread.NewChannel(),
		sink:    &recordingSink{enabled: true},
		setenvs: make(map[string]string),
		streams: make(map[uintptr]int),
	}
	f.sigs = sigtab.New(func() {}, func(uintptr, int, uintptr, uintptr) {}, zerolog.New(io.Discard))
	f.set = New(Deps{
		FDs:          f.fds,
		Signals:      f.sigs,
		Preload:      preload.Config{Paths: []string{"/lib/shim.so"}},
		Sink:         f.sink,
		Guard:        perthread.NewGuard(),
		Results:      f.results,
		Fileno:       func(stream uintptr) int { return f.streams[stream] },
		Setenv:       func(k, v string) { f.setenvs[k] = v },
		Getpid:       func() int { return 1234 },
		Interposer:   0xcafe,
		OnFork:       func(pid int) { f.forks = append(f.forks, pid) },
		OnThreadExit: func() {},
		Log:          zerolog.New(io.Discard),
	})
	return f
}

func returning(rv uintptr, errno unix.Errno) call.RealFunc {
	return func() (uintptr, unix.Errno) { return rv, errno }
}

func handleCtx(symbol string, args call.ArgSet, real call.RealFunc) *call.Context {
	return &call.Context{
		Symbol:       symbol,
		Args:         args,
		Real:         real,
		ShouldHandle: true,
		ShouldLog:    true,
	}
}

func TestOpenCategorizesByPathPrefix(t *testing.T) {
	cases := []struct {
		path string
		want byte
	}{
		{"/dev/binder", fdtable.Device},
		{"/proc/self/maps", fdtable.ProcFS},
		{"/sys/class/net", fdtable.SysFS},
		{"/data/local/tmp/x", fdtable.RegularFile},
	}
	for _, tc := range cases {
		f := newFixture(t)
		ctx := handleCtx("open", call.OpenArgs{Path: tc.path, Flags: 0}, returning(5, 0))

		require.True(t, f.set.Open(ctx))
		assert.Equal(t, tc.want, f.fds.Get(5), "path %s", tc.path)

		res := f.results.Take()
		assert.Equal(t, call.Result{Symbol: "open", Kind: call.KindInt, Value: 5}, res)
	}
}

func TestOpenFailurePreservesErrno(t *testing.T) {
	f := newFixture(t)
	ctx := handleCtx("open", call.OpenArgs{Path: "/etc/shadow"}, returning(^uintptr(0), unix.EACCES))

	require.True(t, f.set.Open(ctx))
	assert.Equal(t, fdtable.Untracked, f.fds.Get(3))

	res := f.results.Take()
	assert.Equal(t, unix.EACCES, res.Errno)
	assert.Equal(t, -1, int(res.Value))
}

func TestOpenSkipsWhenNotHandling(t *testing.T) {
	f := newFixture(t)
	ctx := handleCtx("open", call.OpenArgs{Path: "/dev/null"}, returning(5, 0))
	ctx.ShouldHandle = false
	assert.False(t, f.set.Open(ctx))
}

func TestOpenAt(t *testing.T) {
	f := newFixture(t)
	ctx := handleCtx("openat", call.OpenAtArgs{DirFD: -100, Path: "/proc/stat"}, returning(7, 0))
	require.True(t, f.set.OpenAt(ctx))
	assert.Equal(t, fdtable.ProcFS, f.fds.Get(7))
	_ = f.results.Take()
}

func TestStreamOpenTracksUnderlyingFD(t *testing.T) {
	f := newFixture(t)
	f.streams[0xf11e] = 9
	ctx := handleCtx("fopen", call.StreamOpenArgs{Path: "/dev/urandom", Mode: "r"}, returning(0xf11e, 0))

	require.True(t, f.set.StreamOpen(ctx))
	assert.Equal(t, fdtable.Device, f.fds.Get(9))

	res := f.results.Take()
	assert.Equal(t, call.KindPtr, res.Kind)
	assert.Equal(t, uintptr(0xf11e), res.Value)
}

func TestDupInheritsCategory(t *testing.T) {
	f := newFixture(t)
	f.fds.Set(4, fdtable.Socket)
	ctx := handleCtx("dup", call.DupArgs{OldFD: 4}, returning(8, 0))

	require.True(t, f.set.Dup(ctx))
	assert.Equal(t, fdtable.Socket, f.fds.Get(8))
	_ = f.results.Take()
}

func TestDupInvalidOldFDNotHandled(t *testing.T) {
	f := newFixture(t)
	ctx := handleCtx("dup", call.DupArgs{OldFD: -1}, returning(0, 0))
	assert.False(t, f.set.Dup(ctx))
}

func TestSocketAlwaysSocketCategory(t *testing.T) {
	f := newFixture(t)
	ctx := handleCtx("socket", call.SocketArgs{Domain: 2, Type: 1}, returning(6, 0))
	require.True(t, f.set.Socket(ctx))
	assert.Equal(t, fdtable.Socket, f.fds.Get(6))
	_ = f.results.Take()
}

func TestSocketpairMarksBothEnds(t *testing.T) {
	f := newFixture(t)
	pair := [2]int{10, 11}
	ctx := handleCtx("socketpair", call.SocketArgs{Pair: &pair}, returning(0, 0))

	require.True(t, f.set.Socket(ctx))
	assert.Equal(t, fdtable.Socket, f.fds.Get(10))
	assert.Equal(t, fdtable.Socket, f.fds.Get(11))
	_ = f.results.Take()
}

func TestAccept(t *testing.T) {
	f := newFixture(t)
	ctx := handleCtx("accept", call.AcceptArgs{FD: 6}, returning(12, 0))
	require.True(t, f.set.Accept(ctx))
	assert.Equal(t, fdtable.Socket, f.fds.Get(12))
	_ = f.results.Take()
}

func TestPipeMarksBothEnds(t *testing.T) {
	f := newFixture(t)
	fds := [2]int{13, 14}
	ctx := handleCtx("pipe", call.PipeArgs{FDs: &fds}, returning(0, 0))

	require.True(t, f.set.Pipe(ctx))
	assert.Equal(t, fdtable.Pipe, f.fds.Get(13))
	assert.Equal(t, fdtable.Pipe, f.fds.Get(14))
	_ = f.results.Take()
}

func TestShellOpenFlushesAndMarksFork(t *testing.T) {
	f := newFixture(t)
	f.streams[0xabcd] = 15

	var closesBeforeCall int
	ctx := handleCtx("popen", call.ShellOpenArgs{Command: "ls", Mode: "r"},
		func() (uintptr, unix.Errno) {
			closesBeforeCall = f.sink.closes
			return 0xabcd, 0
		})

	require.True(t, f.set.ShellOpen(ctx))
	assert.Equal(t, 1, closesBeforeCall, "trace state must close before the real popen")
	assert.Equal(t, []int{1234}, f.forks)
	assert.Equal(t, fdtable.ShellPipe, f.fds.Get(15))

	res := f.results.Take()
	assert.Equal(t, call.KindPtr, res.Kind)
}

func TestCloseClearsCategory(t *testing.T) {
	f := newFixture(t)
	f.fds.Set(5, fdtable.Socket)

	ctx := handleCtx("close", call.CloseArgs{FD: 5}, nil)
	assert.False(t, f.set.CloseFD(ctx), "real close must still proceed")
	assert.Equal(t, fdtable.Untracked, f.fds.Get(5))
}

func TestCloseStreamClearsCategory(t *testing.T) {
	f := newFixture(t)
	f.streams[0xf00d] = 16
	f.fds.Set(16, fdtable.ShellPipe)

	ctx := handleCtx("pclose", call.StreamCloseArgs{Stream: 0xf00d}, nil)
	assert.False(t, f.set.CloseStream(ctx))
	assert.Equal(t, fdtable.Untracked, f.fds.Get(16))
}

func TestRenameFD(t *testing.T) {
	f := newFixture(t)
	f.fds.Set(6, fdtable.Socket)

	ctx := &call.Context{Symbol: "read", Args: call.FDArgs{FD: 6}, ShouldModSym: true}
	f.set.RenameFD(ctx)
	assert.Equal(t, "read_S", ctx.Symbol)

	ctx = &call.Context{Symbol: "read", Args: call.FDArgs{FD: 50}, ShouldModSym: true}
	f.set.RenameFD(ctx)
	assert.Equal(t, "read_?", ctx.Symbol)

	ctx = &call.Context{Symbol: "write", Args: call.FDArgs{FD: 6}}
	f.set.RenameFD(ctx)
	assert.Equal(t, "write", ctx.Symbol, "no rename without the mod flag")
}

func TestExecveRewritesEnvironmentInPlace(t *testing.T) {
	f := newFixture(t)
	env := []string{"HOME=/root", "LD_PRELOAD=/a/b"}
	ctx := handleCtx("execve", call.ExecArgs{Path: "/bin/true", Env: &env}, nil)

	assert.False(t, f.set.Exec(ctx))
	assert.Equal(t, "LD_PRELOAD=/a/b:/lib/shim.so", env[1])
	assert.Empty(t, f.setenvs)
	assert.Equal(t, 1, f.sink.closes)
}

func TestExecvpSetsPreloadVariable(t *testing.T) {
	f := newFixture(t)
	ctx := handleCtx("execvp", call.ExecArgs{Path: "/bin/true"}, nil)

	assert.False(t, f.set.Exec(ctx))
	assert.Equal(t, "/lib/shim.so", f.setenvs["LD_PRELOAD"])
}

func TestExecleIsDegradedButStillExports(t *testing.T) {
	f := newFixture(t)
	env := []string{"HOME=/root"}
	ctx := handleCtx("execle", call.ExecArgs{Path: "/bin/true", Env: &env}, nil)

	assert.False(t, f.set.Exec(ctx))
	assert.Equal(t, []string{"HOME=/root"}, env, "execle environment must not be rewritten")
	assert.Equal(t, "/lib/shim.so", f.setenvs["LD_PRELOAD"])
}

func TestForkFlushesAndRecordsPid(t *testing.T) {
	f := newFixture(t)
	ctx := handleCtx("fork", call.LifecycleArgs{}, nil)

	assert.False(t, f.set.Fork(ctx))
	assert.Equal(t, []int{1234}, f.forks)
	assert.Equal(t, 1, f.sink.closes)
}

func TestSignalInstallInterposes(t *testing.T) {
	f := newFixture(t)
	handler := uintptr(0xbeef)
	ctx := handleCtx("signal", call.SignalArgs{Sig: 11, Handler: &handler}, nil)

	assert.False(t, f.set.SignalInstall(ctx))
	assert.Equal(t, uintptr(0xcafe), handler, "slot must hold the interposer")
	assert.Equal(t, uintptr(0xbeef), f.sigs.Original(11))
}

func TestSignalInstallSentinelUntouched(t *testing.T) {
	f := newFixture(t)
	handler := sigtab.HandlerIgnore
	ctx := handleCtx("signal", call.SignalArgs{Sig: 11, Handler: &handler}, nil)

	assert.False(t, f.set.SignalInstall(ctx))
	assert.Equal(t, sigtab.HandlerIgnore, handler)
	assert.Zero(t, f.sigs.Original(11))
}

func TestRegisterPopulatesDispatch(t *testing.T) {
	f := newFixture(t)
	table := dispatch.New()
	f.set.Register(table)

	for _, sym := range []string{"open", "fork", "execve", "popen", "close", "signal"} {
		e := table.Find(sym)
		require.NotNil(t, e, "symbol %s", sym)
		assert.True(t, e.FullHandle, "symbol %s", sym)
		assert.False(t, e.RenameOnly, "symbol %s", sym)
	}
	for _, sym := range []string{"read", "pwrite64", "__fcntl64", "ioctl"} {
		e := table.Find(sym)
		require.NotNil(t, e, "symbol %s", sym)
		assert.False(t, e.FullHandle, "symbol %s", sym)
		assert.True(t, e.RenameOnly, "symbol %s", sym)
	}
}
