package perthread

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/wraptrace/wraptrace/call"
)

func TestSafeCallSuppressesWrapping(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	guard := NewGuard()
	assert.False(t, guard.Suppressed())

	var during bool
	rv, errno := guard.SafeCall(func() (uintptr, unix.Errno) {
		during = guard.Suppressed()
		return 42, unix.EACCES
	})

	assert.True(t, during, "wrapping must be suppressed inside the call")
	assert.False(t, guard.Suppressed(), "wrapping must be restored after")
	assert.Equal(t, uintptr(42), rv)
	assert.Equal(t, unix.EACCES, errno)
}

func TestSafeCallNests(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	guard := NewGuard()
	guard.SafeCall(func() (uintptr, unix.Errno) {
		guard.SafeCall(func() (uintptr, unix.Errno) {
			assert.True(t, guard.Suppressed())
			return 0, 0
		})
		assert.True(t, guard.Suppressed(), "outer suppression must survive the inner call")
		return 0, 0
	})
	assert.False(t, guard.Suppressed())
}

func TestChannelPublishTake(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ch := NewChannel()
	want := call.Result{Symbol: "open", Kind: call.KindInt, Value: 3, Errno: 0}
	ch.Publish(want)
	assert.Equal(t, want, ch.Take())
}

func TestChannelOverwrite(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ch := NewChannel()
	ch.Publish(call.Result{Symbol: "open", Value: 3})
	ch.Publish(call.Result{Symbol: "socket", Value: 4})
	assert.Equal(t, "socket", ch.Take().Symbol)
}

func TestTakeUnpublishedIsFatal(t *testing.T) {
	ch := NewChannel()
	defer func() {
		r := recover()
		require.NotNil(t, r)
		bug, ok := r.(*call.BugError)
		require.True(t, ok)
		assert.Equal(t, uint32(0x4311), bug.Code)
	}()
	ch.Take()
}

func TestTakeClearsSlot(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ch := NewChannel()
	ch.Publish(call.Result{Symbol: "open"})
	_ = ch.Take()

	defer func() { _ = recover() }()
	ch.Take()
	t.Fatalf("second take must be fatal")
}

func TestReinit(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	guard := NewGuard()
	ch := NewChannel()
	ch.Publish(call.Result{Symbol: "open"})

	guard.Reinit()
	ch.Reinit()

	assert.False(t, guard.Suppressed())
	defer func() { _ = recover() }()
	ch.Take()
	t.Fatalf("reinit must clear published slots")
}
