//go:build linux && cgo && (386 || amd64 || arm64)

package realsym

/*
#cgo LDFLAGS: -ldl
#include <stdint.h>

typedef uintptr_t (*wraptrace_fn0)(void);
typedef uintptr_t (*wraptrace_fn1)(uintptr_t);
typedef uintptr_t (*wraptrace_fn2)(uintptr_t, uintptr_t);
typedef uintptr_t (*wraptrace_fn3)(uintptr_t, uintptr_t, uintptr_t);
typedef uintptr_t (*wraptrace_fn4)(uintptr_t, uintptr_t, uintptr_t, uintptr_t);

static uintptr_t wraptrace_call0(uintptr_t fn) {
	return ((wraptrace_fn0)fn)();
}

static uintptr_t wraptrace_call1(uintptr_t fn, uintptr_t a0) {
	return ((wraptrace_fn1)fn)(a0);
}

static uintptr_t wraptrace_call2(uintptr_t fn, uintptr_t a0, uintptr_t a1) {
	return ((wraptrace_fn2)fn)(a0, a1);
}

static uintptr_t wraptrace_call3(uintptr_t fn, uintptr_t a0, uintptr_t a1, uintptr_t a2) {
	return ((wraptrace_fn3)fn)(a0, a1, a2);
}

static uintptr_t wraptrace_call4(uintptr_t fn, uintptr_t a0, uintptr_t a1, uintptr_t a2, uintptr_t a3) {
	return ((wraptrace_fn4)fn)(a0, a1, a2, a3);
}
*/
import "C"

// Call0 through Call4 invoke a resolved entry point with up to four
// register-width arguments, matching the widest wrapped libc families.

func Call0(fn uintptr) uintptr {
	return uintptr(C.wraptrace_call0(C.uintptr_t(fn)))
}

func Call1(fn, a0 uintptr) uintptr {
	return uintptr(C.wraptrace_call1(C.uintptr_t(fn), C.uintptr_t(a0)))
}

func Call2(fn, a0, a1 uintptr) uintptr {
	return uintptr(C.wraptrace_call2(C.uintptr_t(fn), C.uintptr_t(a0), C.uintptr_t(a1)))
}

func Call3(fn, a0, a1, a2 uintptr) uintptr {
	return uintptr(C.wraptrace_call3(C.uintptr_t(fn), C.uintptr_t(a0), C.uintptr_t(a1), C.uintptr_t(a2)))
}

func Call4(fn, a0, a1, a2, a3 uintptr) uintptr {
	return uintptr(C.wraptrace_call4(C.uintptr_t(fn), C.uintptr_t(a0), C.uintptr_t(a1), C.uintptr_t(a2), C.uintptr_t(a3)))
}
