//go:build !cgo || !linux || !(386 || amd64 || arm64)

package realsym

// Without cgo there is no way to enter a foreign calling convention, so
// builds in that configuration cannot invoke real entry points. Tests
// inject fake Dl implementations and never reach these.

func unavailable() uintptr {
	panic("realsym: raw calls require a linux cgo build")
}

func Call0(fn uintptr) uintptr                 { return unavailable() }
func Call1(fn, a0 uintptr) uintptr             { return unavailable() }
func Call2(fn, a0, a1 uintptr) uintptr         { return unavailable() }
func Call3(fn, a0, a1, a2 uintptr) uintptr     { return unavailable() }
func Call4(fn, a0, a1, a2, a3 uintptr) uintptr { return unavailable() }
