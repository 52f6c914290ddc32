//go:build linux

package realsym

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"unsafe"
)

const (
	rtldNow   = 2
	rtldLocal = 0
)

// systemDl drives the loader through raw function pointers located
// without dlsym: the libc mapping comes from /proc/self/maps and the
// loader entry offsets from the ELF symbol tables. This keeps the
// bootstrap path clear of the very symbols the shim intercepts.
type systemDl struct {
	dlopen  uintptr
	dlsym   uintptr
	dlerror uintptr
}

var (
	systemOnce sync.Once
	systemAPI  systemDl
	systemErr  error
)

// SystemDl returns the process-wide loader bridge.
func SystemDl() (Dl, error) {
	systemOnce.Do(func() {
		systemErr = initSystemDl()
	})
	if systemErr != nil {
		return nil, systemErr
	}
	return &systemAPI, nil
}

func initSystemDl() error {
	libcPath, base, err := locateRuntimeLibc()
	if err != nil {
		return err
	}
	for _, entry := range []struct {
		name string
		dst  *uintptr
	}{
		{"dlopen", &systemAPI.dlopen},
		{"dlsym", &systemAPI.dlsym},
		{"dlerror", &systemAPI.dlerror},
	} {
		off, err := ELFSymbolOffset(libcPath, entry.name)
		if err != nil {
			return fmt.Errorf("resolve loader symbol %s: %w", entry.name, err)
		}
		*entry.dst = base + off
	}
	return nil
}

func (d *systemDl) Open(path string) (uintptr, error) {
	cPath, err := cString(path)
	if err != nil {
		return 0, err
	}
	_ = Call0(d.dlerror) // clear stale state
	handle := Call2(d.dlopen, cStringPtr(cPath), uintptr(rtldNow|rtldLocal))
	runtime.KeepAlive(cPath)
	if handle == 0 {
		return 0, fmt.Errorf("dlopen(%s): %w", path, d.lastError("unknown dlopen error"))
	}
	return handle, nil
}

func (d *systemDl) Sym(handle uintptr, name string) (uintptr, error) {
	cName, err := cString(name)
	if err != nil {
		return 0, err
	}
	_ = Call0(d.dlerror)
	sym := Call2(d.dlsym, handle, cStringPtr(cName))
	runtime.KeepAlive(cName)
	if msg := goString(Call0(d.dlerror)); msg != "" {
		return 0, fmt.Errorf("dlsym(%s): %s", name, msg)
	}
	if sym == 0 {
		return 0, fmt.Errorf("dlsym(%s): symbol address is nil", name)
	}
	return sym, nil
}

func (d *systemDl) lastError(fallback string) error {
	if msg := goString(Call0(d.dlerror)); msg != "" {
		return errors.New(msg)
	}
	return errors.New(fallback)
}

func cString(s string) ([]byte, error) {
	if strings.ContainsRune(s, '\x00') {
		return nil, errors.New("string contains NUL")
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b, nil
}

func cStringPtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	const maxLen = 1 << 20
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		ch := *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
		if ch == 0 {
			break
		}
		buf = append(buf, ch)
	}
	return string(buf)
}

func locateRuntimeLibc() (string, uintptr, error) {
	raw, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return "", 0, fmt.Errorf("read /proc/self/maps: %w", err)
	}

	bestScore := -1
	var bestPath string
	var bestBase uintptr
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 6 || !strings.Contains(fields[1], "x") {
			continue
		}
		path := strings.TrimSuffix(strings.Join(fields[5:], " "), " (deleted)")
		if !strings.HasPrefix(path, "/") {
			continue
		}
		score := libcPathScore(path)
		if score <= bestScore {
			continue
		}
		rangeParts := strings.SplitN(fields[0], "-", 2)
		if len(rangeParts) != 2 {
			continue
		}
		start, startErr := strconv.ParseUint(rangeParts[0], 16, 64)
		offset, offsetErr := strconv.ParseUint(fields[2], 16, 64)
		if startErr != nil || offsetErr != nil || start < offset {
			continue
		}
		bestScore = score
		bestPath = path
		bestBase = uintptr(start - offset)
	}
	if bestScore < 0 {
		return "", 0, errors.New("failed to locate runtime libc mapping")
	}
	return bestPath, bestBase, nil
}

func libcPathScore(path string) int {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "libc.so"):
		return 100
	case strings.Contains(p, "libc-"):
		return 95
	case strings.Contains(p, "ld-musl"):
		return 90
	case strings.Contains(p, "musl"):
		return 85
	case strings.Contains(p, "ld-linux"):
		return 80
	default:
		return -1
	}
}
