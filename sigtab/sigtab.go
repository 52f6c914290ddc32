// Package sigtab interposes on application-installed signal handlers so
// the tracer can flush its state before the application's handler runs.
package sigtab

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// MaxSignals bounds the supported signal range. Installation above the
// range fails; delivery above it is silently dropped.
const MaxSignals = 32

// Sentinel handler values that pass through uninterposed and untracked.
const (
	HandlerDefault uintptr = 0           // SIG_DFL
	HandlerIgnore  uintptr = 1           // SIG_IGN
	HandlerError   uintptr = ^uintptr(0) // SIG_ERR
)

// Forwarder invokes a recorded application handler with the original
// signal parameters.
type Forwarder func(handler uintptr, sig int, info, sigctx uintptr)

// Table records the application's originally installed handlers and
// substitutes interposing delivery. Slots mutate only when the
// application installs a handler; delivery reads them atomically and
// performs no allocation or formatting, keeping the signal path inside
// async-signal-safe territory.
type Table struct {
	orig    [MaxSignals]atomic.Uintptr
	special atomic.Int32 // flush-only signal number, -1 when unset

	flush   func() // flushes and closes the calling thread's trace state
	forward Forwarder
	log     zerolog.Logger
}

func New(flush func(), forward Forwarder, log zerolog.Logger) *Table {
	t := &Table{flush: flush, forward: forward, log: log}
	t.special.Store(-1)
	return t
}

// Install records the application's handler for sig and reports whether
// the caller should substitute the interposing handler in its place.
// Sentinel handler values and out-of-range signals pass through
// untouched and untracked.
func (t *Table) Install(sig int, handler uintptr) bool {
	if sig < 0 || sig >= MaxSignals {
		return false
	}
	switch handler {
	case HandlerDefault, HandlerIgnore, HandlerError:
		return false
	}
	t.orig[sig].Store(handler)
	t.log.Debug().Int("signal", sig).Uint64("handler", uint64(handler)).
		Msg("interposed application signal handler")
	return true
}

// SetSpecial designates the signal that triggers a trace flush without
// being forwarded anywhere.
func (t *Table) SetSpecial(sig int) {
	if sig < 0 || sig >= MaxSignals {
		return
	}
	t.special.Store(int32(sig))
}

// Original returns the recorded application handler for sig, zero when
// none is tracked.
func (t *Table) Original(sig int) uintptr {
	if sig < 0 || sig >= MaxSignals {
		return 0
	}
	return t.orig[sig].Load()
}

// Deliver runs on signal arrival. The special flush signal flushes and
// closes per-thread trace state and returns without forwarding; any
// other tracked signal flushes first and then forwards to the original
// handler with the original parameters. Untracked and out-of-range
// signals are dropped.
func (t *Table) Deliver(sig int, info, sigctx uintptr) {
	if sig < 0 || sig >= MaxSignals {
		return
	}
	if int32(sig) == t.special.Load() {
		t.flush()
		return
	}
	if handler := t.orig[sig].Load(); handler != 0 {
		t.flush()
		t.forward(handler, sig, info, sigctx)
	}
}

// Reinit clears recorded handlers, for a freshly forked child whose
// signal dispositions are reset by a following exec.
func (t *Table) Reinit() {
	for i := range t.orig {
		t.orig[i].Store(0)
	}
}
