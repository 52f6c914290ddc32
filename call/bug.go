package call

import "fmt"

// BugError reports a shim-internal contract violation: misconfiguration
// or misuse of the core, never a condition the traced application caused.
// The hex code identifies the failing contract in diagnostics.
type BugError struct {
	Code uint32
	Msg  string
}

func (e *BugError) Error() string {
	return fmt.Sprintf("wraptrace: BUG(0x%x): %s", e.Code, e.Msg)
}

// Bug aborts the current call path with a contract-violation diagnostic.
func Bug(code uint32, msg string) {
	panic(&BugError{Code: code, Msg: msg})
}
