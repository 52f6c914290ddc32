// Package preload rewrites a child process's environment so descendants
// keep loading the interception shim.
package preload

import "strings"

// Var is the loader environment variable carrying the colon-separated
// preload path list.
const Var = "LD_PRELOAD"

// Config names the shim objects to re-inject into descendants, in load
// order.
type Config struct {
	Paths []string
}

// Value returns the preload list naming only the shim paths.
func (c Config) Value() string {
	return strings.Join(c.Paths, ":")
}

// Propagate returns the preload value for a child process: the shim
// paths alone when no prior value existed, otherwise the prior value
// with the shim paths appended.
func (c Config) Propagate(old string) string {
	if old == "" {
		return c.Value()
	}
	return old + ":" + c.Value()
}

// PropagateEnviron ensures env carries a preload entry naming the shim.
// An existing entry is rewritten in place; otherwise a new slice one
// slot larger is returned with the preload entry first and every
// original entry preserved in order.
func (c Config) PropagateEnviron(env []string) []string {
	prefix := Var + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + c.Propagate(kv[len(prefix):])
			return env
		}
	}
	out := make([]string, 0, len(env)+1)
	out = append(out, prefix+c.Value())
	out = append(out, env...)
	return out
}
