package preload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var shim = Config{Paths: []string{"/system/lib/libwrap_ib.so", "/system/lib/libwrap.so"}}

func TestPropagateFresh(t *testing.T) {
	got := shim.Propagate("")
	assert.Equal(t, "/system/lib/libwrap_ib.so:/system/lib/libwrap.so", got)
}

func TestPropagateAppends(t *testing.T) {
	got := shim.Propagate("/a/b")
	assert.Equal(t, "/a/b:/system/lib/libwrap_ib.so:/system/lib/libwrap.so", got)
}

func TestPropagateEnvironRewritesInPlace(t *testing.T) {
	env := []string{"HOME=/root", "LD_PRELOAD=/a/b", "PATH=/bin"}
	got := shim.PropagateEnviron(env)

	assert.Equal(t, []string{
		"HOME=/root",
		"LD_PRELOAD=/a/b:" + shim.Value(),
		"PATH=/bin",
	}, got)
	// in place: same backing array
	assert.Equal(t, got[1], env[1])
}

func TestPropagateEnvironSynthesizesEntry(t *testing.T) {
	env := []string{"HOME=/root", "PATH=/bin"}
	got := shim.PropagateEnviron(env)

	assert.Len(t, got, 3)
	assert.Equal(t, "LD_PRELOAD="+shim.Value(), got[0])
	assert.Equal(t, []string{"HOME=/root", "PATH=/bin"}, got[1:])
}

func TestPropagateEnvironNil(t *testing.T) {
	got := shim.PropagateEnviron(nil)
	assert.Equal(t, []string{"LD_PRELOAD=" + shim.Value()}, got)
}

func TestSingleShimNoSeparatorArtifacts(t *testing.T) {
	one := Config{Paths: []string{"/lib/shim.so"}}
	assert.Equal(t, "/lib/shim.so", one.Propagate(""))
	assert.Equal(t, "/a/b:/lib/shim.so", one.Propagate("/a/b"))
}
