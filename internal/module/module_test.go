package module

import (
	"os"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/fralau/protein"
	"github.com/fralau/protein/internal/frame"
)

func TestLoadIntoMergesEnvModule(t *testing.T) {
	os.Setenv("PROTEIN_TEST_VAR", "hi")
	defer os.Unsetenv("PROTEIN_TEST_VAR")

	l := NewLoader()
	f := frame.New()
	assert.NoError(t, l.LoadInto(f, nil, "env"))

	v, ok := f.Get("get_env")
	assert.True(t, ok)
	assert.Equal(t, protein.ValueHostCallable, v.Kind)

	out, err := v.HostCallable([]protein.Node{protein.String("PROTEIN_TEST_VAR")})
	assert.NoError(t, err)
	assert.Equal(t, "hi", out.String)
}

func TestGetEnvDefault(t *testing.T) {
	l := NewLoader()
	f := frame.New()
	assert.NoError(t, l.LoadInto(f, nil, "env"))

	v, _ := f.Get("get_env")
	out, err := v.HostCallable([]protein.Node{protein.String("PROTEIN_NO_SUCH_VAR"), protein.String("fallback")})
	assert.NoError(t, err)
	assert.Equal(t, "fallback", out.String)
}

func TestLoadUnknownModuleFails(t *testing.T) {
	l := NewLoader()
	f := frame.New()
	assert.Error(t, l.LoadInto(f, nil, "nope"))
}

func TestModuleNameStripsDirAndExt(t *testing.T) {
	assert.Equal(t, "env", moduleName("./lib/env.py"))
	assert.Equal(t, "env", moduleName("env.go"))
	assert.Equal(t, "env", moduleName("env"))
}

func TestStringsModuleFiltersAndExports(t *testing.T) {
	l := NewLoader()
	f := frame.New()
	assert.NoError(t, l.LoadInto(f, nil, "strings"))

	upper, ok := f.Get("upper")
	assert.True(t, ok)
	assert.Equal(t, protein.ValueHostFilter, upper.Kind)
	out, err := upper.HostFilter([]protein.Node{protein.String("abc")})
	assert.NoError(t, err)
	assert.Equal(t, "ABC", out.String)

	split, ok := f.Get("split")
	assert.True(t, ok)
	out, err = split.HostCallable([]protein.Node{protein.String("a,b,c"), protein.String(",")})
	assert.NoError(t, err)
	assert.Equal(t, 3, out.Len())
}

func TestCollectionsSortGroupUnique(t *testing.T) {
	l := NewLoader()
	f := frame.New()
	assert.NoError(t, l.LoadInto(f, nil, "collections"))

	sortFnV, _ := f.Get("sort")
	out, err := sortFnV.HostCallable([]protein.Node{protein.Seq(protein.Int(3), protein.Int(1), protein.Int(2))})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), out.Sequence[0].Int)
	assert.Equal(t, int64(2), out.Sequence[1].Int)
	assert.Equal(t, int64(3), out.Sequence[2].Int)

	uniqueFnV, _ := f.Get("unique")
	out, err = uniqueFnV.HostCallable([]protein.Node{protein.Seq(protein.Int(1), protein.Int(1), protein.Int(2))})
	assert.NoError(t, err)
	assert.Equal(t, 2, out.Len())

	groupByV, _ := f.Get("group_by")
	items := protein.Seq(
		protein.Map(protein.Entry{Key: "team", Value: protein.String("a")}),
		protein.Map(protein.Entry{Key: "team", Value: protein.String("b")}),
		protein.Map(protein.Entry{Key: "team", Value: protein.String("a")}),
	)
	out, err = groupByV.HostCallable([]protein.Node{items, protein.String("team")})
	assert.NoError(t, err)
	assert.Equal(t, 2, out.Len())

	a, ok := out.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, a.Len())
}
