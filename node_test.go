package protein

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestAppendUniqueDetectsDuplicate(t *testing.T) {
	entries, err := AppendUnique(nil, "a", Int(1))
	assert.NoError(t, err)

	_, err = AppendUnique(entries, "a", Int(2))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrDupKey))
}

func TestMergeMappingsPreservesOrder(t *testing.T) {
	dst := []Entry{{Key: "a", Value: Int(1)}}
	src := []Entry{{Key: "b", Value: Int(2)}, {Key: "c", Value: Int(3)}}

	merged, err := MergeMappings(dst, src)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keysOf(merged))
}

func TestMergeMappingsDuplicateKey(t *testing.T) {
	dst := []Entry{{Key: "a", Value: Int(1)}}
	src := []Entry{{Key: "a", Value: Int(2)}}

	_, err := MergeMappings(dst, src)
	assert.Error(t, err)
}

func TestNormalizeStripsLiteralRecursively(t *testing.T) {
	tree := Map(
		Entry{Key: "top", Value: LiteralString("raw")},
		Entry{Key: "nested", Value: Seq(LiteralString("x"), String("y"))},
	)

	out := Normalize(tree)

	top, _ := out.Get("top")
	assert.False(t, top.Literal)
	assert.Equal(t, "raw", top.String)

	nested, _ := out.Get("nested")
	assert.False(t, nested.Sequence[0].Literal)
	assert.Equal(t, "x", nested.Sequence[0].String)
}

func TestGetOnNonMappingReturnsNull(t *testing.T) {
	v, ok := Int(3).Get("anything")
	assert.False(t, ok)
	assert.Equal(t, Null, v)
}

func keysOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}

	return out
}
