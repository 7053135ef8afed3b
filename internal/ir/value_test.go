package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsSortedKeysRFC8785Order(t *testing.T) {
	f := Fields{
		"aa": Int(1),
		"A":  Int(2),
		"aA": Int(3),
		"a":  Int(4),
		"AA": Int(5),
		"Aa": Int(6),
	}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, f.SortedKeys())
}

func TestFieldsSortedKeysSupplementaryPlane(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before U+FF5E
	// in UTF-16 but after it in UTF-8.
	f := Fields{}
	f["～"] = Int(1)
	f["\U0001F600"] = Int(2)

	assert.Equal(t, []string{"\U0001F600", "～"}, f.SortedKeys())
}

func TestFromAnyConvertsDecodedValues(t *testing.T) {
	got, err := FromAny(map[string]any{
		"title":  "hello",
		"count":  3,
		"big":    int64(1 << 40),
		"whole":  float64(7),
		"ok":     true,
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"x": nil},
	})
	require.NoError(t, err)

	want := Fields{
		"title":  Str("hello"),
		"count":  Int(3),
		"big":    Int(1 << 40),
		"whole":  Int(7),
		"ok":     Bool(true),
		"tags":   List{Str("a"), Str("b")},
		"nested": Fields{"x": Null{}},
	}
	assert.Equal(t, want, got)
}

func TestFromAnyRejectsFractionalFloat(t *testing.T) {
	_, err := FromAny(map[string]any{"price": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "price"`)
	assert.Contains(t, err.Error(), "floats are not allowed")
}

func TestFromAnyTimeBecomesRFC3339String(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := FromAny(ts)
	require.NoError(t, err)
	assert.Equal(t, Str("2024-03-01T12:00:00Z"), got)
}

func TestParseFieldsRejectsFloats(t *testing.T) {
	_, err := ParseFields([]byte(`{"a":{"b":1.25}}`))
	require.Error(t, err)

	_, err = ParseFields([]byte(`{"a":1e3}`))
	require.Error(t, err)
}

func TestParseFieldsRejectsNonObject(t *testing.T) {
	_, err := ParseFields([]byte(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected object")
}

func TestToAnyInvertsFromAny(t *testing.T) {
	in := map[string]any{
		"s": "x",
		"n": int64(-4),
		"l": []any{true, nil},
		"o": map[string]any{"k": "v"},
	}
	f, err := FieldsFromMap(in)
	require.NoError(t, err)
	assert.Equal(t, in, f.ToMap())
}

func TestFieldsCloneIsDeep(t *testing.T) {
	orig := Fields{"l": List{Str("a")}, "o": Fields{"k": Int(1)}}
	c := orig.Clone()

	c["l"].(List)[0] = Str("changed")
	c["o"].(Fields)["k"] = Int(2)

	assert.Equal(t, Str("a"), orig["l"].(List)[0])
	assert.Equal(t, Int(1), orig["o"].(Fields)["k"])
}

func TestFieldsJSONIsCanonical(t *testing.T) {
	c := Content{Fields: Fields{"b": Int(1), "a": Str("x")}}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `{"fields":{"a":"x","b":1}}`, string(data))

	var back Content
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c.Fields, back.Fields)
}
