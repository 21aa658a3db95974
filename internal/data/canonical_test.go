package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_KeyOrder(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": "2", "a": "1", "aa": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","aa":3,"b":"2"}`, string(got))
}

func TestMarshalCanonical_UTF16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before U+FF61.
	got, err := MarshalCanonical(map[string]string{"\uFF61": "x", "\U0001F600": "y"})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":\"y\",\"\uFF61\":\"x\"}", string(got))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	composed, err := MarshalCanonical("\u00e9")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	got, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	got, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got), "literal backslash text stays escaped")
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)
	_, err = MarshalCanonical(1.5)
	assert.Error(t, err)
	_, err = MarshalCanonical(map[string]any{"x": struct{}{}})
	assert.Error(t, err)
}

func TestComputeIdentity_Stable(t *testing.T) {
	a, err := ComputeIdentity(KindResource, "domain", map[string]string{"name": "example.com"})
	require.NoError(t, err)
	b, err := ComputeIdentity(KindResource, "domain", map[string]string{"name": "example.com"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	_, err = ComputeIdentity(KindAny, "domain", nil)
	assert.Error(t, err)
}
