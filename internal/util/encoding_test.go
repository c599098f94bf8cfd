package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64URLRoundTrip(t *testing.T) {
	b, err := RandomBytes(24)
	require.NoError(t, err)

	s := Base64URLEncode(b)
	assert.NotContains(t, s, "=")
	assert.NotContains(t, s, "+")
	assert.NotContains(t, s, "/")

	back, err := Base64URLDecode(s)
	require.NoError(t, err)
	assert.Equal(t, b, back)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "production-mysql", Slugify("Production MySQL"))
	assert.Equal(t, "cafe-reunion", Slugify("Café Réunion"))
	assert.Equal(t, "a-b-c", Slugify("  a__b--c  "))
	assert.Equal(t, "", Slugify("!!!"))
}

func TestRandomIntnRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		n, err := RandomIntn(1000)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(0))
		assert.Less(t, n, int64(1000))
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte("sensitive")
	WipeBytes(b)
	for _, c := range b {
		assert.Zero(t, c)
	}
}
