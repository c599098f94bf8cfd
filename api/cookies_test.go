package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieSignerRoundTrip(t *testing.T) {
	cs := newCookieSigner([]byte("0123456789abcdef0123456789abcdef"))

	sig, err := cs.sign("session-id")
	require.NoError(t, err)

	id, ok := cs.verify("session-id." + sig)
	require.True(t, ok)
	assert.Equal(t, "session-id", id)
}

func TestCookieSignerRejectsTamperedID(t *testing.T) {
	cs := newCookieSigner([]byte("0123456789abcdef0123456789abcdef"))

	sig, err := cs.sign("session-id")
	require.NoError(t, err)

	_, ok := cs.verify("other-id." + sig)
	assert.False(t, ok)
}

func TestCookieSignerRejectsWrongSecret(t *testing.T) {
	cs1 := newCookieSigner([]byte("0123456789abcdef0123456789abcdef"))
	cs2 := newCookieSigner([]byte("fedcba9876543210fedcba9876543210"))

	sig, err := cs1.sign("session-id")
	require.NoError(t, err)

	_, ok := cs2.verify("session-id." + sig)
	assert.False(t, ok)
}

func TestCookieSignerRejectsMalformed(t *testing.T) {
	cs := newCookieSigner([]byte("0123456789abcdef0123456789abcdef"))

	for _, raw := range []string{"", "nodot", ".leadingdot", "a."} {
		_, ok := cs.verify(raw)
		assert.False(t, ok, "value %q", raw)
	}
}

func TestBrowserKeyMintedOnce(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)

	key, err := browserKey(w, r)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, browserKeyCookie, cookies[0].Name)
	assert.Equal(t, key, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	// A browser that already has the cookie keeps its key.
	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest("GET", "/", nil)
	r2.AddCookie(cookies[0])

	key2, err := browserKey(w2, r2)
	require.NoError(t, err)
	assert.Equal(t, key, key2)
	assert.Empty(t, w2.Result().Cookies())
}

func TestExistingBrowserKeyNeverMints(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, ok := existingBrowserKey(r)
	assert.False(t, ok)
}

func TestPasswordEncryptionRoundTrip(t *testing.T) {
	sealed, err := encryptPassword("s3cret", "browser-key")
	require.NoError(t, err)
	require.NotEmpty(t, sealed)

	plain, err := decryptPassword(sealed, "browser-key")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(plain))
}

func TestPasswordDecryptFailsWithWrongKey(t *testing.T) {
	sealed, err := encryptPassword("s3cret", "browser-key")
	require.NoError(t, err)

	_, err = decryptPassword(sealed, "other-key")
	assert.Error(t, err)
}
