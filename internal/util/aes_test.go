package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := NewAESKey()
	require.NoError(t, err)

	blob, err := EncryptAES([]byte("s3cret password"), key)
	require.NoError(t, err)
	assert.Greater(t, len(blob), AESKeySize)

	plain, err := DecryptAES(blob, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret password"), plain)
}

func TestEncryptRandomizesNonce(t *testing.T) {
	key, err := NewAESKey()
	require.NoError(t, err)

	a, err := EncryptAES([]byte("same"), key)
	require.NoError(t, err)
	b, err := EncryptAES([]byte("same"), key)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a, b))
}

func TestDecryptWrongKey(t *testing.T) {
	key1, err := NewAESKey()
	require.NoError(t, err)
	key2, err := NewAESKey()
	require.NoError(t, err)

	blob, err := EncryptAES([]byte("data"), key1)
	require.NoError(t, err)

	_, err = DecryptAES(blob, key2)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptTamperedBlob(t *testing.T) {
	key, err := NewAESKey()
	require.NoError(t, err)
	blob, err := EncryptAES([]byte("data"), key)
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff
	_, err = DecryptAES(blob, key)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptTruncatedBlob(t *testing.T) {
	key, err := NewAESKey()
	require.NoError(t, err)

	for _, n := range []int{0, 1, 11, 27} {
		_, err := DecryptAES(make([]byte, n), key)
		assert.ErrorIs(t, err, ErrDecryptFailed, "blob of %d bytes", n)
	}
}

func TestDecryptBadKeySize(t *testing.T) {
	_, err := DecryptAES([]byte("whatever"), []byte("short"))
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestPadKey(t *testing.T) {
	short := PadKey("abc")
	assert.Len(t, short, AESKeySize)
	assert.Equal(t, byte('a'), short[0])
	assert.Equal(t, byte(' '), short[3])
	assert.Equal(t, byte(' '), short[31])

	long := PadKey("0123456789012345678901234567890123456789")
	assert.Len(t, long, AESKeySize)
	assert.Equal(t, byte('1'), long[31])
}

func TestPadKeyIsStableEncryptionKey(t *testing.T) {
	blob, err := EncryptAES([]byte("pw"), PadKey("browser-key"))
	require.NoError(t, err)

	plain, err := DecryptAES(blob, PadKey("browser-key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pw"), plain)

	_, err = DecryptAES(blob, PadKey("other-browser"))
	assert.ErrorIs(t, err, ErrDecryptFailed)
}
