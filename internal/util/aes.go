package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	AESKeySize = 32
	gcmNonce   = 12
	gcmTag     = 16
)

// ErrDecryptFailed is the single failure sentinel for all decryption
// problems: wrong key, tampered blob, truncated blob. Callers must not
// distinguish between those causes.
var ErrDecryptFailed = errors.New("decrypt failed")

// EncryptAES seals plainText with AES-256-GCM. The output layout is
// nonce ‖ tag ‖ ciphertext so the blob is self-contained.
func EncryptAES(plainText, rawKey []byte) ([]byte, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plainText, nil)
	// gcm.Seal appends the tag after the ciphertext; reorder to
	// nonce ‖ tag ‖ ciphertext.
	ct, tag := sealed[:len(sealed)-gcmTag], sealed[len(sealed)-gcmTag:]

	out := make([]byte, 0, gcmNonce+gcmTag+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// DecryptAES opens a blob produced by EncryptAES. Any malformed input or
// authentication failure returns ErrDecryptFailed; no other error detail
// leaks past this boundary.
func DecryptAES(blob, rawKey []byte) ([]byte, error) {
	if len(rawKey) != AESKeySize {
		return nil, ErrDecryptFailed
	}
	if len(blob) < gcmNonce+gcmTag {
		return nil, ErrDecryptFailed
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	nonce := blob[:gcmNonce]
	tag := blob[gcmNonce : gcmNonce+gcmTag]
	ct := blob[gcmNonce+gcmTag:]

	sealed := make([]byte, 0, len(ct)+gcmTag)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plainText, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plainText, nil
}

// PadKey turns an arbitrary secret string into a 32-byte AES key by
// space-padding or truncating. This is not a KDF: the input is expected to
// be a high-entropy random value (the per-browser key), never a human
// password.
func PadKey(secret string) []byte {
	key := make([]byte, AESKeySize)
	for i := range key {
		key[i] = ' '
	}
	copy(key, secret)
	return key
}

// NewAESKey returns a fresh random 256-bit key.
func NewAESKey() ([]byte, error) {
	rawKey := make([]byte, AESKeySize)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generating AES key: %w", err)
	}
	return rawKey, nil
}
