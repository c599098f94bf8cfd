package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

func RandomIntn(max int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return n.Int64(), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// WipeBytes zeroes a byte slice in place. Best effort only: the GC may
// have copied the backing array earlier.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
