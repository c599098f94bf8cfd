package api

import (
	"strconv"

	"github.com/jmcleod/dbadmin/internal/util"
)

// csrfSpace bounds both the session seed and the per-token nonce.
const csrfSpace = 1_000_000_000

// newCSRFSeed returns a fresh session CSRF seed. Rotated on every
// successful login.
func newCSRFSeed() (int64, error) {
	return util.RandomIntn(csrfSpace)
}

// issueCSRF mints a token bound to the session seed: a random nonce
// XORed with the seed, rendered base 36. The raw nonce never leaves the
// server, so a token from one session is meaningless in another.
func issueCSRF(seed int64) (string, error) {
	nonce, err := util.RandomIntn(csrfSpace)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(nonce^seed, 36), nil
}

// verifyCSRF checks that token XOR seed lands back inside the nonce
// space. A zero seed (session never logged in) rejects everything.
func verifyCSRF(seed int64, token string) bool {
	if token == "" || seed == 0 {
		return false
	}
	candidate, err := strconv.ParseInt(token, 36, 64)
	if err != nil {
		return false
	}
	nonce := candidate ^ seed
	return nonce >= 0 && nonce < csrfSpace
}
