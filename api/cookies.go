package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/dbadmin/internal/util"
)

const (
	sessionCookieName = "dbadmin_sid"
	browserKeyCookie  = "dbadmin_key"

	browserKeyBytes  = 24
	browserKeyMaxAge = 365 * 24 * 60 * 60
)

// cookieSigner HMAC-signs session ids. The secret lives in a memguard
// enclave and is only decrypted for the duration of one signature.
type cookieSigner struct {
	secret *memguard.Enclave
}

func newCookieSigner(secret []byte) *cookieSigner {
	return &cookieSigner{secret: memguard.NewEnclave(secret)}
}

func (cs *cookieSigner) sign(id string) (string, error) {
	buf, err := cs.secret.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	mac := hmac.New(sha256.New, buf.Bytes())
	mac.Write([]byte(id))
	return util.Base64URLEncode(mac.Sum(nil)), nil
}

// verify checks an "id.sig" cookie value and returns the id. The
// comparison is constant time via hmac.Equal.
func (cs *cookieSigner) verify(raw string) (string, bool) {
	dot := strings.LastIndexByte(raw, '.')
	if dot < 1 {
		return "", false
	}
	id, sig := raw[:dot], raw[dot+1:]
	want, err := cs.sign(id)
	if err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return "", false
	}
	return id, true
}

func (a *API) setSessionCookie(w http.ResponseWriter, id string) {
	sig, err := a.signer.sign(id)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id + "." + sig,
		MaxAge:   int(a.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
}

// browserKey returns the per-browser encryption key, minting and setting
// the long-lived cookie if the browser does not have one yet.
func browserKey(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(browserKeyCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	raw, err := util.RandomBytes(browserKeyBytes)
	if err != nil {
		return "", err
	}
	key := util.Base64URLEncode(raw)
	http.SetCookie(w, &http.Cookie{
		Name:     browserKeyCookie,
		Value:    key,
		MaxAge:   browserKeyMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	return key, nil
}

// existingBrowserKey reads the browser key without minting one; the
// reconstruction path must never invent a key that cannot decrypt
// anything.
func existingBrowserKey(r *http.Request) (string, bool) {
	c, err := r.Cookie(browserKeyCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
