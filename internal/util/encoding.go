package util

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s, decomposes accented characters (NFKD) and
// collapses every non-alphanumeric run into a single dash. Used for
// deriving stable preset ids from human labels.
func Slugify(s string) string {
	decomposed := norm.NFKD.String(s)
	var sb strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue // combining marks left over from decomposition
		}
		sb.WriteRune(r)
	}
	slug := slugStrip.ReplaceAllString(strings.ToLower(sb.String()), "-")
	return strings.Trim(slug, "-")
}
