// Package transform derives slugs, SEO text, scores and categories from
// source records. Everything here is pure.
package transform

import (
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify lower-cases s, strips diacritics, collapses every run of
// non-alphanumeric characters into one hyphen and trims hyphens at both ends.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// Slug builds name-city-state-token. The same inputs always yield the same
// slug and distinct tokens always yield distinct slugs.
func Slug(name, city, state, token string) string {
	base := Slugify(strings.Join([]string{name, city, state}, " "))
	tok := slugToken(token)
	switch {
	case tok == "":
		return base
	case base == "" && strings.HasPrefix(tok, "-"):
		return "x-" + tok
	case base == "":
		return tok
	}
	return base + "-" + tok
}

// slugToken passes slug-safe tokens through. Any other token is hex-encoded
// behind a leading hyphen; the resulting "--" never occurs in a slug-safe
// token.
func slugToken(token string) string {
	if Slugify(token) == token {
		return token
	}
	return "-" + hex.EncodeToString([]byte(token))
}

// NewToken returns a short random token for slug suffixes.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// SequenceToken returns a deterministic token for a sequence number.
func SequenceToken(n int64) string {
	return strconv.FormatInt(n, 36)
}
