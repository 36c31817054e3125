// Package media validates remote media references and derives the short
// stable ID used as cache key and sync token.
package media

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"
)

// ID is the short stable identifier derived from a reference.
type ID string

const minNativeIDLen = 11

var (
	shortHosts = map[string]bool{"youtu.be": true, "www.youtu.be": true}
	longHosts  = map[string]bool{"youtube.com": true, "www.youtube.com": true}
)

// IsValidReference reports whether ref is an absolute URL on one of the
// accepted hosts. Nothing else is allowed past the request boundary.
func IsValidReference(ref string) bool {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return shortHosts[host] || longHosts[host]
}

// DeriveID extracts the native video ID from a short or long form reference.
// Anything it can't extract from falls back to HashID, so it never fails.
func DeriveID(ref string) ID {
	u, err := url.Parse(ref)
	if err != nil {
		return HashID(ref)
	}
	host := strings.ToLower(u.Hostname())

	if shortHosts[host] {
		id := strings.Trim(u.Path, "/")
		if len(id) >= minNativeIDLen && all(id, isAlnum) {
			return ID(id)
		}
	}

	if longHosts[host] {
		id := u.Query().Get("v")
		if len(id) >= minNativeIDLen && all(id, func(r rune) bool { return isAlnum(r) || r == '-' || r == '_' }) {
			return ID(id)
		}
	}

	return HashID(ref)
}

// HashID is the first 4 bytes of SHA-1 over the raw reference, as 8
// upper-case hex characters.
func HashID(ref string) ID {
	sum := sha1.Sum([]byte(ref))
	return ID(strings.ToUpper(hex.EncodeToString(sum[:4])))
}

func isAlnum(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func all(s string, ok func(rune) bool) bool {
	for _, r := range s {
		if !ok(r) {
			return false
		}
	}
	return true
}
