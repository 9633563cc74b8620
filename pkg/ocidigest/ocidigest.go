// Package ocidigest implements the digest and pattern primitives every other
// package in this module builds on: content hashing, algorithm stripping,
// path-component sanitization, and the registry's single-wildcard glob.
package ocidigest

import (
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Compute returns the sha256 digest of b as 64 lowercase hex characters,
// without an algorithm prefix.
func Compute(b []byte) string {
	d := digest.FromBytes(b)
	return StripAlgo(d.String())
}

// StripAlgo removes a leading "sha256:" (or any "<algo>:") prefix if present.
func StripAlgo(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._\-/]`)

var algoName = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Sanitize maps every character outside [A-Za-z0-9._-/] to '_'. It is the
// sole defence against path traversal from request-supplied path components
// (org, repo, reference, uuid) before they touch the filesystem.
//
// A leading "<algo>:" digest prefix (e.g. "sha256:") is preserved literally
// rather than mangled, so a manifest written under a digest reference and
// one read back under the same reference resolve to the same path. Only the
// colon immediately after a pure alphanumeric algo name is spared; anything
// else containing a colon is sanitized as a whole.
func Sanitize(s string) string {
	if i := strings.IndexByte(s, ':'); i > 0 && algoName.MatchString(s[:i]) {
		return s[:i] + ":" + unsafeChars.ReplaceAllString(s[i+1:], "_")
	}
	return unsafeChars.ReplaceAllString(s, "_")
}

// Glob implements the registry's restricted pattern grammar: exact match, a
// bare "*" matching everything, or a single '*' acting as a prefix and/or
// suffix wildcard. Multiple '*' or '?' are never honored and fall through to
// false.
func Glob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == value {
		return true
	}
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return false
	}
	if strings.IndexByte(pattern[idx+1:], '*') >= 0 {
		return false
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	return strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
}

// ValidDigest reports whether s matches "<algo>:<hex>" with algo sha256 or
// sha512 and at least 32 hex characters, per the manifest descriptor rule.
func ValidDigest(s string) bool {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return false
	}
	algo, hex := s[:i], s[i+1:]
	if algo != "sha256" && algo != "sha512" {
		return false
	}
	if len(hex) < 32 {
		return false
	}
	for _, r := range hex {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
