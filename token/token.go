// Package token implements the shared-secret check used to decide whether an
// email is allowed to become a post. The secret travels in the subject line as
// a bracketed marker:
//
//	[TOKEN-s3cret] My first post
//
// Both the edge receiver and the CI pipeline use this package, so a message
// that gets past one will get past the other.
package token

import (
	"crypto/subtle"
	"errors"
	"regexp"
	"strings"
)

// Prefix is the literal text that opens a token marker.
const Prefix = "[TOKEN-"

// Errors returned by Check.
var (
	ErrMissing = errors.New("missing token in subject")
	ErrInvalid = errors.New("invalid token")
)

var marker = regexp.MustCompile(`\[TOKEN-([^\]]+)\]\s*(.*)`)

// Extract finds the token marker in the subject. It returns the token value,
// the subject text following the marker (trimmed), and whether a marker was
// found at all. When no marker is found, the clean subject is the subject as
// given.
func Extract(subject string) (tok, clean string, ok bool) {
	m := marker.FindStringSubmatch(subject)
	if m == nil {
		return "", subject, false
	}

	return m[1], strings.TrimSpace(m[2]), true
}

// Match compares a token found in a subject against the configured secret
// without leaking timing information. An empty secret never matches.
func Match(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Format builds a subject line carrying the given token.
func Format(tok, subject string) string {
	return Prefix + tok + "] " + subject
}

// Check extracts the token from subject and compares it with secret. On
// success it returns the subject with the marker removed.
func Check(subject, secret string) (string, error) {
	tok, clean, ok := Extract(subject)
	if !ok {
		return subject, ErrMissing
	}
	if !Match(tok, secret) {
		return clean, ErrInvalid
	}
	return clean, nil
}
