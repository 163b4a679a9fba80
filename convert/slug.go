package convert

import (
	"regexp"
	"strings"

	"github.com/goliatone/go-slug"
)

// DefaultSlug is used when a title contains nothing usable in a slug.
const DefaultSlug = "untitled"

var (
	whitespace = regexp.MustCompile(`\s+`)
	nonWord    = regexp.MustCompile(`[^\w-]+`)
	dashes     = regexp.MustCompile(`-{2,}`)
)

// Slugify derives a file and URL safe identifier from a title: lowercase,
// whitespace runs turned into single dashes, everything but ASCII word
// characters and dashes dropped, no leading or trailing dash.
func Slugify(title string) string {
	t := whitespace.ReplaceAllString(strings.TrimSpace(title), " ")

	var s string
	if strings.ContainsRune(t, '_') {
		// go-slug folds underscores into dashes
		s = wordSlug(t)
	} else if n, err := slug.Normalize(t); err == nil && slug.IsValid(n) {
		s = n
	} else {
		s = wordSlug(t)
	}

	if s == "" {
		return DefaultSlug
	}
	return s
}

// wordSlug keeps ASCII word characters, underscores included, and dashes.
func wordSlug(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = whitespace.ReplaceAllString(s, "-")
	s = nonWord.ReplaceAllString(s, "")
	s = dashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
