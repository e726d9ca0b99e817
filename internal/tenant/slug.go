package tenant

import (
	"regexp"
	"strings"
)

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// ToSlug lowercases name, collapses every run of characters outside
// [a-z0-9] into a single hyphen and trims hyphens from both ends.
func ToSlug(name string) string {
	s := nonSlugRun.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}
