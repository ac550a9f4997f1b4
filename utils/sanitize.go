package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// StripMarkup removes all HTML from user supplied titles.
func StripMarkup(input string) string {
	return strings.TrimSpace(stripPolicy.Sanitize(input))
}
