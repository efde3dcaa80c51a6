package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictSanitizer = bluemonday.StrictPolicy()

// SanitizeText strips all markup from catalog text such as item titles and summaries.
func SanitizeText(input string) string {
	return strings.TrimSpace(strictSanitizer.Sanitize(input))
}
