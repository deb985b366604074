package utils

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizer = bluemonday.UGCPolicy()
	stripper  = bluemonday.StrictPolicy()
)

// Sanitize cleans HTML content to prevent XSS attacks.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}

// StripTags removes all markup and returns unescaped plain text, so "Tom & Jerry <3"
// comes back as typed. The result is not safe to embed in HTML; clients must escape it.
func StripTags(input string) string {
	return html.UnescapeString(stripper.Sanitize(input))
}
