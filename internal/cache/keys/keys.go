// Package keys builds Redis keys for stored datasets.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const Prefix = "poi"

// Dataset returns poi:<CODE>:<type>:q=<hash>. The hash covers the query text
// with whitespace runs collapsed, so layout-only differences share a key.
func Dataset(countryCode, locationType, query string) string {
	code := sanitize(strings.ToUpper(strings.TrimSpace(countryCode)))
	lt := sanitize(strings.TrimSpace(locationType))
	return fmt.Sprintf("%s:%s:%s:q=%016x", Prefix, code, lt, QueryHash(query))
}

// Meta is the companion key holding the dataset summary.
func Meta(datasetKey string) string {
	return datasetKey + ":meta"
}

func QueryHash(query string) uint64 {
	return xxhash.Sum64String(collapseWhitespace(query))
}

func sanitize(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := '-'
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
