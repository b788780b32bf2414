// Package utils carries tiny domain-free helpers shared across layers.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// not a valid integer. Query parameters like ?page= and ?page_size= go
// through here so malformed input degrades to the default instead of
// failing the request.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
