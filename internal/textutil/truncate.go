// Package textutil holds small string helpers shared by log previews and
// channel delivery.
package textutil

// Cut returns the first n runes of s. It never splits a UTF-8 sequence.
func Cut(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Truncate shortens s to n runes and marks the cut with "...".
func Truncate(s string, n int) string {
	if c := Cut(s, n); len(c) < len(s) {
		return c + "..."
	}
	return s
}
