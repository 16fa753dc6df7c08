package models

// Column widths for free-text fields, in characters.
const (
	MaxTitleLen       = 500
	MaxAlertTitleLen  = 200
	MaxCategoryLen    = 100
	MaxEventTypeLen   = 255
	MaxNativeSevLen   = 50
	MaxContextTypeLen = 50
	MaxContextIDLen   = 255
)

// Truncate shortens s to at most n characters without splitting a
// multi-byte sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for pos := range s {
		if count == n {
			return s[:pos]
		}
		count++
	}
	return s
}
