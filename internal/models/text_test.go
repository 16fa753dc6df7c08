package models

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii cut", "abcdef", 3, "abc"},
		{"multibyte kept whole", "héllo", 2, "hé"},
		{"multibyte under byte length", "ééé", 3, "ééé"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestTruncate_MultibyteAtBoundary(t *testing.T) {
	s := strings.Repeat("a", 199) + "é ransomware"
	got := Truncate(s, MaxAlertTitleLen)
	if !utf8.ValidString(got) {
		t.Fatal("truncated title is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != MaxAlertTitleLen {
		t.Errorf("rune count = %d, want %d", n, MaxAlertTitleLen)
	}
	if !strings.HasSuffix(got, "é") {
		t.Errorf("title should end with the whole character, got suffix %q", got[len(got)-3:])
	}
}
