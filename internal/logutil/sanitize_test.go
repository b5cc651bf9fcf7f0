package logutil

import "testing"

func TestSanitizeForLog(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"web1", "web1"},
		{"web1\ninjected line", "web1 injected line"},
		{"a\r\nb", "a  b"},
		{"tab\there", "tab here"},
		{"bell\x07id", "bellid"},
		{"", ""},
	}
	for _, c := range cases {
		if got := SanitizeForLog(c.in); got != c.want {
			t.Errorf("SanitizeForLog(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}
