package match

import "testing"

// TestNameFilter_Match verifies anchored and floating glob segments.
// Params: testing.T for assertions.
// Returns: none.
func TestNameFilter_Match(t *testing.T) {
	filter := NewNameFilter([]string{"kworker*", "*sshd", "ab*ba", " ", "systemd"})

	cases := map[string]bool{
		"kworker/0:1":    true,
		"KWorker/u8":     true,
		"sshd":           true,
		"/usr/sbin/sshd": true,
		"abba":           true,
		"ab-x-ba":        true,
		"aba":            false,
		"systemd":        true,
		"systemd-udevd":  false,
		"bash":           false,
	}
	for name, expected := range cases {
		if got := filter.Match(name); got != expected {
			t.Fatalf("match %q: expected %v, got %v", name, expected, got)
		}
	}
}

// TestNameFilter_EmptyAndMatchAll verifies blank and '*' only globs.
// Params: testing.T for assertions.
// Returns: none.
func TestNameFilter_EmptyAndMatchAll(t *testing.T) {
	empty := NewNameFilter([]string{"", "  "})
	if !empty.Empty() {
		t.Fatalf("expected empty filter")
	}
	if empty.Match("anything") {
		t.Fatalf("empty filter must not match")
	}

	all := NewNameFilter([]string{"**"})
	if !all.Match("anything") {
		t.Fatalf("expected match-all glob")
	}
}
