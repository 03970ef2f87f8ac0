package util

import (
	"strings"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain_key-01", "plain_key-01"},
		{"user profile", "user_profile"},
		{"a.b/c\\d", "a_b_c_d"},
		{"مفتاح", "_____"},
		{"", ""},
		{strings.Repeat("k", 80), strings.Repeat("k", 50)},
	}
	for _, tt := range tests {
		if got := SanitizeKey(tt.in); got != tt.want {
			t.Errorf("SanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := SanitizeInput("  <b>ahmed</b>  "); got != "&lt;b&gt;ahmed&lt;/b&gt;" {
		t.Errorf("SanitizeInput = %q", got)
	}
	if got := SanitizeInput("ahmed"); got != "ahmed" {
		t.Errorf("plain input mangled: %q", got)
	}
}

func TestContainsSuspicious(t *testing.T) {
	for _, bad := range []string{"<script>", "x onerror=1", "${injection}", "OnLoad"} {
		if !ContainsSuspicious(bad) {
			t.Errorf("ContainsSuspicious(%q) = false", bad)
		}
	}
	for _, ok := range []string{"ahmed", "user_01", "شركة النور"} {
		if ContainsSuspicious(ok) {
			t.Errorf("ContainsSuspicious(%q) = true", ok)
		}
	}
}
