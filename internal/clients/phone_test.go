package clients

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"393331234567", "+393331234567"},
		{"+39 333 123 4567", "+393331234567"},
		{"0039-333-1234567", "+393331234567"},
		{"333 1234567", "+393331234567"},
		{"(333) 123-4567", "+393331234567"},
		{"+1 (555) 010-9999", "+15550109999"},
		{"15550109999", "+15550109999"},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
