package clients

import "strings"

// NormalizePhone turns a WhatsApp wa_id or a hand-typed number into E.164.
// Bare ten-digit numbers starting with 3 are Italian mobiles.
func NormalizePhone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	plus := strings.HasPrefix(value, "+")
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	switch {
	case plus:
		return "+" + digits
	case strings.HasPrefix(digits, "00"):
		return "+" + digits[2:]
	case len(digits) == 10 && digits[0] == '3':
		return "+39" + digits
	default:
		return "+" + digits
	}
}
