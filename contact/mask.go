package contact

import "strings"

// MaxPhoneDigits is the length of a Brazilian mobile number with area code.
const MaxPhoneDigits = 11

// FormatWhatsApp masks partial phone input as "(DD) DDDDD-DDDD".
// Non digits are dropped and input past eleven digits is truncated.
func FormatWhatsApp(value string) string {
	digits := onlyDigits(value)
	if len(digits) > MaxPhoneDigits {
		digits = digits[:MaxPhoneDigits]
	}

	switch {
	case len(digits) <= 2:
		return digits
	case len(digits) <= 7:
		return "(" + digits[:2] + ") " + digits[2:]
	default:
		return "(" + digits[:2] + ") " + digits[2:7] + "-" + digits[7:]
	}
}

func onlyDigits(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
