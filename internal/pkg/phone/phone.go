// Package phone canonicalizes Kenyan mobile numbers. Customer identity and
// deduplication compare only the normalized form.
package phone

import "strings"

const countryCode = "254"

// Normalize strips everything but digits and rewrites local formats to
// 254XXXXXXXXX. Numbers that match no known pattern come back as bare digits.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && digits[0] == '0':
		return countryCode + digits[1:]
	case len(digits) == 9 && (digits[0] == '7' || digits[0] == '1'):
		return countryCode + digits
	case len(digits) == 12 && strings.HasPrefix(digits, countryCode):
		return digits
	}
	return digits
}

// IsCanonical reports whether s is already in 254XXXXXXXXX form.
func IsCanonical(s string) bool {
	return len(s) == 12 && strings.HasPrefix(s, countryCode) && Normalize(s) == s
}

// E164 renders a number with a leading plus for SMS gateways.
func E164(raw string) string {
	n := Normalize(raw)
	if n == "" {
		return ""
	}
	return "+" + n
}
