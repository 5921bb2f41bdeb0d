package otp

import "strings"

const DefaultCountryCode = "84"

// NormalizePhone strips formatting from phone and returns it as digits in
// international form without a leading plus, e.g. "0901 234-567" becomes
// "84901234567". A leading trunk zero is replaced with countryCode.
func NormalizePhone(phone, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "00"):
		return digits[2:]
	case strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	case strings.HasPrefix(digits, countryCode):
		return digits
	case strings.HasPrefix(strings.TrimSpace(phone), "+"):
		return digits
	default:
		return countryCode + digits
	}
}

// validPhone reports whether a normalized phone number has a plausible
// length for E.164.
func validPhone(normalized string) bool {
	return len(normalized) >= 9 && len(normalized) <= 15
}
