package identity

import (
	"fmt"
	"strings"
)

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone converts user input into E.164 form: non-digits are
// stripped, a single leading national "0" is dropped, and the country calling
// code is prefixed. Input already carrying a "+" is treated as E.164 and only
// sanitized, which makes normalization idempotent.
func NormalizePhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "+") {
		return "+" + digitsOnly(raw)
	}

	digits := digitsOnly(raw)
	if strings.HasPrefix(digits, "0") {
		digits = digits[1:]
	}
	return "+" + digitsOnly(countryCode) + digits
}

// ValidatePhone checks that a normalized number is plausible E.164.
func ValidatePhone(e164 string) error {
	if !strings.HasPrefix(e164, "+") {
		return fmt.Errorf("phone must start with +")
	}
	digits := digitsOnly(e164)
	if len(digits) < 8 || len(digits) > 15 {
		return fmt.Errorf("phone must have 8-15 digits, got %d", len(digits))
	}
	return nil
}
