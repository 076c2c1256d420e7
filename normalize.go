package triage

import (
	"fmt"
	"regexp"
	"strings"
)

var canonicalIDPattern = regexp.MustCompile(`^APT-\d{5}$`)

// IsCanonicalAppointmentID reports whether id is already in canonical form
// ("APT-" followed by exactly five digits).
func IsCanonicalAppointmentID(id string) bool {
	return canonicalIDPattern.MatchString(id)
}

// CanonicalAppointmentID normalizes a free-form appointment identifier:
// non-digit characters are stripped, and a remainder of one to five digits is
// zero-padded on the left and prefixed with "APT-". A remainder that is empty
// or longer than five digits yields a FormatError.
func CanonicalAppointmentID(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return "", &FormatError{
			Field:  "appointment_id",
			Value:  raw,
			Reason: "no digits found; expected format APT-XXXXX",
		}
	}
	if len(d) > 5 {
		return "", &FormatError{
			Field:  "appointment_id",
			Value:  raw,
			Reason: fmt.Sprintf("%d digits found, at most 5 allowed; expected format APT-XXXXX", len(d)),
		}
	}
	return "APT-" + strings.Repeat("0", 5-len(d)) + d, nil
}
