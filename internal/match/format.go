package match

import (
	"math"
	"strings"
	"unicode"
)

// displayName joins first and last name, falling back to "N/A" when both
// are blank so the output always has a printable name.
func displayName(first, last string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name == "" {
		return "N/A"
	}
	return name
}

// normalizeCredentials upper-cases credential text and strips periods and
// whitespace ("M.D." -> "MD").
func normalizeCredentials(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '.' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.ToUpper(cleaned)
}

// formatAddress joins the non-blank address parts with ", ".
func formatAddress(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, ", ")
}

// round1 rounds to one decimal place, the precision distances are
// reported at.
func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
