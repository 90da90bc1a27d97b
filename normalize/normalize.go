// Package normalize converts raw scraped text tokens into typed values. All
// functions are total: bad input yields an explicit absent result, never a
// panic.
package normalize

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// SqftToSqm converts integer square feet into square meters.
const SqftToSqm = 0.092903

// countSeparators lists every encoding of the multiplication glyph the site
// has been observed to render before bedroom/bathroom counts.
var countSeparators = []string{"&#215;", "&#xd7;", "&#xD7;", "×", "x", "X"}

// FormatLabel converts a human-readable field label into a snake-case key,
// e.g. "Property type" -> "property_type".
func FormatLabel(label string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case unicode.IsSpace(r):
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// CleanCurrency strips the currency symbol (including the mojibake variant the
// site sometimes serves), the "pcm" suffix and thousands separators, and
// parses the remainder as an integer. Returns false when the remainder is not
// fully numeric.
func CleanCurrency(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	for _, cut := range []string{"Â£", "£", "pcm", ","} {
		s = strings.ReplaceAll(s, cut, "")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// CleanCount strips the multiplication-glyph separator in any of its observed
// encodings and parses the remaining bare integer.
func CleanCount(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	for _, sep := range countSeparators {
		s = strings.ReplaceAll(s, sep, "")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// CleanSize takes a raw size token such as "1,076 sq ft", strips the unit
// suffix, thousands separators and stray hyphens, and converts the integer
// square-feet figure to square meters.
func CleanSize(raw string) (float64, bool) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return 0, false
	}
	s := strings.ReplaceAll(fields[0], ",", "")
	s = strings.ReplaceAll(s, "-", "")
	if s == "" {
		return 0, false
	}
	sqft, err := strconv.Atoi(s)
	if err != nil || sqft < 0 {
		return 0, false
	}
	return float64(sqft) * SqftToSqm, true
}

// AvailabilityKind partitions let-available-date tokens.
type AvailabilityKind int

const (
	// AvailabilityImmediate is the literal "Now" token.
	AvailabilityImmediate AvailabilityKind = iota
	// AvailabilityUnknown is the literal "Ask agent" token.
	AvailabilityUnknown
	// AvailabilityDated carries a parsed month and year.
	AvailabilityDated
	// AvailabilityMalformed is anything else; callers must log the raw value.
	AvailabilityMalformed
)

// String returns the metrics/log label for the kind.
func (k AvailabilityKind) String() string {
	switch k {
	case AvailabilityImmediate:
		return "immediate"
	case AvailabilityUnknown:
		return "unknown"
	case AvailabilityDated:
		return "dated"
	default:
		return "malformed"
	}
}

// Availability is the classified let-available-date of a listing.
type Availability struct {
	Kind  AvailabilityKind
	Month time.Month
	Year  int
}

// ClassifyAvailability maps a raw let-available-date token onto exactly one
// AvailabilityKind. Dated tokens must be DD/MM/YYYY.
func ClassifyAvailability(raw string) Availability {
	switch s := strings.TrimSpace(raw); s {
	case "Now":
		return Availability{Kind: AvailabilityImmediate}
	case "Ask agent":
		return Availability{Kind: AvailabilityUnknown}
	default:
		t, err := time.Parse("02/01/2006", s)
		if err != nil {
			return Availability{Kind: AvailabilityMalformed}
		}
		return Availability{Kind: AvailabilityDated, Month: t.Month(), Year: t.Year()}
	}
}
