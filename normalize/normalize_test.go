package normalize

import (
	"math"
	"testing"
	"time"
)

func TestFormatLabel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single word", input: "Size", expected: "size"},
		{name: "two words", input: "Property type", expected: "property_type"},
		{name: "three words", input: "Let available date", expected: "let_available_date"},
		{name: "whitespace run", input: "Min.  tenancy ", expected: "min_tenancy"},
		{name: "already snake", input: "furnish_type", expected: "furnishtype"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLabel(tt.input); got != tt.expected {
				t.Errorf("FormatLabel(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanCurrency(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
		ok       bool
	}{
		{name: "pcm with commas", input: "£1,950 pcm", expected: 1950, ok: true},
		{name: "mangled symbol", input: "Â£2,100 pcm", expected: 2100, ok: true},
		{name: "no suffix", input: "£850", expected: 850, ok: true},
		{name: "bare digits", input: "1200", expected: 1200, ok: true},
		{name: "deposit with comma", input: "2,250", expected: 2250, ok: true},
		{name: "ask agent", input: "Ask agent", ok: false},
		{name: "empty", input: "", ok: false},
		{name: "trailing junk", input: "£1,950 pw", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CleanCurrency(tt.input)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("CleanCurrency(%q) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestCleanCountSeparatorVariants(t *testing.T) {
	// Every separator encoding must yield the same integer.
	for _, input := range []string{"x2", "×2", "&#215;2", "&#xd7;2", "&#xD7;2", " ×2 "} {
		got, ok := CleanCount(input)
		if !ok || got != 2 {
			t.Errorf("CleanCount(%q) = (%d, %v), want (2, true)", input, got, ok)
		}
	}
}

func TestCleanCount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
		ok       bool
	}{
		{name: "bare integer", input: "3", expected: 3, ok: true},
		{name: "double digit", input: "×10", expected: 10, ok: true},
		{name: "empty", input: "", ok: false},
		{name: "separator only", input: "×", ok: false},
		{name: "words", input: "Ask agent", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CleanCount(tt.input)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("CleanCount(%q) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestCleanSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
		ok       bool
	}{
		{name: "with thousands separator", input: "1,076 sq ft", expected: 1076 * SqftToSqm, ok: true},
		{name: "plain", input: "650 sq ft", expected: 650 * SqftToSqm, ok: true},
		{name: "stray hyphen", input: "1,076- sq ft", expected: 1076 * SqftToSqm, ok: true},
		{name: "empty", input: "", ok: false},
		{name: "ask agent", input: "Ask agent", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CleanSize(tt.input)
			if ok != tt.ok || math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CleanSize(%q) = (%f, %v), want (%f, %v)", tt.input, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestClassifyAvailability(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  AvailabilityKind
		month time.Month
		year  int
	}{
		{name: "now", input: "Now", kind: AvailabilityImmediate},
		{name: "ask agent", input: "Ask agent", kind: AvailabilityUnknown},
		{name: "dated june", input: "15/06/2025", kind: AvailabilityDated, month: time.June, year: 2025},
		{name: "dated august", input: "15/08/2025", kind: AvailabilityDated, month: time.August, year: 2025},
		{name: "not applicable", input: "N/A", kind: AvailabilityMalformed},
		{name: "empty", input: "", kind: AvailabilityMalformed},
		{name: "impossible date", input: "32/13/2025", kind: AvailabilityMalformed},
		{name: "wrong format", input: "2025-06-15", kind: AvailabilityMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAvailability(tt.input)
			if got.Kind != tt.kind {
				t.Fatalf("ClassifyAvailability(%q).Kind = %v, want %v", tt.input, got.Kind, tt.kind)
			}
			if tt.kind == AvailabilityDated && (got.Month != tt.month || got.Year != tt.year) {
				t.Fatalf("ClassifyAvailability(%q) = %d/%d, want %d/%d", tt.input, got.Month, got.Year, tt.month, tt.year)
			}
		})
	}
}
