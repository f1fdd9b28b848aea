// Package priceparse converts locale-variant price strings to decimal values.
//
// Input strings come from scraped DOM text and may carry currency glyphs,
// thousands separators in either convention ("1,849.00" or "1.849,00"),
// and surrounding noise. Parsing never panics on malformed input.
package priceparse

import (
	"math"
	"strconv"
	"strings"
)

const (
	// MinPrice and MaxPrice bound plausible machine prices. Values outside
	// this range are rejected as parse noise (years, SKUs, percentages).
	MinPrice = 1
	MaxPrice = 100000
)

// Parse extracts the first monetary value from s.
// Returns the parsed price and true, or 0 and false when no plausible
// price is present.
func Parse(s string) (float64, bool) {
	return parse(s, false)
}

// ParseAttr parses a value taken from a data attribute (data-price,
// content="..."). Attribute values on many storefronts are integer cents:
// a pure run of 5+ digits with no separators is divided by 100.
func ParseAttr(s string) (float64, bool) {
	return parse(s, true)
}

func parse(s string, attrMode bool) (float64, bool) {
	run := numericRun(s)
	if run == "" {
		return 0, false
	}

	hasComma := strings.Contains(run, ",")
	hasDot := strings.Contains(run, ".")

	var normalized string
	switch {
	case hasComma && hasDot:
		// The rightmost separator is the decimal point; the other is a
		// thousands separator.
		if strings.LastIndex(run, ",") > strings.LastIndex(run, ".") {
			normalized = strings.ReplaceAll(run, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			normalized = strings.ReplaceAll(run, ",", "")
		}
	case hasComma:
		// "1849,00" is decimal; "1,849" and "1,849,000" are thousands.
		last := strings.LastIndex(run, ",")
		if len(run)-last-1 == 2 {
			normalized = strings.ReplaceAll(run[:last], ",", "") + "." + run[last+1:]
		} else {
			normalized = strings.ReplaceAll(run, ",", "")
		}
	default:
		normalized = run
	}

	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}

	if attrMode && !hasComma && !hasDot && len(run) >= 5 {
		// Integer cents: "184900" means $1849.00.
		value /= 100
	}

	value = Round(value)
	if value < MinPrice || value > MaxPrice {
		return 0, false
	}
	return value, true
}

// numericRun strips currency glyphs and whitespace, then returns the first
// contiguous run of digits, commas, and dots. Leading/trailing separators
// are trimmed so ".99" and "1849." parse as expected.
func numericRun(s string) string {
	cleaned := strings.TrimSpace(s)
	for _, glyph := range []string{"$", "€", "£", "¥"} {
		cleaned = strings.ReplaceAll(cleaned, glyph, "")
	}

	start := -1
	end := -1
	for i, r := range cleaned {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			if start == -1 {
				start = i
			}
			end = i + 1
		} else if start != -1 {
			break
		}
	}
	if start == -1 {
		return ""
	}
	return strings.Trim(cleaned[start:end], ",.")
}

// Round rounds to two decimal places (cents).
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

// Format renders a price the way product pages do: thousands separators
// and two decimal places. Parse(Format(p)) == p for p in [MinPrice, MaxPrice].
func Format(v float64) string {
	v = Round(v)
	whole := int64(v)
	cents := int64(math.Round((v - float64(whole)) * 100))
	if cents < 0 {
		cents = -cents
	}

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteByte('.')
	if cents < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(cents, 10))
	return b.String()
}
