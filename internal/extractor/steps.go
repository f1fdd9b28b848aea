package extractor

import (
	"regexp"
	"strings"

	"github.com/machlab/pricewatch/internal/siterules"
)

var wattagePattern = regexp.MustCompile(`(\d+)\s*[Ww]\b`)

// variantSteps returns the click sequence for a machine: the variant rule's
// declarative steps when configured, otherwise steps derived from the
// machine name.
func variantSteps(req *Request) []siterules.Step {
	if req.VariantRule != nil && len(req.VariantRule.Steps) > 0 {
		return req.VariantRule.Steps
	}
	return derivedSteps(req.Machine.Name)
}

// derivedSteps infers a selection sequence from the machine name alone.
// Wattage is the most common variant axis ("B6 30W" needs the 30W button
// clicked); a trailing model suffix maps to a tab.
func derivedSteps(machineName string) []siterules.Step {
	var steps []siterules.Step

	if m := wattagePattern.FindStringSubmatch(machineName); m != nil {
		steps = append(steps, siterules.Step{
			Action:         "click_text",
			SelectorOrText: m[1] + `\s*[Ww]`,
			WaitMs:         3000,
		})
	}

	if suffix := modelSuffix(machineName); suffix != "" {
		steps = append(steps, siterules.Step{
			Action:         "click_text",
			SelectorOrText: regexp.QuoteMeta(suffix),
			WaitMs:         2000,
		})
	}

	return steps
}

// modelSuffix picks the last name token that looks like a model designator
// (mixed letters and digits, like "ST50R" or "B6"). Wattage tokens are
// handled separately.
func modelSuffix(machineName string) string {
	fields := strings.Fields(machineName)
	for i := len(fields) - 1; i >= 0; i-- {
		tok := fields[i]
		if wattagePattern.MatchString(tok) {
			continue
		}
		if hasLetterAndDigit(tok) {
			return tok
		}
	}
	return ""
}

func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letter = true
		}
	}
	return letter && digit
}
