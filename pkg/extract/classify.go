package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// section is the posting field a heading introduces
type section int

const (
	sectionNone section = iota
	sectionEligibility
	sectionFees
	sectionApplication
	sectionLinks
	sectionOther // A heading we do not map to a field; ends the previous section
)

var (
	feeWordRe = regexp.MustCompile(`(?i)\bfees?\b`)

	// noneValueRe matches text stating explicitly that there is nothing
	noneValueRe = regexp.MustCompile(`(?i)^(nil|none|n\.?\s?/?\s?a\.?|not applicable|no fees?|no application fees?|no fee is payable|no fee required|free|free of cost|exempted|not required|-|–|—)\.?$`)

	// enumPrefixRe strips list markers and step numbers from application steps
	enumPrefixRe = regexp.MustCompile(`(?i)^(step\s*\d+\s*[:.)\-–]?|\(?\d{1,2}[.)]|[-*•·▪►])\s*`)

	linkHeadings        = []string{"important link", "useful link", "links"}
	eligibilityKeywords = []string{
		"eligib", "qualification", "age limit", "age criteria", "age relaxation", "age (as on",
		"nationality", "who can apply", "criteria", "educational", "experience required",
	}
	applicationKeywords = []string{
		"how to apply", "application process", "application procedure", "procedure to apply",
		"steps to apply", "mode of application", "apply process", "instructions to apply",
	}
)

// classifyHeading maps a heading (or an entry name) to the field it introduces.
func classifyHeading(text string) section {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, linkHeadings...):
		return sectionLinks
	case feeWordRe.MatchString(lower):
		return sectionFees
	case containsAny(lower, applicationKeywords...):
		return sectionApplication
	case containsAny(lower, eligibilityKeywords...), lower == "age":
		return sectionEligibility
	default:
		return sectionOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isNoneValue reports whether text states that there is nothing, e.g. "Nil".
func isNoneValue(text string) bool {
	return noneValueRe.MatchString(strings.TrimSpace(text))
}

// splitEntry splits "Name: value" style lines. Names are short and never URLs.
func splitEntry(text string) (name, value string, ok bool) {
	for _, sep := range []string{":", " - ", " – ", " — "} {
		i := strings.Index(text, sep)
		if i <= 0 {
			continue
		}
		name = strings.TrimSpace(text[:i])
		value = strings.TrimSpace(text[i+len(sep):])
		if name == "" || value == "" || strings.HasPrefix(value, "//") {
			continue
		}
		if utf8.RuneCountInString(name) > maxColonHeadingRunes {
			continue
		}
		return name, value, true
	}
	return "", "", false
}

// stripEnumeration removes a leading list marker or step number
func stripEnumeration(text string) string {
	return strings.TrimSpace(enumPrefixRe.ReplaceAllString(text, ""))
}
