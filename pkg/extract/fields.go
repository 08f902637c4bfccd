package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/models"
)

const (
	maxTitleRunes = 200

	eligibilityEntryName = "Requirement"
	feeEntryName         = "Fee"

	FieldTitle              = "title"
	FieldEligibility        = "eligibility"
	FieldFees               = "fees"
	FieldApplicationProcess = "application_process"
	FieldLinks              = "links"
	FieldSummary            = "summary"
)

// fieldPass derives the structured fields of one posting block
type fieldPass struct {
	cleaner    *textCleaner
	skipTitles []*regexp.Regexp
	strategy   models.StrategyTag
	log        *logrus.Entry
}

// sections groups a block's lines by the field heading they appear under
type sections struct {
	lines  map[section][]string
	seen   map[section]bool
	inline map[section][]models.Entry // "Age limit: 18-27" outside any section
}

func splitSections(lines []line) sections {
	s := sections{
		lines:  make(map[section][]string),
		seen:   make(map[section]bool),
		inline: make(map[section][]models.Entry),
	}
	current := sectionNone
	for _, l := range lines {
		if l.heading {
			current = classifyHeading(l.text)
			s.seen[current] = true
			continue
		}
		// "Application fee: 100" belongs to fees even inside an eligibility section
		if name, value, ok := splitEntry(l.text); ok {
			if sec := classifyHeading(name); (sec == sectionEligibility || sec == sectionFees) && sec != current {
				s.inline[sec] = append(s.inline[sec], models.Entry{Name: name, Value: value})
				continue
			}
		}
		switch current {
		case sectionEligibility, sectionFees, sectionApplication, sectionLinks:
			s.lines[current] = append(s.lines[current], l.text)
		}
	}
	return s
}

// candidate runs the field pass. The boolean is false when the block carries
// nothing that identifies a posting, or its title matches a skip pattern.
func (fp *fieldPass) candidate(b Block, sourceID string, titleSelector string) (*models.JobCandidate, bool) {
	c := &models.JobCandidate{
		SourceID:    sourceID,
		ExtractedBy: "rules/" + string(fp.strategy),
	}
	if b.PageURL != nil {
		c.SourceURL = b.PageURL.String()
	}

	lines := flatten(b.Node, fp.cleaner)
	secs := splitSections(lines)

	fp.guard(c, FieldTitle, func() {
		c.Title = models.KnownText(fp.title(b, lines, titleSelector))
	})
	if c.Title.IsKnown() && fp.skipTitle(c.Title.Value) {
		fp.log.WithField("title", c.Title.Value).Debug("Block title matches a skip pattern")
		return nil, false
	}

	fp.guard(c, FieldEligibility, func() {
		var degraded bool
		c.Eligibility, degraded = mappingField(secs, sectionEligibility, eligibilityEntryName)
		if degraded {
			c.Degraded = append(c.Degraded, FieldEligibility)
		}
	})
	fp.guard(c, FieldFees, func() {
		var degraded bool
		c.Fees, degraded = mappingField(secs, sectionFees, feeEntryName)
		if degraded {
			c.Degraded = append(c.Degraded, FieldFees)
		}
	})
	fp.guard(c, FieldApplicationProcess, func() {
		c.ApplicationProcess = stepsField(secs.lines[sectionApplication])
		if !c.ApplicationProcess.IsKnown() && secs.seen[sectionApplication] {
			c.Degraded = append(c.Degraded, FieldApplicationProcess)
		}
	})
	fp.guard(c, FieldLinks, func() {
		c.Links = extractLinks(b.Node, b.PageURL)
	})

	if !c.Title.IsKnown() &&
		c.Eligibility.State == models.FieldUnknown &&
		c.Fees.State == models.FieldUnknown &&
		c.ApplicationProcess.State == models.FieldUnknown {
		return nil, false
	}
	if !c.Title.IsKnown() {
		c.Degraded = append(c.Degraded, FieldTitle)
	}

	fp.guard(c, FieldSummary, func() {
		c.Summary = summarize(b.Node)
	})
	return c, true
}

// guard runs one field extractor. A panic degrades that field only.
func (fp *fieldPass) guard(c *models.JobCandidate, field string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			fp.log.WithFields(logrus.Fields{"field": field, "panic": fmt.Sprint(r)}).Warn("Field extraction failed, marking unknown")
			c.Degraded = append(c.Degraded, field)
		}
	}()
	fn()
}

func (fp *fieldPass) title(b Block, lines []line, titleSelector string) string {
	if titleSelector != "" {
		if t := fp.cleaner.Clean(innerHTML(b.Node.Find(titleSelector).First())); t != "" {
			return trimTitle(t)
		}
	}
	if b.Title != "" {
		return trimTitle(b.Title)
	}
	for _, l := range lines {
		if l.heading {
			if classifyHeading(l.text) != sectionOther {
				break // The block starts with a field section, there is no title line
			}
			return trimTitle(l.text)
		}
		if utf8.RuneCountInString(l.text) <= maxTitleRunes {
			return trimTitle(l.text)
		}
		break
	}
	return ""
}

func (fp *fieldPass) skipTitle(title string) bool {
	for _, re := range fp.skipTitles {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}

func trimTitle(t string) string {
	t = collapse(strings.TrimSuffix(collapse(t), ":"))
	if utf8.RuneCountInString(t) > maxTitleRunes {
		t = string([]rune(t)[:maxTitleRunes])
	}
	return t
}

// mappingField builds eligibility or fees from section lines and inline
// entries. The source counts as stating "none" when the only statements are
// none values under a generic name. Returns degraded=true when a section for
// the field exists but nothing in it could be parsed.
func mappingField(secs sections, sec section, defaultName string) (models.MappingField, bool) {
	var entries []models.Entry
	noneStated := false
	for _, text := range secs.lines[sec] {
		if isNoneValue(text) {
			noneStated = true
			continue
		}
		if name, value, ok := splitEntry(text); ok {
			entries = append(entries, models.Entry{Name: name, Value: value})
			continue
		}
		entries = append(entries, models.Entry{Name: defaultName, Value: text})
	}
	entries = append(entries, secs.inline[sec]...)

	if len(entries) > 0 {
		allNone := true
		for _, e := range entries {
			if !isNoneValue(e.Value) || (classifyHeading(e.Name) != sec && e.Name != defaultName) {
				allNone = false
				break
			}
		}
		if allNone {
			return models.EmptyMapping(), false
		}
		return models.KnownMapping(entries...), false
	}
	if noneStated {
		return models.EmptyMapping(), false
	}
	return models.MappingField{State: models.FieldUnknown}, secs.seen[sec]
}

func stepsField(lines []string) models.StepsField {
	steps := make([]string, 0, len(lines))
	for _, text := range lines {
		if step := stripEnumeration(text); step != "" {
			steps = append(steps, step)
		}
	}
	return models.KnownSteps(steps...)
}

// summarize renders the block as Markdown for display
func summarize(node *goquery.Selection) string {
	clone := node.Clone()
	clone.Find("script, style, noscript, template, svg, nav, form").Remove()
	html, err := goquery.OuterHtml(clone)
	if err != nil {
		return ""
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(markdown)
}
