package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// line is one visual line of a posting block
type line struct {
	text    string
	heading bool
}

const (
	maxHeadingRunes      = 80
	maxColonHeadingRunes = 60
)

var (
	skippedTags = map[string]bool{
		"script": true, "style": true, "noscript": true, "nav": true,
		"iframe": true, "svg": true, "form": true, "button": true, "template": true,
	}
	blockTags = map[string]bool{
		"p": true, "li": true, "tr": true, "dt": true, "dd": true, "div": true,
		"section": true, "article": true, "header": true, "footer": true, "main": true,
		"aside": true, "blockquote": true, "ul": true, "ol": true, "dl": true,
		"table": true, "thead": true, "tbody": true, "tfoot": true, "pre": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"td": true, "th": true, "figure": true, "figcaption": true, "center": true,
	}
	blockSelector = "p, li, tr, dt, dd, div, section, article, header, footer, main, aside, blockquote, ul, ol, dl, table, thead, tbody, tfoot, pre, h1, h2, h3, h4, h5, h6, figure, figcaption, center"
)

// flatten turns a block into lines in document order. Table rows become
// "first cell: other cells" lines, emphasized or colon-terminated short lines
// and h1-h6 are marked as headings.
func flatten(root *goquery.Selection, cleaner *textCleaner) []line {
	var out []line
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Children().Each(func(_ int, c *goquery.Selection) {
			tag := goquery.NodeName(c)
			switch {
			case skippedTags[tag]:
				return
			case tag == "tr":
				out = append(out, rowLines(c, cleaner)...)
			case isHeadingTag(tag):
				if text := strings.TrimSuffix(cleaner.Clean(innerHTML(c)), ":"); text != "" {
					out = append(out, line{text: strings.TrimSpace(text), heading: true})
				}
			case !blockTags[tag]:
				// Inline content is emitted with its parent
			case c.Children().Filter(blockSelector).Length() > 0:
				own := c.Clone()
				own.Children().Filter(blockSelector).Remove()
				out = append(out, leafLines(own, cleaner)...)
				walk(c)
			default:
				out = append(out, leafLines(c, cleaner)...)
			}
		})
	}

	// The root itself may be a leaf, e.g. a listing entry that is a single <li>.
	tag := goquery.NodeName(root)
	switch {
	case tag == "tr":
		out = append(out, rowLines(root, cleaner)...)
	case root.Children().Filter(blockSelector).Length() == 0:
		out = append(out, leafLines(root, cleaner)...)
	default:
		own := root.Clone()
		own.Children().Filter(blockSelector).Remove()
		out = append(out, leafLines(own, cleaner)...)
		walk(root)
	}
	return out
}

func leafLines(s *goquery.Selection, cleaner *textCleaner) []line {
	stripSkipped(s)
	texts := cleaner.CleanLines(innerHTML(s))
	if len(texts) == 0 {
		return nil
	}
	out := make([]line, 0, len(texts))
	emphasized := ""
	if len(texts) == 1 {
		emphasized = cleaner.Clean(innerHTMLAll(s.ChildrenFiltered("strong, b, u")))
	}
	for _, text := range texts {
		l := line{text: text}
		runes := utf8.RuneCountInString(text)
		switch {
		case emphasized != "" && emphasized == text && runes <= maxHeadingRunes:
			l.heading = true
		case strings.HasSuffix(text, ":") && runes <= maxColonHeadingRunes && len(strings.Fields(text)) <= 6:
			l.heading = true
		}
		if l.heading {
			l.text = strings.TrimSpace(strings.TrimSuffix(text, ":"))
		}
		out = append(out, l)
	}
	return out
}

// rowLines renders a table row. Header rows with several cells are column
// labels, not content, and are dropped; a lone header cell is a heading.
func rowLines(row *goquery.Selection, cleaner *textCleaner) []line {
	cells := row.ChildrenFiltered("td, th")
	var texts []string
	cells.Each(func(_ int, c *goquery.Selection) {
		stripSkipped(c)
		if text := strings.Join(cleaner.CleanLines(innerHTML(c)), " "); text != "" {
			texts = append(texts, text)
		}
	})
	if len(texts) == 0 {
		return nil
	}
	if row.ChildrenFiltered("td").Length() == 0 {
		if len(texts) == 1 {
			return []line{{text: strings.TrimSuffix(texts[0], ":"), heading: true}}
		}
		return nil
	}
	if len(texts) == 1 {
		return []line{{text: texts[0]}}
	}
	name := strings.TrimSuffix(texts[0], ":")
	return []line{{text: name + ": " + strings.Join(texts[1:], " | ")}}
}

func stripSkipped(s *goquery.Selection) {
	s.Find("script, style, noscript, template, svg, button, nav").Remove()
}

func isHeadingTag(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

func innerHTML(s *goquery.Selection) string {
	h, err := s.Html()
	if err != nil {
		return ""
	}
	return h
}

func innerHTMLAll(s *goquery.Selection) string {
	var sb strings.Builder
	s.Each(func(_ int, c *goquery.Selection) {
		sb.WriteString(innerHTML(c))
		sb.WriteString(" ")
	})
	return sb.String()
}
