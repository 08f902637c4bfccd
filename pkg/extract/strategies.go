package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jobscan/jobscan/pkg/detect"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

// Block is one candidate posting located by the structural pass
type Block struct {
	PageURL *url.URL
	Title   string // Title found structurally, empty if the field pass must find one
	Node    *goquery.Selection
}

// Strategy locates posting blocks in a document for one fetch-strategy tag
type Strategy interface {
	Tag() models.StrategyTag
	Blocks(doc *models.RawDocument, src models.Source) ([]Block, error)
}

func parsePage(page models.Page) (*goquery.Document, *url.URL, error) {
	pageURL, err := url.Parse(page.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: page url %q: %w", utils.ErrParsing, page.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: html of %s: %w", utils.ErrParsing, page.URL, err)
	}
	return doc, pageURL, nil
}

// --- static-page ---

// staticPageStrategy treats a page as a single posting
type staticPageStrategy struct {
	detector *detect.Detector
	log      *logrus.Entry
}

func (s *staticPageStrategy) Tag() models.StrategyTag { return models.StrategyStaticPage }

func (s *staticPageStrategy) Blocks(raw *models.RawDocument, src models.Source) ([]Block, error) {
	if len(raw.Pages) == 0 {
		return nil, nil
	}
	doc, pageURL, err := parsePage(raw.Pages[0])
	if err != nil {
		return nil, err
	}
	pageLog := s.log.WithFields(logrus.Fields{"source_id": src.ID, "url": pageURL.String()})

	block := Block{PageURL: pageURL}
	if !detect.IsAutoSelector(src.BlockSelector) {
		block.Node = doc.Find(src.BlockSelector).First()
		if block.Node.Length() == 0 {
			pageLog.WithField("selector", src.BlockSelector).Warn("Block selector not found, using page body")
			block.Node = doc.Find("body")
		}
	} else if result := s.detector.DetectMain(doc, pageURL); !result.Fallback {
		block.Node = doc.Find(result.Selector).First()
	} else if content, title, rErr := detect.MainContent(doc, pageURL); rErr == nil {
		block.Node = content
		block.Title = title
	} else {
		pageLog.WithError(rErr).Debug("Readability failed, using page body")
		block.Node = doc.Find("body")
	}

	if h1 := collapse(block.Node.Find("h1").First().Text()); h1 != "" {
		block.Title = h1
	} else if h1 := collapse(doc.Find("h1").First().Text()); h1 != "" {
		block.Title = h1
	} else if block.Title == "" {
		block.Title = collapse(doc.Find("title").First().Text())
	}
	return []Block{block}, nil
}

// --- paginated-listing ---

// listingStrategy yields one block per repeated entry on every fetched page
type listingStrategy struct {
	detector *detect.Detector
	log      *logrus.Entry
}

func (s *listingStrategy) Tag() models.StrategyTag { return models.StrategyPaginatedListing }

func (s *listingStrategy) Blocks(raw *models.RawDocument, src models.Source) ([]Block, error) {
	var blocks []Block
	for _, page := range raw.Pages {
		doc, pageURL, err := parsePage(page)
		if err != nil {
			return nil, err
		}

		selector := src.BlockSelector
		if detect.IsAutoSelector(selector) {
			result := s.detector.DetectListing(doc, pageURL)
			if result.Fallback {
				s.log.WithFields(logrus.Fields{"source_id": src.ID, "url": pageURL.String()}).Debug("No listing entries detected on page")
				continue
			}
			selector = result.Selector
		}

		doc.Find(selector).Each(func(_ int, entry *goquery.Selection) {
			if goquery.NodeName(entry) == "tr" && entry.ChildrenFiltered("td").Length() == 0 {
				return // Column header row
			}
			blocks = append(blocks, Block{PageURL: pageURL, Title: entryTitle(entry), Node: entry})
		})
	}
	return blocks, nil
}

// entryTitle picks the most title-like text of a listing entry
func entryTitle(entry *goquery.Selection) string {
	if goquery.NodeName(entry) == "tr" {
		var title string
		entry.ChildrenFiltered("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
			title = collapse(td.Text())
			return title == "" || isSerialNumber(title)
		})
		if isSerialNumber(title) {
			return ""
		}
		return title
	}
	for _, sel := range []string{"h1, h2, h3, h4, h5, h6", ".title, .job-title, [class*='title']", "a[href]", "strong, b"} {
		if t := collapse(entry.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func isSerialNumber(s string) bool {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	if s == "" || len(s) > 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// --- markdown-document ---

// markdownStrategy renders a Markdown document and yields one block per section
type markdownStrategy struct {
	md  goldmark.Markdown
	log *logrus.Entry
}

func newMarkdownStrategy(log *logrus.Entry) *markdownStrategy {
	return &markdownStrategy{
		md:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		log: log,
	}
}

func (s *markdownStrategy) Tag() models.StrategyTag { return models.StrategyMarkdownDocument }

func (s *markdownStrategy) Blocks(raw *models.RawDocument, src models.Source) ([]Block, error) {
	var blocks []Block
	for _, page := range raw.Pages {
		pageURL, err := url.Parse(page.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: page url %q: %w", utils.ErrParsing, page.URL, err)
		}
		var buf bytes.Buffer
		if err := s.md.Convert(page.Body, &buf); err != nil {
			return nil, fmt.Errorf("%w: markdown of %s: %w", utils.ErrParsing, page.URL, err)
		}
		doc, err := goquery.NewDocumentFromReader(&buf)
		if err != nil {
			return nil, fmt.Errorf("%w: rendered markdown of %s: %w", utils.ErrParsing, page.URL, err)
		}
		pageBlocks, err := splitByHeading(doc, pageURL)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, pageBlocks...)
	}
	return blocks, nil
}

// splitByHeading cuts a rendered document into postings at the shallowest
// heading level that occurs more than once and names no field section. A
// document without such a level is a single posting.
func splitByHeading(doc *goquery.Document, pageURL *url.URL) ([]Block, error) {
	body := doc.Find("body")
	level := 0
	for l := 1; l <= 6; l++ {
		if headings := body.ChildrenFiltered(fmt.Sprintf("h%d", l)); headings.Length() > 1 && !namesFieldSection(headings) {
			level = l
			break
		}
	}
	if level == 0 {
		title := body.Find("h1").First()
		if title.Length() == 0 {
			title = body.Find("h1, h2, h3").First()
		}
		return []Block{{PageURL: pageURL, Title: collapse(title.Text()), Node: body}}, nil
	}

	splitTag := fmt.Sprintf("h%d", level)
	var blocks []Block
	var current *strings.Builder
	var title string
	flush := func() error {
		if current == nil {
			return nil
		}
		sectionDoc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div class="md-section">` + current.String() + `</div>`))
		if err != nil {
			return fmt.Errorf("%w: markdown section %q: %w", utils.ErrParsing, title, err)
		}
		blocks = append(blocks, Block{PageURL: pageURL, Title: title, Node: sectionDoc.Find("div.md-section").First()})
		return nil
	}

	var flushErr error
	body.Children().Each(func(_ int, child *goquery.Selection) {
		if flushErr != nil {
			return
		}
		tag := goquery.NodeName(child)
		if isHeadingTag(tag) && tag[1]-'0' <= byte(level) {
			if flushErr = flush(); flushErr != nil {
				return
			}
			current = nil
			if tag == splitTag {
				current = &strings.Builder{}
				title = collapse(child.Text())
			}
			return
		}
		if current != nil {
			if h, err := goquery.OuterHtml(child); err == nil {
				current.WriteString(h)
			}
		}
	})
	if flushErr != nil {
		return nil, flushErr
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// namesFieldSection reports whether any of the headings introduces a posting
// field such as eligibility or fees
func namesFieldSection(headings *goquery.Selection) bool {
	found := false
	headings.EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if classifyHeading(collapse(h.Text())) != sectionOther {
			found = true
		}
		return !found
	})
	return found
}
