package detect

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Layout represents a detected publishing platform
type Layout string

const (
	LayoutUnknown   Layout = "unknown"
	LayoutS3WaaS    Layout = "s3waas"
	LayoutWordPress Layout = "wordpress"
	LayoutDrupal    Layout = "drupal"
	LayoutJoomla    Layout = "joomla"
	LayoutGeneric   Layout = "generic" // No platform matched, selector found by structure
)

// minListingEntries is how many linked entries a selector must match to count as a listing
const minListingEntries = 2

// DetectionResult contains the result of selector detection
type DetectionResult struct {
	Layout   Layout // Detected layout (or unknown)
	Selector string // CSS selector, empty when Fallback is set
	Fallback bool   // True if no selector applies: readability for detail pages, whole page for listings
}

// Detector finds posting block selectors for sources configured with "auto"
type Detector struct {
	cache *SelectorCache
	log   *logrus.Entry
}

// NewDetector creates a new detector with caching
func NewDetector(log *logrus.Entry) *Detector {
	return &Detector{
		cache: NewSelectorCache(),
		log:   log,
	}
}

// DetectMain determines the selector of the main content area of a detail page.
// Results are cached per host.
func (d *Detector) DetectMain(doc *goquery.Document, pageURL *url.URL) DetectionResult {
	cacheKey := "main:" + pageURL.Hostname()
	if cached, ok := d.cache.Get(cacheKey); ok {
		return cached
	}

	html, _ := doc.Html()
	for _, sig := range layoutSignatures {
		if !sig.Matches(doc, html) {
			continue
		}
		if sel := firstMatching(doc, sig.MainSelector); sel != "" {
			result := DetectionResult{Layout: sig.Layout, Selector: sel}
			d.log.WithFields(logrus.Fields{"host": pageURL.Hostname(), "layout": sig.Layout, "selector": sel}).Debug("Detected main content selector")
			d.cache.Set(cacheKey, result)
			return result
		}
	}

	result := DetectionResult{Layout: LayoutUnknown, Fallback: true}
	d.log.WithField("host", pageURL.Hostname()).Debug("No layout detected, will use readability extraction")
	d.cache.Set(cacheKey, result)
	return result
}

// DetectListing determines the selector of repeated posting entries on a
// listing page. A selector qualifies when it matches at least two entries
// that each carry a link. Results are cached per host.
func (d *Detector) DetectListing(doc *goquery.Document, pageURL *url.URL) DetectionResult {
	cacheKey := "listing:" + pageURL.Hostname()
	if cached, ok := d.cache.Get(cacheKey); ok {
		return cached
	}

	html, _ := doc.Html()
	result := DetectionResult{Layout: LayoutUnknown, Fallback: true}
	for _, sig := range layoutSignatures {
		if !sig.Matches(doc, html) {
			continue
		}
		for _, sel := range splitSelectorList(sig.ListingSelector) {
			if countLinkedEntries(doc.Find(sel)) >= minListingEntries {
				result = DetectionResult{Layout: sig.Layout, Selector: sel}
				break
			}
		}
		if !result.Fallback {
			break
		}
	}

	if result.Fallback {
		for _, sel := range genericListingSelectors {
			if countLinkedEntries(doc.Find(sel)) >= minListingEntries {
				result = DetectionResult{Layout: LayoutGeneric, Selector: sel}
				break
			}
		}
	}

	d.log.WithFields(logrus.Fields{
		"host": pageURL.Hostname(), "layout": result.Layout, "selector": result.Selector, "fallback": result.Fallback,
	}).Debug("Listing detection finished")
	d.cache.Set(cacheKey, result)
	return result
}

// Reset drops cached detections, e.g. between scan cycles
func (d *Detector) Reset() {
	d.cache.Clear()
}

// firstMatching returns the first selector of a comma separated list that matches the document
func firstMatching(doc *goquery.Document, selectorList string) string {
	for _, sel := range splitSelectorList(selectorList) {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}
	return ""
}

func splitSelectorList(list string) []string {
	parts := strings.Split(list, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// countLinkedEntries counts entries that contain a link and some text beyond a bare label
func countLinkedEntries(sel *goquery.Selection) int {
	count := 0
	sel.Each(func(_ int, s *goquery.Selection) {
		if s.Find("a[href]").Length() == 0 {
			return
		}
		if len(strings.Fields(s.Text())) >= 3 {
			count++
		}
	})
	return count
}

// IsAutoSelector returns true if the selector value indicates auto-detection
func IsAutoSelector(selector string) bool {
	return selector == "" || strings.EqualFold(selector, "auto")
}
