package detect

import (
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

func newTestDetector() *Detector {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewDetector(logrus.NewEntry(log))
}

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}
	return doc
}

func TestIsAutoSelector(t *testing.T) {
	tests := []struct {
		selector string
		want     bool
	}{
		{"auto", true},
		{"AUTO", true},
		{"Auto", true},
		{"", true},
		{"table tr", false},
		{"article", false},
		{"automatic", false},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			if got := IsAutoSelector(tt.selector); got != tt.want {
				t.Errorf("IsAutoSelector(%q) = %v, want %v", tt.selector, got, tt.want)
			}
		})
	}
}

func TestDetectListing_S3WaaSTable(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Recruitment | District Portal</title></head>
<body class="s3waas-theme">
<table class="data-table-1">
<thead><tr><th>Title</th><th>Start</th><th>Document</th></tr></thead>
<tbody>
<tr><td>Recruitment of Staff Nurse 2024</td><td>01/03/2024</td><td><a href="/notice1.pdf">View (120 KB)</a></td></tr>
<tr><td>Walk-in interview for Data Entry Operator</td><td>05/03/2024</td><td><a href="/notice2.pdf">View (88 KB)</a></td></tr>
</tbody>
</table>
</body>
</html>`

	pageURL, _ := url.Parse("https://district.example.gov.in/recruitment/")
	result := newTestDetector().DetectListing(parseDoc(t, html), pageURL)

	if result.Layout != LayoutS3WaaS {
		t.Errorf("Expected layout %s, got %s", LayoutS3WaaS, result.Layout)
	}
	if result.Fallback || result.Selector == "" {
		t.Errorf("Expected a listing selector, got %+v", result)
	}
}

func TestDetectListing_WordPressJobManager(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><link rel="stylesheet" href="/wp-content/themes/x/style.css"></head>
<body>
<ul class="job_listings">
<li class="job_listing"><a href="/job/clerk">Junior Clerk at City Council, apply by 30 March</a></li>
<li class="job_listing"><a href="/job/driver">Driver at Transport Office, apply by 2 April</a></li>
<li class="job_listing"><a href="/job/teacher">Primary Teacher at Block School, apply by 5 April</a></li>
</ul>
</body>
</html>`

	pageURL, _ := url.Parse("https://jobs.example.org/")
	result := newTestDetector().DetectListing(parseDoc(t, html), pageURL)

	if result.Layout != LayoutWordPress {
		t.Errorf("Expected layout %s, got %s", LayoutWordPress, result.Layout)
	}
	if result.Selector != "ul.job_listings li.job_listing" {
		t.Errorf("Unexpected selector %q", result.Selector)
	}
}

func TestDetectListing_GenericFallbackToArticles(t *testing.T) {
	html := `<html><body>
<article><h2><a href="/a">Assistant Engineer posts announced</a></h2><p>Apply before May.</p></article>
<article><h2><a href="/b">Lab Technician vacancies open</a></h2><p>Apply before June.</p></article>
</body></html>`

	pageURL, _ := url.Parse("https://board.example.com/notices")
	result := newTestDetector().DetectListing(parseDoc(t, html), pageURL)

	if result.Layout != LayoutGeneric || result.Selector != "article" {
		t.Errorf("Expected generic article selector, got %+v", result)
	}
}

func TestDetectListing_NoRepeatedEntries(t *testing.T) {
	html := `<html><body><div><p>No vacancies at present.</p></div></body></html>`

	pageURL, _ := url.Parse("https://empty.example.com/")
	result := newTestDetector().DetectListing(parseDoc(t, html), pageURL)

	if !result.Fallback {
		t.Errorf("Expected fallback for a page without entries, got %+v", result)
	}
}

func TestDetectMain_DrupalNode(t *testing.T) {
	html := `<html><body data-drupal-selector="page">
<main><div class="node__content"><h1>Recruitment Notice</h1><p>Details here.</p></div></main>
</body></html>`

	pageURL, _ := url.Parse("https://portal.example.gov/node/12")
	result := newTestDetector().DetectMain(parseDoc(t, html), pageURL)

	if result.Layout != LayoutDrupal || result.Selector != ".node__content" {
		t.Errorf("Expected Drupal node content, got %+v", result)
	}
}

func TestDetectMain_UnknownFallback(t *testing.T) {
	html := `<html><head><title>Plain</title></head><body><div id="x"><p>Text</p></div></body></html>`

	pageURL, _ := url.Parse("https://plain.example.com/page")
	result := newTestDetector().DetectMain(parseDoc(t, html), pageURL)

	if result.Layout != LayoutUnknown || !result.Fallback {
		t.Errorf("Expected readability fallback, got %+v", result)
	}
}

func TestCaching(t *testing.T) {
	html := `<html><body><article><a href="/1">First posting with text</a></article><article><a href="/2">Second posting with text</a></article></body></html>`

	detector := newTestDetector()
	pageURL1, _ := url.Parse("https://example.com/jobs?page=1")
	pageURL2, _ := url.Parse("https://example.com/jobs?page=2")

	result1 := detector.DetectListing(parseDoc(t, html), pageURL1)
	// A second page with different markup still gets the cached answer for the host
	result2 := detector.DetectListing(parseDoc(t, "<html><body></body></html>"), pageURL2)

	if result1 != result2 {
		t.Errorf("Expected cached result %+v, got %+v", result1, result2)
	}
	if detector.cache.Size() != 1 {
		t.Errorf("Expected cache size 1, got %d", detector.cache.Size())
	}

	detector.Reset()
	if detector.cache.Size() != 0 {
		t.Errorf("Expected empty cache after reset, got %d", detector.cache.Size())
	}
}

func TestMainContent_Readability(t *testing.T) {
	html := `<html><head><title>Recruitment of Field Assistants</title></head><body>
<nav><a href="/">Home</a> | <a href="/about">About</a></nav>
<div class="wrapper"><div class="story">
<h1>Recruitment of Field Assistants</h1>
<p>The department invites applications from eligible candidates for the post of Field Assistant on a contract basis for a period of one year.</p>
<p>Candidates must hold a graduate degree in agriculture or a related discipline from a recognised university and must be between 21 and 35 years of age.</p>
<p>Applications must be submitted online through the recruitment portal on or before the last date mentioned in the notification.</p>
<p>Shortlisted candidates will be called for a document verification round followed by a personal interview at the district office, and the final merit list will be published on the department website.</p>
</div></div>
<footer>Copyright</footer>
</body></html>`

	pageURL, _ := url.Parse("https://agri.example.gov/notice")
	content, title, err := MainContent(parseDoc(t, html), pageURL)
	if err != nil {
		t.Fatalf("MainContent failed: %v", err)
	}
	if !strings.Contains(content.Text(), "graduate degree in agriculture") {
		t.Errorf("Expected article text in content, got %q", content.Text())
	}
	if title == "" {
		t.Error("Expected a title")
	}
}
