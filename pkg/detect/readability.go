package detect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// MainContent isolates the main content of a detail page using Mozilla's
// Readability algorithm. It is the fallback when no layout selector applies.
// Returns the content as a selection and the article title.
func MainContent(doc *goquery.Document, pageURL *url.URL) (*goquery.Selection, string, error) {
	html, err := doc.Html()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get HTML from document: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("readability extraction failed: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return nil, "", fmt.Errorf("readability extracted empty content")
	}

	contentDoc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse readability content: %w", err)
	}

	// Readability wraps its output in a single container
	content := contentDoc.Find("body")
	if content.Children().Length() == 1 {
		content = content.Children().First()
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return content, title, nil
}
