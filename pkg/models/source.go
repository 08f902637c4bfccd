package models

import "time"

// Source is one configured external listing source, as seen by the pipeline.
type Source struct {
	ID               string
	SeedURL          string
	Strategy         StrategyTag
	Enabled          bool
	BlockSelector    string        // Structural hint: posting block selector, or "auto"
	TitleSelector    string        // Structural hint: title element within a block
	NextPageSelector string        // paginated-listing only
	MaxPages         int           // paginated-listing only
	Timeout          time.Duration // Per-request fetch timeout
	MaxRetries       int
	UserAgent        string
	DelayPerHost     time.Duration
	RespectRobots    bool
	SkipTitles       []string // Regex patterns; blocks whose title matches are not postings
	LastScan         time.Time
}

// Page is one retrieved HTTP body.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// RawDocument is the fetched content of a source for one visit. Listing
// sources carry one Page per followed page; other strategies carry exactly one.
// RawDocuments are never persisted.
type RawDocument struct {
	SourceID    string
	Strategy    StrategyTag
	RetrievedAt time.Time
	ContentType string
	Pages       []Page
}

// FinalURL returns the URL of the first page after redirects.
func (d *RawDocument) FinalURL() string {
	if d == nil || len(d.Pages) == 0 {
		return ""
	}
	return d.Pages[0].URL
}

// Size returns the total body size across all pages.
func (d *RawDocument) Size() int {
	if d == nil {
		return 0
	}
	total := 0
	for _, p := range d.Pages {
		total += len(p.Body)
	}
	return total
}
