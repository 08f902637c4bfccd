package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/parse"
	"github.com/jobscan/jobscan/pkg/utils"
)

const defaultNextPageSelector = "a[rel='next'], link[rel='next']"

// SourceFetcher retrieves the RawDocument for one source visit, applying the
// per-host politeness controls shared by every source in the engine.
type SourceFetcher struct {
	fetcher *Fetcher
	base    RetryPolicy
	limiter *RateLimiter
	hosts   *HostSemaphorePool
	robots  *RobotsChecker // nil = never consult robots.txt
	clock   clock.Clock
	log     *logrus.Entry
}

// NewSourceFetcher wires the politeness controls around fetcher. base supplies
// backoff delays; per-source retry counts and timeouts override it.
func NewSourceFetcher(
	fetcher *Fetcher,
	base RetryPolicy,
	limiter *RateLimiter,
	hosts *HostSemaphorePool,
	robots *RobotsChecker,
	clk clock.Clock,
	log *logrus.Entry,
) *SourceFetcher {
	if clk == nil {
		clk = clock.WallClock
	}
	return &SourceFetcher{
		fetcher: fetcher,
		base:    base,
		limiter: limiter,
		hosts:   hosts,
		robots:  robots,
		clock:   clk,
		log:     log,
	}
}

// Fetch retrieves the source's seed page and, for paginated listings, follows
// next-page links on the same host up to MaxPages. A failure on the seed page
// fails the visit; a failure on a later page ends pagination and keeps the
// pages already retrieved. Failures are returned as *FetchError.
func (sf *SourceFetcher) Fetch(ctx context.Context, src models.Source) (*models.RawDocument, error) {
	srcLog := sf.log.WithFields(logrus.Fields{"source_id": src.ID, "strategy": src.Strategy})

	seed := parse.Sanitize(src.SeedURL)
	seedURL, err := url.Parse(seed)
	if seed == "" || err != nil || (seedURL.Scheme != "http" && seedURL.Scheme != "https") || seedURL.Host == "" {
		return nil, &FetchError{
			SourceID: src.ID,
			URL:      src.SeedURL,
			Err:      fmt.Errorf("%w: seed url %q is not fetchable", utils.ErrInvalidURL, src.SeedURL),
		}
	}

	policy := sf.base
	policy.MaxRetries = src.MaxRetries
	if src.Timeout > 0 {
		policy.AttemptTimeout = src.Timeout
	}

	doc := &models.RawDocument{
		SourceID:    src.ID,
		Strategy:    src.Strategy,
		RetrievedAt: sf.clock.Now(),
	}

	maxPages := 1
	if src.Strategy == models.StrategyPaginatedListing && src.MaxPages > 1 {
		maxPages = src.MaxPages
	}

	visited := make(map[string]bool, maxPages)
	next := seedURL
	for next != nil && len(doc.Pages) < maxPages {
		normalized := parse.NormalizeURL(next)
		if visited[normalized] {
			srcLog.WithField("url", next.String()).Debug("Pagination loop detected, stopping")
			break
		}
		visited[normalized] = true

		resp, pageErr := sf.fetchPage(ctx, src, next, policy)
		if pageErr != nil {
			if len(doc.Pages) == 0 {
				return nil, pageErr
			}
			srcLog.WithError(pageErr).WithField("pages", len(doc.Pages)).Warn("Pagination stopped by fetch failure")
			break
		}

		finalURL := resp.FinalURL
		if finalURL == "" {
			finalURL = next.String()
		}
		doc.Pages = append(doc.Pages, models.Page{URL: finalURL, StatusCode: resp.StatusCode, Body: resp.Body})
		if doc.ContentType == "" {
			doc.ContentType = resp.Header.Get("Content-Type")
		}
		if resp.Truncated {
			srcLog.WithField("url", finalURL).Warn("Response body truncated at size limit")
		}

		if len(doc.Pages) >= maxPages {
			break
		}
		next = findNextPage(resp.Body, finalURL, seedURL, src.NextPageSelector)
	}

	srcLog.WithFields(logrus.Fields{"pages": len(doc.Pages), "bytes": doc.Size()}).Debug("Source fetched")
	return doc, nil
}

// fetchPage runs one page through robots, host semaphore, rate limit and retry.
func (sf *SourceFetcher) fetchPage(ctx context.Context, src models.Source, target *url.URL, policy RetryPolicy) (*Response, error) {
	host := target.Hostname()

	if src.RespectRobots && sf.robots != nil && !sf.robots.Allowed(ctx, target, src.UserAgent) {
		return nil, &FetchError{
			SourceID: src.ID,
			URL:      target.String(),
			Err:      fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, target.Path),
		}
	}

	if sf.hosts != nil {
		if err := sf.hosts.Acquire(ctx, host); err != nil {
			return nil, &FetchError{
				SourceID: src.ID,
				URL:      target.String(),
				Err:      fmt.Errorf("%w: host %s: %w", utils.ErrSemaphoreTimeout, host, err),
			}
		}
		defer sf.hosts.Release(host)
	}

	if sf.limiter != nil {
		if err := sf.limiter.ApplyDelay(ctx, host, src.DelayPerHost); err != nil {
			return nil, &FetchError{SourceID: src.ID, URL: target.String(), Err: err}
		}
		defer sf.limiter.UpdateLastRequestTime(host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &FetchError{
			SourceID: src.ID,
			URL:      target.String(),
			Err:      fmt.Errorf("%w: %w", utils.ErrRequestCreation, err),
		}
	}
	if src.UserAgent != "" {
		req.Header.Set("User-Agent", src.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown,text/plain;q=0.9,*/*;q=0.8")

	resp, err := sf.fetcher.FetchWithRetry(ctx, req, policy)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.SourceID = src.ID
			return nil, fe
		}
		return nil, &FetchError{SourceID: src.ID, URL: target.String(), Err: err}
	}
	return resp, nil
}

// findNextPage returns the next listing page linked from body, restricted to
// the seed's host. Returns nil when there is none.
func findNextPage(body []byte, pageURL string, seed *url.URL, selector string) *url.URL {
	if selector == "" {
		selector = defaultNextPageSelector
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var next *url.URL
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		resolved, ok := parse.Resolve(base, href)
		if !ok {
			return true
		}
		u, err := url.Parse(resolved)
		if err != nil || !parse.SameHost(u, seed) {
			return true
		}
		next = u
		return false
	})
	return next
}
