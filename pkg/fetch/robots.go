package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsChecker fetches, caches and evaluates robots.txt per host.
type RobotsChecker struct {
	fetcher *Fetcher
	policy  RetryPolicy
	cache   map[string]*robotstxt.RobotsData // scheme://host -> parsed data, nil = allow all
	cacheMu sync.Mutex
	log     *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker. robots.txt fetches use policy without retries beyond it.
func NewRobotsChecker(fetcher *Fetcher, policy RetryPolicy, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		fetcher: fetcher,
		policy:  policy,
		cache:   make(map[string]*robotstxt.RobotsData),
		log:     log,
	}
}

// Allowed reports whether userAgent may fetch target. A robots.txt that cannot
// be retrieved allows everything; a 5xx robots.txt disallows everything until
// the cache is reset.
func (rc *RobotsChecker) Allowed(ctx context.Context, target *url.URL, userAgent string) bool {
	data := rc.get(ctx, target, userAgent)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), userAgent)
}

// Reset clears cached robots data, called once per scan cycle.
func (rc *RobotsChecker) Reset() {
	rc.cacheMu.Lock()
	rc.cache = make(map[string]*robotstxt.RobotsData)
	rc.cacheMu.Unlock()
}

func (rc *RobotsChecker) get(ctx context.Context, target *url.URL, userAgent string) *robotstxt.RobotsData {
	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	cacheKey := robotsURL.Scheme + "://" + robotsURL.Host
	robotsLog := rc.log.WithField("robots_url", robotsURL.String())

	rc.cacheMu.Lock()
	data, found := rc.cache[cacheKey]
	rc.cacheMu.Unlock()
	if found {
		return data
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, fetchErr := rc.fetcher.FetchWithRetry(ctx, req, rc.policy)
	switch {
	case fetchErr == nil:
		data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	default:
		var fe *FetchError
		if errors.As(fetchErr, &fe) && fe.StatusCode != 0 {
			// 4xx means no rules, 5xx means the host asked us to stay away for now
			data, err = robotstxt.FromStatusAndBytes(fe.StatusCode, nil)
		} else {
			robotsLog.Warnf("Fetching robots.txt failed, assuming allowed: %v", fetchErr)
			if ctx.Err() != nil {
				return nil // do not cache results of a cancelled cycle
			}
			data, err = nil, nil
		}
	}
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt, assuming allowed: %v", err)
		data = nil
	}

	rc.cacheMu.Lock()
	rc.cache[cacheKey] = data
	rc.cacheMu.Unlock()
	return data
}
