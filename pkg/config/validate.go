package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/parse"
	"github.com/jobscan/jobscan/pkg/utils"
)

const (
	defaultConcurrency       = 4
	defaultCycleDeadline     = 10 * time.Minute
	defaultFetchTimeout      = 10 * time.Second
	defaultMaxRetries        = 2
	defaultInitialRetryDelay = 500 * time.Millisecond
	defaultMaxRetryDelay     = 10 * time.Second
	defaultMaxBodyBytes      = 5 << 20
	defaultMaxPages          = 5
	defaultUserAgent         = "jobscan/1.0 (+https://github.com/jobscan/jobscan)"
	maxConcurrency           = 32
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error. Source errors are
// accumulated so that one run reports every broken source at once.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Concurrency
	if c.Concurrency <= 0 {
		warnings = append(warnings, fmt.Sprintf("concurrency should be > 0, defaulting to %d", defaultConcurrency))
		c.Concurrency = defaultConcurrency
	} else if c.Concurrency > maxConcurrency {
		warnings = append(warnings, fmt.Sprintf("concurrency %d is above %d, capping", c.Concurrency, maxConcurrency))
		c.Concurrency = maxConcurrency
	}

	// CycleDeadline
	if c.CycleDeadline <= 0 {
		warnings = append(warnings, fmt.Sprintf("cycle_deadline not set, defaulting to %v", defaultCycleDeadline))
		c.CycleDeadline = defaultCycleDeadline
	}

	// FetchTimeout
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.FetchTimeout > c.CycleDeadline {
		warnings = append(warnings, fmt.Sprintf(
			"fetch_timeout (%v) exceeds cycle_deadline (%v), clamping", c.FetchTimeout, c.CycleDeadline))
		c.FetchTimeout = c.CycleDeadline
	}

	// MaxRetries
	if c.MaxRetries == nil {
		n := defaultMaxRetries
		c.MaxRetries = &n
	} else if *c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		n := 0
		c.MaxRetries = &n
	}

	// Retry delays (only if retries enabled)
	if *c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = defaultInitialRetryDelay
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = defaultMaxRetryDelay
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// Politeness
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = defaultUserAgent
	}
	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, disabling delay")
		c.DefaultDelayPerHost = 0
	}
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './jobscan_state'")
		c.StateDir = "./jobscan_state"
	}

	c.validateHTTPClientSettings()

	var errs *multierror.Error
	if storageErr := c.validateStorage(); storageErr != nil {
		errs = multierror.Append(errs, storageErr)
	}
	c.validateLock()
	if llmErr := c.validateLLM(); llmErr != nil {
		errs = multierror.Append(errs, llmErr)
	}

	// Sources
	if len(c.Sources) == 0 {
		warnings = append(warnings, "no sources configured, scans will produce empty reports")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		srcWarnings, srcErr := src.Validate()
		for _, w := range srcWarnings {
			warnings = append(warnings, fmt.Sprintf("source %q: %s", src.ID, w))
		}
		if srcErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("source #%d (%q): %w", i+1, src.ID, srcErr))
			continue
		}
		if seen[src.ID] {
			errs = multierror.Append(errs, fmt.Errorf("%w: duplicate source id %q", utils.ErrConfigValidation, src.ID))
		}
		seen[src.ID] = true
	}

	return warnings, errs.ErrorOrNil()
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func (c *AppConfig) validateStorage() error {
	s := &c.Storage
	if s.Driver == "" {
		s.Driver = StorageBadger
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 5 * time.Second
	}
	switch s.Driver {
	case StorageBadger:
		if s.Path == "" {
			s.Path = filepath.Join(c.StateDir, "jobs_db")
		}
	case StoragePostgres:
		if s.DSN == "" {
			return fmt.Errorf("%w: storage driver postgres needs a dsn", utils.ErrConfigValidation)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("%w: unknown storage driver %q", utils.ErrConfigValidation, s.Driver)
	}
	return nil
}

func (c *AppConfig) validateLock() {
	l := &c.Lock
	if l.KeyPrefix == "" {
		l.KeyPrefix = "jobscan:identity:"
	}
	if l.TTL <= 0 {
		l.TTL = 30 * time.Second
	}
	if l.RetryDelay <= 0 {
		l.RetryDelay = 100 * time.Millisecond
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = 50
	}
}

func (c *AppConfig) validateLLM() error {
	l := &c.LLM
	if !l.Enabled {
		return nil
	}
	if l.Provider == "" {
		l.Provider = "openai"
	}
	if l.Provider != "openai" {
		return fmt.Errorf("%w: unsupported llm provider %q", utils.ErrConfigValidation, l.Provider)
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.APIKeyEnv == "" {
		l.APIKeyEnv = "OPENAI_API_KEY"
	}
	if l.MaxPromptTokens <= 0 {
		l.MaxPromptTokens = 3000
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = 2
	}
	if l.Timeout <= 0 {
		l.Timeout = 30 * time.Second
	}
	return nil
}

// Validate checks SourceConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (seed URL is stored in sanitized form).
func (c *SourceConfig) Validate() (warnings []string, err error) {
	// Required: ID
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return nil, fmt.Errorf("%w: source needs an id", utils.ErrConfigValidation)
	}

	// Required: SeedURL, absolute http(s) after sanitizing
	seed := parse.Sanitize(c.SeedURL)
	if seed == "" {
		return nil, fmt.Errorf("%w: seed_url %q is empty or unsafe", utils.ErrConfigValidation, c.SeedURL)
	}
	if _, _, parseErr := parse.ParseAndNormalize(seed); parseErr != nil ||
		!(strings.HasPrefix(strings.ToLower(seed), "http://") || strings.HasPrefix(strings.ToLower(seed), "https://")) {
		return nil, fmt.Errorf("%w: seed_url %q is not an absolute http(s) URL", utils.ErrConfigValidation, c.SeedURL)
	}
	if seed != c.SeedURL {
		warnings = append(warnings, fmt.Sprintf("seed_url normalized to %q", seed))
		c.SeedURL = seed
	}

	// Required: Strategy
	if !c.Strategy.IsValid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", utils.ErrConfigValidation, string(c.Strategy))
	}

	switch c.Strategy {
	case models.StrategyPaginatedListing:
		if c.BlockSelector == "" {
			warnings = append(warnings, "paginated-listing without block_selector, using auto detection")
			c.BlockSelector = "auto"
		}
		if c.MaxPages <= 0 {
			c.MaxPages = defaultMaxPages
		}
	default:
		if c.MaxPages > 1 {
			warnings = append(warnings, "max_pages only applies to paginated-listing, ignoring")
		}
		c.MaxPages = 1
	}

	if c.FetchTimeout < 0 {
		warnings = append(warnings, "fetch_timeout cannot be negative, using global value")
		c.FetchTimeout = 0
	}

	if _, reErr := utils.CompileRegexPatterns(c.SkipTitlePatterns); reErr != nil {
		return nil, reErr
	}

	return warnings, nil
}
