package config

import (
	"time"

	"github.com/jobscan/jobscan/pkg/models"
)

// SourceConfig holds configuration specific to a single listing source
type SourceConfig struct {
	ID                string             `yaml:"id"`
	SeedURL           string             `yaml:"seed_url"`
	Strategy          models.StrategyTag `yaml:"strategy"`
	Enabled           *bool              `yaml:"enabled,omitempty"`            // nil = enabled
	BlockSelector     string             `yaml:"block_selector,omitempty"`     // CSS selector for posting blocks, "auto" to detect
	TitleSelector     string             `yaml:"title_selector,omitempty"`     // CSS selector for the title within a block
	NextPageSelector  string             `yaml:"next_page_selector,omitempty"` // paginated-listing: link to the next page
	MaxPages          int                `yaml:"max_pages,omitempty"`          // paginated-listing: page cap per visit
	SkipTitlePatterns []string           `yaml:"skip_title_patterns,omitempty"`
	UserAgent         string             `yaml:"user_agent,omitempty"`
	FetchTimeout      time.Duration      `yaml:"fetch_timeout,omitempty"`
	MaxRetries        *int               `yaml:"max_retries,omitempty"`
	DelayPerHost      time.Duration      `yaml:"delay_per_host,omitempty"`
	RespectRobots     *bool              `yaml:"respect_robots,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Concurrency          int              `yaml:"concurrency"`
	CycleDeadline        time.Duration    `yaml:"cycle_deadline"`
	FetchTimeout         time.Duration    `yaml:"fetch_timeout"`
	MaxRetries           *int             `yaml:"max_retries,omitempty"` // nil = default, 0 = no retries
	InitialRetryDelay    time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay        time.Duration    `yaml:"max_retry_delay,omitempty"`
	DefaultUserAgent     string           `yaml:"default_user_agent"`
	DefaultDelayPerHost  time.Duration    `yaml:"default_delay_per_host"`
	MaxRequestsPerHost   int              `yaml:"max_requests_per_host"`
	MaxBodyBytes         int64            `yaml:"max_body_bytes,omitempty"`
	RespectRobots        bool             `yaml:"respect_robots,omitempty"`
	BlockPrivateNetworks bool             `yaml:"block_private_networks,omitempty"`
	StateDir             string           `yaml:"state_dir"`
	Schedule             string           `yaml:"schedule,omitempty"` // cron spec for the watch command
	HTTPClientSettings   HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Storage              StorageConfig    `yaml:"storage,omitempty"`
	Lock                 LockConfig       `yaml:"lock,omitempty"`
	LLM                  LLMConfig        `yaml:"llm,omitempty"`
	Sources              []SourceConfig   `yaml:"sources"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Storage drivers
const (
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// StorageConfig selects and configures the job record store
type StorageConfig struct {
	Driver       string        `yaml:"driver,omitempty"`
	Path         string        `yaml:"path,omitempty"` // badger directory
	DSN          string        `yaml:"dsn,omitempty"`  // postgres connection string
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
	GCInterval   time.Duration `yaml:"gc_interval,omitempty"` // badger value log GC, 0 = disabled
}

// LockConfig configures identity key write serialization across processes
type LockConfig struct {
	RedisURL   string        `yaml:"redis_url,omitempty"` // empty = in-process locking only
	KeyPrefix  string        `yaml:"key_prefix,omitempty"`
	TTL        time.Duration `yaml:"ttl,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
}

// LLMConfig configures the optional model-assisted extraction of unknown fields
type LLMConfig struct {
	Enabled         bool          `yaml:"enabled,omitempty"`
	Provider        string        `yaml:"provider,omitempty"`
	Model           string        `yaml:"model,omitempty"`
	BaseURL         string        `yaml:"base_url,omitempty"`
	APIKeyEnv       string        `yaml:"api_key_env,omitempty"`
	MaxPromptTokens int           `yaml:"max_prompt_tokens,omitempty"`
	MaxRetries      int           `yaml:"max_retries,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
}

// IsEnabled reports whether the source takes part in scans
func (c SourceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetEffectiveFetchTimeout determines the per-request timeout for a source
func GetEffectiveFetchTimeout(srcCfg SourceConfig, appCfg AppConfig) time.Duration {
	if srcCfg.FetchTimeout > 0 {
		return srcCfg.FetchTimeout
	}
	return appCfg.FetchTimeout
}

// RetryBudget returns the global number of retries after the first attempt
func (c AppConfig) RetryBudget() int {
	if c.MaxRetries == nil {
		return 0
	}
	return *c.MaxRetries
}

// GetEffectiveMaxRetries determines the retry budget for a source
func GetEffectiveMaxRetries(srcCfg SourceConfig, appCfg AppConfig) int {
	if srcCfg.MaxRetries != nil && *srcCfg.MaxRetries >= 0 {
		return *srcCfg.MaxRetries
	}
	return appCfg.RetryBudget()
}

// GetEffectiveUserAgent determines the User-Agent header for a source
func GetEffectiveUserAgent(srcCfg SourceConfig, appCfg AppConfig) string {
	if srcCfg.UserAgent != "" {
		return srcCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelayPerHost determines the politeness delay for a source's host
func GetEffectiveDelayPerHost(srcCfg SourceConfig, appCfg AppConfig) time.Duration {
	if srcCfg.DelayPerHost > 0 {
		return srcCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveRespectRobots determines whether robots.txt is consulted for a source
func GetEffectiveRespectRobots(srcCfg SourceConfig, appCfg AppConfig) bool {
	if srcCfg.RespectRobots != nil {
		return *srcCfg.RespectRobots
	}
	return appCfg.RespectRobots
}

// BuildSource resolves a source's effective settings into the pipeline's view of it
func BuildSource(srcCfg SourceConfig, appCfg AppConfig) models.Source {
	return models.Source{
		ID:               srcCfg.ID,
		SeedURL:          srcCfg.SeedURL,
		Strategy:         srcCfg.Strategy,
		Enabled:          srcCfg.IsEnabled(),
		BlockSelector:    srcCfg.BlockSelector,
		TitleSelector:    srcCfg.TitleSelector,
		NextPageSelector: srcCfg.NextPageSelector,
		MaxPages:         srcCfg.MaxPages,
		Timeout:          GetEffectiveFetchTimeout(srcCfg, appCfg),
		MaxRetries:       GetEffectiveMaxRetries(srcCfg, appCfg),
		UserAgent:        GetEffectiveUserAgent(srcCfg, appCfg),
		DelayPerHost:     GetEffectiveDelayPerHost(srcCfg, appCfg),
		RespectRobots:    GetEffectiveRespectRobots(srcCfg, appCfg),
		SkipTitles:       srcCfg.SkipTitlePatterns,
	}
}

// FindSource returns the source with the given id
func (c *AppConfig) FindSource(id string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// EnabledSources returns the enabled sources in configuration order
func (c *AppConfig) EnabledSources() []SourceConfig {
	enabled := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.IsEnabled() {
			enabled = append(enabled, s)
		}
	}
	return enabled
}
