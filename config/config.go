package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Target    TargetConfig    `yaml:"target"`
	Page      PageConfig      `yaml:"page"`
	Filter    FilterConfig    `yaml:"filter"`
	Retry     RetryConfig     `yaml:"retry"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 3001
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls how each invocation launches its Chromium instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	// Proxy is the proxy URL used by the browser and the response loader.
	Proxy string `yaml:"proxy"`

	// IgnoreCertErrors makes the browser accept invalid TLS certificates.
	IgnoreCertErrors bool `yaml:"ignore_cert_errors"` // default: true

	// MaxConcurrent caps how many invocations may hold a browser at once.
	MaxConcurrent int `yaml:"max_concurrent"` // default: 2
}

// TargetConfig identifies the page to load and the API response to capture.
type TargetConfig struct {
	// PageURL is the page whose load triggers the API call.
	PageURL string `yaml:"page_url"`

	// APIURL is the exact URL of the response to capture.
	APIURL string `yaml:"api_url"`

	// APIMethod is the exact HTTP method of the request behind that response.
	APIMethod string `yaml:"api_method"` // default: "POST"

	// BaseURL prefixes relative listing links in the report.
	BaseURL string `yaml:"base_url"` // default: "https://www.realtor.ca"
}

// PageConfig controls the per-attempt page-context.
type PageConfig struct {
	UserAgent      string `yaml:"user_agent"`
	ViewportWidth  int    `yaml:"viewport_width"`  // default: 1280
	ViewportHeight int    `yaml:"viewport_height"` // default: 800

	// AttemptTimeout bounds navigation and the response wait of one attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"` // default: 90s

	// IdleWindow is how long the network must stay quiet before navigation
	// is considered complete. Zero waits for the load event only.
	IdleWindow time.Duration `yaml:"idle_window"` // default: 500ms

	// ScrollBy is the vertical scroll (px) issued after navigation. Zero disables it.
	ScrollBy int `yaml:"scroll_by"` // default: 100

	// Stealth injects anti-detection scripts into every page-context.
	Stealth bool `yaml:"stealth"` // default: true

	// ExtraHeaders are sent with every page request ("Name: value" in env).
	ExtraHeaders map[string]string `yaml:"extra_headers"`
}

// FilterConfig controls which page requests are blocked.
type FilterConfig struct {
	// BlockedResourceTypes lists resource types to block.
	// default: ["image", "media", "font", "stylesheet", "other"]
	BlockedResourceTypes []string `yaml:"blocked_resource_types"`

	// BlockedURLPatterns lists URL substrings to block.
	BlockedURLPatterns []string `yaml:"blocked_url_patterns"`

	// BlockAds additionally blocks well-known ad and tracking hosts.
	BlockAds bool `yaml:"block_ads"` // default: false
}

// RetryConfig controls the attempt loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"` // default: 3
	Delay       time.Duration `yaml:"delay"`        // default: 5s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool `yaml:"enabled"` // default: false

	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 0.2

	// Burst is the maximum burst size per API key.
	Burst int `yaml:"burst"` // default: 2
}

// CacheConfig controls the payload cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached payloads.
	MaxEntries int `yaml:"max_entries"` // default: 16

	// TTL is the hard expiry of a cached payload.
	TTL time.Duration `yaml:"ttl"` // default: 1h
}

// StoreConfig controls the run history database.
type StoreConfig struct {
	// Path is the SQLite file. Empty disables run history.
	Path string `yaml:"path"` // default: "harvest.db"
}

// WebhookConfig controls run notifications.
type WebhookConfig struct {
	// URL receives harvest.completed / harvest.failed events. Empty disables.
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"

	// File, when set, also writes logs to a rotating file.
	File string `yaml:"file"`
}

const (
	defaultPageURL   = "https://www.realtor.ca/map#view=list&Sort=6-D&GeoIds=g30_c3nfkdtg&GeoName=Calgary%2C%20AB&PropertyTypeGroupID=1&TransactionTypeId=2&PropertySearchTypeId=3&NumberOfDays=1&OwnershipTypeGroupId=2&Currency=CAD"
	defaultAPIURL    = "https://api2.realtor.ca/Listing.svc/PropertySearch_Post"
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3001,
			Mode: "release",
		},
		Browser: BrowserConfig{
			Headless:         true,
			NoSandbox:        true,
			IgnoreCertErrors: true,
			MaxConcurrent:    2,
		},
		Target: TargetConfig{
			PageURL:   defaultPageURL,
			APIURL:    defaultAPIURL,
			APIMethod: http.MethodPost,
			BaseURL:   "https://www.realtor.ca",
		},
		Page: PageConfig{
			UserAgent:      defaultUserAgent,
			ViewportWidth:  1280,
			ViewportHeight: 800,
			AttemptTimeout: 90 * time.Second,
			IdleWindow:     500 * time.Millisecond,
			ScrollBy:       100,
			Stealth:        true,
		},
		Filter: FilterConfig{
			BlockedResourceTypes: []string{"image", "media", "font", "stylesheet", "other"},
			BlockedURLPatterns: []string{
				".css", "google-analytics", "googletagmanager", "doubleclick",
				"scorecardresearch", "youtube", "intergient",
			},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 0.2,
			Burst:             2,
		},
		Cache: CacheConfig{
			MaxEntries: 16,
			TTL:        time.Hour,
		},
		Store: StoreConfig{
			Path: "harvest.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// HARVEST_CONFIG (if any), then HARVEST_* environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("HARVEST_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML document at path onto c.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = envOr("HARVEST_HOST", c.Server.Host)
	c.Server.Port = envIntOr("HARVEST_PORT", envIntOr("PORT", c.Server.Port))
	c.Server.Mode = envOr("HARVEST_MODE", c.Server.Mode)

	c.Browser.Headless = envBoolOr("HARVEST_HEADLESS", c.Browser.Headless)
	c.Browser.NoSandbox = envBoolOr("HARVEST_NO_SANDBOX", c.Browser.NoSandbox)
	c.Browser.BrowserBin = envOr("HARVEST_BROWSER_BIN", c.Browser.BrowserBin)
	c.Browser.Proxy = envOr("HARVEST_PROXY", c.Browser.Proxy)
	c.Browser.IgnoreCertErrors = envBoolOr("HARVEST_IGNORE_CERT_ERRORS", c.Browser.IgnoreCertErrors)
	c.Browser.MaxConcurrent = envIntOr("HARVEST_MAX_CONCURRENT", c.Browser.MaxConcurrent)

	c.Target.PageURL = envOr("HARVEST_PAGE_URL", c.Target.PageURL)
	c.Target.APIURL = envOr("HARVEST_API_URL", c.Target.APIURL)
	c.Target.APIMethod = envOr("HARVEST_API_METHOD", c.Target.APIMethod)
	c.Target.BaseURL = envOr("HARVEST_BASE_URL", c.Target.BaseURL)

	c.Page.UserAgent = envOr("HARVEST_USER_AGENT", c.Page.UserAgent)
	c.Page.ViewportWidth = envIntOr("HARVEST_VIEWPORT_WIDTH", c.Page.ViewportWidth)
	c.Page.ViewportHeight = envIntOr("HARVEST_VIEWPORT_HEIGHT", c.Page.ViewportHeight)
	c.Page.AttemptTimeout = envDurationOr("HARVEST_ATTEMPT_TIMEOUT", c.Page.AttemptTimeout)
	c.Page.IdleWindow = envDurationOr("HARVEST_IDLE_WINDOW", c.Page.IdleWindow)
	c.Page.ScrollBy = envIntOr("HARVEST_SCROLL_BY", c.Page.ScrollBy)
	c.Page.Stealth = envBoolOr("HARVEST_STEALTH", c.Page.Stealth)
	c.Page.ExtraHeaders = envHeadersOr("HARVEST_EXTRA_HEADERS", c.Page.ExtraHeaders)

	c.Filter.BlockedResourceTypes = envSliceOr("HARVEST_BLOCKED_RESOURCES", c.Filter.BlockedResourceTypes)
	c.Filter.BlockedURLPatterns = envSliceOr("HARVEST_BLOCKED_PATTERNS", c.Filter.BlockedURLPatterns)
	c.Filter.BlockAds = envBoolOr("HARVEST_BLOCK_ADS", c.Filter.BlockAds)

	c.Retry.MaxAttempts = envIntOr("HARVEST_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.Delay = envDurationOr("HARVEST_RETRY_DELAY", c.Retry.Delay)

	c.Auth.Enabled = envBoolOr("HARVEST_AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.APIKeys = envSliceOr("HARVEST_API_KEYS", c.Auth.APIKeys)

	c.RateLimit.RequestsPerSecond = envFloatOr("HARVEST_RATE_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.Burst = envIntOr("HARVEST_RATE_BURST", c.RateLimit.Burst)

	c.Cache.MaxEntries = envIntOr("HARVEST_CACHE_MAX_ENTRIES", c.Cache.MaxEntries)
	c.Cache.TTL = envDurationOr("HARVEST_CACHE_TTL", c.Cache.TTL)

	c.Store.Path = envOr("HARVEST_STORE_PATH", c.Store.Path)

	c.Webhook.URL = envOr("HARVEST_WEBHOOK_URL", c.Webhook.URL)
	c.Webhook.Secret = envOr("HARVEST_WEBHOOK_SECRET", c.Webhook.Secret)

	c.Log.Level = envOr("HARVEST_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("HARVEST_LOG_FORMAT", c.Log.Format)
	c.Log.File = envOr("HARVEST_LOG_FILE", c.Log.File)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("page URL", c.Target.PageURL); err != nil {
		return err
	}
	if err := validateURL("API URL", c.Target.APIURL); err != nil {
		return err
	}
	switch c.Target.APIMethod {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("API method %q is not supported", c.Target.APIMethod)
	}

	if c.Page.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive")
	}
	if c.Page.IdleWindow < 0 {
		return fmt.Errorf("idle window cannot be negative")
	}
	if c.Page.ViewportWidth <= 0 || c.Page.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.Page.ViewportWidth, c.Page.ViewportHeight)
	}
	if c.Page.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}

	if c.Browser.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent browsers must be at least 1")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max entries must be at least 1")
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth enabled but no API keys configured")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log format must be json or text")
	}
	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envHeadersOr parses "Name: value; Other: value" pairs.
func envHeadersOr(key string, fallback map[string]string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(v, ";") {
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			headers[name] = strings.TrimSpace(value)
		}
	}
	if len(headers) == 0 {
		return fallback
	}
	return headers
}
