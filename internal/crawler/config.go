package crawler

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultUserAgent is sent when a site does not configure its own.
	DefaultUserAgent = "PTCrawler/1.0 (+https://example.org)"
	// DefaultTestLimit caps detail links per listing page in test mode.
	DefaultTestLimit = 5
	// DefaultDelay is the pause between ingested items.
	DefaultDelay = 500 * time.Millisecond

	snapshotName = "first_torrent_detail_page.html"
	auditName    = "metadata.jsonl"
)

// CrawlConfig is the immutable input of a single run.
type CrawlConfig struct {
	// Site is the registry name, used for logs and metrics only.
	Site       string
	BaseURL    string
	ListPath   string
	Cookie     string
	UserAgent  string
	OutputDir  string
	TorrentDir string
	Delay      time.Duration
	AllowV2    bool
	TestMode   bool
	TestLimit  int
	StartPage  int
}

// ConfigError reports a missing or invalid CrawlConfig field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "must be set"
	}
	return fmt.Sprintf("crawl config: %s %s", e.Field, reason)
}

// Validate checks the fields a run cannot start without. Cookie is optional;
// an empty one sends no Cookie header.
func (c CrawlConfig) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"base_url", c.BaseURL},
		{"list_path", c.ListPath},
		{"user_agent", c.UserAgent},
		{"out_dir", c.OutputDir},
		{"torrent_dir", c.TorrentDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigError{Field: r.field}
		}
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return &ConfigError{Field: "base_url", Reason: "must be an http(s) URL"}
	}
	if c.Delay < 0 {
		return &ConfigError{Field: "delay", Reason: "must be >= 0"}
	}
	if c.StartPage < 0 {
		return &ConfigError{Field: "start_page", Reason: "must be >= 0"}
	}
	return nil
}

func (c CrawlConfig) startPage() int {
	if c.StartPage <= 0 {
		return 1
	}
	return c.StartPage
}

func (c CrawlConfig) linkLimit(found int) int {
	if !c.TestMode {
		return found
	}
	limit := c.TestLimit
	if limit <= 0 {
		limit = DefaultTestLimit
	}
	return min(limit, found)
}

func (c CrawlConfig) siteLabel() string {
	if c.Site != "" {
		return c.Site
	}
	return c.BaseURL
}
