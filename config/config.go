// Package config holds pipeline configuration assembled from flags, the
// environment and the locations YAML file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/msoto/lettings-pipeline/models"
)

// Config holds every knob the pipeline stages need. The caller owns its
// lifecycle and passes it into each stage constructor.
type Config struct {
	BaseURL    string
	SearchPath string

	Locations []models.Location

	// Search filter parameters forwarded verbatim to the discovery query.
	MaxPrice      int
	MinBedrooms   int
	PropertyTypes string

	// AvailabilityMonths is the acceptance window for dated availability.
	AvailabilityMonths []int

	PageSize        int
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	DedupeCacheSize int
	UserAgent       string

	DatabaseDSN string
	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns the defaults the original deployment ran with.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://www.rightmove.co.uk",
		SearchPath:         "/property-to-rent/find.html",
		MaxPrice:           2000,
		MinBedrooms:        2,
		PropertyTypes:      "flats",
		AvailabilityMonths: []int{6, 7},
		PageSize:           24,
		Timeout:            10 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		DedupeCacheSize:    4096,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		MetricsAddr:        "",
	}
}

// Validate ensures all configuration values are coherent. A config error is
// fatal and must abort the run before any network activity.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if c.SearchPath == "" {
		return fmt.Errorf("search path cannot be empty")
	}
	if len(c.Locations) == 0 {
		return fmt.Errorf("no locations configured")
	}
	for _, loc := range c.Locations {
		if loc.ID == "" || loc.Name == "" {
			return fmt.Errorf("location entries need both id and name, got %+v", loc)
		}
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if len(c.AvailabilityMonths) == 0 {
		return fmt.Errorf("availability months cannot be empty")
	}
	for _, m := range c.AvailabilityMonths {
		if m < 1 || m > 12 {
			return fmt.Errorf("availability month out of range: %d", m)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.DedupeCacheSize <= 0 {
		return fmt.Errorf("dedupe cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// MonthAllowed reports whether a dated availability month falls inside the
// acceptance window.
func (c *Config) MonthAllowed(month time.Month) bool {
	for _, m := range c.AvailabilityMonths {
		if time.Month(m) == month {
			return true
		}
	}
	return false
}

// EnvInt reads an integer environment variable. The second return reports
// whether the variable was set.
func EnvInt(key string) (int, bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, true, nil
}

// EnvString reads a string environment variable.
func EnvString(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
