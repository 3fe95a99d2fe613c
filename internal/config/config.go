// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	HTTPAddr         string
	DatabasePath     string
	LogLevel         string
	FetchTimeout     time.Duration
	FeedUserAgent    string
	ScrapeUserAgent  string
	ContentSelectors []string
	SchedulerTick    time.Duration
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		DatabasePath:    envOrDefault("DATABASE_PATH", "./data/sitewatch.db"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		FeedUserAgent:   envOrDefault("FEED_USER_AGENT", "SiteWatch/1.0 (RSS Reader)"),
		ScrapeUserAgent: envOrDefault("SCRAPE_USER_AGENT", "Mozilla/5.0 (compatible; SiteWatch/1.0)"),
	}

	timeout, err := envSeconds("FETCH_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	cfg.FetchTimeout = timeout

	tick, err := envSeconds("SCHEDULER_TICK_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.SchedulerTick = tick

	if raw := os.Getenv("CONTENT_SELECTORS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.ContentSelectors = append(cfg.ContentSelectors, s)
			}
		}
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSeconds(key string, def int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Second, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be a positive integer", key, raw)
	}
	return time.Duration(n) * time.Second, nil
}
