// Package crawler coordinates feed fetching, page scraping, filtering, and
// persistence for one source at a time.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/feed"
	"sitewatch/internal/filter"
	"sitewatch/internal/fingerprint"
	"sitewatch/internal/model"
	"sitewatch/internal/scrape"
	"sitewatch/internal/storage"
)

// FeedFetcher is the feed-parsing strategy consumed by the crawler.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Entry, error)
}

// PageScraper is the page-scraping strategy consumed by the crawler.
type PageScraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Content, error)
}

// Crawler runs single-source crawls. Crawls of distinct sources are
// independent and may run concurrently; one Crawler is safe for use from
// multiple goroutines.
type Crawler struct {
	store   storage.Storage
	fetcher FeedFetcher
	scraper PageScraper
	matcher *filter.Matcher
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Crawler.
func New(store storage.Storage, fetcher FeedFetcher, scraper PageScraper, log *slog.Logger) *Crawler {
	return &Crawler{
		store:   store,
		fetcher: fetcher,
		scraper: scraper,
		matcher: filter.New(log),
		log:     log,
		now:     time.Now,
	}
}

// CrawlSource crawls one source and returns the number of new items
// persisted. An error is returned only when the source itself cannot be
// loaded; every failure inside the crawl is logged, absorbed, and reported
// as a zero count so one broken source never aborts a batch. The source's
// last-checked timestamp advances on success and failure alike.
func (c *Crawler) CrawlSource(ctx context.Context, sourceID uuid.UUID) (int, error) {
	source, err := c.store.GetSource(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("load source %s: %w", sourceID, err)
	}

	c.log.Info("crawling source", "source_id", source.ID, "name", source.Name, "mode", source.Mode)

	count, err := c.crawl(ctx, source)
	if err != nil {
		c.log.Error("crawl failed", "source_id", source.ID, "name", source.Name, "error", err)
		count = 0
	}

	if err := c.store.UpdateSourceLastChecked(ctx, source.ID, c.now()); err != nil {
		c.log.Error("update last checked", "source_id", source.ID, "error", err)
	}

	c.log.Info("crawl finished", "source_id", source.ID, "name", source.Name, "new_items", count)
	return count, nil
}

func (c *Crawler) crawl(ctx context.Context, source *model.Source) (int, error) {
	switch source.Mode {
	case model.ModeRSS:
		return c.crawlFeed(ctx, source)
	case model.ModeHTML:
		return c.crawlPage(ctx, source)
	case model.ModeAuto:
		count, err := c.crawlFeed(ctx, source)
		if err != nil {
			c.log.Debug("feed crawl failed, falling back to html",
				"source_id", source.ID, "error", err)
			return c.crawlPage(ctx, source)
		}
		return count, nil
	default:
		return 0, fmt.Errorf("unknown source mode %q", source.Mode)
	}
}

// crawlFeed processes feed entries in document order. Each entry is
// checked against existing items immediately before its insert, so a link
// repeated within one feed is only persisted once.
func (c *Crawler) crawlFeed(ctx context.Context, source *model.Source) (int, error) {
	entries, err := c.fetcher.Fetch(ctx, source.URL)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		exists, err := c.store.ItemExists(ctx, source.ID, entry.Link)
		if err != nil {
			return count, fmt.Errorf("check item: %w", err)
		}
		if exists {
			continue
		}

		if !c.matcher.Match(source.FilterKeywords, source.FilterRegex, entry.Title, entry.Content) {
			continue
		}

		published := entry.Published
		item := &model.Item{
			SourceID:     source.ID,
			Title:        entry.Title,
			Link:         entry.Link,
			Summary:      scrape.Snippet(entry.Content),
			PublishedAt:  &published,
			DiscoveredAt: c.now(),
			ContentHash:  fingerprint.Hash(entry.Content),
		}
		created, err := c.persist(ctx, item)
		if err != nil {
			return count, err
		}
		if created {
			count++
		}
	}
	return count, nil
}

// crawlPage creates at most one item per HTML source, ever: the page's own
// URL is both the source URL and the item link.
func (c *Crawler) crawlPage(ctx context.Context, source *model.Source) (int, error) {
	exists, err := c.store.ItemExists(ctx, source.ID, source.URL)
	if err != nil {
		return 0, fmt.Errorf("check item: %w", err)
	}
	if exists {
		c.log.Debug("page already scraped", "source_id", source.ID, "url", source.URL)
		return 0, nil
	}

	content, err := c.scraper.Scrape(ctx, source.URL)
	if err != nil {
		return 0, err
	}

	if !c.matcher.Match(source.FilterKeywords, source.FilterRegex, content.Title, content.Body) {
		return 0, nil
	}

	item := &model.Item{
		SourceID:     source.ID,
		Title:        content.Title,
		Link:         source.URL,
		Summary:      content.Snippet,
		DiscoveredAt: c.now(),
		ContentHash:  content.ContentHash,
	}
	created, err := c.persist(ctx, item)
	if err != nil {
		return 0, err
	}
	if !created {
		return 0, nil
	}
	return 1, nil
}

// persist writes an item, tolerating a duplicate rejection from the store:
// a concurrent crawl of the same source may have inserted the link between
// the existence check and this write.
func (c *Crawler) persist(ctx context.Context, item *model.Item) (bool, error) {
	err := c.store.CreateItem(ctx, item)
	if errors.Is(err, storage.ErrDuplicate) {
		c.log.Debug("duplicate item skipped", "source_id", item.SourceID, "link", item.Link)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
