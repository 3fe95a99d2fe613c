// Package feed handles RSS/Atom feed downloading and parsing.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// Error kinds reported by Fetch. The orchestrator treats either one as a
// trigger for the HTML fallback in auto mode.
var (
	ErrFetch = errors.New("feed fetch failed")
	ErrParse = errors.New("feed parse failed")
)

const maxBodySize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Entry is a normalized feed entry.
type Entry struct {
	Title       string
	Link        string
	Description string
	// Content is the entry body; when the feed carries no content element
	// it falls back to the description.
	Content   string
	Author    string
	Published time.Time
}

// Fetcher downloads and parses RSS/Atom feeds.
type Fetcher struct {
	client    HTTPClient
	userAgent string
	timeout   time.Duration
	now       func() time.Time
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Fetch downloads and parses a feed from the given URL. Errors wrap
// ErrFetch for request or status failures and ErrParse for malformed
// feed bodies.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get %s: %v", ErrFetch, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d fetching %s", ErrFetch, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, f.convert(item))
	}
	return entries, nil
}

func (f *Fetcher) convert(item *gofeed.Item) Entry {
	content := item.Content
	if content == "" {
		content = item.Description
	}

	published := f.now()
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	var author string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}

	return Entry{
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
		Content:     content,
		Author:      author,
		Published:   published,
	}
}
