// Package scrape extracts article content from arbitrary HTML pages.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"sitewatch/internal/fingerprint"
)

// ErrFetch reports a request or status failure while downloading a page.
var ErrFetch = errors.New("page fetch failed")

// DefaultContentSelectors are the conventional content-container selectors
// tried when a page has no semantic article or main element.
var DefaultContentSelectors = []string{".content", ".post-content", ".article-content", ".entry-content"}

const (
	maxBodySize = 5 * 1024 * 1024
	// minParagraphLen is the threshold below which a paragraph is skipped
	// by the longest-block heuristic.
	minParagraphLen = 50
	snippetLen      = 200
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Content is the extracted representation of a page.
type Content struct {
	Title       string
	Body        string
	Description string
	Author      string
	Snippet     string
	ContentHash string
}

// Scraper fetches pages and extracts a best-effort article representation.
// Extraction is deterministic: the same HTML always yields the same Content.
type Scraper struct {
	client    HTTPClient
	userAgent string
	timeout   time.Duration
	selectors []string
	policy    *bluemonday.Policy
}

// New creates a Scraper. An empty selectors list falls back to
// DefaultContentSelectors.
func New(client HTTPClient, userAgent string, timeout time.Duration, selectors []string) *Scraper {
	if len(selectors) == 0 {
		selectors = DefaultContentSelectors
	}
	return &Scraper{
		client:    client,
		userAgent: userAgent,
		timeout:   timeout,
		selectors: selectors,
		policy:    bluemonday.UGCPolicy(),
	}
}

// Scrape downloads a page and extracts its content.
func (s *Scraper) Scrape(ctx context.Context, url string) (*Content, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get %s: %v", ErrFetch, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d scraping %s", ErrFetch, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	return s.Parse(string(body))
}

// Parse extracts content from already-downloaded HTML.
func (s *Scraper) Parse(html string) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	body := s.extractBody(doc)

	return &Content{
		Title:       extractTitle(doc),
		Body:        body,
		Description: extractDescription(doc),
		Author:      extractAuthor(doc),
		Snippet:     Snippet(body),
		ContentHash: fingerprint.Hash(body),
	}, nil
}

// extractTitle prefers the Open Graph title, then the Twitter card title,
// then the document title.
func extractTitle(doc *goquery.Document) string {
	if v := metaContent(doc, "meta[property='og:title']"); v != "" {
		return v
	}
	if v := metaContent(doc, "meta[name='twitter:title']"); v != "" {
		return v
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func extractDescription(doc *goquery.Document) string {
	if v := metaContent(doc, "meta[property='og:description']"); v != "" {
		return v
	}
	return metaContent(doc, "meta[name='description']")
}

func extractAuthor(doc *goquery.Document) string {
	if v := metaContent(doc, "meta[property='article:author']"); v != "" {
		return v
	}
	return metaContent(doc, "meta[name='author']")
}

func metaContent(doc *goquery.Document, selector string) string {
	if v, ok := doc.Find(selector).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// extractBody applies the layered content heuristic: semantic elements,
// conventional containers, longest paragraph block, then full body text.
// Markup-bearing strategies are sanitized before returning.
func (s *Scraper) extractBody(doc *goquery.Document) string {
	if sel := doc.Find("article").First(); sel.Length() > 0 {
		return s.sanitize(innerHTML(sel))
	}
	if sel := doc.Find("main").First(); sel.Length() > 0 {
		return s.sanitize(innerHTML(sel))
	}
	if sel := doc.Find(strings.Join(s.selectors, ", ")).First(); sel.Length() > 0 {
		return s.sanitize(innerHTML(sel))
	}

	if block := longestParagraphBlock(doc); block != "" {
		return block
	}

	return strings.TrimSpace(doc.Find("body").Text())
}

// longestParagraphBlock walks paragraphs in document order, appending any
// paragraph longer than minParagraphLen to a running block, and returns the
// longest block seen. Short paragraphs are skipped outright; they never
// break or reset the running block.
func longestParagraphBlock(doc *goquery.Document) string {
	var current strings.Builder
	longest := ""

	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if len(text) <= minParagraphLen {
			return
		}
		current.WriteString(text)
		current.WriteString("\n\n")
		if current.Len() > len(longest) {
			longest = current.String()
		}
	})

	return strings.TrimSpace(longest)
}

func (s *Scraper) sanitize(html string) string {
	return strings.TrimSpace(s.policy.Sanitize(html))
}

func innerHTML(sel *goquery.Selection) string {
	html, err := sel.Html()
	if err != nil {
		return sel.Text()
	}
	return html
}

// Snippet returns a plain-text preview of content, truncated to 200
// characters with an ellipsis.
func Snippet(content string) string {
	text := strings.Join(strings.Fields(fingerprint.StripTags(content)), " ")
	runes := []rune(text)
	if len(runes) <= snippetLen {
		return text
	}
	return string(runes[:snippetLen-3]) + "..."
}
