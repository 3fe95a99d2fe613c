package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func newTestFetcher(transport HTTPClient) *Fetcher {
	f := New(transport, "SiteWatch/1.0 (RSS Reader)", 30*time.Second)
	f.now = func() time.Time { return time.Date(2024, 12, 15, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t, "testdata/sample.xml")

	tests := []struct {
		name        string
		transport   *mockTransport
		wantEntries int
		wantErr     error
	}{
		{
			name:        "successful fetch",
			transport:   &mockTransport{body: xml, statusCode: 200},
			wantEntries: 3,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			wantErr:   ErrFetch,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   ErrFetch,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(tt.transport)
			entries, err := f.Fetch(context.Background(), "https://example.test/rss")

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantEntries, len(entries)); diff != "" {
				t.Errorf("entry count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchNormalizesEntries(t *testing.T) {
	xml := loadFixture(t, "testdata/sample.xml")
	f := newTestFetcher(&mockTransport{body: xml, statusCode: 200})

	entries, err := f.Fetch(context.Background(), "https://example.test/rss")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	want := Entry{
		Title:       "Kubernetes 1.32 Released",
		Link:        "https://example.test/blog/k8s-132",
		Description: "The Kubernetes project has shipped version 1.32.",
		Content:     "<p>The Kubernetes project has shipped version 1.32 with new scheduling features.</p>",
		Author:      "Pat Reyes",
		Published:   time.Date(2024, 12, 9, 10, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, entries[0]); diff != "" {
		t.Errorf("first entry mismatch (-want +got):\n%s", diff)
	}

	// Entry without a content element falls back to its description.
	if got := entries[1].Content; got != "Practical checkpoints and autovacuum settings." {
		t.Errorf("content fallback mismatch: %q", got)
	}

	// Entry without any date falls back to the current time.
	if got := entries[2].Published; !got.Equal(time.Date(2024, 12, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("published fallback mismatch: %v", got)
	}
}
