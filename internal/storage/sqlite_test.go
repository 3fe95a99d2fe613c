package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"sitewatch/internal/model"
)

var ignoreSourceTS = cmpopts.IgnoreFields(model.Source{}, "CreatedAt", "UpdatedAt", "LastChecked")
var ignoreItemTS = cmpopts.IgnoreFields(model.Item{}, "DiscoveredAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSource(t *testing.T, s *SQLite, url string) model.Source {
	t.Helper()
	src := model.Source{
		Name:            "Test Source",
		URL:             url,
		Mode:            model.ModeRSS,
		FilterKeywords:  []string{"kubernetes", "terraform"},
		FilterRegex:     []string{`v\d+\.\d+`},
		IntervalMinutes: 60,
	}
	if err := s.CreateSource(context.Background(), &src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	return src
}

func TestSourceCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	src := newTestSource(t, s, "https://example.test/rss")
	if src.ID == uuid.Nil {
		t.Fatal("expected generated source ID")
	}

	got, err := s.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(src, *got, ignoreSourceTS); diff != "" {
		t.Errorf("GetSource mismatch (-want +got):\n%s", diff)
	}

	exists, err := s.SourceExistsByURL(ctx, src.URL)
	if err != nil {
		t.Fatalf("exists by url: %v", err)
	}
	if !exists {
		t.Error("expected SourceExistsByURL true")
	}

	if err := s.DeleteSource(ctx, src.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSource(ctx, src.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSourceURLUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	newTestSource(t, s, "https://example.test/rss")

	dup := model.Source{
		Name:            "Dup",
		URL:             "https://example.test/rss",
		Mode:            model.ModeHTML,
		IntervalMinutes: 30,
	}
	if err := s.CreateSource(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for repeated url, got %v", err)
	}
}

func TestDeleteSourceNotFound(t *testing.T) {
	s := newTestDB(t)
	if err := s.DeleteSource(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListDueSources(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	never := newTestSource(t, s, "https://a.test/rss")
	stale := newTestSource(t, s, "https://b.test/rss")
	fresh := newTestSource(t, s, "https://c.test/rss")

	if err := s.UpdateSourceLastChecked(ctx, stale.ID, time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatalf("update stale: %v", err)
	}
	if err := s.UpdateSourceLastChecked(ctx, fresh.ID, time.Now()); err != nil {
		t.Fatalf("update fresh: %v", err)
	}

	due, err := s.ListDueSources(ctx)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}

	dueIDs := map[uuid.UUID]bool{}
	for _, src := range due {
		dueIDs[src.ID] = true
	}
	if !dueIDs[never.ID] {
		t.Error("never-checked source should be due")
	}
	if !dueIDs[stale.ID] {
		t.Error("stale source should be due")
	}
	if dueIDs[fresh.ID] {
		t.Error("freshly checked source should not be due")
	}
}

func TestItemCreateAndDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	src := newTestSource(t, s, "https://example.test/rss")

	published := time.Date(2024, 12, 9, 10, 0, 0, 0, time.UTC)
	item := model.Item{
		SourceID:    src.ID,
		Title:       "Kubernetes 1.32 Released",
		Link:        "https://example.test/blog/k8s-132",
		Summary:     "The Kubernetes project has shipped version 1.32.",
		PublishedAt: &published,
		ContentHash: "0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0",
	}
	if err := s.CreateItem(ctx, &item); err != nil {
		t.Fatalf("create item: %v", err)
	}

	exists, err := s.ItemExists(ctx, src.ID, item.Link)
	if err != nil {
		t.Fatalf("item exists: %v", err)
	}
	if !exists {
		t.Error("expected ItemExists true")
	}

	dup := model.Item{SourceID: src.ID, Link: item.Link, Title: "Same link"}
	if err := s.CreateItem(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for repeated (source, link), got %v", err)
	}

	// The same link under a different source is a distinct item.
	other := newTestSource(t, s, "https://other.test/rss")
	cross := model.Item{SourceID: other.ID, Link: item.Link, Title: "Cross-source"}
	if err := s.CreateItem(ctx, &cross); err != nil {
		t.Errorf("cross-source link should not collide: %v", err)
	}

	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if diff := cmp.Diff(item, *got, ignoreItemTS); diff != "" {
		t.Errorf("GetItem mismatch (-want +got):\n%s", diff)
	}
}

func TestListItemsBySource(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	src := newTestSource(t, s, "https://example.test/rss")
	other := newTestSource(t, s, "https://other.test/rss")

	for i, link := range []string{"https://example.test/1", "https://example.test/2"} {
		published := time.Date(2024, 12, 1+i, 0, 0, 0, 0, time.UTC)
		item := model.Item{SourceID: src.ID, Link: link, PublishedAt: &published}
		if err := s.CreateItem(ctx, &item); err != nil {
			t.Fatalf("create item %d: %v", i, err)
		}
	}
	if err := s.CreateItem(ctx, &model.Item{SourceID: other.ID, Link: "https://other.test/1"}); err != nil {
		t.Fatalf("create other item: %v", err)
	}

	items, err := s.ListItems(ctx, src.ID, 10, 0)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	// Newest published first.
	if items[0].Link != "https://example.test/2" {
		t.Errorf("unexpected ordering: %q first", items[0].Link)
	}

	all, err := s.ListItems(ctx, uuid.Nil, 10, 0)
	if err != nil {
		t.Fatalf("list all items: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 items across sources, got %d", len(all))
	}

	count, err := s.CountItemsBySource(ctx, src.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestFindItemsByContentHash(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	a := newTestSource(t, s, "https://a.test/rss")
	b := newTestSource(t, s, "https://b.test/rss")

	hash := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	for _, src := range []model.Source{a, b} {
		item := model.Item{SourceID: src.ID, Link: src.URL + "/post", ContentHash: hash}
		if err := s.CreateItem(ctx, &item); err != nil {
			t.Fatalf("create item: %v", err)
		}
	}

	matches, err := s.FindItemsByContentHash(ctx, hash)
	if err != nil {
		t.Fatalf("find by hash: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("expected 2 cross-source matches, got %d", len(matches))
	}

	// The empty sentinel is never a valid duplicate key.
	none, err := s.FindItemsByContentHash(ctx, "")
	if err != nil {
		t.Fatalf("find by empty hash: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("empty sentinel matched %d items", len(none))
	}
}

func TestDeleteSourceCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	src := newTestSource(t, s, "https://example.test/rss")

	item := model.Item{SourceID: src.ID, Link: "https://example.test/post"}
	if err := s.CreateItem(ctx, &item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	n := model.Notification{ItemID: item.ID, Channel: "webhook", Payload: `{"k":"v"}`}
	if err := s.CreateNotification(ctx, &n); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	if err := s.DeleteSource(ctx, src.ID); err != nil {
		t.Fatalf("delete source: %v", err)
	}

	if _, err := s.GetItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected item cascade delete, got %v", err)
	}
	pending, err := s.ListNotificationsByStatus(ctx, model.StatusPending)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected notification cascade delete, got %d records", len(pending))
	}
}

func TestNotificationStatusFlow(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	src := newTestSource(t, s, "https://example.test/rss")
	item := model.Item{SourceID: src.ID, Link: "https://example.test/post"}
	if err := s.CreateItem(ctx, &item); err != nil {
		t.Fatalf("create item: %v", err)
	}

	n := model.Notification{ItemID: item.ID, Channel: "webhook", Payload: `{"title":"x"}`}
	if err := s.CreateNotification(ctx, &n); err != nil {
		t.Fatalf("create notification: %v", err)
	}
	if n.Status != model.StatusPending {
		t.Errorf("expected default pending status, got %q", n.Status)
	}

	if err := s.UpdateNotificationStatus(ctx, n.ID, model.StatusRetrying, "timeout"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	retrying, err := s.ListNotificationsByStatus(ctx, model.StatusRetrying)
	if err != nil {
		t.Fatalf("list retrying: %v", err)
	}
	if len(retrying) != 1 {
		t.Fatalf("expected 1 retrying notification, got %d", len(retrying))
	}
	if retrying[0].RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", retrying[0].RetryCount)
	}
	if retrying[0].ErrorMessage != "timeout" {
		t.Errorf("expected error message recorded, got %q", retrying[0].ErrorMessage)
	}
}
