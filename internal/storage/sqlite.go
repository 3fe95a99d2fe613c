package storage

import (
	"context"
	"database/sql"
	"errors"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"sitewatch/internal/model"
	"sitewatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSource inserts a new source, populating its ID and timestamps.
// Returns ErrDuplicate if a source with the same URL already exists.
func (s *SQLite) CreateSource(ctx context.Context, src *model.Source) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, url, mode, filter_keywords, filter_regex, interval_minutes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID.String(), src.Name, src.URL, string(src.Mode),
		marshalList(src.FilterKeywords), marshalList(src.FilterRegex),
		src.IntervalMinutes, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("source url %s: %w", src.URL, ErrDuplicate)
		}
		return fmt.Errorf("insert source: %w", err)
	}
	src.CreatedAt = now
	src.UpdatedAt = now
	return nil
}

const sourceColumns = `id, name, url, mode, filter_keywords, filter_regex, interval_minutes, last_checked, created_at, updated_at`

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id uuid.UUID) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id.String(),
	)
	return scanSource(row)
}

// ListSources returns all sources ordered by creation time.
func (s *SQLite) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// ListDueSources returns all sources whose check interval has elapsed since
// they were last checked, including sources never checked at all.
func (s *SQLite) ListDueSources(ctx context.Context) ([]model.Source, error) {
	now := time.Now().UTC().Format(timeLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources
		 WHERE last_checked IS NULL
		    OR datetime(last_checked, '+' || interval_minutes || ' minutes') <= datetime(?)`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query due sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// SourceExistsByURL checks whether any source monitors the given URL.
func (s *SQLite) SourceExistsByURL(ctx context.Context, url string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sources WHERE url = ?`, url,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check source url: %w", err)
	}
	return count > 0, nil
}

// UpdateSourceLastChecked advances a source's last-checked timestamp.
func (s *SQLite) UpdateSourceLastChecked(ctx context.Context, id uuid.UUID, checked time.Time) error {
	ts := checked.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_checked = ?, updated_at = ? WHERE id = ?`,
		ts, ts, id.String(),
	)
	if err != nil {
		return fmt.Errorf("update last checked: %w", err)
	}
	return nil
}

// DeleteSource removes a source together with its items and their
// notification records.
func (s *SQLite) DeleteSource(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications WHERE item_id IN (SELECT id FROM items WHERE source_id = ?)`,
		id.String()); err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE source_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// CreateItem inserts a new item, populating its ID. Returns ErrDuplicate if
// an item with the same (source, link) pair already exists.
func (s *SQLite) CreateItem(ctx context.Context, item *model.Item) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now().UTC().Truncate(time.Second)
	}
	var published *string
	if item.PublishedAt != nil {
		v := item.PublishedAt.UTC().Format(timeLayout)
		published = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, source_id, title, link, summary, published_at, discovered_at, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID.String(), item.SourceID.String(), item.Title, item.Link, item.Summary,
		published, item.DiscoveredAt.UTC().Format(timeLayout), item.ContentHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("item (%s, %s): %w", item.SourceID, item.Link, ErrDuplicate)
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

const itemColumns = `id, source_id, title, link, summary, published_at, discovered_at, content_hash`

// GetItem returns a single item by its ID.
func (s *SQLite) GetItem(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id.String(),
	)
	return scanItem(row)
}

// ItemExists checks whether an item with the given link exists for a source.
func (s *SQLite) ItemExists(ctx context.Context, sourceID uuid.UUID, link string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE source_id = ? AND link = ?`,
		sourceID.String(), link,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check item: %w", err)
	}
	return count > 0, nil
}

// ListItems returns items ordered by published date descending, newest
// discoveries first among undated items. Passing uuid.Nil as sourceID lists
// items across all sources.
func (s *SQLite) ListItems(ctx context.Context, sourceID uuid.UUID, limit, offset int) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	args := []any{}
	if sourceID != uuid.Nil {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID.String())
	}
	query += ` ORDER BY published_at DESC, discovered_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

// FindItemsByContentHash returns items sharing a fingerprint, across all
// sources. The empty sentinel fingerprint is not a valid key.
func (s *SQLite) FindItemsByContentHash(ctx context.Context, hash string) ([]model.Item, error) {
	if hash == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE content_hash = ? ORDER BY discovered_at, id`, hash,
	)
	if err != nil {
		return nil, fmt.Errorf("query items by hash: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

// CountItemsBySource returns the number of items discovered for a source.
func (s *SQLite) CountItemsBySource(ctx context.Context, sourceID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE source_id = ?`, sourceID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// CreateNotification inserts a delivery record for an item.
func (s *SQLite) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = model.StatusPending
	}
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, item_id, channel, payload, status, error_message, retry_count, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.ItemID.String(), n.Channel, n.Payload, string(n.Status),
		n.ErrorMessage, n.RetryCount, n.SentAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotificationsByStatus returns notification records in a given state.
func (s *SQLite) ListNotificationsByStatus(ctx context.Context, status model.NotificationStatus) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, channel, payload, status, error_message, retry_count, sent_at
		 FROM notifications WHERE status = ? ORDER BY sent_at, id`, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// UpdateNotificationStatus transitions a notification record, incrementing
// the retry counter when entering the retrying state.
func (s *SQLite) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, errorMessage string) error {
	retryDelta := 0
	if status == model.StatusRetrying {
		retryDelta = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, error_message = ?, retry_count = retry_count + ? WHERE id = ?`,
		string(status), errorMessage, retryDelta, id.String(),
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalList(values []string) *string {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func unmarshalList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil
	}
	return values
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var id, mode string
	var keywords, regex, lastChecked, created, updated sql.NullString
	err := row.Scan(&id, &src.Name, &src.URL, &mode, &keywords, &regex,
		&src.IntervalMinutes, &lastChecked, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse source id: %w", err)
	}
	src.Mode = model.SourceMode(mode)
	src.FilterKeywords = unmarshalList(keywords)
	src.FilterRegex = unmarshalList(regex)
	if lastChecked.Valid {
		t, _ := time.Parse(timeLayout, lastChecked.String)
		src.LastChecked = &t
	}
	if created.Valid {
		src.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if updated.Valid {
		src.UpdatedAt, _ = time.Parse(timeLayout, updated.String)
	}
	return &src, nil
}

func scanSources(rows *sql.Rows) ([]model.Source, error) {
	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

func scanItem(row scannable) (*model.Item, error) {
	var item model.Item
	var id, sourceID string
	var published, discovered sql.NullString
	err := row.Scan(&id, &sourceID, &item.Title, &item.Link, &item.Summary,
		&published, &discovered, &item.ContentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	item.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse item id: %w", err)
	}
	item.SourceID, err = uuid.Parse(sourceID)
	if err != nil {
		return nil, fmt.Errorf("parse item source id: %w", err)
	}
	if published.Valid {
		t, _ := time.Parse(timeLayout, published.String)
		item.PublishedAt = &t
	}
	if discovered.Valid {
		item.DiscoveredAt, _ = time.Parse(timeLayout, discovered.String)
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanNotification(row scannable) (model.Notification, error) {
	var n model.Notification
	var id, itemID, status string
	var sentAt sql.NullString
	err := row.Scan(&id, &itemID, &n.Channel, &n.Payload, &status, &n.ErrorMessage, &n.RetryCount, &sentAt)
	if err != nil {
		return n, fmt.Errorf("scan notification: %w", err)
	}
	n.ID, err = uuid.Parse(id)
	if err != nil {
		return n, fmt.Errorf("parse notification id: %w", err)
	}
	n.ItemID, err = uuid.Parse(itemID)
	if err != nil {
		return n, fmt.Errorf("parse notification item id: %w", err)
	}
	n.Status = model.NotificationStatus(status)
	if sentAt.Valid {
		n.SentAt, _ = time.Parse(timeLayout, sentAt.String)
	}
	return n, nil
}
