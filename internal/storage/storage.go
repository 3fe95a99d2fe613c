// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id uuid.UUID) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)
	ListDueSources(ctx context.Context) ([]model.Source, error)
	SourceExistsByURL(ctx context.Context, url string) (bool, error)
	UpdateSourceLastChecked(ctx context.Context, id uuid.UUID, checked time.Time) error
	DeleteSource(ctx context.Context, id uuid.UUID) error

	CreateItem(ctx context.Context, item *model.Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*model.Item, error)
	ItemExists(ctx context.Context, sourceID uuid.UUID, link string) (bool, error)
	ListItems(ctx context.Context, sourceID uuid.UUID, limit, offset int) ([]model.Item, error)
	FindItemsByContentHash(ctx context.Context, hash string) ([]model.Item, error)
	CountItemsBySource(ctx context.Context, sourceID uuid.UUID) (int64, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotificationsByStatus(ctx context.Context, status model.NotificationStatus) ([]model.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, errorMessage string) error

	Close() error
}
