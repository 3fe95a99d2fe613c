// Package model defines the domain types used across the application.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceMode selects how a source's URL is interpreted during a crawl.
type SourceMode string

// Supported source modes.
const (
	ModeRSS  SourceMode = "rss"
	ModeHTML SourceMode = "html"
	ModeAuto SourceMode = "auto"
)

// Valid reports whether m is one of the supported modes.
func (m SourceMode) Valid() bool {
	switch m {
	case ModeRSS, ModeHTML, ModeAuto:
		return true
	}
	return false
}

// Source represents a monitored endpoint with its filter rules and
// scheduling configuration. URLs are unique across all sources.
type Source struct {
	ID              uuid.UUID
	Name            string
	URL             string
	Mode            SourceMode
	FilterKeywords  []string
	FilterRegex     []string
	IntervalMinutes int
	LastChecked     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item represents one discovered unit of content. The (SourceID, Link)
// pair is unique; ContentHash equality across items signals duplicated
// content but does not block creation.
type Item struct {
	ID           uuid.UUID
	SourceID     uuid.UUID
	Title        string
	Link         string
	Summary      string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
	ContentHash  string
}

// NotificationStatus tracks the delivery state of a notification record.
type NotificationStatus string

// Supported notification statuses.
const (
	StatusPending  NotificationStatus = "pending"
	StatusSent     NotificationStatus = "sent"
	StatusFailed   NotificationStatus = "failed"
	StatusRetrying NotificationStatus = "retrying"
)

// Notification records a delivery attempt for an item. Delivery itself is
// handled downstream; the crawler never creates these.
type Notification struct {
	ID           uuid.UUID
	ItemID       uuid.UUID
	Channel      string
	Payload      string
	Status       NotificationStatus
	ErrorMessage string
	RetryCount   int
	SentAt       time.Time
}
