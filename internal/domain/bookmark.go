package domain

import (
	"strings"
	"time"
)

// TableBookmarks is the name of the record table that holds bookmarks.
const TableBookmarks = "bookmarks"

// ProvisionalPrefix marks identifiers generated locally for optimistic entries.
const ProvisionalPrefix = "tmp-"

// Bookmark is a user-owned link record.
type Bookmark struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// ID is assigned by the store (UUID).
	// Optimistic entries carry a local "tmp-" identifier instead.
	ID string `json:"id"`

	// OwnerID is the user_id of the session that created the record.
	OwnerID string `json:"user_id"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	Title string `json:"title"`
	URL   string `json:"url"`

	// CreatedAt is assigned by the store and is the only sort key (newest first).
	CreatedAt time.Time `json:"created_at"`

	// ─────────────────────────────
	// Local state (never persisted)
	// ─────────────────────────────

	// Provisional is true while the entry only exists locally.
	Provisional bool `json:"-"`
}

// IsProvisionalID reports whether id was generated locally.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Draft is the payload of a bookmark insert.
type Draft struct {
	Title   string
	URL     string
	OwnerID string
}

// Validate rejects drafts with an empty title or URL.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return NewError(CodeValidation, "title cannot be empty", nil)
	}
	if strings.TrimSpace(d.URL) == "" {
		return NewError(CodeValidation, "url cannot be empty", nil)
	}
	return nil
}

// Normalize returns a copy with surrounding whitespace removed.
func (d Draft) Normalize() Draft {
	return Draft{
		Title:   strings.TrimSpace(d.Title),
		URL:     strings.TrimSpace(d.URL),
		OwnerID: d.OwnerID,
	}
}

// Form holds the pending, not yet submitted bookmark fields.
type Form struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
