package domain

import (
	"strings"
	"time"
)

// ChangeType is the kind of row mutation reported by the change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// EventMask selects which change types a subscription receives.
type EventMask uint8

const (
	MaskInsert EventMask = 1 << iota
	MaskUpdate
	MaskDelete

	MaskAll = MaskInsert | MaskUpdate | MaskDelete
)

// Has reports whether the mask selects t.
func (m EventMask) Has(t ChangeType) bool {
	switch t {
	case ChangeInsert:
		return m&MaskInsert != 0
	case ChangeUpdate:
		return m&MaskUpdate != 0
	case ChangeDelete:
		return m&MaskDelete != 0
	default:
		return false
	}
}

func (m EventMask) String() string {
	if m == MaskAll {
		return "*"
	}
	var parts []string
	if m&MaskInsert != 0 {
		parts = append(parts, "insert")
	}
	if m&MaskUpdate != 0 {
		parts = append(parts, "update")
	}
	if m&MaskDelete != 0 {
		parts = append(parts, "delete")
	}
	return strings.Join(parts, "|")
}

// ChangeEvent is one notification from the record store.
type ChangeEvent struct {
	Type     ChangeType `json:"type"`
	Table    string     `json:"table"`
	Record   *Bookmark  `json:"record,omitempty"`
	OldID    string     `json:"old_id,omitempty"`
	CommitAt time.Time  `json:"commit_timestamp"`
}

// OwnerID returns the owner of the row the event is about.
func (e ChangeEvent) OwnerID() string {
	if e.Record != nil {
		return e.Record.OwnerID
	}
	return ""
}

// ChangeFilter scopes a change-feed subscription.
type ChangeFilter struct {
	Table string
	// OwnerID restricts events to one owner. Empty means table-wide.
	OwnerID string
	Mask    EventMask
}

// Match reports whether ev passes the filter.
func (f ChangeFilter) Match(ev ChangeEvent) bool {
	if f.Table != "" && ev.Table != f.Table {
		return false
	}
	if f.OwnerID != "" && ev.OwnerID() != f.OwnerID {
		return false
	}
	mask := f.Mask
	if mask == 0 {
		mask = MaskAll
	}
	return mask.Has(ev.Type)
}
