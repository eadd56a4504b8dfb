package docstore

import (
	"strings"
	"time"
)

// Type is the type of a document.
type Type string

// TW5 is the only document type presently recognized.
const TW5 Type = "tw5"

// ContentType is the media type of every document's content.
const ContentType = "text/html"

// Known tells whether t is a recognized document type.
func (t Type) Known() bool {
	return t == TW5
}

// ParseType converts s to a Type,
// returning ErrUnknownType if it is not recognized.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Known() {
		return "", ErrUnknownType
	}
	return t, nil
}

// Document is the identity of a document.
// Its ID is assigned once, at creation,
// and it belongs to exactly one tenant for its whole life.
type Document struct {
	ID        string
	TenantID  string
	Name      string
	Type      Type
	CreatedAt time.Time
}

// Entry is one document in a tenant's listing.
type Entry struct {
	DocumentID string
	Name       string
	Type       Type
	URL        string
	CreatedAt  time.Time
}

// Millis converts t to milliseconds since the epoch,
// which is how timestamps are persisted.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
