package model

import "time"

const (
	// DefaultMIME is served when the ingestion source did not declare a content type.
	DefaultMIME = "application/octet-stream"
	// DefaultFilename is used in Content-Disposition when no name was declared.
	DefaultFilename = "file"
)

// Link represents one issued streaming link.
// This is a pure domain model with no database-specific dependencies or tags.
// A Link is never mutated after creation; it is only inserted and deleted.
type Link struct {
	Token        string    `json:"token"`
	ObjectRef    string    `json:"-"`
	SourceID     string    `json:"source_id,omitempty"`
	MIME         string    `json:"mime,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	DeclaredSize *int64    `json:"declared_size,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ContentType returns the declared MIME type or the generic default.
func (l *Link) ContentType() string {
	if l.MIME == "" {
		return DefaultMIME
	}
	return l.MIME
}

// DisplayName returns the declared filename or the generic default.
func (l *Link) DisplayName() string {
	if l.Filename == "" {
		return DefaultFilename
	}
	return l.Filename
}

// ExpiresAt is the last instant at which the link is still served.
func (l *Link) ExpiresAt(ttl time.Duration) time.Time {
	return l.CreatedAt.Add(ttl)
}

// Expired reports whether now lies strictly past the TTL horizon.
func (l *Link) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.CreatedAt) > ttl
}

// Size returns the declared size, or -1 when the ingestion source did not report one.
func (l *Link) Size() int64 {
	if l.DeclaredSize == nil {
		return -1
	}
	return *l.DeclaredSize
}
