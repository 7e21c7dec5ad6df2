package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable reports that a field group of an upstream object cannot
	// be read: the account is deleted, suspended, or the field is absent.
	ErrUnavailable = errors.New("source: unavailable")

	// ErrScopeNotFound reports that a watched scope (a community) is
	// temporarily inaccessible to the stream.
	ErrScopeNotFound = errors.New("source: scope not found")
)

// Kind names the two item variants.
type Kind string

const (
	KindSubmission Kind = "submission"
	KindComment    Kind = "comment"
)

// Item is a raw upstream item. The set of implementations is closed:
// *Submission and *Comment.
type Item interface {
	ItemID() string
	ItemKind() Kind
	sealed()
}

// Submission is a top-level post in a community.
type Submission struct {
	ID        string
	CreatedAt time.Time
	Author    AuthorRef // nil when the author is deleted
	Community CommunityRef
	Title     string
	SelfText  string
	Permalink string
	URL       string
	LinkFlair string
	IsSelf    bool
	Over18    bool
}

func (s *Submission) ItemID() string { return s.ID }
func (s *Submission) ItemKind() Kind { return KindSubmission }
func (*Submission) sealed() {}

// Comment is a reply attached to a submission, possibly nested under another
// comment. ParentID is the raw upstream fullname of the direct parent.
type Comment struct {
	ID         string
	CreatedAt  time.Time
	Author     AuthorRef
	Community  CommunityRef
	Body       string
	Permalink  string
	ParentID   string
	Submission *Submission
}

func (c *Comment) ItemID() string { return c.ID }
func (c *Comment) ItemKind() Kind { return KindComment }
func (*Comment) sealed() {}

// AuthorIdentity holds the fields needed to materialize an author row.
type AuthorIdentity struct {
	Name      string
	CreatedAt time.Time
}

// AuthorProfile holds the fields captured by a point-in-time snapshot.
type AuthorProfile struct {
	LinkKarma          int
	CommentKarma       int
	HasVerifiedEmail   bool
	ProfileTitle       string
	ProfileDescription string
	ProfileOver18      bool
}

// AuthorRef is a lazy reference to an upstream account. Each accessor may
// fetch and may fail independently; a failure wraps ErrUnavailable when the
// account cannot be read at all.
type AuthorRef interface {
	Name() string
	Identity(ctx context.Context) (AuthorIdentity, error)
	Profile(ctx context.Context) (AuthorProfile, error)
}

// CommunityInfo holds the fields of a community row.
type CommunityInfo struct {
	DisplayName       string
	Fullname          string
	ID                string
	CreatedAt         time.Time
	Description       string
	PublicDescription string
	Subscribers       int
	Over18            bool
}

// CommunityRef is a lazy reference to an upstream community.
type CommunityRef interface {
	DisplayName() string
	Info(ctx context.Context) (CommunityInfo, error)
}

// Stream yields items one at a time. A nil item with a nil error is a
// keepalive: nothing new arrived since the last poll.
type Stream interface {
	Next(ctx context.Context) (Item, error)
}

// StatusError is a non-2xx response from the upstream API.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Op, e.Code)
}

// IsRetryable reports whether the request may succeed if repeated.
func (e *StatusError) IsRetryable() bool {
	return e.Code == 429 || e.Code >= 500
}

func unixUTC(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole := int64(sec)
	frac := sec - float64(whole)
	return time.Unix(whole, int64(frac*1e9)).UTC()
}
