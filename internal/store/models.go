package store

import (
	"errors"
	"fmt"
	"time"
)

// SentinelUsername keys the shared author row used for every author that
// cannot be resolved upstream. It is also the display value recorded on
// posts and replies by such authors.
const SentinelUsername = "[missing]"

// Relation names a one-to-many collection owned by a parent entity.
type Relation string

const (
	RelationPosts     Relation = "posts"
	RelationReplies   Relation = "replies"
	RelationSnapshots Relation = "snapshots"
)

// ErrUnknownRelation is returned when a parent is asked to attach a child to
// a relation it does not own.
var ErrUnknownRelation = errors.New("store: unknown relation")

// Entity is a row of one of the store's tables.
type Entity interface {
	spec() tableSpec
}

// Keyed is an entity with a single-column natural primary key.
type Keyed interface {
	Entity
	keyValue() any
}

// Parent owns one or more relations and can attach a newly created child.
type Parent interface {
	Keyed
	Attach(rel Relation, child Entity) error
}

type tableSpec struct {
	name   string
	key    string
	insert []string
}

func unknownRelation(parent Entity, rel Relation, child Entity) error {
	return fmt.Errorf("%w: %s cannot own %s of %T", ErrUnknownRelation, parent.spec().name, rel, child)
}

// Community is a named content scope.
type Community struct {
	DisplayName       string     `db:"display_name" json:"display_name"`
	Fullname          string     `db:"fullname" json:"fullname"`
	CommunityID       string     `db:"community_id" json:"community_id"`
	CreatedAt         *time.Time `db:"created_at" json:"created_at,omitempty"`
	Description       string     `db:"description" json:"description"`
	PublicDescription string     `db:"public_description" json:"public_description"`
	Subscribers       int        `db:"subscribers" json:"subscribers"`
	Over18            bool       `db:"over18" json:"over18"`

	Posts []*Post `db:"-" json:"-"`
}

var communitySpec = tableSpec{
	name: "communities",
	key:  "display_name",
	insert: []string{
		"display_name", "fullname", "community_id", "created_at",
		"description", "public_description", "subscribers", "over18",
	},
}

func (*Community) spec() tableSpec { return communitySpec }
func (c *Community) keyValue() any { return c.DisplayName }

// Attach links a new post to this community.
func (c *Community) Attach(rel Relation, child Entity) error {
	p, ok := child.(*Post)
	if rel != RelationPosts || !ok {
		return unknownRelation(c, rel, child)
	}
	p.CommunityName = c.DisplayName
	c.Posts = append(c.Posts, p)
	return nil
}

// Author is an upstream account. CreatedAt is nil for the sentinel.
type Author struct {
	Username  string     `db:"username" json:"username"`
	CreatedAt *time.Time `db:"created_at" json:"created_at,omitempty"`

	Snapshots []*AuthorSnapshot `db:"-" json:"-"`
	Posts     []*Post           `db:"-" json:"-"`
	Replies   []*Reply          `db:"-" json:"-"`
}

var authorSpec = tableSpec{
	name:   "authors",
	key:    "username",
	insert: []string{"username", "created_at"},
}

func (*Author) spec() tableSpec { return authorSpec }
func (a *Author) keyValue() any { return a.Username }

// IsSentinel reports whether a stands in for an unresolvable author.
func (a *Author) IsSentinel() bool { return a.Username == SentinelUsername }

// Attach links a new post, reply, or snapshot to this author.
func (a *Author) Attach(rel Relation, child Entity) error {
	switch c := child.(type) {
	case *Post:
		if rel == RelationPosts {
			c.AuthorName = a.Username
			a.Posts = append(a.Posts, c)
			return nil
		}
	case *Reply:
		if rel == RelationReplies {
			c.AuthorName = a.Username
			a.Replies = append(a.Replies, c)
			return nil
		}
	case *AuthorSnapshot:
		if rel == RelationSnapshots {
			c.Username = a.Username
			a.Snapshots = append(a.Snapshots, c)
			return nil
		}
	}
	return unknownRelation(a, rel, child)
}

// AuthorSnapshot is an immutable point-in-time capture of an author's
// public profile.
type AuthorSnapshot struct {
	Username           string    `db:"username" json:"username"`
	CapturedAt         time.Time `db:"captured_at" json:"captured_at"`
	LinkKarma          int       `db:"link_karma" json:"link_karma"`
	CommentKarma       int       `db:"comment_karma" json:"comment_karma"`
	HasVerifiedEmail   bool      `db:"has_verified_email" json:"has_verified_email"`
	ProfileTitle       string    `db:"profile_title" json:"profile_title"`
	ProfileDescription string    `db:"profile_description" json:"profile_description"`
	ProfileOver18      bool      `db:"profile_over18" json:"profile_over18"`
}

var snapshotSpec = tableSpec{
	name: "author_snapshots",
	insert: []string{
		"username", "captured_at", "link_karma", "comment_karma",
		"has_verified_email", "profile_title", "profile_description", "profile_over18",
	},
}

func (*AuthorSnapshot) spec() tableSpec { return snapshotSpec }

// Post is a top-level submission.
type Post struct {
	ID            string    `db:"id" json:"id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	AuthorName    string    `db:"author_name" json:"author_name"`
	CommunityName string    `db:"community_name" json:"community_name"`
	Title         string    `db:"title" json:"title"`
	Body          string    `db:"body" json:"body"`
	Permalink     string    `db:"permalink" json:"permalink"`
	URL           string    `db:"url" json:"url"`
	Flair         string    `db:"flair" json:"flair"`
	IsSelf        bool      `db:"is_self" json:"is_self"`
	Over18        bool      `db:"over18" json:"over18"`

	Replies []*Reply `db:"-" json:"-"`
}

var postSpec = tableSpec{
	name: "posts",
	key:  "id",
	insert: []string{
		"id", "created_at", "author_name", "community_name", "title",
		"body", "permalink", "url", "flair", "is_self", "over18",
	},
}

func (*Post) spec() tableSpec { return postSpec }
func (p *Post) keyValue() any { return p.ID }

// Attach links a new reply to this post.
func (p *Post) Attach(rel Relation, child Entity) error {
	r, ok := child.(*Reply)
	if rel != RelationReplies || !ok {
		return unknownRelation(p, rel, child)
	}
	r.PostID = p.ID
	p.Replies = append(p.Replies, r)
	return nil
}

// Reply is a comment on a post. ParentID is the raw upstream parent and may
// name another reply; only the post is modeled as a foreign key.
type Reply struct {
	ID         string    `db:"id" json:"id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	AuthorName string    `db:"author_name" json:"author_name"`
	PostID     string    `db:"post_id" json:"post_id"`
	Body       string    `db:"body" json:"body"`
	Permalink  string    `db:"permalink" json:"permalink"`
	ParentID   string    `db:"parent_id" json:"parent_id"`
}

var replySpec = tableSpec{
	name: "replies",
	key:  "id",
	insert: []string{
		"id", "created_at", "author_name", "post_id", "body", "permalink", "parent_id",
	},
}

func (*Reply) spec() tableSpec { return replySpec }
func (r *Reply) keyValue() any { return r.ID }
