package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by the Get* lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Stats holds row counts per table.
type Stats struct {
	Communities int `json:"communities"`
	Authors     int `json:"authors"`
	Snapshots   int `json:"snapshots"`
	Posts       int `json:"posts"`
	Replies     int `json:"replies"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{communitySpec.name, &st.Communities},
		{authorSpec.name, &st.Authors},
		{snapshotSpec.name, &st.Snapshots},
		{postSpec.name, &st.Posts},
		{replySpec.name, &st.Replies},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dst, "SELECT COUNT(*) FROM "+c.table); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return &st, nil
}

func (s *Store) GetCommunity(ctx context.Context, name string) (*Community, error) {
	return lookup[Community](ctx, s, name)
}

func (s *Store) GetAuthor(ctx context.Context, username string) (*Author, error) {
	return lookup[Author](ctx, s, username)
}

func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	return lookup[Post](ctx, s, id)
}

func (s *Store) GetReply(ctx context.Context, id string) (*Reply, error) {
	return lookup[Reply](ctx, s, id)
}

func lookup[T any, P KeyedPtr[T]](ctx context.Context, s *Store, key any) (P, error) {
	spec := P(new(T)).spec()
	row, err := get[T, P](ctx, s.db, spec, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, spec.name, key)
	}
	return row, nil
}

// ListSnapshots returns an author's snapshots, newest first. A limit of zero
// or less returns all of them.
func (s *Store) ListSnapshots(ctx context.Context, username string, limit int) ([]AuthorSnapshot, error) {
	query := `SELECT username, captured_at, link_karma, comment_karma, has_verified_email,
		profile_title, profile_description, profile_over18
		FROM author_snapshots WHERE username = ? ORDER BY captured_at DESC`
	args := []any{username}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var snaps []AuthorSnapshot
	if err := s.db.SelectContext(ctx, &snaps, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", username, err)
	}
	return snaps, nil
}

// ListReplies returns the replies to a post in creation order.
func (s *Store) ListReplies(ctx context.Context, postID string) ([]Reply, error) {
	query := `SELECT id, created_at, author_name, post_id, body, permalink, parent_id
		FROM replies WHERE post_id = ? ORDER BY created_at, id`

	var replies []Reply
	if err := s.db.SelectContext(ctx, &replies, s.db.Rebind(query), postID); err != nil {
		return nil, fmt.Errorf("list replies %s: %w", postID, err)
	}
	return replies, nil
}

// ListPostsByAuthor returns the most recent posts recorded for username.
func (s *Store) ListPostsByAuthor(ctx context.Context, username string, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, created_at, author_name, community_name, title, body,
		permalink, url, flair, is_self, over18
		FROM posts WHERE author_name = ? ORDER BY created_at DESC LIMIT ?`

	var posts []Post
	if err := s.db.SelectContext(ctx, &posts, s.db.Rebind(query), username, limit); err != nil {
		return nil, fmt.Errorf("list posts by %s: %w", username, err)
	}
	return posts, nil
}
