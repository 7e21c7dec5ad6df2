// Package ingest turns stream items into rows: it resolves an item's
// upstream references, then records the community, author, snapshot, post
// and reply in a single transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/subledger/internal/metrics"
	"github.com/elonfeng/subledger/internal/store"
	"github.com/elonfeng/subledger/pkg/source"
)

var (
	// ErrUnknownItemKind is returned for an item that is neither a
	// submission nor a comment.
	ErrUnknownItemKind = errors.New("ingest: unknown item kind")

	// ErrMalformedItem is returned for an item missing a reference every
	// item must carry, such as its community or a comment's submission.
	ErrMalformedItem = errors.New("ingest: malformed item")
)

const (
	roleAuthor       = "author"
	roleParentAuthor = "parent_author"
)

// Store is the transactional part of the store used by the pipeline.
type Store interface {
	InTx(ctx context.Context, fn func(q store.Querier) error) error
}

// Options tunes a Pipeline.
type Options struct {
	// DoNotScanUsers are recorded as authors but never snapshotted.
	DoNotScanUsers []string
	// Now overrides the snapshot clock. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline ingests one item at a time.
type Pipeline struct {
	store  Store
	logger *zap.Logger
	skip   *source.NameFilter
	clock  *snapshotClock
}

// New creates a pipeline writing to s.
func New(s Store, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:  s,
		logger: logger.Named("ingest"),
		skip:   source.NewNameFilter(opts.DoNotScanUsers),
		clock:  newSnapshotClock(opts.Now),
	}
}

// resolvedAuthor is an author reference read ahead of the transaction. A nil
// identity stands for the sentinel; a nil profile means no snapshot.
type resolvedAuthor struct {
	identity *source.AuthorIdentity
	profile  *source.AuthorProfile
}

// Ingest records item and everything it references. It blocks until the
// transaction commits or fails; on failure nothing of the item is kept.
// Ingesting an item again is a no-op.
func (p *Pipeline) Ingest(ctx context.Context, item source.Item) error {
	start := time.Now()
	kind := "unknown"

	var err error
	switch it := item.(type) {
	case *source.Submission:
		kind = string(source.KindSubmission)
		if it == nil {
			err = fmt.Errorf("%w: nil submission", ErrUnknownItemKind)
			break
		}
		err = p.ingestSubmission(ctx, it)
	case *source.Comment:
		kind = string(source.KindComment)
		if it == nil {
			err = fmt.Errorf("%w: nil comment", ErrUnknownItemKind)
			break
		}
		err = p.ingestComment(ctx, it)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownItemKind, item)
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RecordIngest(kind, result, time.Since(start).Seconds())
	return err
}

func (p *Pipeline) ingestSubmission(ctx context.Context, s *source.Submission) error {
	log := p.logger.With(zap.String("kind", string(source.KindSubmission)), zap.String("id", s.ID))

	community, err := p.resolveCommunity(ctx, s.Community)
	if err != nil {
		return fmt.Errorf("submission %s: %w", s.ID, err)
	}
	author, err := p.resolveAuthor(ctx, log, s.Author, roleAuthor, true)
	if err != nil {
		return fmt.Errorf("submission %s: %w", s.ID, err)
	}

	err = p.store.InTx(ctx, func(q store.Querier) error {
		c, err := p.persistCommunity(ctx, q, community)
		if err != nil {
			return err
		}
		a, err := p.persistAuthor(ctx, q, author)
		if err != nil {
			return err
		}
		if err := p.persistSnapshot(ctx, q, a, author); err != nil {
			return err
		}
		_, err = p.persistPost(ctx, q, s, c, a)
		return err
	})
	if err != nil {
		return fmt.Errorf("submission %s: %w", s.ID, err)
	}
	return nil
}

func (p *Pipeline) ingestComment(ctx context.Context, c *source.Comment) error {
	log := p.logger.With(zap.String("kind", string(source.KindComment)), zap.String("id", c.ID))

	parent := c.Submission
	if parent == nil {
		return fmt.Errorf("comment %s: %w: no parent submission", c.ID, ErrMalformedItem)
	}

	community, err := p.resolveCommunity(ctx, c.Community)
	if err != nil {
		return fmt.Errorf("comment %s: %w", c.ID, err)
	}
	parentCommunity := community
	if parent.Community != nil && parent.Community != c.Community {
		if parentCommunity, err = p.resolveCommunity(ctx, parent.Community); err != nil {
			return fmt.Errorf("comment %s: parent %s: %w", c.ID, parent.ID, err)
		}
	}

	author, err := p.resolveAuthor(ctx, log, c.Author, roleAuthor, true)
	if err != nil {
		return fmt.Errorf("comment %s: %w", c.ID, err)
	}
	// The parent's author is needed for linking only and is never snapshotted.
	parentAuthor, err := p.resolveAuthor(ctx, log.With(zap.String("parent_id", parent.ID)), parent.Author, roleParentAuthor, false)
	if err != nil {
		return fmt.Errorf("comment %s: parent %s: %w", c.ID, parent.ID, err)
	}

	err = p.store.InTx(ctx, func(q store.Querier) error {
		if _, err := p.persistCommunity(ctx, q, community); err != nil {
			return err
		}
		pc, err := p.persistCommunity(ctx, q, parentCommunity)
		if err != nil {
			return err
		}
		a, err := p.persistAuthor(ctx, q, author)
		if err != nil {
			return err
		}
		if err := p.persistSnapshot(ctx, q, a, author); err != nil {
			return err
		}
		pa, err := p.persistAuthor(ctx, q, parentAuthor)
		if err != nil {
			return err
		}
		post, err := p.persistPost(ctx, q, parent, pc, pa)
		if err != nil {
			return err
		}
		_, err = p.persistReply(ctx, q, c, post, a)
		return err
	})
	if err != nil {
		return fmt.Errorf("comment %s: %w", c.ID, err)
	}
	return nil
}

func (p *Pipeline) resolveCommunity(ctx context.Context, ref source.CommunityRef) (source.CommunityInfo, error) {
	if ref == nil {
		return source.CommunityInfo{}, fmt.Errorf("%w: no community", ErrMalformedItem)
	}
	info, err := ref.Info(ctx)
	if err != nil {
		return source.CommunityInfo{}, fmt.Errorf("resolve community: %w", err)
	}
	if info.DisplayName == "" {
		info.DisplayName = ref.DisplayName()
	}
	return info, nil
}

// resolveAuthor reads the identity, and optionally the profile, of ref.
// Any identity failure other than cancellation falls back to the sentinel.
// A profile failure only drops the snapshot.
func (p *Pipeline) resolveAuthor(ctx context.Context, log *zap.Logger, ref source.AuthorRef, role string, wantProfile bool) (resolvedAuthor, error) {
	if ref == nil {
		p.useSentinel(log, role, "", errors.New("author deleted"))
		return resolvedAuthor{}, nil
	}

	id, err := ref.Identity(ctx)
	if err == nil && id.Name == "" {
		err = fmt.Errorf("%w: empty username", source.ErrUnavailable)
	}
	if err != nil {
		if isContextErr(ctx, err) {
			return resolvedAuthor{}, err
		}
		p.useSentinel(log, role, ref.Name(), err)
		return resolvedAuthor{}, nil
	}

	ra := resolvedAuthor{identity: &id}
	if !wantProfile {
		return ra, nil
	}

	if p.skip.Matches(id.Name) || p.skip.Matches(ref.Name()) {
		log.Debug("author excluded from snapshots", zap.String("author", id.Name))
		metrics.RecordSnapshotSkipped("do_not_scan")
		return ra, nil
	}

	profile, err := ref.Profile(ctx)
	if err != nil {
		if isContextErr(ctx, err) {
			return resolvedAuthor{}, err
		}
		log.Warn("author profile unavailable, skipping snapshot",
			zap.String("author", id.Name), zap.Error(err))
		metrics.RecordSnapshotSkipped("profile_unavailable")
		return ra, nil
	}
	ra.profile = &profile
	return ra, nil
}

func (p *Pipeline) useSentinel(log *zap.Logger, role, name string, cause error) {
	log.Warn("author unresolvable, using sentinel",
		zap.String("role", role),
		zap.String("author", name),
		zap.Error(cause))
	metrics.RecordSentinel(role)
}

func isContextErr(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (p *Pipeline) persistCommunity(ctx context.Context, q store.Querier, info source.CommunityInfo) (*store.Community, error) {
	c, created, err := store.GetOrCreate(ctx, q, info.DisplayName, func() (*store.Community, error) {
		return &store.Community{
			DisplayName:       info.DisplayName,
			Fullname:          info.Fullname,
			CommunityID:       info.ID,
			CreatedAt:         optionalTime(info.CreatedAt),
			Description:       info.Description,
			PublicDescription: info.PublicDescription,
			Subscribers:       info.Subscribers,
			Over18:            info.Over18,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.RecordCreated("community")
	}
	return c, nil
}

func (p *Pipeline) persistAuthor(ctx context.Context, q store.Querier, ra resolvedAuthor) (*store.Author, error) {
	key := store.SentinelUsername
	var createdAt *time.Time
	if ra.identity != nil {
		key = ra.identity.Name
		createdAt = optionalTime(ra.identity.CreatedAt)
	}

	a, created, err := store.GetOrCreate(ctx, q, key, func() (*store.Author, error) {
		return &store.Author{Username: key, CreatedAt: createdAt}, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.RecordCreated("author")
	}
	return a, nil
}

func (p *Pipeline) persistSnapshot(ctx context.Context, q store.Querier, a *store.Author, ra resolvedAuthor) error {
	if ra.profile == nil || a.IsSentinel() {
		return nil
	}
	prof := ra.profile
	snap := &store.AuthorSnapshot{
		CapturedAt:         p.clock.next(),
		LinkKarma:          prof.LinkKarma,
		CommentKarma:       prof.CommentKarma,
		HasVerifiedEmail:   prof.HasVerifiedEmail,
		ProfileTitle:       prof.ProfileTitle,
		ProfileDescription: prof.ProfileDescription,
		ProfileOver18:      prof.ProfileOver18,
	}
	if err := store.AppendSnapshot(ctx, q, a, snap); err != nil {
		return err
	}
	metrics.SnapshotsWrittenTotal.Inc()
	return nil
}

func (p *Pipeline) persistPost(ctx context.Context, q store.Querier, s *source.Submission, c *store.Community, a *store.Author) (*store.Post, error) {
	post, created, err := store.GetOrCreateAndLink(ctx, q, s.ID, func() (*store.Post, error) {
		return &store.Post{
			ID:        s.ID,
			CreatedAt: normalize(s.CreatedAt),
			Title:     s.Title,
			Body:      s.SelfText,
			Permalink: s.Permalink,
			URL:       s.URL,
			Flair:     s.LinkFlair,
			IsSelf:    s.IsSelf,
			Over18:    s.Over18,
		}, nil
	}, store.RelationPosts, c, a)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.RecordCreated("post")
	}
	return post, nil
}

func (p *Pipeline) persistReply(ctx context.Context, q store.Querier, c *source.Comment, post *store.Post, a *store.Author) (*store.Reply, error) {
	r, created, err := store.GetOrCreateAndLink(ctx, q, c.ID, func() (*store.Reply, error) {
		return &store.Reply{
			ID:        c.ID,
			CreatedAt: normalize(c.CreatedAt),
			Body:      c.Body,
			Permalink: c.Permalink,
			ParentID:  c.ParentID,
		}, nil
	}, store.RelationReplies, post, a)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.RecordCreated("reply")
	}
	return r, nil
}
