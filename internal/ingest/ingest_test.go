package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elonfeng/subledger/internal/store"
	"github.com/elonfeng/subledger/pkg/source"
)

type fakeAuthor struct {
	name        string
	created     time.Time
	identityErr error
	profile     *source.AuthorProfile
	profileErr  error

	identityCalls int
	profileCalls  int
}

func (a *fakeAuthor) Name() string { return a.name }

func (a *fakeAuthor) Identity(ctx context.Context) (source.AuthorIdentity, error) {
	a.identityCalls++
	if a.identityErr != nil {
		return source.AuthorIdentity{}, a.identityErr
	}
	return source.AuthorIdentity{Name: a.name, CreatedAt: a.created}, nil
}

func (a *fakeAuthor) Profile(ctx context.Context) (source.AuthorProfile, error) {
	a.profileCalls++
	if a.profileErr != nil {
		return source.AuthorProfile{}, a.profileErr
	}
	if a.profile == nil {
		return source.AuthorProfile{}, fmt.Errorf("%w: no profile", source.ErrUnavailable)
	}
	return *a.profile, nil
}

func resolvable(name string) *fakeAuthor {
	return &fakeAuthor{
		name:    name,
		created: time.Unix(1_400_000_000, 0),
		profile: &source.AuthorProfile{LinkKarma: 10, CommentKarma: 20, ProfileTitle: name + "'s profile"},
	}
}

type fakeCommunity struct {
	info source.CommunityInfo
	err  error
}

func (c *fakeCommunity) DisplayName() string { return c.info.DisplayName }

func (c *fakeCommunity) Info(ctx context.Context) (source.CommunityInfo, error) {
	if c.err != nil {
		return source.CommunityInfo{}, c.err
	}
	return c.info, nil
}

func community(name string, subscribers int) *fakeCommunity {
	return &fakeCommunity{info: source.CommunityInfo{
		DisplayName: name,
		Fullname:    "t5_" + name,
		CreatedAt:   time.Unix(1_200_000_000, 0),
		Subscribers: subscribers,
	}}
}

func submission(id string, author source.AuthorRef, c source.CommunityRef, title string) *source.Submission {
	return &source.Submission{
		ID:        id,
		CreatedAt: time.Unix(1_700_000_000, 123456789),
		Author:    author,
		Community: c,
		Title:     title,
		Permalink: "/r/x/comments/" + id,
		IsSelf:    true,
	}
}

func comment(id string, author source.AuthorRef, parent *source.Submission, body string) *source.Comment {
	return &source.Comment{
		ID:         id,
		CreatedAt:  time.Unix(1_700_000_100, 0),
		Author:     author,
		Community:  parent.Community,
		Body:       body,
		ParentID:   "t3_" + parent.ID,
		Submission: parent,
	}
}

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, *store.Store) {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, zap.NewNop(), opts), s
}

func stats(t *testing.T, s *store.Store) store.Stats {
	t.Helper()
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	return *st
}

func TestIngest_PostThenReply(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()
	golang := community("golang", 100)

	post := submission("p1", resolvable("alice"), golang, "Hello")
	require.NoError(t, p.Ingest(ctx, post))

	_, err := s.GetCommunity(ctx, "golang")
	require.NoError(t, err)
	alice, err := s.GetAuthor(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, alice.CreatedAt)
	assert.WithinDuration(t, time.Unix(1_400_000_000, 0), *alice.CreatedAt, 0)

	stored, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.AuthorName)
	assert.Equal(t, "golang", stored.CommunityName)
	assert.Equal(t, "Hello", stored.Title)
	assert.WithinDuration(t, time.Unix(1_700_000_000, 123456000), stored.CreatedAt, 0)

	require.NoError(t, p.Ingest(ctx, comment("c1", resolvable("bob"), post, "hi")))

	_, err = s.GetAuthor(ctx, "bob")
	require.NoError(t, err)
	reply, err := s.GetReply(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "p1", reply.PostID)
	assert.Equal(t, "bob", reply.AuthorName)
	assert.Equal(t, "hi", reply.Body)
	assert.Equal(t, "t3_p1", reply.ParentID)

	after, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", after.Title)
	assert.Equal(t, "alice", after.AuthorName)
	assert.Equal(t, store.Stats{Communities: 1, Authors: 2, Snapshots: 2, Posts: 1, Replies: 1}, stats(t, s))
}

func TestIngest_Idempotent(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()

	post := submission("p1", resolvable("alice"), community("golang", 1), "Hello")
	reply := comment("c1", resolvable("bob"), post, "hi")
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Ingest(ctx, post))
		require.NoError(t, p.Ingest(ctx, reply))
	}

	st := stats(t, s)
	assert.Equal(t, 1, st.Posts)
	assert.Equal(t, 1, st.Replies)
	assert.Equal(t, 2, st.Authors)
	assert.Equal(t, 1, st.Communities)
}

func TestIngest_FirstWriteWins(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()

	require.NoError(t, p.Ingest(ctx, submission("p1", resolvable("alice"), community("golang", 100), "Hello")))

	changedAuthor := resolvable("alice")
	changedAuthor.created = time.Unix(1_650_000_000, 0)
	changed := submission("p1", changedAuthor, community("golang", 999), "Edited")
	require.NoError(t, p.Ingest(ctx, changed))
	require.NoError(t, p.Ingest(ctx, submission("p2", changedAuthor, community("golang", 999), "Second")))

	c, err := s.GetCommunity(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, 100, c.Subscribers)

	a, err := s.GetAuthor(ctx, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Unix(1_400_000_000, 0), *a.CreatedAt, 0)

	post, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Title)
}

func TestIngest_SnapshotAccumulation(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p, s := newTestPipeline(t, Options{Now: func() time.Time { return fixed }})
	ctx := context.Background()

	alice := resolvable("alice")
	golang := community("golang", 1)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Ingest(ctx, submission(fmt.Sprintf("p%d", i), alice, golang, "post")))
	}

	snaps, err := s.ListSnapshots(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	// Newest first.
	for i := 1; i < len(snaps); i++ {
		assert.True(t, snaps[i-1].CapturedAt.After(snaps[i].CapturedAt),
			"snapshot %d not after %d", i-1, i)
	}
	assert.Equal(t, 10, snaps[0].LinkKarma)
	assert.Equal(t, 20, snaps[0].CommentKarma)
	assert.Equal(t, "alice's profile", snaps[0].ProfileTitle)
}

func TestIngest_InaccessibleProfileSkipsSnapshot(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()

	quiet := resolvable("quiet")
	quiet.profile = nil
	require.NoError(t, p.Ingest(ctx, submission("p1", quiet, community("golang", 1), "post")))

	st := stats(t, s)
	assert.Equal(t, 1, st.Authors)
	assert.Equal(t, 1, st.Posts)
	assert.Zero(t, st.Snapshots)

	post, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "quiet", post.AuthorName)
}

func TestIngest_SentinelCollapsing(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()
	golang := community("golang", 1)

	suspended := &fakeAuthor{name: "gone", identityErr: fmt.Errorf("%w: suspended", source.ErrUnavailable)}
	flaky := &fakeAuthor{name: "flaky", identityErr: errors.New("connection reset by peer")}

	require.NoError(t, p.Ingest(ctx, submission("p1", nil, golang, "deleted author")))
	require.NoError(t, p.Ingest(ctx, submission("p2", suspended, golang, "suspended author")))
	require.NoError(t, p.Ingest(ctx, submission("p3", flaky, golang, "lookup failed")))

	st := stats(t, s)
	assert.Equal(t, 1, st.Authors)
	assert.Equal(t, 3, st.Posts)
	assert.Zero(t, st.Snapshots)
	assert.Zero(t, suspended.profileCalls)

	sentinel, err := s.GetAuthor(ctx, store.SentinelUsername)
	require.NoError(t, err)
	assert.Nil(t, sentinel.CreatedAt)

	for _, id := range []string{"p1", "p2", "p3"} {
		post, err := s.GetPost(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "[missing]", post.AuthorName)
	}
}

func TestIngest_ReplyWithoutPost(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()

	carol := resolvable("carol")
	parent := submission("p9", carol, community("rust", 5), "Unseen parent")
	require.NoError(t, p.Ingest(ctx, comment("c9", resolvable("bob"), parent, "first!")))

	assert.Equal(t, store.Stats{Communities: 1, Authors: 2, Snapshots: 1, Posts: 1, Replies: 1}, stats(t, s))

	post, err := s.GetPost(ctx, "p9")
	require.NoError(t, err)
	assert.Equal(t, "carol", post.AuthorName)
	assert.Equal(t, "rust", post.CommunityName)

	reply, err := s.GetReply(ctx, "c9")
	require.NoError(t, err)
	assert.Equal(t, "bob", reply.AuthorName)
	assert.Equal(t, "p9", reply.PostID)

	// Only the reply's own author is snapshotted.
	assert.Zero(t, carol.profileCalls)
	bobSnaps, err := s.ListSnapshots(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, bobSnaps, 1)
}

func TestIngest_ReplyAuthorsResolveIndependently(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()

	parent := submission("p1", nil, community("golang", 1), "orphaned")
	require.NoError(t, p.Ingest(ctx, comment("c1", resolvable("bob"), parent, "reply")))

	post, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, store.SentinelUsername, post.AuthorName)

	reply, err := s.GetReply(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "bob", reply.AuthorName)
}

func TestIngest_DoNotScanUsers(t *testing.T) {
	p, s := newTestPipeline(t, Options{DoNotScanUsers: []string{"AutoModerator"}})
	ctx := context.Background()

	mod := resolvable("automoderator")
	require.NoError(t, p.Ingest(ctx, submission("p1", mod, community("golang", 1), "rules")))

	_, err := s.GetAuthor(ctx, "automoderator")
	require.NoError(t, err)
	assert.Zero(t, stats(t, s).Snapshots)
	assert.Zero(t, mod.profileCalls)
}

func TestIngest_UnknownKind(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()

	require.ErrorIs(t, p.Ingest(ctx, nil), ErrUnknownItemKind)
	require.ErrorIs(t, p.Ingest(ctx, (*source.Submission)(nil)), ErrUnknownItemKind)
	require.ErrorIs(t, p.Ingest(ctx, (*source.Comment)(nil)), ErrUnknownItemKind)
	assert.Zero(t, stats(t, s))
}

func TestIngest_CommentWithoutSubmission(t *testing.T) {
	p, _ := newTestPipeline(t, Options{})

	err := p.Ingest(context.Background(), &source.Comment{ID: "c1", Community: community("golang", 1)})
	require.ErrorIs(t, err, ErrMalformedItem)
}

func TestIngest_CommunityFailureAborts(t *testing.T) {
	p, s := newTestPipeline(t, Options{})
	ctx := context.Background()

	broken := &fakeCommunity{info: source.CommunityInfo{DisplayName: "private"}, err: source.ErrScopeNotFound}
	err := p.Ingest(ctx, submission("p1", resolvable("alice"), broken, "post"))
	require.ErrorIs(t, err, source.ErrScopeNotFound)
	assert.Zero(t, stats(t, s))
}

func TestIngest_CancelledLookupIsNotSentinel(t *testing.T) {
	p, s := newTestPipeline(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	author := &fakeAuthor{name: "alice", identityErr: context.Canceled}

	err := p.Ingest(ctx, submission("p1", author, community("golang", 1), "post"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats(t, s))
}

// commitFails runs the transaction body and then reports a failure, so the
// whole transaction is rolled back.
type commitFails struct {
	*store.Store
	err error
}

func (c commitFails) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	return c.Store.InTx(ctx, func(q store.Querier) error {
		if err := fn(q); err != nil {
			return err
		}
		return c.err
	})
}

func TestIngest_FailureLeavesNoPartialGraph(t *testing.T) {
	_, s := newTestPipeline(t, Options{})
	boom := errors.New("disk full")
	p := New(commitFails{Store: s, err: boom}, zap.NewNop(), Options{})

	post := submission("p1", resolvable("alice"), community("golang", 1), "post")
	err := p.Ingest(context.Background(), comment("c1", resolvable("bob"), post, "hi"))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, stats(t, s))
}
