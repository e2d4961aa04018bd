package thread

import (
	"context"
	"testing"
	"time"

	"github.com/aquilax/shareit/database/databasetest"
	"github.com/aquilax/shareit/database/memory"
	"github.com/aquilax/shareit/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(id forum.CommentID) *forum.CommentID {
	return &id
}

type world struct {
	db     *memory.Memory
	u1, u2 forum.UserID
	p1, p2 forum.PostID
}

func newWorld(t *testing.T, clock forum.Clock) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{db: memory.New(memory.WithClock(clock))}
	var err error
	w.u1, err = w.db.CreateUser(ctx, "u1", "u1@example.com", "x")
	require.NoError(t, err)
	w.u2, err = w.db.CreateUser(ctx, "u2", "u2@example.com", "x")
	require.NoError(t, err)
	sub, err := w.db.CreateSubforum(ctx, "general", "")
	require.NoError(t, err)
	w.p1, err = w.db.CreatePost(ctx, forum.NewPost{AuthorID: w.u1, SubforumID: sub, Title: "P1", Body: "one"})
	require.NoError(t, err)
	w.p2, err = w.db.CreatePost(ctx, forum.NewPost{AuthorID: w.u2, SubforumID: sub, Title: "P2", Body: "two"})
	require.NoError(t, err)
	return w
}

func (w *world) comment(t *testing.T, post forum.PostID, author forum.UserID, body string, parent *forum.CommentID) forum.CommentID {
	t.Helper()
	id, err := w.db.CreateComment(context.Background(), forum.NewComment{PostID: post, AuthorID: author, Body: body, ParentID: parent})
	require.NoError(t, err)
	return id
}

func TestCommentsScenario(t *testing.T) {
	w := newWorld(t, databasetest.NewStepClock(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Second))
	ctx := context.Background()
	b := New(w.db)

	c1 := w.comment(t, w.p1, w.u1, "c1", nil)
	c2 := w.comment(t, w.p1, w.u2, "c2", ptr(c1))

	cl, err := b.Comments(ctx, w.p1)
	require.NoError(t, err)
	require.Len(t, cl, 2)
	assert.Equal(t, c1, cl[0].ID)
	assert.Nil(t, cl[0].ParentID)
	assert.Equal(t, c2, cl[1].ID)
	assert.Equal(t, c1, *cl[1].ParentID)
	assert.Equal(t, "u2", cl[1].AuthorUsername)

	_, err = w.db.CreateComment(ctx, forum.NewComment{PostID: w.p2, AuthorID: w.u1, Body: "x", ParentID: ptr(c1)})
	assert.ErrorIs(t, err, forum.ErrInvalidParent)

	cl, err = b.Comments(ctx, w.p2)
	require.NoError(t, err)
	assert.NotNil(t, cl)
	assert.Empty(t, cl)

	_, err = b.Comments(ctx, 99)
	assert.ErrorIs(t, err, forum.ErrNotFound)
}

func TestThread(t *testing.T) {
	w := newWorld(t, databasetest.FixedClock(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	b := New(w.db)
	c1 := w.comment(t, w.p1, w.u1, "a", nil)
	c2 := w.comment(t, w.p1, w.u1, "b", nil)
	require.NoError(t, w.db.CastVote(ctx, w.u2, w.p1, forum.Down))

	th, err := b.Thread(ctx, w.p1, w.u2)
	require.NoError(t, err)
	assert.Equal(t, w.p1, th.Post.ID)
	assert.Equal(t, forum.Down, th.Post.UserVote)
	require.Len(t, th.Comments, 2)
	// same timestamp, lower id first
	assert.Equal(t, c1, th.Comments[0].ID)
	assert.Equal(t, c2, th.Comments[1].ID)

	_, err = b.Thread(ctx, 42, forum.NoUser)
	assert.ErrorIs(t, err, forum.ErrNotFound)
}

func TestNest(t *testing.T) {
	cl := []forum.CommentView{
		{ID: 1, Body: "root"},
		{ID: 2, Body: "reply", ParentID: ptr(1)},
		{ID: 3, Body: "second root"},
		{ID: 4, Body: "deep", ParentID: ptr(2)},
		{ID: 5, Body: "orphan", ParentID: ptr(40)},
		{ID: 6, Body: "another reply", ParentID: ptr(1)},
	}
	roots := Nest(cl)
	require.Len(t, roots, 3)
	assert.Equal(t, forum.CommentID(1), roots[0].Comment.ID)
	assert.Equal(t, forum.CommentID(3), roots[1].Comment.ID)
	assert.Equal(t, forum.CommentID(5), roots[2].Comment.ID)
	require.Len(t, roots[0].Replies, 2)
	assert.Equal(t, forum.CommentID(2), roots[0].Replies[0].Comment.ID)
	assert.Equal(t, forum.CommentID(6), roots[0].Replies[1].Comment.ID)
	require.Len(t, roots[0].Replies[0].Replies, 1)
	assert.Equal(t, forum.CommentID(4), roots[0].Replies[0].Replies[0].Comment.ID)

	type visit struct {
		id    forum.CommentID
		depth int
	}
	var got []visit
	Walk(roots, func(n *Node, depth int) {
		got = append(got, visit{n.Comment.ID, depth})
	})
	assert.Equal(t, []visit{{1, 0}, {2, 1}, {4, 2}, {6, 1}, {3, 0}, {5, 0}}, got)

	assert.Empty(t, Nest(nil))
}
