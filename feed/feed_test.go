package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/database/databasetest"
	"github.com/aquilax/shareit/database/memory"
	"github.com/aquilax/shareit/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type world struct {
	db            *memory.Memory
	u1, u2        forum.UserID
	general, news forum.SubforumID
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
	w.general, err = w.db.CreateSubforum(ctx, "general", "")
	require.NoError(t, err)
	w.news, err = w.db.CreateSubforum(ctx, "news", "")
	require.NoError(t, err)
	return w
}

func (w *world) post(t *testing.T, author forum.UserID, sub forum.SubforumID, title, body string) forum.PostID {
	t.Helper()
	id, err := w.db.CreatePost(context.Background(), forum.NewPost{AuthorID: author, SubforumID: sub, Title: title, Body: body})
	require.NoError(t, err)
	return id
}

func ids(pl []forum.PostView) []forum.PostID {
	result := []forum.PostID{}
	for _, p := range pl {
		result = append(result, p.ID)
	}
	return result
}

func TestListWithVote(t *testing.T) {
	w := newWorld(t, databasetest.NewStepClock(start, time.Second))
	ctx := context.Background()
	a := New(w.db)
	p := w.post(t, w.u2, w.general, "Hello", "World")
	require.NoError(t, w.db.CastVote(ctx, w.u1, p, forum.Up))

	pl, err := a.List(ctx, Query{RequesterID: w.u1})
	require.NoError(t, err)
	require.Len(t, pl, 1)
	assert.Equal(t, "u2", pl[0].AuthorUsername)
	assert.Equal(t, "general", pl[0].SubforumName)
	assert.Equal(t, "World", pl[0].Body)
	assert.Equal(t, 1, pl[0].Upvotes)
	assert.Equal(t, forum.Up, pl[0].UserVote)

	pl, err = a.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, forum.None, pl[0].UserVote)
}

func TestListOrdering(t *testing.T) {
	w := newWorld(t, databasetest.NewStepClock(start, time.Minute))
	a := New(w.db)
	p1 := w.post(t, w.u1, w.general, "first", "")
	p2 := w.post(t, w.u1, w.news, "second", "")
	p3 := w.post(t, w.u2, w.general, "third", "")

	pl, err := a.List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, []forum.PostID{p3, p2, p1}, ids(pl))
}

func TestListTieBreak(t *testing.T) {
	w := newWorld(t, databasetest.FixedClock(start))
	a := New(w.db)
	p1 := w.post(t, w.u1, w.general, "a", "")
	p2 := w.post(t, w.u1, w.general, "b", "")

	pl, err := a.List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, []forum.PostID{p2, p1}, ids(pl))
}

func TestListFilter(t *testing.T) {
	w := newWorld(t, databasetest.NewStepClock(start, time.Second))
	ctx := context.Background()
	a := New(w.db)
	g := w.post(t, w.u1, w.general, "g", "")
	w.post(t, w.u1, w.news, "n", "")

	pl, err := a.List(ctx, Query{SubforumName: "general"})
	require.NoError(t, err)
	assert.Equal(t, []forum.PostID{g}, ids(pl))

	_, err = a.List(ctx, Query{SubforumName: "gneral"})
	assert.ErrorIs(t, err, forum.ErrNotFound)

	_, err = w.db.CreateSubforum(ctx, "quiet", "")
	require.NoError(t, err)
	pl, err = a.List(ctx, Query{SubforumName: "quiet"})
	require.NoError(t, err)
	assert.NotNil(t, pl)
	assert.Empty(t, pl)
}

func TestLargeBody(t *testing.T) {
	w := newWorld(t, databasetest.NewStepClock(start, time.Second))
	a := New(w.db)
	body := strings.Repeat("lorem ipsum ", 10000)
	p := w.post(t, w.u1, w.general, "long", body)

	got, err := a.Get(context.Background(), p, w.u1)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)

	_, err = a.Get(context.Background(), 404, w.u1)
	assert.ErrorIs(t, err, forum.ErrNotFound)
}

func TestSubscribed(t *testing.T) {
	w := newWorld(t, databasetest.NewStepClock(start, time.Second))
	ctx := context.Background()
	a := New(w.db)
	g := w.post(t, w.u1, w.general, "g", "")
	w.post(t, w.u1, w.news, "n", "")

	pl, err := a.Subscribed(ctx, w.u2)
	require.NoError(t, err)
	assert.Empty(t, pl)

	require.NoError(t, w.db.Subscribe(ctx, w.u2, w.general))
	pl, err = a.Subscribed(ctx, w.u2)
	require.NoError(t, err)
	assert.Equal(t, []forum.PostID{g}, ids(pl))

	_, err = a.Subscribed(ctx, forum.NoUser)
	assert.ErrorIs(t, err, forum.ErrUnauthenticated)
}

// unordered returns posts oldest first to check that List restores the
// feed order itself.
type unordered struct {
	database.Database
}

func (u unordered) ListPosts(ctx context.Context, filter forum.PostFilter) ([]forum.PostView, error) {
	pl, err := u.Database.ListPosts(ctx, filter)
	for i, j := 0, len(pl)-1; i < j; i, j = i+1, j-1 {
		pl[i], pl[j] = pl[j], pl[i]
	}
	return pl, err
}

func TestListReordersBackendOutput(t *testing.T) {
	w := newWorld(t, databasetest.NewStepClock(start, time.Second))
	p1 := w.post(t, w.u1, w.general, "a", "")
	p2 := w.post(t, w.u1, w.general, "b", "")

	pl, err := New(unordered{w.db}).List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, []forum.PostID{p2, p1}, ids(pl))
}
