// Package databasetest holds the behaviour every database.Database backend
// must share. Backend packages call Run from their tests, and RunEquivalence
// to compare two backends against each other.
package databasetest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend that stamps rows with clock.
type Factory func(t *testing.T, clock forum.Clock) database.Database

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// NewStepClock returns a clock that starts at start and advances by step on
// every call.
func NewStepClock(start time.Time, step time.Duration) forum.Clock {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

// FixedClock always returns t, so every row created with it ties.
func FixedClock(t time.Time) forum.Clock {
	return func() time.Time {
		return t
	}
}

type fixture struct {
	db      database.Database
	u1, u2  forum.UserID
	general forum.SubforumID
	news    forum.SubforumID
}

func newFixture(t *testing.T, db database.Database) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{db: db}
	var err error
	f.u1, err = db.CreateUser(ctx, "u1", "u1@example.com", "hash1")
	require.NoError(t, err)
	f.u2, err = db.CreateUser(ctx, "u2", "u2@example.com", "hash2")
	require.NoError(t, err)
	f.general, err = db.CreateSubforum(ctx, "general", "General discussion")
	require.NoError(t, err)
	f.news, err = db.CreateSubforum(ctx, "news", "Latest news")
	require.NoError(t, err)
	return f
}

func (f *fixture) post(t *testing.T, author forum.UserID, sub forum.SubforumID, title string) forum.PostID {
	t.Helper()
	id, err := f.db.CreatePost(context.Background(), forum.NewPost{
		AuthorID:   author,
		SubforumID: sub,
		Title:      title,
		Body:       "body of " + title,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) upvotes(t *testing.T, id forum.PostID) int {
	t.Helper()
	p, err := f.db.GetPost(context.Background(), id, forum.NoUser)
	require.NoError(t, err)
	return p.Upvotes
}

// Run exercises newDB against the backend contract.
func Run(t *testing.T, newDB Factory) {
	step := func(t *testing.T) database.Database {
		db := newDB(t, NewStepClock(epoch, time.Second))
		t.Cleanup(func() { db.Close() })
		return db
	}
	ctx := context.Background()

	t.Run("duplicate registration fails", func(t *testing.T) {
		db := step(t)
		id, err := db.CreateUser(ctx, "jdoe", "jdoe@example.com", "hash")
		require.NoError(t, err)
		_, err = db.CreateUser(ctx, "jdoe", "other@example.com", "hash")
		assert.ErrorIs(t, err, forum.ErrDuplicateUser)

		u, err := db.FindUserByUsername(ctx, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
		assert.Equal(t, "jdoe@example.com", u.Email)
		assert.Equal(t, "hash", u.PasswordHash)
		assert.Equal(t, 0, u.Karma)

		byID, err := db.GetUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, u, byID)
	})

	t.Run("unknown users are not found", func(t *testing.T) {
		db := step(t)
		_, err := db.FindUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, forum.ErrNotFound)
		_, err = db.GetUser(ctx, 42)
		assert.ErrorIs(t, err, forum.ErrNotFound)
	})

	t.Run("subforums", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		sl, err := db.ListSubforums(ctx)
		require.NoError(t, err)
		assert.Equal(t, []forum.Subforum{
			{ID: f.general, Name: "general", Description: "General discussion"},
			{ID: f.news, Name: "news", Description: "Latest news"},
		}, sl)

		s, err := db.FindSubforumByName(ctx, "news")
		require.NoError(t, err)
		assert.Equal(t, f.news, s.ID)

		_, err = db.FindSubforumByName(ctx, "gneral")
		assert.ErrorIs(t, err, forum.ErrNotFound)

		_, err = db.CreateSubforum(ctx, "news", "again")
		assert.ErrorIs(t, err, forum.ErrDuplicateSubforum)
	})

	t.Run("subscriptions", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		require.NoError(t, db.Subscribe(ctx, f.u1, f.news))
		require.NoError(t, db.Subscribe(ctx, f.u1, f.news))
		sl, err := db.ListSubscriptions(ctx, f.u1)
		require.NoError(t, err)
		require.Len(t, sl, 1)
		assert.Equal(t, "news", sl[0].Name)

		sl, err = db.ListSubscriptions(ctx, f.u2)
		require.NoError(t, err)
		assert.Empty(t, sl)

		assert.ErrorIs(t, db.Subscribe(ctx, 99, f.news), forum.ErrNotFound)
		assert.ErrorIs(t, db.Subscribe(ctx, f.u1, 99), forum.ErrNotFound)
		_, err = db.ListSubscriptions(ctx, 99)
		assert.ErrorIs(t, err, forum.ErrNotFound)
	})

	t.Run("create post checks references", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		_, err := db.CreatePost(ctx, forum.NewPost{AuthorID: 99, SubforumID: f.general, Title: "x", Body: "y"})
		assert.ErrorIs(t, err, forum.ErrNotFound)
		_, err = db.CreatePost(ctx, forum.NewPost{AuthorID: f.u1, SubforumID: 99, Title: "x", Body: "y"})
		assert.ErrorIs(t, err, forum.ErrNotFound)

		pl, err := db.ListPosts(ctx, forum.PostFilter{})
		require.NoError(t, err)
		assert.Empty(t, pl)
	})

	t.Run("feed with vote", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		id, err := db.CreatePost(ctx, forum.NewPost{AuthorID: f.u2, SubforumID: f.general, Title: "Hello", Body: "World"})
		require.NoError(t, err)
		require.NoError(t, db.CastVote(ctx, f.u1, id, forum.Up))

		pl, err := db.ListPosts(ctx, forum.PostFilter{RequesterID: f.u1})
		require.NoError(t, err)
		require.Len(t, pl, 1)
		p := pl[0]
		assert.Equal(t, id, p.ID)
		assert.Equal(t, "Hello", p.Title)
		assert.Equal(t, "World", p.Body)
		assert.Equal(t, "u2", p.AuthorUsername)
		assert.Equal(t, f.u2, p.AuthorID)
		assert.Equal(t, "general", p.SubforumName)
		assert.Equal(t, f.general, p.SubforumID)
		assert.Equal(t, 1, p.Upvotes)
		assert.Equal(t, forum.Up, p.UserVote)
		assert.False(t, p.CreatedAt.Before(epoch))

		anon, err := db.ListPosts(ctx, forum.PostFilter{})
		require.NoError(t, err)
		require.Len(t, anon, 1)
		assert.Equal(t, forum.None, anon[0].UserVote)

		other, err := db.ListPosts(ctx, forum.PostFilter{RequesterID: f.u2})
		require.NoError(t, err)
		assert.Equal(t, forum.None, other[0].UserVote)
	})

	t.Run("get post", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		id := f.post(t, f.u1, f.news, "Big News")
		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.Down))

		p, err := db.GetPost(ctx, id, f.u2)
		require.NoError(t, err)
		assert.Equal(t, forum.Down, p.UserVote)
		assert.Equal(t, -1, p.Upvotes)
		assert.Equal(t, "news", p.SubforumName)
		assert.Equal(t, "u1", p.AuthorUsername)

		p, err = db.GetPost(ctx, id, forum.NoUser)
		require.NoError(t, err)
		assert.Equal(t, forum.None, p.UserVote)

		_, err = db.GetPost(ctx, id+100, f.u1)
		assert.ErrorIs(t, err, forum.ErrNotFound)
	})

	t.Run("vote is idempotent", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		id := f.post(t, f.u1, f.general, "p")
		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.Up))
		assert.Equal(t, 1, f.upvotes(t, id))
		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.Up))
		assert.Equal(t, 1, f.upvotes(t, id))

		vl, err := db.ListVotes(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []forum.VoteRecord{{UserID: f.u2, PostID: id, Value: forum.Up}}, vl)
	})

	t.Run("vote is absolute", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		id := f.post(t, f.u1, f.general, "p")
		require.NoError(t, db.CastVote(ctx, f.u1, id, forum.Up))
		base := f.upvotes(t, id)
		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.Up))
		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.Down))
		assert.Equal(t, base-1, f.upvotes(t, id))

		vl, err := db.ListVotes(ctx, id)
		require.NoError(t, err)
		assert.Len(t, vl, 2)
	})

	t.Run("neutral vote removes the row", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		id := f.post(t, f.u1, f.general, "p")
		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.Down))
		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.None))
		assert.Equal(t, 0, f.upvotes(t, id))
		vl, err := db.ListVotes(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, vl)

		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.None))
		assert.Equal(t, 0, f.upvotes(t, id))
	})

	t.Run("failed votes change nothing", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		id := f.post(t, f.u1, f.general, "p")
		require.NoError(t, db.CastVote(ctx, f.u2, id, forum.Up))

		assert.ErrorIs(t, db.CastVote(ctx, f.u2, id, forum.Vote(2)), forum.ErrInvalidVoteValue)
		assert.ErrorIs(t, db.CastVote(ctx, 99, id, forum.Down), forum.ErrNotFound)
		assert.ErrorIs(t, db.CastVote(ctx, f.u2, id+100, forum.Down), forum.ErrNotFound)
		assert.Equal(t, 1, f.upvotes(t, id))

		p, err := db.GetPost(ctx, id, f.u2)
		require.NoError(t, err)
		assert.Equal(t, forum.Up, p.UserVote)
		_, err = db.ListVotes(ctx, id+100)
		assert.ErrorIs(t, err, forum.ErrNotFound)
	})

	t.Run("feed ordering", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		first := f.post(t, f.u1, f.general, "first")
		second := f.post(t, f.u2, f.news, "second")
		third := f.post(t, f.u1, f.general, "third")

		pl, err := db.ListPosts(ctx, forum.PostFilter{})
		require.NoError(t, err)
		require.Len(t, pl, 3)
		assert.Equal(t, []forum.PostID{third, second, first}, postIDs(pl))
		for i := 1; i < len(pl); i++ {
			assert.True(t, pl[i-1].CreatedAt.After(pl[i].CreatedAt))
		}
	})

	t.Run("feed ties break by id", func(t *testing.T) {
		db := newDB(t, FixedClock(epoch))
		t.Cleanup(func() { db.Close() })
		f := newFixture(t, db)
		a := f.post(t, f.u1, f.general, "a")
		b := f.post(t, f.u1, f.general, "b")
		c := f.post(t, f.u1, f.general, "c")
		pl, err := db.ListPosts(ctx, forum.PostFilter{})
		require.NoError(t, err)
		assert.Equal(t, []forum.PostID{c, b, a}, postIDs(pl))
	})

	t.Run("subforum filter", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		g := f.post(t, f.u1, f.general, "g")
		f.post(t, f.u1, f.news, "n")
		_, err := db.CreateSubforum(ctx, "empty", "")
		require.NoError(t, err)

		pl, err := db.ListPosts(ctx, forum.PostFilter{SubforumName: "general"})
		require.NoError(t, err)
		assert.Equal(t, []forum.PostID{g}, postIDs(pl))

		pl, err = db.ListPosts(ctx, forum.PostFilter{SubforumName: "empty"})
		require.NoError(t, err)
		assert.NotNil(t, pl)
		assert.Empty(t, pl)

		_, err = db.ListPosts(ctx, forum.PostFilter{SubforumName: "gneral"})
		assert.ErrorIs(t, err, forum.ErrNotFound)
	})

	t.Run("large body", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		body := strings.Repeat("lorem ipsum ", 1<<16)
		id, err := db.CreatePost(ctx, forum.NewPost{AuthorID: f.u1, SubforumID: f.general, Title: "long", Body: body})
		require.NoError(t, err)
		p, err := db.GetPost(ctx, id, forum.NoUser)
		require.NoError(t, err)
		assert.Equal(t, body, p.Body)
	})

	t.Run("comment threading", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		p1 := f.post(t, f.u1, f.general, "p1")
		first, err := db.CreateComment(ctx, forum.NewComment{PostID: p1, AuthorID: f.u1, Body: "first"})
		require.NoError(t, err)
		_, err = db.CreateComment(ctx, forum.NewComment{PostID: p1, AuthorID: f.u2, Body: "reply", ParentID: &first})
		require.NoError(t, err)

		cl, err := db.ListComments(ctx, p1)
		require.NoError(t, err)
		require.Len(t, cl, 2)
		assert.Equal(t, "first", cl[0].Body)
		assert.Equal(t, "u1", cl[0].AuthorUsername)
		assert.Nil(t, cl[0].ParentID)
		assert.Equal(t, "reply", cl[1].Body)
		assert.Equal(t, "u2", cl[1].AuthorUsername)
		require.NotNil(t, cl[1].ParentID)
		assert.Equal(t, first, *cl[1].ParentID)
		assert.True(t, cl[0].CreatedAt.Before(cl[1].CreatedAt))
	})

	t.Run("comment parent checks", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		p1 := f.post(t, f.u1, f.general, "p1")
		p2 := f.post(t, f.u1, f.general, "p2")
		onP2, err := db.CreateComment(ctx, forum.NewComment{PostID: p2, AuthorID: f.u1, Body: "elsewhere"})
		require.NoError(t, err)

		_, err = db.CreateComment(ctx, forum.NewComment{PostID: p1, AuthorID: f.u2, Body: "x", ParentID: &onP2})
		assert.ErrorIs(t, err, forum.ErrInvalidParent)
		missing := onP2 + 100
		_, err = db.CreateComment(ctx, forum.NewComment{PostID: p1, AuthorID: f.u2, Body: "x", ParentID: &missing})
		assert.ErrorIs(t, err, forum.ErrNotFound)
		_, err = db.CreateComment(ctx, forum.NewComment{PostID: p1 + 100, AuthorID: f.u2, Body: "x"})
		assert.ErrorIs(t, err, forum.ErrNotFound)
		_, err = db.CreateComment(ctx, forum.NewComment{PostID: p1, AuthorID: 99, Body: "x"})
		assert.ErrorIs(t, err, forum.ErrNotFound)

		cl, err := db.ListComments(ctx, p1)
		require.NoError(t, err)
		assert.NotNil(t, cl)
		assert.Empty(t, cl)
		_, err = db.ListComments(ctx, p1+100)
		assert.ErrorIs(t, err, forum.ErrNotFound)
	})

	t.Run("comment ties break by id", func(t *testing.T) {
		db := newDB(t, FixedClock(epoch))
		t.Cleanup(func() { db.Close() })
		f := newFixture(t, db)
		p := f.post(t, f.u1, f.general, "p")
		var want []forum.CommentID
		for _, body := range []string{"a", "b", "c"} {
			id, err := db.CreateComment(ctx, forum.NewComment{PostID: p, AuthorID: f.u2, Body: body})
			require.NoError(t, err)
			want = append(want, id)
		}
		cl, err := db.ListComments(ctx, p)
		require.NoError(t, err)
		var got []forum.CommentID
		for _, c := range cl {
			got = append(got, c.ID)
		}
		assert.Equal(t, want, got)
	})

	t.Run("concurrent votes from many users", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		id := f.post(t, f.u1, f.general, "p")
		const voters = 16
		users := make([]forum.UserID, voters)
		for i := range users {
			uid, err := db.CreateUser(ctx, "voter"+string(rune('a'+i)), "", "h")
			require.NoError(t, err)
			users[i] = uid
		}
		var wg sync.WaitGroup
		for _, uid := range users {
			wg.Add(1)
			go func(uid forum.UserID) {
				defer wg.Done()
				assert.NoError(t, db.CastVote(ctx, uid, id, forum.Up))
			}(uid)
		}
		wg.Wait()
		assert.Equal(t, voters, f.upvotes(t, id))
	})

	t.Run("concurrent votes from one user", func(t *testing.T) {
		db := step(t)
		f := newFixture(t, db)
		id := f.post(t, f.u1, f.general, "p")
		values := []forum.Vote{forum.Up, forum.Down, forum.None, forum.Up, forum.Down, forum.Up, forum.None, forum.Down}
		var wg sync.WaitGroup
		for _, v := range values {
			wg.Add(1)
			go func(v forum.Vote) {
				defer wg.Done()
				assert.NoError(t, db.CastVote(ctx, f.u2, id, v))
			}(v)
		}
		wg.Wait()
		vl, err := db.ListVotes(ctx, id)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(vl), 1)
		p, err := db.GetPost(ctx, id, f.u2)
		require.NoError(t, err)
		assert.Equal(t, int(p.UserVote), p.Upvotes)
	})
}

func postIDs(pl []forum.PostView) []forum.PostID {
	ids := make([]forum.PostID, 0, len(pl))
	for _, p := range pl {
		ids = append(ids, p.ID)
	}
	return ids
}
