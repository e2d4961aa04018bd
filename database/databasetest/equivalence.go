package databasetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/forum"
	"github.com/stretchr/testify/require"
)

// snapshot is everything a reader can observe after a replay.
type snapshot struct {
	Feeds    map[forum.UserID][]forum.PostView
	Filtered map[string][]forum.PostView
	Posts    map[forum.PostID]map[forum.UserID]forum.PostView
	Comments map[forum.PostID][]forum.CommentView
	Errors   []string
}

// replay drives db through a fixed script mixing successful and failing
// writes. Error kinds are recorded so both backends must fail the same way.
func replay(t *testing.T, db database.Database) snapshot {
	t.Helper()
	ctx := context.Background()
	s := snapshot{
		Feeds:    make(map[forum.UserID][]forum.PostView),
		Filtered: make(map[string][]forum.PostView),
		Posts:    make(map[forum.PostID]map[forum.UserID]forum.PostView),
		Comments: make(map[forum.PostID][]forum.CommentView),
	}
	record := func(err error) {
		s.Errors = append(s.Errors, errorKind(err))
	}

	must := func(id int64, err error) int64 {
		t.Helper()
		require.NoError(t, err)
		return id
	}
	jdoe := must(db.CreateUser(ctx, "jdoe", "jdoe@example.com", "h1"))
	admin := must(db.CreateUser(ctx, "admin", "admin@example.com", "h2"))
	mod := must(db.CreateUser(ctx, "mod", "mod@example.com", "h3"))
	_, err := db.CreateUser(ctx, "jdoe", "x", "y")
	record(err)
	users := []forum.UserID{forum.NoUser, jdoe, admin, mod}

	general := must(db.CreateSubforum(ctx, "general", "General discussion"))
	news := must(db.CreateSubforum(ctx, "news", "Latest news"))
	must(db.CreateSubforum(ctx, "quiet", "Nobody posts here"))

	hello := must(db.CreatePost(ctx, forum.NewPost{AuthorID: jdoe, SubforumID: general, Title: "Hello World", Body: "This is the first post!"}))
	big := must(db.CreatePost(ctx, forum.NewPost{AuthorID: admin, SubforumID: news, Title: "Big News", Body: "Something big happened."}))
	_, err = db.CreatePost(ctx, forum.NewPost{AuthorID: 77, SubforumID: news, Title: "x", Body: "y"})
	record(err)
	third := must(db.CreatePost(ctx, forum.NewPost{AuthorID: mod, SubforumID: general, Title: "Rules", Body: "Be nice."}))
	posts := []forum.PostID{hello, big, third}

	for _, v := range []struct {
		user  forum.UserID
		post  forum.PostID
		value forum.Vote
	}{
		{jdoe, big, forum.Up},
		{admin, hello, forum.Up},
		{admin, hello, forum.Up},
		{mod, hello, forum.Down},
		{mod, hello, forum.Up},
		{jdoe, third, forum.Down},
		{admin, third, forum.Down},
		{admin, third, forum.None},
		{mod, big, forum.Vote(5)},
		{77, big, forum.Up},
	} {
		record(db.CastVote(ctx, v.user, v.post, v.value))
	}

	c1 := must(db.CreateComment(ctx, forum.NewComment{PostID: hello, AuthorID: admin, Body: "first"}))
	c2 := must(db.CreateComment(ctx, forum.NewComment{PostID: hello, AuthorID: jdoe, Body: "reply", ParentID: &c1}))
	must(db.CreateComment(ctx, forum.NewComment{PostID: hello, AuthorID: mod, Body: "nested", ParentID: &c2}))
	must(db.CreateComment(ctx, forum.NewComment{PostID: big, AuthorID: mod, Body: "wow"}))
	_, err = db.CreateComment(ctx, forum.NewComment{PostID: big, AuthorID: mod, Body: "wrong thread", ParentID: &c1})
	record(err)
	_, err = db.CreateComment(ctx, forum.NewComment{PostID: 99, AuthorID: mod, Body: "no post"})
	record(err)

	for _, u := range users {
		pl, err := db.ListPosts(ctx, forum.PostFilter{RequesterID: u})
		require.NoError(t, err)
		s.Feeds[u] = pl
	}
	for _, name := range []string{"general", "news", "quiet"} {
		pl, err := db.ListPosts(ctx, forum.PostFilter{SubforumName: name, RequesterID: jdoe})
		require.NoError(t, err)
		s.Filtered[name] = pl
	}
	_, err = db.ListPosts(ctx, forum.PostFilter{SubforumName: "missing"})
	record(err)
	for _, p := range posts {
		s.Posts[p] = make(map[forum.UserID]forum.PostView)
		for _, u := range users {
			v, err := db.GetPost(ctx, p, u)
			require.NoError(t, err)
			s.Posts[p][u] = *v
		}
		cl, err := db.ListComments(ctx, p)
		require.NoError(t, err)
		s.Comments[p] = cl
	}
	return s
}

func errorKind(err error) string {
	for _, kind := range []error{
		forum.ErrNotFound,
		forum.ErrDuplicateUser,
		forum.ErrDuplicateSubforum,
		forum.ErrInvalidParent,
		forum.ErrInvalidVoteValue,
		forum.ErrBackendUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	if err == nil {
		return "ok"
	}
	return "unexpected: " + err.Error()
}

// RunEquivalence replays the same script against a fresh instance of each
// backend and requires every read to match field for field.
func RunEquivalence(t *testing.T, a, b Factory) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	dbA := a(t, NewStepClock(start, 1500*time.Millisecond))
	defer dbA.Close()
	dbB := b(t, NewStepClock(start, 1500*time.Millisecond))
	defer dbB.Close()

	want := replay(t, dbA)
	got := replay(t, dbB)
	require.Equal(t, want.Errors, got.Errors)
	require.Equal(t, want.Feeds, got.Feeds)
	require.Equal(t, want.Filtered, got.Filtered)
	require.Equal(t, want.Posts, got.Posts)
	require.Equal(t, want.Comments, got.Comments)
}
