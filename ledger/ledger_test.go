package ledger

import (
	"context"
	"testing"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/database/memory"
	"github.com/aquilax/shareit/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setup struct {
	db     *memory.Memory
	ledger *Ledger
	users  []forum.UserID
	post   forum.PostID
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	ctx := context.Background()
	db := memory.New()
	s := &setup{db: db, ledger: New(db)}
	for _, name := range []string{"jdoe", "admin", "mod"} {
		id, err := db.CreateUser(ctx, name, name+"@example.com", "x")
		require.NoError(t, err)
		s.users = append(s.users, id)
	}
	sub, err := db.CreateSubforum(ctx, "general", "")
	require.NoError(t, err)
	s.post, err = db.CreatePost(ctx, forum.NewPost{AuthorID: s.users[0], SubforumID: sub, Title: "Hello", Body: "World"})
	require.NoError(t, err)
	return s
}

func TestTally(t *testing.T) {
	tests := []struct {
		name  string
		votes []forum.Vote
		want  int
	}{
		{"empty", nil, 0},
		{"one up", []forum.Vote{forum.Up}, 1},
		{"mixed", []forum.Vote{forum.Up, forum.Up, forum.Down}, 1},
		{"all down", []forum.Vote{forum.Down, forum.Down}, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vl []forum.VoteRecord
			for i, v := range tt.votes {
				vl = append(vl, forum.VoteRecord{UserID: forum.UserID(i + 1), PostID: 1, Value: v})
			}
			assert.Equal(t, tt.want, Tally(vl))
		})
	}
}

func TestCastTransitions(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	voter := s.users[1]

	steps := []struct {
		value   forum.Vote
		upvotes int
	}{
		{forum.Up, 1},
		{forum.Up, 1},
		{forum.Down, -1},
		{forum.None, 0},
		{forum.Down, -1},
		{forum.Up, 1},
	}
	for _, step := range steps {
		p, err := s.ledger.Cast(ctx, voter, s.post, step.value)
		require.NoError(t, err)
		assert.Equal(t, step.upvotes, p.Upvotes, "after %s", step.value)
		assert.Equal(t, step.value, p.UserVote)
		assert.NoError(t, s.ledger.Audit(ctx, s.post))
	}
}

func TestCastRejections(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	_, err := s.ledger.Cast(ctx, forum.NoUser, s.post, forum.Up)
	assert.ErrorIs(t, err, forum.ErrUnauthenticated)

	_, err = s.ledger.Cast(ctx, s.users[0], s.post, forum.Vote(2))
	assert.ErrorIs(t, err, forum.ErrInvalidVoteValue)

	_, err = s.ledger.Cast(ctx, s.users[0], 99, forum.Up)
	assert.ErrorIs(t, err, forum.ErrNotFound)

	_, err = s.ledger.Cast(ctx, 99, s.post, forum.Up)
	assert.ErrorIs(t, err, forum.ErrNotFound)

	p, err := s.db.GetPost(ctx, s.post, forum.NoUser)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Upvotes)
	vl, err := s.db.ListVotes(ctx, s.post)
	require.NoError(t, err)
	assert.Empty(t, vl)
}

func TestSeveralVoters(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	for _, u := range s.users {
		_, err := s.ledger.Cast(ctx, u, s.post, forum.Up)
		require.NoError(t, err)
	}
	p, err := s.ledger.Cast(ctx, s.users[2], s.post, forum.Down)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Upvotes)
	assert.NoError(t, s.ledger.AuditAll(ctx))
}

// skewed reports a vote row that never reached the aggregate.
type skewed struct {
	database.Database
}

func (s skewed) ListVotes(ctx context.Context, postID forum.PostID) ([]forum.VoteRecord, error) {
	vl, err := s.Database.ListVotes(ctx, postID)
	return append(vl, forum.VoteRecord{UserID: 42, PostID: postID, Value: forum.Up}), err
}

func TestAuditMismatch(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	l := New(skewed{s.db})
	err := l.Audit(ctx, s.post)
	assert.ErrorIs(t, err, forum.ErrLedgerMismatch)
	assert.ErrorIs(t, l.AuditAll(ctx), forum.ErrLedgerMismatch)

	assert.ErrorIs(t, s.ledger.Audit(ctx, 77), forum.ErrNotFound)
}

// racing reports a vote that has not reached the aggregate yet on the first
// read only, like a vote cast between the two reads of an audit.
type racing struct {
	database.Database
	reads int
}

func (r *racing) ListVotes(ctx context.Context, postID forum.PostID) ([]forum.VoteRecord, error) {
	r.reads++
	vl, err := r.Database.ListVotes(ctx, postID)
	if r.reads == 1 {
		vl = append(vl, forum.VoteRecord{UserID: 42, PostID: postID, Value: forum.Down})
	}
	return vl, err
}

func TestAuditRereadsAfterConcurrentVote(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	_, err := s.ledger.Cast(ctx, s.users[1], s.post, forum.Up)
	require.NoError(t, err)

	db := &racing{Database: s.db}
	assert.NoError(t, New(db).Audit(ctx, s.post))
	assert.Equal(t, 2, db.reads)
}
