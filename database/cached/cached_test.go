package cached

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/database/databasetest"
	"github.com/aquilax/shareit/database/memory"
	"github.com/aquilax/shareit/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImplementsDatabase(t *testing.T) {
	inter := reflect.TypeOf((*database.Database)(nil)).Elem()

	if !reflect.TypeOf(New(memory.New())).Implements(inter) {
		t.Errorf("Cached does not implement the database interface")
	}
}

func TestContract(t *testing.T) {
	databasetest.Run(t, func(t *testing.T, clock forum.Clock) database.Database {
		return New(memory.New(memory.WithClock(clock)))
	})
}

func TestEquivalentToMemory(t *testing.T) {
	databasetest.RunEquivalence(t,
		func(t *testing.T, clock forum.Clock) database.Database {
			return memory.New(memory.WithClock(clock))
		},
		func(t *testing.T, clock forum.Clock) database.Database {
			return New(memory.New(memory.WithClock(clock)))
		},
	)
}

// countingDB counts the calls that reach the wrapped backend.
type countingDB struct {
	database.Database
	listSubforums int
	findUser      int
}

func (c *countingDB) ListSubforums(ctx context.Context) ([]forum.Subforum, error) {
	c.listSubforums++
	return c.Database.ListSubforums(ctx)
}

func (c *countingDB) FindUserByUsername(ctx context.Context, username string) (*forum.User, error) {
	c.findUser++
	return c.Database.FindUserByUsername(ctx, username)
}

func TestSubforumsAreCachedUntilWrite(t *testing.T) {
	ctx := context.Background()
	inner := &countingDB{Database: memory.New()}
	db := New(inner)

	_, err := db.CreateSubforum(ctx, "general", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := db.FindSubforumByName(ctx, "general")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.listSubforums)

	_, err = db.CreateSubforum(ctx, "news", "")
	require.NoError(t, err)
	s, err := db.FindSubforumByName(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, "news", s.Name)
	assert.Equal(t, 2, inner.listSubforums)
}

func TestUsersAreCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingDB{Database: memory.New()}
	db := New(inner)

	_, err := db.FindUserByUsername(ctx, "jdoe")
	assert.ErrorIs(t, err, forum.ErrNotFound)
	id, err := db.CreateUser(ctx, "jdoe", "", "h")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		u, err := db.FindUserByUsername(ctx, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
	}
	assert.Equal(t, 2, inner.findUser)
}

func TestSubforumAddedByAnotherWriter(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	db := New(inner)

	_, err := db.CreateSubforum(ctx, "general", "")
	require.NoError(t, err)
	sl, err := db.ListSubforums(ctx)
	require.NoError(t, err)
	require.Len(t, sl, 1)

	// written straight to the store, the decorator never sees it
	id, err := inner.CreateSubforum(ctx, "golang", "")
	require.NoError(t, err)

	s, err := db.FindSubforumByName(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)

	pl, err := db.ListPosts(ctx, forum.PostFilter{SubforumName: "golang"})
	require.NoError(t, err)
	assert.Empty(t, pl)

	sl, err = db.ListSubforums(ctx)
	require.NoError(t, err)
	assert.Len(t, sl, 2)

	_, err = db.FindSubforumByName(ctx, "nope")
	assert.ErrorIs(t, err, forum.ErrNotFound)
}

func TestSubforumListExpires(t *testing.T) {
	ctx := context.Background()
	inner := &countingDB{Database: memory.New()}
	db := New(inner, WithTTL(time.Minute))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return now }

	_, err := db.ListSubforums(ctx)
	require.NoError(t, err)
	_, err = inner.Database.CreateSubforum(ctx, "golang", "")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	sl, err := db.ListSubforums(ctx)
	require.NoError(t, err)
	assert.Empty(t, sl)
	assert.Equal(t, 1, inner.listSubforums)

	now = now.Add(time.Minute)
	sl, err = db.ListSubforums(ctx)
	require.NoError(t, err)
	assert.Len(t, sl, 1)
	assert.Equal(t, 2, inner.listSubforums)
}

// karmaDB changes the karma of every user it returns, the way an outside
// writer would.
type karmaDB struct {
	database.Database
	mu    sync.Mutex
	karma int
}

func (k *karmaDB) setKarma(v int) {
	k.mu.Lock()
	k.karma = v
	k.mu.Unlock()
}

func (k *karmaDB) FindUserByUsername(ctx context.Context, username string) (*forum.User, error) {
	u, err := k.Database.FindUserByUsername(ctx, username)
	if err == nil {
		k.mu.Lock()
		u.Karma = k.karma
		k.mu.Unlock()
	}
	return u, err
}

func TestUserChangesShowAfterTTL(t *testing.T) {
	ctx := context.Background()
	inner := &karmaDB{Database: memory.New()}
	db := New(inner, WithTTL(20*time.Millisecond))

	_, err := db.CreateUser(ctx, "jdoe", "", "h")
	require.NoError(t, err)
	u, err := db.FindUserByUsername(ctx, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, 0, u.Karma)

	inner.setKarma(5)
	assert.Eventually(t, func() bool {
		u, err := db.FindUserByUsername(ctx, "jdoe")
		return err == nil && u.Karma == 5
	}, time.Second, 5*time.Millisecond)
}
