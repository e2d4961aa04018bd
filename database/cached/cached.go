package cached

import (
	"context"
	"sync"
	"time"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/forum"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultUserCacheSize = 1024
	defaultTTL           = 30 * time.Second
)

// Cached keeps the read-mostly tables of another backend in memory: the
// subforum list and users looked up by name. Entries expire after the TTL
// because other processes may write the same store. Posts, comments and
// votes change on every request and always go to the wrapped backend.
type Cached struct {
	db  database.Database
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	subforums []forum.Subforum
	expires   time.Time
	gen       uint64

	users *expirable.LRU[string, forum.User]
}

type Option func(*Cached)

// WithTTL sets how long a cached entry is served before it is read again.
func WithTTL(d time.Duration) Option {
	return func(m *Cached) {
		m.ttl = d
	}
}

func New(db database.Database, opts ...Option) *Cached {
	m := &Cached{
		db:  db,
		ttl: defaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.users = expirable.NewLRU[string, forum.User](defaultUserCacheSize, nil, m.ttl)
	return m
}

func (m *Cached) clearSubforums() {
	m.mu.Lock()
	m.subforums = nil
	m.expires = time.Time{}
	m.gen++
	m.mu.Unlock()
}

func (m *Cached) Open(database, dsn string) error {
	return m.db.Open(database, dsn)
}

func (m *Cached) Close() error {
	m.users.Purge()
	m.clearSubforums()
	return m.db.Close()
}

func (m *Cached) FindUserByUsername(ctx context.Context, username string) (*forum.User, error) {
	if u, found := m.users.Get(username); found {
		return &u, nil
	}
	u, err := m.db.FindUserByUsername(ctx, username)
	if err == nil {
		m.users.Add(username, *u)
	}
	return u, err
}

func (m *Cached) GetUser(ctx context.Context, id forum.UserID) (*forum.User, error) {
	return m.db.GetUser(ctx, id)
}

func (m *Cached) CreateUser(ctx context.Context, username, email, passwordHash string) (forum.UserID, error) {
	id, err := m.db.CreateUser(ctx, username, email, passwordHash)
	if err == nil {
		m.users.Remove(username)
	}
	return id, err
}

func (m *Cached) CreateSubforum(ctx context.Context, name, description string) (forum.SubforumID, error) {
	id, err := m.db.CreateSubforum(ctx, name, description)
	if err == nil {
		m.clearSubforums()
	}
	return id, err
}

func (m *Cached) ListSubforums(ctx context.Context) ([]forum.Subforum, error) {
	m.mu.RLock()
	if m.now().Before(m.expires) {
		result := append([]forum.Subforum{}, m.subforums...)
		m.mu.RUnlock()
		return result, nil
	}
	gen := m.gen
	m.mu.RUnlock()

	loaded := m.now()
	sl, err := m.db.ListSubforums(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	// a write that landed while loading makes sl stale
	if m.gen == gen {
		m.subforums = append([]forum.Subforum{}, sl...)
		m.expires = loaded.Add(m.ttl)
	}
	m.mu.Unlock()
	return sl, nil
}

// FindSubforumByName answers from the cached list. A name missing from it
// is looked up in the wrapped backend, since another writer may have added
// it since the list was loaded.
func (m *Cached) FindSubforumByName(ctx context.Context, name string) (*forum.Subforum, error) {
	sl, err := m.ListSubforums(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sl {
		if s.Name == name {
			return &s, nil
		}
	}
	s, err := m.db.FindSubforumByName(ctx, name)
	if err != nil {
		return nil, err
	}
	m.clearSubforums()
	return s, nil
}

func (m *Cached) Subscribe(ctx context.Context, userID forum.UserID, subforumID forum.SubforumID) error {
	return m.db.Subscribe(ctx, userID, subforumID)
}

func (m *Cached) ListSubscriptions(ctx context.Context, userID forum.UserID) ([]forum.Subforum, error) {
	return m.db.ListSubscriptions(ctx, userID)
}

func (m *Cached) ListPosts(ctx context.Context, filter forum.PostFilter) ([]forum.PostView, error) {
	return m.db.ListPosts(ctx, filter)
}

func (m *Cached) GetPost(ctx context.Context, id forum.PostID, requesterID forum.UserID) (*forum.PostView, error) {
	return m.db.GetPost(ctx, id, requesterID)
}

func (m *Cached) CreatePost(ctx context.Context, p forum.NewPost) (forum.PostID, error) {
	return m.db.CreatePost(ctx, p)
}

func (m *Cached) ListComments(ctx context.Context, postID forum.PostID) ([]forum.CommentView, error) {
	return m.db.ListComments(ctx, postID)
}

func (m *Cached) CreateComment(ctx context.Context, c forum.NewComment) (forum.CommentID, error) {
	return m.db.CreateComment(ctx, c)
}

func (m *Cached) CastVote(ctx context.Context, userID forum.UserID, postID forum.PostID, value forum.Vote) error {
	return m.db.CastVote(ctx, userID, postID, value)
}

func (m *Cached) ListVotes(ctx context.Context, postID forum.PostID) ([]forum.VoteRecord, error) {
	return m.db.ListVotes(ctx, postID)
}
