package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aquilax/shareit/forum"
)

type voteKey struct {
	userID forum.UserID
	postID forum.PostID
}

// Memory keeps every table in slices and maps owned by one instance. All mutations
// happen under the write lock, so each call is atomic.
type Memory struct {
	mu    sync.RWMutex
	clock forum.Clock

	users         []forum.User
	subforums     []forum.Subforum
	posts         []forum.Post
	comments      []forum.CommentView
	votes         map[voteKey]forum.Vote
	subscriptions map[forum.UserID]map[forum.SubforumID]bool
}

type Option func(*Memory)

// WithClock sets the clock used to stamp new posts and comments.
func WithClock(c forum.Clock) Option {
	return func(m *Memory) {
		m.clock = c
	}
}

func New(opts ...Option) *Memory {
	m := &Memory{
		clock:         forum.SystemClock,
		votes:         make(map[voteKey]forum.Vote),
		subscriptions: make(map[forum.UserID]map[forum.SubforumID]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func find[T any](list []T, filter func(v T) bool) []T {
	var result []T
	for _, v := range list {
		if filter(v) {
			result = append(result, v)
		}
	}
	return result
}

func (m *Memory) Open(database, dsn string) error {
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) now() time.Time {
	return forum.Timestamp(m.clock())
}

func (m *Memory) user(id forum.UserID) (*forum.User, bool) {
	if id < 1 || int(id) > len(m.users) {
		return nil, false
	}
	return &m.users[id-1], true
}

func (m *Memory) subforum(id forum.SubforumID) (*forum.Subforum, bool) {
	if id < 1 || int(id) > len(m.subforums) {
		return nil, false
	}
	return &m.subforums[id-1], true
}

func (m *Memory) post(id forum.PostID) (*forum.Post, bool) {
	if id < 1 || int(id) > len(m.posts) {
		return nil, false
	}
	return &m.posts[id-1], true
}

func (m *Memory) FindUserByUsername(ctx context.Context, username string) (*forum.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := find(m.users, func(u forum.User) bool {
		return u.Username == username
	})
	if len(found) == 0 {
		return nil, forum.NotFound("user", username)
	}
	return &found[0], nil
}

func (m *Memory) GetUser(ctx context.Context, id forum.UserID) (*forum.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.user(id)
	if !ok {
		return nil, forum.NotFound("user", id)
	}
	result := *u
	return &result, nil
}

func (m *Memory) CreateUser(ctx context.Context, username, email, passwordHash string) (forum.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return 0, fmt.Errorf("%w: %s", forum.ErrDuplicateUser, username)
		}
	}
	id := forum.UserID(len(m.users) + 1)
	m.users = append(m.users, forum.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	})
	return id, nil
}

func (m *Memory) CreateSubforum(ctx context.Context, name, description string) (forum.SubforumID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subforums {
		if s.Name == name {
			return 0, fmt.Errorf("%w: %s", forum.ErrDuplicateSubforum, name)
		}
	}
	id := forum.SubforumID(len(m.subforums) + 1)
	m.subforums = append(m.subforums, forum.Subforum{
		ID:          id,
		Name:        name,
		Description: description,
	})
	return id, nil
}

func (m *Memory) ListSubforums(ctx context.Context) ([]forum.Subforum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]forum.Subforum{}, m.subforums...), nil
}

func (m *Memory) FindSubforumByName(ctx context.Context, name string) (*forum.Subforum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := find(m.subforums, func(s forum.Subforum) bool {
		return s.Name == name
	})
	if len(found) == 0 {
		return nil, forum.NotFound("subforum", name)
	}
	return &found[0], nil
}

func (m *Memory) Subscribe(ctx context.Context, userID forum.UserID, subforumID forum.SubforumID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.user(userID); !ok {
		return forum.NotFound("user", userID)
	}
	if _, ok := m.subforum(subforumID); !ok {
		return forum.NotFound("subforum", subforumID)
	}
	if m.subscriptions[userID] == nil {
		m.subscriptions[userID] = make(map[forum.SubforumID]bool)
	}
	m.subscriptions[userID][subforumID] = true
	return nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, userID forum.UserID) ([]forum.Subforum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.user(userID); !ok {
		return nil, forum.NotFound("user", userID)
	}
	result := find(m.subforums, func(s forum.Subforum) bool {
		return m.subscriptions[userID][s.ID]
	})
	return append([]forum.Subforum{}, result...), nil
}

func (m *Memory) view(p forum.Post, requesterID forum.UserID) forum.PostView {
	author, _ := m.user(p.AuthorID)
	sub, _ := m.subforum(p.SubforumID)
	return forum.PostView{
		ID:             p.ID,
		AuthorID:       p.AuthorID,
		AuthorUsername: author.Username,
		SubforumID:     p.SubforumID,
		SubforumName:   sub.Name,
		Title:          p.Title,
		Body:           p.Body,
		Upvotes:        p.Upvotes,
		UserVote:       m.votes[voteKey{requesterID, p.ID}],
		CreatedAt:      p.CreatedAt,
	}
}

func (m *Memory) ListPosts(ctx context.Context, filter forum.PostFilter) ([]forum.PostView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := m.posts
	if filter.SubforumName != "" {
		subs := find(m.subforums, func(s forum.Subforum) bool {
			return s.Name == filter.SubforumName
		})
		if len(subs) == 0 {
			return nil, forum.NotFound("subforum", filter.SubforumName)
		}
		found = find(m.posts, func(p forum.Post) bool {
			return p.SubforumID == subs[0].ID
		})
	}
	result := make([]forum.PostView, 0, len(found))
	for _, p := range found {
		result = append(result, m.view(p, filter.RequesterID))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Less(result[j])
	})
	return result, nil
}

func (m *Memory) GetPost(ctx context.Context, id forum.PostID, requesterID forum.UserID) (*forum.PostView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.post(id)
	if !ok {
		return nil, forum.NotFound("post", id)
	}
	v := m.view(*p, requesterID)
	return &v, nil
}

func (m *Memory) CreatePost(ctx context.Context, np forum.NewPost) (forum.PostID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.user(np.AuthorID); !ok {
		return 0, forum.NotFound("user", np.AuthorID)
	}
	if _, ok := m.subforum(np.SubforumID); !ok {
		return 0, forum.NotFound("subforum", np.SubforumID)
	}
	id := forum.PostID(len(m.posts) + 1)
	m.posts = append(m.posts, forum.Post{
		ID:         id,
		AuthorID:   np.AuthorID,
		SubforumID: np.SubforumID,
		Title:      np.Title,
		Body:       np.Body,
		CreatedAt:  m.now(),
	})
	return id, nil
}

func (m *Memory) ListComments(ctx context.Context, postID forum.PostID) ([]forum.CommentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.post(postID); !ok {
		return nil, forum.NotFound("post", postID)
	}
	found := find(m.comments, func(c forum.CommentView) bool {
		return c.PostID == postID
	})
	result := make([]forum.CommentView, 0, len(found))
	for _, c := range found {
		author, _ := m.user(c.AuthorID)
		c.AuthorUsername = author.Username
		if c.ParentID != nil {
			parent := *c.ParentID
			c.ParentID = &parent
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Less(result[j])
	})
	return result, nil
}

func (m *Memory) CreateComment(ctx context.Context, nc forum.NewComment) (forum.CommentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.post(nc.PostID); !ok {
		return 0, forum.NotFound("post", nc.PostID)
	}
	if _, ok := m.user(nc.AuthorID); !ok {
		return 0, forum.NotFound("user", nc.AuthorID)
	}
	var parentID *forum.CommentID
	if nc.ParentID != nil {
		id := *nc.ParentID
		if id < 1 || int(id) > len(m.comments) {
			return 0, forum.NotFound("comment", id)
		}
		if m.comments[id-1].PostID != nc.PostID {
			return 0, fmt.Errorf("%w: comment %d", forum.ErrInvalidParent, id)
		}
		parentID = &id
	}
	id := forum.CommentID(len(m.comments) + 1)
	m.comments = append(m.comments, forum.CommentView{
		ID:        id,
		PostID:    nc.PostID,
		AuthorID:  nc.AuthorID,
		Body:      nc.Body,
		ParentID:  parentID,
		CreatedAt: m.now(),
	})
	return id, nil
}

func (m *Memory) CastVote(ctx context.Context, userID forum.UserID, postID forum.PostID, value forum.Vote) error {
	if err := forum.CheckVote(value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.user(userID); !ok {
		return forum.NotFound("user", userID)
	}
	p, ok := m.post(postID)
	if !ok {
		return forum.NotFound("post", postID)
	}
	key := voteKey{userID, postID}
	p.Upvotes += m.votes[key].Delta(value)
	if value == forum.None {
		delete(m.votes, key)
	} else {
		m.votes[key] = value
	}
	return nil
}

func (m *Memory) ListVotes(ctx context.Context, postID forum.PostID) ([]forum.VoteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.post(postID); !ok {
		return nil, forum.NotFound("post", postID)
	}
	result := []forum.VoteRecord{}
	for key, value := range m.votes {
		if key.postID == postID {
			result = append(result, forum.VoteRecord{UserID: key.userID, PostID: postID, Value: value})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}
