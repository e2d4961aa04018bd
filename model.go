package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/feed"
	"github.com/aquilax/shareit/forum"
	"github.com/aquilax/shareit/ledger"
	"github.com/aquilax/shareit/thread"
)

var errBadCredentials = fmt.Errorf("%w: invalid credentials", forum.ErrUnauthenticated)

var defaultSubforums = []forum.Subforum{
	{Name: "general", Description: "General discussion"},
	{Name: "news", Description: "Latest news"},
}

// Model validates requests from the handlers and hands them to the forum
// services.
type Model struct {
	db     database.Database
	feed   *feed.Assembler
	thread *thread.Builder
	ledger *ledger.Ledger
}

func NewModel(db database.Database) *Model {
	return &Model{
		db:     db,
		feed:   feed.New(db),
		thread: thread.New(db),
		ledger: ledger.New(db),
	}
}

func missing(fields ...string) error {
	return fmt.Errorf("%w: missing %s", forum.ErrInvalidInput, strings.Join(fields, ", "))
}

func (m *Model) register(ctx context.Context, username, email, password string) (forum.UserID, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return 0, missing("username", "email", "password")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return 0, err
	}
	return m.db.CreateUser(ctx, username, email, hash)
}

func (m *Model) login(ctx context.Context, username, password string) (*forum.User, error) {
	u, err := m.db.FindUserByUsername(ctx, username)
	if errors.Is(err, forum.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if !checkPassword(u.PasswordHash, password) {
		return nil, errBadCredentials
	}
	return u, nil
}

func (m *Model) addPost(ctx context.Context, np forum.NewPost) (forum.PostID, error) {
	if np.AuthorID == forum.NoUser {
		return 0, forum.ErrUnauthenticated
	}
	np.Title = strings.TrimSpace(np.Title)
	if np.SubforumID == 0 || np.Title == "" || strings.TrimSpace(np.Body) == "" {
		return 0, missing("subforum_id", "title", "content")
	}
	return m.db.CreatePost(ctx, np)
}

func (m *Model) addComment(ctx context.Context, nc forum.NewComment) (forum.CommentID, error) {
	if nc.AuthorID == forum.NoUser {
		return 0, forum.ErrUnauthenticated
	}
	if strings.TrimSpace(nc.Body) == "" {
		return 0, missing("content")
	}
	return m.db.CreateComment(ctx, nc)
}

func (m *Model) addSubforum(ctx context.Context, name, description string) (forum.SubforumID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, missing("name")
	}
	return m.db.CreateSubforum(ctx, name, strings.TrimSpace(description))
}

func (m *Model) subscribe(ctx context.Context, userID forum.UserID, subforumID forum.SubforumID) error {
	if userID == forum.NoUser {
		return forum.ErrUnauthenticated
	}
	return m.db.Subscribe(ctx, userID, subforumID)
}

// seed creates the default subforums that do not exist yet.
func (m *Model) seed(ctx context.Context) error {
	for _, s := range defaultSubforums {
		_, err := m.db.CreateSubforum(ctx, s.Name, s.Description)
		if err != nil && !errors.Is(err, forum.ErrDuplicateSubforum) {
			return err
		}
	}
	return nil
}
