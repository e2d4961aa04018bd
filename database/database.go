package database

import (
	"context"

	"github.com/aquilax/shareit/forum"
)

// Database is the persistence port. Every implementation must give the same
// observable results for the same sequence of calls; databasetest holds the
// suite that checks it.
type Database interface {
	Open(driver, dsn string) error
	Close() error

	FindUserByUsername(ctx context.Context, username string) (*forum.User, error)
	GetUser(ctx context.Context, id forum.UserID) (*forum.User, error)
	CreateUser(ctx context.Context, username, email, passwordHash string) (forum.UserID, error)

	CreateSubforum(ctx context.Context, name, description string) (forum.SubforumID, error)
	ListSubforums(ctx context.Context) ([]forum.Subforum, error)
	FindSubforumByName(ctx context.Context, name string) (*forum.Subforum, error)
	Subscribe(ctx context.Context, userID forum.UserID, subforumID forum.SubforumID) error
	ListSubscriptions(ctx context.Context, userID forum.UserID) ([]forum.Subforum, error)

	ListPosts(ctx context.Context, filter forum.PostFilter) ([]forum.PostView, error)
	GetPost(ctx context.Context, id forum.PostID, requesterID forum.UserID) (*forum.PostView, error)
	CreatePost(ctx context.Context, p forum.NewPost) (forum.PostID, error)

	ListComments(ctx context.Context, postID forum.PostID) ([]forum.CommentView, error)
	CreateComment(ctx context.Context, c forum.NewComment) (forum.CommentID, error)

	// CastVote replaces the user's vote on the post and moves the post's
	// aggregate by the difference, as one atomic step.
	CastVote(ctx context.Context, userID forum.UserID, postID forum.PostID, value forum.Vote) error
	ListVotes(ctx context.Context, postID forum.PostID) ([]forum.VoteRecord, error)
}
