// Package forum holds the rows and views shared by every backend.
package forum

import (
	"time"
)

type UserID = int64
type SubforumID = int64
type PostID = int64
type CommentID = int64

// NoUser is the requester id of an anonymous request.
const NoUser UserID = 0

type User struct {
	ID           UserID `db:"user_id" json:"user_id"`
	Username     string `db:"username" json:"username"`
	Email        string `db:"email" json:"email"`
	PasswordHash string `db:"password_hash" json:"-"`
	Karma        int    `db:"karma" json:"karma"`
}

type Subforum struct {
	ID          SubforumID `db:"subforum_id" json:"subforum_id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
}

type NewPost struct {
	AuthorID   UserID
	SubforumID SubforumID
	Title      string
	Body       string
}

// PostView is a post joined with its author, its subforum and the vote of
// the user who asked for it.
type PostView struct {
	ID             PostID     `json:"post_id"`
	AuthorID       UserID     `json:"user_id"`
	AuthorUsername string     `json:"username"`
	SubforumID     SubforumID `json:"subforum_id"`
	SubforumName   string     `json:"subforum_name"`
	Title          string     `json:"title"`
	Body           string     `json:"content_text"`
	Upvotes        int        `json:"upvotes"`
	UserVote       Vote       `json:"user_vote"`
	CreatedAt      time.Time  `json:"created_at"`
}

type PostFilter struct {
	SubforumName string
	RequesterID  UserID
}

type NewComment struct {
	PostID   PostID
	AuthorID UserID
	Body     string
	// ParentID is nil for a top level comment.
	ParentID *CommentID
}

type CommentView struct {
	ID             CommentID  `json:"comment_id"`
	PostID         PostID     `json:"post_id"`
	AuthorID       UserID     `json:"user_id"`
	AuthorUsername string     `json:"username"`
	Body           string     `json:"content_text"`
	ParentID       *CommentID `json:"parent_comment_id"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Clock returns the creation time for new posts and comments.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time {
	return time.Now()
}

// Timestamp normalizes t to the precision every backend can store.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Less reports whether a sorts before b in a feed: newest first, ties broken
// by the higher id.
func (a PostView) Less(b PostView) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Less reports whether a sorts before b in a thread: oldest first, ties
// broken by the lower id.
func (a CommentView) Less(b CommentView) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Post is the stored row behind a PostView.
type Post struct {
	ID         PostID     `db:"post_id"`
	AuthorID   UserID     `db:"user_id"`
	SubforumID SubforumID `db:"subforum_id"`
	Title      string     `db:"title"`
	Body       string     `db:"content_text"`
	Upvotes    int        `db:"upvotes"`
	CreatedAt  time.Time  `db:"created_at"`
}
